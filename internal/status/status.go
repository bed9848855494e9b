// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package status defines the result codes carried in every RPC response and
// the oops error codes that map onto them.
package status

import (
	"github.com/samber/oops"
)

// Code is the in-band result of an RPC. Business failures never surface as
// transport errors; they are reported through a Code instead.
type Code int32

// Result codes. The numeric values are part of the wire contract.
const (
	Success           Code = 0
	CacheError        Code = 1
	InternalException Code = 2
	EmailSendFailed   Code = 3
	CodeExpired       Code = 4
	CodeMismatch      Code = 5
	HashError         Code = 6
	VerifyError       Code = 7
	InvalidParams     Code = 8

	// CipherAuthFailed shares its value with VerifyError.
	CipherAuthFailed = VerifyError
	// FormParamsMissing shares its value with InvalidParams.
	FormParamsMissing = InvalidParams
)

var names = map[Code]string{
	Success:           "SUCCESS",
	CacheError:        "CACHE_ERROR",
	InternalException: "INTERNAL_EXCEPTION",
	EmailSendFailed:   "EMAIL_SEND_FAILED",
	CodeExpired:       "CODE_EXPIRED",
	CodeMismatch:      "CODE_MISMATCH",
	HashError:         "HASH_ERROR",
	VerifyError:       "VERIFY_ERROR",
	InvalidParams:     "INVALID_PARAMS",
}

var messages = map[Code]string{
	Success:           "ok",
	CacheError:        "cache unavailable",
	InternalException: "internal error",
	EmailSendFailed:   "failed to send email",
	CodeExpired:       "verification code expired",
	CodeMismatch:      "verification code mismatch",
	HashError:         "failed to hash credential",
	VerifyError:       "failed to verify credential",
	InvalidParams:     "missing or invalid parameters",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// Message returns the human-readable message sent alongside the code.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return "unknown status"
}

// Error codes attached to oops errors across the module.
const (
	ErrCodeCacheUnavailable   = "CACHE_UNAVAILABLE"
	ErrCodeMailSendFailed     = "MAIL_SEND_FAILED"
	ErrCodeGenerateFailed     = "CODE_GENERATE_FAILED"
	ErrCodeInvalidParams      = "INVALID_PARAMS"
	ErrCodeCodeExpired        = "CODE_EXPIRED"
	ErrCodeCodeMismatch       = "CODE_MISMATCH"
	ErrCodeCredentialEmpty    = "CREDENTIAL_EMPTY"
	ErrCodeCredentialTooLong  = "CREDENTIAL_TOO_LONG"
	ErrCodeHashFailed         = "HASH_FAILED"
	ErrCodeHashInvalid        = "HASH_INVALID"
	ErrCodeVerifyFailed       = "VERIFY_FAILED"
	ErrCodeSupervisorStart    = "SUPERVISOR_START_FAILED"
	ErrCodeSupervisorFailed   = "SUPERVISOR_SERVICE_FAILED"
	ErrCodeSupervisorShutdown = "SUPERVISOR_SHUTDOWN_FAILED"
	ErrCodeConfigLoad         = "CONFIG_LOAD_FAILED"
	ErrCodeConfigInvalid      = "CONFIG_INVALID"
)

// FromError maps an error to the result code a client should see.
// A nil error is Success; errors without a known oops code are
// InternalException.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return InternalException
	}
	switch oopsErr.Code() {
	case ErrCodeCacheUnavailable:
		return CacheError
	case ErrCodeMailSendFailed:
		return EmailSendFailed
	case ErrCodeCodeExpired:
		return CodeExpired
	case ErrCodeCodeMismatch:
		return CodeMismatch
	case ErrCodeInvalidParams, ErrCodeCredentialEmpty, ErrCodeCredentialTooLong:
		return InvalidParams
	case ErrCodeHashFailed:
		return HashError
	case ErrCodeHashInvalid, ErrCodeVerifyFailed:
		return VerifyError
	default:
		return InternalException
	}
}
