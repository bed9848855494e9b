// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package status

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

func TestCodeValues(t *testing.T) {
	assert.Equal(t, Code(0), Success)
	assert.Equal(t, Code(1), CacheError)
	assert.Equal(t, Code(2), InternalException)
	assert.Equal(t, Code(3), EmailSendFailed)
	assert.Equal(t, Code(4), CodeExpired)
	assert.Equal(t, Code(5), CodeMismatch)
	assert.Equal(t, Code(6), HashError)
	assert.Equal(t, Code(7), VerifyError)
	assert.Equal(t, Code(8), InvalidParams)
	assert.Equal(t, VerifyError, CipherAuthFailed)
	assert.Equal(t, InvalidParams, FormParamsMissing)
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "SUCCESS", Success.String())
	assert.Equal(t, "EMAIL_SEND_FAILED", EmailSendFailed.String())
	assert.Equal(t, "UNKNOWN", Code(42).String())
	assert.Equal(t, "unknown status", Code(42).Message())
	assert.NotEmpty(t, CacheError.Message())
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, Success},
		{"plain error", errors.New("boom"), InternalException},
		{"cache", oops.Code(ErrCodeCacheUnavailable).Errorf("down"), CacheError},
		{"mail", oops.Code(ErrCodeMailSendFailed).Errorf("smtp"), EmailSendFailed},
		{"expired", oops.Code(ErrCodeCodeExpired).Errorf("gone"), CodeExpired},
		{"mismatch", oops.Code(ErrCodeCodeMismatch).Errorf("nope"), CodeMismatch},
		{"empty credential", oops.Code(ErrCodeCredentialEmpty).Errorf("empty"), InvalidParams},
		{"too long", oops.Code(ErrCodeCredentialTooLong).Errorf("long"), InvalidParams},
		{"hash", oops.Code(ErrCodeHashFailed).Errorf("hash"), HashError},
		{"malformed hash", oops.Code(ErrCodeHashInvalid).Errorf("bad"), VerifyError},
		{"unknown code", oops.Code("SOMETHING_ELSE").Errorf("x"), InternalException},
		{
			"wrapped keeps inner code",
			oops.With("operation", "issue").Wrap(oops.Code(ErrCodeCacheUnavailable).Errorf("down")),
			CacheError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromError(tt.err))
		})
	}
}
