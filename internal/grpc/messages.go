// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package grpc

import (
	"math"

	"github.com/samber/oops"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flicker/credsvc/internal/status"
)

// Wire field names.
const (
	fieldStatusCode      = "status_code"
	fieldMessage         = "message"
	fieldAddress         = "address"
	fieldRequestType     = "request_type"
	fieldCode            = "code"
	fieldPlaintext       = "plaintext"
	fieldHash            = "hash"
	fieldSalt            = "salt"
	fieldStoredHash      = "stored_hash"
	fieldPresentedHash   = "presented_hash"
	fieldIsValid         = "is_valid"
	fieldIsAuthenticated = "is_authenticated"
)

// message converts to and from the google.protobuf.Struct sent on the wire.
type message interface {
	toStruct() (*structpb.Struct, error)
	fromStruct(*structpb.Struct)
}

// Response is implemented by every response message.
type Response interface {
	message
	StatusCode() status.Code
}

// IssueCodeRequest asks for a verification code to be sent to Address.
type IssueCodeRequest struct {
	Address     string
	RequestType int32
}

// IssueCodeResponse carries the live code for the address.
type IssueCodeResponse struct {
	Status  status.Code
	Message string
	Code    string
}

// ConsumeCodeRequest presents a code for Address.
type ConsumeCodeRequest struct {
	Address string
	Code    string
}

// ConsumeCodeResponse reports whether the code was accepted.
type ConsumeCodeResponse struct {
	Status  status.Code
	Message string
}

// HashRequest asks for Plaintext to be hashed.
type HashRequest struct {
	Plaintext string
}

// HashResponse carries the derived hash and its salt prefix.
type HashResponse struct {
	Status  status.Code
	Message string
	Hash    string
	Salt    string
}

// VerifyRequest checks Plaintext against StoredHash.
type VerifyRequest struct {
	Plaintext  string
	StoredHash string
}

// VerifyResponse reports the comparison result.
type VerifyResponse struct {
	Status  status.Code
	Message string
	IsValid bool
}

// ResetRequest authenticates a password reset.
type ResetRequest struct {
	StoredHash    string
	PresentedHash string
}

// ResetResponse reports whether the reset is authenticated.
type ResetResponse struct {
	Status          status.Code
	Message         string
	IsAuthenticated bool
}

// statusResponse is returned when a handler fails before it can build its
// own response type. Clients decode it as any response with zero payload.
type statusResponse struct {
	Status  status.Code
	Message string
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, oops.Code(status.ErrCodeInvalidParams).Wrapf(err, "encode message")
	}
	return s, nil
}

func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getBool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func getInt32(s *structpb.Struct, key string) int32 {
	n := s.GetFields()[key].GetNumberValue()
	if n > math.MaxInt32 || n < math.MinInt32 || n != math.Trunc(n) {
		return 0
	}
	return int32(n)
}

func getStatus(s *structpb.Struct) status.Code {
	return status.Code(getInt32(s, fieldStatusCode))
}

func (m *IssueCodeRequest) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldAddress: m.Address, fieldRequestType: m.RequestType})
}

func (m *IssueCodeRequest) fromStruct(s *structpb.Struct) {
	m.Address = getString(s, fieldAddress)
	m.RequestType = getInt32(s, fieldRequestType)
}

func (m *IssueCodeResponse) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{
		fieldStatusCode: int32(m.Status),
		fieldMessage:    m.Message,
		fieldCode:       m.Code,
	})
}

func (m *IssueCodeResponse) fromStruct(s *structpb.Struct) {
	m.Status = getStatus(s)
	m.Message = getString(s, fieldMessage)
	m.Code = getString(s, fieldCode)
}

// StatusCode implements Response.
func (m *IssueCodeResponse) StatusCode() status.Code { return m.Status }

func (m *ConsumeCodeRequest) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldAddress: m.Address, fieldCode: m.Code})
}

func (m *ConsumeCodeRequest) fromStruct(s *structpb.Struct) {
	m.Address = getString(s, fieldAddress)
	m.Code = getString(s, fieldCode)
}

func (m *ConsumeCodeResponse) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldStatusCode: int32(m.Status), fieldMessage: m.Message})
}

func (m *ConsumeCodeResponse) fromStruct(s *structpb.Struct) {
	m.Status = getStatus(s)
	m.Message = getString(s, fieldMessage)
}

// StatusCode implements Response.
func (m *ConsumeCodeResponse) StatusCode() status.Code { return m.Status }

func (m *HashRequest) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldPlaintext: m.Plaintext})
}

func (m *HashRequest) fromStruct(s *structpb.Struct) {
	m.Plaintext = getString(s, fieldPlaintext)
}

func (m *HashResponse) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{
		fieldStatusCode: int32(m.Status),
		fieldMessage:    m.Message,
		fieldHash:       m.Hash,
		fieldSalt:       m.Salt,
	})
}

func (m *HashResponse) fromStruct(s *structpb.Struct) {
	m.Status = getStatus(s)
	m.Message = getString(s, fieldMessage)
	m.Hash = getString(s, fieldHash)
	m.Salt = getString(s, fieldSalt)
}

// StatusCode implements Response.
func (m *HashResponse) StatusCode() status.Code { return m.Status }

func (m *VerifyRequest) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldPlaintext: m.Plaintext, fieldStoredHash: m.StoredHash})
}

func (m *VerifyRequest) fromStruct(s *structpb.Struct) {
	m.Plaintext = getString(s, fieldPlaintext)
	m.StoredHash = getString(s, fieldStoredHash)
}

func (m *VerifyResponse) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{
		fieldStatusCode: int32(m.Status),
		fieldMessage:    m.Message,
		fieldIsValid:    m.IsValid,
	})
}

func (m *VerifyResponse) fromStruct(s *structpb.Struct) {
	m.Status = getStatus(s)
	m.Message = getString(s, fieldMessage)
	m.IsValid = getBool(s, fieldIsValid)
}

// StatusCode implements Response.
func (m *VerifyResponse) StatusCode() status.Code { return m.Status }

func (m *ResetRequest) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldStoredHash: m.StoredHash, fieldPresentedHash: m.PresentedHash})
}

func (m *ResetRequest) fromStruct(s *structpb.Struct) {
	m.StoredHash = getString(s, fieldStoredHash)
	m.PresentedHash = getString(s, fieldPresentedHash)
}

func (m *ResetResponse) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{
		fieldStatusCode:      int32(m.Status),
		fieldMessage:         m.Message,
		fieldIsAuthenticated: m.IsAuthenticated,
	})
}

func (m *ResetResponse) fromStruct(s *structpb.Struct) {
	m.Status = getStatus(s)
	m.Message = getString(s, fieldMessage)
	m.IsAuthenticated = getBool(s, fieldIsAuthenticated)
}

// StatusCode implements Response.
func (m *ResetResponse) StatusCode() status.Code { return m.Status }

func (m *statusResponse) toStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{fieldStatusCode: int32(m.Status), fieldMessage: m.Message})
}

func (m *statusResponse) fromStruct(s *structpb.Struct) {
	m.Status = getStatus(s)
	m.Message = getString(s, fieldMessage)
}

// StatusCode implements Response.
func (m *statusResponse) StatusCode() status.Code { return m.Status }
