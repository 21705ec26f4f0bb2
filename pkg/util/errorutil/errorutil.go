package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the HTTP API and the live channel.
const (
	CodeValidation    = "VALIDATION_FAILED"
	CodeBodyTooLong   = "BODY_TOO_LONG"
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeConflict      = "CONFLICT"
	CodeTicketClosed  = "TICKET_CLOSED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternal      = "INTERNAL_ERROR"
	CodeUnknownRecord = "UNKNOWN"
)

// Sentinels for errors.Is checks. Matching is by Code only.
var (
	ErrValidation   = &DomainError{Code: CodeValidation}
	ErrBodyTooLong  = &DomainError{Code: CodeBodyTooLong}
	ErrNotFound     = &DomainError{Code: CodeNotFound}
	ErrUnauthorized = &DomainError{Code: CodeUnauthorized}
	ErrForbidden    = &DomainError{Code: CodeForbidden}
	ErrConflict     = &DomainError{Code: CodeConflict}
	ErrTicketClosed = &DomainError{Code: CodeTicketClosed}
	ErrRateLimited  = &DomainError{Code: CodeRateLimited}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewBodyTooLong(max int) error {
	return NewDomainError(CodeBodyTooLong, fmt.Sprintf("body exceeds %d characters", max), http.StatusBadRequest, map[string]any{"max_length": max})
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewTicketClosed(ticketID string) error {
	return NewDomainError(CodeTicketClosed, "ticket is closed", http.StatusConflict, map[string]any{"ticket_id": ticketID})
}

func NewRateLimited(message string) error {
	return NewDomainError(CodeRateLimited, message, http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// FromCode rebuilds a DomainError received over the wire.
func FromCode(code, message string) error {
	status := http.StatusInternalServerError
	switch code {
	case CodeValidation, CodeBodyTooLong:
		status = http.StatusBadRequest
	case CodeNotFound:
		status = http.StatusNotFound
	case CodeUnauthorized:
		status = http.StatusUnauthorized
	case CodeForbidden:
		status = http.StatusForbidden
	case CodeConflict, CodeTicketClosed:
		status = http.StatusConflict
	case CodeRateLimited:
		status = http.StatusTooManyRequests
	case "":
		code = CodeUnknownRecord
	}
	return NewDomainError(code, message, status, nil)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			return FromCode(domainErr.Code, domainErr.Error()).(*DomainError)
		}
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
