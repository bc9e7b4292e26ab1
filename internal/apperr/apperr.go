// Package apperr defines the error taxonomy shared by the HTTP-facing stores.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuth
	KindPayloadTooLarge
	KindUnsupportedMediaType
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindPayloadTooLarge, KindUnsupportedMediaType:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified, client-safe error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Validation(message string) *Error           { return New(KindValidation, message) }
func Conflict(message string) *Error             { return New(KindConflict, message) }
func NotFound(message string) *Error             { return New(KindNotFound, message) }
func Unauthorized(message string) *Error         { return New(KindAuth, message) }
func PayloadTooLarge(message string) *Error      { return New(KindPayloadTooLarge, message) }
func UnsupportedMediaType(message string) *Error { return New(KindUnsupportedMediaType, message) }
func RateLimited(message string) *Error          { return New(KindRateLimited, message) }

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
