package auth

import "github.com/abduss/imgstore/internal/apperr"

var (
	// ErrEmailAlreadyExists indicates the email is already registered.
	ErrEmailAlreadyExists = apperr.Conflict("email already registered")
	// ErrCredentialsRequired is returned when email or password is missing.
	ErrCredentialsRequired = apperr.Validation("email and password are required")
	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
	ErrPasswordTooLong = apperr.Validation("password must be at most 72 bytes")
	// ErrUserNotFound signals that no user has the given email.
	ErrUserNotFound = apperr.NotFound("user not found")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = apperr.Unauthorized("invalid credentials")
	// ErrUnauthorized represents a missing, malformed, or expired token.
	ErrUnauthorized = apperr.Unauthorized("unauthorized")
	// ErrTooManyRequests is returned by the auth rate limiter.
	ErrTooManyRequests = apperr.RateLimited("too many requests")
)
