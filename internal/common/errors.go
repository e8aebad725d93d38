// Package common defines the sentinel errors and small helpers shared by the
// Parcel server packages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrorValidation   = errors.New("validation error")
	ErrorLockedOut    = errors.New("too many failed sign-in attempts, try again later")
	ErrorDisabled     = errors.New("account disabled")
	ErrorExternal     = errors.New("external command failed")

	// Decoding errors (unknown password hash prefix, bad TOTP secret).
	ErrorMalformed = errors.New("malformed value")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
