// Package service provides the business logic of ArtShare on top of the
// persistence gateway.
package service

import "errors"

// Service-level errors. Business rule violations use the sentinels of the
// domain package.
var (
	// Input errors
	ErrInvalidUsername   = errors.New("invalid username: must be 3-255 characters")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrInvalidPassword   = errors.New("invalid password: must be at least 8 characters")
	ErrInvalidAmount     = errors.New("invalid amount: must be positive")
	ErrInvalidSearchType = errors.New("invalid search type: must be all, title or tags")

	// General errors
	ErrInternalError = errors.New("internal server error")
)
