package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (store, cache, network).

var (
	// ===========================================
	// Validation
	// ===========================================

	// ErrValidation indicates an entity invariant was violated.
	ErrValidation = errors.New("validation failed")

	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username/email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSelfFollow indicates a user tried to follow themselves.
	ErrSelfFollow = errors.New("users cannot follow themselves")

	// ErrAlreadyFollowing indicates the follow relation already exists.
	ErrAlreadyFollowing = errors.New("already following user")

	// ErrNotFollowing indicates the follow relation does not exist.
	ErrNotFollowing = errors.New("not following user")

	// ===========================================
	// Artwork / Comment / Message Errors
	// ===========================================

	// ErrArtworkNotFound indicates the requested artwork does not exist.
	ErrArtworkNotFound = errors.New("artwork not found")

	// ErrCommentNotFound indicates the requested comment does not exist.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrEmptyContent indicates a comment or message has no content.
	ErrEmptyContent = errors.New("content must not be empty")

	// ErrSelfMessage indicates a user tried to message themselves.
	ErrSelfMessage = errors.New("users cannot message themselves")

	// ===========================================
	// Points Errors
	// ===========================================

	// ErrInsufficientPoints indicates the balance does not cover the amount.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrSelfDonation indicates an author tried to donate to their own artwork.
	ErrSelfDonation = errors.New("cannot donate points to own artwork")

	// ErrAlreadyDonated indicates the donor already donated to the artwork.
	ErrAlreadyDonated = errors.New("already donated to this artwork")

	// ErrBelowWithdrawalMinimum indicates the balance is under the withdrawal threshold.
	ErrBelowWithdrawalMinimum = errors.New("balance below minimum withdrawal")

	// ErrBelowPurchaseMinimum indicates the purchase amount is under the minimum.
	ErrBelowPurchaseMinimum = errors.New("purchase amount below minimum")

	// ErrTransactionNotFound indicates the requested transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransition indicates a transaction status change is not allowed.
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	// ===========================================
	// Authorization Errors
	// ===========================================

	// ErrAccessDenied indicates the user does not have permission.
	ErrAccessDenied = errors.New("access denied")
)

// ValidationError describes a violated field-level invariant.
// It unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g. "artwork@4").
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
