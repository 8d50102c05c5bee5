package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTenantIsolation flags a call issued without or with a mismatched
	// tenant id. It is a programmer error and is raised before any I/O.
	ErrTenantIsolation = errors.New("tenant isolation violation")
	// ErrRateLimited is returned when a tenant exceeds its plan window.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuthExpired marks credentials that failed after one refresh attempt.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrConflict marks a violated schema constraint.
	ErrConflict = errors.New("conflict")
)
