package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrGrantNotFound is returned when a token identifier does not match any grant.
	// Hard-deleted (retention-swept) tokens surface here too; callers treat it as
	// an invalid credential, never a server error.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrGrantExpired is returned when the grant's validity window has passed.
	ErrGrantExpired = errors.New("grant expired")

	// ErrGrantRevoked is returned when the grant has already been revoked.
	ErrGrantRevoked = errors.New("grant revoked")

	// ErrGrantConflict is returned when a token hash collides with an existing
	// grant. Token identifiers are unique across all time; a collision means a
	// caller bug or an identifier being replayed into issuance.
	ErrGrantConflict = errors.New("grant token hash conflict")

	// ErrPrincipalMismatch is returned when a grant exists but belongs to a
	// different user than the one presenting it. Rejected without side effects.
	ErrPrincipalMismatch = errors.New("grant principal mismatch")

	// ErrReuseDetected is returned when a rotated (replaced) refresh token is
	// presented again. The whole family is revoked before this is returned;
	// the caller must force a full re-login.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrRateLimited is returned when refresh is attempted too frequently for a principal.
	ErrRateLimited = errors.New("refresh rate limited")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RateLimitError carries retry metadata for refresh throttling.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }
