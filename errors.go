package authgate

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Every error returned by the engine matches exactly one of
// these categories under errors.Is; flow-specific sentinels below wrap them
// so callers can match either the class or the specific failure.
var (
	// ErrValidation covers malformed or unacceptable input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict covers duplicate registration.
	ErrConflict = errors.New("conflict")
	// ErrNotFound covers unknown users and sessions.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized covers bad credentials, invalid or spent tokens, and
	// unverified-email login. The message is deliberately generic.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited covers OTP cooldown violations; use errors.As with
	// *RateLimitError to read the retry-after.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers store unavailability and timeouts; callers may
	// retry.
	ErrTransient = errors.New("transient store failure")
)

var (
	// ErrEmailTaken is an exported sentinel wrapping ErrConflict.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", ErrConflict)
	// ErrInvalidCredentials collapses unknown user, wrong password, and
	// unverified email into one indistinguishable outcome.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	// ErrInvalidRefreshToken covers unknown, expired, revoked, and replayed
	// refresh tokens alike.
	ErrInvalidRefreshToken = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	// ErrOTPInvalid covers absent, expired, and mismatched codes; the cases
	// are not distinguished to the caller.
	ErrOTPInvalid = fmt.Errorf("%w: invalid or expired verification code", ErrValidation)
	// ErrAlreadyVerified rejects verification and resend for accounts whose
	// email is already verified.
	ErrAlreadyVerified = fmt.Errorf("%w: email already verified", ErrValidation)
	// ErrWeakPassword rejects passwords below the configured minimum length.
	ErrWeakPassword = fmt.Errorf("%w: password too short", ErrValidation)
	// ErrInvalidEmail rejects syntactically invalid email addresses.
	ErrInvalidEmail = fmt.Errorf("%w: invalid email address", ErrValidation)
	// ErrUserNotFound is an exported sentinel wrapping ErrNotFound.
	ErrUserNotFound = fmt.Errorf("%w: user not found", ErrNotFound)
	// ErrSessionNotFound is an exported sentinel wrapping ErrNotFound.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrNotFound)
	// ErrEngineNotReady is returned when the engine was not fully built.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError carries the wait until the next OTP issuance is allowed.
// errors.Is(err, ErrRateLimited) holds for every RateLimitError.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
