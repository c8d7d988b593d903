package authcore

import (
	"errors"

	"github.com/conveyly/authcore/password"
	"github.com/conveyly/authcore/ratelimit"
	"github.com/conveyly/authcore/session"
)

var (
	// ErrInvalidCredentials is returned for both unknown accounts and
	// wrong passwords so callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailNotVerified is returned when the password is correct but
	// the account has not completed email verification.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountDisabled is returned for administratively deactivated accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountNotFound is returned by operations that take an account
	// ID directly and therefore need no enumeration hygiene.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by Register for duplicate emails.
	ErrAccountExists = errors.New("account already exists")
	// ErrPasswordReuse is returned when a new password matches the current one.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrEngineNotReady is returned when an Engine is used before a
	// successful Build.
	ErrEngineNotReady = errors.New("engine not ready")
)

// Subpackage sentinels re-exported so callers can match every failure
// mode with a single import.
var (
	// ErrWeakPassword matches policy violations; errors.As with
	// *password.PolicyError yields the individual rules.
	ErrWeakPassword = password.ErrWeakPassword
	// ErrThrottled matches rate-limit rejections; errors.As with
	// *ratelimit.ThrottledError yields the retry-after hint.
	ErrThrottled = ratelimit.ErrThrottled
	// ErrTokenInvalid covers malformed, unknown, and forged tokens.
	ErrTokenInvalid = session.ErrTokenInvalid
	// ErrTokenRevoked covers revoked and already-redeemed refresh tokens.
	ErrTokenRevoked = session.ErrTokenRevoked
	// ErrTokenExpired covers tokens past their expiry.
	ErrTokenExpired = session.ErrTokenExpired
)
