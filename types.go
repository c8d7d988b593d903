package authcore

import (
	"context"
	"time"

	"github.com/conveyly/authcore/session"
)

// Account is the full account record exchanged with a [Directory].
// The engine reads every field; directories persist all of them.
type Account struct {
	ID       string
	Email    string
	Role     string
	TenantID string

	PasswordHash string

	EmailVerified bool
	Active        bool

	FailedLoginAttempts int
	LockedUntil         time.Time

	EmailVerificationToken   string
	EmailVerificationExpires time.Time

	PasswordResetToken   string
	PasswordResetExpires time.Time

	CreatedAt time.Time
}

// Locked reports whether the account is inside a lockout window at now.
func (a *Account) Locked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && now.Before(a.LockedUntil)
}

// Principal identifies the caller behind a verified access token.
type Principal struct {
	AccountID string
	Email     string
	Role      string
	TenantID  string
	SessionID string
}

// Directory is the interface callers implement to connect the engine to
// their account database. Every method that mutates a single account
// must be atomic with respect to that account.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account *Account) error

	IncrementFailedLoginAttempts(ctx context.Context, id string) (int, error)
	LockAccount(ctx context.Context, id string, until time.Time) error
	ResetFailedLoginAttempts(ctx context.Context, id string) error

	UpdatePassword(ctx context.Context, id, passwordHash string) error
	VerifyEmail(ctx context.Context, id string) error
	UpdateEmailVerificationToken(ctx context.Context, id, token string, expires time.Time) error
	FindByEmailVerificationToken(ctx context.Context, token string) (*Account, error)

	UpdatePasswordResetToken(ctx context.Context, id, token string, expires time.Time) error
	ClearPasswordResetToken(ctx context.Context, id string) error
	FindByPasswordResetToken(ctx context.Context, token string) (*Account, error)
}

// RegisterParams carries the inputs for [Engine.Register].
type RegisterParams struct {
	Email    string
	Password string
	Role     string
	TenantID string
}

// RegisterResult is returned by [Engine.Register]. VerificationToken is
// handed to the account owner out of band; it is never sent by the
// engine itself.
type RegisterResult struct {
	AccountID         string
	VerificationToken string
}

// LoginParams carries the inputs for [Engine.Login]. ClientKey scopes
// rate limiting; when empty the engine falls back to the email.
type LoginParams struct {
	Email      string
	Password   string
	ClientKey  string
	DeviceInfo string
	IPAddress  string
}

// TokenPair aliases the session package's pair type for convenience.
type TokenPair = session.TokenPair
