package authcore

import (
	"fmt"
	"time"

	"github.com/conveyly/authcore/password"
	"github.com/conveyly/authcore/ratelimit"
)

// Config is the engine's security policy. It is read once at Build and
// never mutated afterwards; a Config that fails Validate never produces
// an Engine.
type Config struct {
	Token        TokenConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	Session      SessionConfig
	Lockout      LockoutConfig
	Verification VerificationConfig
}

// TokenConfig governs signed access tokens and opaque refresh tokens.
type TokenConfig struct {
	// SigningKey is the HMAC-SHA256 key. There is no default: an empty
	// or short key fails validation.
	SigningKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// PasswordConfig combines the composition policy with argon2id cost
// parameters.
type PasswordConfig struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool

	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// RateLimitConfig holds per-action limits. A zero Max leaves the
// action unlimited.
type RateLimitConfig struct {
	Login         ActionLimit
	Registration  ActionLimit
	PasswordReset ActionLimit
	Refresh       ActionLimit
}

// ActionLimit allows Max attempts per fixed Window.
type ActionLimit struct {
	Max    int
	Window time.Duration
}

// SessionConfig governs concurrent-session enforcement and cleanup.
type SessionConfig struct {
	MaxPerAccount int
	SweepInterval time.Duration
}

// LockoutConfig governs the failed-login lockout state machine.
type LockoutConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
}

// VerificationConfig sets lifetimes for email-verification and
// password-reset tokens.
type VerificationConfig struct {
	EmailTokenTTL time.Duration
	ResetTokenTTL time.Duration
}

// DefaultConfig returns a policy suitable for development. The signing
// key is deliberately absent: deployments must set one.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
			Leeway:     30 * time.Second,
		},
		Password: PasswordConfig{
			MinLength:      12,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
		},
		RateLimit: RateLimitConfig{
			Login:         ActionLimit{Max: 10, Window: time.Minute},
			Registration:  ActionLimit{Max: 5, Window: time.Minute},
			PasswordReset: ActionLimit{Max: 3, Window: 5 * time.Minute},
		},
		Session: SessionConfig{
			MaxPerAccount: 5,
			SweepInterval: time.Hour,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			LockDuration:      15 * time.Minute,
		},
		Verification: VerificationConfig{
			EmailTokenTTL: 24 * time.Hour,
			ResetTokenTTL: time.Hour,
		},
	}
}

// Validate rejects any configuration an engine could not run safely
// with. It is called by Build; construction fails fast rather than
// degrading at runtime.
func (c *Config) Validate() error {
	if len(c.Token.SigningKey) < 32 {
		return fmt.Errorf("config: token signing key must be at least 32 bytes, got %d", len(c.Token.SigningKey))
	}
	if c.Token.AccessTTL <= 0 {
		return fmt.Errorf("config: access token TTL must be positive")
	}
	if c.Token.RefreshTTL <= 0 {
		return fmt.Errorf("config: refresh token TTL must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return fmt.Errorf("config: refresh TTL must exceed access TTL")
	}
	if c.Password.MinLength < 8 {
		return fmt.Errorf("config: password minimum length must be at least 8, got %d", c.Password.MinLength)
	}
	for name, limit := range map[string]ActionLimit{
		"login":          c.RateLimit.Login,
		"registration":   c.RateLimit.Registration,
		"password_reset": c.RateLimit.PasswordReset,
		"refresh":        c.RateLimit.Refresh,
	} {
		if limit.Max > 0 && limit.Window <= 0 {
			return fmt.Errorf("config: %s rate limit has max %d but no window", name, limit.Max)
		}
		if limit.Max < 0 {
			return fmt.Errorf("config: %s rate limit max must not be negative", name)
		}
	}
	if c.Session.MaxPerAccount < 1 {
		return fmt.Errorf("config: session cap must be at least 1, got %d", c.Session.MaxPerAccount)
	}
	if c.Lockout.MaxFailedAttempts < 1 {
		return fmt.Errorf("config: lockout threshold must be at least 1, got %d", c.Lockout.MaxFailedAttempts)
	}
	if c.Lockout.LockDuration <= 0 {
		return fmt.Errorf("config: lockout duration must be positive")
	}
	if c.Verification.EmailTokenTTL <= 0 {
		return fmt.Errorf("config: email verification token TTL must be positive")
	}
	if c.Verification.ResetTokenTTL <= 0 {
		return fmt.Errorf("config: password reset token TTL must be positive")
	}
	return nil
}

func (c *Config) passwordPolicy() password.Policy {
	return password.Policy{
		MinLength:      c.Password.MinLength,
		RequireUpper:   c.Password.RequireUpper,
		RequireLower:   c.Password.RequireLower,
		RequireDigit:   c.Password.RequireDigit,
		RequireSpecial: c.Password.RequireSpecial,
	}
}

func (c *Config) passwordParams() password.Params {
	return password.Params{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) rateLimits() map[string]ratelimit.Limit {
	return map[string]ratelimit.Limit{
		actionLogin:         {Max: c.RateLimit.Login.Max, Window: c.RateLimit.Login.Window},
		actionRegistration:  {Max: c.RateLimit.Registration.Max, Window: c.RateLimit.Registration.Window},
		actionPasswordReset: {Max: c.RateLimit.PasswordReset.Max, Window: c.RateLimit.PasswordReset.Window},
		actionRefresh:       {Max: c.RateLimit.Refresh.Max, Window: c.RateLimit.Refresh.Window},
	}
}
