// Package token issues and verifies the short-lived signed access tokens
// presented on every authenticated request. Access tokens are stateless;
// revocation happens at the session layer by checking whether the token's
// session still has a live refresh-token record.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minKeyBytes = 32

// Config holds the signing material and lifetime for access tokens.
// Construction fails fast when the key is absent; there is no default
// secret.
type Config struct {
	AccessTTL time.Duration
	Key       []byte
	Issuer    string
	Leeway    time.Duration
}

// Claims is the payload embedded in every access token.
type Claims struct {
	AccountID string `json:"uid"`
	Email     string `json:"eml"`
	Role      string `json:"rol"`
	TenantID  string `json:"tnt,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager signs and parses access tokens with HMAC-SHA256.
type Manager struct {
	config Config
}

// NewManager validates the configuration and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access token TTL must be positive")
	}
	if len(cfg.Key) < minKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minKeyBytes)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// Sign creates an access token binding the account identity to one
// session. Issued-at and expiry come from the manager's clock and TTL.
func (m *Manager) Sign(accountID, email, role, tenantID, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		TenantID:  tenantID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			Issuer:    m.config.Issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Key)
}

// Parse verifies the signature and registered claims and returns the
// payload. Expired, unsigned, or otherwise malformed tokens fail.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.config.Key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.AccountID == "" || claims.SessionID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
