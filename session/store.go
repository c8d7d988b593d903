// Package session manages refresh-token lifecycles: issuance, single-use
// rotation, per-account session caps, revocation, liveness checks, and a
// background sweep of expired records.
//
// Access tokens themselves are stateless; a session is "live" exactly
// while a non-revoked, non-expired refresh-token record exists for its
// (account, session) pair. Revoking the record therefore revokes the
// whole session immediately, at the cost of one store lookup per
// authenticated request.
package session

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrTokenInvalid covers unknown, malformed, or mismatched refresh
	// tokens. Callers cannot distinguish these cases.
	ErrTokenInvalid = errors.New("invalid refresh token")
	// ErrTokenRevoked is returned when the presented refresh token was
	// already rotated or explicitly revoked.
	ErrTokenRevoked = errors.New("refresh token revoked")
	// ErrTokenExpired is returned when the refresh token outlived its TTL.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrRecordNotFound is the store-level miss; the manager translates
	// it to ErrTokenInvalid before it reaches callers.
	ErrRecordNotFound = errors.New("refresh token record not found")
)

// Record is one issued refresh token. The opaque secret handed to the
// client is never stored; only its SHA-256 digest is.
//
// Identity metadata (email, role, tenant) rides on the record so that
// rotation can mint a new access token without a directory lookup.
type Record struct {
	ID         string
	AccountID  string
	SessionID  string
	SecretHash [32]byte
	Email      string
	Role       string
	TenantID   string
	DeviceInfo string
	IPAddress  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Revoked    bool
}

// Live reports whether the record can still be redeemed at the given
// instant.
func (r *Record) Live(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// Store persists refresh-token records. Implementations must make
// RevokeIfActive a compare-and-swap: exactly one of any number of
// concurrent calls for the same record observes the active-to-revoked
// transition.
type Store interface {
	// Insert adds a new record. IDs are caller-generated UUIDs and
	// assumed unique.
	Insert(ctx context.Context, rec *Record) error

	// Get returns the record by ID, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// RevokeIfActive marks the record revoked iff it is not already.
	// Returns true when this call performed the transition. Unknown IDs
	// return ErrRecordNotFound.
	RevokeIfActive(ctx context.Context, id string) (bool, error)

	// Revoke marks the record revoked. Idempotent: revoking a revoked or
	// missing record is not an error.
	Revoke(ctx context.Context, id string) error

	// RevokeAllForAccount revokes every non-revoked record owned by the
	// account.
	RevokeAllForAccount(ctx context.Context, accountID string) error

	// LiveForAccount returns the account's non-revoked, non-expired
	// records ordered oldest-first by creation time.
	LiveForAccount(ctx context.Context, accountID string, now time.Time) ([]*Record, error)

	// HasLiveSession reports whether a live record exists for the
	// (account, session) pair.
	HasLiveSession(ctx context.Context, accountID, sessionID string, now time.Time) (bool, error)

	// Delete removes the record entirely. Missing records are not an
	// error.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes records whose expiry has passed and returns
	// how many were removed. It must never touch live records.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// sortRecordsOldestFirst orders records by creation time ascending, with
// the ID as a stable tie-break so cap eviction is deterministic.
func sortRecordsOldestFirst(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// TokenPair is the credential bundle returned to callers after login and
// refresh. ExpiresIn is the access-token lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}
