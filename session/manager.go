package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyly/authcore/internal"
	"github.com/conveyly/authcore/token"
)

// Config carries the session-layer slice of the security policy.
type Config struct {
	// RefreshTTL is the refresh-token lifetime.
	RefreshTTL time.Duration
	// MaxPerAccount caps live sessions per account. Issuing past the cap
	// revokes the oldest sessions first.
	MaxPerAccount int
	// SweepInterval is the period of the background purge of expired
	// records.
	SweepInterval time.Duration
}

// IssueParams describes the principal a new session is issued for.
// SessionID is left empty on login; rotation carries the existing one
// over so the lineage stays linked to the original login event.
type IssueParams struct {
	AccountID  string
	Email      string
	Role       string
	TenantID   string
	DeviceInfo string
	IPAddress  string
	SessionID  string
}

const lockStripes = 64

// Manager issues, rotates, and revokes sessions.
//
// Cap enforcement is read-then-write and would race under concurrent
// issuance for one account, so Manager serializes per account with a
// striped mutex. Rotation additionally relies on the store's
// compare-and-swap so a presented secret can win at most once even
// across processes sharing a store.
type Manager struct {
	store  Store
	tokens *token.Manager
	config Config
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
}

// NewManager wires a Manager. The logger may be nil.
func NewManager(store Store, tokens *token.Manager, cfg Config, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	if tokens == nil {
		return nil, errors.New("token manager required")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("refresh TTL must be positive")
	}
	if cfg.MaxPerAccount < 1 {
		return nil, errors.New("session cap must be >= 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		tokens: tokens,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Issue creates a session for the account and returns its token pair.
// When the account is at its session cap, the oldest live sessions are
// revoked so the cap holds after insertion.
func (m *Manager) Issue(ctx context.Context, p IssueParams) (TokenPair, error) {
	if p.AccountID == "" {
		return TokenPair{}, errors.New("account id required")
	}

	unlock := m.lockAccount(p.AccountID)
	defer unlock()

	return m.issueLocked(ctx, p)
}

// issueLocked does the cap check and insert. Callers hold the account
// stripe lock.
func (m *Manager) issueLocked(ctx context.Context, p IssueParams) (TokenPair, error) {
	now := m.now()

	sessionID := p.SessionID
	if sessionID == "" {
		var err error
		sessionID, err = internal.NewSessionID()
		if err != nil {
			return TokenPair{}, fmt.Errorf("generate session id: %w", err)
		}
	}

	live, err := m.store.LiveForAccount(ctx, p.AccountID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("count live sessions: %w", err)
	}
	if excess := len(live) - m.config.MaxPerAccount + 1; excess > 0 {
		for _, old := range live[:excess] {
			if err := m.store.Revoke(ctx, old.ID); err != nil {
				return TokenPair{}, fmt.Errorf("evict oldest session: %w", err)
			}
		}
	}

	secret, err := internal.NewSecret()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh secret: %w", err)
	}

	access, err := m.tokens.Sign(p.AccountID, p.Email, p.Role, p.TenantID, sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	rec := &Record{
		ID:         uuid.NewString(),
		AccountID:  p.AccountID,
		SessionID:  sessionID,
		SecretHash: internal.HashSecret(secret),
		Email:      p.Email,
		Role:       p.Role,
		TenantID:   p.TenantID,
		DeviceInfo: p.DeviceInfo,
		IPAddress:  p.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.config.RefreshTTL),
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}

	refresh, err := internal.EncodeRefreshToken(rec.ID, secret)
	if err != nil {
		// The row is useless without its secret; drop it rather than
		// leave an orphan counting against the cap.
		if delErr := m.store.Delete(ctx, rec.ID); delErr != nil {
			m.logger.Warn("failed to delete orphaned refresh token record",
				"record_id", rec.ID, "error", delErr)
		}
		return TokenPair{}, fmt.Errorf("encode refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.tokens.AccessTTL().Seconds()),
	}, nil
}

// Refresh redeems a refresh token for a new pair, revoking the presented
// token. Redemption is single-use: of any number of concurrent calls
// with the same token, exactly one succeeds.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	recordID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}

	rec, err := m.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}
	if internal.HashSecret(secret) != rec.SecretHash {
		return TokenPair{}, ErrTokenInvalid
	}
	if rec.Revoked {
		return TokenPair{}, ErrTokenRevoked
	}

	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		// Dead row; removing it is best-effort cleanup.
		if delErr := m.store.Delete(ctx, rec.ID); delErr != nil {
			m.logger.Warn("failed to delete expired refresh token record",
				"record_id", rec.ID, "error", delErr)
		}
		return TokenPair{}, ErrTokenExpired
	}

	unlock := m.lockAccount(rec.AccountID)
	defer unlock()

	won, err := m.store.RevokeIfActive(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, fmt.Errorf("revoke presented token: %w", err)
	}
	if !won {
		return TokenPair{}, ErrTokenRevoked
	}

	// The CAS above spent the presented token. An issue failure below
	// does not restore it; a spent secret stays spent.
	return m.issueLocked(ctx, IssueParams{
		AccountID:  rec.AccountID,
		Email:      rec.Email,
		Role:       rec.Role,
		TenantID:   rec.TenantID,
		DeviceInfo: rec.DeviceInfo,
		IPAddress:  rec.IPAddress,
		SessionID:  rec.SessionID,
	})
}

// Revoke marks the token's record revoked. Revoking an already-revoked
// or purged token is not an error; a malformed token or wrong secret is.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	recordID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrTokenInvalid
	}

	rec, err := m.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load refresh token: %w", err)
	}
	if internal.HashSecret(secret) != rec.SecretHash {
		return ErrTokenInvalid
	}

	return m.store.Revoke(ctx, rec.ID)
}

// RevokeAll revokes every live session for the account ("log out
// everywhere").
func (m *Manager) RevokeAll(ctx context.Context, accountID string) error {
	return m.store.RevokeAllForAccount(ctx, accountID)
}

// IsSessionLive reports whether the (account, session) pair still has a
// redeemable refresh-token record. Access-token validation calls this to
// make revocation effective immediately.
func (m *Manager) IsSessionLive(ctx context.Context, accountID, sessionID string) (bool, error) {
	return m.store.HasLiveSession(ctx, accountID, sessionID, m.now())
}

// Sweep deletes expired records once and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// StartSweeper runs Sweep on the configured interval until ctx is
// cancelled. Sweep failures are logged and never fatal; the sweeper only
// removes rows that are already logically dead.
func (m *Manager) StartSweeper(ctx context.Context) {
	interval := m.config.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := m.Sweep(ctx)
				if err != nil {
					m.logger.Warn("refresh token sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					m.logger.Debug("refresh token sweep completed", "removed", removed)
				}
			}
		}
	}()
}

func (m *Manager) lockAccount(accountID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
