package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conveyly/authcore/password"
	"github.com/conveyly/authcore/ratelimit"
	"github.com/conveyly/authcore/session"
	"github.com/conveyly/authcore/token"
)

// Rate-limit action keys.
const (
	actionLogin         = "login"
	actionRegistration  = "register"
	actionPasswordReset = "password_reset"
	actionRefresh       = "refresh"
)

// Engine is the credential validator and account guard. It is built
// once through [Builder.Build] and safe for concurrent use afterwards.
type Engine struct {
	config    Config
	directory Directory
	hasher    *password.Hasher
	limiter   *ratelimit.Limiter
	tokens    *token.Manager
	sessions  *session.Manager
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *slog.Logger

	// dummyHash is verified against for unknown emails so that lookup
	// misses cost the same as password mismatches.
	dummyHash string

	now func() time.Time
}

// Login validates credentials and issues a token pair. Unknown emails
// and wrong passwords both return [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, params LoginParams) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	email := normalizeEmail(params.Email)
	clientKey := params.ClientKey
	if clientKey == "" {
		clientKey = clientIPFromContext(ctx)
	}
	if clientKey == "" {
		clientKey = email
	}

	if err := e.limiter.Check(clientKey, actionLogin); err != nil {
		e.metrics.Inc(MetricLoginThrottled)
		return TokenPair{}, err
	}

	account, err := e.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn the same hashing cost as a real mismatch.
			_, _ = e.hasher.Verify(params.Password, e.dummyHash)
			e.loginFailed(ctx, "", params, "unknown account")
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("directory lookup: %w", err)
	}

	now := e.now()
	if account.Locked(now) {
		e.loginFailed(ctx, account.ID, params, "account locked")
		return TokenPair{}, ErrAccountLocked
	}
	if !account.LockedUntil.IsZero() {
		// Lock expired; clear it and the counter before evaluating
		// this attempt.
		if err := e.directory.ResetFailedLoginAttempts(ctx, account.ID); err != nil {
			return TokenPair{}, fmt.Errorf("clear expired lockout: %w", err)
		}
		account.FailedLoginAttempts = 0
		account.LockedUntil = time.Time{}
	}

	match, err := e.hasher.Verify(params.Password, account.PasswordHash)
	if err != nil {
		return TokenPair{}, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		if err := e.recordFailure(ctx, account, now); err != nil {
			return TokenPair{}, err
		}
		e.loginFailed(ctx, account.ID, params, "wrong password")
		return TokenPair{}, ErrInvalidCredentials
	}

	if !account.EmailVerified {
		e.loginFailed(ctx, account.ID, params, "email not verified")
		return TokenPair{}, ErrEmailNotVerified
	}
	if !account.Active {
		e.loginFailed(ctx, account.ID, params, "account disabled")
		return TokenPair{}, ErrAccountDisabled
	}

	if account.FailedLoginAttempts > 0 {
		if err := e.directory.ResetFailedLoginAttempts(ctx, account.ID); err != nil {
			e.logger.Warn("failed to reset login attempt counter",
				"account_id", account.ID, "error", err)
		}
	}

	e.rehashIfNeeded(ctx, account, params.Password)

	pair, err := e.issueSession(ctx, account, params)
	if err != nil {
		return TokenPair{}, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogin,
		AccountID: account.ID,
		TenantID:  account.TenantID,
		IP:        loginIP(ctx, params),
		Success:   true,
	})
	return pair, nil
}

func (e *Engine) recordFailure(ctx context.Context, account *Account, now time.Time) error {
	count, err := e.directory.IncrementFailedLoginAttempts(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	if count < e.config.Lockout.MaxFailedAttempts {
		return nil
	}

	until := now.Add(e.config.Lockout.LockDuration)
	if err := e.directory.LockAccount(ctx, account.ID, until); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	e.metrics.Inc(MetricAccountLockout)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditAccountLocked,
		AccountID: account.ID,
		TenantID:  account.TenantID,
	})
	e.logger.Info("account locked after repeated failures",
		"account_id", account.ID, "until", until)
	return nil
}

func (e *Engine) rehashIfNeeded(ctx context.Context, account *Account, plaintext string) {
	needs, err := e.hasher.NeedsRehash(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.directory.UpdatePassword(ctx, account.ID, newHash); err != nil {
		e.logger.Warn("failed to upgrade password hash",
			"account_id", account.ID, "error", err)
	}
}

func (e *Engine) issueSession(ctx context.Context, account *Account, params LoginParams) (TokenPair, error) {
	device := params.DeviceInfo
	if device == "" {
		device = deviceInfoFromContext(ctx)
	}
	pair, err := e.sessions.Issue(ctx, session.IssueParams{
		AccountID:  account.ID,
		Email:      account.Email,
		Role:       account.Role,
		TenantID:   account.TenantID,
		DeviceInfo: device,
		IPAddress:  loginIP(ctx, params),
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue session: %w", err)
	}
	return pair, nil
}

// Authenticate verifies a bearer access token and confirms its session
// is still live. Tokens from revoked sessions fail with
// [ErrTokenRevoked] even when the signature and expiry are valid.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		return nil, err
	}

	live, err := e.sessions.IsSessionLive(ctx, claims.AccountID, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check session liveness: %w", err)
	}
	if !live {
		return nil, ErrTokenRevoked
	}

	return &Principal{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
		TenantID:  claims.TenantID,
		SessionID: claims.SessionID,
	}, nil
}

// Refresh redeems a refresh token for a new token pair. Each token is
// redeemable exactly once.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	if key := clientIPFromContext(ctx); key != "" {
		if err := e.limiter.Check(key, actionRefresh); err != nil {
			return TokenPair{}, err
		}
	}

	pair, err := e.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		if errors.Is(err, ErrTokenRevoked) {
			e.metrics.Inc(MetricRefreshReuseDetected)
		}
		return TokenPair{}, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRefresh,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return pair, nil
}

// Logout revokes the session behind a refresh token. Revoking an
// already-revoked token succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogout,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every live session for an account.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogoutAll,
		AccountID: accountID,
		Success:   true,
	})
	return nil
}

// StartSweeper launches the background cleanup of expired session rows.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (e *Engine) StartSweeper(ctx context.Context) {
	if e == nil {
		return
	}
	e.sessions.StartSweeper(ctx)
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// sink could not keep up.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) loginFailed(ctx context.Context, accountID string, params LoginParams, reason string) {
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginFailed,
		AccountID: accountID,
		IP:        loginIP(ctx, params),
		Error:     reason,
	})
}

func (e *Engine) emitAudit(_ context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.Timestamp = e.now()
	e.audit.Emit(event)
}

func loginIP(ctx context.Context, params LoginParams) string {
	if params.IPAddress != "" {
		return params.IPAddress
	}
	return clientIPFromContext(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
