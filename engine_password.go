package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RequestPasswordReset starts a reset flow. It reports success whether
// or not the email maps to an account, so the endpoint cannot be used
// to enumerate accounts. When the account exists, the returned token is
// non-empty and must be delivered out of band.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if err := e.limiter.Check(clientKeyOr(ctx, email), actionPasswordReset); err != nil {
		return "", err
	}

	account, err := e.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("directory lookup: %w", err)
	}

	tok := uuid.NewString()
	expires := e.now().Add(e.config.Verification.ResetTokenTTL)
	if err := e.directory.UpdatePasswordResetToken(ctx, account.ID, tok, expires); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	e.metrics.Inc(MetricPasswordResetRequest)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditPasswordResetRequested,
		AccountID: account.ID,
		TenantID:  account.TenantID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return tok, nil
}

// ResetPassword redeems a reset token and installs a new password. All
// of the account's sessions are revoked: a reset is the recovery path
// after credential compromise.
func (e *Engine) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if resetToken == "" {
		return ErrTokenInvalid
	}

	account, err := e.directory.FindByPasswordResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("directory lookup: %w", err)
	}
	if e.now().After(account.PasswordResetExpires) {
		return ErrTokenExpired
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := e.directory.UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := e.directory.ClearPasswordResetToken(ctx, account.ID); err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	// A reset also ends any lockout: the owner has proven control.
	if err := e.directory.ResetFailedLoginAttempts(ctx, account.ID); err != nil {
		e.logger.Warn("failed to clear lockout after password reset",
			"account_id", account.ID, "error", err)
	}
	if err := e.sessions.RevokeAll(ctx, account.ID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditPasswordReset,
		AccountID: account.ID,
		TenantID:  account.TenantID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return nil
}

// ChangePassword replaces an authenticated account's password. The old
// password must verify, the new one must satisfy the policy and differ
// from the old, and every session is revoked on success.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	account, err := e.directory.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	match, err := e.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := e.sessions.RevokeAll(ctx, account.ID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditPasswordChanged,
		AccountID: account.ID,
		TenantID:  account.TenantID,
		Success:   true,
	})
	return nil
}
