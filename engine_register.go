package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/conveyly/authcore/password"
)

// Register creates an account in the pending-verification state and
// returns a verification token for out-of-band delivery. The password
// is checked against the policy before anything is persisted.
func (e *Engine) Register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrInvalidCredentials)
	}

	if err := e.limiter.Check(clientKeyOr(ctx, email), actionRegistration); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(params.Password)
	if err != nil {
		var policyErr *password.PolicyError
		if errors.As(err, &policyErr) {
			return nil, policyErr
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if _, err := e.directory.FindByEmail(ctx, email); err == nil {
		e.metrics.Inc(MetricRegisterDuplicate)
		return nil, ErrAccountExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}

	now := e.now()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		Role:         params.Role,
		TenantID:     params.TenantID,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,

		EmailVerificationToken:   uuid.NewString(),
		EmailVerificationExpires: now.Add(e.config.Verification.EmailTokenTTL),
	}
	if err := e.directory.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metrics.Inc(MetricRegisterDuplicate)
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRegister,
		AccountID: account.ID,
		TenantID:  account.TenantID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return &RegisterResult{
		AccountID:         account.ID,
		VerificationToken: account.EmailVerificationToken,
	}, nil
}

// VerifyEmail redeems an email-verification token. Unknown tokens fail
// with [ErrTokenInvalid]; tokens past their lifetime with
// [ErrTokenExpired].
func (e *Engine) VerifyEmail(ctx context.Context, verificationToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if verificationToken == "" {
		return ErrTokenInvalid
	}

	account, err := e.directory.FindByEmailVerificationToken(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("directory lookup: %w", err)
	}
	if e.now().After(account.EmailVerificationExpires) {
		return ErrTokenExpired
	}

	if err := e.directory.VerifyEmail(ctx, account.ID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	e.metrics.Inc(MetricEmailVerified)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEmailVerified,
		AccountID: account.ID,
		TenantID:  account.TenantID,
		Success:   true,
	})
	return nil
}

// RequestEmailVerification issues a fresh verification token for an
// account that has not verified yet, invalidating any previous one.
func (e *Engine) RequestEmailVerification(ctx context.Context, accountID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	account, err := e.directory.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.EmailVerified {
		return "", fmt.Errorf("email already verified for account %s", accountID)
	}

	tok := uuid.NewString()
	expires := e.now().Add(e.config.Verification.EmailTokenTTL)
	if err := e.directory.UpdateEmailVerificationToken(ctx, account.ID, tok, expires); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}
	return tok, nil
}

func clientKeyOr(ctx context.Context, fallback string) string {
	if key := clientIPFromContext(ctx); key != "" {
		return key
	}
	return fallback
}
