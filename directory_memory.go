package authcore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryDirectory is a map-backed [Directory]. It is the reference
// implementation used throughout the tests and is suitable for demos;
// production deployments implement Directory over their own database.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(d.byID[id]), nil
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (d *MemoryDirectory) Create(_ context.Context, account *Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := d.byEmail[email]; exists {
		return ErrAccountExists
	}
	if _, exists := d.byID[account.ID]; exists {
		return ErrAccountExists
	}
	d.byID[account.ID] = cloneAccount(account)
	d.byEmail[email] = account.ID
	return nil
}

func (d *MemoryDirectory) IncrementFailedLoginAttempts(_ context.Context, id string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.byID[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	account.FailedLoginAttempts++
	return account.FailedLoginAttempts, nil
}

func (d *MemoryDirectory) LockAccount(_ context.Context, id string, until time.Time) error {
	return d.update(id, func(a *Account) {
		a.LockedUntil = until
	})
}

func (d *MemoryDirectory) ResetFailedLoginAttempts(_ context.Context, id string) error {
	return d.update(id, func(a *Account) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = time.Time{}
	})
}

func (d *MemoryDirectory) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return d.update(id, func(a *Account) {
		a.PasswordHash = passwordHash
	})
}

func (d *MemoryDirectory) VerifyEmail(_ context.Context, id string) error {
	return d.update(id, func(a *Account) {
		a.EmailVerified = true
		a.EmailVerificationToken = ""
		a.EmailVerificationExpires = time.Time{}
	})
}

func (d *MemoryDirectory) UpdateEmailVerificationToken(_ context.Context, id, token string, expires time.Time) error {
	return d.update(id, func(a *Account) {
		a.EmailVerificationToken = token
		a.EmailVerificationExpires = expires
	})
}

func (d *MemoryDirectory) FindByEmailVerificationToken(_ context.Context, token string) (*Account, error) {
	return d.findBy(func(a *Account) bool {
		return a.EmailVerificationToken != "" && a.EmailVerificationToken == token
	})
}

func (d *MemoryDirectory) UpdatePasswordResetToken(_ context.Context, id, token string, expires time.Time) error {
	return d.update(id, func(a *Account) {
		a.PasswordResetToken = token
		a.PasswordResetExpires = expires
	})
}

func (d *MemoryDirectory) ClearPasswordResetToken(_ context.Context, id string) error {
	return d.update(id, func(a *Account) {
		a.PasswordResetToken = ""
		a.PasswordResetExpires = time.Time{}
	})
}

func (d *MemoryDirectory) FindByPasswordResetToken(_ context.Context, token string) (*Account, error) {
	return d.findBy(func(a *Account) bool {
		return a.PasswordResetToken != "" && a.PasswordResetToken == token
	})
}

func (d *MemoryDirectory) update(id string, fn func(*Account)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	fn(account)
	return nil
}

func (d *MemoryDirectory) findBy(match func(*Account) bool) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, account := range d.byID {
		if match(account) {
			return cloneAccount(account), nil
		}
	}
	return nil, ErrAccountNotFound
}

func cloneAccount(a *Account) *Account {
	clone := *a
	return &clone
}
