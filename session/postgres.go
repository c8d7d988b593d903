package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the refresh_tokens table. Deployments that
// manage migrations elsewhere can copy this statement into their own
// tooling.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	id          UUID PRIMARY KEY,
	account_id  TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	secret_hash BYTEA NOT NULL,
	email       TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL DEFAULT '',
	device_info TEXT NOT NULL DEFAULT '',
	ip_address  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS refresh_tokens_account_idx ON refresh_tokens (account_id, revoked, expires_at);
CREATE INDEX IF NOT EXISTS refresh_tokens_expires_idx ON refresh_tokens (expires_at);
`

const recordColumns = `id, account_id, session_id, secret_hash, email, role, tenant_id, device_info, ip_address, created_at, expires_at, revoked`

// PostgresStore persists refresh-token records in PostgreSQL. The
// revoke-if-active transition is a single conditional UPDATE, so the
// row-level lock makes it a compare-and-swap without an explicit
// transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID,
		rec.AccountID,
		rec.SessionID,
		rec.SecretHash[:],
		rec.Email,
		rec.Role,
		rec.TenantID,
		rec.DeviceInfo,
		rec.IPAddress,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.Revoked,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM refresh_tokens
		WHERE id = $1
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return rec, nil
}

// RevokeIfActive implements Store.
func (s *PostgresStore) RevokeIfActive(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE id = $1 AND NOT revoked
	`, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "lost the race" from "no such record".
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check refresh token: %w", err)
	}
	if !exists {
		return false, ErrRecordNotFound
	}
	return false, nil
}

// Revoke implements Store.
func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForAccount implements Store.
func (s *PostgresStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE account_id = $1 AND NOT revoked
	`, accountID)
	if err != nil {
		return fmt.Errorf("revoke account sessions: %w", err)
	}
	return nil
}

// LiveForAccount implements Store.
func (s *PostgresStore) LiveForAccount(ctx context.Context, accountID string, now time.Time) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM refresh_tokens
		WHERE account_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY created_at, id
	`, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	return records, nil
}

// HasLiveSession implements Store.
func (s *PostgresStore) HasLiveSession(ctx context.Context, accountID, sessionID string, now time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE account_id = $1 AND session_id = $2 AND NOT revoked AND expires_at > $3
		)
	`, accountID, sessionID, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check live session: %w", err)
	}
	return exists, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpired implements Store.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec    Record
		secret []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.SessionID,
		&secret,
		&rec.Email,
		&rec.Role,
		&rec.TenantID,
		&rec.DeviceInfo,
		&rec.IPAddress,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
	)
	if err != nil {
		return nil, err
	}
	if len(secret) != len(rec.SecretHash) {
		return nil, fmt.Errorf("corrupt secret hash for record %s", rec.ID)
	}
	copy(rec.SecretHash[:], secret)
	return &rec, nil
}
