package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists refresh-token records in Redis: one hash per
// record plus a per-account set indexing the account's record IDs.
// Record hashes carry a TTL equal to the refresh expiry, so Redis
// physically drops them at the same instant they become logically dead;
// DeleteExpired only prunes stale index members.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// revokeIfActiveScript flips revoked 0 -> 1 atomically. Returns 1 when
// this call performed the transition, 0 when already revoked, -1 when
// the record does not exist.
var revokeIfActiveScript = redis.NewScript(`
local revoked = redis.call("HGET", KEYS[1], "revoked")
if revoked == false then
  return -1
end
if revoked == "0" then
  redis.call("HSET", KEYS[1], "revoked", "1")
  return 1
end
return 0
`)

// NewRedisStore returns a RedisStore. An empty prefix defaults to "ac".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string {
	return fmt.Sprintf("%s:rt:%s", s.prefix, id)
}

func (s *RedisStore) accountKey(accountID string) string {
	return fmt.Sprintf("%s:acct:%s", s.prefix, accountID)
}

// Insert implements Store.
func (s *RedisStore) Insert(ctx context.Context, rec *Record) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token record already expired")
	}

	fields := map[string]interface{}{
		"account": rec.AccountID,
		"session": rec.SessionID,
		"secret":  hex.EncodeToString(rec.SecretHash[:]),
		"email":   rec.Email,
		"role":    rec.Role,
		"tenant":  rec.TenantID,
		"device":  rec.DeviceInfo,
		"ip":      rec.IPAddress,
		"created": strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		"expires": strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
		"revoked": boolField(rec.Revoked),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.recordKey(rec.ID), fields)
	pipe.Expire(ctx, s.recordKey(rec.ID), ttl)
	pipe.SAdd(ctx, s.accountKey(rec.AccountID), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrRecordNotFound
	}
	return decodeRecord(id, fields)
}

// RevokeIfActive implements Store.
func (s *RedisStore) RevokeIfActive(ctx context.Context, id string) (bool, error) {
	res, err := revokeIfActiveScript.Run(ctx, s.client, []string{s.recordKey(id)}).Int64()
	if err != nil {
		return false, fmt.Errorf("redis revoke cas: %w", err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrRecordNotFound
	}
}

// Revoke implements Store.
func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	_, err := revokeIfActiveScript.Run(ctx, s.client, []string{s.recordKey(id)}).Int64()
	if err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	return nil
}

// RevokeAllForAccount implements Store.
func (s *RedisStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	ids, err := s.client.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("redis account index: %w", err)
	}

	// The script runs per record rather than through a pipeline: the
	// EVALSHA/EVAL fallback needs the NOSCRIPT error at call time, and
	// queued pipeline commands do not surface it.
	for _, id := range ids {
		if err := s.Revoke(ctx, id); err != nil {
			return fmt.Errorf("redis revoke all: %w", err)
		}
	}
	return nil
}

// LiveForAccount implements Store.
func (s *RedisStore) LiveForAccount(ctx context.Context, accountID string, now time.Time) ([]*Record, error) {
	records, err := s.accountRecords(ctx, accountID)
	if err != nil {
		return nil, err
	}

	live := records[:0]
	for _, rec := range records {
		if rec.Live(now) {
			live = append(live, rec)
		}
	}
	sortRecordsOldestFirst(live)
	return live, nil
}

// HasLiveSession implements Store.
func (s *RedisStore) HasLiveSession(ctx context.Context, accountID, sessionID string, now time.Time) (bool, error) {
	records, err := s.accountRecords(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.SessionID == sessionID && rec.Live(now) {
			return true, nil
		}
	}
	return false, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		if err == ErrRecordNotFound {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(id))
	pipe.SRem(ctx, s.accountKey(rec.AccountID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DeleteExpired implements Store. Redis TTLs already drop the record
// hashes; this prunes index members whose hash is gone.
func (s *RedisStore) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	removed := 0
	var cursor uint64
	pattern := fmt.Sprintf("%s:acct:*", s.prefix)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 64).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}

		for _, accountKey := range keys {
			ids, err := s.client.SMembers(ctx, accountKey).Result()
			if err != nil {
				return removed, fmt.Errorf("redis account index: %w", err)
			}
			for _, id := range ids {
				exists, err := s.client.Exists(ctx, s.recordKey(id)).Result()
				if err != nil {
					return removed, fmt.Errorf("redis exists: %w", err)
				}
				if exists == 0 {
					if err := s.client.SRem(ctx, accountKey, id).Err(); err != nil {
						return removed, fmt.Errorf("redis prune index: %w", err)
					}
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStore) accountRecords(ctx context.Context, accountID string) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis account index: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if err == ErrRecordNotFound {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(id string, fields map[string]string) (*Record, error) {
	secret, err := hex.DecodeString(fields["secret"])
	if err != nil || len(secret) != 32 {
		return nil, fmt.Errorf("corrupt secret hash for record %s", id)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt created timestamp for record %s", id)
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt expiry timestamp for record %s", id)
	}

	rec := &Record{
		ID:         id,
		AccountID:  fields["account"],
		SessionID:  fields["session"],
		Email:      fields["email"],
		Role:       fields["role"],
		TenantID:   fields["tenant"],
		DeviceInfo: fields["device"],
		IPAddress:  fields["ip"],
		CreatedAt:  time.Unix(0, created),
		ExpiresAt:  time.Unix(0, expires),
		Revoked:    fields["revoked"] == "1",
	}
	copy(rec.SecretHash[:], secret)
	return rec, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
