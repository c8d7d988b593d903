package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyly/authcore/internal"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, _ := newMiniredisStore(t)
		return store
	})
}

func TestRedisStoreRejectsExpiredInsert(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()

	secret, err := internal.NewSecret()
	require.NoError(t, err)

	err = store.Insert(ctx, &Record{
		ID:         newRecordID(t),
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		SecretHash: internal.HashSecret(secret),
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	})
	assert.Error(t, err)
}

func TestRedisStoreTTLPruning(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	secret, err := internal.NewSecret()
	require.NoError(t, err)

	id := newRecordID(t)
	require.NoError(t, store.Insert(ctx, &Record{
		ID:         id,
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		SecretHash: internal.HashSecret(secret),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Minute),
	}))

	// Redis drops the hash when the TTL elapses; the account index
	// still holds the ID until DeleteExpired prunes it.
	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	removed, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	live, err := store.LiveForAccount(ctx, "acct-1", time.Now())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestRedisStoreRoundTripsMetadata(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()

	secret, err := internal.NewSecret()
	require.NoError(t, err)

	created := time.Now().Truncate(time.Millisecond)
	rec := &Record{
		ID:         newRecordID(t),
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		SecretHash: internal.HashSecret(secret),
		Email:      "user@example.com",
		Role:       "admin",
		TenantID:   "tenant-9",
		DeviceInfo: "cli/1.4",
		IPAddress:  "203.0.113.7",
		CreatedAt:  created,
		ExpiresAt:  created.Add(time.Hour),
	}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Email, got.Email)
	assert.Equal(t, rec.Role, got.Role)
	assert.Equal(t, rec.TenantID, got.TenantID)
	assert.Equal(t, rec.DeviceInfo, got.DeviceInfo)
	assert.Equal(t, rec.IPAddress, got.IPAddress)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.ExpiresAt.Equal(created.Add(time.Hour)))
}

func TestManagerWithRedisStoreSingleWinner(t *testing.T) {
	store, _ := newMiniredisStore(t)

	tokens, err := newTestTokenManager()
	require.NoError(t, err)

	mgr, err := NewManager(store, tokens, Config{RefreshTTL: time.Hour, MaxPerAccount: 5}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)

	_, err = mgr.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = mgr.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRedisStoreRevokeAllOnFreshClient(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()
	now := time.Now()

	var recs []*Record
	for i := 0; i < 3; i++ {
		secret, err := internal.NewSecret()
		require.NoError(t, err)
		rec := &Record{
			ID:         newRecordID(t),
			AccountID:  "acct-1",
			SessionID:  "sess-1",
			SecretHash: internal.HashSecret(secret),
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
		}
		require.NoError(t, store.Insert(ctx, rec))
		recs = append(recs, rec)
	}

	// First script invocation on this client: the script cache is cold.
	require.NoError(t, store.RevokeAllForAccount(ctx, "acct-1"))

	for _, rec := range recs {
		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	}
}
