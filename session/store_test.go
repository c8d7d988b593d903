package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyly/authcore/internal"
)

func newRecordID(t *testing.T) string {
	t.Helper()
	return uuid.NewString()
}

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	newRecord := func(accountID string, createdAt time.Time) *Record {
		secret, err := internal.NewSecret()
		require.NoError(t, err)
		sid, err := internal.NewSessionID()
		require.NoError(t, err)
		return &Record{
			ID:         newRecordID(t),
			AccountID:  accountID,
			SessionID:  sid,
			SecretHash: internal.HashSecret(secret),
			Email:      accountID + "@example.com",
			Role:       "user",
			CreatedAt:  createdAt,
			ExpiresAt:  createdAt.Add(time.Hour),
		}
	}

	t.Run("insert and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("acct-1", time.Now())
		require.NoError(t, store.Insert(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.AccountID, got.AccountID)
		assert.Equal(t, rec.SessionID, got.SessionID)
		assert.Equal(t, rec.SecretHash, got.SecretHash)
		assert.Equal(t, rec.Email, got.Email)
		assert.False(t, got.Revoked)

		_, err = store.Get(ctx, newRecordID(t))
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("revoke if active wins once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("acct-1", time.Now())
		require.NoError(t, store.Insert(ctx, rec))

		won, err := store.RevokeIfActive(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.RevokeIfActive(ctx, rec.ID)
		require.NoError(t, err)
		assert.False(t, won)

		_, err = store.RevokeIfActive(ctx, newRecordID(t))
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("acct-1", time.Now())
		require.NoError(t, store.Insert(ctx, rec))

		require.NoError(t, store.Revoke(ctx, rec.ID))
		require.NoError(t, store.Revoke(ctx, rec.ID))
		require.NoError(t, store.Revoke(ctx, newRecordID(t)))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	})

	t.Run("revoke all for account", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now()

		a1 := newRecord("acct-1", now)
		a2 := newRecord("acct-1", now)
		b1 := newRecord("acct-2", now)
		for _, rec := range []*Record{a1, a2, b1} {
			require.NoError(t, store.Insert(ctx, rec))
		}

		require.NoError(t, store.RevokeAllForAccount(ctx, "acct-1"))

		live, err := store.LiveForAccount(ctx, "acct-1", now)
		require.NoError(t, err)
		assert.Empty(t, live)

		live, err = store.LiveForAccount(ctx, "acct-2", now)
		require.NoError(t, err)
		assert.Len(t, live, 1)
	})

	t.Run("live for account is oldest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		base := time.Now().Truncate(time.Millisecond)

		third := newRecord("acct-1", base.Add(2*time.Second))
		first := newRecord("acct-1", base)
		second := newRecord("acct-1", base.Add(time.Second))
		for _, rec := range []*Record{third, first, second} {
			require.NoError(t, store.Insert(ctx, rec))
		}

		// Revoked and expired records are excluded.
		revoked := newRecord("acct-1", base)
		revoked.Revoked = true
		require.NoError(t, store.Insert(ctx, revoked))
		expiring := newRecord("acct-1", base)
		expiring.ExpiresAt = base.Add(2 * time.Second)
		require.NoError(t, store.Insert(ctx, expiring))

		live, err := store.LiveForAccount(ctx, "acct-1", base.Add(3*time.Second))
		require.NoError(t, err)
		require.Len(t, live, 3)
		assert.Equal(t, first.ID, live[0].ID)
		assert.Equal(t, second.ID, live[1].ID)
		assert.Equal(t, third.ID, live[2].ID)
	})

	t.Run("has live session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now()

		rec := newRecord("acct-1", now)
		require.NoError(t, store.Insert(ctx, rec))

		ok, err := store.HasLiveSession(ctx, "acct-1", rec.SessionID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.HasLiveSession(ctx, "acct-1", "other-session", now)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.Revoke(ctx, rec.ID))
		ok, err = store.HasLiveSession(ctx, "acct-1", rec.SessionID, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("acct-1", time.Now())
		require.NoError(t, store.Insert(ctx, rec))
		require.NoError(t, store.Delete(ctx, rec.ID))
		require.NoError(t, store.Delete(ctx, rec.ID))

		_, err := store.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}
