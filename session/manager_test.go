package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyly/authcore/internal"
	"github.com/conveyly/authcore/token"
)

func newTestTokenManager() (*token.Manager, error) {
	return token.NewManager(token.Config{
		AccessTTL: 15 * time.Minute,
		Key:       []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "authcore-test",
	})
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *MemoryStore) {
	t.Helper()

	tokens, err := newTestTokenManager()
	require.NoError(t, err)

	store := NewMemoryStore()
	mgr, err := NewManager(store, tokens, cfg, nil)
	require.NoError(t, err)
	return mgr, store
}

func testIssueParams(accountID string) IssueParams {
	return IssueParams{
		AccountID: accountID,
		Email:     accountID + "@example.com",
		Role:      "user",
	}
}

func TestIssueAndRefreshRoundTrip(t *testing.T) {
	mgr, store := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 1, store.Len())

	next, err := mgr.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The new access token carries the original session ID.
	claims, err := mgr.tokens.Parse(next.AccessToken)
	require.NoError(t, err)
	first, err := mgr.tokens.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, claims.SessionID)
	assert.Equal(t, "acct-1", claims.AccountID)
	assert.Equal(t, "acct-1@example.com", claims.Email)
}

func TestRefreshIsSingleUse(t *testing.T) {
	mgr, _ := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)

	_, err = mgr.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = mgr.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	mgr, _ := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 10})
	ctx := context.Background()

	pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)

	const workers = 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := mgr.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if errors.Is(err, ErrTokenRevoked) {
				rejected++
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one goroutine should redeem the token")
	assert.Equal(t, workers-1, rejected, "all losers should see a revoked token")
}

func TestSessionCapEvictsOldest(t *testing.T) {
	mgr, store := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 3})
	ctx := context.Background()

	now := time.Now()
	mgr.now = func() time.Time { return now }

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
		require.NoError(t, err)
		pairs = append(pairs, pair)
	}

	live, err := store.LiveForAccount(ctx, "acct-1", now)
	require.NoError(t, err)
	require.Len(t, live, 3)

	// Fourth issue evicts the oldest session.
	now = now.Add(time.Second)
	_, err = mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)

	live, err = store.LiveForAccount(ctx, "acct-1", now)
	require.NoError(t, err)
	assert.Len(t, live, 3)

	_, err = mgr.Refresh(ctx, pairs[0].RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked, "oldest session should be revoked")

	_, err = mgr.Refresh(ctx, pairs[1].RefreshToken)
	assert.NoError(t, err, "second-oldest session should survive")
}

func TestConcurrentIssueRespectsCap(t *testing.T) {
	const maxSessions = 3
	mgr, store := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: maxSessions})
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := mgr.Issue(ctx, testIssueParams("acct-1"))
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	live, err := store.LiveForAccount(ctx, "acct-1", time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(live), maxSessions)
}

func TestRefreshErrorTaxonomy(t *testing.T) {
	mgr, store := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	t.Run("garbage token", func(t *testing.T) {
		_, err := mgr.Refresh(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("unknown record", func(t *testing.T) {
		pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, recordIDOf(t, pair.RefreshToken)))

		_, err = mgr.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("revoked record", func(t *testing.T) {
		pair, err := mgr.Issue(ctx, testIssueParams("acct-2"))
		require.NoError(t, err)
		require.NoError(t, mgr.Revoke(ctx, pair.RefreshToken))

		_, err = mgr.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("expired record", func(t *testing.T) {
		pair, err := mgr.Issue(ctx, testIssueParams("acct-3"))
		require.NoError(t, err)

		mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { mgr.now = time.Now }()

		_, err = mgr.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenExpired)

		// Expired rows are removed eagerly on redemption.
		_, err = store.Get(ctx, recordIDOf(t, pair.RefreshToken))
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestRevokeIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, mgr.Revoke(ctx, pair.RefreshToken))

	assert.ErrorIs(t, mgr.Revoke(ctx, "garbage"), ErrTokenInvalid)
}

func TestRevokeAll(t *testing.T) {
	mgr, _ := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
		require.NoError(t, err)
		pairs = append(pairs, pair)
	}
	other, err := mgr.Issue(ctx, testIssueParams("acct-2"))
	require.NoError(t, err)

	require.NoError(t, mgr.RevokeAll(ctx, "acct-1"))

	for _, pair := range pairs {
		_, err := mgr.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	}

	_, err = mgr.Refresh(ctx, other.RefreshToken)
	assert.NoError(t, err, "other accounts are unaffected")
}

func TestIsSessionLive(t *testing.T) {
	mgr, _ := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	pair, err := mgr.Issue(ctx, testIssueParams("acct-1"))
	require.NoError(t, err)

	claims, err := mgr.tokens.Parse(pair.AccessToken)
	require.NoError(t, err)

	live, err := mgr.IsSessionLive(ctx, "acct-1", claims.SessionID)
	require.NoError(t, err)
	assert.True(t, live)

	require.NoError(t, mgr.RevokeAll(ctx, "acct-1"))

	live, err = mgr.IsSessionLive(ctx, "acct-1", claims.SessionID)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestSweepRemovesExpired(t *testing.T) {
	mgr, store := newTestManager(t, Config{RefreshTTL: time.Hour, MaxPerAccount: 5})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := mgr.Issue(ctx, testIssueParams(fmt.Sprintf("acct-%d", i)))
		require.NoError(t, err)
	}
	require.Equal(t, 4, store.Len())

	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	removed, err := mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.Equal(t, 0, store.Len())
}

func recordIDOf(t *testing.T, refreshToken string) string {
	t.Helper()
	id, _, err := internal.DecodeRefreshToken(refreshToken)
	require.NoError(t, err)
	return id
}
