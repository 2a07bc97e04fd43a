package accesstoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingFetcher struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error
	gate  chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context) (string, time.Duration, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", 0, f.err
	}
	return fmt.Sprintf("token-%d", n), f.ttl, nil
}

func TestCacheRefreshBoundary(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{ttl: 150 * time.Second}
	cache := New(fetcher, WithClock(clock.Now))

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok.Value)
	assert.Equal(t, clock.Now().Add(150*time.Second), tok.ExpiresAt)

	// 120s left: outside the 60s margin, no refresh.
	clock.Advance(30 * time.Second)
	tok, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok.Value)
	assert.EqualValues(t, 1, fetcher.calls.Load())

	// 30s left: inside the margin, refresh.
	clock.Advance(90 * time.Second)
	tok, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok.Value)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestCacheDefaultTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cache := New(&countingFetcher{}, WithClock(clock.Now))
	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultTTL), tok.ExpiresAt)
}

func TestCacheFailureReturnsEmptyToken(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{err: errors.New("errcode 40013: invalid corpid")}
	var observed []error
	cache := New(fetcher, WithObserver(func(err error) { observed = append(observed, err) }))

	tok, err := cache.Get(context.Background())
	assert.ErrorIs(t, err, ErrCredential)
	assert.Empty(t, tok.Value)
	assert.Empty(t, cache.Peek().Value)
	require.Len(t, observed, 1)
	assert.Error(t, observed[0])

	assert.ErrorIs(t, cache.LastError(), ErrCredential)

	// Still expired: the next call tries again.
	_, err = cache.Get(context.Background())
	assert.ErrorIs(t, err, ErrCredential)
	assert.EqualValues(t, 2, fetcher.calls.Load())

	fetcher.err = nil
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.NoError(t, cache.LastError())
}

func TestCacheEmptyValueIsFailure(t *testing.T) {
	t.Parallel()

	cache := New(FetcherFunc(func(ctx context.Context) (string, time.Duration, error) {
		return "", time.Hour, nil
	}))
	_, err := cache.Get(context.Background())
	assert.ErrorIs(t, err, ErrCredential)
}

func TestCacheConcurrentRefreshFetchesOnce(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{ttl: time.Hour, gate: make(chan struct{})}
	cache := New(fetcher)

	const callers = 32
	var wg sync.WaitGroup
	results := make([]Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background())
		}(i)
	}
	// Let the callers pile up behind the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	assert.EqualValues(t, 1, fetcher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", results[i].Value)
	}
}

func TestCacheInvalidate(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{ttl: time.Hour}
	cache := New(fetcher)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok.Value)
}

func TestTokenValid(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	assert.False(t, Token{}.Valid(now, DefaultMargin))
	assert.True(t, Token{Value: "t", ExpiresAt: now.Add(120 * time.Second)}.Valid(now, DefaultMargin))
	assert.False(t, Token{Value: "t", ExpiresAt: now.Add(30 * time.Second)}.Valid(now, DefaultMargin))
	assert.False(t, Token{Value: "t", ExpiresAt: now.Add(60 * time.Second)}.Valid(now, DefaultMargin))
}
