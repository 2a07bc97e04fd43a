// Package accesstoken caches the platform-issued bearer credential used by outbound APIs.
package accesstoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMargin is how long before expiry a token is treated as expired.
	DefaultMargin = 60 * time.Second
	// DefaultTTL is used when the platform omits expires_in.
	DefaultTTL = 7200 * time.Second
)

// ErrCredential wraps every failure to obtain a token.
var ErrCredential = errors.New("access token unavailable")

// Token is a bearer credential and its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether t can still be used at now, keeping margin in reserve.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// Fetcher obtains a fresh token from the platform's token-issuing endpoint.
type Fetcher interface {
	Fetch(ctx context.Context) (value string, ttl time.Duration, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (string, time.Duration, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (string, time.Duration, error) {
	return f(ctx)
}

// Option configures a Cache.
type Option func(*Cache)

// WithMargin sets the safety margin before expiry.
func WithMargin(margin time.Duration) Option {
	return func(c *Cache) { c.margin = margin }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithObserver registers a callback invoked after every fetch attempt.
func WithObserver(fn func(err error)) Option {
	return func(c *Cache) { c.observe = fn }
}

// Cache holds one token. Readers of a valid token only take a read lock;
// refreshes are collapsed into a single in-flight fetch.
type Cache struct {
	fetcher Fetcher
	margin  time.Duration
	now     func() time.Time
	logger  *slog.Logger
	observe func(err error)

	mu      sync.RWMutex
	token   Token
	lastErr error
	group   singleflight.Group
}

// New creates a Cache around fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		margin:  DefaultMargin,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "access_token"))
	return c
}

// Get returns a valid token, refreshing it when missing or inside the margin.
// On failure it returns the zero Token and an error wrapping ErrCredential.
func (c *Cache) Get(ctx context.Context) (Token, error) {
	if tok, ok := c.current(); ok {
		return tok, nil
	}
	v, err, _ := c.group.Do("token", func() (any, error) {
		if tok, ok := c.current(); ok {
			return tok, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token so the next Get fetches a new one.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

// Peek returns the cached token without refreshing it.
func (c *Cache) Peek() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// LastError returns the error of the most recent fetch, or nil after a success.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Cache) current() (Token, bool) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	return tok, tok.Valid(c.now(), c.margin)
}

func (c *Cache) refresh(ctx context.Context) (Token, error) {
	if c.fetcher == nil {
		return Token{}, fmt.Errorf("%w: no fetcher configured", ErrCredential)
	}
	now := c.now()
	value, ttl, err := c.fetcher.Fetch(ctx)
	if err == nil && value == "" {
		err = errors.New("empty token in response")
	}
	if c.observe != nil {
		c.observe(err)
	}
	if err != nil {
		c.logger.Warn("access token refresh failed", slog.Any("error", err))
		err = fmt.Errorf("%w: %w", ErrCredential, err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return Token{}, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tok := Token{Value: value, ExpiresAt: now.Add(ttl)}
	c.mu.Lock()
	c.token = tok
	c.lastErr = nil
	c.mu.Unlock()
	c.logger.Info("access token refreshed", slog.Duration("ttl", ttl))
	return tok, nil
}
