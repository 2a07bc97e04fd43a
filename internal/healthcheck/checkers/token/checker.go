// Package tokenchecker reports whether each outbound channel holds a usable credential.
package tokenchecker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/memohai/wechatbot/internal/accesstoken"
	"github.com/memohai/wechatbot/internal/healthcheck"
)

const checkTypeAccessToken = "channel.access_token"

// TokenState is the part of accesstoken.Cache the checker reads.
type TokenState interface {
	Peek() accesstoken.Token
	LastError() error
}

// Checker evaluates access token health per channel.
type Checker struct {
	logger *slog.Logger
	caches map[string]TokenState
	now    func() time.Time
}

// NewChecker creates a checker over caches keyed by channel type.
func NewChecker(log *slog.Logger, caches map[string]TokenState) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_token")),
		caches: caches,
		now:    time.Now,
	}
}

// ListChecks returns one check per channel, sorted by channel type.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	channels := make([]string, 0, len(c.caches))
	for ch := range c.caches {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	now := c.now()
	checks := make([]healthcheck.CheckResult, 0, len(channels))
	for _, ch := range channels {
		state := c.caches[ch]
		item := healthcheck.CheckResult{
			ID:       checkTypeAccessToken + "." + ch,
			Type:     checkTypeAccessToken,
			Status:   healthcheck.StatusUnknown,
			Summary:  "No access token fetched yet.",
			Metadata: map[string]any{"channel_type": ch},
		}
		tok := state.Peek()
		switch {
		case tok.Valid(now, 0):
			item.Status = healthcheck.StatusOK
			item.Summary = "Access token is valid."
			item.Metadata["expires_at"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
		case state.LastError() != nil:
			item.Status = healthcheck.StatusError
			item.Summary = "Access token refresh failed."
			item.Detail = state.LastError().Error()
		case tok.Value != "":
			item.Status = healthcheck.StatusWarn
			item.Summary = "Access token expired; it is refreshed on the next send."
		}
		checks = append(checks, item)
	}
	return checks
}
