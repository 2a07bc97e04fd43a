// Package dispatchchecker reports whether reply workers run and have queue headroom.
package dispatchchecker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memohai/wechatbot/internal/dispatch"
	"github.com/memohai/wechatbot/internal/healthcheck"
)

const (
	checkTypeDispatchQueue = "dispatch.queue"

	// warnRatio is the queue fill level reported as a warning.
	warnRatio = 0.8
)

// StatsSource reads the worker pool snapshot.
type StatsSource interface {
	Stats() dispatch.Stats
}

// Checker evaluates dispatcher health.
type Checker struct {
	logger *slog.Logger
	source StatsSource
}

// NewChecker creates a dispatcher health checker.
func NewChecker(log *slog.Logger, source StatsSource) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_dispatch")),
		source: source,
	}
}

// ListChecks returns the queue check.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.source == nil {
		c.logger.Warn("dispatch healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeDispatchQueue,
			Type:    checkTypeDispatchQueue,
			Status:  healthcheck.StatusWarn,
			Summary: "Dispatcher is not available.",
		}}
	}
	stats := c.source.Stats()
	item := healthcheck.CheckResult{
		ID:      checkTypeDispatchQueue,
		Type:    checkTypeDispatchQueue,
		Status:  healthcheck.StatusOK,
		Summary: fmt.Sprintf("%d of %d queue slots used.", stats.Queued, stats.Capacity),
		Metadata: map[string]any{
			"workers":  stats.Workers,
			"queued":   stats.Queued,
			"capacity": stats.Capacity,
		},
	}
	switch {
	case !stats.Running:
		item.Status = healthcheck.StatusError
		item.Summary = "Reply workers are not running."
	case stats.Capacity > 0 && stats.Queued >= stats.Capacity:
		item.Status = healthcheck.StatusError
		item.Detail = "queue full; new messages are dropped"
	case stats.Capacity > 0 && float64(stats.Queued) >= warnRatio*float64(stats.Capacity):
		item.Status = healthcheck.StatusWarn
	}
	return []healthcheck.CheckResult{item}
}
