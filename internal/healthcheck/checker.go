// Package healthcheck collects readiness checks reported by GET /ready.
package healthcheck

import "context"

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Overall folds results into one status: error beats warn beats ok. Unknown
// results count as warn. No results is ok.
func Overall(results []CheckResult) string {
	overall := StatusOK
	for _, r := range results {
		switch r.Status {
		case StatusError:
			return StatusError
		case StatusWarn, StatusUnknown:
			overall = StatusWarn
		}
	}
	return overall
}

// Run evaluates every checker in order.
func Run(ctx context.Context, checkers ...Checker) []CheckResult {
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		if c == nil {
			continue
		}
		results = append(results, c.ListChecks(ctx)...)
	}
	return results
}
