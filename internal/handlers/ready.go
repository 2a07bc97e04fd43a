package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wechatbot/internal/healthcheck"
)

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

// ReadyHandler reports readiness from runtime checkers. Warnings stay 200; any
// failed check answers 503.
type ReadyHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewReadyHandler(log *slog.Logger, checkers ...healthcheck.Checker) *ReadyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ReadyHandler{logger: log.With(slog.String("handler", "ready")), checkers: checkers}
}

func (h *ReadyHandler) Register(e *echo.Echo) {
	e.GET("/ready", h.Ready)
}

func (h *ReadyHandler) Ready(c echo.Context) error {
	checks := healthcheck.Run(c.Request().Context(), h.checkers...)
	resp := ReadyResponse{Status: healthcheck.Overall(checks), Checks: checks}
	code := http.StatusOK
	if resp.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
		h.logger.Warn("not ready", slog.Int("checks", len(checks)))
	}
	return c.JSON(code, resp)
}
