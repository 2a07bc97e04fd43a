package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// PersonaInfo names the bot reported by /health.
type PersonaInfo interface {
	Name() string
}

type PingHandler struct {
	logger  *slog.Logger
	persona PersonaInfo
}

func NewPingHandler(log *slog.Logger, persona PersonaInfo) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{logger: log.With(slog.String("handler", "ping")), persona: persona}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health reports liveness together with the persona's name.
func (h *PingHandler) Health(c echo.Context) error {
	name := ""
	if h.persona != nil {
		name = h.persona.Name()
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"bot":    name,
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
