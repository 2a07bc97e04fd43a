package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/memohai/wechatbot/internal/auth"
)

const defaultChatUserID = "test"

// Conversations is the dispatcher surface used by the direct chat API.
type Conversations interface {
	Converse(ctx context.Context, conversationID, text string) (string, []string, error)
	ClearHistory(conversationID string)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
	UserID  string `json:"user_id" validate:"max=128"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Reply     string   `json:"reply"`
	Lines     []string `json:"lines"`
	UserID    string   `json:"user_id"`
	LatencyMS int64    `json:"latency_ms"`
}

// ClearRequest is the body of POST /api/clear.
type ClearRequest struct {
	UserID string `json:"user_id" validate:"max=128"`
}

// ClearResponse is the body returned by POST /api/clear.
type ClearResponse struct {
	Status  string `json:"status"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

var requestValidate = validator.New()

// ChatHandler exposes the dispatcher over HTTP for scripted and load testing,
// bypassing the platform callbacks.
type ChatHandler struct {
	logger        *slog.Logger
	conversations Conversations
}

func NewChatHandler(log *slog.Logger, conversations Conversations) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{
		logger:        log.With(slog.String("handler", "chat")),
		conversations: conversations,
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	group := e.Group("/api")
	group.POST("/chat", h.Chat)
	group.POST("/clear", h.Clear)
}

// Chat generates one reply under the user's conversation lock and returns it.
func (h *ChatHandler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Message = strings.TrimSpace(req.Message)
	req.UserID = userIDOrDefault(c, req.UserID)
	if err := requestValidate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Message" && verrs[0].Tag() == "required" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "message 不能为空"})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	reply, lines, err := h.conversations.Converse(c.Request().Context(), req.UserID, req.Message)
	latency := time.Since(start)
	if err != nil {
		h.logger.Warn("direct chat failed", slog.String("user_id", req.UserID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "reply generation failed")
	}
	h.logger.Info("direct chat",
		slog.String("user_id", req.UserID),
		slog.Int("lines", len(lines)),
		slog.Duration("latency", latency),
	)
	if lines == nil {
		lines = []string{}
	}
	return c.JSON(http.StatusOK, ChatResponse{
		Reply:     reply,
		Lines:     lines,
		UserID:    req.UserID,
		LatencyMS: latency.Milliseconds(),
	})
}

// Clear wipes the history of one user.
func (h *ChatHandler) Clear(c echo.Context) error {
	var req ClearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.UserID = userIDOrDefault(c, req.UserID)
	if err := requestValidate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.conversations.ClearHistory(req.UserID)
	return c.JSON(http.StatusOK, ClearResponse{
		Status:  "ok",
		UserID:  req.UserID,
		Message: "历史已清除",
	})
}

// userIDOrDefault prefers the body's user_id, then the token's user, then "test".
func userIDOrDefault(c echo.Context, userID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return userID
	}
	if tokenUser, ok := auth.TokenUser(c); ok {
		return tokenUser
	}
	return defaultChatUserID
}
