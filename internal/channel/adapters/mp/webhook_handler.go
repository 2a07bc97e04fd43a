package mp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wechatbot/internal/channel"
	"github.com/memohai/wechatbot/internal/dispatch"
	"github.com/memohai/wechatbot/internal/metrics"
	"github.com/memohai/wechatbot/internal/wxcrypto"
)

type inboundDispatcher interface {
	HandleInbound(ctx context.Context, msg channel.IncomingMessage, opts dispatch.InboundOptions) error
}

const (
	webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

	mimeTextPlainUTF8 = "text/plain; charset=utf-8"
	ackBody           = "success"
)

// WebhookHandler receives official account callbacks in plaintext mode.
type WebhookHandler struct {
	logger     *slog.Logger
	verifier   *wxcrypto.Verifier
	dispatcher inboundDispatcher
	path       string
	opts       dispatch.InboundOptions
}

// NewWebhookHandler creates the callback handler for cfg.
func NewWebhookHandler(log *slog.Logger, cfg Config, dispatcher inboundDispatcher) (*WebhookHandler, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &WebhookHandler{
		logger:     log.With(slog.String("handler", "mp_webhook")),
		verifier:   wxcrypto.NewVerifier(cfg.Token),
		dispatcher: dispatcher,
		path:       cfg.CallbackPath,
		opts:       dispatch.InboundOptions{FillerOnMedia: cfg.FillerOnMedia},
	}, nil
}

// Register registers the callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET(h.path, h.HandleChallenge)
	e.POST(h.path, h.Handle)
}

// HandleChallenge answers the URL verification request by echoing echostr.
func (h *WebhookHandler) HandleChallenge(c echo.Context) error {
	if !h.verify(c) {
		h.logger.Warn("challenge signature mismatch", slog.String("remote_ip", c.RealIP()))
		observe("challenge", "forbidden")
		return c.String(http.StatusForbidden, wxcrypto.ErrSignatureMismatch.Error())
	}
	observe("challenge", "ok")
	return c.Blob(http.StatusOK, mimeTextPlainUTF8, []byte(c.QueryParam("echostr")))
}

// Handle verifies a delivery, hands the message to the dispatcher and acks at once.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if !h.verify(c) {
		h.logger.Warn("delivery signature mismatch", slog.String("remote_ip", c.RealIP()))
		observe("delivery", "forbidden")
		return c.String(http.StatusForbidden, wxcrypto.ErrSignatureMismatch.Error())
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}

	msg, err := channel.ParseMessageXML(channel.ChannelMP, payload)
	if err != nil {
		h.logger.Warn("unparsable delivery acked", slog.Any("error", err))
		observe("delivery", "unparsable")
		return h.ack(c)
	}
	h.logger.Info("message received",
		slog.String("conversation_id", msg.ConversationID),
		slog.String("kind", msg.Kind.String()),
		slog.String("msg_id", msg.MessageID),
	)
	if err := h.dispatcher.HandleInbound(context.WithoutCancel(c.Request().Context()), msg, h.opts); err != nil {
		h.logger.Warn("message not dispatched", slog.String("conversation_id", msg.ConversationID), slog.Any("error", err))
		observe("delivery", "dropped")
		return h.ack(c)
	}
	observe("delivery", "ok")
	return h.ack(c)
}

func (h *WebhookHandler) verify(c echo.Context) bool {
	return h.verifier.Verify(c.QueryParam("signature"), c.QueryParam("timestamp"), c.QueryParam("nonce"), "")
}

func (h *WebhookHandler) ack(c echo.Context) error {
	return c.Blob(http.StatusOK, mimeTextPlainUTF8, []byte(ackBody))
}

func observe(phase, result string) {
	metrics.CallbackRequests.WithLabelValues(channel.ChannelMP.String(), phase, result).Inc()
}
