package wecom

import (
	"context"
	"errors"
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

var errForbidden = errors.New("forbidden")

// WebhookHandler receives enterprise agent callbacks in encrypted mode.
type WebhookHandler struct {
	logger     *slog.Logger
	verifier   *wxcrypto.Verifier
	cipher     *wxcrypto.Cipher
	dispatcher inboundDispatcher
	path       string
	opts       dispatch.InboundOptions
}

// NewWebhookHandler creates the callback handler for cfg. It fails when the
// encoding key cannot be used.
func NewWebhookHandler(log *slog.Logger, cfg Config, dispatcher inboundDispatcher) (*WebhookHandler, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	cipher, err := wxcrypto.NewCipher(cfg.EncodingAESKey, cfg.CorpID)
	if err != nil {
		return nil, fmt.Errorf("wecom: %w", err)
	}
	return &WebhookHandler{
		logger:     log.With(slog.String("handler", "wecom_webhook")),
		verifier:   wxcrypto.NewVerifier(cfg.Token),
		cipher:     cipher,
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

// HandleChallenge verifies the URL check request and answers with the decrypted echostr.
func (h *WebhookHandler) HandleChallenge(c echo.Context) error {
	plain, err := h.open(c, c.QueryParam("echostr"))
	if err != nil {
		h.logger.Warn("challenge rejected", slog.String("remote_ip", c.RealIP()), slog.Any("error", err))
		observe("challenge", "forbidden")
		return c.String(http.StatusForbidden, errForbidden.Error())
	}
	observe("challenge", "ok")
	return c.Blob(http.StatusOK, mimeTextPlainUTF8, []byte(plain))
}

// Handle authenticates and decrypts a delivery, hands it to the dispatcher and acks at once.
func (h *WebhookHandler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}

	env, err := wxcrypto.OpenXML(payload)
	if err != nil {
		h.logger.Warn("delivery without envelope", slog.String("remote_ip", c.RealIP()), slog.Any("error", err))
		observe("delivery", "forbidden")
		return c.String(http.StatusForbidden, errForbidden.Error())
	}
	plain, err := h.open(c, env.Encrypt)
	if err != nil {
		h.logger.Warn("delivery rejected", slog.String("remote_ip", c.RealIP()), slog.Any("error", err))
		observe("delivery", "forbidden")
		return c.String(http.StatusForbidden, errForbidden.Error())
	}

	msg, err := channel.ParseMessageXML(channel.ChannelWeCom, []byte(plain))
	if err != nil {
		h.logger.Warn("unparsable delivery acked", slog.Any("error", err))
		observe("delivery", "unparsable")
		return h.ack(c)
	}
	if msg.AgentID == "" {
		msg.AgentID = env.AgentID
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

// open checks msg_signature over encrypted and only then decrypts it.
func (h *WebhookHandler) open(c echo.Context, encrypted string) (string, error) {
	if encrypted == "" {
		return "", wxcrypto.ErrInvalidEnvelope
	}
	if !h.verifier.Verify(c.QueryParam("msg_signature"), c.QueryParam("timestamp"), c.QueryParam("nonce"), encrypted) {
		return "", wxcrypto.ErrSignatureMismatch
	}
	return h.cipher.Decrypt(encrypted)
}

func (h *WebhookHandler) ack(c echo.Context) error {
	return c.Blob(http.StatusOK, mimeTextPlainUTF8, []byte(ackBody))
}

func observe(phase, result string) {
	metrics.CallbackRequests.WithLabelValues(channel.ChannelWeCom.String(), phase, result).Inc()
}
