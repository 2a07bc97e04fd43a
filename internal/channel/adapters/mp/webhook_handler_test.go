package mp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wechatbot/internal/channel"
	"github.com/memohai/wechatbot/internal/dispatch"
	"github.com/memohai/wechatbot/internal/wxcrypto"
)

const testToken = "qingqing_bot_token"

type captureDispatcher struct {
	mu   sync.Mutex
	msgs []channel.IncomingMessage
	opts []dispatch.InboundOptions
	err  error
}

func (d *captureDispatcher) HandleInbound(_ context.Context, msg channel.IncomingMessage, opts dispatch.InboundOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	d.opts = append(d.opts, opts)
	return d.err
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

func newTestServer(t *testing.T, dispatcher inboundDispatcher) *echo.Echo {
	t.Helper()
	h, err := NewWebhookHandler(nil, Config{Token: testToken, FillerOnMedia: true}, dispatcher)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	e := echo.New()
	h.Register(e)
	return e
}

func signedQuery(extra url.Values) string {
	q := url.Values{}
	q.Set("timestamp", "1700000000")
	q.Set("nonce", "n42")
	q.Set("signature", wxcrypto.NewVerifier(testToken).Sign("1700000000", "n42", ""))
	for k, v := range extra {
		q[k] = v
	}
	return q.Encode()
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewWebhookHandlerRequiresToken(t *testing.T) {
	if _, err := NewWebhookHandler(nil, Config{}, &captureDispatcher{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestChallengeEchoesEchostr(t *testing.T) {
	e := newTestServer(t, &captureDispatcher{})
	rec := serve(e, http.MethodGet, DefaultCallbackPath+"?"+signedQuery(url.Values{"echostr": {"abc123"}}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "abc123" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestChallengeRejectsBadSignature(t *testing.T) {
	e := newTestServer(t, &captureDispatcher{})
	q := url.Values{"timestamp": {"1700000000"}, "nonce": {"n42"}, "signature": {"deadbeef"}, "echostr": {"abc123"}}
	rec := serve(e, http.MethodGet, DefaultCallbackPath+"?"+q.Encode(), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "abc123") {
		t.Fatalf("echostr leaked on bad signature: %q", rec.Body.String())
	}
}

func TestDeliveryRejectsBadSignature(t *testing.T) {
	d := &captureDispatcher{}
	e := newTestServer(t, d)
	body := `<xml><FromUserName><![CDATA[oUser]]></FromUserName><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[hi]]></Content></xml>`
	rec := serve(e, http.MethodPost, DefaultCallbackPath+"?timestamp=1&nonce=2&signature=bad", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if d.count() != 0 {
		t.Fatalf("dispatcher should not be called")
	}
}

func TestDeliveryDispatchesText(t *testing.T) {
	d := &captureDispatcher{}
	e := newTestServer(t, d)
	body := `<xml><ToUserName><![CDATA[gh_1]]></ToUserName><FromUserName><![CDATA[oUser]]></FromUserName><CreateTime>1700000000</CreateTime><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[你好]]></Content><MsgId>123</MsgId></xml>`
	rec := serve(e, http.MethodPost, DefaultCallbackPath+"?"+signedQuery(nil), body)
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
	if d.count() != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", d.count())
	}
	msg := d.msgs[0]
	if msg.Channel != channel.ChannelMP || msg.ConversationID != "oUser" || msg.Kind != channel.KindText || msg.Text != "你好" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !d.opts[0].FillerOnMedia {
		t.Fatalf("expected filler on media to be forwarded")
	}
}

func TestDeliveryAcksUnparsableBody(t *testing.T) {
	d := &captureDispatcher{}
	e := newTestServer(t, d)
	rec := serve(e, http.MethodPost, DefaultCallbackPath+"?"+signedQuery(nil), "not xml at all")
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
	if d.count() != 0 {
		t.Fatalf("dispatcher should not be called")
	}
}

func TestDeliveryAcksWhenQueueFull(t *testing.T) {
	d := &captureDispatcher{err: dispatch.ErrQueueFull}
	e := newTestServer(t, d)
	body := `<xml><FromUserName><![CDATA[oUser]]></FromUserName><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[hi]]></Content></xml>`
	rec := serve(e, http.MethodPost, DefaultCallbackPath+"?"+signedQuery(nil), body)
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestDeliveryRejectsOversizedBody(t *testing.T) {
	e := newTestServer(t, &captureDispatcher{})
	body := strings.Repeat("a", int(webhookMaxBodyBytes)+1)
	rec := serve(e, http.MethodPost, DefaultCallbackPath+"?"+signedQuery(nil), body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

type noGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *noGenerator) Reply(context.Context, string, string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return "should not happen", nil
}

func (g *noGenerator) Clear(string) {}

func TestImageGetsOneFillerWithoutGeneration(t *testing.T) {
	replier := &noGenerator{}
	sent := make(chan string, 4)
	senders := channel.NewRegistry()
	senders.MustRegister(channel.ChannelMP, channel.SenderFunc(func(_ context.Context, to, content string) error {
		sent <- to + "|" + content
		return nil
	}))
	dispatcher := dispatch.New(nil, replier, nil, senders, dispatch.Config{Workers: 1, ChunkDelay: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer func() { _ = dispatcher.Shutdown(context.Background()) }()

	e := newTestServer(t, dispatcher)
	body := `<xml><FromUserName><![CDATA[oUser]]></FromUserName><MsgType><![CDATA[image]]></MsgType><PicUrl><![CDATA[http://x/y.jpg]]></PicUrl></xml>`
	rec := serve(e, http.MethodPost, DefaultCallbackPath+"?"+signedQuery(nil), body)
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}

	select {
	case got := <-sent:
		to, content, _ := strings.Cut(got, "|")
		if to != "oUser" {
			t.Fatalf("unexpected recipient: %q", to)
		}
		found := false
		for _, filler := range dispatch.FillerReplies {
			if content == filler {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected a filler reply, got %q", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filler")
	}
	select {
	case extra := <-sent:
		t.Fatalf("unexpected extra send: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
	replier.mu.Lock()
	defer replier.mu.Unlock()
	if replier.calls != 0 {
		t.Fatalf("generator should not be called, got %d calls", replier.calls)
	}
}
