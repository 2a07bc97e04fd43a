// Package wxapi calls the platform's server-side HTTP APIs (token issue and message send).
package wxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/memohai/wechatbot/internal/accesstoken"
)

const (
	// WeComBaseURL is the WeCom server API root.
	WeComBaseURL = "https://qyapi.weixin.qq.com"
	// MPBaseURL is the official account server API root.
	MPBaseURL = "https://api.weixin.qq.com"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// APIError is a non-zero errcode returned by the platform.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("errcode %d: %s", e.Code, e.Message)
}

// TokenExpired reports whether the platform rejected the access token itself.
func (e *APIError) TokenExpired() bool {
	switch e.Code {
	case 40001, 40014, 42001:
		return true
	}
	return false
}

type apiStatus struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s apiStatus) err() error {
	if s.ErrCode == 0 {
		return nil
	}
	return &APIError{Code: s.ErrCode, Message: s.ErrMsg}
}

// Client posts authenticated JSON to one platform.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *accesstoken.Cache
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outbound calls at qps requests per second. qps <= 0 disables the cap.
func WithRateLimit(qps float64) ClientOption {
	return func(c *Client) {
		if qps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

// NewClient creates a client for baseURL authenticated by tokens.
func NewClient(baseURL string, tokens *accesstoken.Cache, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "wxapi"))
	return c
}

// HTTPClient returns the underlying HTTP client, shared with token fetchers.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Tokens returns the access token cache backing the client.
func (c *Client) Tokens() *accesstoken.Cache {
	return c.tokens
}

// PostJSON sends payload to path with the current access token and checks errcode.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) error {
	if c.tokens == nil {
		return errors.New("wxapi: access token cache not configured")
	}
	tok, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	endpoint := c.baseURL + path + "?" + url.Values{"access_token": {tok.Value}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var status apiStatus
	if err := doJSON(c.http, req, &status); err != nil {
		return err
	}
	if err := status.err(); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.TokenExpired() {
			c.logger.Warn("access token rejected by platform", slog.Int("errcode", apiErr.Code))
			c.tokens.Invalidate()
		}
		return err
	}
	return nil
}

func getJSON(ctx context.Context, hc *http.Client, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return doJSON(hc, req, out)
}

func doJSON(hc *http.Client, req *http.Request, out any) error {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: http %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
