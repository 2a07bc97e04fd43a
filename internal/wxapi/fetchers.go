package wxapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type tokenResponse struct {
	apiStatus
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (r tokenResponse) result() (string, time.Duration, error) {
	if err := r.err(); err != nil {
		return "", 0, err
	}
	return r.AccessToken, time.Duration(r.ExpiresIn) * time.Second, nil
}

// WeComTokenFetcher issues tokens for a WeCom self-built app.
type WeComTokenFetcher struct {
	BaseURL    string
	CorpID     string
	CorpSecret string
	HTTP       *http.Client
}

// Fetch implements accesstoken.Fetcher.
func (f WeComTokenFetcher) Fetch(ctx context.Context) (string, time.Duration, error) {
	var resp tokenResponse
	query := url.Values{"corpid": {f.CorpID}, "corpsecret": {f.CorpSecret}}
	if err := getJSON(ctx, f.HTTP, baseOr(f.BaseURL, WeComBaseURL)+"/cgi-bin/gettoken", query, &resp); err != nil {
		return "", 0, err
	}
	return resp.result()
}

// MPTokenFetcher issues tokens for an official account.
type MPTokenFetcher struct {
	BaseURL   string
	AppID     string
	AppSecret string
	HTTP      *http.Client
}

// Fetch implements accesstoken.Fetcher.
func (f MPTokenFetcher) Fetch(ctx context.Context) (string, time.Duration, error) {
	var resp tokenResponse
	query := url.Values{"grant_type": {"client_credential"}, "appid": {f.AppID}, "secret": {f.AppSecret}}
	if err := getJSON(ctx, f.HTTP, baseOr(f.BaseURL, MPBaseURL)+"/cgi-bin/token", query, &resp); err != nil {
		return "", 0, err
	}
	return resp.result()
}

func baseOr(base, fallback string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return fallback
	}
	return base
}
