// Package wecom implements the encrypted callback channel of an enterprise agent.
package wecom

import (
	"errors"
	"strings"
)

// DefaultCallbackPath is where the enterprise agent posts deliveries by default.
const DefaultCallbackPath = "/wecom/callback"

// Config is what the callback handler needs from the enterprise agent settings.
type Config struct {
	CorpID         string
	Token          string
	EncodingAESKey string
	CallbackPath   string
	FillerOnMedia  bool
}

func (c Config) normalize() (Config, error) {
	c.CorpID = strings.TrimSpace(c.CorpID)
	c.Token = strings.TrimSpace(c.Token)
	c.EncodingAESKey = strings.TrimSpace(c.EncodingAESKey)
	c.CallbackPath = strings.TrimSpace(c.CallbackPath)
	if c.CorpID == "" {
		return c, errors.New("wecom: corp id is required")
	}
	if c.Token == "" {
		return c, errors.New("wecom: token is required")
	}
	if c.CallbackPath == "" {
		c.CallbackPath = DefaultCallbackPath
	}
	return c, nil
}
