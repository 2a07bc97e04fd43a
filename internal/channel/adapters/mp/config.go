// Package mp implements the plaintext callback channel of an official account.
package mp

import (
	"errors"
	"strings"
)

// DefaultCallbackPath is where the official account posts deliveries by default.
const DefaultCallbackPath = "/wx/callback"

// Config is what the callback handler needs from the official account settings.
type Config struct {
	Token         string
	CallbackPath  string
	FillerOnMedia bool
}

func (c Config) normalize() (Config, error) {
	c.Token = strings.TrimSpace(c.Token)
	if c.Token == "" {
		return c, errors.New("mp: token is required")
	}
	c.CallbackPath = strings.TrimSpace(c.CallbackPath)
	if c.CallbackPath == "" {
		c.CallbackPath = DefaultCallbackPath
	}
	return c, nil
}
