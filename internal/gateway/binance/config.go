package binance

import (
	"strings"
	"time"
)

type Config struct {
	APIKey    string
	APISecret string

	RESTBaseURL string
	HTTPTimeout time.Duration

	// SubmitTimeout bounds a single order submission round-trip. Past it the
	// order outcome is unknown and must be reconciled.
	SubmitTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.SubmitTimeout <= 0 {
		out.SubmitTimeout = 5 * time.Second
	}
	return out
}
