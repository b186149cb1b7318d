package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Realtime.WSURL == "" {
		return errors.New("realtime.ws_url is required")
	}
	if err := validateWSURL(c.Realtime.WSURL); err != nil {
		return err
	}
	if c.Realtime.ReconnectMaxDelay < c.Realtime.ReconnectBaseDelay {
		return fmt.Errorf("realtime.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)",
			c.Realtime.ReconnectMaxDelay, c.Realtime.ReconnectBaseDelay)
	}
	if c.Realtime.FrameBufferSize < 1 {
		return errors.New("realtime.frame_buffer_size must be >= 1")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be http or https, got %q", c.API.BaseURL)
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Presence.HeartbeatInterval <= 0 {
		return errors.New("presence.heartbeat_interval must be positive")
	}
	if c.Presence.RefreshInterval <= 0 {
		return errors.New("presence.refresh_interval must be positive")
	}
	if c.Presence.RequestTimeout <= 0 {
		return errors.New("presence.request_timeout must be positive")
	}

	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("realtime.ws_url is not a valid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime.ws_url must use ws or wss scheme, got %q", u.Scheme)
	}
	return nil
}
