package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultKeepaliveInterval  = 30 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultDialTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultFrameBufferSize    = 256
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 1 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultRefreshInterval    = 60 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
)

func (c *Config) applyDefaults() {
	// Realtime defaults
	if c.Realtime.KeepaliveInterval == 0 {
		c.Realtime.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.ReconnectMaxDelay == 0 {
		c.Realtime.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Realtime.DialTimeout == 0 {
		c.Realtime.DialTimeout = DefaultDialTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.FrameBufferSize == 0 {
		c.Realtime.FrameBufferSize = DefaultFrameBufferSize
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Presence defaults
	if c.Presence.HeartbeatInterval == 0 {
		c.Presence.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Presence.RefreshInterval == 0 {
		c.Presence.RefreshInterval = DefaultRefreshInterval
	}
	if c.Presence.RequestTimeout == 0 {
		c.Presence.RequestTimeout = DefaultRequestTimeout
	}
}
