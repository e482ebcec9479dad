package notifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
)

const (
	DefaultHeartbeatTimeout  = 60 * time.Second
	DefaultSessionBuffer     = 64
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

type Config struct {
	// HeartbeatTimeout is how long a session may stay silent before it is
	// expired.
	HeartbeatTimeout time.Duration
	// SessionBuffer is the number of frames queued per session. A session
	// whose queue is full is dropped.
	SessionBuffer     int
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		SessionBuffer:     DefaultSessionBuffer,
		KeepaliveInterval: DefaultKeepaliveInterval,
		WriteTimeout:      DefaultWriteTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.SessionBuffer <= 0 {
		c.SessionBuffer = d.SessionBuffer
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

func LoadConfig(config kitchen.ConfigSource) (Config, error) {
	cfg := DefaultConfig()
	if config == nil {
		return cfg, nil
	}

	for key, target := range map[string]*time.Duration{
		"notifier.heartbeat.timeout": &cfg.HeartbeatTimeout,
		"notifier.grpc.keepalive":    &cfg.KeepaliveInterval,
		"notifier.write.timeout":     &cfg.WriteTimeout,
	} {
		raw := config.GetStringOrDef(key, "")
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*target = d
	}

	if raw := config.GetStringOrDef("notifier.session.buffer", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid notifier.session.buffer %q: %w", raw, err)
		}
		cfg.SessionBuffer = n
	}

	return cfg.withDefaults(), nil
}
