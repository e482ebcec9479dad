package kitchen

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPrepMinutes          = 15
	DefaultSweepInterval        = 30 * time.Second
	DefaultSweepTimeout         = 10 * time.Second
	DefaultSweepConcurrency     = 4
	DefaultPublishTimeout       = 2 * time.Second
	DefaultMaxTransitionRetries = 3
)

// Config is the orchestrator's explicit configuration. Nothing in the
// package reads global settings.
type Config struct {
	// Restaurants scopes the sweeper. Empty means every restaurant that has
	// active tickets.
	Restaurants          []string
	SweepInterval        time.Duration
	SweepTimeout         time.Duration
	SweepConcurrency     int
	ReadyBuffer          time.Duration
	DefaultPrepMinutes   int
	PublishTimeout       time.Duration
	MaxTransitionRetries int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:        DefaultSweepInterval,
		SweepTimeout:         DefaultSweepTimeout,
		SweepConcurrency:     DefaultSweepConcurrency,
		ReadyBuffer:          DefaultReadyBuffer,
		DefaultPrepMinutes:   DefaultPrepMinutes,
		PublishTimeout:       DefaultPublishTimeout,
		MaxTransitionRetries: DefaultMaxTransitionRetries,
	}
}

// withDefaults fills zero values so a partially built Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = d.SweepTimeout
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = d.SweepConcurrency
	}
	if c.ReadyBuffer <= 0 {
		c.ReadyBuffer = d.ReadyBuffer
	}
	if c.DefaultPrepMinutes <= 0 {
		c.DefaultPrepMinutes = d.DefaultPrepMinutes
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.MaxTransitionRetries <= 0 {
		c.MaxTransitionRetries = d.MaxTransitionRetries
	}
	return c
}

// ConfigSource is the read side of *apt.Config.
type ConfigSource interface {
	GetStringOrDef(key, def string) string
}

// LoadConfig reads the kitchen.* keys. Durations use Go syntax ("30s"),
// the ready buffer and default prep time are whole minutes.
func LoadConfig(config ConfigSource) (Config, error) {
	cfg := DefaultConfig()
	if config == nil {
		return cfg, nil
	}

	var err error
	if cfg.SweepInterval, err = durationOr(config, "kitchen.sweep.interval", cfg.SweepInterval); err != nil {
		return cfg, err
	}
	if cfg.SweepTimeout, err = durationOr(config, "kitchen.sweep.timeout", cfg.SweepTimeout); err != nil {
		return cfg, err
	}
	if cfg.PublishTimeout, err = durationOr(config, "kitchen.publish.timeout", cfg.PublishTimeout); err != nil {
		return cfg, err
	}
	if cfg.SweepConcurrency, err = intOr(config, "kitchen.sweep.concurrency", cfg.SweepConcurrency); err != nil {
		return cfg, err
	}
	if cfg.DefaultPrepMinutes, err = intOr(config, "kitchen.prep.default", cfg.DefaultPrepMinutes); err != nil {
		return cfg, err
	}
	bufferMinutes, err := intOr(config, "kitchen.pacing.buffer", int(cfg.ReadyBuffer/time.Minute))
	if err != nil {
		return cfg, err
	}
	cfg.ReadyBuffer = time.Duration(bufferMinutes) * time.Minute

	if raw := config.GetStringOrDef("kitchen.restaurants", ""); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Restaurants = append(cfg.Restaurants, id)
			}
		}
	}

	return cfg.withDefaults(), nil
}

func durationOr(config ConfigSource, key string, def time.Duration) (time.Duration, error) {
	raw := config.GetStringOrDef(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func intOr(config ConfigSource, key string, def int) (int, error) {
	raw := config.GetStringOrDef(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
