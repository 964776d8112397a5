package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/userloc/go-userloc/metrics"
)

type config struct {
	window  time.Duration
	base    time.Duration
	cap     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		window: defaultWindow,
		base:   defaultBase,
		cap:    defaultCap,
		clock:  clock.New(),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithDefaultWindow sets how long live lookups stay blocked after a
// rate-limit response that carries no usable server reset time.
//
// Default is 1 minute.
func WithDefaultWindow(window time.Duration) Option {
	return func(cfg *config) error {
		if window <= 0 {
			return errors.New("default window must be positive")
		}
		cfg.window = window
		return nil
	}
}

// WithBackoff sets the exponential backoff base delay and its upper bound
// for repeated non-rate-limit failures.
//
// Defaults are 1 second and 30 seconds.
func WithBackoff(base, max time.Duration) Option {
	return func(cfg *config) error {
		if base <= 0 {
			return errors.New("backoff base must be positive")
		}
		if max < base {
			return errors.New("backoff cap cannot be less than base")
		}
		cfg.base = base
		cfg.cap = max
		return nil
	}
}

// WithClock sets the clock used for block windows. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.clock = c
		}
		return nil
	}
}

// WithMetrics sets the metrics handle used to count rate-limit blocks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}
