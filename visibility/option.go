package visibility

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/userloc/go-userloc/metrics"
)

const (
	defaultDebounce      = 50 * time.Millisecond
	defaultMaxPending    = 500
	defaultMaxConcurrent = 3
)

type config struct {
	debounce      time.Duration
	maxPending    int
	maxConcurrent int64

	observer Observer
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		debounce:      defaultDebounce,
		maxPending:    defaultMaxPending,
		maxConcurrent: defaultMaxConcurrent,
		clock:         clock.New(),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithDebounce sets how long mutation batches accumulate before one flush
// queues them all, bounding work under bursty feed churn.
//
// Default is 50ms.
func WithDebounce(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("debounce interval must be positive")
		}
		cfg.debounce = d
		return nil
	}
}

// WithMaxPending bounds the set of elements waiting to become visible.
// Inserting past capacity evicts, and unobserves, the oldest entry.
//
// Default is 500.
func WithMaxPending(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errors.New("pending capacity must be positive")
		}
		cfg.maxPending = n
		return nil
	}
}

// WithMaxConcurrent bounds how many elements are processed at once.
//
// Default is 3.
func WithMaxConcurrent(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errors.New("concurrency must be positive")
		}
		cfg.maxConcurrent = int64(n)
		return nil
	}
}

// WithObserver sets the visibility observer that defers processing until an
// element nears the viewport. Without one, queued elements are processed
// immediately.
func WithObserver(o Observer) Option {
	return func(cfg *config) error {
		cfg.observer = o
		return nil
	}
}

// WithClock sets the clock used for the debounce timer. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.clock = c
		}
		return nil
	}
}

// WithMetrics sets the engine metrics handle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}
