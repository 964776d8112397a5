package ucache

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/userloc/go-userloc/lookup/client"
	"github.com/userloc/go-userloc/metrics"
	"github.com/userloc/go-userloc/ratelimit"
)

const (
	defaultMaxSize     = 1000
	defaultNegativeTTL = 15 * time.Minute
	defaultSnapshotTTL = 24 * time.Hour
	defaultBatchSize   = 5
	defaultBatchDelay  = 500 * time.Millisecond
	defaultMaxLive     = 3
)

type config struct {
	maxSize     int
	negativeTTL time.Duration
	snapshotTTL time.Duration
	batchSize   int
	batchDelay  time.Duration
	maxLive     int64
	contribute  bool
	live        bool

	source  client.UpstreamSource
	shared  client.SharedCache
	limiter *ratelimit.Limiter
	clock   clock.Clock
	metrics *metrics.Metrics
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		maxSize:     defaultMaxSize,
		negativeTTL: defaultNegativeTTL,
		snapshotTTL: defaultSnapshotTTL,
		batchSize:   defaultBatchSize,
		batchDelay:  defaultBatchDelay,
		maxLive:     defaultMaxLive,
		contribute:  true,
		live:        true,
		clock:       clock.New(),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithMaxSize sets the bounded cache capacity in entries.
//
// Default is 1000.
func WithMaxSize(size int) Option {
	return func(cfg *config) error {
		if size <= 0 {
			return errors.New("cache size must be positive")
		}
		cfg.maxSize = size
		return nil
	}
}

// WithSource sets the live upstream source. Without one the live tier is
// never consulted.
func WithSource(src client.UpstreamSource) Option {
	return func(cfg *config) error {
		cfg.source = src
		return nil
	}
}

// WithSharedCache sets the community shared cache consulted between the
// local cache and the live upstream.
func WithSharedCache(sc client.SharedCache) Option {
	return func(cfg *config) error {
		cfg.shared = sc
		return nil
	}
}

// WithLimiter sets the rate limiter guarding the live tier. Without one a
// default limiter is created.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cfg *config) error {
		cfg.limiter = l
		return nil
	}
}

// WithNegativeTTL sets how long a negative entry answers local lookups
// before the key is eligible for a fresh fetch.
//
// Default is 15 minutes.
func WithNegativeTTL(ttl time.Duration) Option {
	return func(cfg *config) error {
		if ttl <= 0 {
			return errors.New("negative TTL must be positive")
		}
		cfg.negativeTTL = ttl
		return nil
	}
}

// WithSnapshotTTL sets the expiry stamped on positive entries written to a
// persisted snapshot. Entries past expiry are dropped at load time.
//
// Default is 24 hours.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(cfg *config) error {
		if ttl <= 0 {
			return errors.New("snapshot TTL must be positive")
		}
		cfg.snapshotTTL = ttl
		return nil
	}
}

// WithMaxConcurrentLive bounds the number of simultaneous live upstream
// calls.
//
// Default is 3.
func WithMaxConcurrentLive(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errors.New("live concurrency must be positive")
		}
		cfg.maxLive = int64(n)
		return nil
	}
}

// WithBatchSize sets how many usernames a batch lookup resolves
// concurrently before pausing.
//
// Default is 5.
func WithBatchSize(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errors.New("batch size must be positive")
		}
		cfg.batchSize = n
		return nil
	}
}

// WithBatchDelay sets the pause between batch-lookup sub-batches, spreading
// live load so bursts do not look abusive to the upstream. Zero disables the
// pause.
//
// Default is 500ms.
func WithBatchDelay(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errors.New("batch delay cannot be negative")
		}
		cfg.batchDelay = d
		return nil
	}
}

// WithContribute controls whether live results are pushed back to the
// shared cache.
//
// Default is true.
func WithContribute(enabled bool) Option {
	return func(cfg *config) error {
		cfg.contribute = enabled
		return nil
	}
}

// WithLiveLookups sets the initial live-lookup switch. It can be toggled
// later with SetLiveLookups.
//
// Default is true.
func WithLiveLookups(enabled bool) Option {
	return func(cfg *config) error {
		cfg.live = enabled
		return nil
	}
}

// WithClock sets the clock used for negative-entry grace, batch pacing, and
// snapshot expiry. Intended for tests.
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
