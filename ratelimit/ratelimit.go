// Package ratelimit tracks upstream throttling state for one source: a
// blocked-until timestamp and an exponential backoff on consecutive
// failures. While blocked, callers short-circuit to "unavailable" without
// touching the network, which is what protects the upstream source.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/userloc/go-userloc/apierror"
	"github.com/userloc/go-userloc/metrics"
)

var log = logging.Logger("ratelimit")

const (
	defaultWindow = time.Minute
	defaultBase   = time.Second
	defaultCap    = 30 * time.Second
)

// Limiter records upstream response outcomes and reports whether live
// lookups are currently allowed. Safe for concurrent use.
type Limiter struct {
	mu           sync.Mutex
	blockedUntil time.Time
	failures     int
	// backoffBlock marks the current block as backoff-imposed rather than a
	// server-mandated 429 window. Only backoff blocks lift on success.
	backoffBlock bool

	window  time.Duration
	base    time.Duration
	cap     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New creates a Limiter.
func New(options ...Option) (*Limiter, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		window:  opts.window,
		base:    opts.base,
		cap:     opts.cap,
		clock:   opts.clock,
		metrics: opts.metrics,
	}, nil
}

// IsBlocked reports whether live lookups are currently disallowed.
func (l *Limiter) IsBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	blocked := l.clock.Now().Before(l.blockedUntil)
	if blocked {
		l.metrics.RateLimited()
	}
	return blocked
}

// BlockedUntil returns the time at which live lookups become allowed again.
// The zero time means not blocked.
func (l *Limiter) BlockedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.clock.Now().Before(l.blockedUntil) {
		return time.Time{}
	}
	return l.blockedUntil
}

// RecordSuccess resets the consecutive-failure counter and clears any
// backoff-imposed block. A server-mandated 429 window stands; the server
// said stop, and one successful sibling call does not unsay it.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	if l.backoffBlock {
		l.blockedUntil = time.Time{}
		l.backoffBlock = false
	}
}

// RecordFailure updates limiter state from a classified lookup failure.
//
// A rate-limit failure blocks for the server-requested delay, or until the
// server reset time when that time is in the future, else for the default
// window. An unauthorized failure does not advance the counter; retrying
// cannot help until the caller re-authenticates. Any other failure
// increments the consecutive failure count and blocks for min(base<<n, cap).
func (l *Limiter) RecordFailure(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	switch apierror.KindOf(err) {
	case apierror.KindRateLimited:
		l.failures++
		until := now.Add(l.window)
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) {
			if delay := apiErr.RetryDelay(); delay > 0 {
				until = now.Add(delay)
			} else if reset := apiErr.RetryAfter(); reset.After(now) {
				until = reset
			}
		}
		if until.After(l.blockedUntil) {
			l.blockedUntil = until
		}
		l.backoffBlock = false
		log.Infow("Upstream rate limited", "until", l.blockedUntil, "failures", l.failures)
	case apierror.KindUnauthorized:
		// Surfaced to the caller; backoff is noise here.
	default:
		delay := l.backoffDelay()
		l.failures++
		until := now.Add(delay)
		if until.After(l.blockedUntil) {
			l.blockedUntil = until
			l.backoffBlock = true
		}
		log.Debugw("Backing off after failure", "delay", delay, "failures", l.failures, "err", err)
	}
}

// Failures returns the current consecutive-failure count.
func (l *Limiter) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// Reset clears all limiter state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.blockedUntil = time.Time{}
	l.backoffBlock = false
}

// backoffDelay computes min(base << failures, cap) for the current count.
func (l *Limiter) backoffDelay() time.Duration {
	delay := l.base
	for i := 0; i < l.failures; i++ {
		delay *= 2
		if delay >= l.cap {
			return l.cap
		}
	}
	if delay > l.cap {
		return l.cap
	}
	return delay
}
