package ucache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/userloc/go-userloc/apierror"
	"github.com/userloc/go-userloc/internal/coalesce"
	"github.com/userloc/go-userloc/internal/lru"
	"github.com/userloc/go-userloc/lookup/client"
	"github.com/userloc/go-userloc/lookup/model"
	"github.com/userloc/go-userloc/metrics"
	"github.com/userloc/go-userloc/ratelimit"
	"golang.org/x/sync/semaphore"
)

var log = logging.Logger("ucache")

const contributeTimeout = 5 * time.Second

// Result is the outcome of a tiered lookup. A nil Info with a non-none Tier
// is a definitive negative answer; TierNone means no tier could answer, such
// as when live lookups are disabled or rate limited.
type Result struct {
	Info *model.UserInfo
	Tier model.SourceTier
}

// cacheEntry is one bounded-cache slot. A nil info is a negative entry,
// valid only until its grace window ends.
type cacheEntry struct {
	info     *model.UserInfo
	storedAt time.Time
}

// UserCache answers username metadata lookups from three tiers in order:
// the local bounded cache, the community shared cache, and the live
// upstream API. Live results are contributed back to the shared cache.
// Safe for concurrent use.
type UserCache struct {
	mu    sync.Mutex
	local *lru.Cache[string, cacheEntry]

	flights coalesce.Group[string, Result]

	source  client.UpstreamSource
	shared  client.SharedCache
	limiter *ratelimit.Limiter

	liveGate *semaphore.Weighted
	live     atomic.Bool

	negativeTTL time.Duration
	snapshotTTL time.Duration
	batchSize   int
	batchDelay  time.Duration
	contribute  bool

	clock   clock.Clock
	metrics *metrics.Metrics

	asyncWG sync.WaitGroup
}

// New creates a UserCache.
func New(options ...Option) (*UserCache, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	limiter := opts.limiter
	if limiter == nil {
		limiter, err = ratelimit.New(ratelimit.WithClock(opts.clock), ratelimit.WithMetrics(opts.metrics))
		if err != nil {
			return nil, err
		}
	}

	uc := &UserCache{
		source:      opts.source,
		shared:      opts.shared,
		limiter:     limiter,
		liveGate:    semaphore.NewWeighted(opts.maxLive),
		negativeTTL: opts.negativeTTL,
		snapshotTTL: opts.snapshotTTL,
		batchSize:   opts.batchSize,
		batchDelay:  opts.batchDelay,
		contribute:  opts.contribute,
		clock:       opts.clock,
		metrics:     opts.metrics,
	}
	uc.local = lru.New[string, cacheEntry](opts.maxSize, func(string, cacheEntry) {
		uc.metrics.Eviction()
	})
	uc.live.Store(opts.live)
	return uc, nil
}

// SetLiveLookups toggles the live tier at runtime. The local and shared
// tiers keep answering either way.
func (uc *UserCache) SetLiveLookups(enabled bool) {
	uc.live.Store(enabled)
}

// Len returns the number of locally cached entries.
func (uc *UserCache) Len() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.local.Len()
}

// Clear drops all locally cached entries.
func (uc *UserCache) Clear() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.local.Clear()
}

// Close waits for background work, such as shared-cache contributions, to
// finish.
func (uc *UserCache) Close() {
	uc.asyncWG.Wait()
}

// Lookup resolves metadata for username through the tiers in order. Invalid
// usernames fail before any I/O. Rate-limit and network failures are
// absorbed into limiter state and reported as a TierNone result; an
// unauthorized failure propagates so the caller can re-authenticate.
func (uc *UserCache) Lookup(ctx context.Context, username string) (Result, error) {
	key, err := model.NormalizeKey(username)
	if err != nil {
		uc.metrics.LookupError(apierror.KindOf(err).String())
		return Result{Tier: model.TierNone}, err
	}
	return uc.lookupKey(ctx, key)
}

// lookupKey resolves one already-normalized key.
func (uc *UserCache) lookupKey(ctx context.Context, key string) (Result, error) {
	if res, ok := uc.fromLocal(key); ok {
		uc.metrics.Lookup(model.TierLocal.String())
		return res, nil
	}

	if uc.shared != nil {
		found, err := uc.shared.LookupBatch(ctx, []string{key})
		if err != nil {
			// Best effort; degrade to the live tier.
			log.Debugw("Shared cache unavailable", "err", err, "source", uc.shared)
		} else if info, ok := found[key]; ok && info != nil {
			uc.store(key, info)
			uc.metrics.Lookup(model.TierShared.String())
			return Result{Info: info.WithTier(model.TierShared), Tier: model.TierShared}, nil
		}
	}

	return uc.lookupLive(ctx, key)
}

// fromLocal answers from the bounded cache. A negative entry past its grace
// window is removed and reported as a miss, so the key becomes eligible for
// a fresh fetch.
func (uc *UserCache) fromLocal(key string) (Result, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	ent, ok := uc.local.Get(key)
	if !ok {
		return Result{}, false
	}
	if ent.info == nil && uc.clock.Now().After(ent.storedAt.Add(uc.negativeTTL)) {
		uc.local.Remove(key)
		return Result{}, false
	}
	return Result{Info: ent.info.WithTier(model.TierLocal), Tier: model.TierLocal}, true
}

func (uc *UserCache) store(key string, info *model.UserInfo) {
	uc.mu.Lock()
	uc.local.Set(key, cacheEntry{info: info, storedAt: uc.clock.Now()})
	uc.mu.Unlock()
}

// lookupLive fetches from the upstream through the coalescer, so concurrent
// lookups for one key share a single upstream call.
func (uc *UserCache) lookupLive(ctx context.Context, key string) (Result, error) {
	if uc.source == nil || !uc.live.Load() || uc.limiter.IsBlocked() {
		return Result{Tier: model.TierNone}, nil
	}

	var led bool
	res, err := uc.flights.Do(ctx, key, func() (Result, error) {
		led = true
		return uc.fetchLive(ctx, key)
	})
	if !led {
		uc.metrics.Coalesced()
	}
	return res, err
}

// fetchLive performs the gated upstream call and folds the outcome into
// cache and limiter state. It runs once per coalesced flight.
func (uc *UserCache) fetchLive(ctx context.Context, key string) (Result, error) {
	if err := uc.liveGate.Acquire(ctx, 1); err != nil {
		return Result{Tier: model.TierNone}, err
	}
	defer uc.liveGate.Release(1)

	info, err := uc.source.Fetch(ctx, key)
	if err != nil {
		kind := apierror.KindOf(err)
		uc.metrics.LookupError(kind.String())
		switch kind {
		case apierror.KindNotFound:
			// Definitive answer; cache the negative so the user is not
			// hammered again before the grace window ends.
			uc.limiter.RecordSuccess()
			uc.storeNegative(key)
			uc.metrics.Lookup(model.TierLive.String())
			return Result{Tier: model.TierLive}, nil
		case apierror.KindUnauthorized:
			log.Errorw("Upstream rejected credentials", "err", err, "source", uc.source)
			uc.limiter.RecordFailure(err)
			return Result{Tier: model.TierNone}, err
		case apierror.KindRateLimited:
			// Never cached negatively; a later attempt must be able to
			// succeed once the window passes.
			uc.limiter.RecordFailure(err)
			log.Infow("Live lookups paused by upstream", "until", uc.limiter.BlockedUntil())
			return Result{Tier: model.TierNone}, nil
		default:
			uc.limiter.RecordFailure(err)
			log.Debugw("Live lookup failed", "user", key, "err", err)
			return Result{Tier: model.TierNone}, nil
		}
	}

	uc.limiter.RecordSuccess()
	if info == nil {
		uc.storeNegative(key)
		uc.metrics.Lookup(model.TierLive.String())
		return Result{Tier: model.TierLive}, nil
	}

	info = info.WithTier(model.TierLive)
	uc.store(key, info)
	uc.metrics.Lookup(model.TierLive.String())
	uc.contributeAsync(key, info)
	return Result{Info: info, Tier: model.TierLive}, nil
}

func (uc *UserCache) storeNegative(key string) {
	uc.store(key, nil)
}

// contributeAsync pushes a live result to the shared cache without blocking
// the lookup. Failures only log; contribution is best effort.
func (uc *UserCache) contributeAsync(key string, info *model.UserInfo) {
	if !uc.contribute || uc.shared == nil {
		return
	}
	uc.asyncWG.Add(1)
	go func() {
		defer uc.asyncWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), contributeTimeout)
		defer cancel()
		if err := uc.shared.Contribute(ctx, key, info); err != nil {
			log.Debugw("Cannot contribute to shared cache", "user", key, "err", err)
		}
	}()
}

// LookupBatch resolves usernames in input order: local hits first, then one
// shared-cache batch for the misses, then live fetches in sub-batches with a
// pacing delay between them. Per-username failures are aggregated; the
// result map contains every name that resolved to an answer.
func (uc *UserCache) LookupBatch(ctx context.Context, usernames []string) (map[string]Result, error) {
	results := make(map[string]Result, len(usernames))
	var errs *multierror.Error

	// Normalize, drop duplicates, answer from the local tier.
	seen := make(map[string]struct{}, len(usernames))
	var misses []string
	for _, username := range usernames {
		key, err := model.NormalizeKey(username)
		if err != nil {
			uc.metrics.LookupError(apierror.KindOf(err).String())
			errs = multierror.Append(errs, err)
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if res, ok := uc.fromLocal(key); ok {
			uc.metrics.Lookup(model.TierLocal.String())
			results[key] = res
			continue
		}
		misses = append(misses, key)
	}

	// One shared-cache query covers all local misses.
	if uc.shared != nil && len(misses) != 0 {
		found, err := uc.shared.LookupBatch(ctx, misses)
		if err != nil {
			log.Debugw("Shared cache unavailable", "err", err, "source", uc.shared)
		} else {
			remaining := misses[:0]
			for _, key := range misses {
				if info, ok := found[key]; ok && info != nil {
					uc.store(key, info)
					uc.metrics.Lookup(model.TierShared.String())
					results[key] = Result{Info: info.WithTier(model.TierShared), Tier: model.TierShared}
					continue
				}
				remaining = append(remaining, key)
			}
			misses = remaining
		}
	}

	// Live fetches go out in small concurrent sub-batches with a pause in
	// between, to spread load on the upstream.
	for len(misses) != 0 {
		n := uc.batchSize
		if n > len(misses) {
			n = len(misses)
		}
		batch := misses[:n]
		misses = misses[n:]

		var wg sync.WaitGroup
		var batchMu sync.Mutex
		for _, key := range batch {
			key := key
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := uc.lookupLive(ctx, key)
				batchMu.Lock()
				defer batchMu.Unlock()
				if err != nil {
					errs = multierror.Append(errs, err)
					return
				}
				results[key] = res
			}()
		}
		wg.Wait()

		if len(misses) != 0 && uc.batchDelay > 0 {
			select {
			case <-uc.clock.After(uc.batchDelay):
			case <-ctx.Done():
				return results, multierror.Append(errs, ctx.Err()).ErrorOrNil()
			}
		}
	}

	return results, errs.ErrorOrNil()
}
