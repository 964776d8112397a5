package visibility

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/channelqueue"
	logging "github.com/ipfs/go-log/v2"
	"github.com/userloc/go-userloc/internal/lru"
	"github.com/userloc/go-userloc/lookup/model"
	"github.com/userloc/go-userloc/metrics"
	"golang.org/x/sync/semaphore"
)

var log = logging.Logger("visibility")

// processTimeout bounds one element's lookup.
const processTimeout = 10 * time.Second

type elementState int

const (
	stateQueued elementState = iota
	stateProcessing
	stateDone
	stateError
)

// marker tracks one element's processing lifecycle. The username is the name
// the element carried when it was last processed; a mismatch at processing
// time means the element was recycled onto a different user.
type marker struct {
	state     elementState
	username  string
	info      *model.UserInfo
	hasResult bool
}

// Scheduler turns element churn into paced lookups. Mutation batches are
// debounced into one flush, queued elements wait in a bounded pending set
// until visible, and visible elements are processed by a bounded number of
// workers. One element's failure never affects the rest.
type Scheduler struct {
	render Renderer
	lookup Lookup

	mu         sync.Mutex
	markers    map[Element]*marker
	pending    *lru.Cache[Element, struct{}]
	batch      []Element
	flushTimer *clock.Timer
	closed     bool

	observer Observer
	debounce time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics

	queue      *channelqueue.ChannelQueue[Element]
	workerGate *semaphore.Weighted
	ctx        context.Context
	cancel     context.CancelFunc
	runDone    chan struct{}
	closeOnce  sync.Once
	asyncWG    sync.WaitGroup
	enqueueWG  sync.WaitGroup
}

// New creates a Scheduler that annotates elements through render, resolving
// usernames with lookup.
func New(render Renderer, lookup Lookup, options ...Option) (*Scheduler, error) {
	if render == nil {
		return nil, errors.New("renderer required")
	}
	if lookup == nil {
		return nil, errors.New("lookup function required")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		render:     render,
		lookup:     lookup,
		markers:    make(map[Element]*marker),
		observer:   opts.observer,
		debounce:   opts.debounce,
		clock:      opts.clock,
		metrics:    opts.metrics,
		queue:      channelqueue.New[Element](-1),
		workerGate: semaphore.NewWeighted(opts.maxConcurrent),
		runDone:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	// Evicting the oldest pending entry unobserves it and forgets its
	// marker, so the element can be queued again if it reappears.
	s.pending = lru.New[Element, struct{}](opts.maxPending, func(el Element, _ struct{}) {
		if s.observer != nil {
			s.observer.Unobserve(el)
		}
		delete(s.markers, el)
		s.metrics.PendingEvicted()
	})

	go s.run()
	return s, nil
}

// OnMutations accepts newly added elements. Elements with an extractable
// username that are not already tracked under that name accumulate until a
// single debounced flush queues them.
func (s *Scheduler) OnMutations(added []Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, el := range added {
		name, ok := el.Username()
		if !ok {
			continue
		}
		if m, tracked := s.markers[el]; tracked && m.username == name {
			continue
		}
		s.batch = append(s.batch, el)
	}
	if len(s.batch) != 0 && s.flushTimer == nil {
		s.flushTimer = s.clock.AfterFunc(s.debounce, s.flush)
	}
}

// flush queues every accumulated element. It runs on the debounce timer.
func (s *Scheduler) flush() {
	s.mu.Lock()
	s.flushTimer = nil
	batch := s.batch
	s.batch = nil
	if s.closed {
		s.mu.Unlock()
		return
	}
	var direct []Element
	for _, el := range batch {
		name, ok := el.Username()
		if !ok {
			continue
		}
		m := s.markers[el]
		if m == nil {
			m = &marker{username: name}
			s.markers[el] = m
		}
		m.state = stateQueued
		if s.observer == nil {
			direct = append(direct, el)
			continue
		}
		if s.pending.Contains(el) {
			continue
		}
		s.pending.Set(el, struct{}{})
		s.observer.Observe(el)
	}
	s.enqueueWG.Add(len(direct))
	s.mu.Unlock()

	// Without an observer there is no visibility signal, so queueing falls
	// through to immediate processing.
	for _, el := range direct {
		s.queue.In() <- el
		s.enqueueWG.Done()
	}
}

// OnVisible is called when an observed element nears the viewport. The
// element leaves the pending set and is handed to the processing workers.
func (s *Scheduler) OnVisible(el Element) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.observer != nil {
		s.observer.Unobserve(el)
	}
	s.pending.Remove(el)
	// Only elements that went through a mutation flush are processed. A
	// spurious visibility event for an unknown element, such as one already
	// evicted from the pending set, is dropped.
	if _, tracked := s.markers[el]; !tracked {
		s.mu.Unlock()
		return
	}
	// Registered before the lock drops so Close cannot shut the queue down
	// underneath the send.
	s.enqueueWG.Add(1)
	s.mu.Unlock()

	s.queue.In() <- el
	s.enqueueWG.Done()
}

// Pending returns the number of elements waiting to become visible.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// run dispatches queued elements to bounded workers. It exits when the
// queue closes.
func (s *Scheduler) run() {
	defer close(s.runDone)
	for el := range s.queue.Out() {
		if err := s.workerGate.Acquire(s.ctx, 1); err != nil {
			// Shutting down; drain so the queue can close.
			for range s.queue.Out() {
			}
			return
		}
		s.asyncWG.Add(1)
		go func(el Element) {
			defer s.asyncWG.Done()
			defer s.workerGate.Release(1)
			s.processElementSafe(el)
		}(el)
	}
}

// processElementSafe is the failure boundary around one element. A panic or
// error is logged and marks the element so it is not retried; it never
// escapes to the queue loop.
func (s *Scheduler) processElementSafe(el Element) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Recovered from element processing panic", "recovered", r)
			s.markState(el, stateError)
			s.metrics.ProcessError()
		}
	}()
	if err := s.processElement(el); err != nil {
		log.Errorw("Cannot process element", "err", err)
		s.metrics.ProcessError()
	}
}

func (s *Scheduler) markState(el Element, st elementState) {
	s.mu.Lock()
	if m := s.markers[el]; m != nil {
		m.state = st
	}
	s.mu.Unlock()
}

func (s *Scheduler) processElement(el Element) error {
	name, ok := el.Username()
	if !ok {
		// The element lost its name between queueing and processing.
		s.mu.Lock()
		delete(s.markers, el)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	m := s.markers[el]
	if m == nil {
		m = &marker{username: name}
		s.markers[el] = m
	}
	if m.username == name {
		if m.hasResult {
			// Recycled back onto the same user with a result already
			// applied; nothing to do.
			s.mu.Unlock()
			return nil
		}
		if m.state == stateError {
			// A failed element is not retried until it changes identity.
			s.mu.Unlock()
			return nil
		}
	}
	recycled := m.username != name
	m.state = stateProcessing
	m.username = name
	m.hasResult = false
	m.info = nil
	s.mu.Unlock()

	// The processing state never outlives this call. A path that does not
	// settle the marker, such as a panic in the renderer or lookup, leaves
	// an error marker instead of locking the element in processing.
	defer func() {
		s.mu.Lock()
		if cur := s.markers[el]; cur == m && m.state == stateProcessing {
			m.state = stateError
		}
		s.mu.Unlock()
	}()

	if recycled {
		// The element now shows a different user; drop the old annotation
		// before looking up the new one.
		s.render.Clear(el)
	}

	ctx, cancel := context.WithTimeout(s.ctx, processTimeout)
	defer cancel()
	res, err := s.lookup(ctx, name)
	if err != nil {
		s.markState(el, stateError)
		return err
	}
	if res.Tier == model.TierNone {
		// No tier could answer, such as during a rate-limit block. Forget
		// the marker so the element is retried if it reappears.
		s.mu.Lock()
		if s.markers[el] == m {
			delete(s.markers, el)
		}
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	if s.markers[el] != m || s.closed {
		s.mu.Unlock()
		return nil
	}
	m.state = stateDone
	m.hasResult = true
	m.info = res.Info
	s.mu.Unlock()

	s.render.Render(el, res.Info)
	s.metrics.Processed()
	return nil
}

// Close stops the debounce timer, unobserves and drops all pending
// elements, stops the queue, and waits for in-flight workers. It is safe to
// call more than once.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.flushTimer != nil {
			s.flushTimer.Stop()
			s.flushTimer = nil
		}
		s.batch = nil
		if s.observer != nil {
			for _, el := range s.pending.Keys() {
				s.observer.Unobserve(el)
			}
		}
		s.pending.Clear()
		s.markers = make(map[Element]*marker)
		s.mu.Unlock()

		s.cancel()
		s.enqueueWG.Wait()
		close(s.queue.In())
		<-s.runDone
		s.asyncWG.Wait()
	})
}
