// Package query is a keyed cache of in-flight and completed fetches with
// automatic revalidation. Entries serve their last known value immediately
// while refreshing in the background (stale-while-revalidate), concurrent
// fetches for one key are coalesced into a single request, and entries nobody
// subscribes to are evicted once a retention window passes.
package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRetention is how long an entry without subscribers is kept before
// eviction.
const DefaultRetention = 60 * time.Second

// ErrClosed reports a read that needed a fetch after Close stopped the cache.
var ErrClosed = errors.New("query: cache closed")

// Fetcher loads the value for a key. It is invoked at most once per key at
// any time; concurrent callers attach to the running fetch.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Policy configures revalidation behavior for an entry.
type Policy[T any] struct {
	// PollInterval schedules periodic background revalidation while the entry
	// has subscribers. Zero disables polling.
	PollInterval time.Duration

	// RevalidateOnFocus opts the entry into NotifyFocus triggers.
	RevalidateOnFocus bool

	// RevalidateOnReconnect opts the entry into NotifyReconnect triggers.
	RevalidateOnReconnect bool

	// Retention overrides the cache-wide retention window for this entry.
	Retention time.Duration

	// Tags derives the invalidation tags from a fetched value.
	Tags func(T) []Tag
}

// Result is the observable state of an entry: the last good value (if any),
// the error flag from the most recent failed revalidation, and staleness.
type Result[T any] struct {
	Data      *T
	Err       error
	Stale     bool
	FetchedAt time.Time
}

// flight is a single in-flight fetch shared by every caller for the key.
type flight[T any] struct {
	done   chan struct{}
	result Result[T]
}

type entry[T any] struct {
	key     Key
	policy  Policy[T]
	fetcher Fetcher[T]

	data      *T
	fetchedAt time.Time
	stale     bool
	err       error
	tags      map[Tag]struct{}

	subscribers map[uuid.UUID]chan Result[T]
	idleSince   time.Time
	evicting    bool
	inflight    *flight[T]

	// Failure backoff: triggers firing before nextRetryAt are skipped so a
	// permanently failing endpoint is not hammered.
	retry       *backoff.ExponentialBackOff
	nextRetryAt time.Time

	pollStop chan struct{}
}

func (e *entry[T]) snapshot() Result[T] {
	return Result[T]{
		Data:      e.data,
		Err:       e.err,
		Stale:     e.stale,
		FetchedAt: e.fetchedAt,
	}
}

// Config holds cache-wide settings.
type Config struct {
	// Retention is the default window entries without subscribers survive.
	Retention time.Duration

	// RetryInitialInterval and RetryMaxInterval shape the failure backoff.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	Logger zerolog.Logger
}

// Cache is a generic keyed cache with revalidation. A single mutex guards the
// entry table.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[Key]*entry[T]
	cfg     Config
	log     zerolog.Logger
	closed  bool
}

// New creates a cache, filling in defaults.
func New[T any](cfg Config) *Cache[T] {
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	if cfg.RetryMaxInterval == 0 {
		cfg.RetryMaxInterval = 30 * time.Second
	}

	return &Cache[T]{
		entries: make(map[Key]*entry[T]),
		cfg:     cfg,
		log:     cfg.Logger,
	}
}

// Fetch returns the entry's current value. A key with cached data returns
// immediately, kicking off a background revalidation when the entry is stale;
// a cold key blocks until the (deduplicated) first fetch resolves or ctx is
// done.
func (c *Cache[T]) Fetch(ctx context.Context, key Key, fetcher Fetcher[T], policy Policy[T]) Result[T] {
	c.mu.Lock()
	e := c.ensure(key, fetcher, policy)

	// A read counts as a touch: an entry nobody subscribes to lives for one
	// retention window past its last read, never forever.
	if len(e.subscribers) == 0 {
		e.idleSince = time.Now()
		c.scheduleEviction(e, e.policy.Retention)
	}

	if e.data != nil {
		snap := e.snapshot()
		if e.stale {
			c.startFetch(e)
		}
		c.mu.Unlock()
		return snap
	}

	c.startFetch(e)
	f := e.inflight
	closed := c.closed
	c.mu.Unlock()

	if f == nil {
		if closed {
			return Result[T]{Err: ErrClosed}
		}
		// Fetch suppressed by the failure backoff; report the standing error.
		c.mu.Lock()
		defer c.mu.Unlock()
		return e.snapshot()
	}

	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		return Result[T]{Err: ctx.Err()}
	}
}

// Subscription observes updates for one key. Closing it detaches the
// subscriber without cancelling fetches other subscribers depend on.
type Subscription[T any] struct {
	cache *Cache[T]
	key   Key
	id    uuid.UUID
	ch    chan Result[T]

	once sync.Once
}

// Updates delivers a Result after every completed fetch round for the key,
// plus the current value at subscription time when one exists.
func (s *Subscription[T]) Updates() <-chan Result[T] {
	return s.ch
}

// Close detaches the subscriber. When the last subscriber detaches the
// entry's poll loop stops and the retention clock starts.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.cache.unsubscribe(s.key, s.id)
	})
}

// Subscribe attaches to a key. The entry revalidates per policy (polling,
// focus, reconnect) for as long as at least one subscriber is attached.
func (c *Cache[T]) Subscribe(ctx context.Context, key Key, fetcher Fetcher[T], policy Policy[T]) *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(key, fetcher, policy)

	sub := &Subscription[T]{
		cache: c,
		key:   key,
		id:    uuid.New(),
		ch:    make(chan Result[T], 16),
	}
	e.subscribers[sub.id] = sub.ch
	e.idleSince = time.Time{}

	if e.data != nil {
		sub.ch <- e.snapshot()
		if e.stale {
			c.startFetch(e)
		}
	} else {
		c.startFetch(e)
	}

	if e.policy.PollInterval > 0 && e.pollStop == nil {
		e.pollStop = make(chan struct{})
		go c.pollLoop(e, e.policy.PollInterval, e.pollStop)
	}

	return sub
}

// Invalidate marks every entry carrying one of the tags as stale. Entries
// with active subscribers revalidate in the background; the rest refetch on
// their next read.
func (c *Cache[T]) Invalidate(tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if !carriesAny(e.tags, tags) {
			continue
		}
		e.stale = true
		if len(e.subscribers) > 0 {
			c.startFetch(e)
		}
	}
}

// NotifyFocus schedules a revalidation for every subscribed entry that opted
// into focus triggers.
func (c *Cache[T]) NotifyFocus() {
	c.trigger(func(e *entry[T]) bool { return e.policy.RevalidateOnFocus })
}

// NotifyReconnect schedules a revalidation for every subscribed entry that
// opted into reconnect triggers.
func (c *Cache[T]) NotifyReconnect() {
	c.trigger(func(e *entry[T]) bool { return e.policy.RevalidateOnReconnect })
}

func (c *Cache[T]) trigger(match func(*entry[T]) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if len(e.subscribers) > 0 && match(e) {
			c.startFetch(e)
		}
	}
}

// Has reports whether a key currently has an entry.
func (c *Cache[T]) Has(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Close stops all poll loops. In-flight fetches are left to finish; reads
// that would need a new fetch return ErrClosed.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, e := range c.entries {
		if e.pollStop != nil {
			close(e.pollStop)
			e.pollStop = nil
		}
	}
}

// ensure returns the entry for key, creating it when absent. Must be called
// with the mutex held.
func (c *Cache[T]) ensure(key Key, fetcher Fetcher[T], policy Policy[T]) *entry[T] {
	e, ok := c.entries[key]
	if !ok {
		if policy.Retention == 0 {
			policy.Retention = c.cfg.Retention
		}
		e = &entry[T]{
			key:         key,
			policy:      policy,
			subscribers: make(map[uuid.UUID]chan Result[T]),
			tags:        make(map[Tag]struct{}),
		}
		c.entries[key] = e
	}
	e.fetcher = fetcher
	return e
}

// startFetch begins a background fetch for the entry unless one is already
// in flight or the failure backoff suppresses it. Must be called with the
// mutex held.
func (c *Cache[T]) startFetch(e *entry[T]) {
	if c.closed || e.inflight != nil {
		return
	}
	if e.err != nil && time.Now().Before(e.nextRetryAt) {
		return
	}

	f := &flight[T]{done: make(chan struct{})}
	e.inflight = f

	go c.runFetch(e, f, e.fetcher)
}

// runFetch executes the fetch and publishes the outcome. The fetch uses a
// background context: detaching subscribers must not cancel work other
// callers are attached to, and timeouts are the transport's responsibility.
func (c *Cache[T]) runFetch(e *entry[T], f *flight[T], fetch Fetcher[T]) {
	value, err := fetch(context.Background())

	c.mu.Lock()

	if err != nil {
		// Keep the last good value, surface the error beside it.
		e.err = err
		if e.retry == nil {
			e.retry = c.newBackoff()
		}
		e.nextRetryAt = time.Now().Add(e.retry.NextBackOff())

		c.log.Warn().Err(err).Str("key", string(e.key)).Msg("revalidation failed")
	} else {
		e.data = &value
		e.fetchedAt = time.Now()
		e.stale = false
		e.err = nil
		e.retry = nil
		e.nextRetryAt = time.Time{}

		if e.policy.Tags != nil {
			e.tags = make(map[Tag]struct{})
			for _, tag := range e.policy.Tags(value) {
				e.tags[tag] = struct{}{}
			}
		}
	}

	f.result = e.snapshot()
	e.inflight = nil

	for _, ch := range e.subscribers {
		select {
		case ch <- f.result:
		default:
			// Subscriber is not draining; it will catch up on the next round.
		}
	}

	c.mu.Unlock()
	close(f.done)
}

func (c *Cache[T]) pollLoop(e *entry[T], interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if len(e.subscribers) > 0 {
				c.startFetch(e)
			}
			c.mu.Unlock()
		case <-stop:
			return
		}
	}
}

func (c *Cache[T]) unsubscribe(key Key, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}

	delete(e.subscribers, id)
	if len(e.subscribers) > 0 {
		return
	}

	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}

	// Last subscriber gone: the entry survives for the retention window, then
	// goes away unless it is read or re-subscribed in the meantime.
	e.idleSince = time.Now()
	c.scheduleEviction(e, e.policy.Retention)
}

// scheduleEviction arms the retention timer for an entry with no subscribers.
// One timer chain runs per entry: a touch within the window pushes the
// deadline out, a new subscriber (idleSince cleared) stops the chain. Must be
// called with the mutex held.
func (c *Cache[T]) scheduleEviction(e *entry[T], after time.Duration) {
	if e.evicting {
		return
	}
	e.evicting = true

	time.AfterFunc(after, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		e.evicting = false

		current, ok := c.entries[e.key]
		if !ok || current != e || len(e.subscribers) > 0 || e.idleSince.IsZero() {
			return
		}

		retention := e.policy.Retention
		if idle := time.Since(e.idleSince); idle < retention {
			c.scheduleEviction(e, retention-idle)
			return
		}

		delete(c.entries, e.key)
		c.log.Debug().Str("key", string(e.key)).Msg("evicted unused entry")
	})
}

func (c *Cache[T]) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval
	b.MaxInterval = c.cfg.RetryMaxInterval
	return b
}

func carriesAny(tags map[Tag]struct{}, wanted []Tag) bool {
	for _, tag := range wanted {
		if _, ok := tags[tag]; ok {
			return true
		}
	}
	return false
}
