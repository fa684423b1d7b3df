package query

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache[string] {
	t.Helper()

	c := New[string](Config{
		Retention:            50 * time.Millisecond,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
		Logger:               zerolog.Nop(),
	})
	t.Cleanup(c.Close)
	return c
}

func constFetcher(value string, calls *atomic.Int64) Fetcher[string] {
	return func(ctx context.Context) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return value, nil
	}
}

func TestNewKey_deterministicAcrossConstructionOrder(t *testing.T) {
	a := url.Values{}
	a.Set("startDate", "2024-01-01")
	a.Set("endDate", "2024-01-31")
	a.Set("page", "2")
	a.Set("itemsPerPage", "10")

	b := url.Values{}
	b.Set("itemsPerPage", "10")
	b.Set("page", "2")
	b.Set("endDate", "2024-01-31")
	b.Set("startDate", "2024-01-01")

	require.Equal(t, NewKey("/flight-reservations", a), NewKey("/flight-reservations", b))
}

func TestNewKey_differsWhenAnyFieldDiffers(t *testing.T) {
	base := url.Values{"page": {"1"}, "itemsPerPage": {"10"}}

	changed := url.Values{"page": {"2"}, "itemsPerPage": {"10"}}
	require.NotEqual(t, NewKey("/flight-reservations", base), NewKey("/flight-reservations", changed))

	pageSize := url.Values{"page": {"1"}, "itemsPerPage": {"25"}}
	require.NotEqual(t, NewKey("/flight-reservations", base), NewKey("/flight-reservations", pageSize))

	require.NotEqual(t, NewKey("/flight-reservations", base), NewKey("/other", base))
}

func TestFetch_coldKeyBlocksOnFirstFetch(t *testing.T) {
	c := newTestCache(t)

	res := c.Fetch(context.Background(), "k", constFetcher("value", nil), Policy[string]{})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Data)
	require.Equal(t, "value", *res.Data)
}

func TestFetch_concurrentCallersShareOneRequest(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	release := make(chan struct{})
	fetcher := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 8
	results := make([]Result[string], callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Fetch(context.Background(), "k", fetcher, Policy[string]{})
		}(i)
	}

	// Let every caller attach before the fetch resolves.
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, res := range results {
		require.NoError(t, res.Err)
		require.NotNil(t, res.Data)
		require.Equal(t, "shared", *res.Data)
	}
}

func TestFetch_servesCachedValueWithoutRefetch(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	fetcher := constFetcher("value", &calls)

	c.Fetch(context.Background(), "k", fetcher, Policy[string]{})
	res := c.Fetch(context.Background(), "k", fetcher, Policy[string]{})

	require.Equal(t, "value", *res.Data)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetch_failureKeepsLastGoodValueAndSetsErrorFlag(t *testing.T) {
	c := newTestCache(t)

	var fail atomic.Bool
	var value atomic.Value
	value.Store("first")
	fetcher := func(ctx context.Context) (string, error) {
		if fail.Load() {
			return "", errors.New("upstream down")
		}
		return value.Load().(string), nil
	}

	tags := func(string) []Tag { return []Tag{"things"} }
	policy := Policy[string]{Tags: tags}

	res := c.Fetch(context.Background(), "k", fetcher, policy)
	require.Equal(t, "first", *res.Data)

	// Invalidate while the upstream is down: data survives, the error flag is
	// raised beside it.
	fail.Store(true)
	c.Invalidate("things")

	require.Eventually(t, func() bool {
		res := c.Fetch(context.Background(), "k", fetcher, policy)
		return res.Err != nil
	}, time.Second, time.Millisecond)

	res = c.Fetch(context.Background(), "k", fetcher, policy)
	require.NotNil(t, res.Data)
	require.Equal(t, "first", *res.Data)
	require.True(t, res.Stale)

	// Upstream recovers: the next successful round clears the flag and
	// replaces the data.
	fail.Store(false)
	value.Store("second")

	require.Eventually(t, func() bool {
		res := c.Fetch(context.Background(), "k", fetcher, policy)
		return res.Err == nil && res.Data != nil && *res.Data == "second" && !res.Stale
	}, time.Second, 2*time.Millisecond)
}

func TestSubscribe_receivesCurrentValueAndUpdates(t *testing.T) {
	c := newTestCache(t)

	sub := c.Subscribe(context.Background(), "k", constFetcher("v1", nil), Policy[string]{})
	defer sub.Close()

	select {
	case res := <-sub.Updates():
		require.NoError(t, res.Err)
		require.Equal(t, "v1", *res.Data)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestInvalidate_subscribedEntriesRevalidateInBackground(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	fetcher := constFetcher("v", &calls)
	policy := Policy[string]{Tags: func(string) []Tag { return []Tag{"things", "thing:1"} }}

	sub := c.Subscribe(context.Background(), "k", fetcher, policy)
	defer sub.Close()

	<-sub.Updates()
	require.EqualValues(t, 1, calls.Load())

	c.Invalidate("thing:1")

	select {
	case res := <-sub.Updates():
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("no revalidation after invalidate")
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestInvalidate_unsubscribedEntriesRefetchOnNextRead(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	fetcher := constFetcher("v", &calls)
	policy := Policy[string]{Tags: func(string) []Tag { return []Tag{"things"} }}

	c.Fetch(context.Background(), "k", fetcher, policy)
	c.Invalidate("things")
	require.EqualValues(t, 1, calls.Load(), "no subscriber, no eager refetch")

	res := c.Fetch(context.Background(), "k", fetcher, policy)
	require.True(t, res.Stale, "stale value served while revalidating")

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, time.Second, time.Millisecond)
}

func TestInvalidate_untaggedEntriesUntouched(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	fetcher := constFetcher("v", &calls)
	policy := Policy[string]{Tags: func(string) []Tag { return []Tag{"things"} }}

	c.Fetch(context.Background(), "k", fetcher, policy)
	c.Invalidate("other")

	res := c.Fetch(context.Background(), "k", fetcher, policy)
	require.False(t, res.Stale)
	require.EqualValues(t, 1, calls.Load())
}

func TestEviction_unusedEntryRemovedAfterRetention(t *testing.T) {
	c := newTestCache(t)

	sub := c.Subscribe(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	<-sub.Updates()
	require.True(t, c.Has("k"))

	sub.Close()
	require.True(t, c.Has("k"), "entry survives until the retention window passes")

	require.Eventually(t, func() bool {
		return !c.Has("k")
	}, time.Second, 5*time.Millisecond)
}

func TestEviction_fetchOnlyEntryRemovedAfterRetention(t *testing.T) {
	c := newTestCache(t)

	c.Fetch(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	require.True(t, c.Has("k"))

	// Never subscribed, so the retention clock started at the read.
	require.Eventually(t, func() bool {
		return !c.Has("k")
	}, time.Second, 5*time.Millisecond)
}

func TestEviction_fetchTouchesExtendRetention(t *testing.T) {
	c := New[string](Config{
		Retention: 100 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(c.Close)

	var calls atomic.Int64
	fetcher := constFetcher("v", &calls)

	// Reads spaced well inside the retention window; the entry must survive
	// the whole stretch without a refetch.
	for i := 0; i < 8; i++ {
		c.Fetch(context.Background(), "k", fetcher, Policy[string]{})
		time.Sleep(20 * time.Millisecond)
	}
	require.EqualValues(t, 1, calls.Load())

	require.Eventually(t, func() bool {
		return !c.Has("k")
	}, time.Second, 5*time.Millisecond)
}

func TestEviction_resubscribeCancelsEviction(t *testing.T) {
	c := newTestCache(t)

	first := c.Subscribe(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	<-first.Updates()
	first.Close()

	second := c.Subscribe(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	defer second.Close()

	time.Sleep(100 * time.Millisecond)
	require.True(t, c.Has("k"))
}

func TestPolling_revalidatesWhileSubscribed(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	sub := c.Subscribe(context.Background(), "k", constFetcher("v", &calls),
		Policy[string]{PollInterval: 10 * time.Millisecond})

	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, time.Second, time.Millisecond)

	// After the last subscriber detaches, polling stops.
	sub.Close()
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, calls.Load(), settled+1)
}

func TestNotifyFocus_onlyOptedInEntriesRevalidate(t *testing.T) {
	c := newTestCache(t)

	var focusCalls, plainCalls atomic.Int64

	focusSub := c.Subscribe(context.Background(), "focus", constFetcher("v", &focusCalls),
		Policy[string]{RevalidateOnFocus: true})
	defer focusSub.Close()
	plainSub := c.Subscribe(context.Background(), "plain", constFetcher("v", &plainCalls),
		Policy[string]{})
	defer plainSub.Close()

	<-focusSub.Updates()
	<-plainSub.Updates()

	c.NotifyFocus()

	require.Eventually(t, func() bool {
		return focusCalls.Load() == 2
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 1, plainCalls.Load())
}

func TestNotifyReconnect_onlyOptedInEntriesRevalidate(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	sub := c.Subscribe(context.Background(), "k", constFetcher("v", &calls),
		Policy[string]{RevalidateOnReconnect: true})
	defer sub.Close()

	<-sub.Updates()
	c.NotifyReconnect()

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, time.Second, time.Millisecond)
}

func TestTriggers_doNotOverlapInFlightFetch(t *testing.T) {
	c := newTestCache(t)

	var calls atomic.Int64
	release := make(chan struct{})
	fetcher := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	sub := c.Subscribe(context.Background(), "k", fetcher,
		Policy[string]{RevalidateOnFocus: true, RevalidateOnReconnect: true})
	defer sub.Close()

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, time.Millisecond)

	// Triggers firing while a fetch runs must not spawn a second one.
	c.NotifyFocus()
	c.NotifyReconnect()
	c.NotifyFocus()

	close(release)
	<-sub.Updates()
	require.EqualValues(t, 1, calls.Load())
}

func TestFetch_closedCacheReportsError(t *testing.T) {
	c := newTestCache(t)
	c.Close()

	res := c.Fetch(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	require.ErrorIs(t, res.Err, ErrClosed)
	require.Nil(t, res.Data)
}

func TestFetch_closedCacheStillServesCachedValue(t *testing.T) {
	c := newTestCache(t)

	c.Fetch(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	c.Close()

	res := c.Fetch(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	require.NoError(t, res.Err)
	require.Equal(t, "v", *res.Data)
}

func TestFetch_resultSnapshotStable(t *testing.T) {
	c := newTestCache(t)

	want := c.Fetch(context.Background(), "k", constFetcher("v", nil), Policy[string]{})
	got := c.Fetch(context.Background(), "k", constFetcher("v", nil), Policy[string]{})

	if diff := cmp.Diff(*want.Data, *got.Data); diff != "" {
		t.Fatalf("fetch results differ (-want +got):\n%s", diff)
	}
}
