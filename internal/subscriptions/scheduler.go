package subscriptions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruezetle/snuba/internal/tick"
)

// DefaultCacheTTL is the scheduler's default subscription-set cache
// lifetime (spec.md §6, schedule_ttl_seconds default 300).
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	subs    []Subscription
	fetched time.Time
}

// Scheduler enumerates, per tick, the ScheduledTasks due within that
// tick's interval, caching each partition's subscription set for
// cacheTTL (spec.md §4.6).
type Scheduler struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[int32]cacheEntry
}

// NewScheduler constructs a Scheduler reading from store. A zero cacheTTL
// defaults to DefaultCacheTTL.
func NewScheduler(store Store, cacheTTL time.Duration) *Scheduler {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Scheduler{store: store, cacheTTL: cacheTTL, cache: make(map[int32]cacheEntry)}
}

// ScheduleTick returns every ScheduledTask due within the half-open
// wall-clock interval [interval.Lower, interval.Upper), for every
// subscription cached (or freshly listed) for partition.
func (s *Scheduler) ScheduleTick(ctx context.Context, partition int32, interval tick.Interval[time.Time]) ([]ScheduledTask, error) {
	subs, err := s.subscriptionsFor(ctx, partition)
	if err != nil {
		return nil, err
	}

	var tasks []ScheduledTask
	for _, sub := range subs {
		for _, due := range dueTimestamps(interval, sub.Resolution) {
			tasks = append(tasks, ScheduledTask{Timestamp: due, Subscription: sub})
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].Timestamp.Equal(tasks[j].Timestamp) {
			return tasks[i].Timestamp.Before(tasks[j].Timestamp)
		}
		return tasks[i].Subscription.ID.String() < tasks[j].Subscription.ID.String()
	})
	return tasks, nil
}

func (s *Scheduler) subscriptionsFor(ctx context.Context, partition int32) ([]Subscription, error) {
	s.mu.Lock()
	entry, ok := s.cache[partition]
	s.mu.Unlock()
	if ok && time.Since(entry.fetched) < s.cacheTTL {
		return entry.subs, nil
	}

	subs, err := s.store.List(ctx, partition)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[partition] = cacheEntry{subs: subs, fetched: time.Now()}
	s.mu.Unlock()
	return subs, nil
}

// dueTimestamps enumerates every multiple of resolution t such that
// t ∈ [interval.Lower, interval.Upper), aligned to the Unix epoch
// (spec.md §4.6). If resolution <= 0 no timestamps are ever due.
func dueTimestamps(interval tick.Interval[time.Time], resolution time.Duration) []time.Time {
	if resolution <= 0 {
		return nil
	}
	r := resolution.Nanoseconds()
	lower := interval.Lower.UnixNano()
	upper := interval.Upper.UnixNano()

	first := (lower / r) * r
	if first < lower {
		first += r
	}

	var out []time.Time
	for t := first; t < upper; t += r {
		out = append(out, time.Unix(0, t).UTC())
	}
	return out
}
