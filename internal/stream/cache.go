package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
)

// Cache is the delta cache: per (topic, sub-key, FilterKey, ShapingKey)
// snapshot store with TTL and a last-sent hash. It collapses bursts of
// simultaneous joins into one provider call and lets the scheduler suppress
// redundant broadcasts.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[entryKey]*entry
}

type entryKey struct {
	topic   string
	subKey  string
	filter  FilterKey
	shaping ShapingKey
}

type entry struct {
	mu        sync.Mutex
	inflight  chan struct{} // non-nil while a provider fetch is running
	snapshot  any
	fetchedAt time.Time
	hasValue  bool
	sentHash  [32]byte
	hashSet   bool
}

// NewCache creates a cache with the given freshness window.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[entryKey]*entry)}
}

func (c *Cache) entryFor(k entryKey) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[k]
	if e == nil {
		e = &entry{}
		c.entries[k] = e
	}
	return e
}

// GetOrFetch returns the cached snapshot when fresh, otherwise invokes the
// topic's provider and stores the result. force bypasses the freshness
// check. When another fetch for the same key is in flight, GetOrFetch waits
// for it and reuses its result. Provider failures are wrapped as provider
// faults and never evict a prior good value.
func (c *Cache) GetOrFetch(ctx context.Context, t *Topic, subKey string, f protocol.Filters, shape Shaping, force bool) (any, error) {
	snap, _, err := c.fetch(ctx, t, subKey, f, shape, force, true)
	return snap, err
}

// TickFetch is the scheduler-tick variant of GetOrFetch: if a fetch for the
// key is already in flight it reports busy instead of waiting, so a slow
// provider can never pile up overlapping fetches for one key.
func (c *Cache) TickFetch(ctx context.Context, t *Topic, subKey string, f protocol.Filters, shape Shaping) (snapshot any, busy bool, err error) {
	return c.fetch(ctx, t, subKey, f, shape, false, false)
}

func (c *Cache) fetch(ctx context.Context, t *Topic, subKey string, f protocol.Filters, shape Shaping, force, wait bool) (any, bool, error) {
	k := entryKey{topic: t.ID, subKey: subKey, filter: KeyForFilters(f), shaping: shape.Key()}
	e := c.entryFor(k)

	for {
		e.mu.Lock()
		if !force && e.hasValue && time.Since(e.fetchedAt) < c.ttl {
			snap := e.snapshot
			e.mu.Unlock()
			return snap, false, nil
		}
		if e.inflight != nil {
			ch := e.inflight
			e.mu.Unlock()
			if !wait {
				return nil, true, nil
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			// The fetch that just finished is as fresh as it gets; a forced
			// refresh is satisfied by it.
			force = false
			continue
		}
		ch := make(chan struct{})
		e.inflight = ch
		e.mu.Unlock()

		snap, err := t.Provider(ctx, subKey, f, shape)

		e.mu.Lock()
		e.inflight = nil
		close(ch)
		if err != nil {
			e.mu.Unlock()
			return nil, false, fault.Wrap(fault.KindProvider, err, "provider for topic %s failed", t.ID)
		}
		e.snapshot = snap
		e.fetchedAt = time.Now()
		e.hasValue = true
		e.mu.Unlock()
		return snap, false, nil
	}
}

// HasChangedAndMark computes the content hash of snapshot and compares it to
// the stored last-sent hash. When the snapshot differs the stored hash is
// updated in the same critical section, so two interleaved ticks can never
// both conclude "changed". Callers must only invoke this on the send path.
func (c *Cache) HasChangedAndMark(t *Topic, subKey string, fk FilterKey, sk ShapingKey, snapshot any) bool {
	data, err := json.Marshal(snapshot)
	if err != nil {
		// Unhashable snapshots are always treated as changed.
		return true
	}
	sum := blake3.Sum256(data)

	e := c.entryFor(entryKey{topic: t.ID, subKey: subKey, filter: fk, shaping: sk})
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hashSet && e.sentHash == sum {
		return false
	}
	e.sentHash = sum
	e.hashSet = true
	return true
}

// Purge drops every entry for (topic, FilterKey) across all sub-keys and
// shaping keys. Invoked when a room empties.
func (c *Cache) Purge(topicID string, fk FilterKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.topic == topicID && k.filter == fk {
			delete(c.entries, k)
		}
	}
}
