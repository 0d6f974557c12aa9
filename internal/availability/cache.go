// Package availability caches the server's free-slot labels per lane.
package availability

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	appLog "agialcal/internal/log"
	"agialcal/internal/metrics"
	"agialcal/internal/odoo"
)

// ErrSuperseded is returned when a newer request for the same lane started
// while this one was in flight; its result was discarded.
var ErrSuperseded = errors.New("availability: superseded by a newer request")

// Set is the availability of one lane. An unknown set (failed or not yet
// fetched) and a known-but-empty one are both resolved by the fail-open
// policy.
type Set struct {
	Known   bool     `json:"known"`
	Labels  []string `json:"labels"`
	Step    int      `json:"step,omitempty"`
	Service string   `json:"service,omitempty"`
}

// Allows reports whether a 12-hour label may be booked.
func (s Set) Allows(label string, failOpen bool) bool {
	if !s.Known || len(s.Labels) == 0 {
		return failOpen
	}
	i := sort.SearchStrings(s.Labels, label)
	return i < len(s.Labels) && s.Labels[i] == label
}

// StepMinutes returns the server-reported step when it is a positive
// multiple of slotMinutes, otherwise fallback.
func (s Set) StepMinutes(fallback, slotMinutes int) int {
	if s.Step > 0 && slotMinutes > 0 && s.Step%slotMinutes == 0 {
		return s.Step
	}
	return fallback
}

func (s Set) clone() Set {
	out := s
	out.Labels = append([]string(nil), s.Labels...)
	return out
}

func newSet(slots odoo.Slots) Set {
	labels := append([]string(nil), slots.Available...)
	sort.Strings(labels)
	return Set{Known: true, Labels: labels, Step: slots.Step, Service: slots.Service}
}

// Key identifies what a lane is showing: one cycle on one date.
type Key struct {
	Date      string `json:"date"`
	CycleID   string `json:"cycle_id"`
	CycleName string `json:"cycle_name"`
}

func (k Key) cacheKey() string {
	return k.Date + "|" + k.CycleID + "|" + k.CycleName
}

// Fetcher is the slice of the Odoo client the cache needs.
type Fetcher interface {
	AvailableSlots(ctx context.Context, req odoo.SlotsRequest) (odoo.Slots, error)
}

type laneState struct {
	key   Key
	token uint64
	set   Set
}

// Options configures a Cache.
type Options struct {
	Backend Backend
	TTL     time.Duration
	Metrics *metrics.Calendar
}

// Cache tracks the availability set of every lane. Each lane carries a
// monotonic token; a response is only applied when its token is still the
// lane's latest.
type Cache struct {
	fetcher Fetcher
	backend Backend
	ttl     time.Duration
	metrics *metrics.Calendar

	mu    sync.Mutex
	lanes map[string]*laneState
}

func New(fetcher Fetcher, opts Options) *Cache {
	backend := opts.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Cache{
		fetcher: fetcher,
		backend: backend,
		ttl:     opts.TTL,
		metrics: opts.Metrics,
		lanes:   map[string]*laneState{},
	}
}

// Ensure refreshes lane only when it is not already tracking key.
func (c *Cache) Ensure(ctx context.Context, lane string, key Key) (Set, error) {
	c.mu.Lock()
	if st, ok := c.lanes[lane]; ok && st.key == key {
		s := st.set.clone()
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx, lane, key)
}

// Refresh fetches the set for key and records it on lane. Fetch failures
// resolve to an unknown set and are logged, never returned. ErrSuperseded
// means a newer Refresh for the lane won.
func (c *Cache) Refresh(ctx context.Context, lane string, key Key) (Set, error) {
	c.mu.Lock()
	st, ok := c.lanes[lane]
	if !ok {
		st = &laneState{}
		c.lanes[lane] = st
	}
	st.token++
	token := st.token
	if st.key != key {
		st.key = key
		st.set = Set{}
	}
	c.mu.Unlock()

	set, outcome := c.fetch(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.token != token {
		c.metrics.ObserveAvailability("stale")
		return Set{}, ErrSuperseded
	}
	st.set = set
	c.metrics.ObserveAvailability(outcome)
	return set.clone(), nil
}

func (c *Cache) fetch(ctx context.Context, key Key) (Set, string) {
	ck := key.cacheKey()
	if s, ok, err := c.backend.Get(ctx, ck); err != nil {
		appLog.Warn("availability: backend read failed", "key", ck, "err", err)
	} else if ok {
		return s, "cached"
	}

	slots, err := c.fetcher.AvailableSlots(ctx, odoo.SlotsRequest{
		Date:      key.Date,
		CycleID:   key.CycleID,
		CycleName: key.CycleName,
	})
	if err != nil {
		appLog.Error("availability: fetch failed, treating lane as unknown", err,
			"date", key.Date, "cycle", key.CycleName)
		return Set{}, "failed"
	}

	set := newSet(slots)
	if err := c.backend.Put(ctx, ck, set, c.ttl); err != nil {
		appLog.Warn("availability: backend write failed", "key", ck, "err", err)
	}
	return set, "fresh"
}

// Lookup returns the lane's current set; unknown when never fetched.
func (c *Cache) Lookup(lane string) Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.lanes[lane]; ok {
		return st.set.clone()
	}
	return Set{}
}

// Tracked returns the key lane is tracking.
func (c *Cache) Tracked(lane string) (Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.lanes[lane]; ok {
		return st.key, true
	}
	return Key{}, false
}

// Invalidate forgets every lane and drops their shared entries, so the next
// Ensure refetches. In-flight requests are superseded.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.lanes))
	for lane, st := range c.lanes {
		keys = append(keys, st.key.cacheKey())
		st.token++
		delete(c.lanes, lane)
	}
	c.mu.Unlock()

	for _, k := range keys {
		if err := c.backend.Delete(ctx, k); err != nil {
			appLog.Warn("availability: backend delete failed", "key", k, "err", err)
		}
	}
}
