package dragdrop

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"agialcal/internal/availability"
	"agialcal/internal/grid"
	appLog "agialcal/internal/log"
	"agialcal/internal/metrics"
)

// AvailabilitySource is the availability cache as the board uses it.
type AvailabilitySource interface {
	Availability
	Ensure(ctx context.Context, lane string, key availability.Key) (availability.Set, error)
}

// Options are shared by every lane controller on a board.
type Options struct {
	Geometry     grid.Geometry
	Events       Events
	Mover        Mover
	Availability AvailabilitySource
	// FailOpen lets drops through when a lane's availability is unknown.
	FailOpen bool
	Metrics  *metrics.Calendar
}

// Board holds one Controller per visible lane.
type Board struct {
	opts Options

	mu    sync.RWMutex
	lanes map[string]*Controller
	order []string
}

func NewBoard(opts Options) *Board {
	return &Board{opts: opts, lanes: map[string]*Controller{}}
}

// Configure replaces the lane set. Controllers of unchanged lanes keep
// their gesture state.
func (b *Board) Configure(lanes []Lane) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make(map[string]*Controller, len(lanes))
	order := make([]string, 0, len(lanes))
	for _, l := range lanes {
		if prev, ok := b.lanes[l.Key]; ok && prev.lane.equal(l) {
			next[l.Key] = prev
		} else {
			next[l.Key] = b.newController(l)
		}
		order = append(order, l.Key)
	}
	b.lanes = next
	b.order = order
}

func (b *Board) newController(l Lane) *Controller {
	var avail Availability
	if b.opts.Availability != nil {
		avail = b.opts.Availability
	}
	return &Controller{
		lane:     l,
		geom:     b.opts.Geometry,
		events:   b.opts.Events,
		mover:    b.opts.Mover,
		avail:    avail,
		failOpen: b.opts.FailOpen,
		metrics:  b.opts.Metrics,
	}
}

// Sync configures lanes and makes sure each lane with a cycle tracks its
// availability. Lookups run concurrently; failures were already resolved
// to "unknown" by the cache.
func (b *Board) Sync(ctx context.Context, lanes []Lane) error {
	b.Configure(lanes)
	if b.opts.Availability == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, l := range lanes {
		if l.Cycle == (availability.Key{}) {
			continue
		}
		g.Go(func() error {
			_, err := b.opts.Availability.Ensure(gctx, l.Key, l.Cycle)
			if errors.Is(err, availability.ErrSuperseded) {
				appLog.Debug("dragdrop: availability superseded", "lane", l.Key)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Lane returns the controller for key.
func (b *Board) Lane(key string) (*Controller, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.lanes[key]
	return c, ok
}

// Lanes lists the configured lanes in display order.
func (b *Board) Lanes() []Lane {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Lane, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.lanes[k].lane)
	}
	return out
}
