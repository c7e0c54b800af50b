// Package state keeps a locally cached, eventually consistent view of every
// schedule, its execution bookkeeping and the workflow definitions, refreshed
// by watch notifications from the coordination store.
//
// Readers take one *Snapshot and evaluate against it; updates publish a new
// snapshot with an atomic pointer swap, so a snapshot never changes after it
// has been handed out.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/metrics"
	"golang.org/x/time/rate"
)

// maxBatch caps how many queued events are folded into one published snapshot.
const maxBatch = 128

type Cache struct {
	store   coord.Store
	logger  *slog.Logger
	limiter *rate.Limiter

	current atomic.Pointer[Snapshot]

	readyOnce sync.Once
	ready     chan struct{}
}

type Option func(*Cache)

// WithResyncLimit bounds how often the cache re-reads the whole catalog after
// its watch ends.
func WithResyncLimit(every time.Duration, burst int) Option {
	return func(c *Cache) { c.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

func NewCache(store coord.Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		logger:  logger.With("component", "state_cache"),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		ready:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.current.Store(emptySnapshot())
	return c
}

// Snapshot returns the latest published snapshot. It is never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Ready is closed once the first full load has been published.
func (c *Cache) Ready() <-chan struct{} {
	return c.ready
}

// Run loads the catalog and follows changes until ctx is done. A watch that
// ends early triggers a full resync, paced by the resync limiter.
func (c *Cache) Run(ctx context.Context) error {
	c.logger.Info("state cache started")
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Info("state cache shut down")
			return nil
		}

		if err := c.sync(ctx); err != nil && ctx.Err() == nil {
			metrics.CacheResyncsTotal.WithLabelValues("error").Inc()
			c.logger.Error("state cache sync", "error", err)
		}
		if ctx.Err() != nil {
			c.logger.Info("state cache shut down")
			return nil
		}
	}
}

// sync runs one watch session: subscribe, load everything, then apply events
// until the watch channel closes.
func (c *Cache) sync(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before loading so nothing written in between is missed.
	events, err := c.store.Watch(watchCtx, "/")
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}

	if err := c.Load(ctx); err != nil {
		return err
	}
	metrics.CacheResyncsTotal.WithLabelValues("ok").Inc()

	for ev := range events {
		batch := []coord.Event{ev}
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := c.applyEvents(ctx, batch); err != nil {
			return err
		}
	}

	if ctx.Err() == nil {
		c.logger.Warn("catalog watch ended, resyncing")
	}
	return nil
}

// Load replaces the snapshot with a full read of the catalog.
func (c *Cache) Load(ctx context.Context) error {
	next := emptySnapshot()
	next.Revision = c.Snapshot().Revision + 1

	for _, parent := range []string{coord.SchedulesPath, coord.ExecutionsPath, coord.WorkflowsPath} {
		nodes, err := c.store.Children(ctx, parent)
		if err != nil {
			return fmt.Errorf("load %s: %w", parent, err)
		}
		for _, n := range nodes {
			if err := next.apply(n); err != nil {
				c.logger.Warn("skipping undecodable node", "path", n.Path, "error", err)
			}
		}
	}

	c.publish(next)
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Debug("state cache loaded",
		"schedules", len(next.Schedules),
		"executions", len(next.Executions),
		"workflows", len(next.Workflows),
	)
	return nil
}

// applyEvents folds batch into a new snapshot. A node that cannot be re-read
// aborts the batch: the caller must resync, or the cache would keep serving
// the stale value until the node changes again.
func (c *Cache) applyEvents(ctx context.Context, batch []coord.Event) error {
	var next *Snapshot
	for _, ev := range batch {
		if !tracked(ev.Path) {
			continue
		}
		if next == nil {
			next = c.Snapshot().clone()
		}
		if ev.Type == coord.EventDeleted {
			next.remove(ev.Path)
			continue
		}

		n, err := c.store.Get(ctx, ev.Path)
		if errors.Is(err, coord.ErrNoNode) {
			next.remove(ev.Path)
			continue
		}
		if err != nil {
			return fmt.Errorf("refresh %s: %w", ev.Path, err)
		}
		if err := next.apply(n); err != nil {
			c.logger.Warn("skipping undecodable node", "path", n.Path, "error", err)
			next.remove(ev.Path)
		}
	}
	if next != nil {
		c.publish(next)
	}
	return nil
}

func (c *Cache) publish(s *Snapshot) {
	c.current.Store(s)
	metrics.CacheSchedules.Set(float64(len(s.Schedules)))
}
