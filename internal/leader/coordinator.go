// Package leader runs this process in the cluster-wide election and hands the
// elected process a context that lives exactly as long as its leadership.
package leader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/metrics"
)

var (
	ErrAlreadyStarted = errors.New("leader coordinator already started")
	ErrClosed         = errors.New("leader coordinator closed")
)

const DefaultRequeueDelay = time.Second

// Listener runs while this process is leader. ctx is cancelled when the lease
// is lost or the coordinator is closed; returning gives leadership up.
type Listener func(ctx context.Context)

type lifecycle int

const (
	latent lifecycle = iota
	started
	closed
)

type Coordinator struct {
	elector      coord.Elector
	path         string
	listener     Listener
	logger       *slog.Logger
	requeueDelay time.Duration

	mu     sync.Mutex
	state  lifecycle
	cancel context.CancelFunc
	done   chan struct{}

	leader atomic.Bool
}

type Option func(*Coordinator)

func WithRequeueDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.requeueDelay = d }
}

func New(elector coord.Elector, path string, listener Listener, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		elector:      elector,
		path:         path,
		listener:     listener,
		logger:       logger.With("component", "leader", "election_path", path),
		requeueDelay: DefaultRequeueDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start enters the election. It may be called once.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case started:
		return ErrAlreadyStarted
	case closed:
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.state = started
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx)
	return nil
}

// Close leaves the election for good, interrupting the listener if it is
// running, and waits for it to return. Close on a coordinator that is not
// started does nothing.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.state != started {
		c.mu.Unlock()
		return
	}
	c.state = closed
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Coordinator) IsLeader() bool {
	return c.leader.Load()
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	c.logger.Info("joined election")
	for {
		if err := c.lead(ctx); err != nil && ctx.Err() == nil {
			metrics.ElectionErrorsTotal.Inc()
			c.logger.Error("election attempt failed", "error", err)
		}

		if ctx.Err() != nil {
			c.logger.Info("left election")
			return
		}

		t := time.NewTimer(c.requeueDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.logger.Info("left election")
			return
		case <-t.C:
		}
	}
}

// lead blocks until a lease is held, runs the listener under it and gives the
// lease back. It returns nil after a full leadership term.
func (c *Coordinator) lead(ctx context.Context) error {
	lease, err := c.elector.Acquire(ctx, c.path)
	if err != nil {
		return err
	}

	termCtx, cancelTerm := context.WithCancel(ctx)
	lostByLease := make(chan struct{})
	go func() {
		select {
		case <-lease.Lost():
			close(lostByLease)
			cancelTerm()
		case <-termCtx.Done():
		}
	}()

	c.leader.Store(true)
	metrics.IsLeader.Set(1)
	metrics.LeaderAcquisitionsTotal.Inc()
	c.logger.Info("took leadership")

	c.listener(termCtx)

	c.leader.Store(false)
	metrics.IsLeader.Set(0)
	cancelTerm()

	reason := "relinquished"
	select {
	case <-lostByLease:
		reason = "lease_lost"
	default:
		if ctx.Err() != nil {
			reason = "closed"
		}
	}
	metrics.LeaderLossesTotal.WithLabelValues(reason).Inc()
	c.logger.Info("gave up leadership", "reason", reason)

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		c.logger.Warn("release lease", "error", err)
	}
	return nil
}
