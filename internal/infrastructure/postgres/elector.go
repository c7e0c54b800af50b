package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Elector elects a leader per election path with a session-level advisory lock.
// The lock lives as long as the pinned connection, so a crashed or partitioned
// holder loses it when postgres drops the session.
type Elector struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	retryInterval time.Duration
	checkInterval time.Duration
}

var _ coord.Elector = (*Elector)(nil)

const (
	DefaultRetryInterval = time.Second
	DefaultCheckInterval = 2 * time.Second
)

// NewElector builds an elector. Non-positive intervals fall back to the defaults.
func NewElector(pool *pgxpool.Pool, logger *slog.Logger, retryInterval, checkInterval time.Duration) *Elector {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Elector{
		pool:          pool,
		logger:        logger.With("component", "elector"),
		retryInterval: retryInterval,
		checkInterval: checkInterval,
	}
}

func advisoryKey(electionPath string) int64 {
	return int64(xxhash.Sum64String(electionPath))
}

func (e *Elector) Acquire(ctx context.Context, electionPath string) (coord.Lease, error) {
	key := advisoryKey(electionPath)

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire election conn: %w", err)
	}

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	for {
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
			conn.Release()
			return nil, fmt.Errorf("try advisory lock %s: %w", electionPath, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	l := &advisoryLease{
		conn:   conn,
		key:    key,
		path:   electionPath,
		logger: e.logger,
		lost:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.monitor(e.checkInterval)
	return l, nil
}

type advisoryLease struct {
	conn   *pgxpool.Conn
	key    int64
	path   string
	logger *slog.Logger

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (l *advisoryLease) Lost() <-chan struct{} { return l.lost }

// monitor owns the connection until Release stops it; pgx connections are not
// safe for concurrent use.
func (l *advisoryLease) monitor(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), interval)
			err := l.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				l.logger.Warn("election session lost", "path", l.path, "error", err)
				l.lostOnce.Do(func() { close(l.lost) })
				return
			}
		}
	}
}

func (l *advisoryLease) Release(ctx context.Context) error {
	l.releaseOnce.Do(func() { l.releaseErr = l.release(ctx) })
	return l.releaseErr
}

func (l *advisoryLease) release(ctx context.Context) error {
	close(l.stop)
	<-l.done

	select {
	case <-l.lost:
		// The session is gone and the lock with it; make sure the pool drops the conn.
		_ = l.conn.Conn().Close(ctx)
		l.conn.Release()
		return nil
	default:
	}

	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	if err != nil {
		_ = l.conn.Conn().Close(ctx)
		l.conn.Release()
		return fmt.Errorf("advisory unlock %s: %w", l.path, err)
	}
	l.conn.Release()
	return nil
}
