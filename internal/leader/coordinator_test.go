package leader_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord/memstore"
	"github.com/ErlanBelekov/workflow-scheduler/internal/leader"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func blockUntilDone(ctx context.Context) { <-ctx.Done() }

func TestCoordinator_AtMostOneLeader(t *testing.T) {
	store := memstore.New()

	var active, maxActive, terms atomic.Int32
	listener := func(ctx context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		terms.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
		active.Add(-1)
	}

	const participants = 5
	for i := range participants {
		sess := store.NewSession(fmt.Sprintf("node-%d", i))
		c := leader.New(sess, coord.ElectionPath, listener, discard, leader.WithRequeueDelay(time.Millisecond))
		if err := c.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(c.Close)
	}

	waitFor(t, func() bool { return terms.Load() >= 20 })
	if m := maxActive.Load(); m != 1 {
		t.Fatalf("max concurrent leaders = %d, want 1", m)
	}
}

func TestCoordinator_FailoverAfterCrash(t *testing.T) {
	store := memstore.New()

	sessions := make(map[string]*memstore.Session)
	var mu sync.Mutex
	leaders := make(map[string]*atomic.Bool)

	for i := range 3 {
		id := fmt.Sprintf("node-%d", i)
		sess := store.NewSession(id)
		flag := &atomic.Bool{}
		c := leader.New(sess, coord.ElectionPath, func(ctx context.Context) {
			flag.Store(true)
			<-ctx.Done()
			flag.Store(false)
		}, discard, leader.WithRequeueDelay(time.Millisecond))
		if err := c.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(c.Close)

		mu.Lock()
		sessions[id] = sess
		leaders[id] = flag
		mu.Unlock()
	}

	var first string
	waitFor(t, func() bool {
		first = store.Leader(coord.ElectionPath)
		return first != "" && leaders[first].Load()
	})

	sessions[first].Expire()

	waitFor(t, func() bool {
		next := store.Leader(coord.ElectionPath)
		return next != "" && next != first && leaders[next].Load()
	})
	waitFor(t, func() bool { return !leaders[first].Load() })
}

func TestCoordinator_RequeuesAfterLeaseLoss(t *testing.T) {
	store := memstore.New()
	sess := store.NewSession("solo")

	var terms atomic.Int32
	c := leader.New(sess, coord.ElectionPath, func(ctx context.Context) {
		terms.Add(1)
		<-ctx.Done()
	}, discard, leader.WithRequeueDelay(time.Millisecond))
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Close)

	waitFor(t, func() bool { return terms.Load() == 1 && c.IsLeader() })
	sess.Revoke()
	waitFor(t, func() bool { return terms.Load() == 2 && c.IsLeader() })
}

func TestCoordinator_StartTwice(t *testing.T) {
	store := memstore.New()
	c := leader.New(store.NewSession("a"), coord.ElectionPath, blockUntilDone, discard)

	if err := c.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := c.Start(); !errors.Is(err, leader.ErrAlreadyStarted) {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}
	c.Close()
	if err := c.Start(); !errors.Is(err, leader.ErrClosed) {
		t.Fatalf("start after close = %v, want ErrClosed", err)
	}
}

func TestCoordinator_CloseInterruptsListenerAndIsIdempotent(t *testing.T) {
	store := memstore.New()
	returned := make(chan struct{})
	c := leader.New(store.NewSession("a"), coord.ElectionPath, func(ctx context.Context) {
		<-ctx.Done()
		close(returned)
	}, discard)

	c.Close() // not started: no-op

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, c.IsLeader)

	c.Close()
	select {
	case <-returned:
	default:
		t.Fatal("Close returned before the listener did")
	}
	if c.IsLeader() {
		t.Fatal("still leader after close")
	}
	if got := store.Leader(coord.ElectionPath); got != "" {
		t.Fatalf("lease still held by %q after close", got)
	}
	c.Close()
}
