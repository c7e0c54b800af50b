package state_test

import (
	"context"
	"encoding/json"
	"io"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord/memstore"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func putJSON(t *testing.T, s coord.Store, p string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := s.Put(context.Background(), p, b); err != nil {
		t.Fatalf("put %s: %v", p, err)
	}
}

func putSchedule(t *testing.T, s coord.Store, id string) {
	t.Helper()
	rep, _ := domain.NewRepetition(time.Minute, domain.RepetitionRelative, domain.Unlimited)
	putJSON(t, s, coord.ScheduleKey(id), domain.Schedule{
		ID:         domain.ScheduleID(id),
		WorkflowID: "wf",
		Repetition: rep,
	})
}

func startCache(t *testing.T, s coord.Store) *state.Cache {
	t.Helper()
	c := state.NewCache(s, discard, state.WithResyncLimit(time.Millisecond, 1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("cache never became ready")
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCache_InitialLoad(t *testing.T) {
	s := memstore.New()
	putSchedule(t, s, "s-1")
	putJSON(t, s, coord.ExecutionKey("s-1"), domain.ScheduleExecution{ExecutionCount: 2})
	putJSON(t, s, coord.WorkflowKey("wf"), domain.Workflow{ID: "wf", Name: "nightly"})

	snap := startCache(t, s).Snapshot()

	if _, ok := snap.Schedule("s-1"); !ok {
		t.Fatal("schedule s-1 missing from snapshot")
	}
	exec, ok := snap.Execution("s-1")
	if !ok || exec.ExecutionCount != 2 || exec.ScheduleID != "s-1" {
		t.Fatalf("execution = %+v, ok = %v", exec, ok)
	}
	if wf, ok := snap.Workflow("wf"); !ok || wf.Name != "nightly" {
		t.Fatalf("workflow = %+v, ok = %v", wf, ok)
	}
}

func TestCache_FollowsWatchEvents(t *testing.T) {
	s := memstore.New()
	c := startCache(t, s)

	putSchedule(t, s, "s-1")
	waitFor(t, func() bool {
		_, ok := c.Snapshot().Schedule("s-1")
		return ok
	})

	if err := s.Delete(context.Background(), coord.ScheduleKey("s-1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := c.Snapshot().Schedule("s-1")
		return !ok
	})
}

func TestCache_PublishedSnapshotNeverChanges(t *testing.T) {
	s := memstore.New()
	putSchedule(t, s, "s-1")
	c := startCache(t, s)

	before := c.Snapshot()
	putSchedule(t, s, "s-2")
	_ = s.Delete(context.Background(), coord.ScheduleKey("s-1"))

	waitFor(t, func() bool {
		_, added := c.Snapshot().Schedule("s-2")
		_, kept := c.Snapshot().Schedule("s-1")
		return added && !kept
	})

	if len(before.Schedules) != 1 {
		t.Fatalf("old snapshot has %d schedules, want 1", len(before.Schedules))
	}
	if _, ok := before.Schedule("s-1"); !ok {
		t.Fatal("old snapshot lost s-1")
	}
	if c.Snapshot().Revision <= before.Revision {
		t.Fatal("expected revision to advance")
	}
}

func TestCache_SkipsUndecodableNodes(t *testing.T) {
	s := memstore.New()
	putSchedule(t, s, "good")
	if err := s.Put(context.Background(), coord.ScheduleKey("bad"),
		[]byte(`{"workflow_id":"wf","repetition":{"duration_ms":0,"type":"RELATIVE","qty":-5}}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	snap := startCache(t, s).Snapshot()
	if _, ok := snap.Schedule("good"); !ok {
		t.Fatal("valid schedule missing")
	}
	if _, ok := snap.Schedule("bad"); ok {
		t.Fatal("schedule with invalid qty should be skipped")
	}
}

// flakyGetStore fails the next Get after failNextGet is set.
type flakyGetStore struct {
	*memstore.Store
	failNextGet atomic.Bool
}

func (f *flakyGetStore) Get(ctx context.Context, p string) (coord.Node, error) {
	if f.failNextGet.CompareAndSwap(true, false) {
		return coord.Node{}, errors.New("connection reset")
	}
	return f.Store.Get(ctx, p)
}

func TestCache_ResyncsAfterFailedRefresh(t *testing.T) {
	s := &flakyGetStore{Store: memstore.New()}
	putSchedule(t, s, "s")
	putJSON(t, s, coord.ExecutionKey("s"), domain.ScheduleExecution{ExecutionCount: 1, LastExecutionStart: time.Unix(100, 0)})
	c := startCache(t, s)

	s.failNextGet.Store(true)
	putJSON(t, s, coord.ExecutionKey("s"), domain.ScheduleExecution{ExecutionCount: 2, LastExecutionStart: time.Unix(200, 0)})

	waitFor(t, func() bool {
		e, ok := c.Snapshot().Execution("s")
		return ok && e.ExecutionCount == 2
	})
	if s.failNextGet.Load() {
		t.Fatal("refresh never attempted")
	}
}

func TestCache_SkipsWorkflowWithMismatchedID(t *testing.T) {
	s := memstore.New()
	putJSON(t, s, coord.WorkflowKey("wf-path"), domain.Workflow{ID: "wf-other", Name: "x"})
	putJSON(t, s, coord.WorkflowKey("wf-ok"), domain.Workflow{Name: "y"})
	c := startCache(t, s)

	snap := c.Snapshot()
	if _, ok := snap.Workflow("wf-other"); ok {
		t.Fatal("workflow stored under its body id instead of being skipped")
	}
	if _, ok := snap.Workflow("wf-path"); ok {
		t.Fatal("mismatched workflow stored under its path")
	}
	if wf, ok := snap.Workflow("wf-ok"); !ok || wf.ID != "wf-ok" {
		t.Fatalf("workflow without body id = %+v, ok = %v", wf, ok)
	}

	putJSON(t, s, coord.WorkflowKey("wf-path"), domain.Workflow{ID: "wf-other", Name: "z"})
	if err := s.Delete(context.Background(), coord.WorkflowKey("wf-ok")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := c.Snapshot().Workflow("wf-ok")
		return !ok
	})
	if _, ok := c.Snapshot().Workflow("wf-other"); ok {
		t.Fatal("mismatched workflow update left an entry")
	}
}
