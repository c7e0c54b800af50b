package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord/memstore"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/execution"
	"github.com/ErlanBelekov/workflow-scheduler/internal/metrics"
	"github.com/ErlanBelekov/workflow-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	nodes *memstore.Store
	cache *state.Cache
	execs *execution.Store
}

func newHarness(t *testing.T, maxPayload int) *harness {
	t.Helper()
	nodes := memstore.New()
	cache := state.NewCache(nodes, discard, state.WithResyncLimit(time.Millisecond, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = cache.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-cache.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("cache never became ready")
	}
	return &harness{nodes: nodes, cache: cache, execs: execution.NewStore(nodes, maxPayload)}
}

func (h *harness) put(t *testing.T, p string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.nodes.Put(context.Background(), p, b); err != nil {
		t.Fatalf("put %s: %v", p, err)
	}
}

func (h *harness) putWorkflow(t *testing.T, id string, note string) {
	t.Helper()
	h.put(t, coord.WorkflowKey(id), domain.Workflow{
		ID:   domain.WorkflowID(id),
		Name: id,
		Tasks: []domain.Task{
			{ID: "t1", Type: "shell", Payload: map[string]any{"note": note}},
		},
	})
}

// putDueSchedule stores a schedule with initialised bookkeeping that is due now.
func (h *harness) putDueSchedule(t *testing.T, id string) {
	t.Helper()
	h.put(t, coord.ScheduleKey(id), domain.Schedule{
		ID:         domain.ScheduleID(id),
		WorkflowID: "wf",
		Repetition: domain.Once,
	})
	h.put(t, coord.ExecutionKey(id), domain.ScheduleExecution{})
}

func (h *harness) waitForSnapshot(t *testing.T, cond func(*state.Snapshot) bool) {
	t.Helper()
	waitFor(t, func() bool { return cond(h.cache.Snapshot()) })
}

func (h *harness) hasMarker(t *testing.T, id string) bool {
	t.Helper()
	ok, err := h.execs.HasMarker(context.Background(), domain.ScheduleID(id))
	if err != nil {
		t.Fatalf("has marker: %v", err)
	}
	return ok
}

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

// hookedExecutions counts marker checks and can run a hook before each one.
type hookedExecutions struct {
	scheduler.ExecutionStore
	checks atomic.Int32
	before func(ctx context.Context, id domain.ScheduleID) error
}

func (e *hookedExecutions) HasMarker(ctx context.Context, id domain.ScheduleID) (bool, error) {
	e.checks.Add(1)
	if e.before != nil {
		if err := e.before(ctx, id); err != nil {
			return false, err
		}
	}
	return e.ExecutionStore.HasMarker(ctx, id)
}

type recordingNotifier struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (n *recordingNotifier) ExecutionCreated(_ context.Context, _ domain.ScheduleID, runPath string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, runPath)
	return n.err
}

func TestTickOnce_CreatesMarkerAndNotifies(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "hello")
	h.putDueSchedule(t, "s-1")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool {
		_, ok := s.Execution("s-1")
		_, wf := s.Workflow("wf")
		return ok && wf
	})

	notifier := &recordingNotifier{}
	s := scheduler.New(scheduler.Config{
		Cache:      h.cache,
		Executions: h.execs,
		Notifier:   notifier,
		Logger:     discard,
	})

	created := metrics.ExecutionsTotal.WithLabelValues("created")
	before := testutil.ToFloat64(created)

	s.TickOnce(context.Background())
	s.TickOnce(context.Background())

	if !h.hasMarker(t, "s-1") {
		t.Fatal("marker not created")
	}
	if got := testutil.ToFloat64(created) - before; got != 1 {
		t.Fatalf("created executions = %v, want 1", got)
	}
	if len(notifier.paths) != 1 || notifier.paths[0] != "/runs/schedules/s-1" {
		t.Fatalf("notifications = %v", notifier.paths)
	}

	node, err := h.nodes.Get(context.Background(), execution.MarkerPath("s-1"))
	if err != nil {
		t.Fatalf("get marker: %v", err)
	}
	var run execution.RunPayload
	if err := json.Unmarshal(node.Data, &run); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	if run.ScheduleID != "s-1" || run.Workflow.ID != "wf" {
		t.Fatalf("marker payload = %+v", run)
	}
}

func TestTickOnce_NotifierFailureKeepsMarker(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "x")
	h.putDueSchedule(t, "s-1")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool { _, ok := s.Execution("s-1"); return ok })

	s := scheduler.New(scheduler.Config{
		Cache:      h.cache,
		Executions: h.execs,
		Notifier:   &recordingNotifier{err: errors.New("broker down")},
		Logger:     discard,
	})
	s.TickOnce(context.Background())

	if !h.hasMarker(t, "s-1") {
		t.Fatal("marker missing after notifier failure")
	}
}

func TestTickOnce_SkipsScheduleWithoutBookkeeping(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "x")
	h.put(t, coord.ScheduleKey("orphan"), domain.Schedule{ID: "orphan", WorkflowID: "wf", Repetition: domain.Once})
	h.waitForSnapshot(t, func(s *state.Snapshot) bool { _, ok := s.Schedule("orphan"); return ok })

	anomalies := metrics.ScheduleAnomaliesTotal.WithLabelValues("missing_execution")
	before := testutil.ToFloat64(anomalies)

	scheduler.New(scheduler.Config{Cache: h.cache, Executions: h.execs, Logger: discard}).
		TickOnce(context.Background())

	if h.hasMarker(t, "orphan") {
		t.Fatal("marker created for schedule without bookkeeping")
	}
	if got := testutil.ToFloat64(anomalies) - before; got != 1 {
		t.Fatalf("anomalies = %v, want 1", got)
	}
}

func TestTickOnce_SkipsScheduleWithUnknownWorkflow(t *testing.T) {
	h := newHarness(t, 0)
	h.putDueSchedule(t, "s-1")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool { _, ok := s.Execution("s-1"); return ok })

	anomalies := metrics.ScheduleAnomaliesTotal.WithLabelValues("missing_workflow")
	before := testutil.ToFloat64(anomalies)

	scheduler.New(scheduler.Config{Cache: h.cache, Executions: h.execs, Logger: discard}).
		TickOnce(context.Background())

	if h.hasMarker(t, "s-1") {
		t.Fatal("marker created for unresolved workflow")
	}
	if got := testutil.ToFloat64(anomalies) - before; got != 1 {
		t.Fatalf("anomalies = %v, want 1", got)
	}
}

func TestTickOnce_OversizedPayloadReportedOnceUntilDefinitionChanges(t *testing.T) {
	h := newHarness(t, 512)
	h.putWorkflow(t, "wf", strings.Repeat("x", 1024))
	h.putDueSchedule(t, "s-1")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool {
		_, ok := s.Execution("s-1")
		_, wf := s.Workflow("wf")
		return ok && wf
	})

	s := scheduler.New(scheduler.Config{Cache: h.cache, Executions: h.execs, Logger: discard})
	rejected := metrics.ExecutionsTotal.WithLabelValues("rejected")
	before := testutil.ToFloat64(rejected)

	for range 3 {
		s.TickOnce(context.Background())
	}
	if got := testutil.ToFloat64(rejected) - before; got != 1 {
		t.Fatalf("rejections reported = %v, want 1", got)
	}
	if h.hasMarker(t, "s-1") {
		t.Fatal("marker created for oversized payload")
	}

	h.putWorkflow(t, "wf", "small")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool {
		wf, _ := s.Workflow("wf")
		return len(wf.Tasks) == 1 && wf.Tasks[0].Payload["note"] == "small"
	})
	s.TickOnce(context.Background())

	if !h.hasMarker(t, "s-1") {
		t.Fatal("marker not created after payload shrank")
	}
}

// jitterDenormalizer returns an oversized payload whose length changes on every
// call, the way a formatted trigger time does.
type jitterDenormalizer struct{ calls int }

func (d *jitterDenormalizer) Denormalize(*state.Snapshot, domain.ScheduleID, domain.WorkflowID, time.Time) ([]byte, error) {
	d.calls++
	return []byte(strings.Repeat("x", 1024-d.calls)), nil
}

func TestTickOnce_OversizedPayloadStaysSuppressedWhenOnlyLengthVaries(t *testing.T) {
	h := newHarness(t, 512)
	h.putWorkflow(t, "wf", "x")
	h.putDueSchedule(t, "s-1")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool {
		_, ok := s.Execution("s-1")
		_, wf := s.Workflow("wf")
		return ok && wf
	})

	denorm := &jitterDenormalizer{}
	s := scheduler.New(scheduler.Config{Cache: h.cache, Executions: h.execs, Denormalizer: denorm, Logger: discard})
	rejected := metrics.ExecutionsTotal.WithLabelValues("rejected")
	before := testutil.ToFloat64(rejected)

	for range 4 {
		s.TickOnce(context.Background())
	}
	if denorm.calls != 4 {
		t.Fatalf("denormalize calls = %d, want 4", denorm.calls)
	}
	if got := testutil.ToFloat64(rejected) - before; got != 1 {
		t.Fatalf("rejections reported = %v, want 1 while the definition is unchanged", got)
	}
}

func TestTickOnce_EvaluatesOneSnapshot(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "x")
	h.putDueSchedule(t, "a")
	h.putDueSchedule(t, "b")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool {
		_, a := s.Execution("a")
		_, b := s.Execution("b")
		return a && b
	})

	// The first check deletes the other schedule and waits for the cache to
	// publish that; the tick must still decide on the snapshot it started with.
	var once sync.Once
	execs := &hookedExecutions{ExecutionStore: h.execs}
	execs.before = func(ctx context.Context, id domain.ScheduleID) error {
		once.Do(func() {
			other := "a"
			if id == "a" {
				other = "b"
			}
			_ = h.nodes.Delete(ctx, coord.ScheduleKey(other))
			h.waitForSnapshot(t, func(s *state.Snapshot) bool {
				_, ok := s.Schedule(domain.ScheduleID(other))
				return !ok
			})
		})
		return nil
	}

	scheduler.New(scheduler.Config{Cache: h.cache, Executions: execs, Logger: discard}).
		TickOnce(context.Background())

	if !h.hasMarker(t, "a") || !h.hasMarker(t, "b") {
		t.Fatal("decisions changed by a mid-tick cache update")
	}
}

func TestTickOnce_StoreErrorSkipsOnlyThatSchedule(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "x")
	h.putDueSchedule(t, "bad")
	h.putDueSchedule(t, "good")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool {
		_, a := s.Execution("bad")
		_, b := s.Execution("good")
		return a && b
	})

	execs := &hookedExecutions{ExecutionStore: h.execs}
	execs.before = func(_ context.Context, id domain.ScheduleID) error {
		if id == "bad" {
			return coord.ErrSessionClosed
		}
		return nil
	}

	errs := metrics.StoreErrorsTotal.WithLabelValues("has_marker")
	before := testutil.ToFloat64(errs)

	scheduler.New(scheduler.Config{Cache: h.cache, Executions: execs, Logger: discard}).
		TickOnce(context.Background())

	if !h.hasMarker(t, "good") {
		t.Fatal("healthy schedule not processed")
	}
	if h.hasMarker(t, "bad") {
		t.Fatal("failing schedule processed")
	}
	if got := testutil.ToFloat64(errs) - before; got != 1 {
		t.Fatalf("store errors = %v, want 1", got)
	}
}

func TestTickOnce_StopsWhenCancelled(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "x")
	for _, id := range []string{"a", "b", "c"} {
		h.putDueSchedule(t, id)
	}
	h.waitForSnapshot(t, func(s *state.Snapshot) bool { return len(s.Executions) == 3 })

	ctx, cancel := context.WithCancel(context.Background())
	execs := &hookedExecutions{ExecutionStore: h.execs}
	execs.before = func(context.Context, domain.ScheduleID) error {
		cancel()
		return context.Canceled
	}

	scheduler.New(scheduler.Config{Cache: h.cache, Executions: execs, Logger: discard}).TickOnce(ctx)

	if n := execs.checks.Load(); n != 1 {
		t.Fatalf("marker checks after cancellation = %d, want 1", n)
	}
}

func TestScheduler_LeadershipLossStopsLoopPromptly(t *testing.T) {
	h := newHarness(t, 0)
	h.putWorkflow(t, "wf", "x")
	h.putDueSchedule(t, "s-1")
	h.waitForSnapshot(t, func(s *state.Snapshot) bool { _, ok := s.Execution("s-1"); return ok })

	sess := h.nodes.NewSession("node-1")
	execs := &hookedExecutions{ExecutionStore: h.execs}
	s := scheduler.New(scheduler.Config{
		Elector:      sess,
		Cache:        h.cache,
		Executions:   execs,
		PollInterval: 20 * time.Millisecond,
		RequeueDelay: time.Hour,
		Logger:       discard,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Close)

	waitFor(t, func() bool { return h.hasMarker(t, "s-1") })

	sess.Revoke()
	waitFor(t, func() bool { return !s.IsLeader() })

	seen := execs.checks.Load()
	time.Sleep(100 * time.Millisecond)
	if got := execs.checks.Load(); got != seen {
		t.Fatalf("store reads after leadership loss: %d -> %d", seen, got)
	}
}

func TestScheduler_StartTwiceFails(t *testing.T) {
	h := newHarness(t, 0)
	s := scheduler.New(scheduler.Config{
		Elector:    h.nodes.NewSession("node-1"),
		Cache:      h.cache,
		Executions: h.execs,
		Logger:     discard,
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, scheduler.ErrAlreadyStarted) {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}
	s.Close()
	s.Close()
	if err := s.Start(); !errors.Is(err, scheduler.ErrClosed) {
		t.Fatalf("start after close = %v, want ErrClosed", err)
	}
}
