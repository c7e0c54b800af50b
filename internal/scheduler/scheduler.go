// Package scheduler runs the scheduling loop: while this process is leader it
// wakes every poll interval, evaluates each schedule against one snapshot of
// the catalog and writes an execution marker for the ones that are due.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/execution"
	"github.com/ErlanBelekov/workflow-scheduler/internal/leader"
	"github.com/ErlanBelekov/workflow-scheduler/internal/metrics"
	"github.com/ErlanBelekov/workflow-scheduler/internal/requestid"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
)

var (
	ErrAlreadyStarted = leader.ErrAlreadyStarted
	ErrClosed         = leader.ErrClosed
)

const DefaultPollInterval = time.Second

// StateView is satisfied by *state.Cache.
type StateView interface {
	Snapshot() *state.Snapshot
	Ready() <-chan struct{}
}

// ExecutionStore is satisfied by *execution.Store.
type ExecutionStore interface {
	HasMarker(ctx context.Context, id domain.ScheduleID) (bool, error)
	TryCreate(ctx context.Context, id domain.ScheduleID, payload []byte) (execution.Outcome, error)
}

// Notifier is told about every marker this process creates.
type Notifier interface {
	ExecutionCreated(ctx context.Context, id domain.ScheduleID, runPath string) error
}

type Config struct {
	Elector      coord.Elector
	Cache        StateView
	Executions   ExecutionStore
	Denormalizer execution.Denormalizer
	Notifier     Notifier // optional

	PollInterval time.Duration
	RequeueDelay time.Duration
	ElectionPath string
	Clock        func() time.Time
	Logger       *slog.Logger
}

type Scheduler struct {
	cache        StateView
	executions   ExecutionStore
	denormalizer execution.Denormalizer
	notifier     Notifier
	pollInterval time.Duration
	clock        func() time.Time
	logger       *slog.Logger
	coordinator  *leader.Coordinator

	tickMu sync.Mutex
	// rejected holds the definition digest of schedules whose payload was
	// refused; they are not retried until the schedule or workflow changes.
	rejected map[domain.ScheduleID]uint64
}

func New(cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = leader.DefaultRequeueDelay
	}
	if cfg.ElectionPath == "" {
		cfg.ElectionPath = coord.ElectionPath
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Denormalizer == nil {
		cfg.Denormalizer = execution.JSONDenormalizer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		cache:        cfg.Cache,
		executions:   cfg.Executions,
		denormalizer: cfg.Denormalizer,
		notifier:     cfg.Notifier,
		pollInterval: cfg.PollInterval,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("component", "scheduler"),
		rejected:     make(map[domain.ScheduleID]uint64),
	}
	s.coordinator = leader.New(cfg.Elector, cfg.ElectionPath, s.takeLeadership, cfg.Logger,
		leader.WithRequeueDelay(cfg.RequeueDelay))
	return s
}

// Start joins the leader election. Calling it twice, or after Close, fails.
func (s *Scheduler) Start() error {
	if err := s.coordinator.Start(); err != nil {
		return err
	}
	metrics.StartTime.SetToCurrentTime()
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)
	return nil
}

// Close stops the loop if it is running and leaves the election.
func (s *Scheduler) Close() {
	s.coordinator.Close()
}

func (s *Scheduler) IsLeader() bool {
	return s.coordinator.IsLeader()
}

// TickOnce evaluates every schedule once, as the leader loop does on each tick.
func (s *Scheduler) TickOnce(ctx context.Context) {
	s.startNewTasks(ctx)
}

func (s *Scheduler) takeLeadership(ctx context.Context) {
	select {
	case <-s.cache.Ready():
	case <-ctx.Done():
		return
	}
	s.logger.InfoContext(ctx, "scheduling loop running")

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduling loop stopped")
			return
		case <-timer.C:
		}

		s.monitorRunningTasks()
		s.startNewTasks(ctx)
		timer.Reset(s.pollInterval)
	}
}

// monitorRunningTasks is where supervision of in-flight executions would hook
// in; the execution engine owns that today.
func (s *Scheduler) monitorRunningTasks() {}

func (s *Scheduler) startNewTasks(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	metrics.TicksTotal.Inc()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	ctx = requestid.WithTickID(ctx, requestid.New())

	snap := s.cache.Snapshot()
	ids := snap.ScheduleIDs()
	for i, id := range ids {
		if ctx.Err() != nil {
			s.logger.DebugContext(ctx, "tick interrupted", "remaining", len(ids)-i)
			return
		}
		s.evaluate(ctx, snap, id)
	}

	for id := range s.rejected {
		if _, ok := snap.Schedule(id); !ok {
			delete(s.rejected, id)
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, snap *state.Snapshot, id domain.ScheduleID) {
	logger := s.logger.With("schedule_id", id)

	exists, err := s.executions.HasMarker(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.StoreErrorsTotal.WithLabelValues("has_marker").Inc()
		logger.ErrorContext(ctx, "check execution marker", "error", err)
		return
	}
	if exists {
		return
	}

	sched, ok := snap.Schedule(id)
	if !ok {
		logger.DebugContext(ctx, "schedule removed, skipping")
		return
	}
	last, ok := snap.Execution(id)
	if !ok {
		metrics.ScheduleAnomaliesTotal.WithLabelValues("missing_execution").Inc()
		logger.WarnContext(ctx, "schedule has no execution bookkeeping, skipping")
		return
	}

	now := s.clock()
	if !ShouldExecuteNow(sched, &last, now) {
		return
	}

	payload, err := s.denormalizer.Denormalize(snap, id, sched.WorkflowID, now)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			metrics.ScheduleAnomaliesTotal.WithLabelValues("missing_workflow").Inc()
			logger.WarnContext(ctx, "schedule references unknown workflow, skipping", "workflow_id", sched.WorkflowID)
			return
		}
		logger.ErrorContext(ctx, "denormalize workflow", "workflow_id", sched.WorkflowID, "error", err)
		return
	}

	digest := definitionDigest(sched, snap)
	if d, ok := s.rejected[id]; ok && d == digest {
		return
	}

	outcome, err := s.executions.TryCreate(ctx, id, payload)
	metrics.ExecutionsTotal.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case execution.OutcomeCreated:
		delete(s.rejected, id)
		logger.InfoContext(ctx, "execution created",
			"workflow_id", sched.WorkflowID,
			"execution_count", last.ExecutionCount,
			"repetition", sched.Repetition.String(),
		)
		s.notify(ctx, logger, id)
	case execution.OutcomeAlreadyExists:
		logger.DebugContext(ctx, "execution already created by another writer")
	case execution.OutcomeRejected:
		s.rejected[id] = digest
		logger.ErrorContext(ctx, "execution payload rejected, not retrying until the definition changes",
			"payload_bytes", len(payload), "error", err)
	default:
		if ctx.Err() != nil {
			return
		}
		metrics.StoreErrorsTotal.WithLabelValues("create_marker").Inc()
		logger.ErrorContext(ctx, "create execution marker, retrying next tick", "error", err)
	}
}

// definitionDigest hashes the schedule and its workflow. The trigger time in
// the payload is left out so a rejected payload stays rejected across ticks.
func definitionDigest(sched domain.Schedule, snap *state.Snapshot) uint64 {
	h := xxhash.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(sched)
	if wf, ok := snap.Workflow(sched.WorkflowID); ok {
		_ = enc.Encode(wf)
	}
	return h.Sum64()
}

func (s *Scheduler) notify(ctx context.Context, logger *slog.Logger, id domain.ScheduleID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.ExecutionCreated(ctx, id, execution.MarkerPath(id)); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logger.WarnContext(ctx, "notify execution created", "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
}
