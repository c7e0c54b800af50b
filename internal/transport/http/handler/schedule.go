package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
	"github.com/ErlanBelekov/workflow-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
)

type scheduleUsecaser interface {
	PutSchedule(ctx context.Context, input usecase.PutScheduleInput) (*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	Statuses(snap *state.Snapshot, now time.Time) []usecase.ScheduleStatus
}

// SnapshotSource is satisfied by *state.Cache.
type SnapshotSource interface {
	Snapshot() *state.Snapshot
}

type ScheduleHandler struct {
	uc     scheduleUsecaser
	cache  SnapshotSource
	clock  func() time.Time
	logger *slog.Logger
}

func NewScheduleHandler(uc scheduleUsecaser, cache SnapshotSource, clock func() time.Time, logger *slog.Logger) *ScheduleHandler {
	if clock == nil {
		clock = time.Now
	}
	return &ScheduleHandler{uc: uc, cache: cache, clock: clock, logger: logger.With("component", "schedule_handler")}
}

type putScheduleRequest struct {
	WorkflowID string                `json:"workflow_id" binding:"required,max=256"`
	Type       domain.RepetitionType `json:"type"        binding:"required,oneof=RELATIVE ABSOLUTE CRON"`
	DurationMS int64                 `json:"duration_ms" binding:"min=0"`
	CronExpr   string                `json:"cron_expr"   binding:"required_if=Type CRON"`
	Qty        *int                  `json:"qty"         binding:"omitempty,min=-1"`
}

type executionResponse struct {
	LastExecutionStart *time.Time `json:"last_execution_start,omitempty"`
	ExecutionCount     int        `json:"execution_count"`
}

type scheduleResponse struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	Type          string             `json:"type"`
	DurationMS    int64              `json:"duration_ms,omitempty"`
	CronExpr      string             `json:"cron_expr,omitempty"`
	Qty           int                `json:"qty"`
	LastExecution *executionResponse `json:"last_execution,omitempty"`
	Due           *bool              `json:"due,omitempty"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:         string(s.ID),
		WorkflowID: string(s.WorkflowID),
		Type:       string(s.Repetition.Type),
		DurationMS: s.Repetition.Duration.Milliseconds(),
		CronExpr:   s.Repetition.Expr,
		Qty:        s.Repetition.Qty,
	}
}

func toStatusResponse(st usecase.ScheduleStatus) scheduleResponse {
	resp := toScheduleResponse(&st.Schedule)
	if st.LastExecution != nil {
		exec := &executionResponse{ExecutionCount: st.LastExecution.ExecutionCount}
		if st.LastExecution.Started() {
			started := st.LastExecution.LastExecutionStart
			exec.LastExecutionStart = &started
		}
		resp.LastExecution = exec
	}
	due := st.Due
	resp.Due = &due
	return resp
}

// List reports the schedules this node currently sees, with the decision the
// scheduling loop would take right now.
func (h *ScheduleHandler) List(ctx *gin.Context) {
	statuses := h.uc.Statuses(h.cache.Snapshot(), h.clock())

	out := make([]scheduleResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toStatusResponse(st))
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": out})
}

func (h *ScheduleHandler) Put(ctx *gin.Context) {
	var req putScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qty := domain.Unlimited
	if req.Qty != nil {
		qty = *req.Qty
	}

	s, err := h.uc.PutSchedule(ctx.Request.Context(), usecase.PutScheduleInput{
		ID:         ctx.Param("id"),
		WorkflowID: req.WorkflowID,
		Type:       req.Type,
		Duration:   time.Duration(req.DurationMS) * time.Millisecond,
		CronExpr:   req.CronExpr,
		Qty:        qty,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidID):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidID})
		case errors.Is(err, domain.ErrInvalidCronExpr):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCronExpr})
		case errors.Is(err, domain.ErrInvalidRepetition):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrWorkflowNotFound):
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": errWorkflowNotFound})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "put schedule", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) Delete(ctx *gin.Context) {
	if err := h.uc.DeleteSchedule(ctx.Request.Context(), ctx.Param("id")); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidID):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidID})
		case errors.Is(err, domain.ErrScheduleNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "delete schedule", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}
	ctx.Status(http.StatusNoContent)
}
