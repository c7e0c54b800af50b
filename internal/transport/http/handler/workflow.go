package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
)

type workflowUsecaser interface {
	PutWorkflow(ctx context.Context, input usecase.PutWorkflowInput) (*domain.Workflow, error)
}

type WorkflowHandler struct {
	uc     workflowUsecaser
	logger *slog.Logger
}

func NewWorkflowHandler(uc workflowUsecaser, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{uc: uc, logger: logger.With("component", "workflow_handler")}
}

type taskRequest struct {
	ID       string         `json:"task_id"   binding:"required,max=256"`
	Type     string         `json:"type"      binding:"required,max=64"`
	Mode     int            `json:"mode"`
	Payload  map[string]any `json:"payload"`
	ChildIDs []string       `json:"child_ids"`
}

type putWorkflowRequest struct {
	Name  string        `json:"name"  binding:"required,max=256"`
	Tasks []taskRequest `json:"tasks" binding:"required,min=1,max=1000,dive"`
}

func (h *WorkflowHandler) Put(ctx *gin.Context) {
	var req putWorkflowRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks := make([]usecase.TaskInput, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, usecase.TaskInput{
			ID:       t.ID,
			Type:     t.Type,
			ModeCode: t.Mode,
			Payload:  t.Payload,
			ChildIDs: t.ChildIDs,
		})
	}

	wf, err := h.uc.PutWorkflow(ctx.Request.Context(), usecase.PutWorkflowInput{
		ID:    ctx.Param("id"),
		Name:  req.Name,
		Tasks: tasks,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidID):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidID})
		case errors.Is(err, domain.ErrUnknownTaskMode), errors.Is(err, domain.ErrInvalidWorkflow):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "put workflow", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, wf)
}
