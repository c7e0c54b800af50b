package handler

const (
	errInternalServer   = "Internal server error"
	errScheduleNotFound = "Schedule not found"
	errWorkflowNotFound = "Workflow not found"
	errInvalidID        = "Id must be a non-empty path segment"
	errInvalidCronExpr  = "Invalid cron expression"
)
