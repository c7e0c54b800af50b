package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LeaderStatus is satisfied by *scheduler.Scheduler.
type LeaderStatus interface {
	IsLeader() bool
}

type LeaderHandler struct {
	nodeID string
	status LeaderStatus
}

func NewLeaderHandler(nodeID string, status LeaderStatus) *LeaderHandler {
	return &LeaderHandler{nodeID: nodeID, status: status}
}

func (h *LeaderHandler) Get(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"node_id":   h.nodeID,
		"is_leader": h.status.IsLeader(),
	})
}
