package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *postgres.NodeStore and *memstore.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadySignal is satisfied by *state.Cache.
type ReadySignal interface {
	Ready() <-chan struct{}
}

// LeaderStatus is satisfied by *scheduler.Scheduler.
type LeaderStatus interface {
	IsLeader() bool
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status   string                 `json:"status"`
	NodeID   string                 `json:"node_id,omitempty"`
	IsLeader *bool                  `json:"is_leader,omitempty"`
	Checks   map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that the coordination store is reachable and the state
// cache has loaded. Leadership is reported but never makes a node unready:
// followers are healthy standbys.
type Checker struct {
	store  Pinger
	cache  ReadySignal
	leader LeaderStatus
	nodeID string
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
// cache and leader may be nil.
func NewChecker(store Pinger, cache ReadySignal, leader LeaderStatus, nodeID string, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "workflow_scheduler",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		store:  store,
		cache:  cache,
		leader: leader,
		nodeID: nodeID,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings every dependency and reports per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		NodeID: c.nodeID,
		Checks: make(map[string]CheckResult),
	}
	if c.leader != nil {
		isLeader := c.leader.IsLeader()
		result.IsLeader = &isLeader
	}

	if err := c.store.Ping(checkCtx); err != nil {
		c.logger.Warn("coordination store health check failed", "error", err)
		c.mark(&result, "coord_store", err.Error())
	} else {
		c.mark(&result, "coord_store", "")
	}

	if c.cache != nil {
		select {
		case <-c.cache.Ready():
			c.mark(&result, "state_cache", "")
		default:
			c.mark(&result, "state_cache", "initial load pending")
		}
	}

	return result
}

func (c *Checker) mark(result *HealthResult, dep, failure string) {
	if failure != "" {
		result.Status = "down"
		result.Checks[dep] = CheckResult{Status: "down", Error: failure}
		c.gauge.WithLabelValues(dep).Set(0)
		return
	}
	result.Checks[dep] = CheckResult{Status: "up"}
	c.gauge.WithLabelValues(dep).Set(1)
}

func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, c.Liveness(r.Context()))
	})
}

func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, c.Readiness(r.Context()))
	})
}

func writeResult(w http.ResponseWriter, result HealthResult) {
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
