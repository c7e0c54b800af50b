package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workflow_scheduler"

var (
	// Leadership

	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_is_leader",
		Help:      "1 while this process holds scheduler leadership.",
	})

	LeaderAcquisitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_acquisitions_total",
		Help:      "Times this process was elected leader.",
	})

	LeaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_losses_total",
		Help:      "Times leadership ended, by reason.",
	}, []string{"reason"})

	ElectionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "election_errors_total",
		Help:      "Failed attempts to enter the election.",
	})

	// Scheduling loop

	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Scheduling ticks started.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Time to evaluate every schedule once.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Execution marker attempts, by outcome.",
	}, []string{"outcome"})

	ScheduleAnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_anomalies_total",
		Help:      "Schedules skipped because their data is inconsistent, by kind.",
	}, []string{"kind"})

	StoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Coordination store failures seen by the scheduling loop, by operation.",
	}, []string{"op"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Execution-created notifications, by result.",
	}, []string{"result"})

	// State cache

	CacheResyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_resyncs_total",
		Help:      "Full catalog reloads, by result.",
	}, []string{"result"})

	CacheSchedules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_schedules",
		Help:      "Schedules in the latest published snapshot.",
	})

	// Process lifecycle

	StartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the scheduler started.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Admin API request latency by route template.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total admin API requests by route template.",
	}, []string{"method", "route", "status"})

	CatalogWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_writes_total",
		Help:      "Admin catalog mutations, by resource, operation and result.",
	}, []string{"resource", "op", "result"})
)

func Register() {
	prometheus.MustRegister(
		IsLeader,
		LeaderAcquisitionsTotal,
		LeaderLossesTotal,
		ElectionErrorsTotal,
		TicksTotal,
		TickDuration,
		ExecutionsTotal,
		ScheduleAnomaliesTotal,
		StoreErrorsTotal,
		NotificationsTotal,
		CacheResyncsTotal,
		CacheSchedules,
		StartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		CatalogWritesTotal,
	)
}

// HealthChecker is implemented by *health.Checker.
type HealthChecker interface {
	LivenessHandler() http.Handler
	ReadinessHandler() http.Handler
}

func NewServer(addr string, checker HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if checker != nil {
		mux.Handle("/healthz", checker.LivenessHandler())
		mux.Handle("/readyz", checker.ReadinessHandler())
	}
	return &http.Server{Addr: addr, Handler: mux}
}
