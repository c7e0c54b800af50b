package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/metrics"
	"github.com/gin-gonic/gin"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency by route template and counts catalog
// mutations (PUT and DELETE on schedules and workflows) by result.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		status := strconv.Itoa(code)
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		metrics.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()

		if resource, op, ok := catalogWrite(method, route); ok {
			metrics.CatalogWritesTotal.WithLabelValues(resource, op, writeResult(code)).Inc()
		}
	}
}

// catalogWrite maps a mutating route template such as /v1/schedules/:id to
// its resource and operation.
func catalogWrite(method, route string) (resource, op string, ok bool) {
	switch method {
	case http.MethodPut:
		op = "put"
	case http.MethodDelete:
		op = "delete"
	default:
		return "", "", false
	}
	for _, r := range []string{"schedules", "workflows"} {
		if strings.HasSuffix(route, "/"+r+"/:id") {
			return r, op, true
		}
	}
	return "", "", false
}

func writeResult(code int) string {
	switch {
	case code < 300:
		return "ok"
	case code == http.StatusUnauthorized:
		return "unauthorized"
	case code < 500:
		return "rejected"
	default:
		return "error"
	}
}
