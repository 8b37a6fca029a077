// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/fleetcall/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// EndpointHealth contains health metrics for one remote API endpoint.
type EndpointHealth struct {
	Name          string        `json:"name"`
	Status        SystemStatus  `json:"status"`
	Calls         int           `json:"calls"`
	ErrorRate     float64       `json:"error_rate"`
	Latency       time.Duration `json:"latency_ns"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at,omitzero"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Endpoints    map[string]EndpointHealth `json:"endpoints"`
}

func fromProvider(name string, h provider.HealthStatus) EndpointHealth {
	status := StatusHealthy
	switch h.Status {
	case provider.StatusDown:
		status = StatusCritical
	case provider.StatusDegraded:
		status = StatusDegraded
	}
	return EndpointHealth{
		Name:          name,
		Status:        status,
		Calls:         h.Calls,
		ErrorRate:     h.ErrorRate,
		Latency:       h.Latency,
		LastSuccessAt: h.LastSuccessAt,
		LastFailureAt: h.LastFailureAt,
	}
}

// worst aggregates endpoint states; the worst one wins.
func worst(endpoints map[string]EndpointHealth) SystemStatus {
	status := StatusHealthy
	for _, e := range endpoints {
		if e.Status == StatusCritical {
			return StatusCritical
		}
		if e.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
