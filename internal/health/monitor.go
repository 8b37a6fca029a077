package health

import (
	"sync"

	"github.com/vietddude/fleetcall/internal/infra/rpc/provider"
)

// Source reports the health of one endpoint. provider.GRPCProvider
// implements it.
type Source interface {
	GetName() string
	GetHealth() provider.HealthStatus
}

// Monitor aggregates health status from the registered endpoints.
type Monitor struct {
	mu      sync.RWMutex
	sources []Source
}

// NewMonitor creates a new health monitor.
func NewMonitor(sources ...Source) *Monitor {
	return &Monitor{sources: sources}
}

// Register adds a source after construction.
func (m *Monitor) Register(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// CheckHealth builds a report from the current state of every source.
func (m *Monitor) CheckHealth() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	endpoints := make(map[string]EndpointHealth, len(m.sources))
	for _, s := range m.sources {
		endpoints[s.GetName()] = fromProvider(s.GetName(), s.GetHealth())
	}
	return HealthReport{
		SystemStatus: worst(endpoints),
		Endpoints:    endpoints,
	}
}
