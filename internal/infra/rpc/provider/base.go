package provider

import (
	"sync"
	"time"
)

// ProviderStatus represents the health state of a provider.
type ProviderStatus int

const (
	StatusHealthy  ProviderStatus = iota // Calls succeed
	StatusDegraded                       // Calls succeed but slowly, or fail often
	StatusDown                           // Most recent calls failed
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	default:
		return "down"
	}
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Status        ProviderStatus `json:"-"`
	State         string         `json:"status"`
	Available     bool           `json:"available"`
	Latency       time.Duration  `json:"latency"`
	ErrorRate     float64        `json:"error_rate"`
	Calls         int            `json:"calls"`
	LastSuccessAt time.Time      `json:"last_success_at"`
	LastFailureAt time.Time      `json:"last_failure_at"`
}

// BaseProvider implements common provider functionality.
// It tracks call outcomes and derives a health status from them.
type BaseProvider struct {
	Name string

	mu           sync.RWMutex
	health       HealthStatus
	latencies    []time.Duration
	successCount int
	failureCount int
	requestCount int

	maxLatencyWindow      int
	slowResponseThreshold time.Duration
	degradedErrorRate     float64
}

// NewBaseProvider creates a new BaseProvider.
func NewBaseProvider(name string) *BaseProvider {
	return &BaseProvider{
		Name: name,
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		latencies:             make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		slowResponseThreshold: 3 * time.Second,
		degradedErrorRate:     0.3,
	}
}

// GetName returns the provider's name.
func (p *BaseProvider) GetName() string {
	return p.Name
}

// GetHealth returns the provider's health status.
func (p *BaseProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.health
	h.Status = p.statusLocked()
	h.State = h.Status.String()
	return h
}

// IsAvailable checks if the provider is available.
func (p *BaseProvider) IsAvailable() bool {
	return p.GetHealth().Status != StatusDown
}

// RecordSuccess records a successful invocation and its latency.
func (p *BaseProvider) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.health.Calls = p.requestCount
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	p.latencies = append(p.latencies, latency)
	if len(p.latencies) > p.maxLatencyWindow {
		p.latencies = p.latencies[1:]
	}

	var total time.Duration
	for _, l := range p.latencies {
		total += l
	}
	p.health.Latency = total / time.Duration(len(p.latencies))
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
}

// RecordFailure records an invocation that ended without success.
func (p *BaseProvider) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.Calls = p.requestCount
	p.health.LastFailureAt = time.Now()
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}

func (p *BaseProvider) statusLocked() ProviderStatus {
	if !p.health.Available {
		return StatusDown
	}
	if p.health.ErrorRate > p.degradedErrorRate {
		return StatusDegraded
	}
	if len(p.latencies) > 10 && p.health.Latency > p.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}
