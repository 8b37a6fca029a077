// Package metrics exports envelope activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
)

var (
	// AttemptsTotal tracks attempts made per method
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcall_attempts_total",
			Help: "Total number of remote call attempts",
		},
		[]string{"method", "kind"},
	)

	// RetriesTotal tracks failed attempts that were followed by a backoff wait
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcall_retries_total",
			Help: "Total number of retried attempts",
		},
		[]string{"method", "code"},
	)

	// CredentialRefreshesTotal tracks refreshes triggered by UNAUTHENTICATED
	CredentialRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcall_credential_refreshes_total",
			Help: "Total number of credential refreshes",
		},
		[]string{"method"},
	)

	// OutcomesTotal tracks terminal outcomes per method
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcall_outcomes_total",
			Help: "Total number of finished invocations by outcome",
		},
		[]string{"method", "kind", "outcome", "code"},
	)

	// StreamMessagesTotal tracks messages delivered to stream handlers
	StreamMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcall_stream_messages_total",
			Help: "Total number of stream messages delivered",
		},
		[]string{"method"},
	)

	// HandlerFailuresTotal tracks stream messages whose handler panicked
	HandlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcall_handler_failures_total",
			Help: "Total number of stream handler panics",
		},
		[]string{"method"},
	)

	// InvocationDuration tracks the wall time of an invocation, retries included
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetcall_invocation_duration_seconds",
			Help:    "Invocation duration in seconds including backoff waits",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "kind", "outcome"},
	)
)

// Observer records envelope events in the package collectors.
type Observer struct{}

func NewObserver() Observer {
	return Observer{}
}

func (Observer) Observe(e retry.Event) {
	kind := string(e.Kind)

	switch e.State {
	case retry.StateAttempting:
		AttemptsTotal.WithLabelValues(e.Method, kind).Inc()
	case retry.StateRefreshingCredential:
		CredentialRefreshesTotal.WithLabelValues(e.Method).Inc()
	case retry.StateWaitingBackoff:
		RetriesTotal.WithLabelValues(e.Method, e.Code.String()).Inc()
	case retry.StateHandlerFailed:
		HandlerFailuresTotal.WithLabelValues(e.Method).Inc()
	}

	if !e.State.Terminal() {
		return
	}

	outcome := string(e.State.Outcome())
	OutcomesTotal.WithLabelValues(e.Method, kind, outcome, e.Code.String()).Inc()
	InvocationDuration.WithLabelValues(e.Method, kind, outcome).Observe(e.Elapsed.Seconds())
	if e.Messages > 0 {
		StreamMessagesTotal.WithLabelValues(e.Method).Add(float64(e.Messages))
	}
}
