package retry

import (
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

// State is a step of the envelope state machine.
type State int

const (
	StateAttempting State = iota
	StateRefreshingCredential
	StateWaitingBackoff
	StateSuccess
	StateFatalFailure
	StateRetriesExhausted
	// StateHandlerFailed reports a stream handler panic. It is not a
	// transition; the stream keeps going.
	StateHandlerFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateRefreshingCredential:
		return "refreshing_credential"
	case StateWaitingBackoff:
		return "waiting_backoff"
	case StateSuccess:
		return "success"
	case StateFatalFailure:
		return "fatal_failure"
	case StateRetriesExhausted:
		return "retries_exhausted"
	case StateHandlerFailed:
		return "handler_failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFatalFailure || s == StateRetriesExhausted
}

// Outcome maps a terminal state to the journal outcome.
func (s State) Outcome() domain.CallOutcome {
	switch s {
	case StateSuccess:
		return domain.OutcomeSuccess
	case StateRetriesExhausted:
		return domain.OutcomeRetriesExhausted
	default:
		return domain.OutcomeFatalFailure
	}
}

// Event describes one transition of one invocation.
type Event struct {
	Method      string
	Kind        domain.CallKind
	State       State
	Attempt     int
	MaxAttempts int
	Refreshes   int
	Messages    int
	Code        codes.Code
	Detail      string
	Wait        time.Duration
	Started     time.Time
	Elapsed     time.Duration
	Err         error

	// HandlerFailures counts stream messages whose handler panicked.
	HandlerFailures int
}

// Observer receives every transition. Implementations must not block for
// long; they run on the invoking goroutine. A panicking observer is logged
// and otherwise ignored.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, ob := range o {
		notify(ob, e)
	}
}

func notify(ob Observer, e Event) {
	if ob == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Observer panicked", "method", e.Method, "state", e.State.String(), "panic", r)
		}
	}()
	ob.Observe(e)
}

// LogObserver writes transitions to a slog.Logger.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger means slog.Default().
func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) Observe(e Event) {
	log := o.log.With("method", e.Method, "kind", e.Kind, "attempt", e.Attempt, "max_attempts", e.MaxAttempts)

	switch e.State {
	case StateAttempting:
		if e.Kind == domain.CallKindStream {
			log.Info("Connecting stream")
		} else {
			log.Debug("Calling")
		}
	case StateRefreshingCredential:
		log.Info("Unauthenticated, refreshing credential")
	case StateWaitingBackoff:
		log.Warn("Call failed, retrying",
			"code", e.Code.String(),
			"detail", e.Detail,
			"backoff", e.Wait,
		)
	case StateSuccess:
		if e.Kind == domain.CallKindStream {
			log.Info("Stream completed", "messages", e.Messages, "elapsed", e.Elapsed)
		} else {
			log.Debug("Call succeeded", "elapsed", e.Elapsed)
		}
	case StateFatalFailure:
		log.Error("Call aborted",
			"code", e.Code.String(),
			"detail", e.Detail,
			"elapsed", e.Elapsed,
		)
	case StateHandlerFailed:
		log.Error("Stream handler panicked",
			"messages", e.Messages,
			"error", e.Err,
		)
	case StateRetriesExhausted:
		log.Error("Retries exhausted",
			"code", e.Code.String(),
			"detail", e.Detail,
			"refreshes", e.Refreshes,
			"elapsed", e.Elapsed,
		)
	}
}
