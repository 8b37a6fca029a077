package domain

import "time"

// CallKind distinguishes unary from server-streaming invocations.
type CallKind string

const (
	CallKindUnary  CallKind = "unary"
	CallKindStream CallKind = "stream"
)

// CallOutcome is the terminal result of one envelope invocation.
type CallOutcome string

const (
	OutcomeSuccess          CallOutcome = "success"
	OutcomeFatalFailure     CallOutcome = "fatal_failure"
	OutcomeRetriesExhausted CallOutcome = "retries_exhausted"
)

// CallRecord is the journal entry written when an invocation ends.
type CallRecord struct {
	ID              string        `json:"id"               db:"id"`
	Method          string        `json:"method"           db:"method"`
	Kind            CallKind      `json:"kind"             db:"kind"`
	Outcome         CallOutcome   `json:"outcome"          db:"outcome"`
	Attempts        int           `json:"attempts"         db:"attempts"`
	Refreshes       int           `json:"refreshes"        db:"refreshes"`
	Code            string        `json:"code"             db:"code"`
	Detail          string        `json:"detail"           db:"detail"`
	Messages        int           `json:"messages"         db:"messages"`
	HandlerFailures int           `json:"handler_failures" db:"handler_failures"`
	StartedAt       time.Time     `json:"started_at"       db:"started_at"`
	Duration        time.Duration `json:"duration"         db:"duration_ns"`
}
