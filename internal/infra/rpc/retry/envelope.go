// Package retry wraps single outbound gRPC calls, unary or server-streaming,
// with bounded retries, failure classification, credential refresh on
// UNAUTHENTICATED and a fixed backoff between attempts.
//
// # Usage
//
//	env := retry.Envelope{
//	    Policy:      retry.DefaultPolicy(),
//	    Credentials: provider,
//	}
//	resp, err := retry.Unary(ctx, env, call, req, cred)
//	if errors.Is(err, retry.ErrRetriesExhausted) {
//	    // every attempt failed with a retryable code
//	}
//
// Non-retryable failures are returned unchanged, so status.Code(err) reports
// the server's code.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

// CredentialProvider fetches a credential for outbound calls.
type CredentialProvider interface {
	Fetch(ctx context.Context) (domain.Credential, error)
}

// Refresher is implemented by providers that cache credentials. The
// envelope prefers Refresh over Fetch after an UNAUTHENTICATED failure.
type Refresher interface {
	Refresh(ctx context.Context) (domain.Credential, error)
}

// UnaryCall is a single request/response remote call.
type UnaryCall[Req, Resp any] interface {
	Invoke(ctx context.Context, req Req, cred domain.Credential) (Resp, error)
}

// UnaryFunc adapts a function to UnaryCall.
type UnaryFunc[Req, Resp any] func(ctx context.Context, req Req, cred domain.Credential) (Resp, error)

func (f UnaryFunc[Req, Resp]) Invoke(ctx context.Context, req Req, cred domain.Credential) (Resp, error) {
	return f(ctx, req, cred)
}

// Receiver yields stream messages until io.EOF or a failure.
// grpc.ServerStreamingClient[T] satisfies Receiver[*T].
type Receiver[Resp any] interface {
	Recv() (Resp, error)
}

// StreamCall opens a server-streaming remote call.
type StreamCall[Req, Resp any] interface {
	Open(ctx context.Context, req Req, cred domain.Credential) (Receiver[Resp], error)
}

// StreamFunc adapts a function to StreamCall.
type StreamFunc[Req, Resp any] func(ctx context.Context, req Req, cred domain.Credential) (Receiver[Resp], error)

func (f StreamFunc[Req, Resp]) Open(ctx context.Context, req Req, cred domain.Credential) (Receiver[Resp], error) {
	return f(ctx, req, cred)
}

// Envelope carries everything an invocation needs besides the call itself.
// The zero Observer logs through slog.Default().
type Envelope struct {
	Policy      Policy
	Credentials CredentialProvider
	Observer    Observer
}

// Unary invokes call until it succeeds, fails with a non-retryable code, or
// Policy.MaxAttempts attempts have failed.
func Unary[Req, Resp any](
	ctx context.Context,
	env Envelope,
	call UnaryCall[Req, Resp],
	req Req,
	cred domain.Credential,
) (Resp, error) {
	var resp Resp

	s, err := newSession(env, nameOf(call), domain.CallKindUnary, cred)
	if err != nil {
		return resp, err
	}

	err = s.run(ctx, func(ctx context.Context) error {
		r, err := call.Invoke(ctx, req, s.cred)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// Stream opens call and hands every message to onNext in arrival order.
// A retryable failure reconnects from the start of the request; messages
// already delivered are delivered again by the new stream if the server
// resends them. A panic in onNext is reported to the observer as
// StateHandlerFailed and the stream continues.
func Stream[Req, Resp any](
	ctx context.Context,
	env Envelope,
	call StreamCall[Req, Resp],
	req Req,
	cred domain.Credential,
	onNext func(Resp),
) error {
	s, err := newSession(env, nameOf(call), domain.CallKindStream, cred)
	if err != nil {
		return err
	}

	return s.run(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := call.Open(ctx, req, s.cred)
		if err != nil {
			return err
		}

		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			s.messages++
			deliver(s, onNext, msg)
		}
	})
}

func deliver[Resp any](s *session, onNext func(Resp), msg Resp) {
	defer func() {
		if r := recover(); r != nil {
			s.handlerFailures++
			s.emit(StateHandlerFailed, fmt.Errorf("stream handler panicked: %v", r), 0)
		}
	}()
	onNext(msg)
}

func nameOf(call any) string {
	if n, ok := call.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}

// session is the attempt state of one invocation.
type session struct {
	env       Envelope
	method    string
	kind      domain.CallKind
	cred      domain.Credential
	attempt   int
	refreshes int
	messages  int
	started   time.Time
	finished  bool

	handlerFailures int
}

func newSession(env Envelope, method string, kind domain.CallKind, cred domain.Credential) (*session, error) {
	if err := env.Policy.Validate(); err != nil {
		return nil, err
	}
	if env.Observer == nil {
		env.Observer = NewLogObserver(nil)
	}
	return &session{
		env:     env,
		method:  method,
		kind:    kind,
		cred:    cred,
		started: time.Now(),
	}, nil
}

func (s *session) run(ctx context.Context, attempt func(context.Context) error) error {
	err := goretry.Do(ctx, s.env.Policy.backoff(), func(ctx context.Context) error {
		s.attempt++
		s.emit(StateAttempting, nil, 0)

		if err := attempt(ctx); err != nil {
			return s.fail(ctx, err)
		}
		return nil
	})

	if err == nil {
		s.emit(StateSuccess, nil, 0)
		return nil
	}
	if !s.finished {
		// Context ended during the backoff wait.
		s.emit(StateFatalFailure, err, 0)
	}
	return err
}

// fail decides the transition after a failed attempt. A returned error
// wrapped with goretry.RetryableError makes goretry.Do wait and try again.
func (s *session) fail(ctx context.Context, err error) error {
	switch s.env.Policy.Classify(err) {
	case ClassFatal, ClassUnexpected:
		s.emit(StateFatalFailure, err, 0)
		return err

	case ClassRefresh:
		s.emit(StateRefreshingCredential, err, 0)
		cred, rerr := s.refresh(ctx)
		if rerr != nil {
			rerr = fmt.Errorf("refresh credential: %w", rerr)
			s.emit(StateFatalFailure, rerr, 0)
			return rerr
		}
		s.cred = cred
		s.refreshes++
	}

	if s.attempt >= s.env.Policy.MaxAttempts {
		s.emit(StateRetriesExhausted, err, 0)
		return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, s.attempt)
	}

	s.emit(StateWaitingBackoff, err, s.env.Policy.Backoff)
	return goretry.RetryableError(err)
}

func (s *session) refresh(ctx context.Context) (domain.Credential, error) {
	switch p := s.env.Credentials.(type) {
	case nil:
		return domain.Credential{}, ErrNoCredentialProvider
	case Refresher:
		return p.Refresh(ctx)
	default:
		return p.Fetch(ctx)
	}
}

func (s *session) emit(state State, err error, wait time.Duration) {
	if state.Terminal() {
		s.finished = true
	}
	notify(s.env.Observer, Event{
		Method:      s.method,
		Kind:        s.kind,
		State:       state,
		Attempt:     s.attempt,
		MaxAttempts: s.env.Policy.MaxAttempts,
		Refreshes:   s.refreshes,
		Messages:    s.messages,
		Code:        CodeOf(err),
		Detail:      Describe(err),
		Wait:        wait,
		Started:     s.started,
		Elapsed:     time.Since(s.started),
		Err:         err,

		HandlerFailures: s.handlerFailures,
	})
}
