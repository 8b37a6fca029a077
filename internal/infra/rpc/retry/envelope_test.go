package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

var initialCred = domain.Credential{Token: "initial"}

// scriptedUnary fails attempt i with errs[i]; attempts past the script succeed.
type scriptedUnary struct {
	errs  []error
	resp  string
	creds []domain.Credential
}

func (c *scriptedUnary) Invoke(_ context.Context, _ string, cred domain.Credential) (string, error) {
	c.creds = append(c.creds, cred)
	i := len(c.creds) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	return c.resp, nil
}

func (c *scriptedUnary) attempts() int { return len(c.creds) }

// alwaysFailing fails every attempt with err.
func alwaysFailing(err error, attempts *int) UnaryFunc[string, string] {
	return func(context.Context, string, domain.Credential) (string, error) {
		*attempts++
		return "", err
	}
}

type countingProvider struct {
	fetches int
	err     error
}

func (p *countingProvider) Fetch(context.Context) (domain.Credential, error) {
	if p.err != nil {
		return domain.Credential{}, p.err
	}
	p.fetches++
	return domain.Credential{Token: fmt.Sprintf("token-%d", p.fetches)}, nil
}

type refreshingProvider struct {
	countingProvider
	refreshes int
}

func (p *refreshingProvider) Refresh(context.Context) (domain.Credential, error) {
	p.refreshes++
	return domain.Credential{Token: "refreshed"}, nil
}

type recorder struct {
	events []Event
}

func (r *recorder) Observe(e Event) { r.events = append(r.events, e) }

func (r *recorder) states() []State {
	out := make([]State, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

func (r *recorder) waits() []time.Duration {
	var out []time.Duration
	for _, e := range r.events {
		if e.State == StateWaitingBackoff {
			out = append(out, e.Wait)
		}
	}
	return out
}

func policy(maxAttempts int, backoff time.Duration, retryable ...codes.Code) Policy {
	return Policy{MaxAttempts: maxAttempts, Backoff: backoff, RetryableCodes: retryable}
}

func TestUnary_RetryableExhaustsExactlyMaxAttempts(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("max_%d", n), func(t *testing.T) {
			attempts := 0
			env := Envelope{Policy: policy(n, 0, codes.Unavailable), Observer: &recorder{}}

			_, err := Unary(context.Background(), env,
				alwaysFailing(status.Error(codes.Unavailable, "down"), &attempts), "req", initialCred)

			require.ErrorIs(t, err, ErrRetriesExhausted)
			assert.Equal(t, n, attempts)
			assert.Equal(t, codes.Unknown, status.Code(err), "exhaustion must not carry the last code")
		})
	}
}

func TestUnary_NonRetryablePropagatesCallerError(t *testing.T) {
	orig := status.Error(codes.PermissionDenied, "robot not owned by caller")
	call := &scriptedUnary{errs: []error{orig}}
	provider := &countingProvider{}
	env := Envelope{Policy: policy(3, 0, codes.Unavailable), Credentials: provider, Observer: &recorder{}}

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	require.Error(t, err)
	assert.Equal(t, orig, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, "robot not owned by caller", status.Convert(err).Message())
	assert.Equal(t, 1, call.attempts())
	assert.Zero(t, provider.fetches)
}

func TestUnary_UnexpectedErrorIsFatal(t *testing.T) {
	boom := errors.New("boom")
	call := &scriptedUnary{errs: []error{boom}}
	env := Envelope{Policy: DefaultPolicy(), Observer: &recorder{}}

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	assert.Same(t, boom, err)
	assert.Equal(t, 1, call.attempts())
}

func TestUnary_SucceedsAfterTransientFailures(t *testing.T) {
	call := &scriptedUnary{
		errs: []error{
			status.Error(codes.Unavailable, "down"),
			status.Error(codes.Unavailable, "still down"),
		},
		resp: "R",
	}
	provider := &countingProvider{}
	env := Envelope{Policy: policy(3, 0, codes.Unavailable), Credentials: provider, Observer: &recorder{}}

	resp, err := Unary(context.Background(), env, call, "req", initialCred)

	require.NoError(t, err)
	assert.Equal(t, "R", resp)
	assert.Equal(t, 3, call.attempts())
	assert.Zero(t, provider.fetches)
}

func TestUnary_PermissionDeniedOutsideRetryableSet(t *testing.T) {
	call := &scriptedUnary{errs: []error{status.Error(codes.PermissionDenied, "denied")}, resp: "R"}
	env := Envelope{Policy: policy(3, 0, codes.Unavailable), Observer: &recorder{}}

	resp, err := Unary(context.Background(), env, call, "req", initialCred)

	assert.Empty(t, resp)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, 1, call.attempts())
}

func TestUnary_UnauthenticatedTwiceRefreshesTwice(t *testing.T) {
	unauth := status.Error(codes.Unauthenticated, "token expired")
	call := &scriptedUnary{errs: []error{unauth, unauth}}
	provider := &countingProvider{}
	rec := &recorder{}
	env := Envelope{Policy: policy(2, 0, codes.Unauthenticated), Credentials: provider, Observer: rec}

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2, call.attempts())
	assert.Equal(t, 2, provider.fetches)
	assert.Equal(t, []State{
		StateAttempting,
		StateRefreshingCredential,
		StateWaitingBackoff,
		StateAttempting,
		StateRefreshingCredential,
		StateRetriesExhausted,
	}, rec.states())
}

func TestUnary_RefreshedCredentialUsedOnNextAttempt(t *testing.T) {
	call := &scriptedUnary{
		errs: []error{
			status.Error(codes.Unauthenticated, "expired"),
			status.Error(codes.Unavailable, "down"),
		},
		resp: "ok",
	}
	provider := &countingProvider{}
	env := Envelope{Policy: policy(5, 0, codes.Unauthenticated, codes.Unavailable), Credentials: provider, Observer: &recorder{}}

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	require.NoError(t, err)
	assert.Equal(t, 1, provider.fetches, "only the unauthenticated failure refreshes")
	require.Len(t, call.creds, 3)
	assert.Equal(t, "initial", call.creds[0].Token)
	assert.Equal(t, "token-1", call.creds[1].Token)
	assert.Equal(t, "token-1", call.creds[2].Token)
}

func TestUnary_PrefersRefresher(t *testing.T) {
	call := &scriptedUnary{errs: []error{status.Error(codes.Unauthenticated, "expired")}}
	provider := &refreshingProvider{}
	env := Envelope{Policy: DefaultPolicy(), Credentials: provider, Observer: &recorder{}}
	env.Policy.Backoff = 0

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	require.NoError(t, err)
	assert.Equal(t, 1, provider.refreshes)
	assert.Zero(t, provider.fetches)
	assert.Equal(t, "refreshed", call.creds[1].Token)
}

func TestUnary_RefreshFailureAborts(t *testing.T) {
	errAuthDown := errors.New("auth endpoint unreachable")
	call := &scriptedUnary{errs: []error{status.Error(codes.Unauthenticated, "expired")}}
	env := Envelope{
		Policy:      policy(5, 0, codes.Unauthenticated),
		Credentials: &countingProvider{err: errAuthDown},
		Observer:    &recorder{},
	}

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	require.ErrorIs(t, err, errAuthDown)
	assert.Equal(t, 1, call.attempts())
}

func TestUnary_UnauthenticatedWithoutProvider(t *testing.T) {
	call := &scriptedUnary{errs: []error{status.Error(codes.Unauthenticated, "expired")}}
	env := Envelope{Policy: policy(5, 0, codes.Unauthenticated), Observer: &recorder{}}

	_, err := Unary(context.Background(), env, call, "req", initialCred)

	require.ErrorIs(t, err, ErrNoCredentialProvider)
}

func TestUnary_BackoffIsConstant(t *testing.T) {
	attempts := 0
	rec := &recorder{}
	env := Envelope{Policy: policy(4, 5*time.Millisecond, codes.Internal), Observer: rec}

	start := time.Now()
	_, err := Unary(context.Background(), env,
		alwaysFailing(status.Error(codes.Internal, "oops"), &attempts), "req", initialCred)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}, rec.waits())
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestUnary_InvalidPolicyMakesNoAttempt(t *testing.T) {
	attempts := 0
	env := Envelope{Policy: policy(0, 0, codes.Unavailable), Observer: &recorder{}}

	_, err := Unary(context.Background(), env,
		alwaysFailing(status.Error(codes.Unavailable, "down"), &attempts), "req", initialCred)

	require.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Zero(t, attempts)
}

func TestUnary_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	call := UnaryFunc[string, string](func(context.Context, string, domain.Credential) (string, error) {
		attempts++
		cancel()
		return "", status.Error(codes.Unavailable, "down")
	})
	rec := &recorder{}
	env := Envelope{Policy: policy(5, time.Hour, codes.Unavailable), Observer: rec}

	_, err := Unary(ctx, env, call, "req", initialCred)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	require.NotEmpty(t, rec.events)
	assert.Equal(t, StateFatalFailure, rec.events[len(rec.events)-1].State)
}

// connScript describes one stream connection: an open error, or messages
// followed by err (nil means a clean end of stream).
type connScript struct {
	openErr error
	msgs    []string
	err     error
}

type sliceReceiver struct {
	msgs []string
	err  error
	i    int
}

func (r *sliceReceiver) Recv() (string, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return "", r.err
	}
	return "", io.EOF
}

type scriptedStream struct {
	conns []connScript
	creds []domain.Credential
	ctxs  []context.Context
}

func (s *scriptedStream) Open(ctx context.Context, _ string, cred domain.Credential) (Receiver[string], error) {
	s.creds = append(s.creds, cred)
	s.ctxs = append(s.ctxs, ctx)
	c := s.conns[min(len(s.creds)-1, len(s.conns)-1)]
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &sliceReceiver{msgs: c.msgs, err: c.err}, nil
}

func (s *scriptedStream) opens() int { return len(s.creds) }

func TestStream_ReconnectRestartsFromBeginning(t *testing.T) {
	call := &scriptedStream{conns: []connScript{
		{msgs: []string{"A", "B"}, err: status.Error(codes.Unavailable, "connection reset")},
		{msgs: []string{"A", "B", "C"}},
	}}
	env := Envelope{Policy: policy(3, 0, codes.Unavailable), Observer: &recorder{}}

	var got []string
	err := Stream(context.Background(), env, call, "req", initialCred, func(m string) {
		got = append(got, m)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "A", "B", "C"}, got)
	assert.Equal(t, 2, call.opens())
}

func TestStream_OpenFailureRetried(t *testing.T) {
	call := &scriptedStream{conns: []connScript{
		{openErr: status.Error(codes.DeadlineExceeded, "slow")},
		{msgs: []string{"A"}},
	}}
	env := Envelope{Policy: DefaultPolicy(), Observer: &recorder{}}
	env.Policy.Backoff = 0

	var got []string
	err := Stream(context.Background(), env, call, "req", initialCred, func(m string) { got = append(got, m) })

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, got)
	assert.Equal(t, 2, call.opens())
}

func TestStream_NonRetryableStopsIterating(t *testing.T) {
	orig := status.Error(codes.PermissionDenied, "denied")
	call := &scriptedStream{conns: []connScript{
		{msgs: []string{"A"}, err: orig},
		{msgs: []string{"never"}},
	}}
	env := Envelope{Policy: policy(3, 0, codes.Unavailable), Observer: &recorder{}}

	var got []string
	err := Stream(context.Background(), env, call, "req", initialCred, func(m string) { got = append(got, m) })

	assert.Equal(t, orig, err)
	assert.Equal(t, []string{"A"}, got)
	assert.Equal(t, 1, call.opens())
}

func TestStream_UnexpectedErrorIsFatal(t *testing.T) {
	boom := errors.New("decode failure")
	call := &scriptedStream{conns: []connScript{{msgs: []string{"A"}, err: boom}}}
	env := Envelope{Policy: DefaultPolicy(), Observer: &recorder{}}

	err := Stream(context.Background(), env, call, "req", initialCred, func(string) {})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, call.opens())
}

func TestStream_ExhaustsRetries(t *testing.T) {
	call := &scriptedStream{conns: []connScript{{openErr: status.Error(codes.Unavailable, "down")}}}
	env := Envelope{Policy: policy(4, 0, codes.Unavailable), Observer: &recorder{}}

	err := Stream(context.Background(), env, call, "req", initialCred, func(string) {})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 4, call.opens())
}

func TestStream_UnauthenticatedRefreshesBeforeReconnect(t *testing.T) {
	call := &scriptedStream{conns: []connScript{
		{msgs: []string{"A"}, err: status.Error(codes.Unauthenticated, "expired")},
		{msgs: []string{"A", "B"}},
	}}
	provider := &countingProvider{}
	env := Envelope{Policy: policy(3, 0, codes.Unauthenticated), Credentials: provider, Observer: &recorder{}}

	err := Stream(context.Background(), env, call, "req", initialCred, func(string) {})

	require.NoError(t, err)
	assert.Equal(t, 1, provider.fetches)
	assert.Equal(t, "initial", call.creds[0].Token)
	assert.Equal(t, "token-1", call.creds[1].Token)
}

func TestStream_HandlerPanicIsContained(t *testing.T) {
	call := &scriptedStream{conns: []connScript{{msgs: []string{"A", "B", "C"}}}}
	rec := &recorder{}
	env := Envelope{Policy: DefaultPolicy(), Observer: rec}

	var got []string
	err := Stream(context.Background(), env, call, "req", initialCred, func(m string) {
		if m == "B" {
			panic("handler bug")
		}
		got = append(got, m)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, got)
	assert.Equal(t, []State{StateAttempting, StateHandlerFailed, StateSuccess}, rec.states())

	failed := rec.events[1]
	assert.Equal(t, 2, failed.Messages)
	assert.Equal(t, 1, failed.HandlerFailures)
	require.Error(t, failed.Err)
	assert.Contains(t, failed.Err.Error(), "handler bug")
	assert.Equal(t, 1, rec.events[2].HandlerFailures)
}

func TestUnary_PanickingObserverDoesNotAbort(t *testing.T) {
	call := &scriptedUnary{errs: []error{status.Error(codes.Unavailable, "down")}, resp: "R"}
	env := Envelope{
		Policy:   policy(3, 0, codes.Unavailable),
		Observer: ObserverFunc(func(e Event) {
			if e.State == StateWaitingBackoff {
				panic("metrics sink broken")
			}
		}),
	}

	resp, err := Unary(context.Background(), env, call, "req", initialCred)

	require.NoError(t, err)
	assert.Equal(t, "R", resp)
	assert.Equal(t, 2, call.attempts())
}

func TestStream_PanickingObserverDoesNotAbort(t *testing.T) {
	call := &scriptedStream{conns: []connScript{
		{msgs: []string{"A"}, err: status.Error(codes.Unavailable, "down")},
		{msgs: []string{"A", "B"}},
	}}
	rec := &recorder{}
	env := Envelope{
		Policy:   policy(3, 0, codes.Unavailable),
		Observer: Observers{
			ObserverFunc(func(Event) { panic("journal down") }),
			rec,
		},
	}

	var got []string
	err := Stream(context.Background(), env, call, "req", initialCred, func(m string) { got = append(got, m) })

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A", "B"}, got)
	assert.Equal(t, StateSuccess, rec.events[len(rec.events)-1].State)
}

func TestStream_AttemptContextReleased(t *testing.T) {
	call := &scriptedStream{conns: []connScript{
		{err: status.Error(codes.Unavailable, "down")},
		{},
	}}
	env := Envelope{Policy: policy(2, 0, codes.Unavailable), Observer: &recorder{}}

	require.NoError(t, Stream(context.Background(), env, call, "req", initialCred, func(string) {}))

	require.Len(t, call.ctxs, 2)
	for _, ctx := range call.ctxs {
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	}
}

func TestStream_EventsCountMessages(t *testing.T) {
	call := &scriptedStream{conns: []connScript{
		{msgs: []string{"A", "B"}, err: status.Error(codes.Internal, "oops")},
		{msgs: []string{"A", "B", "C"}},
	}}
	rec := &recorder{}
	env := Envelope{Policy: policy(2, 0, codes.Internal), Observer: rec}

	require.NoError(t, Stream(context.Background(), env, call, "req", initialCred, func(string) {}))

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, StateSuccess, last.State)
	assert.Equal(t, 5, last.Messages)
	assert.Equal(t, 2, last.Attempt)
	assert.Equal(t, domain.CallKindStream, last.Kind)
}
