package retry

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Policy defines retry behavior for one envelope invocation.
type Policy struct {
	MaxAttempts    int
	Backoff        time.Duration
	RetryableCodes []codes.Code
}

// ErrInvalidPolicy is returned before any attempt when a Policy cannot be used.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// DefaultPolicy returns the policy used when the caller supplies none.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Backoff:     5 * time.Second,
		RetryableCodes: []codes.Code{
			codes.Unavailable,
			codes.Internal,
			codes.DeadlineExceeded,
			codes.Unauthenticated,
		},
	}
}

// Validate checks the attempt bound and the backoff.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("%w: negative backoff %s", ErrInvalidPolicy, p.Backoff)
	}
	return nil
}

// Retryable reports whether code is in the retryable set.
func (p Policy) Retryable(code codes.Code) bool {
	return slices.Contains(p.RetryableCodes, code)
}

// Class is the decision taken after an attempt.
type Class int

const (
	ClassSuccess    Class = iota
	ClassRetry            // retryable, same credential
	ClassRefresh          // retryable after a credential refresh
	ClassFatal            // status code outside the retryable set
	ClassUnexpected       // not a gRPC status at all
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetry:
		return "retry"
	case ClassRefresh:
		return "refresh"
	case ClassFatal:
		return "fatal"
	case ClassUnexpected:
		return "unexpected"
	default:
		return "class(" + strconv.Itoa(int(c)) + ")"
	}
}

// Classify maps an attempt error to a Class. It only looks at the status code.
func (p Policy) Classify(err error) Class {
	if err == nil {
		return ClassSuccess
	}

	st, ok := status.FromError(err)
	if !ok {
		return ClassUnexpected
	}

	code := st.Code()
	if !p.Retryable(code) {
		return ClassFatal
	}
	if code == codes.Unauthenticated {
		return ClassRefresh
	}
	return ClassRetry
}

// backoff yields the same wait for every retry. The attempt bound is kept
// by the session, not here.
func (p Policy) backoff() goretry.Backoff {
	wait := p.Backoff
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		return wait, false
	})
}

// ParseCode converts a status code name such as "UNAVAILABLE" or
// "deadline_exceeded" to a codes.Code.
func ParseCode(name string) (codes.Code, error) {
	var c codes.Code
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if err := c.UnmarshalJSON([]byte(strconv.Quote(normalized))); err != nil {
		return 0, fmt.Errorf("unknown status code %q", name)
	}
	return c, nil
}

// ParseCodes converts a list of status code names.
func ParseCodes(names []string) ([]codes.Code, error) {
	out := make([]codes.Code, 0, len(names))
	for _, n := range names {
		c, err := ParseCode(n)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}
