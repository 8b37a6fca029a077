package retry

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRetriesExhausted is returned when every attempt failed with a retryable
// code. It deliberately carries no underlying status.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrNoCredentialProvider is returned when a refresh is required but the
// envelope has no provider to refresh from.
var ErrNoCredentialProvider = errors.New("no credential provider configured")

// CodeOf returns the status code carried by err, or codes.Unknown for
// errors that are not gRPC statuses.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

// Describe renders err for logs, including ErrorInfo and RetryInfo details
// when the server attached them.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	st, ok := status.FromError(err)
	if !ok {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(st.Message())
	for _, d := range st.Details() {
		switch info := d.(type) {
		case *errdetails.ErrorInfo:
			fmt.Fprintf(&b, " [reason=%s domain=%s]", info.GetReason(), info.GetDomain())
		case *errdetails.RetryInfo:
			if delay := info.GetRetryDelay(); delay != nil {
				fmt.Fprintf(&b, " [retry_delay=%s]", delay.AsDuration())
			}
		case *errdetails.DebugInfo:
			if detail := info.GetDetail(); detail != "" {
				fmt.Fprintf(&b, " [debug=%s]", detail)
			}
		}
	}
	return b.String()
}
