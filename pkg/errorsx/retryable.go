package errorsx

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Retryable reports whether a caller may reasonably retry the failed operation.
// Auth, config and endpoint-misuse failures are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch Reason(err) {
	case ReasonAuth, ReasonConfig, ReasonChannelClosed:
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	st, ok := grpcStatus(err)
	if !ok {
		return Reason(err) == ReasonConnect
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return true
	}
	return false
}

func grpcStatus(err error) (*status.Status, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if se, ok := e.(interface{ GRPCStatus() *status.Status }); ok {
			return se.GRPCStatus(), true
		}
	}
	return nil, false
}
