package chain

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// TransportError wraps a failed chain call with a retryability verdict,
// following the same small-typed-error preference as model.DecodeError
// rather than a sentinel value.
type TransportError struct {
	Retryable bool
	Cause     error
}

func (e *TransportError) Error() string {
	return e.Cause.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// classify turns a raw error from go-ethereum's rpc/ethclient layer
// into a TransportError, recognizing the common transient failure
// shapes (socket resets, timeouts, closed websockets, provider 5xx
// bodies) as retryable.
func classify(err error) *TransportError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Retryable: true, Cause: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TransportError{Retryable: true, Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportError{Retryable: true, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"too many requests",
		"rate limit",
		"502",
		"503",
		"504",
		"temporarily unavailable",
		"websocket: close",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return &TransportError{Retryable: true, Cause: err}
		}
	}

	return &TransportError{Retryable: false, Cause: err}
}
