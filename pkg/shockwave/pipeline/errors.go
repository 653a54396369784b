package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// ErrorKind classifies every failure the Reader and Writer can observe.
// Only handlerCrashed is ever user-visible (as a 500); every other kind
// ends the connection silently.
type ErrorKind int

const (
	// ErrNone means no error occurred.
	ErrNone ErrorKind = iota
	// ErrIOCancelled: a blocking I/O call returned because its context
	// was cancelled. Silent exit, normal teardown.
	ErrIOCancelled
	// ErrIOConnectionReset: the peer reset the connection. Logged as a
	// warning, then normal exit.
	ErrIOConnectionReset
	// ErrIOBrokenPipe: a write to a closed peer failed. Logged as a
	// warning; the in-flight response is marked send-failed.
	ErrIOBrokenPipe
	// ErrIOOther: any other I/O failure. Logged as an error.
	ErrIOOther
	// ErrMalformedRequest: the parser rejected the byte stream. The
	// Reader stops accepting new requests, flushes what is already
	// queued, then the connection closes.
	ErrMalformedRequest
	// ErrHandlerCancelled: the Writer cancelled an in-flight handler
	// because the connection is shutting down. Invalidates the response
	// chain for this and all subsequent queued requests.
	ErrHandlerCancelled
	// ErrHandlerCrashed: a handler panicked or returned an error. The
	// Writer converts this into a 500 and continues.
	ErrHandlerCrashed
	// ErrPipelineClosed: a push was attempted after the consumer went
	// away. The Reader stops accepting and exits.
	ErrPipelineClosed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrIOCancelled:
		return "io_cancelled"
	case ErrIOConnectionReset:
		return "io_connection_reset"
	case ErrIOBrokenPipe:
		return "io_broken_pipe"
	case ErrIOOther:
		return "io_other"
	case ErrMalformedRequest:
		return "malformed_request"
	case ErrHandlerCancelled:
		return "handler_cancelled"
	case ErrHandlerCrashed:
		return "handler_crashed"
	case ErrPipelineClosed:
		return "pipeline_closed"
	default:
		return "none"
	}
}

// ErrPipelineClosedErr is returned by BoundedPipeline.Push once the
// consumer side has been closed.
var ErrPipelineClosedErr = errors.New("pipeline: consumer closed, push rejected")

// classifyIOError maps a raw I/O error from a socket read or write into
// an ErrorKind. Order matters: context cancellation is checked first
// since a cancelled read can also surface as a generic "use of closed
// network connection" error once Stop() force-closes the socket.
func classifyIOError(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrIOCancelled
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrIOCancelled
	}
	if errors.Is(err, io.EOF) {
		return ErrIOConnectionReset
	}
	msg := err.Error()
	if strings.Contains(msg, "connection reset") {
		return ErrIOConnectionReset
	}
	if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "use of closed network connection") {
		return ErrIOBrokenPipe
	}
	return ErrIOOther
}
