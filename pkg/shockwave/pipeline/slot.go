package pipeline

import (
	"github.com/watt-toolkit/shockwave/pkg/shockwave/executor"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
)

// RequestSlot pairs a parsed Request with the handle to its executing
// handler task: the Reader builds one per parsed request and pushes it
// onto the pipeline; the Writer is the slot's sole owner from Pop until
// the response is resolved, at which point it returns the pooled
// Request and ResponseWriter.
type RequestSlot struct {
	Request  *http11.Request
	Response *http11.ResponseWriter
	Handler  *executor.TaskHandle

	// IsFinal marks a request carrying Connection: close, the last one
	// the Reader enqueues on this connection. The Writer does not read
	// it; the socket is closed once the Reader has exited and the
	// Writer has drained the pipeline.
	IsFinal bool
}
