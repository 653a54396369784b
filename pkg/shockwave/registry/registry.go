// Package registry wraps user request handlers so a panicking handler
// becomes a plain error instead of taking down the connection's Writer
// task with it.
package registry

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/executor"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
)

// HandlerFunc produces a response for a parsed request. Returning an
// error or panicking both result in a 500 - Registry only distinguishes
// them for logging, not for the response sent to the peer.
type HandlerFunc func(ctx context.Context, w *http11.ResponseWriter, r *http11.Request) error

// Registry is the handler registry the pipeline's Reader consults to
// start a task per request. A real deployment would route on method and
// path; this one dispatches every request to a single handler, which is
// enough surface for the pipeline core and is exercised by the example
// cmd/shockwaved binary via a small mux built on top of it.
type Registry struct {
	exec    *executor.Executor
	handler HandlerFunc
	log     *logrus.Entry
}

// New creates a Registry that dispatches every request to handler.
func New(exec *executor.Executor, handler HandlerFunc, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{exec: exec, handler: handler, log: log}
}

// StartRequestTask spawns handler execution as a normal (backpressure-
// bounded) task and returns a handle the Writer can await or cancel.
func (reg *Registry) StartRequestTask(ctx context.Context, req *http11.Request, resp *http11.ResponseWriter) *executor.TaskHandle {
	return reg.exec.Spawn(ctx, func(taskCtx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				reg.log.WithFields(logrus.Fields{
					"panic": r,
					"path":  req.Path(),
					"stack": string(stack),
				}).Error("handler panicked")
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return reg.handler(taskCtx, resp, req)
	})
}
