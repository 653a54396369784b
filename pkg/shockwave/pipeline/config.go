package pipeline

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/accesslog"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/executor"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/registry"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/stats"
)

// ConnectionConfig holds the immutable parameters a Connection is built
// with.
type ConnectionConfig struct {
	// InBufferSize is carried in the config but not read by the
	// pipeline: it does not size reads and does not affect deadlines.
	// The parser always reads through its shared, pooled 4KB buffer
	// (http11.tmpBufPool) regardless of this value.
	InBufferSize int

	// RequestsQueueSizeThreshold is the BoundedPipeline capacity: how
	// many parsed-but-not-yet-written requests may be in flight before
	// the Reader blocks on Push, applying backpressure to the peer.
	RequestsQueueSizeThreshold int

	// ReadTimeout bounds how long a request, once its first byte has
	// arrived, is allowed to take to finish its headers. Zero means no
	// deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single response.send call. Zero means no
	// deadline.
	WriteTimeout time.Duration

	// IdleTimeout bounds how long the Reader will wait for the start of
	// the next pipelined request once the connection is otherwise idle.
	// Zero means no deadline.
	IdleTimeout time.Duration

	Registry *registry.Registry
	Executor *executor.Executor
	Stats    *stats.Stats
	Access   accesslog.Sink
	Log      *logrus.Entry
}

// DefaultConnectionConfig returns a ConnectionConfig with sensible
// defaults for the shared fields; callers must still set Registry,
// Executor, and Stats.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		InBufferSize:               4096,
		RequestsQueueSizeThreshold: 32,
		ReadTimeout:                60 * time.Second,
		WriteTimeout:               30 * time.Second,
		IdleTimeout:                120 * time.Second,
	}
}
