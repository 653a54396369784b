// Package stats holds the per-server accounting counters: connection
// and request lifecycle counters, all updated from both the Reader and
// the Writer, plus parser-level counters the Reader feeds on every
// Parse call.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ParserStats are the opaque per-parser counters Stats exposes, fed by
// the Reader on every parser invocation.
type ParserStats struct {
	MalformedRequests uint64
	BytesParsed       uint64
}

func (p *ParserStats) recordMalformed() {
	atomic.AddUint64(&p.MalformedRequests, 1)
}

func (p *ParserStats) recordBytes(n int) {
	if n > 0 {
		atomic.AddUint64(&p.BytesParsed, uint64(n))
	}
}

// Stats is the server-wide accounting block. All fields are safe for
// concurrent use from many connections' Readers and Writers at once.
// active_connections and active_request_count are the only
// non-monotonic counters; the rest only ever increase.
type Stats struct {
	activeConnections      int64
	connectionsCreated     uint64
	connectionsClosed      uint64
	activeRequestCount     int64
	requestsProcessedCount uint64

	Parser ParserStats

	metrics *promMetrics
}

type promMetrics struct {
	activeConnections      prometheus.Gauge
	connectionsCreated     prometheus.Counter
	connectionsClosed      prometheus.Counter
	activeRequestCount     prometheus.Gauge
	requestsProcessedCount prometheus.Counter
	malformedRequests      prometheus.Counter
	bytesParsed            prometheus.Counter
}

// New creates a Stats block and registers its Prometheus metrics against
// reg. With a nil reg the metrics are created but registered with no
// registerer; pass prometheus.DefaultRegisterer to expose them on the
// default registry, or a private prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		metrics: &promMetrics{
			activeConnections: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "shockwave",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of connections currently open.",
			}),
			connectionsCreated: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "shockwave",
				Subsystem: "connections",
				Name:      "created_total",
				Help:      "Total number of connections accepted.",
			}),
			connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "shockwave",
				Subsystem: "connections",
				Name:      "closed_total",
				Help:      "Total number of connections torn down.",
			}),
			activeRequestCount: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "shockwave",
				Subsystem: "requests",
				Name:      "active",
				Help:      "Number of requests currently enqueued or being handled.",
			}),
			requestsProcessedCount: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "shockwave",
				Subsystem: "requests",
				Name:      "processed_total",
				Help:      "Total number of requests sent or marked send-failed.",
			}),
			malformedRequests: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "shockwave",
				Subsystem: "parser",
				Name:      "malformed_requests_total",
				Help:      "Total number of requests rejected as malformed.",
			}),
			bytesParsed: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "shockwave",
				Subsystem: "parser",
				Name:      "bytes_parsed_total",
				Help:      "Total bytes fed into the request parser.",
			}),
		},
	}
}

// ConnectionOpened records a newly accepted connection. Called once by
// pipeline.NewConnection.
func (s *Stats) ConnectionOpened() {
	atomic.AddInt64(&s.activeConnections, 1)
	atomic.AddUint64(&s.connectionsCreated, 1)
	s.metrics.activeConnections.Inc()
	s.metrics.connectionsCreated.Inc()
}

// ConnectionClosed records a connection's teardown. Called at most once,
// by the Writer's shutdown sequence.
func (s *Stats) ConnectionClosed() {
	atomic.AddInt64(&s.activeConnections, -1)
	atomic.AddUint64(&s.connectionsClosed, 1)
	s.metrics.activeConnections.Dec()
	s.metrics.connectionsClosed.Inc()
}

// RequestEnqueued records a request entering the pipeline. Every call
// must be paired with exactly one later RequestResolved call.
func (s *Stats) RequestEnqueued() {
	atomic.AddInt64(&s.activeRequestCount, 1)
	s.metrics.activeRequestCount.Inc()
}

// RequestResolved records a request leaving the pipeline, sent or
// failed.
func (s *Stats) RequestResolved() {
	atomic.AddInt64(&s.activeRequestCount, -1)
	atomic.AddUint64(&s.requestsProcessedCount, 1)
	s.metrics.activeRequestCount.Dec()
	s.metrics.requestsProcessedCount.Inc()
}

// RecordParse feeds parser-level counters for one Parse call. ok is
// false when the parse failed with a malformed_request error.
func (s *Stats) RecordParse(bytesRead int, ok bool) {
	s.Parser.recordBytes(bytesRead)
	s.metrics.bytesParsed.Add(float64(bytesRead))
	if !ok {
		s.Parser.recordMalformed()
		s.metrics.malformedRequests.Inc()
	}
}

// ActiveConnections returns the current number of open connections.
func (s *Stats) ActiveConnections() int64 { return atomic.LoadInt64(&s.activeConnections) }

// ConnectionsCreated returns the lifetime count of accepted connections.
func (s *Stats) ConnectionsCreated() uint64 { return atomic.LoadUint64(&s.connectionsCreated) }

// ConnectionsClosed returns the lifetime count of torn-down connections.
func (s *Stats) ConnectionsClosed() uint64 { return atomic.LoadUint64(&s.connectionsClosed) }

// ActiveRequestCount returns the current number of in-flight requests.
func (s *Stats) ActiveRequestCount() int64 { return atomic.LoadInt64(&s.activeRequestCount) }

// RequestsProcessedCount returns the lifetime count of resolved
// requests.
func (s *Stats) RequestsProcessedCount() uint64 {
	return atomic.LoadUint64(&s.requestsProcessedCount)
}
