// Package server wires the pipeline package's per-connection Reader/
// Writer pair to a listening socket: it accepts connections, constructs
// one pipeline.Connection per accepted socket, tracks them for graceful
// shutdown, and exposes a ListenAndServe/Serve/Shutdown surface.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/accesslog"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/executor"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/pipeline"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/registry"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/stats"
)

// Config holds everything needed to accept connections and drive the
// pipeline package against them.
type Config struct {
	// Addr is the TCP address ListenAndServe listens on.
	Addr string

	// Handler dispatches every accepted request. Required.
	Handler registry.HandlerFunc

	// MaxConcurrentHandlers bounds how many handler tasks may run at
	// once across every connection, via executor.New. Zero means
	// unbounded.
	MaxConcurrentHandlers int64

	// Connection carries the per-connection defaults (buffer sizes,
	// queue capacity, timeouts) applied to every accepted socket.
	// Registry/Executor/Stats/Access/Log are filled in by New and
	// Serve; set the rest here.
	Connection pipeline.ConnectionConfig

	// Access, if set, receives one Entry per resolved request across
	// every connection.
	Access accesslog.Sink

	Log *logrus.Entry
}

// DefaultConfig returns a Config with the pipeline package's own
// connection defaults and an unbounded handler pool.
func DefaultConfig() Config {
	return Config{
		Addr:       ":8080",
		Connection: pipeline.DefaultConnectionConfig(),
	}
}

// Server accepts connections on a net.Listener and runs one
// pipeline.Connection per accepted socket until Shutdown or Close.
type Server struct {
	cfg  Config
	exec *executor.Executor
	reg  *registry.Registry
	stat *stats.Stats
	log  *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    map[*pipeline.Connection]struct{}
	closing  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server. st may be nil to have New construct a private
// Stats whose Prometheus metrics are not registered with any registerer.
func New(cfg Config, st *stats.Stats) *Server {
	if cfg.Handler == nil {
		panic("server: Config.Handler is required")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if st == nil {
		st = stats.New(nil)
	}
	exec := executor.New(cfg.MaxConcurrentHandlers)
	reg := registry.New(exec, cfg.Handler, log)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		exec:   exec,
		reg:    reg,
		stat:   st,
		log:    log,
		conns:  make(map[*pipeline.Connection]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Stats returns the Server's Stats block.
func (s *Server) Stats() *stats.Stats { return s.stat }

// ListenAndServe listens on cfg.Addr and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until it returns an error or Shutdown/
// Close is called, in which case Serve returns nil. Each accepted
// connection gets its own pipeline.Connection, started against the
// Server's lifetime context so a subsequent Shutdown propagates
// cancellation to every in-flight handler.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.WithField("error", err).Warn("accept error, retrying")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		s.handleConn(conn)
	}
}

func nextBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	if prev >= time.Second {
		return time.Second
	}
	return prev * 2
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// handleConn constructs and starts a pipeline.Connection for conn,
// tracking it so Shutdown can enumerate and stop every connection still
// in flight.
func (s *Server) handleConn(conn net.Conn) {
	ccfg := s.cfg.Connection
	ccfg.Registry = s.reg
	ccfg.Executor = s.exec
	ccfg.Stats = s.stat
	ccfg.Access = s.cfg.Access
	ccfg.Log = s.log

	c := pipeline.NewConnection(ccfg, conn)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.SetOnClose(func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	})

	c.Start(s.ctx)
}

// Shutdown stops accepting new connections, requests every in-flight
// connection stop (tripping cancellation through to running handlers),
// and waits for them to finish draining or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	conns := make([]*pipeline.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.cancel()
	for _, c := range conns {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		for _, c := range conns {
			c.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately tears down the listener and every tracked
// connection without waiting for handlers to finish.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	return s.Shutdown(ctx)
}
