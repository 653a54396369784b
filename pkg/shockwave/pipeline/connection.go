// Package pipeline implements the per-connection request pipeline: a
// Reader task parses requests and hands them to handler tasks, a Writer
// task joins those handlers and sends responses back in the exact order
// they were parsed, and Connection wires the two together over one
// socket.
package pipeline

import (
	"context"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Connection owns one accepted socket's Reader and Writer tasks for its
// entire lifetime. The Writer is the component actually responsible for
// running shutdown once the pipeline drains; Connection itself is a
// thin coordinator plus the diagnostic/public surface callers use.
type Connection struct {
	conn net.Conn
	cfg  ConnectionConfig
	log  *logrus.Entry

	pipe   *BoundedPipeline[*RequestSlot]
	reader *Reader
	writer *Writer

	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	closeErr  error

	onCloseUser func()
	done        chan struct{}
	doneOnce    sync.Once
}

// NewConnection creates a Connection wrapping conn. It records
// connections_created/active_connections immediately and captures the
// peer address before the socket can possibly be closed out from under
// a later diagnostic call.
func NewConnection(cfg ConnectionConfig, conn net.Conn) *Connection {
	cfg.Stats.ConnectionOpened()

	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{
		"remote_addr": conn.RemoteAddr().String(),
		"conn_id":     uuid.NewString(),
	})

	return &Connection{
		conn: conn,
		cfg:  cfg,
		log:  log,
		pipe: NewBoundedPipeline[*RequestSlot](cfg.RequestsQueueSizeThreshold),
		done: make(chan struct{}),
	}
}

// SetOnClose registers a one-shot callback invoked exactly once, after
// the socket is closed and accounting is updated, as the final step of
// shutdown. Call this before Start; it must not panic.
func (c *Connection) SetOnClose(cb func()) {
	c.onCloseUser = cb
}

// Start spawns the Reader and Writer tasks: the Writer keeps draining
// the pipeline even if every normal-task slot is saturated by stalled
// handlers. Start returns immediately; use Done to wait for full
// teardown.
func (c *Connection) Start(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	writer := NewWriter(c.conn, c.pipe, c.cfg, c.log, c.closeSocket, func() {
		c.doneOnce.Do(func() {
			if c.onCloseUser != nil {
				c.onCloseUser()
			}
			close(c.done)
		})
	})
	reader := NewReader(c.conn, c.pipe, c.cfg, c.log, func() {
		writer.RequestStop()
	})
	c.reader = reader
	c.writer = writer

	g := &errgroup.Group{}
	g.Go(func() error { return reader.Run(connCtx) })
	g.Go(func() error { return writer.Run(connCtx) })
	c.group = g
}

// Stop requests that the connection shut down. It cancels the shared
// context (propagating to any in-flight handler task), tells the Writer
// to stop awaiting handlers and instead cancel-and-invalidate, and
// force-closes the socket so a Reader blocked in a socket read - which
// has no context of its own - is guaranteed to unblock with an error
// instead of hanging forever. The Writer's unconditional Pop() then
// drains naturally once the Reader's exit closes the producer side.
func (c *Connection) Stop() {
	if c.writer != nil {
		c.writer.RequestStop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.closeSocket()
}

// Wait blocks until both the Reader and Writer tasks have returned.
// Shutdown (socket close, accounting, on_close) has already run by the
// time Wait returns, since the Writer performs it before its Run method
// returns.
func (c *Connection) Wait() {
	if c.group != nil {
		c.group.Wait()
	}
}

// Done returns a channel closed once shutdown has completed: the socket
// is closed, accounting is updated, and on_close (if set) has been
// invoked. Safe to call before or after Start.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) closeSocket() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Fd returns the connection's underlying file descriptor, for
// diagnostics only. The second return value is false if conn does not
// expose one (e.g. in tests using net.Pipe).
func (c *Connection) Fd() (uintptr, bool) {
	sc, ok := c.conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := rc.Control(func(v uintptr) { fd = v }); err != nil {
		return 0, false
	}
	return fd, true
}

// RemoteAddr returns the peer address reported by the underlying
// net.Conn.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
