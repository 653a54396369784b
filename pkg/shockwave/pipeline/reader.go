package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
)

// Reader is the pipeline's producer task: it owns the connection's read
// side, turns bytes into parsed requests, starts a handler task per
// request, and pushes RequestSlots for the Writer to drain in order.
type Reader struct {
	conn       net.Conn
	remoteAddr string
	parser     *http11.Parser
	pipeline   *BoundedPipeline[*RequestSlot]
	cfg        ConnectionConfig
	log        *logrus.Entry

	// onExit runs once when Run returns on a clean EOF, cancellation, an
	// I/O error, or the consumer going away, tripping the Writer's
	// cancellation so a Reader failure can never leave the Writer blocked
	// forever on a handler that will never finish. It is not called
	// after a final (Connection: close) request or a malformed request:
	// on those paths the Writer flushes the already-queued requests.
	onExit func()

	accepting atomic.Bool
	seq       uint64
}

// NewReader creates a Reader for conn, pushing onto pl using cfg. onExit
// is called at most once when Run returns; see the onExit field for the
// exit paths that skip it.
func NewReader(conn net.Conn, pl *BoundedPipeline[*RequestSlot], cfg ConnectionConfig, log *logrus.Entry, onExit func()) *Reader {
	r := &Reader{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		parser:     http11.GetParser(),
		pipeline:   pl,
		cfg:        cfg,
		log:        log,
		onExit:     onExit,
	}
	r.accepting.Store(true)
	return r
}

// Run is the Reader's whole lifetime: parse requests until the peer
// half-closes, a request is malformed, a final request is seen,
// ctx is cancelled, or an I/O error occurs. It always returns nil -
// every termination condition is an expected outcome for a connection,
// never something the caller needs to propagate; the only way a caller
// learns a connection ended is through Connection's on_close callback.
func (r *Reader) Run(ctx context.Context) error {
	flush := false
	defer func() {
		if !flush {
			r.onExit()
		}
	}()
	defer r.pipeline.CloseProducer()
	defer http11.PutParser(r.parser)

	for r.accepting.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		switch {
		case r.cfg.IdleTimeout > 0:
			r.conn.SetReadDeadline(time.Now().Add(r.cfg.IdleTimeout))
		case r.cfg.ReadTimeout > 0:
			r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		}

		req, err := r.parser.Parse(&idleThenActiveReader{conn: r.conn, readTimeout: r.cfg.ReadTimeout})
		if err != nil {
			flush = http11.IsMalformed(err)
			r.handleParseError(err)
			return nil
		}

		if err := r.enqueue(ctx, req); err != nil {
			// pipeline_closed: the Writer is gone. Resolve this
			// request's accounting ourselves since nobody else will.
			return nil
		}
	}

	// The loop only ends here after a final request was enqueued.
	flush = true
	return nil
}

func (r *Reader) handleParseError(err error) {
	r.accepting.Store(false)

	if errors.Is(err, io.EOF) {
		// Peer closed cleanly with no bytes in flight - normal
		// termination, nothing to log.
		return
	}

	if http11.IsMalformed(err) {
		r.cfg.Stats.RecordParse(r.parser.BytesRead(), false)
		r.log.WithField("error", err).Warn("malformed request, closing connection")
		return
	}

	kind := classifyIOError(err)
	switch kind {
	case ErrIOCancelled:
		// Silent: Stop() tore down the socket or the context was
		// cancelled. Nothing to log.
	case ErrIOConnectionReset:
		r.log.WithField("error", err).Warn("connection reset by peer")
	default:
		r.log.WithField("error", err).Error("read error")
	}
}

// idleThenActiveReader tightens the connection's read deadline the
// moment a pipelined request actually starts arriving: before the first
// byte, a deadline trip means the peer went idle between requests
// (IdleTimeout governs that wait); after it, a trip means the request
// itself is stalling mid-transfer, which readTimeout governs instead.
type idleThenActiveReader struct {
	conn        net.Conn
	readTimeout time.Duration
	started     bool
}

func (r *idleThenActiveReader) Read(p []byte) (int, error) {
	n, err := r.conn.Read(p)
	if n > 0 && !r.started {
		r.started = true
		if r.readTimeout > 0 {
			r.conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		}
	}
	return n, err
}

// enqueue builds a RequestSlot for req, starts its handler task, and
// pushes the slot. Returns a non-nil error only when the pipeline's
// consumer has gone away (pipeline_closed) or ctx is done, in which case
// the caller must stop reading.
func (r *Reader) enqueue(ctx context.Context, req *http11.Request) error {
	r.cfg.Stats.RecordParse(r.parser.BytesRead(), true)

	r.seq++
	req.SequenceNumber = r.seq
	req.RemoteAddr = r.remoteAddr

	isFinal := req.ShouldClose()
	if isFinal {
		r.accepting.Store(false)
	}

	resp := http11.GetResponseWriter()
	r.cfg.Stats.RequestEnqueued()

	handler := r.cfg.Registry.StartRequestTask(ctx, req, resp)

	slot := &RequestSlot{Request: req, Response: resp, Handler: handler, IsFinal: isFinal}

	if err := r.pipeline.Push(ctx, slot); err != nil {
		r.accepting.Store(false)
		handler.Cancel()
		handler.Wait()
		resp.MarkSendFailed(time.Now(), err)
		r.cfg.Stats.RequestResolved()
		http11.PutRequest(req)
		http11.PutResponseWriter(resp)
		return err
	}

	return nil
}
