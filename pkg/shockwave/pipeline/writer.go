package pipeline

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/accesslog"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
)

// ErrResponseChainInvalid marks a response that could never be sent
// because a handler on the same connection was cancelled - once the
// chain is invalid, every remaining queued response on the connection is
// finalized as send-failed without attempting I/O. A failed Send does
// not invalidate the chain.
var ErrResponseChainInvalid = errors.New("pipeline: response chain invalidated, connection closing")

// Writer is the pipeline's consumer task: it is guaranteed to keep
// draining the pipeline even while every normal-task slot is occupied,
// and it is the sole writer of the connection's socket, which is what
// gives strict response ordering for free.
type Writer struct {
	conn net.Conn
	pipe *BoundedPipeline[*RequestSlot]
	cfg  ConnectionConfig
	log  *logrus.Entry

	closeSocket func() error
	onClose     func()

	stopRequested      atomic.Bool
	responseChainValid atomic.Bool
}

// NewWriter creates a Writer draining pl onto conn. closeSocket must be
// idempotent - both Writer.shutdown and Connection.Stop race to call it
// and only the first call's result matters.
func NewWriter(conn net.Conn, pl *BoundedPipeline[*RequestSlot], cfg ConnectionConfig, log *logrus.Entry, closeSocket func() error, onClose func()) *Writer {
	w := &Writer{
		conn:        conn,
		pipe:        pl,
		cfg:         cfg,
		log:         log,
		closeSocket: closeSocket,
		onClose:     onClose,
	}
	w.responseChainValid.Store(true)
	return w
}

// RequestStop tells the Writer the connection is shutting down: the
// next slot it processes (including one already popped) will have its
// handler cancelled rather than awaited, and the response chain is
// invalidated for it and everything still queued behind it.
func (w *Writer) RequestStop() {
	w.stopRequested.Store(true)
}

// Run drains the pipeline until the Reader has closed the producer side
// and every queued slot has been resolved, then runs the connection's
// shutdown sequence. It always returns nil, matching Reader.Run's
// convention that no Connection-internal error ever propagates past
// on_close.
func (w *Writer) Run(ctx context.Context) error {
	for {
		slot, ok := w.pipe.Pop()
		if !ok {
			break
		}
		w.processSlot(ctx, slot)
	}
	w.shutdown()
	return nil
}

// processSlot joins the slot's handler (or cancels it if the connection
// is stopping), then sends the resulting response. Cancelling only
// requests that the handler stop; it does not make the handler
// goroutine exit, so even on the stopping path this still waits for it
// to actually finish before sendResponse returns the request and
// response to their pools - otherwise a handler goroutine still reading
// req or writing resp could race the pool handing those same objects to
// a brand new request. Once the handler has been joined, send runs with
// cancellation effectively blocked: net.Conn.Write is not itself
// cancellable, so a send that has started always runs to completion
// rather than truncating mid-write.
func (w *Writer) processSlot(ctx context.Context, slot *RequestSlot) {
	if w.stopRequested.Load() {
		slot.Handler.Cancel()
		slot.Handler.Wait()
		w.responseChainValid.Store(false)
	} else {
		err := slot.Handler.Wait()
		switch {
		case err == nil:
			// handler populated the response normally.
		case errors.Is(err, context.Canceled):
			w.responseChainValid.Store(false)
		default:
			w.log.WithField("error", err).Warn("handler crashed, converting to 500")
			slot.Response.MarkInternalServerError()
		}
	}

	w.sendResponse(slot)
}

func (w *Writer) sendResponse(slot *RequestSlot) {
	startSend := time.Now()

	var sendErr error
	if w.responseChainValid.Load() {
		if w.cfg.WriteTimeout > 0 {
			w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
		}
		if err := slot.Response.Send(w.conn); err != nil {
			sendErr = err
			kind := classifyIOError(err)
			if kind == ErrIOBrokenPipe {
				w.log.WithField("error", err).Warn("broken pipe sending response")
			} else {
				w.log.WithField("error", err).Error("error sending response")
			}
		}
	} else {
		sendErr = ErrResponseChainInvalid
		slot.Response.MarkSendFailed(time.Now(), sendErr)
	}

	finish := time.Now()
	w.cfg.Stats.RequestResolved()
	w.emitAccessLog(slot, startSend, finish, sendErr)

	http11.PutRequest(slot.Request)
	http11.PutResponseWriter(slot.Response)
}

func (w *Writer) emitAccessLog(slot *RequestSlot, startSend, finish time.Time, sendErr error) {
	if w.cfg.Access == nil {
		return
	}
	kind := ""
	if sendErr != nil {
		if errors.Is(sendErr, ErrResponseChainInvalid) {
			kind = ErrHandlerCancelled.String()
		} else {
			kind = classifyIOError(sendErr).String()
		}
	}
	w.cfg.Access.Write(accesslog.Entry{
		RemoteAddr:    slot.Request.RemoteAddr,
		Method:        slot.Request.Method(),
		Path:          slot.Request.Path(),
		Status:        slot.Response.Status(),
		BytesWritten:  slot.Response.BytesWritten(),
		Sent:          slot.Response.IsSent(),
		ArrivedAt:     slot.Request.ArrivedAt,
		StartSendTime: startSend,
		FinishTime:    finish,
		ErrorKind:     kind,
	})
}

// shutdown runs the connection's teardown once the pipeline is fully
// drained: close the socket, update connection accounting, and invoke
// the caller's on_close callback. There is no self-join hazard to guard
// against here - Connection.Wait joins the Writer's goroutine through
// the errgroup.Group that Connection.Start created, not from inside the
// Writer itself.
func (w *Writer) shutdown() {
	if err := w.closeSocket(); err != nil && !errors.Is(err, net.ErrClosed) {
		w.log.WithField("error", err).Warn("error closing connection socket")
	}
	w.cfg.Stats.ConnectionClosed()
	if w.onClose != nil {
		w.onClose()
	}
}
