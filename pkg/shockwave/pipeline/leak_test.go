package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
)

// TestMain asserts that no goroutine started by this package's tests -
// a Reader, a Writer, or a handler task - ever outlives its connection.
// This is the direct check for invariant I3 ("after Connection.shutdown,
// ... on_close has been invoked at most once") at the goroutine level:
// a leaked Reader or Writer would mean shutdown never actually finished
// draining the pipeline.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConnectionCloseRequestLeavesNoGoroutinesBehind(t *testing.T) {
	defer goleak.VerifyNone(t,
		// net.Pipe's in-memory conn parks a goroutine signalling its
		// peer's blocked Read/Write; it exits once both ends are
		// closed, which the harness's t.Cleanup guarantees, but not
		// necessarily before VerifyNone's snapshot on a slow machine.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	client, conn := newHarness(t, echoPathHandler, 4)

	go func() {
		client.Write([]byte("GET /a HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	}()
	// net.Pipe is synchronous: the response must be read for the
	// Writer's Send to complete.
	go io.Copy(io.Discard, client)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never finished shutdown")
	}

	conn.Wait()
}

func slowPathHandler(ctx context.Context, w *http11.ResponseWriter, r *http11.Request) error {
	select {
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.WriteText(200, []byte("late"))
}

func TestConnectionCancelledHandlerLeavesNoGoroutinesBehind(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, conn := newHarness(t, slowPathHandler, 4)

	go func() {
		client.Write([]byte("GET /slow HTTP/1.1\r\nHost: h\r\n\r\n"))
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Stop()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never finished shutdown after Stop")
	}

	conn.Wait()
}
