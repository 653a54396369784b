package pipeline

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/executor"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/registry"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/stats"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newHarness(t *testing.T, handler registry.HandlerFunc, queueCap int) (net.Conn, *Connection) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	reg := prometheus.NewRegistry()
	st := stats.New(reg)
	exec := executor.New(0)
	hreg := registry.New(exec, handler, testLogger())

	cfg := DefaultConnectionConfig()
	cfg.RequestsQueueSizeThreshold = queueCap
	cfg.Registry = hreg
	cfg.Executor = exec
	cfg.Stats = st
	cfg.Log = testLogger()

	conn := NewConnection(cfg, serverConn)
	conn.Start(context.Background())

	t.Cleanup(func() {
		conn.Stop()
		clientConn.Close()
	})

	return clientConn, conn
}

func echoPathHandler(ctx context.Context, w *http11.ResponseWriter, r *http11.Request) error {
	return w.WriteText(200, []byte(r.Path()))
}

func TestConnectionHappyPathOrdering(t *testing.T) {
	client, _ := newHarness(t, echoPathHandler, 8)

	go func() {
		client.Write([]byte(
			"GET /one HTTP/1.1\r\nHost: a\r\n\r\n" +
				"GET /two HTTP/1.1\r\nHost: a\r\n\r\n" +
				"GET /three HTTP/1.1\r\nHost: a\r\n\r\n",
		))
	}()

	br := bufio.NewReader(client)
	wantPaths := []string{"/one", "/two", "/three"}
	for _, want := range wantPaths {
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		body := make([]byte, len(want))
		if _, err := resp.Body.Read(body); err != nil {
			t.Fatalf("reading body: %v", err)
		}
		resp.Body.Close()
		if string(body) != want {
			t.Errorf("response body = %q, want %q (ordering violated)", body, want)
		}
	}
}

func TestConnectionFinalRequestClosesConnection(t *testing.T) {
	client, conn := newHarness(t, echoPathHandler, 8)

	go func() {
		client.Write([]byte(
			"GET /a HTTP/1.1\r\nHost: h\r\n\r\n" +
				"GET /b HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n",
		))
	}()

	br := bufio.NewReader(client)
	for _, want := range []string{"/a", "/b"} {
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		body := make([]byte, len(want))
		resp.Body.Read(body)
		resp.Body.Close()
		if string(body) != want {
			t.Errorf("body = %q, want %q", body, want)
		}
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never signalled Done() after a Connection: close request")
	}
}

func crashingHandler(ctx context.Context, w *http11.ResponseWriter, r *http11.Request) error {
	if r.Path() == "/crash" {
		panic("simulated handler crash")
	}
	return w.WriteText(200, []byte("ok"))
}

func TestConnectionHandlerPanicBecomes500ThenConnectionSurvives(t *testing.T) {
	client, _ := newHarness(t, crashingHandler, 8)

	go func() {
		client.Write([]byte(
			"GET /crash HTTP/1.1\r\nHost: h\r\n\r\n" +
				"GET /ok HTTP/1.1\r\nHost: h\r\n\r\n",
		))
	}()

	br := bufio.NewReader(client)

	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse (crash): %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500 for a panicking handler", resp.StatusCode)
	}

	resp2, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse (ok, after crash): %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != 200 {
		t.Errorf("status = %d, want 200: a crashed handler must not take the connection down", resp2.StatusCode)
	}
}

func TestConnectionMalformedRequestAfterGoodOneStillClosesCleanly(t *testing.T) {
	client, conn := newHarness(t, echoPathHandler, 8)

	go func() {
		client.Write([]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n"))
		client.Write([]byte("not a valid http request at all\r\n\r\n"))
	}()

	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body := make([]byte, 2)
	resp.Body.Read(body)
	resp.Body.Close()
	if string(body) != "/a" {
		t.Errorf("body = %q, want /a", body)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed after a malformed request")
	}
}
