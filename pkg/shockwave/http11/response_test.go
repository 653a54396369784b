package http11

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestResponseWriterBuffersUntilSend(t *testing.T) {
	rw := NewResponseWriter()
	rw.WriteHeader(200)
	rw.Header().Set(headerContentType, contentTypePlain)
	rw.Write([]byte("hi"))

	if rw.IsSent() {
		t.Fatal("IsSent true before Send was called")
	}

	var dst bytes.Buffer
	if err := rw.Send(&dst); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !rw.IsSent() {
		t.Fatal("IsSent false after successful Send")
	}

	out := dst.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("output missing status line: %q", out)
	}
	if !strings.HasSuffix(out, "hi") {
		t.Errorf("output missing body: %q", out)
	}
}

func TestResponseWriterSendIsIdempotent(t *testing.T) {
	rw := NewResponseWriter()
	rw.WriteHeader(204)

	var dst bytes.Buffer
	rw.Send(&dst)
	firstLen := dst.Len()

	rw.Send(&dst)
	if dst.Len() != firstLen {
		t.Error("second Send call wrote more data; Send must be idempotent")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestResponseWriterSendFailureSticks(t *testing.T) {
	rw := NewResponseWriter()
	rw.WriteHeader(200)

	err := rw.Send(failingWriter{})
	if err == nil {
		t.Fatal("expected Send error")
	}
	if !rw.SendFailed() {
		t.Error("SendFailed() false after a failed Send")
	}
	if rw.FinishedAt().IsZero() {
		t.Error("FinishedAt not stamped after failure")
	}
}

func TestResponseWriterMarkSendFailedWithoutAttempt(t *testing.T) {
	rw := NewResponseWriter()
	rw.MarkSendFailed(clockNow(), errors.New("connection torn down"))

	if !rw.SendFailed() {
		t.Fatal("expected SendFailed true")
	}
	if rw.IsSent() {
		t.Fatal("expected IsSent false")
	}
}

func TestResponseWriterWriteHeaderOnlyAppliesFirstCall(t *testing.T) {
	rw := NewResponseWriter()
	rw.WriteHeader(404)
	rw.WriteHeader(500)
	if rw.Status() != 404 {
		t.Errorf("Status() = %d, want 404 (first WriteHeader wins)", rw.Status())
	}
}
