package http11

import (
	"io"
	"testing"
)

func TestParserSimpleGET(t *testing.T) {
	conn := newMockConn("GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n")
	p := NewParser()

	req, err := p.Parse(conn)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer PutRequest(req)

	if req.MethodID != MethodGET {
		t.Errorf("MethodID = %d, want MethodGET", req.MethodID)
	}
	if got := req.Path(); got != "/hello" {
		t.Errorf("Path() = %q, want /hello", got)
	}
	if got := req.GetHeaderString("Host"); got != "example.com" {
		t.Errorf("Host = %q, want example.com", got)
	}
	if req.ArrivedAt.IsZero() {
		t.Error("ArrivedAt not stamped")
	}
}

func TestParserRejectsCLTESmuggling(t *testing.T) {
	conn := newMockConn("POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n")
	p := NewParser()

	_, err := p.Parse(conn)
	if err != ErrContentLengthWithTransferEncoding {
		t.Fatalf("err = %v, want ErrContentLengthWithTransferEncoding", err)
	}
}

func TestParserRejectsDuplicateContentLength(t *testing.T) {
	conn := newMockConn("POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello")
	p := NewParser()

	_, err := p.Parse(conn)
	if err != ErrDuplicateContentLength {
		t.Fatalf("err = %v, want ErrDuplicateContentLength", err)
	}
}

func TestParserAllowsIdenticalDuplicateContentLength(t *testing.T) {
	conn := newMockConn("POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello")
	p := NewParser()

	req, err := p.Parse(conn)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer PutRequest(req)
	if req.ContentLength != 5 {
		t.Errorf("ContentLength = %d, want 5", req.ContentLength)
	}
}

func TestParserRejectsDuplicateHost(t *testing.T) {
	conn := newMockConn("GET /x HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n")
	p := NewParser()

	_, err := p.Parse(conn)
	if err != ErrDuplicateHost {
		t.Fatalf("err = %v, want ErrDuplicateHost", err)
	}
}

func TestParserRejectsWhitespaceBeforeColon(t *testing.T) {
	conn := newMockConn("GET /x HTTP/1.1\r\nHost : a\r\n\r\n")
	p := NewParser()

	_, err := p.Parse(conn)
	if err != ErrInvalidHeader {
		t.Fatalf("err = %v, want ErrInvalidHeader", err)
	}
}

func TestParserPipeliningCarriesUnreadBytes(t *testing.T) {
	conn := newMockConn("GET /one HTTP/1.1\r\nHost: a\r\n\r\nGET /two HTTP/1.1\r\nHost: a\r\n\r\n")
	p := NewParser()

	req1, err := p.Parse(conn)
	if err != nil {
		t.Fatalf("Parse #1: %v", err)
	}
	if req1.Path() != "/one" {
		t.Errorf("req1.Path() = %q, want /one", req1.Path())
	}
	PutRequest(req1)

	req2, err := p.Parse(conn)
	if err != nil {
		t.Fatalf("Parse #2: %v", err)
	}
	if req2.Path() != "/two" {
		t.Errorf("req2.Path() = %q, want /two", req2.Path())
	}
	PutRequest(req2)
}

func TestParserReadsContentLengthBody(t *testing.T) {
	conn := newMockConn("POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\n\r\nhello")
	p := NewParser()

	req, err := p.Parse(conn)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer PutRequest(req)

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
}

func TestParserReadsChunkedBody(t *testing.T) {
	conn := newMockConn("POST /x HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r\n")
	p := NewParser()

	req, err := p.Parse(conn)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer PutRequest(req)

	if !req.IsChunked() {
		t.Fatal("expected chunked body")
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "Wiki" {
		t.Errorf("body = %q, want Wiki", body)
	}
}

func TestParserRejectsInvalidMethod(t *testing.T) {
	conn := newMockConn("FOO /x HTTP/1.1\r\nHost: a\r\n\r\n")
	p := NewParser()

	_, err := p.Parse(conn)
	if err != ErrInvalidMethod {
		t.Fatalf("err = %v, want ErrInvalidMethod", err)
	}
}

func TestParserRejectsBadProtocol(t *testing.T) {
	conn := newMockConn("GET /x HTTP/2.0\r\nHost: a\r\n\r\n")
	p := NewParser()

	_, err := p.Parse(conn)
	if err != ErrInvalidProtocol {
		t.Fatalf("err = %v, want ErrInvalidProtocol", err)
	}
}
