package http11

import (
	"io"
	"net/url"
	"time"
)

// Request represents a parsed HTTP/1.1 request.
//
// CRITICAL: methodBytes, pathBytes, queryBytes, and protoBytes are
// references into the Request's own copy of the request line and
// headers. They are valid only until the Request is returned to the
// pool (PutRequest). Use
// Method(), Path(), Query() if you need a value that outlives the
// request's slot in the pipeline.
type Request struct {
	MethodID uint8

	methodBytes []byte
	pathBytes   []byte
	queryBytes  []byte
	protoBytes  []byte

	pathParsed *url.URL

	Header Header

	Body io.Reader

	Proto      string
	ProtoMajor int
	ProtoMinor int

	ContentLength int64

	TransferEncoding []string

	Close bool

	RemoteAddr string

	// SequenceNumber is the 1-based arrival order of this request on its
	// connection, assigned by the Reader. The Writer does not read it;
	// response order comes from the FIFO pipeline.
	SequenceNumber uint64

	// ArrivedAt is when the parser finished producing this Request -
	// the point at which it becomes eligible for dispatch. Used by the
	// access-log sink to compute handler latency.
	ArrivedAt time.Time

	buf []byte
}

// Method returns the HTTP method as a string.
func (r *Request) Method() string {
	return MethodString(r.MethodID)
}

// MethodBytes returns the HTTP method as a zero-copy byte slice.
func (r *Request) MethodBytes() []byte {
	return r.methodBytes
}

// Path returns the request path, allocating a string.
func (r *Request) Path() string {
	return string(r.pathBytes)
}

// PathBytes returns the request path as a zero-copy byte slice.
func (r *Request) PathBytes() []byte {
	return r.pathBytes
}

// Query returns the query string, allocating a string.
func (r *Request) Query() string {
	return string(r.queryBytes)
}

// QueryBytes returns the query string (without '?') as a zero-copy slice.
func (r *Request) QueryBytes() []byte {
	return r.queryBytes
}

// ParsedURL lazily parses and caches path+query as a *url.URL.
func (r *Request) ParsedURL() (*url.URL, error) {
	if r.pathParsed == nil {
		var urlStr string
		if len(r.queryBytes) > 0 {
			urlStr = string(r.pathBytes) + "?" + string(r.queryBytes)
		} else {
			urlStr = string(r.pathBytes)
		}

		var err error
		r.pathParsed, err = url.Parse(urlStr)
		if err != nil {
			return nil, err
		}
	}
	return r.pathParsed, nil
}

// GetHeader retrieves a header value by name (case-insensitive).
func (r *Request) GetHeader(name []byte) []byte {
	return r.Header.Get(name)
}

// GetHeaderString retrieves a header value as a string.
func (r *Request) GetHeaderString(name string) string {
	return r.Header.GetString([]byte(name))
}

// HasHeader reports whether a header exists (case-insensitive).
func (r *Request) HasHeader(name []byte) bool {
	return r.Header.Has(name)
}

// HasBody reports whether the request declares a body.
func (r *Request) HasBody() bool {
	return r.ContentLength > 0 || len(r.TransferEncoding) > 0
}

// IsChunked reports whether the request uses chunked transfer encoding.
func (r *Request) IsChunked() bool {
	if len(r.TransferEncoding) == 0 {
		return false
	}
	lastEncoding := r.TransferEncoding[len(r.TransferEncoding)-1]
	return lastEncoding == "chunked"
}

// ShouldClose reports whether the connection should close after this
// request's response is sent.
func (r *Request) ShouldClose() bool {
	return r.Close
}

// Reset clears the request for reuse when returned to the pool.
func (r *Request) Reset() {
	r.MethodID = 0
	r.methodBytes = nil
	r.pathBytes = nil
	r.queryBytes = nil
	r.protoBytes = nil
	r.pathParsed = nil
	r.Header.Reset()
	r.Body = nil
	r.Proto = ""
	r.ProtoMajor = 0
	r.ProtoMinor = 0
	r.ContentLength = 0
	r.TransferEncoding = nil
	r.Close = false
	r.RemoteAddr = ""
	r.SequenceNumber = 0
	r.ArrivedAt = time.Time{}
	r.buf = nil
}
