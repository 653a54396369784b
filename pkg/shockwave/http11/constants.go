// Package http11 implements zero-allocation HTTP/1.1 request parsing and
// response writing for the shockwave connection pipeline.
package http11

// HTTP Method IDs for O(1) switching.
const (
	MethodUnknown uint8 = 0
	MethodGET     uint8 = 1
	MethodPOST    uint8 = 2
	MethodPUT     uint8 = 3
	MethodDELETE  uint8 = 4
	MethodPATCH   uint8 = 5
	MethodHEAD    uint8 = 6
	MethodOPTIONS uint8 = 7
	MethodCONNECT uint8 = 8
	MethodTRACE   uint8 = 9
)

// HTTP Methods - byte slices for parsing (zero allocations).
var (
	methodGETBytes     = []byte("GET")
	methodPOSTBytes    = []byte("POST")
	methodPUTBytes     = []byte("PUT")
	methodDELETEBytes  = []byte("DELETE")
	methodPATCHBytes   = []byte("PATCH")
	methodHEADBytes    = []byte("HEAD")
	methodOPTIONSBytes = []byte("OPTIONS")
	methodCONNECTBytes = []byte("CONNECT")
	methodTRACEBytes   = []byte("TRACE")
)

const (
	methodGETString     = "GET"
	methodPOSTString    = "POST"
	methodPUTString     = "PUT"
	methodDELETEString  = "DELETE"
	methodPATCHString   = "PATCH"
	methodHEADString    = "HEAD"
	methodOPTIONSString = "OPTIONS"
	methodCONNECTString = "CONNECT"
	methodTRACEString   = "TRACE"
)

// HTTP status lines, pre-compiled with CRLF for zero-allocation writes.
var (
	status100Bytes = []byte("HTTP/1.1 100 Continue\r\n")

	status200Bytes = []byte("HTTP/1.1 200 OK\r\n")
	status201Bytes = []byte("HTTP/1.1 201 Created\r\n")
	status202Bytes = []byte("HTTP/1.1 202 Accepted\r\n")
	status204Bytes = []byte("HTTP/1.1 204 No Content\r\n")
	status206Bytes = []byte("HTTP/1.1 206 Partial Content\r\n")

	status301Bytes = []byte("HTTP/1.1 301 Moved Permanently\r\n")
	status302Bytes = []byte("HTTP/1.1 302 Found\r\n")
	status304Bytes = []byte("HTTP/1.1 304 Not Modified\r\n")

	status400Bytes = []byte("HTTP/1.1 400 Bad Request\r\n")
	status401Bytes = []byte("HTTP/1.1 401 Unauthorized\r\n")
	status403Bytes = []byte("HTTP/1.1 403 Forbidden\r\n")
	status404Bytes = []byte("HTTP/1.1 404 Not Found\r\n")
	status405Bytes = []byte("HTTP/1.1 405 Method Not Allowed\r\n")
	status408Bytes = []byte("HTTP/1.1 408 Request Timeout\r\n")
	status409Bytes = []byte("HTTP/1.1 409 Conflict\r\n")
	status411Bytes = []byte("HTTP/1.1 411 Length Required\r\n")
	status413Bytes = []byte("HTTP/1.1 413 Payload Too Large\r\n")
	status414Bytes = []byte("HTTP/1.1 414 URI Too Long\r\n")
	status429Bytes = []byte("HTTP/1.1 429 Too Many Requests\r\n")

	status500Bytes = []byte("HTTP/1.1 500 Internal Server Error\r\n")
	status501Bytes = []byte("HTTP/1.1 501 Not Implemented\r\n")
	status502Bytes = []byte("HTTP/1.1 502 Bad Gateway\r\n")
	status503Bytes = []byte("HTTP/1.1 503 Service Unavailable\r\n")
	status504Bytes = []byte("HTTP/1.1 504 Gateway Timeout\r\n")
)

// Common header names - byte slices for zero-allocation parsing.
var (
	headerContentLength    = []byte("Content-Length")
	headerContentType      = []byte("Content-Type")
	headerConnection       = []byte("Connection")
	headerKeepAlive        = []byte("keep-alive")
	headerClose            = []byte("close")
	headerTransferEncoding = []byte("Transfer-Encoding")
	headerChunked          = []byte("chunked")
	headerHost             = []byte("Host")
	headerDate             = []byte("Date")
	headerServer           = []byte("Server")
)

// A short, representative content-type table: the pipeline only needs
// enough to drive access logging and default error bodies, not a full
// MIME registry.
var (
	contentTypeJSONUTF8 = []byte("application/json; charset=utf-8")
	contentTypePlain    = []byte("text/plain; charset=utf-8")
)

// Protocol constants.
var (
	http11Bytes = []byte("HTTP/1.1")
	crlfBytes   = []byte("\r\n")
	colonSpace  = []byte(": ")
	http11Proto = "HTTP/1.1"
)

const (
	ProtoHTTP11Major = 1
	ProtoHTTP11Minor = 1
)

// Header and request limits, per RFC 7230 and common DoS-hardening practice.
const (
	// MaxHeaders is the maximum number of headers stored inline without heap allocation.
	MaxHeaders = 32

	// MaxHeaderName is the maximum length of a header name stored inline.
	MaxHeaderName = 64

	// MaxHeaderValue is the maximum length of a header value stored inline;
	// larger values spill into overflow storage.
	MaxHeaderValue = 128

	// MaxRequestLineSize is the maximum size of the request line.
	MaxRequestLineSize = 8192

	// MaxURILength is the maximum length of the Request-URI.
	MaxURILength = 8192

	// MaxHeadersSize is the maximum total size of all headers.
	MaxHeadersSize = 8192
)
