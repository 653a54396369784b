package http11

import (
	"bytes"
	"io"
	"time"
)

// tmpBufPool provides pooled temporary buffers for reading requests off
// the wire, avoiding a 4KB allocation per request.
var tmpBufPool = newBytePool(4096)

// Parser implements zero-allocation HTTP/1.1 request parsing as a pull
// loop: each call to Parse reads exactly one request off r, returning a
// pooled *Request. Parse owns pipelining internally - if a previous call
// read past the end of its request into the next one, the excess is kept
// in unreadBuf and consumed before the next Read on r. A Content-Length
// body takes only its own bytes from unreadBuf; a chunked body takes all
// of them, so bytes after a chunked body are not carried over.
//
// The pipeline's Reader calls Parse in a loop; it never needs to know
// about unreadBuf to get pipelined requests one at a time.
type Parser struct {
	buf       []byte
	unreadBuf []byte
	lastBytes int
}

// NewParser creates a ready-to-use HTTP/1.1 parser.
func NewParser() *Parser {
	return &Parser{
		buf: make([]byte, 0, MaxRequestLineSize+MaxHeadersSize),
	}
}

// Parse parses one HTTP/1.1 request from r.
//
// The returned Request holds slices into its own copy of the request line
// and headers, so later Parse calls on this Parser do not disturb it; it
// is valid until the caller returns it via PutRequest - the pipeline's
// Writer is the one that calls PutRequest, after the response for this
// request has been sent.
func (p *Parser) Parse(r io.Reader) (*Request, error) {
	p.buf = p.buf[:0]
	p.lastBytes = 0

	var reader io.Reader
	if len(p.unreadBuf) > 0 {
		reader = io.MultiReader(bytes.NewReader(p.unreadBuf), r)
		p.unreadBuf = nil
	} else {
		reader = r
	}

	if err := p.readUntilHeadersEnd(reader); err != nil {
		p.lastBytes = len(p.buf)
		return nil, err
	}
	p.lastBytes = len(p.buf)

	req := GetRequest()
	req.Proto = http11Proto
	req.ProtoMajor = ProtoHTTP11Major
	req.ProtoMinor = ProtoHTTP11Minor
	req.buf = append(req.buf[:0], p.buf...)

	pos, err := p.parseRequestLine(req, req.buf)
	if err != nil {
		PutRequest(req)
		return nil, err
	}

	if err := p.parseHeaders(req, req.buf[pos:]); err != nil {
		PutRequest(req)
		return nil, err
	}

	if req.ContentLength > 0 {
		p.lastBytes += int(req.ContentLength)
	}

	bodyReader := r
	if len(p.unreadBuf) > 0 && req.HasBody() {
		if req.ContentLength > 0 && int64(len(p.unreadBuf)) >= req.ContentLength {
			bodyReader = bytes.NewReader(p.unreadBuf[:req.ContentLength])
			p.unreadBuf = p.unreadBuf[req.ContentLength:]
		} else {
			bodyReader = io.MultiReader(bytes.NewReader(p.unreadBuf), r)
			p.unreadBuf = nil
		}
	}

	if err := p.setupBodyReader(req, bodyReader); err != nil {
		PutRequest(req)
		return nil, err
	}

	req.ArrivedAt = time.Now()
	return req, nil
}

// BytesRead reports the number of bytes consumed by the most recent
// Parse call: the request line and headers, plus the declared
// Content-Length body size when framed by a length rather than
// chunked encoding. Valid whether or not Parse returned an error, so
// callers can account bytes even for a rejected request.
func (p *Parser) BytesRead() int {
	return p.lastBytes
}

// readUntilHeadersEnd reads from r until the blank line terminating the
// header block ("\r\n\r\n") is found, stashing any bytes read past it in
// unreadBuf for the next Parse call (HTTP pipelining).
func (p *Parser) readUntilHeadersEnd(r io.Reader) error {
	tmpBufPtr := tmpBufPool.get()
	defer tmpBufPool.put(tmpBufPtr)
	tmpBuf := *tmpBufPtr

	foundEnd := false

	for !foundEnd {
		n, err := r.Read(tmpBuf)
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			if err == io.EOF {
				if len(p.buf) == 0 {
					return io.EOF
				}
				return ErrUnexpectedEOF
			}
			continue
		}

		p.buf = append(p.buf, tmpBuf[:n]...)

		if len(p.buf) >= 4 {
			searchStart := len(p.buf) - n - 3
			if searchStart < 0 {
				searchStart = 0
			}

			idx := bytes.Index(p.buf[searchStart:], []byte("\r\n\r\n"))
			if idx != -1 {
				foundEnd = true
				actualIdx := searchStart + idx + 4

				if actualIdx < len(p.buf) {
					excessLen := len(p.buf) - actualIdx
					p.unreadBuf = make([]byte, excessLen)
					copy(p.unreadBuf, p.buf[actualIdx:])
				}

				p.buf = p.buf[:actualIdx]
			}
		}

		if len(p.buf) > MaxRequestLineSize+MaxHeadersSize {
			return ErrHeadersTooLarge
		}

		if err == io.EOF {
			break
		}
	}

	if !foundEnd {
		return ErrUnexpectedEOF
	}

	return nil
}

// parseRequestLine parses "METHOD SP Request-URI SP HTTP-Version CRLF"
// and returns the offset of the first header byte.
func (p *Parser) parseRequestLine(req *Request, buf []byte) (int, error) {
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd == -1 {
		return 0, ErrInvalidRequestLine
	}

	line := buf[:lineEnd]
	if len(line) > MaxRequestLineSize {
		return 0, ErrRequestLineTooLarge
	}

	spaceIdx := bytes.IndexByte(line, ' ')
	if spaceIdx == -1 {
		return 0, ErrInvalidRequestLine
	}

	methodBytes := line[:spaceIdx]
	req.MethodID = ParseMethodID(methodBytes)
	if req.MethodID == MethodUnknown {
		return 0, ErrInvalidMethod
	}
	req.methodBytes = methodBytes

	line = line[spaceIdx+1:]
	spaceIdx = bytes.IndexByte(line, ' ')
	if spaceIdx == -1 {
		return 0, ErrInvalidRequestLine
	}

	uriBytes := line[:spaceIdx]
	if len(uriBytes) > MaxURILength {
		return 0, ErrURITooLong
	}

	queryIdx := bytes.IndexByte(uriBytes, '?')
	if queryIdx != -1 {
		req.pathBytes = uriBytes[:queryIdx]
		req.queryBytes = uriBytes[queryIdx+1:]
	} else {
		req.pathBytes = uriBytes
		req.queryBytes = nil
	}

	if len(req.pathBytes) == 0 {
		return 0, ErrInvalidPath
	}
	if req.pathBytes[0] != '/' && req.pathBytes[0] != '*' {
		return 0, ErrInvalidPath
	}

	line = line[spaceIdx+1:]
	req.protoBytes = line

	if !bytes.Equal(line, http11Bytes) {
		return 0, ErrInvalidProtocol
	}

	return lineEnd + 2, nil
}

// parseHeaders parses "Name: Value\r\n" lines up to the blank line,
// applying the RFC 7230 §3.3.3 request-smuggling guards along the way.
func (p *Parser) parseHeaders(req *Request, buf []byte) error {
	pos := 0

	var hasContentLength, hasTransferEncoding, hasHost bool
	var contentLengthValue int64 = -1

	for {
		if pos >= len(buf) {
			break
		}
		if pos+1 < len(buf) && buf[pos] == '\r' && buf[pos+1] == '\n' {
			break
		}

		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if lineEnd == -1 {
			return ErrInvalidHeader
		}
		lineEnd += pos

		line := buf[pos:lineEnd]

		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx == -1 {
			return ErrInvalidHeader
		}

		name := line[:colonIdx]
		value := line[colonIdx+1:]

		// RFC 7230 §3.2: no whitespace is allowed between the field name
		// and the colon; accepting it enables request smuggling.
		if colonIdx > 0 && (line[colonIdx-1] == ' ' || line[colonIdx-1] == '\t') {
			return ErrInvalidHeader
		}

		value = trimLeadingSpace(value)
		value = trimTrailingSpace(value)

		if bytes.IndexByte(name, ' ') != -1 || bytes.IndexByte(name, '\t') != -1 {
			return ErrInvalidHeader
		}

		if err := req.Header.Add(name, value); err != nil {
			return err
		}

		if err := p.processSpecialHeader(req, name, value, &hasContentLength, &hasTransferEncoding, &contentLengthValue, &hasHost); err != nil {
			return err
		}

		pos = lineEnd + 2
	}

	// RFC 7230 §3.3.3 CL.TE guard: a request must not declare both framings.
	if hasContentLength && hasTransferEncoding {
		return ErrContentLengthWithTransferEncoding
	}

	return nil
}

func (p *Parser) processSpecialHeader(req *Request, name, value []byte,
	hasContentLength, hasTransferEncoding *bool, contentLengthValue *int64, hasHost *bool) error {

	if bytesEqualCaseInsensitive(name, headerContentLength) {
		contentLength, err := parseContentLength(value)
		if err != nil {
			return ErrInvalidContentLength
		}

		if *hasContentLength {
			if *contentLengthValue != contentLength {
				return ErrDuplicateContentLength
			}
			return nil
		}

		*hasContentLength = true
		*contentLengthValue = contentLength
		req.ContentLength = contentLength
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerTransferEncoding) {
		*hasTransferEncoding = true
		if bytesEqualCaseInsensitive(value, headerChunked) {
			req.TransferEncoding = []string{"chunked"}
		}
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerConnection) {
		if bytesEqualCaseInsensitive(value, headerClose) {
			req.Close = true
		}
		return nil
	}

	// RFC 7230 §5.4: exactly one Host header is required on HTTP/1.1.
	if bytesEqualCaseInsensitive(name, headerHost) {
		if *hasHost {
			return ErrDuplicateHost
		}
		*hasHost = true
		return nil
	}

	return nil
}

func (p *Parser) setupBodyReader(req *Request, r io.Reader) error {
	if req.ContentLength == 0 && len(req.TransferEncoding) == 0 {
		req.Body = nil
		return nil
	}

	if req.ContentLength > 0 {
		req.Body = io.LimitReader(r, req.ContentLength)
		return nil
	}

	if req.IsChunked() {
		req.Body = NewChunkedReader(r)
		return nil
	}

	return nil
}

func parseContentLength(b []byte) (int64, error) {
	if len(b) == 0 {
		return -1, ErrInvalidContentLength
	}

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return -1, ErrInvalidContentLength
		}
	}
	return n, nil
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}

func trimTrailingSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
