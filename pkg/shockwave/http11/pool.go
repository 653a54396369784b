package http11

import (
	"sync"
	"time"
)

// DefaultBufferSize is the default size for read/write buffers.
const DefaultBufferSize = 4096

// ParserBufferSize is the capacity reserved for a parser's internal buffer.
const ParserBufferSize = MaxRequestLineSize + MaxHeadersSize

// bytePool is a sync.Pool specialized for *[]byte of a fixed size,
// avoiding the repeated type assertion at every call site.
type bytePool struct {
	size int
	pool sync.Pool
}

func newBytePool(size int) *bytePool {
	return &bytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

func (bp *bytePool) get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

func (bp *bytePool) put(buf *[]byte) {
	if buf == nil || cap(*buf) < bp.size {
		return
	}
	*buf = (*buf)[:bp.size]
	bp.pool.Put(buf)
}

var (
	requestPool = sync.Pool{
		New: func() interface{} {
			return &Request{}
		},
	}

	parserPool = sync.Pool{
		New: func() interface{} {
			return NewParser()
		},
	}

	responseWriterPool = sync.Pool{
		New: func() interface{} {
			return &ResponseWriter{}
		},
	}
)

// GetRequest retrieves a reset Request from the pool. Callers must return
// it via PutRequest once it will never be read again.
func GetRequest() *Request {
	req := requestPool.Get().(*Request)
	req.Reset()
	return req
}

// PutRequest returns a Request to the pool. It is a no-op on nil.
// Call this only after the request's response has been sent or marked
// failed - earlier, and a concurrent handler could still be reading a
// Request that the pool has already reset and handed out again.
func PutRequest(req *Request) {
	if req == nil {
		return
	}
	req.Reset()
	requestPool.Put(req)
}

// GetParser retrieves a Parser from the pool, ready for use.
func GetParser() *Parser {
	return parserPool.Get().(*Parser)
}

// PutParser returns a Parser to the pool. It is a no-op on nil.
func PutParser(p *Parser) {
	if p == nil {
		return
	}
	if p.buf != nil {
		p.buf = p.buf[:0]
	}
	p.unreadBuf = nil
	parserPool.Put(p)
}

// GetResponseWriter retrieves a reset ResponseWriter from the pool.
func GetResponseWriter() *ResponseWriter {
	rw := responseWriterPool.Get().(*ResponseWriter)
	rw.buf.Reset()
	rw.status = 200
	rw.header.Reset()
	rw.statusWritten = false
	rw.headerWritten = false
	rw.bytesWritten = 0
	rw.startedAt = clockNow()
	rw.sent = false
	rw.sentAt = time.Time{}
	rw.sendFailed = false
	rw.sendErr = nil
	rw.sendFailedAt = time.Time{}
	return rw
}

// PutResponseWriter returns a ResponseWriter to the pool. It is a no-op
// on nil. Call only after Send/MarkSendFailed has resolved the response.
func PutResponseWriter(rw *ResponseWriter) {
	if rw == nil {
		return
	}
	responseWriterPool.Put(rw)
}

// WarmupPools pre-allocates count objects in each pool, avoiding
// allocation spikes on a server's first requests.
func WarmupPools(count int) {
	for i := 0; i < count; i++ {
		req := GetRequest()
		PutRequest(req)

		p := GetParser()
		PutParser(p)

		rw := GetResponseWriter()
		PutResponseWriter(rw)
	}
}
