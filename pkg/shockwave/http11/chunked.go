package http11

import (
	"bufio"
	"bytes"
	"io"
)

// ChunkedReader reads an HTTP/1.1 chunked transfer-coded body (RFC 7230
// §4.1), presenting it to the caller as a continuous byte stream with the
// chunk framing stripped.
//
// Chunk extensions are parsed but discarded: RFC 7230 §4.1.1 makes them
// optional, and honoring them has no benefit here while ignoring them
// closes off an extension-based smuggling vector.
type ChunkedReader struct {
	r              *bufio.Reader
	bytesRemaining uint64
	err            error
	eof            bool
	checkTrailers  bool
	maxChunkSize   uint64
	totalRead      uint64
	maxBodySize    uint64
}

// NewChunkedReader wraps r as a chunked-encoding reader with a 16MB
// per-chunk cap and no total body cap.
func NewChunkedReader(r io.Reader) *ChunkedReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	return &ChunkedReader{
		r:            br,
		maxChunkSize: 16 * 1024 * 1024,
	}
}

// NewChunkedReaderWithLimits is like NewChunkedReader but lets the caller
// bound both individual chunk size and total body size (0 means use the
// default / unlimited respectively).
func NewChunkedReaderWithLimits(r io.Reader, maxChunkSize, maxBodySize uint64) *ChunkedReader {
	cr := NewChunkedReader(r)
	if maxChunkSize > 0 {
		cr.maxChunkSize = maxChunkSize
	}
	cr.maxBodySize = maxBodySize
	return cr
}

// Read implements io.Reader, returning io.EOF once the terminating
// zero-length chunk has been consumed.
func (cr *ChunkedReader) Read(p []byte) (n int, err error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if cr.eof {
		return 0, io.EOF
	}

	if cr.bytesRemaining == 0 {
		if err := cr.readChunkHeader(); err != nil {
			cr.err = err
			return 0, err
		}

		if cr.bytesRemaining == 0 {
			if err := cr.readTrailers(); err != nil {
				cr.err = err
				return 0, err
			}
			if err := cr.readCRLF(); err != nil {
				cr.err = err
				return 0, err
			}
			cr.eof = true
			return 0, io.EOF
		}
	}

	toRead := uint64(len(p))
	if toRead > cr.bytesRemaining {
		toRead = cr.bytesRemaining
	}

	n, err = cr.r.Read(p[:toRead])
	cr.bytesRemaining -= uint64(n)
	cr.totalRead += uint64(n)

	if cr.maxBodySize > 0 && cr.totalRead > cr.maxBodySize {
		cr.err = ErrChunkedEncoding
		return n, ErrChunkedEncoding
	}

	if err != nil {
		if err == io.EOF {
			err = ErrChunkedEncoding
		}
		cr.err = err
		return n, err
	}

	if cr.bytesRemaining == 0 {
		if err := cr.readCRLF(); err != nil {
			cr.err = err
			return n, err
		}
	}

	return n, nil
}

// readChunkHeader reads "hex-size [; extensions] CRLF".
func (cr *ChunkedReader) readChunkHeader() error {
	line, err := cr.r.ReadSlice('\n')
	if err != nil {
		if err == io.EOF {
			return ErrChunkedEncoding
		}
		return err
	}

	if len(line) < 1 || line[len(line)-1] != '\n' {
		return ErrChunkedEncoding
	}
	line = line[:len(line)-1]
	if len(line) < 1 || line[len(line)-1] != '\r' {
		return ErrChunkedEncoding
	}
	line = line[:len(line)-1]

	if idx := bytes.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ErrChunkedEncoding
	}

	var chunkSize uint64
	for _, b := range line {
		chunkSize <<= 4
		switch {
		case b >= '0' && b <= '9':
			chunkSize |= uint64(b - '0')
		case b >= 'a' && b <= 'f':
			chunkSize |= uint64(b - 'a' + 10)
		case b >= 'A' && b <= 'F':
			chunkSize |= uint64(b - 'A' + 10)
		default:
			return ErrChunkedEncoding
		}
		if chunkSize > cr.maxChunkSize {
			return ErrChunkedEncoding
		}
	}

	cr.bytesRemaining = chunkSize
	return nil
}

func (cr *ChunkedReader) readCRLF() error {
	b := make([]byte, 2)
	n, err := io.ReadFull(cr.r, b)
	if err != nil {
		if err == io.EOF {
			return ErrChunkedEncoding
		}
		return err
	}
	if n != 2 || b[0] != '\r' || b[1] != '\n' {
		return ErrChunkedEncoding
	}
	return nil
}

// readTrailers skips trailer field-lines after the terminating chunk.
// They are discarded rather than exposed: nothing in this pipeline reads
// request trailers. Trailer parsing is off by default; the terminating
// CRLF after the zero-length chunk is left for readCRLF to consume.
func (cr *ChunkedReader) readTrailers() error {
	if !cr.checkTrailers {
		return nil
	}

	for {
		line, err := cr.r.ReadSlice('\n')
		if err != nil {
			if err == io.EOF {
				return ErrChunkedEncoding
			}
			return err
		}
		if len(line) == 2 && line[0] == '\r' && line[1] == '\n' {
			return nil
		}
	}
}

// Close is a no-op; the underlying reader is owned by the caller.
func (cr *ChunkedReader) Close() error {
	return nil
}

// TotalRead returns the number of body bytes read, excluding framing.
func (cr *ChunkedReader) TotalRead() uint64 {
	return cr.totalRead
}
