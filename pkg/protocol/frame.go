package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

const (
	// DefaultFrameSize is the fixed size of every frame on the wire
	DefaultFrameSize = 1024

	// MinFrameSize is the smallest frame that still fits the longest response tag
	MinFrameSize = 64
)

var (
	ErrPayloadTooLarge  = errors.New("payload exceeds frame size")
	ErrInvalidFrameSize = errors.New("invalid frame size")
	ErrInvalidPayload   = errors.New("payload contains NUL byte")
)

// Frame layout: [payload (N bytes)][NUL padding (size-N bytes)]
// The payload is ASCII text; the first NUL byte terminates it.

// EncodeFrame writes one null-padded frame of exactly size bytes
func EncodeFrame(w io.Writer, size int, payload string) error {
	if size < MinFrameSize {
		return ErrInvalidFrameSize
	}
	if len(payload) > size {
		return ErrPayloadTooLarge
	}
	if strings.IndexByte(payload, 0) >= 0 {
		return ErrInvalidPayload
	}

	buf := make([]byte, size)
	copy(buf, payload)
	_, err := w.Write(buf)
	return err
}

// DecodeFrame reads exactly one frame of size bytes and returns its payload.
// A connection closed before any byte arrives yields io.EOF, a connection
// closed mid-frame yields io.ErrUnexpectedEOF.
func DecodeFrame(r io.Reader, size int) (string, error) {
	if size < MinFrameSize {
		return "", ErrInvalidFrameSize
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return trimPadding(buf), nil
}

// trimPadding cuts the payload at the first NUL byte
func trimPadding(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// FrameReader is the receive-only half of a connection.
//
// Reads are resumable: when the underlying reader fails mid-frame with a
// timeout, the bytes received so far are kept and the next ReadFrame call
// completes the same frame. This lets callers poll with read deadlines
// without losing frame alignment.
type FrameReader struct {
	r    io.Reader
	size int
	buf  []byte
	n    int
}

// NewFrameReader wraps r as a receive-only frame source
func NewFrameReader(r io.Reader, size int) *FrameReader {
	if size < MinFrameSize {
		size = DefaultFrameSize
	}
	return &FrameReader{
		r:    r,
		size: size,
		buf:  make([]byte, size),
	}
}

// ReadFrame returns the payload of the next complete frame
func (fr *FrameReader) ReadFrame() (string, error) {
	for fr.n < fr.size {
		m, err := fr.r.Read(fr.buf[fr.n:])
		fr.n += m
		if fr.n == fr.size {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				partial := fr.n > 0
				fr.n = 0
				if partial {
					return "", io.ErrUnexpectedEOF
				}
				return "", io.EOF
			}
			// Keep partial bytes; the caller may retry after a timeout
			return "", err
		}
	}

	payload := trimPadding(fr.buf)
	fr.n = 0
	clear(fr.buf)
	return payload, nil
}

// Pending reports whether a partially received frame is buffered
func (fr *FrameReader) Pending() bool {
	return fr.n > 0
}

// FrameSize returns the fixed frame size of this reader
func (fr *FrameReader) FrameSize() int {
	return fr.size
}

// FrameWriter is the send-only half of a connection. Writes are serialized
// so concurrent senders never interleave partial frames.
type FrameWriter struct {
	mu   sync.Mutex
	w    io.Writer
	size int
}

// NewFrameWriter wraps w as a send-only frame sink
func NewFrameWriter(w io.Writer, size int) *FrameWriter {
	if size < MinFrameSize {
		size = DefaultFrameSize
	}
	return &FrameWriter{w: w, size: size}
}

// WriteFrame writes payload as one padded frame
func (fw *FrameWriter) WriteFrame(payload string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return EncodeFrame(fw.w, fw.size, payload)
}

// WriteRequest encodes and writes a client request
func (fw *FrameWriter) WriteRequest(req Request) error {
	return fw.WriteFrame(req.Encode())
}

// WriteResponse encodes and writes a server response
func (fw *FrameWriter) WriteResponse(resp Response) error {
	return fw.WriteFrame(resp.Encode())
}

// WritePush encodes and writes a server push
func (fw *FrameWriter) WritePush(p Push) error {
	return fw.WriteFrame(p.Encode())
}

// FrameSize returns the fixed frame size of this writer
func (fw *FrameWriter) FrameSize() int {
	return fw.size
}

// Split derives the two directional capabilities of one transport
func Split(rw io.ReadWriter, size int) (*FrameWriter, *FrameReader) {
	return NewFrameWriter(rw, size), NewFrameReader(rw, size)
}
