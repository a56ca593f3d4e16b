package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame body at 32MB. The limit is enforced
// before the body is read, so a corrupted or hostile length prefix can
// never drive an allocation past it.
const MaxFrameSize = 32 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrIncompleteLengthPrefix is returned when the stream ends inside the
	// 4-byte length prefix.
	ErrIncompleteLengthPrefix = errors.New("incomplete frame length prefix")
	// ErrIncompleteBody is returned when the stream ends before delivering
	// the declared body length.
	ErrIncompleteBody = errors.New("incomplete frame body")
)

// Reader decodes length-prefixed frames from a byte stream.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for frame decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads one frame body. A stream that ends cleanly between
// frames yields io.EOF; a stream that ends mid-frame yields
// ErrIncompleteLengthPrefix or ErrIncompleteBody.
func (r *Reader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrIncompleteLengthPrefix
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrIncompleteBody
		}
		return nil, err
	}
	return body, nil
}

// Writer encodes length-prefixed frames onto a byte stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

type flusher interface {
	Flush() error
}

// WriteFrame writes the 4-byte big-endian length prefix and body as one
// unit, flushing buffered sinks so the frame is visible to the peer
// before the next one begins.
func (w *Writer) WriteFrame(body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(body), MaxFrameSize)
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	if f, ok := w.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
