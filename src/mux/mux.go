// Package mux inspects the leading bytes of a connection and commits it
// to one of two incompatible framings: newline-delimited JSON-RPC text or
// length-prefixed binary envelopes. Detection happens once per
// connection; a stream that matches neither framing is failed rather than
// guessed at.
package mux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnknownProtocol is returned when the leading bytes match no framing.
var ErrUnknownProtocol = errors.New("unknown protocol")

// Protocol identifies the framing a connection committed to.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolText
	ProtocolBinary
)

func (p Protocol) String() string {
	switch p {
	case ProtocolText:
		return "text"
	case ProtocolBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Handler processes a connection after its framing is decided.
type Handler interface {
	Handle(rw io.ReadWriter) error
}

// Sniffer peeks at a stream's leading bytes without consuming them.
type Sniffer struct {
	br *bufio.Reader
}

// NewSniffer wraps r for detection; reads against the Sniffer afterwards
// replay the peeked bytes.
func NewSniffer(r io.Reader) *Sniffer {
	return &Sniffer{br: bufio.NewReader(r)}
}

// maxSniffLen bounds how many leading bytes Detect will wait for before
// giving up on classification.
const maxSniffLen = 32

// Detect inspects the leading bytes and picks a framing. A binary frame's
// length prefix starts with a control byte (0x00 for anything under 16MB),
// while a JSON-RPC record starts with '{'; a Content-Length header also
// marks the text framing. Anything else is ErrUnknownProtocol.
//
// The peek grows one byte at a time and stops as soon as a decision is
// possible, so a short first frame is classified without waiting for
// bytes that may never come.
func (s *Sniffer) Detect() (Protocol, error) {
	for n := 1; n <= maxSniffLen; n++ {
		peek, err := s.br.Peek(n)
		atEOF := len(peek) < n
		if p, decided, derr := classify(peek, atEOF); decided {
			return p, derr
		}
		if atEOF {
			if len(peek) == 0 && err == io.EOF {
				return ProtocolUnknown, io.EOF
			}
			if err != nil && err != io.EOF {
				return ProtocolUnknown, err
			}
			return ProtocolUnknown, fmt.Errorf("%w: stream ended before framing was decidable", ErrUnknownProtocol)
		}
	}
	return ProtocolUnknown, fmt.Errorf("%w: no framing decidable in %d leading bytes", ErrUnknownProtocol, maxSniffLen)
}

// classify decides a protocol from a prefix of the stream, or reports that
// more bytes are needed.
func classify(data []byte, atEOF bool) (Protocol, bool, error) {
	i := 0
	for i < len(data) && isWhitespace(data[i]) {
		i++
	}
	if i == len(data) {
		if atEOF && len(data) > 0 {
			return ProtocolUnknown, true, fmt.Errorf("%w: only whitespace in leading bytes", ErrUnknownProtocol)
		}
		return ProtocolUnknown, false, nil
	}

	first := data[i]
	if first <= 0x1F {
		return ProtocolBinary, true, nil
	}
	if first == '{' {
		return ProtocolText, true, nil
	}

	const header = "content-length:"
	rest := strings.ToLower(string(data[i:]))
	if strings.HasPrefix(rest, header) {
		return ProtocolText, true, nil
	}
	if len(rest) < len(header) && strings.HasPrefix(header, rest) && !atEOF {
		return ProtocolUnknown, false, nil
	}
	return ProtocolUnknown, true, fmt.Errorf("%w: leading byte 0x%02x", ErrUnknownProtocol, first)
}

func (s *Sniffer) Read(p []byte) (int, error) {
	return s.br.Read(p)
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}

// Router detects a connection's framing and hands it to the matching
// handler for the rest of the connection's lifetime.
type Router struct {
	handlers map[Protocol]Handler
	logger   func(format string, args ...interface{})
}

// NewRouter creates a Router with an optional logger.
func NewRouter(logger func(format string, args ...interface{})) *Router {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	return &Router{
		handlers: make(map[Protocol]Handler),
		logger:   logger,
	}
}

// Register installs the handler for one framing.
func (r *Router) Register(p Protocol, h Handler) {
	r.handlers[p] = h
}

// Route sniffs rw and runs the matching handler until the connection ends.
// A stream that closes before delivering any bytes is a clean shutdown.
func (r *Router) Route(rw io.ReadWriter) error {
	sniffer := NewSniffer(rw)
	p, err := sniffer.Detect()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	r.logger("mux: detected %s framing", p)

	handler, ok := r.handlers[p]
	if !ok {
		return fmt.Errorf("%w: no handler registered for %s framing", ErrUnknownProtocol, p)
	}

	// Re-join the sniffer (holding the peeked bytes) with the original
	// writer so the handler sees the stream from its first byte.
	return handler.Handle(&combinedReadWriter{Reader: sniffer, Writer: rw})
}

type combinedReadWriter struct {
	io.Reader
	io.Writer
}
