// Package server binds the framed transports to the tool repository and
// the dynamic type registry. The registry and framing logic do not care
// whether a connection arrived over a stream socket, a process pipe, or a
// WebSocket upgrade; every byte stream goes through the same router.
package server

import (
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/mux"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/repository"
)

// Server accepts connections and routes each to the framing it speaks.
type Server struct {
	router *mux.Router
	logger func(format string, args ...interface{})
}

// New wires the binary and JSON handlers over the shared repository,
// resolver, and registry searcher.
func New(repo *repository.InMemoryToolRepository, resolver SchemaResolver, searcher RegistrySearcher, logger func(format string, args ...interface{})) *Server {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	router := mux.NewRouter(logger)
	router.Register(mux.ProtocolBinary, NewBinaryHandler(repo, logger))
	router.Register(mux.ProtocolText, NewJSONHandler(repo, resolver, searcher, logger))
	return &Server{router: router, logger: logger}
}

// ServeConn handles a single connection to completion.
func (s *Server) ServeConn(rw io.ReadWriter) error {
	return s.router.Route(rw)
}

// ServeStdio handles a process-pipe transport: one connection for the
// life of the process.
func (s *Server) ServeStdio(r io.Reader, w io.Writer) error {
	return s.router.Route(&struct {
		io.Reader
		io.Writer
	}{r, w})
}

// Serve accepts connections from ln, running each on its own goroutine so
// a blocked connection never stalls the others.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func(c net.Conn) {
			defer c.Close()
			if err := s.router.Route(c); err != nil {
				s.logger("server: connection from %s failed: %v", c.RemoteAddr(), err)
			}
		}(conn)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketHandler upgrades HTTP requests and feeds the resulting
// connection through the same router as raw sockets; each WebSocket
// binary message carries a slice of the byte stream.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger("server: websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		if err := s.router.Route(&wsStream{conn: conn}); err != nil {
			s.logger("server: websocket connection failed: %v", err)
		}
	})
}

// wsStream adapts a message-oriented WebSocket connection into the byte
// stream the router expects.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
