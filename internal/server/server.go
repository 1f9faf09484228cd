// Package server runs the coordinator's TCP accept loop: one
// short-lived connection per request, each routed through the wire
// codec to the dispatcher. It also owns the shutdown sequence: Quiesce
// closes the listener so no new connection is accepted, and Serve
// returns only after every handler already accepted has written its
// response. Handlers are not waited for before the listener closes;
// closing the listener leaves accepted connections open, so those
// handlers still write to open sockets.
package server

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cpape/butler/internal/dispatcher"
	"github.com/cpape/butler/internal/wire"
)

// Server accepts connections and routes each request to a Dispatcher.
type Server struct {
	listener net.Listener
	disp     *dispatcher.Dispatcher
	arity    int
	logger   zerolog.Logger

	handlers sync.WaitGroup

	quiesceOnce sync.Once
	closed      chan struct{}
}

// New binds a listener at addr and returns a Server ready to Serve.
func New(addr string, disp *dispatcher.Dispatcher, arity int, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: ln,
		disp:     disp,
		arity:    arity,
		logger:   logger.With().Str("component", "server").Logger(),
		closed:   make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address (useful when addr was
// ":0" for tests).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs the accept loop until Quiesce is called or the listener
// is closed. Returns nil on an orderly shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				s.handlers.Wait()
				return nil
			default:
				return err
			}
		}

		s.handlers.Add(1)
		go s.handleConn(conn)
	}
}

// Quiesce stops accepting new connections by closing the listener at
// once. It does not wait for handlers in flight; Serve waits for them
// before it returns. Safe to call more than once or concurrently; only
// the first call acts.
//
// The handler that discovers the queue is exhausted still writes its
// own "stop" line whether or not Quiesce has already run, because
// closing the listener does not close connections already accepted.
func (s *Server) Quiesce() {
	s.quiesceOnce.Do(func() {
		close(s.closed)
		s.listener.Close()
	})
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.handlers.Done()
	defer conn.Close()

	if err := handleOneRequest(conn, s.disp, s.arity, s.logger); err != nil {
		var perr *wire.ProtocolError
		if errors.As(err, &perr) {
			s.disp.Metrics().ProtocolErrors.Inc()
			s.logger.Debug().Err(err).Msg("rejecting malformed request")
			return
		}
		s.logger.Debug().Err(err).Msg("connection handling error")
	}
}
