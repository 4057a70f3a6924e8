// Package server implements the peer-to-peer RPC listener: one accepted
// TCP connection carries exactly one framed request and one framed
// response, handled on its own goroutine.
package server

import (
	"context"
	"net"

	"chordring/internal/ctxutil"
	"chordring/internal/logger"
	"chordring/internal/node"
	"chordring/internal/wire"
)

// Server accepts peer connections and dispatches each request to a Node.
type Server struct {
	listener net.Listener
	node     *node.Node
	lgr      logger.Logger

	shutdown chan struct{}
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger injects a logger into the Server.
func WithLogger(lgr logger.Logger) Option {
	return func(s *Server) { s.lgr = lgr }
}

// New builds a Server that will dispatch accepted connections to n.
func New(lis net.Listener, n *node.Node, opts ...Option) *Server {
	s := &Server{
		listener: lis,
		node:     n,
		lgr:      &logger.NopLogger{},
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the accept loop, blocking until the listener is closed. Each
// accepted connection is handled on its own goroutine and closed once its
// single request/response has completed.
func (s *Server) Start() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener, unblocking Start.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.lgr.Error("server: panic handling connection, replying with error frame", logger.F("panic", r))
			_ = wire.WriteError(conn)
		}
	}()

	var req wire.Request
	if err := wire.ReadJSON(conn, &req); err != nil {
		s.lgr.Debug("server: failed to decode request", logger.F("err", err.Error()))
		_ = wire.WriteError(conn)
		return
	}

	ctx := ctxutil.EnsureTraceID(context.Background(), s.node.Self().ID)
	resp, depart := s.node.Dispatch(ctx, req)
	if err := wire.WriteJSON(conn, resp); err != nil {
		s.lgr.Debug("server: failed to write response", logger.F("err", err.Error()))
		return
	}

	if depart {
		s.lgr.Info("server: node departed, stopping listener")
		go s.Stop()
	}
}
