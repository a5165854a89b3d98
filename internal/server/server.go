// Package server exposes a session over JSON HTTP and a websocket stream.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"biograph/internal/logging"
)

type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// New serves handler on addr, accepting HTTP/1.1 and cleartext HTTP/2.
func New(addr string, handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logging.OrNop(log).Named("server"),
	}
}

func (s *Server) Start() error {
	s.log.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("starting API server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
