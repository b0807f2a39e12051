package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/gpuslot/internal/logging"
)

// Server is the optional status HTTP server of a run
type Server struct {
	http     *http.Server
	listener net.Listener
	log      *logging.Logger
}

// NewRouter builds the status router with its middleware
func NewRouter(h *Handler, rm *RequestMetrics, log *logging.Logger) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	if rm != nil {
		r.Use(rm.Middleware)
	}
	if log != nil {
		r.Use(AccessLog(log))
	}
	return r
}

// Listen binds addr. The server starts accepting on Serve.
func Listen(addr string, handler http.Handler, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Discard()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		listener: ln,
		log:      log,
	}, nil
}

// Addr is the bound address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections in the background
func (s *Server) Serve() {
	s.log.Info("status server listening", logging.Fields{"addr": s.Addr()})
	go func() {
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server stopped", logging.Fields{"error": err.Error()})
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
