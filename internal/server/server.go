// Package server wraps http.Server with sensible timeouts and graceful
// shutdown.
package server

import (
	"context"
	"net/http"
	"time"
)

type Server struct {
	srv *http.Server
}

func New(handler http.Handler, port string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start begins serving in the background. Errors other than a clean
// shutdown are delivered on the returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	return errs
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
