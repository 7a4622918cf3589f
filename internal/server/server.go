// Package server hosts the HTTP surface: the REST routes and the
// WebSocket conversation endpoint share one listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/playcore-platform/message-delivery-service/config"
	"github.com/playcore-platform/message-delivery-service/internal/handler/rest"
	"github.com/playcore-platform/message-delivery-service/internal/handler/ws"
)

type Server struct {
	logger *slog.Logger
	http   *http.Server
}

func NewServer(cfg *config.Config, restHandler *rest.RESTHandler, wsHandler *ws.WSHandler, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/conversation", wsHandler)
	r.Mount("/", restHandler.Routes())

	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves in the background; listen failures end up in the log, not
// in the caller.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP_SERVER_STARTED", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "err", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
