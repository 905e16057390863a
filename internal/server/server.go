// Package server assembles the HTTP surface of the process holding the
// server role: the health endpoint discovery probes, the read-only REST API,
// and the three websocket channels. The server never binds its own port —
// the launcher owns the bind, because the bind IS the server election.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/boardpin/boardpin/internal/api/ws"
	"github.com/boardpin/boardpin/internal/config"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

// Server wires the coordinator's routes and owns the broadcaster that turns
// store changes into socket traffic.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	store       *store.Store
	bus         *pubsub.PubSub
	hub         *ws.Hub
	queries     *ws.QueryRouter
	broadcaster *Broadcaster
	cfg         *config.Config
}

// New creates a Server with all routes wired.
func New(cfg *config.Config, st *store.Store, bus *pubsub.PubSub) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)

	queries := ws.NewQueryRouter(st, bus)
	hub := ws.NewHub(bus, st, queries)

	s := &Server{
		router:      router,
		store:       st,
		bus:         bus,
		hub:         hub,
		queries:     queries,
		broadcaster: NewBroadcaster(st, bus, cfg.Health),
		cfg:         cfg,
		httpServer: &http.Server{
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.routes()
	return s
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the server on a listener the launcher already bound. It blocks
// until Shutdown or a listener error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.broadcaster.Start(ctx)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and the broadcaster.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
