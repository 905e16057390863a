package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	v1 "github.com/boardpin/boardpin/internal/api/v1"
	"github.com/boardpin/boardpin/internal/server/middleware"
)

func (s *Server) routes() {
	// Health check: this is the liveness signal the whole election protocol
	// probes, so it stays dependency-free and unauthenticated.
	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(s.cfg.Server.RequestsPerSecond, s.cfg.Server.Burst))

		apiConfig := huma.DefaultConfig("BoardPin API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterBoardRoutes(api, s.store)
		v1.RegisterStatusRoutes(api, s.store)
	})

	s.router.Route("/ws", func(r chi.Router) {
		r.Get("/board/{boardID}", s.hub.ServeBoard)
		r.Get("/workspace", s.hub.ServeWorkspace)
		r.Get("/panel", s.hub.ServePanel)
	})
}
