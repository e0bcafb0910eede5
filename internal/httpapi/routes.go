package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/secret-word-backend/internal/hub"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"github.com/DoyleJ11/secret-word-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRoutes(h *hub.Hub, svc *lobby.Service, wsOpts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", CreateRoom(svc))
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", GetRoom(svc))
			r.Post("/players", JoinRoom(svc))
			r.Delete("/players/{playerID}", LeaveRoom(svc))
		})
	})
	r.Get("/ws", ws.Handler(h, svc, wsOpts))
	return r
}
