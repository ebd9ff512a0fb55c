package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-orchestrator/internal/pkg/httputil"
)

// Routes builds the router with all API endpoints. An empty allowedOrigins
// leaves CORS wide open.
func Routes(h *Handlers, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.createCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCampaign)
				r.Get("/progress", h.campaignProgress)
				r.Post("/send", h.sendCampaign)
				r.Post("/pause", h.pauseCampaign)
				r.Post("/resume", h.resumeCampaign)
				r.Post("/cancel", h.cancelCampaign)
			})
		})
	})

	return r
}
