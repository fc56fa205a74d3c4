// Package router assembles the HTTP API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/tunr/backend/internal/config"
	"github.com/tunr/backend/internal/handlers"
	"github.com/tunr/backend/internal/metrics"
	"github.com/tunr/backend/internal/middleware"
	"github.com/tunr/backend/internal/services"
	"github.com/tunr/backend/internal/store"
)

// New builds the router. m may be nil, in which case /metrics is not served.
func New(cfg *config.Config, st *store.Store, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	origins := middleware.NewOrigins(cfg.CORSAllowedOrigins)
	r.Use(origins.CORS)

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.IdentityTokenDuration)
	identityService := services.NewIdentityService(st)
	catalogService := services.NewCatalogService(cfg.CatalogURL, cfg.YouTubeAPIKey)

	// Handlers
	configHandler := handlers.NewConfigHandler(cfg)
	identityHandler := handlers.NewIdentityHandler(identityService, authService)
	roomHandler := handlers.NewRoomHandler(st)
	songHandler := handlers.NewSongHandler(st, catalogService)
	queueHandler := handlers.NewQueueHandler(st)
	realtimeHandler := handlers.NewRealtimeHandler(st, cfg.PulseRatePerSecond, origins)
	sseHandler := handlers.NewSSEHandler(st)

	// Identity creation and external catalog calls are rate limited
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public playback cadences
		r.Get("/config", configHandler.PublicConfig)

		// Anonymous identities (no auth)
		r.With(rateLimiter.Middleware).Post("/identities", identityHandler.Create)
		r.With(rateLimiter.Middleware).Post("/identities/refresh", identityHandler.Refresh)

		// Everything else needs an identity token
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))

			r.Get("/identities/me", identityHandler.Me)

			r.Post("/rooms", roomHandler.Create)
			r.Route("/rooms/{code}", func(r chi.Router) {
				r.Get("/", roomHandler.Get)

				r.Get("/queue", queueHandler.List)
				r.Post("/queue", queueHandler.Insert)
				r.Patch("/queue", queueHandler.UpdateRoom)
				r.Delete("/queue", queueHandler.DeleteRoom)
				r.Get("/queue/latest", queueHandler.Latest)

				r.Get("/ws", realtimeHandler.Serve)
				r.Get("/events", sseHandler.Stream)
			})

			r.Get("/queue", queueHandler.ByIDs)
			r.Patch("/queue/{id}", queueHandler.Update)
			r.Delete("/queue/{id}", queueHandler.Delete)

			r.Get("/songs/{number}", songHandler.Get)
			r.Post("/songs", songHandler.Register)

			r.With(rateLimiter.Middleware).Get("/catalog/search", songHandler.Search)
			r.With(rateLimiter.Middleware).Get("/catalog/{number}", songHandler.Lookup)
		})
	})

	return r
}
