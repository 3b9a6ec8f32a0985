// Package httpapi is the HTTP endpoint layer: an OpenAI-compatible
// surface plus an operator surface (§12), all delegating model
// resolution and proxying to internal/dispatcher. Grounded on the
// teacher's httpapi/server.go router assembly (chi + middleware chain +
// zerolog + prometheus), generalized from one /infer endpoint to the
// full OpenAI-style + admin surface this specification names.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpubuilders/model-swapping-service/internal/config"
	"github.com/gpubuilders/model-swapping-service/internal/dispatcher"
	"github.com/gpubuilders/model-swapping-service/internal/events"
	"github.com/gpubuilders/model-swapping-service/internal/manager"
)

// API is the shared state every handler closes over.
type API struct {
	Manager    *manager.Manager
	Dispatcher *dispatcher.Dispatcher
	Bus        *events.Bus
	Config     config.Config
}

// NewMux builds the full router: OpenAI-compatible endpoints, the
// operator/admin surface, the upstream passthrough, and ops endpoints
// (healthz/readyz/metrics), wrapped in the teacher's middleware chain
// plus a genuinely-wired CORS layer.
func NewMux(api *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)

	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Post("/v1/chat/completions", api.handleOpenAIProxy)
	r.Post("/v1/completions", api.handleOpenAIProxy)
	r.Post("/v1/embeddings", api.handleOpenAIProxy)
	r.Get("/v1/models", api.handleListModels)

	r.Get("/running", api.handleRunning)
	r.Post("/unload/{model}", api.handleUnload)
	r.Get("/logs/stream", api.handleLogsStream)

	r.Handle("/upstream/{model}/*", http.HandlerFunc(api.handleUpstream))

	// Aggregate, non-model-scoped backend-native views (llama.cpp's
	// /slots, /props) that name no model in the path: §4.4's fallback
	// rule dispatches these to the most recently started READY process.
	r.Get("/slots", api.Dispatcher.ServeAggregateRequest)
	r.Get("/props", api.Dispatcher.ServeAggregateRequest)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if api.Manager.ShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shutting down"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}
