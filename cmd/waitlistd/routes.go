package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eigerteam/waitlist_gate"
	"github.com/eigerteam/waitlist_gate/internal/config"
	"github.com/eigerteam/waitlist_gate/internal/throttle"
)

// newRouter wires the HTTP surface. throttler may be nil.
func newRouter(cfg config.ServerConfig, gate *waitlist_gate.Gate, throttler *throttle.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	allowedHeaders := []string{"Accept", "Content-Type"}
	if cfg.ClientKeyHeader != "" {
		allowedHeaders = append(allowedHeaders, cfg.ClientKeyHeader)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: allowedHeaders,
		MaxAge:         300,
	}))

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	var extractor waitlist_gate.Extractor = waitlist_gate.NewRemoteAddrExtractor()
	if cfg.ClientKeyHeader != "" {
		extractor = waitlist_gate.NewHttpHeaderExtractor(cfg.ClientKeyHeader)
	}
	submit := waitlist_gate.NewHTTPSubmitHandler(&waitlist_gate.SubmitHandlerConfig{
		Gate:      gate,
		Extractor: extractor,
	})

	r.Group(func(r chi.Router) {
		if throttler != nil {
			r.Use(throttle.Middleware(throttler))
		}
		r.Method(http.MethodPost, "/v1/waitlist", submit)
	})

	return r
}
