package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/velotrack/bike-telemetry-worker/internal/bridge"
)

// healthResponse is the liveness surface payload.
type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	Connections int    `json:"connections"`
}

// NewRouter builds the live-client HTTP surface: socket upgrade, event
// stream, liveness, and process metrics.
func NewRouter(b *bridge.Bridge) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", b.HandleWebSocket)
	r.Get("/events", b.HandleEventStream)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:      "ok",
			Timestamp:   time.Now().Unix(),
			Connections: b.Registry().Count(),
		})
	})

	return r
}
