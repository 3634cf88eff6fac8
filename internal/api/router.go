// Package api exposes the prediction loop and manual prediction over HTTP.
package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the HTTP routes. gatherer may be nil, in which case
// /metrics is not served.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods("GET")

	r.HandleFunc("/api/v1/auto/status", h.autoStatus).Methods("GET")
	r.HandleFunc("/api/v1/auto/start", h.autoStart).Methods("POST")
	r.HandleFunc("/api/v1/auto/stop", h.autoStop).Methods("POST")
	r.HandleFunc("/api/v1/auto/history", h.autoHistory).Methods("GET")
	r.HandleFunc("/api/v1/predict", h.predict).Methods("POST")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}
