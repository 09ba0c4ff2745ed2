package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// healthPayload is the /v1/health response body.
type healthPayload struct {
	CandidatesStored int   `json:"candidates_stored"`
	Timestamp        int64 `json:"ts"`
}

// newHTTPServer serves prometheus metrics and the health endpoint.
func newHTTPServer(addr string, candidatesStored func() int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthPayload{
			CandidatesStored: candidatesStored(),
			Timestamp:        time.Now().Unix(),
		})
	})

	return &http.Server{
		Addr:              addr,
		Handler:           cors.Default().Handler(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
}
