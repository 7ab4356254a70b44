// cmd/ingestkit/server.go
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/valpere/ingestkit/internal/monitoring"
	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/utils"
)

const maxDedupBody = 1 << 20

func newServer(addr string, svc *optimizer.Service, recorder *monitoring.PrometheusRecorder, metricsPath string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           setupRoutes(svc, recorder, metricsPath),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func setupRoutes(svc *optimizer.Service, recorder *monitoring.PrometheusRecorder, metricsPath string) http.Handler {
	health := monitoring.NewHealthManager(version)
	health.RegisterCheck(monitoring.MemoryHealthCheck(svc.Memory()))
	health.RegisterCheck(monitoring.RateLimitHealthCheck(svc.Limiter()))
	health.RegisterCheck(monitoring.GoroutineHealthCheck(10_000))

	r := mux.NewRouter()
	r.HandleFunc("/health", health.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/live", health.LivenessHandler()).Methods(http.MethodGet)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, recorder.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(50), 100)))
	api.HandleFunc("/stats", statsHandler(svc)).Methods(http.MethodGet)
	api.HandleFunc("/config", configHandler(svc)).Methods(http.MethodGet)
	api.HandleFunc("/dedup", dedupHandler(svc)).Methods(http.MethodPost)
	api.HandleFunc("/maintenance", maintenanceHandler(svc)).Methods(http.MethodPost)

	return r
}

func rateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.GetLogger("server").Warnf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statsHandler(svc *optimizer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Metrics())
	}
}

func configHandler(svc *optimizer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Config())
	}
}

func dedupHandler(svc *optimizer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var queries []map[string]any
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDedupBody)).Decode(&queries); err != nil {
			writeError(w, http.StatusBadRequest, "body must be a JSON array of objects")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"input":   len(queries),
			"queries": svc.DeduplicateQueries(queries),
		})
	}
}

func maintenanceHandler(svc *optimizer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("reset") == "throughput" {
			svc.ResetThroughput()
		}
		writeJSON(w, http.StatusOK, svc.Maintain())
	}
}
