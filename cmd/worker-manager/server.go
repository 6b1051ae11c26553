package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatintel-workers/internal/common/camunda"
	"threatintel-workers/internal/common/database"
	"threatintel-workers/internal/common/logger"
	"threatintel-workers/internal/workers/threat-intel/fetch-threat-intel-ips/queries"
)

const defaultRunsLimit = 20

func newRouter(zeebe *camunda.Client, pg *database.PostgresClient, redis *database.RedisClient, log logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		check := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				ready = false
				return
			}
			checks[name] = "ok"
		}
		check("zeebe", zeebe.HealthCheck(ctx))
		check("postgres", pg.Ping(ctx))
		check("redis", redis.Ping(ctx))

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not ready"
		}
		writeJSON(w, status, map[string]interface{}{
			"status": state,
			"checks": checks,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
				return
			}
			limit = n
		}

		runs, err := queries.LatestRuns(r.Context(), pg.DB, limit)
		if errors.Is(err, queries.ErrInvalidLimit) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			log.Error("failed to list runs", map[string]interface{}{"error": err})
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := redis.LatestSnapshot(r.Context())
		if errors.Is(err, database.ErrNoSnapshot) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			log.Error("failed to read snapshot", map[string]interface{}{"error": err})
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read snapshot"})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
