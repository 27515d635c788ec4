// Package api exposes the pipeline's read surface: health, metrics,
// sensor windows, oracle observations, and recent alert history, plus
// a single write route to force an oracle refresh.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sensorgrid/pipeline/pkg/history"
	httpx "github.com/sensorgrid/pipeline/pkg/http"
	"github.com/sensorgrid/pipeline/pkg/models"
	"github.com/sensorgrid/pipeline/pkg/oracle"
	"github.com/sensorgrid/pipeline/pkg/pipeline"
	"github.com/sensorgrid/pipeline/pkg/sensor"
)

// Server serves JSON over the orchestrator's aggregated state.
type Server struct {
	orch    *pipeline.Orchestrator
	gateway *sensor.Gateway
	oracles *oracle.Service
	history *history.Store // nil when history is disabled
	router  *mux.Router
}

func NewServer(orch *pipeline.Orchestrator, gateway *sensor.Gateway,
	oracles *oracle.Service, hist *history.Store) *Server {
	s := &Server{
		orch:    orch,
		gateway: gateway,
		oracles: oracles,
		history: hist,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(httpx.CommonMiddleware)

	s.router.HandleFunc("/api/health", s.getHealth).Methods("GET")
	s.router.HandleFunc("/api/metrics", s.getMetrics).Methods("GET")
	s.router.HandleFunc("/api/sensors/{id}/readings", s.getSensorReadings).Methods("GET")
	s.router.HandleFunc("/api/sensors/{id}/window", s.getSensorWindow).Methods("GET")
	s.router.HandleFunc("/api/oracles", s.getOracles).Methods("GET")
	s.router.HandleFunc("/api/oracles/{id}", s.getOracle).Methods("GET")
	s.router.HandleFunc("/api/oracles/{id}/refresh", s.refreshOracle).Methods("POST")
	s.router.HandleFunc("/api/alerts", s.getAlerts).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.orch.Registry(), promhttp.HandlerOpts{}))
}

// Router exposes the handler for the lifecycle HTTP server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.orch.GetHealth()

	status := http.StatusOK
	if health.Status == models.Unhealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

func (s *Server) getMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetMetrics())
}

func (s *Server) getSensorReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["id"]

	readings := s.gateway.Readings(sensorID)
	if readings == nil {
		http.Error(w, "Sensor not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) getSensorWindow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Window(mux.Vars(r)["id"]))
}

func (s *Server) getOracles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.oracles.LatestAll())
}

func (s *Server) getOracle(w http.ResponseWriter, r *http.Request) {
	data, ok := s.oracles.Latest(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Oracle not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// refreshOracle forces a poll outside the schedule. The id is tried
// against each oracle class in turn.
func (s *Server) refreshOracle(w http.ResponseWriter, r *http.Request) {
	oracleID := mux.Vars(r)["id"]
	ctx := r.Context()

	err := s.oracles.ForceUpdatePrice(ctx, oracleID)
	if errors.Is(err, oracle.ErrUnknownOracle) {
		err = s.oracles.ForceUpdateWeather(ctx, oracleID)
	}

	if errors.Is(err, oracle.ErrUnknownOracle) {
		err = s.oracles.ForceUpdateCustom(ctx, oracleID)
	}

	switch {
	case errors.Is(err, oracle.ErrUnknownOracle):
		http.Error(w, "Oracle not found", http.StatusNotFound)
	case err != nil:
		log.Printf("Oracle refresh %s failed: %v", oracleID, err)
		http.Error(w, "Refresh failed", http.StatusBadGateway)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed", "oracle": oracleID})
	}
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "History disabled", http.StatusNotFound)
		return
	}

	since := time.Now().Add(-24 * time.Hour)

	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}

		since = parsed
	}

	alerts, err := s.history.RecentAlerts(r.URL.Query().Get("source"), since)
	if err != nil {
		log.Printf("Alert query failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, alerts)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
