package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"votewatch/internal/config"
	"votewatch/internal/metrics"
	"votewatch/internal/poller"
	"votewatch/internal/store"
)

// Router exposes read-only /ops endpoints for the tracker. Standings are
// served from the SQLite history so the poll goroutine stays the only
// reader of live calibration state.
type Router struct {
	cfg     config.Config
	history *store.History
	metrics *metrics.Metrics
	poller  *poller.Poller
}

func NewRouter(cfg config.Config, history *store.History, m *metrics.Metrics, p *poller.Poller) *Router {
	return &Router{cfg: cfg, history: history, metrics: m, poller: p}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/standings", r.standings)
	mux.HandleFunc("/ops/cycles", r.cycles)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.history.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, map[string]any{
		"phase":    r.poller.Phase(),
		"interval": r.cfg.PollInterval.String(),
		"metrics":  r.metrics.Snapshot(),
		"log_path": r.cfg.LogPath,
	})
}

func (r *Router) standings(w http.ResponseWriter, req *http.Request) {
	results, err := r.history.LatestStandings(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		respondJSON(w, []any{})
		return
	}
	respondJSON(w, results)
}

func (r *Router) cycles(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	cycles, err := r.history.RecentCycles(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cycles == nil {
		respondJSON(w, []any{})
		return
	}
	respondJSON(w, cycles)
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
