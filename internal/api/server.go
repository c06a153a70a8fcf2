package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"fleetsim/internal/fleet"
	"fleetsim/internal/logger"
	"fleetsim/internal/models"
	"fleetsim/internal/simulator"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const version = "1.0.0"

// Pinger reports backing-service health for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Archive is the durable record behind the history endpoints.
type Archive interface {
	History(ctx context.Context, nodeID string, since time.Time, limit int) ([]models.MetricsSnapshot, error)
	StressLogs(ctx context.Context, nodeID string, limit int) ([]models.StressTestLog, error)
	Alerts(ctx context.Context, limit int, unreadOnly bool) ([]models.Alert, error)
	Alert(ctx context.Context, id string) (models.Alert, bool, error)
	MarkAlertRead(ctx context.Context, id string) (bool, error)
	DeleteAlert(ctx context.Context, id string) (bool, error)
}

type Server struct {
	router  *mux.Router
	fleet   *fleet.Service
	ws      http.Handler
	redis   Pinger
	archive Archive
	apiKey  string
}

type Option func(*Server)

// WithWebSocket mounts h at /ws.
func WithWebSocket(h http.Handler) Option { return func(s *Server) { s.ws = h } }
func WithRedis(p Pinger) Option          { return func(s *Server) { s.redis = p } }
func WithAPIKey(key string) Option       { return func(s *Server) { s.apiKey = key } }
func WithArchive(a Archive) Option        { return func(s *Server) { s.archive = a } }

func NewServer(f *fleet.Service, opts ...Option) *Server {
	s := &Server{router: mux.NewRouter(), fleet: f}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(instrument)

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}

	s.router.HandleFunc("/nodes", s.listNodesHandler).Methods("GET")
	s.router.HandleFunc("/nodes/{id}", s.getNodeHandler).Methods("GET")
	s.router.HandleFunc("/nodes/{id}/history", s.historyHandler).Methods("GET")
	s.router.HandleFunc("/nodes/{id}/history/latest", s.latestHandler).Methods("GET")
	s.router.HandleFunc("/nodes/{id}/stress-tests", s.stressLogsHandler).Methods("GET")
	s.router.HandleFunc("/alerts", s.alertsHandler).Methods("GET")
	s.router.HandleFunc("/alerts/history", s.alertHistoryHandler).Methods("GET")
	s.router.HandleFunc("/alerts/stats", s.alertStatsHandler).Methods("GET")
	s.router.HandleFunc("/alerts/thresholds", s.getThresholdsHandler).Methods("GET")
	s.router.HandleFunc("/alerts/{id}", s.getAlertHandler).Methods("GET")

	control := s.router.NewRoute().Subrouter()
	control.Use(requireAPIKey(s.apiKey))
	control.HandleFunc("/nodes", s.registerHandler).Methods("POST")
	control.HandleFunc("/nodes/{id}/power", s.powerHandler).Methods("POST")
	control.HandleFunc("/nodes/{id}/baseline", s.baselineHandler).Methods("POST")
	control.HandleFunc("/nodes/{id}/stress-test", s.stressHandler).Methods("POST")
	control.HandleFunc("/nodes/{id}/stress-test", s.cancelStressHandler).Methods("DELETE")
	control.HandleFunc("/nodes/{id}/history", s.clearHistoryHandler).Methods("DELETE")
	control.HandleFunc("/alerts/thresholds", s.setThresholdsHandler).Methods("PUT")
	control.HandleFunc("/alerts/{id}/read", s.markAlertReadHandler).Methods("PATCH")
	control.HandleFunc("/alerts/{id}", s.deleteAlertHandler).Methods("DELETE")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps simulator sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simulator.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, "node not found")
	case errors.Is(err, simulator.ErrStressActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, simulator.ErrNodeOffline), errors.Is(err, simulator.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func actor(r *http.Request) string {
	return r.Header.Get("X-User-Email")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	health := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"version":   version,
		"nodes":     len(s.fleet.States()),
	}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			health["redis"] = err.Error()
		} else {
			health["redis"] = "ok"
		}
	}
	health["status"] = status
	writeJSON(w, code, health)
}

// NodeView is a node's state together with its latest reading.
type NodeView struct {
	State  models.NodeState        `json:"state"`
	Status models.Status           `json:"status"`
	Latest *models.MetricsSnapshot `json:"latest,omitempty"`
	Stress *models.StressEvent     `json:"stress,omitempty"`
}

func (s *Server) view(state models.NodeState) NodeView {
	v := NodeView{State: state, Status: state.Status()}
	if snap, ok := s.fleet.Latest(state.NodeID); ok {
		v.Latest = &snap
	}
	if ev, ok := s.fleet.PendingEvent(state.NodeID); ok {
		v.Stress = &ev
	}
	return v
}

func (s *Server) listNodesHandler(w http.ResponseWriter, r *http.Request) {
	states := s.fleet.States()
	views := make([]NodeView, 0, len(states))
	for _, st := range states {
		views = append(views, s.view(st))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].State.NodeID < views[j].State.NodeID })
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getNodeHandler(w http.ResponseWriter, r *http.Request) {
	state, ok := s.fleet.State(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, s.view(state))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.fleet.State(id); !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}

	limit, ok := parseLimit(w, r, 100)
	if !ok {
		return
	}

	var hist []models.MetricsSnapshot
	var err error
	if v := r.URL.Query().Get("since"); v != "" && s.archive != nil {
		since, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		hist, err = s.archive.History(r.Context(), id, since, limit)
	} else {
		hist, err = s.fleet.History(r.Context(), id, int64(limit))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hist == nil {
		hist = []models.MetricsSnapshot{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.fleet.State(id); !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	snap, ok := s.fleet.Latest(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no metrics history found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// clearHistoryHandler deletes a node's history, optionally only the part
// older than older_than_hours.
func (s *Server) clearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var before time.Time
	if v := r.URL.Query().Get("older_than_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 1 {
			writeError(w, http.StatusBadRequest, "older_than_hours must be a positive integer")
			return
		}
		before = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	deleted, err := s.fleet.ClearHistory(r.Context(), mux.Vars(r)["id"], before)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted_count": deleted})
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req fleet.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	state := s.fleet.Register(r.Context(), req)
	writeJSON(w, http.StatusCreated, s.view(state))
}

type powerRequest struct {
	Online bool `json:"online"`
}

func (s *Server) powerHandler(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.fleet.SetStatus(r.Context(), id, req.Online); err != nil {
		writeEngineError(w, err)
		return
	}
	state, _ := s.fleet.State(id)
	writeJSON(w, http.StatusOK, s.view(state))
}

type baselineRequest struct {
	CPUBaseline float64 `json:"cpu_baseline"`
	RAMBaseline float64 `json:"ram_baseline"`
}

func (s *Server) baselineHandler(w http.ResponseWriter, r *http.Request) {
	var req baselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.fleet.SetBaseline(r.Context(), mux.Vars(r)["id"], req.CPUBaseline, req.RAMBaseline, actor(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type stressRequest struct {
	DurationSeconds int     `json:"duration_seconds"`
	Intensity       float64 `json:"intensity"`
}

func (s *Server) stressHandler(w http.ResponseWriter, r *http.Request) {
	req := stressRequest{DurationSeconds: 60, Intensity: 1.0}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	duration := time.Duration(req.DurationSeconds) * time.Second
	ev, err := s.fleet.TriggerStress(r.Context(), mux.Vars(r)["id"], duration, req.Intensity, actor(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

func (s *Server) cancelStressHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.fleet.State(id); !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	if !s.fleet.CancelStress(r.Context(), id) {
		writeError(w, http.StatusNotFound, "no stress test running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// stressLogsHandler lists past stress tests from the archive, or only the
// running one when no archive is configured.
func (s *Server) stressLogsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.fleet.State(id); !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}

	if s.archive == nil {
		logs := []models.StressTestLog{}
		if l, ok := s.fleet.StressLog(id); ok {
			logs = append(logs, l)
		}
		writeJSON(w, http.StatusOK, logs)
		return
	}

	logs, err := s.archive.StressLogs(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 10)
	if !ok {
		return
	}
	if unreadOnly(r) {
		writeJSON(w, http.StatusOK, s.fleet.Analyzer().GetUnreadAlerts(limit))
		return
	}
	writeJSON(w, http.StatusOK, s.fleet.Analyzer().GetRecentAlerts(limit))
}

func unreadOnly(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("unread_only"))
	return v
}

// getAlertHandler looks in the recent ring first, then the archive.
func (s *Server) getAlertHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if alert, ok := s.fleet.Analyzer().GetAlert(id); ok {
		writeJSON(w, http.StatusOK, alert)
		return
	}
	if s.archive != nil {
		alert, ok, err := s.archive.Alert(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, alert)
			return
		}
	}
	writeError(w, http.StatusNotFound, "alert not found")
}

func (s *Server) markAlertReadHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	found := s.fleet.Analyzer().MarkRead(id)
	if s.archive != nil {
		ok, err := s.archive.MarkAlertRead(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		found = found || ok
	}
	if !found {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	s.getAlertHandler(w, r)
}

func (s *Server) deleteAlertHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	found := s.fleet.Analyzer().DeleteAlert(id)
	if s.archive != nil {
		ok, err := s.archive.DeleteAlert(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		found = found || ok
	}
	if !found {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	logger.Info("alert deleted", zap.String("alert_id", id), zap.String("by", actor(r)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) alertHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "alert history requires mysql")
		return
	}
	limit, ok := parseLimit(w, r, 100)
	if !ok {
		return
	}
	alerts, err := s.archive.Alerts(r.Context(), limit, unreadOnly(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) alertStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fleet.Analyzer().GetCurrentStats())
}

func (s *Server) getThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fleet.Analyzer().Thresholds())
}

func (s *Server) setThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	th := s.fleet.Analyzer().Thresholds()
	if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if th.CPUWarning > th.CPUCritical || th.RAMWarning > th.RAMCritical || th.TemperatureWarning > th.TemperatureCritical {
		writeError(w, http.StatusBadRequest, "warning threshold must not exceed critical threshold")
		return
	}
	s.fleet.Analyzer().SetThresholds(th)
	writeJSON(w, http.StatusOK, th)
}
