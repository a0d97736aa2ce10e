package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/utimer/internal/models"
	"github.com/sirupsen/logrus"
)

// Version is reported by /health. Overridden at build time.
var Version = "dev"

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP API for utimer.
type Server struct {
	service *Service
	db      Pinger
	events  http.Handler
	addr    string
	log     logrus.FieldLogger
	server  *http.Server
}

// NewServer creates a new HTTP server. db and events may be nil.
func NewServer(service *Service, db Pinger, events http.Handler, addr string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		service: service,
		db:      db,
		events:  events,
		addr:    addr,
		log:     logger.WithField("component", "api"),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Timer endpoints
	mux.HandleFunc("/timers", s.handleTimers)
	mux.HandleFunc("/timers/", s.handleTimerByID)

	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/maintenance/cleanup", s.handleCleanup)
	mux.HandleFunc("/parse", s.handleParse)
	mux.HandleFunc("/health", s.handleHealth)

	if s.events != nil {
		mux.Handle("/events", s.events)
	}
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events connections are long lived.
	}

	s.log.WithField("addr", s.addr).Info("Starting utimer daemon")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleTimers handles POST /timers and GET /timers
func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTimer(w, r)
	case http.MethodGet:
		s.listTimers(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTimerByID handles /timers/{id}/*
func (s *Server) handleTimerByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/timers/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "timer id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTimer(w, r, taskID)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelTimer(w, r, taskID)
	case action == "modify" && r.Method == http.MethodPost:
		s.modifyTimer(w, r, taskID)
	case action == "start" && r.Method == http.MethodPost:
		s.startTimer(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Timer Handlers ---

func (s *Server) createTimer(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.CreateRequest(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTimers(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []models.TimerTask
		err   error
	)
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		tasks, err = s.service.ListActive(r.Context())
	} else {
		tasks, err = s.service.List(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	if tasks == nil {
		tasks = []models.TimerTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTimer(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.service.Get(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTimer(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.service.CancelRequest(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) modifyTimer(w http.ResponseWriter, r *http.Request, taskID string) {
	var req ModifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.ModifyRequest(r.Context(), taskID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) startTimer(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.service.StartRequest(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Other Handlers ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type cleanupRequest struct {
	Days int `json:"days"`
}

// CleanupResponse reports a manual cleanup.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	removed, err := s.service.Cleanup(r.Context(), req.Days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Removed: removed})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, ok := s.service.Parse(r.URL.Query().Get("text"))
	if !ok {
		http.Error(w, ErrInvalidDuration.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			health.OK = false
			health.DB = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, health)
}

// statusFor maps service errors onto HTTP status codes. Store failures
// and anything unexpected are 500s.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
