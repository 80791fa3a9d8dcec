// Package api serves the local status surface: session listing, send,
// capture replay, and Prometheus metrics. It is unauthenticated and
// meant for localhost use.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/config"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/logger"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/session"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/telemetry"
)

// Server is the HTTP status server.
type Server struct {
	manager  *session.Manager
	captures *telemetry.CaptureStore
	log      *logger.Logger
	srv      *http.Server
	addr     string
}

// NewServer creates the status server. The capture store is optional.
func NewServer(addr string, manager *session.Manager, captures *telemetry.CaptureStore) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		manager:  manager,
		captures: captures,
		log:      logger.Global(),
		addr:     addr,
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	v1.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	v1.HandleFunc("/sessions/{id}/send", s.handleSend).Methods("POST")
	v1.HandleFunc("/sessions/{id}/captures", s.handleCaptures).Methods("GET")
	v1.HandleFunc("/presets", s.handlePresets).Methods("GET")
	return r
}

// Start runs the server in the background.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}
	s.log.Info("status server listening", "addr", s.addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server", "error", err.Error())
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// sendRequest carries the outgoing bytes as a hex string.
type sendRequest struct {
	Hex string `json:"hex"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := hex.DecodeString(req.Hex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	n, err := sess.Send(ctx, data)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": n})
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.captures == nil {
		writeJSON(w, http.StatusOK, []telemetry.Event{})
		return
	}
	events, err := s.captures.Recent(mux.Vars(r)["id"], 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []telemetry.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.PresetNames())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
