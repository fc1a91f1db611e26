// Package httpapi exposes the relay's control and observability endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jinzhu/copier"

	orchestration "github.com/koscakluka/ema-relay/core"
	"github.com/koscakluka/ema-relay/core/recognition"
	"github.com/koscakluka/ema-relay/core/session"
	"github.com/koscakluka/ema-relay/internal/journal"
)

const maxRecognitionBody = 64 << 10

// Controller is the part of the orchestrator the API drives.
type Controller interface {
	State() orchestration.TurnState
	Session() session.Context
	ResetSession() session.Context
	Pause()
	Unpause()
	IsPaused() bool
	HandleRecognition(result recognition.Result)
}

type Server struct {
	controller Controller
	journal    journal.Store
	metrics    http.Handler
	hub        *Hub
	upgrader   websocket.Upgrader
}

type Option func(*Server)

func WithJournal(store journal.Store) Option {
	return func(s *Server) { s.journal = store }
}

func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

func WithHub(hub *Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithAllowAnyOrigin lets browsers on other origins open the events socket.
func WithAllowAnyOrigin(allow bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			if allow {
				return true
			}
			return sameOrigin(r)
		}
	}
}

func New(controller Controller, opts ...Option) *Server {
	s := &Server{
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Get("/v1/state", s.handleState)
	r.Post("/v1/session/reset", s.handleResetSession)
	r.Post("/v1/pause", s.handlePause)
	r.Post("/v1/unpause", s.handleUnpause)
	r.Get("/v1/turns", s.handleListTurns)
	r.Post("/v1/recognition", s.handleRecognition)
	r.Get("/v1/events", s.handleEvents)

	return r
}

type sessionResponse struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
}

type stateResponse struct {
	State   string          `json:"state"`
	Paused  bool            `json:"paused"`
	Session sessionResponse `json:"session"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"journal":        s.journal != nil,
		"event_clients":  s.hub.ClientCount(),
		"metrics_served": s.metrics != nil,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotFound, "metrics_disabled", "metrics are not configured")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleResetSession(w http.ResponseWriter, _ *http.Request) {
	next := s.controller.ResetSession()
	var resp sessionResponse
	if err := copier.Copy(&resp, &next); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.controller.Pause()
	respondJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request) {
	s.controller.Unpause()
	respondJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn journal not configured")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	records, err := s.journal.Recent(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": records})
}

// handleRecognition feeds a Vosk-style result to the controller as if the
// local recognizer had produced it.
func (s *Server) handleRecognition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecognitionBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := recognition.ParseVoskResult(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_result", err.Error())
		return
	}

	s.controller.HandleRecognition(result)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"text":       result.Text(),
		"is_partial": result.IsPartial,
		"actionable": result.IsActionable(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var namespaces []string
	for _, value := range r.URL.Query()["namespace"] {
		for _, namespace := range strings.Split(value, ",") {
			if namespace = strings.TrimSpace(namespace); namespace != "" {
				namespaces = append(namespaces, namespace)
			}
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Serve(r.Context(), conn, namespaces...)
}

func (s *Server) state() stateResponse {
	current := s.controller.Session()
	resp := stateResponse{
		State:  s.controller.State().String(),
		Paused: s.controller.IsPaused(),
	}
	_ = copier.Copy(&resp.Session, &current)
	return resp
}

func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
