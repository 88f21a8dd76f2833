package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/prompt"
	"github.com/edurag/edurag/retrieval"
)

// Asker is the routed query surface the server fronts.
type Asker interface {
	Ask(ctx context.Context, query string, history []prompt.Turn) (retrieval.Result, error)
}

// ScheduleStore resolves course schedules for the read endpoint.
type ScheduleStore interface {
	CourseSchedule(ctx context.Context, courseCode, title string) (string, database.DateRange, bool, error)
}

// Server exposes the HTTP API of the answering backend.
type Server struct {
	asker    Asker
	schedule ScheduleStore
	apiKey   string
	logger   *log.Logger
	handler  http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

type queryRequest struct {
	Query     string        `json:"query"`
	History   []prompt.Turn `json:"history"`
	SessionID string        `json:"session_id"`
}

type queryResponse struct {
	Answer         string                   `json:"answer"`
	Sources        []string                 `json:"sources"`
	Intent         string                   `json:"intent"`
	Confidence     string                   `json:"confidence"`
	SQL            *string                  `json:"sql"`
	RetrievalChain []retrieval.ChainEntry   `json:"retrieval_chain,omitempty"`
}

type scheduleRange struct {
	Earliest string `json:"earliest,omitempty"`
	Latest   string `json:"latest,omitempty"`
}

type scheduleResponse struct {
	Found      bool           `json:"found"`
	CourseCode string         `json:"course_code,omitempty"`
	Range      *scheduleRange `json:"range,omitempty"`
}

// New constructs a Server. apiKey may be empty to disable auth.
func New(asker Asker, schedule ScheduleStore, apiKey string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{asker: asker, schedule: schedule, apiKey: apiKey, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/query", s.withAuth(s.handleQuery))
	mux.HandleFunc("/api/v1/course-schedule", s.withAuth(s.handleCourseSchedule))
	return mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid api key"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	result, err := s.asker.Ask(r.Context(), req.Query, req.History)
	if err != nil {
		s.logger.Printf("query failed: %v", err)
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("answer query: %w", err))
		return
	}

	resp := queryResponse{
		Answer:         result.Answer,
		Sources:        result.Sources,
		Intent:         string(result.Intent),
		Confidence:     result.Confidence,
		RetrievalChain: result.Chain,
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	if result.SQL != "" {
		resp.SQL = &result.SQL
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCourseSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	courseCode := r.URL.Query().Get("course_code")
	title := r.URL.Query().Get("title")
	if courseCode == "" && title == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("course_code or title is required"))
		return
	}

	code, dateRange, found, err := s.schedule.CourseSchedule(r.Context(), courseCode, title)
	if err != nil {
		s.logger.Printf("course schedule lookup failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("course schedule: %w", err))
		return
	}

	resp := scheduleResponse{Found: found}
	if found {
		resp.CourseCode = code
		resp.Range = &scheduleRange{Earliest: dateRange.Earliest, Latest: dateRange.Latest}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
