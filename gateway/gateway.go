package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edurag/edurag/vectorstore"
)

const (
	sessionHeader = "X-Session-Id"
	sessionCookie = "edurag_session"
	apiKeyHeader  = "x-api-key"

	maxTrackedSources = 5
)

// PointResolver resolves vector-store payloads for session tracking.
type PointResolver interface {
	GetPoints(ctx context.Context, ids []string) (map[string]vectorstore.Candidate, error)
	GetPointsByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]vectorstore.Candidate, error)
	Ping(ctx context.Context) error
}

// Options configures the gateway front door.
type Options struct {
	BackendURL      string
	BackendTimeout  time.Duration
	SessionTTL      time.Duration
	PayloadCacheMax int
	PayloadCacheTTL time.Duration
}

// Gateway is the session-aware front door: it rewrites context-dependent
// follow-ups against prior turn state, forwards to the answering backend,
// and refreshes session state from the returned source ids.
type Gateway struct {
	backendURL string
	sessions   SessionStore
	points     PointResolver
	sessionTTL time.Duration

	payloadCache *expirable.LRU[string, map[string]any]
	client       *http.Client
	metrics      *metrics
	registry     *prometheus.Registry
	logger       *log.Logger
	handler      http.Handler
}

func New(opts Options, sessions SessionStore, points PointResolver, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	if opts.BackendTimeout == 0 {
		opts.BackendTimeout = 120 * time.Second
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 900 * time.Second
	}
	if opts.PayloadCacheMax == 0 {
		opts.PayloadCacheMax = 1000
	}
	if opts.PayloadCacheTTL == 0 {
		opts.PayloadCacheTTL = 300 * time.Second
	}

	registry := prometheus.NewRegistry()
	g := &Gateway{
		backendURL:   strings.TrimRight(opts.BackendURL, "/"),
		sessions:     sessions,
		points:       points,
		sessionTTL:   opts.SessionTTL,
		payloadCache: expirable.NewLRU[string, map[string]any](opts.PayloadCacheMax, nil, opts.PayloadCacheTTL),
		client:       &http.Client{Timeout: opts.BackendTimeout},
		metrics:      newMetrics(registry),
		registry:     registry,
		logger:       logger,
	}
	g.handler = g.routes()
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", g.handleQuery)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/ready", g.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	return mux
}

type gatewayRequest struct {
	Query     string          `json:"query"`
	History   json.RawMessage `json:"history,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

type backendResponse struct {
	Answer     string          `json:"answer"`
	Sources    []string        `json:"sources"`
	Intent     string          `json:"intent"`
	Confidence string          `json:"confidence"`
	SQL        *string         `json:"sql"`
	Chain      json.RawMessage `json:"retrieval_chain,omitempty"`
}

type gatewayResponse struct {
	backendResponse
	Context gatewayContext `json:"context"`
}

type gatewayContext struct {
	SessionID    string `json:"session_id"`
	ActiveEntity string `json:"active_entity,omitempty"`
}

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req gatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		g.writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	sessionID, created := g.resolveSessionID(r, req.SessionID)
	state, err := g.sessions.Get(r.Context(), sessionID)
	if err != nil {
		g.logger.Printf("session load failed: %v", err)
		state = nil
	}
	if state == nil {
		state = &State{}
	}

	query := req.Query
	if state.ActiveEntityName != "" && IsFollowUp(query) {
		rewritten := RewriteQuery(query, state.ActiveEntityName)
		if rewritten != query {
			g.metrics.rewrites.Inc()
			g.logger.Printf("rewrote follow-up %q -> %q", query, rewritten)
			query = rewritten
		}
	}

	// schedule shortcut: a question about the course of a prior class can
	// be answered from the relational read endpoint without retrieval
	if state.ActiveCourse != nil && asksAboutCourseSchedule(req.Query) {
		if resp, ok := g.tryCourseSchedule(r.Context(), r, state); ok {
			g.finishResponse(w, r, sessionID, created, state, resp)
			return
		}
		// no schedule hit: retarget the query at the owning course
		query = strings.TrimSpace(strings.ReplaceAll(query, state.ActiveEntityName, state.ActiveCourse.Title))
	}

	resp, status, err := g.forward(r.Context(), r, query, req.History, sessionID)
	if err != nil {
		g.writeError(w, http.StatusBadGateway, fmt.Errorf("forward to backend: %w", err))
		return
	}
	if status >= 400 {
		g.writeJSONStatus(w, status, resp)
		return
	}

	g.refreshState(r.Context(), state, resp.Sources)
	g.finishResponse(w, r, sessionID, created, state, resp)
}

func (g *Gateway) finishResponse(w http.ResponseWriter, r *http.Request, sessionID string, created bool, state *State, resp *backendResponse) {
	if err := g.sessions.Put(r.Context(), sessionID, state, g.sessionTTL); err != nil {
		g.logger.Printf("session save failed: %v", err)
	}

	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sessionID,
			Path:     "/",
			MaxAge:   int(g.sessionTTL.Seconds()),
			HttpOnly: true,
		})
	}
	w.Header().Set(sessionHeader, sessionID)

	out := gatewayResponse{
		backendResponse: *resp,
		Context: gatewayContext{
			SessionID:    sessionID,
			ActiveEntity: state.ActiveEntityName,
		},
	}
	g.writeJSONStatus(w, http.StatusOK, out)
}

// resolveSessionID prefers the header, then the cookie, then the body,
// then mints a fresh id.
func (g *Gateway) resolveSessionID(r *http.Request, bodyID string) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id, false
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, false
	}
	if bodyID != "" {
		return bodyID, false
	}
	return uuid.NewString(), true
}

func (g *Gateway) forward(ctx context.Context, r *http.Request, query string, history json.RawMessage, sessionID string) (*backendResponse, int, error) {
	payload := map[string]any{
		"query":      query,
		"session_id": sessionID,
	}
	if len(history) > 0 {
		payload["history"] = history
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal backend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.backendURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := r.Header.Get(apiKeyHeader); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read backend response: %w", err)
	}

	var parsed backendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, fmt.Errorf("decode backend response %q: %w", string(raw), err)
	}
	return &parsed, resp.StatusCode, nil
}

// refreshState resolves payloads for the response's top source ids and
// records the active entity. Course-type payloads win over the first
// payload; for classes the owning course is resolved too.
func (g *Gateway) refreshState(ctx context.Context, state *State, sources []string) {
	if len(sources) == 0 {
		return
	}
	tracked := sources
	if len(tracked) > maxTrackedSources {
		tracked = tracked[:maxTrackedSources]
	}

	var payloads []map[string]any
	var ids []string
	for _, id := range tracked {
		if strings.HasPrefix(id, "SQL") {
			continue
		}
		if p := g.resolvePayload(ctx, id); p != nil {
			payloads = append(payloads, p)
			ids = append(ids, id)
		}
	}
	if len(payloads) == 0 {
		return
	}

	state.LastSources = ids
	state.LastPayloads = payloads

	chosen := payloads[0]
	chosenID := ids[0]
	for i, p := range payloads {
		if strings.EqualFold(payloadString(p, "chunk_type"), "course") {
			chosen = p
			chosenID = ids[i]
			break
		}
	}

	state.ActiveEntityID = chosenID
	state.ActiveEntityName = payloadString(chosen, "title")
	state.ActiveEntityType = strings.ToLower(payloadString(chosen, "chunk_type"))
	g.metrics.stateUpdates.Inc()

	if state.ActiveEntityType == "class" {
		g.resolveOwningCourse(ctx, state, chosen)
	} else if state.ActiveEntityType == "course" {
		state.ActiveCourse = &ActiveCourse{
			ChunkID: chosenID,
			Code:    metadataString(chosen, "course_code"),
			Title:   state.ActiveEntityName,
		}
	}
}

// resolvePayload fetches a point payload by deterministic point id (fast
// path, cached) and falls back to a scroll by chunk_id.
func (g *Gateway) resolvePayload(ctx context.Context, chunkID string) map[string]any {
	if cached, ok := g.payloadCache.Get(chunkID); ok {
		g.metrics.payloadLookups.WithLabelValues("hit").Inc()
		return cached
	}

	pointID := vectorstore.PointID(chunkID)
	points, err := g.points.GetPoints(ctx, []string{pointID})
	if err == nil {
		if c, ok := points[pointID]; ok && c.Payload != nil {
			g.metrics.payloadLookups.WithLabelValues("miss").Inc()
			g.payloadCache.Add(chunkID, c.Payload)
			return c.Payload
		}
	} else {
		g.logger.Printf("point fetch failed for %s: %v", chunkID, err)
	}

	byChunk, err := g.points.GetPointsByChunkIDs(ctx, []string{chunkID})
	if err != nil {
		g.logger.Printf("scroll fetch failed for %s: %v", chunkID, err)
		return nil
	}
	if c, ok := byChunk[chunkID]; ok && c.Payload != nil {
		g.metrics.payloadLookups.WithLabelValues("scroll").Inc()
		g.payloadCache.Add(chunkID, c.Payload)
		return c.Payload
	}
	return nil
}

func (g *Gateway) resolveOwningCourse(ctx context.Context, state *State, classPayload map[string]any) {
	courseChunkID := metadataString(classPayload, "course_chunk_id")
	if courseChunkID == "" {
		if courseID := metadataString(classPayload, "course_id"); courseID != "" {
			courseChunkID = "COURSE-" + courseID
		}
	}
	if courseChunkID == "" {
		return
	}

	payload := g.resolvePayload(ctx, courseChunkID)
	if payload == nil {
		return
	}
	state.ActiveCourse = &ActiveCourse{
		ChunkID: courseChunkID,
		Code:    metadataString(payload, "course_code"),
		Title:   payloadString(payload, "title"),
	}
}

var courseSchedulePattern = regexp.MustCompile(`(?i)\bcourse\b.*\b(when|offered|schedule|start|run)\b|\b(when|offered|schedule)\b.*\bcourse\b`)

func asksAboutCourseSchedule(query string) bool {
	return courseSchedulePattern.MatchString(query)
}

type scheduleReadResponse struct {
	Found      bool   `json:"found"`
	CourseCode string `json:"course_code"`
	Range      *struct {
		Earliest string `json:"earliest"`
		Latest   string `json:"latest"`
	} `json:"range"`
}

// tryCourseSchedule hits the backend's course-schedule read endpoint by
// title and renders a deterministic sentence on a hit.
func (g *Gateway) tryCourseSchedule(ctx context.Context, r *http.Request, state *State) (*backendResponse, bool) {
	u := fmt.Sprintf("%s/api/v1/course-schedule?title=%s", g.backendURL, url.QueryEscape(state.ActiveCourse.Title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Printf("course schedule lookup failed: %v", err)
		return nil, false
	}
	defer resp.Body.Close()

	var parsed scheduleReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || !parsed.Found {
		return nil, false
	}

	answer := fmt.Sprintf("The course %s is scheduled", state.ActiveCourse.Title)
	if parsed.Range != nil && parsed.Range.Earliest != "" {
		if parsed.Range.Latest != "" && parsed.Range.Latest != parsed.Range.Earliest {
			answer = fmt.Sprintf("The course %s runs from %s to %s.", state.ActiveCourse.Title, parsed.Range.Earliest, parsed.Range.Latest)
		} else {
			answer = fmt.Sprintf("The course %s is scheduled on %s.", state.ActiveCourse.Title, parsed.Range.Earliest)
		}
	} else {
		answer += ", but no class dates are recorded."
	}

	return &backendResponse{
		Answer:     answer,
		Sources:    []string{"SQL:" + parsed.CourseCode},
		Intent:     "FACTUAL",
		Confidence: "high",
	}, true
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady verifies the backend and the dense index are reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.backendURL+"/api/v1/health", nil)
	if err == nil {
		resp, berr := g.client.Do(req)
		if berr == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				if perr := g.points.Ping(ctx); perr == nil {
					g.writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ready"})
					return
				}
				g.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("dense index unreachable"))
				return
			}
		}
	}
	g.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("backend unreachable"))
}

func (g *Gateway) writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Printf("write response: %v", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, err error) {
	g.writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func payloadString(p map[string]any, key string) string {
	v, _ := p[key].(string)
	return v
}

// metadataString reads a key from the nested metadata bag, tolerating both
// string and numeric encodings.
func metadataString(p map[string]any, key string) string {
	meta, _ := p["metadata"].(map[string]any)
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

