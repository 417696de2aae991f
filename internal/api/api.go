// Package api is the HTTP control surface over the workflow machine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/routing"
	"github.com/sells-group/payops-sentinel/internal/store"
	"github.com/sells-group/payops-sentinel/internal/workflow"
)

// DefaultThreadID is used when a request names no thread.
const DefaultThreadID = "default"

// Engine is the subset of workflow.Machine the API drives.
type Engine interface {
	RunCycle(ctx context.Context, threadID string) (*workflow.CycleResult, error)
	GetState(ctx context.Context, threadID string) (*workflow.Status, error)
	Resume(ctx context.Context, threadID string, approved bool) (*workflow.ApprovalResult, error)
	Clear(ctx context.Context, threadID string) error
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

type server struct {
	engine Engine
	routes routing.Store
}

// NewRouter builds the chi router for the control surface.
func NewRouter(engine Engine, routes routing.Store, opts Options) http.Handler {
	s := &server{engine: engine, routes: routes}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Post("/run_cycle", s.runCycle)
	r.Get("/agent_state", s.agentState)
	r.Post("/approve_action", s.approveAction)
	r.Delete("/sessions/{thread_id}", s.clearSession)
	r.Get("/routing", s.routingTable)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type runCycleRequest struct {
	ThreadID string `json:"thread_id"`
}

type runCycleResponse struct {
	ThreadID string                `json:"thread_id"`
	CycleID  string                `json:"cycle_id"`
	Stage    model.Stage           `json:"stage"`
	Proposal *model.ActionProposal `json:"proposal"`
	NoData   bool                  `json:"no_data"`
	Logs     []string              `json:"logs"`
}

type approveRequest struct {
	ThreadID string `json:"thread_id"`
	Approved *bool  `json:"approved"`
}

type approveResponse struct {
	Status string              `json:"status"`
	Logs   []string            `json:"logs"`
	Record *model.ActionRecord `json:"record,omitempty"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) runCycle(w http.ResponseWriter, r *http.Request) {
	var req runCycleRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = DefaultThreadID
	}

	res, err := s.engine.RunCycle(r.Context(), req.ThreadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runCycleResponse{
		ThreadID: res.ThreadID,
		CycleID:  res.CycleID,
		Stage:    res.Stage,
		Proposal: res.Proposal,
		NoData:   res.NoData,
		Logs:     renderLogs(res.Logs),
	})
}

func (s *server) agentState(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		threadID = DefaultThreadID
	}

	st, err := s.engine.GetState(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) approveAction(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Approved == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "approved is required"})
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = DefaultThreadID
	}

	res, err := s.engine.Resume(r.Context(), req.ThreadID, *req.Approved)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{
		Status: res.Status,
		Logs:   renderLogs(res.Logs),
		Record: res.Record,
	})
}

func (s *server) clearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Clear(r.Context(), chi.URLParam(r, "thread_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) routingTable(w http.ResponseWriter, r *http.Request) {
	table, err := s.routes.Table(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func renderLogs(entries []model.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps workflow and store errors to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var rerr *workflow.ReasoningError
	switch {
	case errors.Is(err, workflow.ErrUnknownSession):
		return http.StatusNotFound, "unknown_session"
	case errors.Is(err, workflow.ErrNothingPending):
		return http.StatusConflict, "nothing_pending"
	case errors.Is(err, workflow.ErrApprovalPending):
		return http.StatusConflict, "approval_pending"
	case errors.Is(err, workflow.ErrExecutionInProgress):
		return http.StatusConflict, "execution_in_progress"
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, workflow.ErrProposalExpired):
		return http.StatusGone, "expired"
	case errors.As(err, &rerr):
		return http.StatusBadGateway, "reasoning_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
