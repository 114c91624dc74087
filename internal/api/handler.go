package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/history"
	"github.com/nidhogg/agent-studio/internal/jobs"
	"github.com/nidhogg/agent-studio/internal/orchestrator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	catalog  *catalog.Store
	engine   *orchestrator.Engine
	invoker  orchestrator.Invoker
	registry *jobs.Registry
	history  history.Sink
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	cat *catalog.Store,
	engine *orchestrator.Engine,
	invoker orchestrator.Invoker,
	registry *jobs.Registry,
	hist history.Sink,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		catalog:  cat,
		engine:   engine,
		invoker:  invoker,
		registry: registry,
		history:  hist,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)
		r.Post("/model-test", h.modelTest)
		r.Post("/run", h.runSync)
		r.Post("/run-async", h.runAsync)
		r.Get("/run-status/{jobID}", h.runStatus)
		r.Post("/run-cancel/{jobID}", h.runCancel)
		r.Get("/traces", h.listTraces)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "agent-studio"})
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	st := h.catalog.Snapshot()
	sessions, err := h.history.Recent(r.Context(), history.DefaultLimit)
	if err != nil {
		h.logger.Warn("trace history unavailable", zap.Error(err))
		sessions = nil
	}
	if sessions == nil {
		sessions = []*orchestrator.Trace{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":   st.Models,
		"agents":   st.Agents,
		"teams":    st.Teams,
		"sessions": sessions,
	})
}

func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var next catalog.State
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid config payload"})
		return
	}
	if err := h.catalog.Replace(next); err != nil {
		h.logger.Error("catalog save failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type modelTestRequest struct {
	ModelID string `json:"modelId"`
	Prompt  string `json:"prompt"`
}

func (h *Handler) modelTest(w http.ResponseWriter, r *http.Request) {
	var req modelTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	st := h.catalog.Snapshot()
	model, ok := st.ModelByID(req.ModelID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "model not found"})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "Reply with a single short line: MODEL_TEST_OK"
	}
	result := h.invoker.Invoke(r.Context(), model, prompt, orchestrator.TestTimeout, nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modelId":      model.ID,
		"modelName":    model.Name,
		"command":      model.Command,
		"argsTemplate": model.ArgsTemplate,
		"result":       result,
	})
}

type runRequest struct {
	TeamID string `json:"teamId"`
	Prompt string `json:"prompt"`
}

// resolveRun validates a run request and resolves its team, falling
// back to the first configured team.
func (h *Handler) resolveRun(r *http.Request) (catalog.State, catalog.Team, string, error) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return catalog.State{}, catalog.Team{}, "", errors.New("invalid request payload")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return catalog.State{}, catalog.Team{}, "", errors.New("prompt is required")
	}
	st := h.catalog.Snapshot()
	team, ok := st.TeamByID(req.TeamID)
	if !ok {
		if len(st.Teams) == 0 {
			return catalog.State{}, catalog.Team{}, "", errors.New("no team configured")
		}
		team = st.Teams[0]
	}
	return st, team, req.Prompt, nil
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	st, team, prompt, err := h.resolveRun(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	trace, err := h.engine.Run(r.Context(), st, team, prompt, nil)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.history.Append(r.Context(), trace); err != nil {
		h.logger.Warn("trace append failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, trace)
}

func (h *Handler) runAsync(w http.ResponseWriter, r *http.Request) {
	st, team, prompt, err := h.resolveRun(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	jobID := h.registry.Create(st, team, prompt)
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.registry.Get(jobID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) runCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.registry.RequestCancel(jobID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) listTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.history.Recent(r.Context(), history.DefaultLimit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if traces == nil {
		traces = []*orchestrator.Trace{}
	}
	writeJSON(w, http.StatusOK, traces)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
