package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/guard"
	"github.com/opensource-finance/riskguard/internal/identity"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	processor *guard.Processor
	store     domain.CounterStore
	repo      domain.OutcomeRepository
	resolver  *identity.Resolver
	version   string
	logger    *slog.Logger
}

// NewHandler creates a new API handler. store and repo may be nil.
func NewHandler(processor *guard.Processor, store domain.CounterStore, repo domain.OutcomeRepository, resolver *identity.Resolver, version string, logger *slog.Logger) *Handler {
	if resolver == nil {
		resolver = identity.DefaultResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		processor: processor,
		store:     store,
		repo:      repo,
		resolver:  resolver,
		version:   version,
		logger:    logger,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	Action     string             `json:"action"`
	UserID     string             `json:"userId,omitempty"`
	IP         string             `json:"ip,omitempty"`
	Timestamp  *time.Time         `json:"timestamp,omitempty"`
	Attributes *domain.Attributes `json:"attributes,omitempty"`

	// Overrides are "RULECODE.property=value" entries for this call only.
	Overrides []string `json:"overrides,omitempty"`
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	Decision   domain.Decision        `json:"decision"`
	Score      int                    `json:"score"`
	Reasons    []string               `json:"reasons"`
	RuleScores map[string]int         `json:"ruleScores"`
	RuleFlags  map[string]bool        `json:"ruleFlags"`
	HardRule   *domain.HardRuleHit    `json:"hardRule,omitempty"`
	Reason     string                 `json:"reason"`
	Policy     domain.ChallengePolicy `json:"policy"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /evaluate requests. It scores the action without
// enforcing the decision, though counting rules still record the attempt.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return
	}

	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("action is required"))
		return
	}

	rc := &domain.RiskContext{
		Action:     req.Action,
		UserID:     req.UserID,
		IP:         req.IP,
		Attributes: req.Attributes,
		Timestamp:  start,
	}
	if rc.UserID == "" {
		rc.UserID = h.resolver.UserID(r)
	}
	if rc.IP == "" {
		rc.IP = h.resolver.ClientIP(r)
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		rc.Timestamp = *req.Timestamp
	}

	assessment, err := h.processor.Assess(ctx, rc, domain.ParseOverrides(req.Overrides, h.logger))
	if err != nil {
		h.logger.Error("risk evaluation failed",
			"action", rc.Action,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("risk evaluation failed"))
		return
	}

	resp := EvaluateResponse{
		Decision:   assessment.Decision,
		Score:      assessment.Result.Score,
		Reasons:    assessment.Result.Reasons,
		RuleScores: assessment.Result.RuleScores(),
		RuleFlags:  assessment.Result.RuleFlags(),
		HardRule:   assessment.HardRuleHit,
		Reason:     assessment.Reason,
		Policy:     assessment.Policy,
	}
	if resp.Reasons == nil {
		resp.Reasons = []string{}
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// ListOutcomes handles GET /outcomes.
func (h *Handler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	q := r.URL.Query()
	filter := domain.OutcomeFilter{
		UserID: q.Get("userId"),
		IP:     q.Get("ip"),
	}
	if s := q.Get("status"); s != "" {
		status, err := domain.ParseDecision(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		filter.Status = status
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	outcomes, err := h.repo.ListOutcomes(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list outcomes", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list outcomes"))
		return
	}
	if outcomes == nil {
		outcomes = []*domain.OutcomeRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// GetOutcome handles GET /outcomes/{id}.
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("outcome id is required"))
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	rec, err := h.repo.GetOutcome(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("outcome not found"))
		return
	}
	if err != nil {
		h.logger.Error("failed to get outcome", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to get outcome"))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports 503 until the counter store and repository answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if h.store != nil {
		checks["store"] = "ok"
		if err := h.store.Ping(r.Context()); err != nil {
			checks["store"] = err.Error()
			ready = false
		}
	}
	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			checks["repository"] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
