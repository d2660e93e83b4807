package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/riskguard/internal/challenge"
	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/guard"
	"github.com/opensource-finance/riskguard/internal/rules"
	"github.com/opensource-finance/riskguard/internal/store"
)

// userScoreRule scores a fixed amount per user.
type userScoreRule struct {
	scores map[string]int
	err    error
}

func (r *userScoreRule) Code() string         { return "USER_SCORE" }
func (r *userScoreRule) DefaultEnabled() bool { return true }

func (r *userScoreRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props rules.Properties) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.scores[rc.UserID], nil
}

var testScores = map[string]int{
	"alice":   0,
	"eve":     60,
	"mallory": 90,
}

func newTestProcessor(t *testing.T, rule rules.Rule, opts ...guard.Option) *guard.Processor {
	t.Helper()
	engine, err := rules.NewEngine(rule)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	hard, err := decision.NewHardRuleEvaluator(nil)
	if err != nil {
		t.Fatalf("failed to create hard rules: %v", err)
	}
	profile, err := decision.NewProfile(50, 80)
	if err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}
	return guard.NewProcessor(engine, profile, hard, opts...)
}

// newUpstream answers /login with 401 unless X-Password is "secret" and
// counts every request it serves.
func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Upstream", "yes")
		if r.URL.Path == "/login" && r.Header.Get("X-Password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, "bad credentials")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func createTestServer(t *testing.T, opts Options, procOpts ...guard.Option) *Server {
	t.Helper()
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if opts.Version == "" {
		opts.Version = "test-v1"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	server, err := NewServer(cfg, newTestProcessor(t, &userScoreRule{scores: testScores}, procOpts...), opts)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return server
}

func postJSON(server *Server, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t, Options{})

	t.Run("ChallengeDecision", func(t *testing.T) {
		rr := postJSON(server, "/evaluate", EvaluateRequest{Action: "login", UserID: "eve", IP: "10.0.0.1"})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Decision != domain.DecisionChallenge {
			t.Errorf("expected CHALLENGE, got %s", resp.Decision)
		}
		if resp.Score != 60 {
			t.Errorf("expected score 60, got %d", resp.Score)
		}
		if resp.RuleScores["USER_SCORE"] != 60 || !resp.RuleFlags["USER_SCORE"] {
			t.Errorf("unexpected rule breakdown: %v %v", resp.RuleScores, resp.RuleFlags)
		}
		if len(resp.Reasons) != 1 || resp.Reasons[0] != "USER_SCORE:60" {
			t.Errorf("unexpected reasons: %v", resp.Reasons)
		}
		if resp.HardRule != nil {
			t.Errorf("expected no hard rule, got %+v", resp.HardRule)
		}
		if resp.Policy.ChallengeTTL != 5*time.Minute {
			t.Errorf("expected default policy, got %+v", resp.Policy)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("OverridesDisableRule", func(t *testing.T) {
		rr := postJSON(server, "/evaluate", EvaluateRequest{
			Action:    "login",
			UserID:    "mallory",
			Overrides: []string{"user_score.enabled=false"},
		})

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Decision != domain.DecisionAllow || resp.Score != 0 {
			t.Errorf("expected ALLOW with score 0, got %s/%d", resp.Decision, resp.Score)
		}
		if score, ok := resp.RuleScores["USER_SCORE"]; !ok || score != 0 {
			t.Errorf("expected disabled rule recorded with 0, got %v", resp.RuleScores)
		}
		if len(resp.Reasons) != 0 {
			t.Errorf("expected no reasons, got %v", resp.Reasons)
		}
	})

	t.Run("UserFromHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(`{"action":"login"}`))
		req.Header.Set("X-User-Id", "mallory")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Decision != domain.DecisionBlock {
			t.Errorf("expected BLOCK for header identity, got %s", resp.Decision)
		}
	})

	t.Run("MissingAction", func(t *testing.T) {
		rr := postJSON(server, "/evaluate", EvaluateRequest{UserID: "alice"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(server, "/evaluate", EvaluateRequest{Action: "login"})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestEvaluateEndpointFailure(t *testing.T) {
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080}
	processor := newTestProcessor(t, &userScoreRule{err: errors.New("store down")})
	server, err := NewServer(cfg, processor, Options{Gatherer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rr := postJSON(server, "/evaluate", EvaluateRequest{Action: "login"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

func guardedRequest(server *Server, method, path, user, password string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-User-Id", user)
	req.Header.Set("X-Password", password)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestGuardedRoutes(t *testing.T) {
	upstream, hits := newUpstream(t)
	server := createTestServer(t, Options{
		Routes: []domain.RouteConfig{
			{Path: "/login", Method: http.MethodPost, Action: "login", Upstream: upstream.URL, EvaluateOnFailure: true},
			{Path: "/transfer", Action: "transfer", Upstream: upstream.URL, EvaluateBefore: true},
			{Path: "/profile", Action: "profile", Upstream: upstream.URL, EvaluateAfterSuccess: true},
		},
	})

	t.Run("SuccessfulLoginPassesThrough", func(t *testing.T) {
		rr := guardedRequest(server, http.MethodPost, "/login", "mallory", "secret")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Body.String() != `{"ok":true}` {
			t.Errorf("expected upstream body, got %q", rr.Body.String())
		}
		if rr.Header().Get("X-Upstream") != "yes" {
			t.Error("expected upstream headers to be copied")
		}
	})

	t.Run("FailedLoginAllowedKeepsUpstreamResponse", func(t *testing.T) {
		rr := guardedRequest(server, http.MethodPost, "/login", "alice", "wrong")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected upstream 401, got %d", rr.Code)
		}
		if rr.Body.String() != "bad credentials" {
			t.Errorf("expected upstream body, got %q", rr.Body.String())
		}
	})

	t.Run("FailedLoginBlocked", func(t *testing.T) {
		rr := guardedRequest(server, http.MethodPost, "/login", "mallory", "wrong")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d: %s", rr.Code, rr.Body.String())
		}

		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["decision"] != "BLOCK" {
			t.Errorf("expected BLOCK decision, got %v", body["decision"])
		}
		if body["outcomeId"] == "" || body["outcomeId"] == nil {
			t.Error("expected outcome id")
		}
	})

	t.Run("FailedLoginChallenged", func(t *testing.T) {
		rr := guardedRequest(server, http.MethodPost, "/login", "eve", "wrong")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}

		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["decision"] != "CHALLENGE" {
			t.Errorf("expected CHALLENGE decision, got %v", body["decision"])
		}
		if body["retryAfterSeconds"] != float64(300) {
			t.Errorf("expected retry after 300s, got %v", body["retryAfterSeconds"])
		}
	})

	t.Run("MethodMismatch", func(t *testing.T) {
		rr := guardedRequest(server, http.MethodGet, "/login", "alice", "secret")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got %d", rr.Code)
		}
	})

	t.Run("BlockedBeforeUpstream", func(t *testing.T) {
		before := hits.Load()
		rr := guardedRequest(server, http.MethodPost, "/transfer", "mallory", "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rr.Code)
		}
		if hits.Load() != before {
			t.Error("expected upstream not to be called")
		}
	})

	t.Run("AllowedBeforeUpstream", func(t *testing.T) {
		rr := guardedRequest(server, http.MethodGet, "/transfer", "alice", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("BlockedAfterSuccess", func(t *testing.T) {
		before := hits.Load()
		rr := guardedRequest(server, http.MethodGet, "/profile", "mallory", "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rr.Code)
		}
		if hits.Load() != before+1 {
			t.Error("expected upstream to be called once")
		}
	})
}

func TestGuardedRouteReturnValues(t *testing.T) {
	upstream, _ := newUpstream(t)
	routes := []domain.RouteConfig{
		{Path: "/transfer", Action: "transfer", Upstream: upstream.URL, EvaluateBefore: true},
	}

	t.Run("ResponseWrittenVerbatim", func(t *testing.T) {
		block := challenge.BlockHandlerFunc(func(ctx context.Context, c *challenge.Context) domain.ChallengeResolution {
			return domain.Return(&Response{
				Status: http.StatusTooManyRequests,
				Header: http.Header{"Retry-After": []string{"900"}},
				Body:   []byte("slow down"),
			}, nil)
		})
		server := createTestServer(t, Options{Routes: routes}, guard.WithBlockHandler(block))

		rr := guardedRequest(server, http.MethodPost, "/transfer", "mallory", "")
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status 429, got %d", rr.Code)
		}
		if rr.Header().Get("Retry-After") != "900" || rr.Body.String() != "slow down" {
			t.Errorf("unexpected response: %v %q", rr.Header(), rr.Body.String())
		}
	})

	t.Run("ValueWrittenAsJSON", func(t *testing.T) {
		challengeHandler := challenge.ChallengeHandlerFunc(func(ctx context.Context, c *challenge.Context) domain.ChallengeResolution {
			return domain.Return(map[string]string{"captcha": "required"}, nil)
		})
		server := createTestServer(t, Options{Routes: routes}, guard.WithChallengeHandler(challengeHandler))

		rr := guardedRequest(server, http.MethodPost, "/transfer", "eve", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var body map[string]string
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["captcha"] != "required" {
			t.Errorf("unexpected body: %v", body)
		}
	})

	t.Run("EvaluationErrorIsUnavailable", func(t *testing.T) {
		cfg := domain.ServerConfig{Host: "localhost", Port: 8080}
		processor := newTestProcessor(t, &userScoreRule{err: errors.New("store down")})
		server, err := NewServer(cfg, processor, Options{Routes: routes, Gatherer: prometheus.NewRegistry()})
		if err != nil {
			t.Fatalf("failed to create server: %v", err)
		}

		rr := guardedRequest(server, http.MethodPost, "/transfer", "alice", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestInvalidUpstream(t *testing.T) {
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080}
	_, err := NewServer(cfg, newTestProcessor(t, &userScoreRule{}), Options{
		Routes: []domain.RouteConfig{{Path: "/login", Action: "login", Upstream: "not a url"}},
	})
	if err == nil {
		t.Error("expected error for invalid upstream")
	}
}

// stubRepo serves a fixed set of outcomes.
type stubRepo struct {
	records []*domain.OutcomeRecord
	filter  domain.OutcomeFilter
	pingErr error
}

func (r *stubRepo) SaveOutcome(ctx context.Context, rec *domain.OutcomeRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *stubRepo) GetOutcome(ctx context.Context, id string) (*domain.OutcomeRecord, error) {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubRepo) ListOutcomes(ctx context.Context, filter domain.OutcomeFilter) ([]*domain.OutcomeRecord, error) {
	r.filter = filter
	var out []*domain.OutcomeRecord
	for _, rec := range r.records {
		if filter.UserID == "" || rec.UserID == filter.UserID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *stubRepo) Ping(ctx context.Context) error { return r.pingErr }
func (r *stubRepo) Close() error                   { return nil }

func TestOutcomeEndpoints(t *testing.T) {
	repo := &stubRepo{records: []*domain.OutcomeRecord{
		{ID: "out-1", Status: domain.DecisionBlock, UserID: "mallory", Score: 90},
		{ID: "out-2", Status: domain.DecisionChallenge, UserID: "eve", Score: 60},
	}}
	server := createTestServer(t, Options{Repo: repo})

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	t.Run("ListByUser", func(t *testing.T) {
		rr := get("/outcomes?userId=eve&status=challenge&limit=5")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Outcomes []domain.OutcomeRecord `json:"outcomes"`
			Count    int                    `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.Outcomes[0].ID != "out-2" {
			t.Errorf("unexpected outcomes: %+v", resp)
		}
		if repo.filter.Status != domain.DecisionChallenge || repo.filter.Limit != 5 {
			t.Errorf("unexpected filter: %+v", repo.filter)
		}
	})

	t.Run("EmptyListIsArray", func(t *testing.T) {
		rr := get("/outcomes?userId=nobody")
		if !strings.Contains(rr.Body.String(), `"outcomes":[]`) {
			t.Errorf("expected empty array, got %s", rr.Body.String())
		}
	})

	t.Run("InvalidQuery", func(t *testing.T) {
		if rr := get("/outcomes?limit=abc"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad limit, got %d", rr.Code)
		}
		if rr := get("/outcomes?status=DENY"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad status, got %d", rr.Code)
		}
	})

	t.Run("GetByID", func(t *testing.T) {
		rr := get("/outcomes/out-1")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var rec domain.OutcomeRecord
		json.Unmarshal(rr.Body.Bytes(), &rec)
		if rec.UserID != "mallory" || rec.Score != 90 {
			t.Errorf("unexpected outcome: %+v", rec)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := get("/outcomes/missing"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		bare := createTestServer(t, Options{})
		rr := httptest.NewRecorder()
		bare.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/outcomes", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

// downStore is a counter store whose backend is unreachable.
type downStore struct {
	domain.CounterStore
}

func (downStore) Ping(ctx context.Context) error { return domain.ErrStoreUnavailable }

func TestHealthEndpoint(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	server := createTestServer(t, Options{Store: mem, Repo: &stubRepo{}})

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWhenStoreDown", func(t *testing.T) {
		degraded := createTestServer(t, Options{Store: downStore{}, Repo: &stubRepo{}})

		rr := httptest.NewRecorder()
		degraded.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}

		rr = httptest.NewRecorder()
		degraded.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected status 'degraded', got '%s'", resp["status"])
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	telemetry, err := challenge.NewTelemetry(reg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	server := createTestServer(t, Options{Gatherer: reg}, guard.WithTelemetry(telemetry))

	postJSON(server, "/evaluate", EvaluateRequest{Action: "login", UserID: "mallory"})

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `riskguard_decisions_total{decision="BLOCK"} 1`) {
		t.Errorf("expected block decision counted, got:\n%s", rr.Body.String())
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") != capturedRequestID {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("TracingMiddlewareKeepsIncomingRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-123" {
			t.Errorf("expected req-123, got %s", rr.Header().Get(RequestIDHeader))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/evaluate", nil)
		req.Header.Set("Origin", "https://example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
			t.Errorf("unexpected origin header: %s", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}
