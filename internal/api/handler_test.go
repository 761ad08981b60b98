package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/config"
	"github.com/chatdb/chatdb/internal/pipeline"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "chatdb-api" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMetricsEndpointExposesPipelineMetrics(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeRunner{outcome: pipeline.Outcome{Kind: pipeline.OutcomeSummary, Flow: pipeline.FlowQuery, Text: "ok"}}
	h := NewHandler(cfg, Dependencies{Pipeline: runner})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"x"}`)))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "chatdb_http_requests_total") {
		t.Fatal("metrics output missing chatdb_http_requests_total")
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"CHATDB_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:dashboard:reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	runner := &fakeRunner{outcome: pipeline.Outcome{Kind: pipeline.OutcomeSummary, Text: "Asthma is a disease."}}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Pipeline:       runner,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"x"}`)))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"Is asthma a disease?"}`))
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body = %s", authResp.Code, authResp.Body.String())
	}

	modifyReq := httptest.NewRequest(http.MethodPost, "/v1/modify", strings.NewReader(`{"query":"delete everything"}`))
	modifyReq.Header.Set("X-API-Key", "k1")
	modifyResp := httptest.NewRecorder()
	h.ServeHTTP(modifyResp, modifyReq)
	if modifyResp.Code != http.StatusForbidden {
		t.Fatalf("reader modify status = %d", modifyResp.Code)
	}
	if runner.modifyCalls != 0 {
		t.Fatal("modify flow must not run without writer role")
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"CHATDB_AUTH_REQUIRED": "true"})
	runner := &fakeRunner{}
	h := NewHandler(cfg, Dependencies{Pipeline: runner})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"x"}`)))
	if rr.Code != http.StatusInternalServerError || runner.queryCalls != 0 {
		t.Fatalf("status = %d, calls = %d", rr.Code, runner.queryCalls)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckModelCredential(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	if err := CheckModelCredential(cfg)(context.Background()); err == nil {
		t.Fatal("expected error without api key")
	}
	cfg = loadConfig(t, map[string]string{"OPENAI_API_KEY": "sk-test"})
	if err := CheckModelCredential(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckModelCredential() error = %v", err)
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("chatdb-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
