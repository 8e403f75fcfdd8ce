package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/ratelimit"
	"github.com/kursadbilgin/netevents/internal/service"
	"go.uber.org/zap"
)

func TestNamespaceRoutes_ListNamespaces(t *testing.T) {
	t.Parallel()

	svc := &stubNamespaceService{
		namespacesFn: func() []service.NamespaceInfo {
			return []service.NamespaceInfo{
				{Name: "chat", Channel: domain.ChannelReliable, Events: []string{"say"}},
				{
					Name:    "input",
					Channel: domain.ChannelUnreliable,
					RateLimit: &ratelimit.Config{
						MaxCalls: 3, TimeWindow: time.Second, Strategy: ratelimit.StrategySliding,
					},
				},
			}
		},
	}
	app := newNamespaceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/namespaces", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []namespaceResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 {
		t.Fatalf("len(data) = %d, want 2", len(parsed.Data))
	}
	if parsed.Data[0].RateLimit != nil || parsed.Data[0].Events[0] != "say" {
		t.Fatalf("data[0] = %+v", parsed.Data[0])
	}
	if parsed.Data[1].Events == nil || len(parsed.Data[1].Events) != 0 {
		t.Fatalf("data[1].events = %v, want empty list", parsed.Data[1].Events)
	}
	rl := parsed.Data[1].RateLimit
	if rl == nil || rl.Strategy != "sliding" || rl.MaxCalls != 3 || rl.WindowMs != 1000 {
		t.Fatalf("data[1].rateLimit = %+v", rl)
	}
}

func TestNamespaceRoutes_DefineNamespace(t *testing.T) {
	t.Parallel()

	var got domain.NamespacePolicy
	svc := &stubNamespaceService{
		defineFn: func(ctx context.Context, p domain.NamespacePolicy) (*domain.NamespacePolicy, error) {
			if err := p.Validate(); err != nil {
				return nil, err
			}
			got = p
			return &p, nil
		},
	}
	app := newNamespaceTestApp(t, svc)

	body := `{"channel":"unreliable","rateLimit":{"strategy":"token","maxCalls":5,"windowMs":1000,"burstSize":10},"relayEvents":["move"]}`
	resp, respBody := performRequest(t, app, http.MethodPut, "/v1/namespaces/game", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	if got.Name != "game" || got.Channel != domain.ChannelUnreliable || got.Strategy != "token" ||
		got.MaxCalls != 5 || got.BurstSize != 10 || len(got.RelayEvents) != 1 {
		t.Fatalf("Define() received %+v", got)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/namespaces/game", `{"channel":"carrier-pigeon"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad channel", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/namespaces/game", `{"channel":"reliable","rateLimit":{"strategy":"fixed","maxCalls":0,"windowMs":1000}}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for zero maxCalls", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/namespaces/game", `{`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestNamespaceRoutes_SetRateLimit(t *testing.T) {
	t.Parallel()

	var got ratelimit.Config
	svc := &stubNamespaceService{
		setRateLimitFn: func(ctx context.Context, name string, cfg ratelimit.Config) (*domain.NamespacePolicy, error) {
			if name == "missing" {
				return nil, fmt.Errorf("%w: namespace %q", domain.ErrNotFound, name)
			}
			got = cfg
			p := &domain.NamespacePolicy{Name: name, Channel: domain.ChannelReliable}
			ratelimit.ToPolicy(p, cfg)
			return p, nil
		},
	}
	app := newNamespaceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPut, "/v1/namespaces/chat/ratelimit", `{"preset":"burst"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if got.Strategy != ratelimit.StrategyToken || got.BurstSize != 50 {
		t.Fatalf("SetRateLimit() received %+v, want burst preset", got)
	}
	var parsed policyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.RateLimit == nil || parsed.RateLimit.MaxCalls != 10 {
		t.Fatalf("response rateLimit = %+v", parsed.RateLimit)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/namespaces/chat/ratelimit", `{"strategy":"sliding","maxCalls":2,"windowMs":250}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got.Strategy != ratelimit.StrategySliding || got.TimeWindow != 250*time.Millisecond {
		t.Fatalf("SetRateLimit() received %+v", got)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/namespaces/chat/ratelimit", `{"preset":"unknown"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown preset", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/namespaces/missing/ratelimit", `{"maxCalls":1,"windowMs":10}`)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for missing namespace", resp.StatusCode)
	}
}

func TestNamespaceRoutes_StatsAndRemaining(t *testing.T) {
	t.Parallel()

	svc := &stubNamespaceService{
		statsFn: func(name string) (ratelimit.Stats, error) {
			if name != "input" {
				return ratelimit.Stats{}, domain.ErrNotFound
			}
			return ratelimit.Stats{
				TotalChecks:  4,
				TotalBlocked: 1,
				BlockRate:    0.25,
				PerKey:       map[string]ratelimit.KeyStats{"c1": {Checks: 4, Blocked: 1, Attempts: 1}},
			}, nil
		},
		remainingFn: func(name, key string) (int, error) {
			return 7, nil
		},
	}
	app := newNamespaceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/namespaces/input/ratelimit/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var stats ratelimit.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if stats.TotalChecks != 4 || stats.PerKey["c1"].Blocked != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/namespaces/other/ratelimit/stats", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/namespaces/input/ratelimit/remaining/c1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var remaining remainingResponse
	if err := json.Unmarshal(body, &remaining); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if remaining.Key != "c1" || remaining.Remaining != 7 {
		t.Fatalf("remaining = %+v", remaining)
	}
}

func TestNamespaceRoutes_LimiterMutations(t *testing.T) {
	t.Parallel()

	var (
		resetKeys []string
		tokens    int
		removed   bool
	)
	svc := &stubNamespaceService{
		setMaxCallsFn: func(ctx context.Context, name string, maxCalls int) (*domain.NamespacePolicy, error) {
			if maxCalls < 1 {
				return nil, domain.ErrInvalidConfig
			}
			return &domain.NamespacePolicy{Name: name, Channel: domain.ChannelReliable, Strategy: "fixed", MaxCalls: maxCalls, WindowMs: 1000}, nil
		},
		resetFn: func(name, key string) error {
			resetKeys = append(resetKeys, key)
			return nil
		},
		addTokensFn: func(name, key string, amount int) error {
			if key == "" {
				return domain.ErrValidation
			}
			tokens += amount
			return nil
		},
		removeRateLimitFn: func(ctx context.Context, name string) (*domain.NamespacePolicy, error) {
			removed = true
			return &domain.NamespacePolicy{Name: name, Channel: domain.ChannelReliable}, nil
		},
	}
	app := newNamespaceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPatch, "/v1/namespaces/chat/ratelimit/max-calls", `{"maxCalls":9}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	resp, _ = performRequest(t, app, http.MethodPatch, "/v1/namespaces/chat/ratelimit/max-calls", `{"maxCalls":0}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/namespaces/chat/ratelimit/reset", `{"key":" c1 "}`)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/namespaces/chat/ratelimit/reset", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204 for reset all", resp.StatusCode)
	}
	if len(resetKeys) != 2 || resetKeys[0] != "c1" || resetKeys[1] != "" {
		t.Fatalf("reset keys = %q, want [c1 \"\"]", resetKeys)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/namespaces/chat/ratelimit/tokens", `{"key":"c1","amount":3}`)
	if resp.StatusCode != fiber.StatusNoContent || tokens != 3 {
		t.Fatalf("status = %d, tokens = %d; want 204 and 3", resp.StatusCode, tokens)
	}
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/namespaces/chat/ratelimit/tokens", `{"amount":3}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing key", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/namespaces/chat/ratelimit", "")
	if resp.StatusCode != fiber.StatusNoContent || !removed {
		t.Fatalf("status = %d, removed = %v; want 204 and true", resp.StatusCode, removed)
	}
}

func TestNewNamespaceHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewNamespaceHandler(nil); err == nil {
		t.Fatal("NewNamespaceHandler(nil) error = nil")
	}
}

type stubNamespaceService struct {
	namespacesFn      func() []service.NamespaceInfo
	defineFn          func(ctx context.Context, p domain.NamespacePolicy) (*domain.NamespacePolicy, error)
	statsFn           func(name string) (ratelimit.Stats, error)
	remainingFn       func(name, key string) (int, error)
	setRateLimitFn    func(ctx context.Context, name string, cfg ratelimit.Config) (*domain.NamespacePolicy, error)
	removeRateLimitFn func(ctx context.Context, name string) (*domain.NamespacePolicy, error)
	setMaxCallsFn     func(ctx context.Context, name string, maxCalls int) (*domain.NamespacePolicy, error)
	resetFn           func(name, key string) error
	addTokensFn       func(name, key string, amount int) error
}

func (s *stubNamespaceService) Namespaces() []service.NamespaceInfo {
	if s.namespacesFn == nil {
		return nil
	}
	return s.namespacesFn()
}

func (s *stubNamespaceService) Define(ctx context.Context, p domain.NamespacePolicy) (*domain.NamespacePolicy, error) {
	if s.defineFn == nil {
		return nil, fmt.Errorf("unexpected Define call")
	}
	return s.defineFn(ctx, p)
}

func (s *stubNamespaceService) Stats(name string) (ratelimit.Stats, error) {
	if s.statsFn == nil {
		return ratelimit.Stats{}, fmt.Errorf("unexpected Stats call")
	}
	return s.statsFn(name)
}

func (s *stubNamespaceService) Remaining(name, key string) (int, error) {
	if s.remainingFn == nil {
		return 0, fmt.Errorf("unexpected Remaining call")
	}
	return s.remainingFn(name, key)
}

func (s *stubNamespaceService) SetRateLimit(ctx context.Context, name string, cfg ratelimit.Config) (*domain.NamespacePolicy, error) {
	if s.setRateLimitFn == nil {
		return nil, fmt.Errorf("unexpected SetRateLimit call")
	}
	return s.setRateLimitFn(ctx, name, cfg)
}

func (s *stubNamespaceService) RemoveRateLimit(ctx context.Context, name string) (*domain.NamespacePolicy, error) {
	if s.removeRateLimitFn == nil {
		return nil, fmt.Errorf("unexpected RemoveRateLimit call")
	}
	return s.removeRateLimitFn(ctx, name)
}

func (s *stubNamespaceService) SetMaxCalls(ctx context.Context, name string, maxCalls int) (*domain.NamespacePolicy, error) {
	if s.setMaxCallsFn == nil {
		return nil, fmt.Errorf("unexpected SetMaxCalls call")
	}
	return s.setMaxCallsFn(ctx, name, maxCalls)
}

func (s *stubNamespaceService) Reset(name, key string) error {
	if s.resetFn == nil {
		return fmt.Errorf("unexpected Reset call")
	}
	return s.resetFn(name, key)
}

func (s *stubNamespaceService) AddTokens(name, key string, amount int) error {
	if s.addTokensFn == nil {
		return fmt.Errorf("unexpected AddTokens call")
	}
	return s.addTokensFn(name, key, amount)
}

func newNamespaceTestApp(t *testing.T, svc NamespaceService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(zap.NewNop()),
	})

	if err := RegisterNamespaceRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNamespaceRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
