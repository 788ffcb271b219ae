package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/http/handlers"
	httpmiddleware "github.com/assistext/assistext/internal/http/middleware"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

const testAdminSecret = "admin-secret"

type countingProcessor struct {
	inbound int
	status  int
}

func (p *countingProcessor) HandleInbound(context.Context, messaging.WebhookRequest) messaging.Result {
	p.inbound++
	return messaging.Result{Outcome: messaging.OutcomeReplied}
}

func (p *countingProcessor) HandleStatus(context.Context, messaging.WebhookRequest) messaging.Result {
	p.status++
	return messaging.Result{Outcome: messaging.OutcomeStatusApplied}
}

type memTenants struct {
	tenants map[uuid.UUID]tenancy.Tenant
}

func (m *memTenants) Get(_ context.Context, id uuid.UUID) (*tenancy.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, tenancy.ErrTenantNotFound
	}
	return &t, nil
}

func (m *memTenants) AttachNumber(context.Context, uuid.UUID, string) error { return nil }

type testEnv struct {
	handler   http.Handler
	processor *countingProcessor
	tenantID  uuid.UUID
}

func newTestRouter(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := logging.Discard()
	proc := &countingProcessor{}
	tenantID := uuid.New()
	store := &memTenants{tenants: map[uuid.UUID]tenancy.Tenant{tenantID: {ID: tenantID, Name: "Glow Spa"}}}

	cfg := &Config{
		Logger:           logger,
		MessagingHandler: messaging.NewHandler(proc, "https://hooks.example.com", logger),
		HealthHandler:    handlers.NewHealthHandler(nil, func() string { return "closed" }),
		AdminTenants:     handlers.NewAdminTenantsHandler(store, nil, logger),
		AdminAuthSecret:  testAdminSecret,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		RateLimiter: httpmiddleware.NewRateLimiter(ctx, 0.001, 2),
	}
	return &testEnv{handler: New(cfg), processor: proc, tenantID: tenantID}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	env := newTestRouter(t)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" || resp["llm_breaker"] != "closed" {
		t.Errorf("unexpected health response %v", resp)
	}
}

func TestRouterWebhookRoutes(t *testing.T) {
	env := newTestRouter(t)
	form := url.Values{"MessageSid": {"SM1"}, "From": {"+15551234567"}, "To": {"+15557770000"}, "Body": {"hi"}}

	for _, path := range []string{"/webhooks/sms", "/api/webhooks/sms"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if rr.Body.String() != messaging.EmptyLaMLResponse {
			t.Fatalf("%s: unexpected body %q", path, rr.Body.String())
		}
	}
	for _, path := range []string{"/webhooks/status", "/api/webhooks/status"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("MessageSid=SM1&MessageStatus=sent"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
	if env.processor.inbound != 2 || env.processor.status != 2 {
		t.Fatalf("unexpected dispatch counts %+v", env.processor)
	}
}

func TestRouterWebhooksAreNotThrottled(t *testing.T) {
	env := newTestRouter(t)
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader("MessageSid=SM1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	env := newTestRouter(t)
	path := "/admin/tenants/" + env.tenantID.String()

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterMetricsRateLimited(t *testing.T) {
	env := newTestRouter(t)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}
