package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-platform/internal/audit"
	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/config"
	"voice-platform/internal/numbers"
	"voice-platform/internal/rbac"
	"voice-platform/internal/reporting"
	"voice-platform/internal/telephony"
	"voice-platform/internal/voice"

	"github.com/gin-gonic/gin"
)

type fakeCarrier struct {
	mu      sync.Mutex
	next    int
	hangups []string
	fail    error
}

func (f *fakeCarrier) Name() string                            { return "fake" }
func (f *fakeCarrier) HealthCheck(context.Context) error        { return f.fail }
func (f *fakeCarrier) AnswerCall(context.Context, string) error { return nil }
func (f *fakeCarrier) CreateCall(context.Context, telephony.CreateCallRequest) (telephony.CreateCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return telephony.CreateCallResult{}, f.fail
	}
	f.next++
	return telephony.CreateCallResult{CallControlID: fmt.Sprintf("out-%d", f.next)}, nil
}
func (f *fakeCarrier) Hangup(_ context.Context, ccid, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, ccid)
	return nil
}
func (f *fakeCarrier) StartRecording(context.Context, string) error           { return nil }
func (f *fakeCarrier) StopRecording(context.Context, string) error            { return nil }
func (f *fakeCarrier) StartMediaStream(context.Context, string, string) error { return nil }
func (f *fakeCarrier) SearchNumbers(context.Context, telephony.SearchNumbersRequest) ([]telephony.AvailableNumber, error) {
	return []telephony.AvailableNumber{{Number: "+13125550100", CountryCode: "US"}}, f.fail
}
func (f *fakeCarrier) OrderNumber(_ context.Context, req telephony.OrderNumberRequest) (telephony.OrderNumberResult, error) {
	return telephony.OrderNumberResult{Number: req.Number, CarrierNumberID: "pn-1"}, f.fail
}
func (f *fakeCarrier) ReleaseNumber(context.Context, telephony.ReleaseNumberRequest) error {
	return f.fail
}

type fixture struct {
	r       *gin.Engine
	m       *calls.Manager
	carrier *fakeCarrier
	audit   *audit.MemoryRepo
}

// asIdentity stands in for RequireAccessToken. X-Tenant overrides the
// default tenant for cross-tenant checks.
func asIdentity(tenantID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tid := tenantID
		if h := c.GetHeader("X-Tenant"); h != "" {
			tid = h
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u-1", tid, role))
		c.Next()
	}
}

func newFixture(t *testing.T, max int, tenantID, role string) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	carrier := &fakeCarrier{}
	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)
	callRepo := calls.NewMemoryRepo()
	m := calls.NewManager(calls.ManagerConfig{MaxConcurrent: max}, calls.ManagerDeps{Repo: callRepo, Carrier: carrier, Events: auditSvc})
	nums := numbers.NewService(numbers.NewMemoryRepo(), carrier, "default", nil)
	svc := voice.NewService(voice.Deps{Carrier: carrier, Calls: m, Numbers: nums, History: callRepo})

	authMgr, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	h := Handlers{Auth: authMgr, Voice: svc, Audit: auditSvc, Reports: reporting.NewService(callRepo)}

	r := gin.New()
	v1 := r.Group("/v1", asIdentity(tenantID, role))
	Register(v1, h)
	return fixture{r: r, m: m, carrier: carrier, audit: auditRepo}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	return f.doAs("", method, path, body)
}

func (f fixture) doAs(tenantID, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != "" {
		req.Header.Set("X-Tenant", tenantID)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func TestStartCallAndHangup(t *testing.T) {
	f := newFixture(t, 2, "t-1", rbac.RoleOperator)

	w := f.do(http.MethodPost, "/v1/calls", `{"to":"+15550001111","from":"+15559990000"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	var call calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &call); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if call.CallControlID != "out-1" || call.TenantID != "t-1" {
		t.Fatalf("unexpected call %+v", call)
	}

	w = f.do(http.MethodGet, "/v1/calls/active", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"active_total":1`) {
		t.Fatalf("unexpected active list %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/v1/calls/out-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = f.do(http.MethodDelete, "/v1/calls/out-1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", w.Code, w.Body.String())
	}
	if f.m.ActiveCount() != 0 {
		t.Fatalf("expected no active calls, got %d", f.m.ActiveCount())
	}

	w = f.do(http.MethodGet, "/v1/calls", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "out-1") {
		t.Fatalf("expected history to include out-1, got %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/v1/calls/out-1/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := len(f.audit.Events()); got != 2 {
		t.Fatalf("expected started and ended audit events, got %d", got)
	}
}

func TestStartCallErrors(t *testing.T) {
	f := newFixture(t, 1, "t-1", rbac.RoleOwner)

	if w := f.do(http.MethodPost, "/v1/calls", `{"to":"555","from":"+15559990000"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/calls", `{not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/calls", `{"to":"+15550001111","from":"+15559990000"}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/calls", `{"to":"+15550002222","from":"+15559990000"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 at capacity, got %d", w.Code)
	}

	f.m.ShutdownAll(context.Background())
	f.carrier.fail = fmt.Errorf("%w: boom", telephony.ErrUpstream)
	if w := f.do(http.MethodPost, "/v1/calls", `{"to":"+15550002222","from":"+15559990000"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestCallsAreTenantScoped(t *testing.T) {
	f := newFixture(t, 5, "t-1", rbac.RoleOwner)
	if w := f.do(http.MethodPost, "/v1/calls", `{"to":"+15550001111","from":"+15559990000"}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := f.doAs("t-2", http.MethodGet, "/v1/calls/out-1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a call outside the tenant, got %d", w.Code)
	}
	if w := f.doAs("t-2", http.MethodDelete, "/v1/calls/out-1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a hangup outside the tenant, got %d", w.Code)
	}
	if f.m.ActiveCount() != 1 {
		t.Fatalf("expected call to survive a foreign hangup")
	}
}

func TestViewerCannotOperate(t *testing.T) {
	f := newFixture(t, 2, "t-1", rbac.RoleViewer)
	if w := f.do(http.MethodPost, "/v1/calls", `{"to":"+15550001111","from":"+15559990000"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/numbers", `{"number":"+13125550100"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/calls", ""); w.Code != http.StatusOK {
		t.Fatalf("expected viewers to read history, got %d", w.Code)
	}
}

func TestNumbersLifecycle(t *testing.T) {
	f := newFixture(t, 2, "t-1", rbac.RoleOwner)

	w := f.do(http.MethodGet, "/v1/numbers/available?area_code=312", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "+13125550100") {
		t.Fatalf("unexpected search %d %s", w.Code, w.Body.String())
	}

	if w := f.do(http.MethodPost, "/v1/numbers", `{"number":"+13125550100"}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/v1/numbers", `{"number":"+13125550100"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/numbers", `{"number":"3125550100"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/v1/numbers", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "+13125550100") {
		t.Fatalf("unexpected list %d %s", w.Code, w.Body.String())
	}

	if w := f.do(http.MethodDelete, "/v1/numbers/+13125550100", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodDelete, "/v1/numbers/+13125550100", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestIssueTokenRequiresSuperAdmin(t *testing.T) {
	body := `{"user_id":"u-9","tenant_id":"t-9","role":"operator"}`

	f := newFixture(t, 1, "t-1", rbac.RoleOwner)
	if w := f.do(http.MethodPost, "/v1/auth/tokens", body); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	f = newFixture(t, 1, "platform", rbac.RoleSuperAdmin)
	if w := f.do(http.MethodPost, "/v1/auth/tokens", `{"user_id":"u-9","tenant_id":"t-9","role":"janitor"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/v1/auth/tokens", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("unexpected token pair %+v err=%v", pair, err)
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t, 1, "t-1", rbac.RoleViewer)
	w := f.do(http.MethodGet, "/v1/me", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tenant_id":"t-1"`) {
		t.Fatalf("unexpected me %d %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ok := Health{Checks: map[string]Checker{"db": func(context.Context) error { return nil }}}
	bad := Health{Checks: map[string]Checker{"carrier": func(context.Context) error { return errors.New("down") }}}
	r.GET("/healthz", ok.Live)
	r.GET("/readyz", ok.Ready)
	r.GET("/readyz-bad", bad.Ready)

	for path, want := range map[string]int{"/healthz": 200, "/readyz": 200, "/readyz-bad": 503} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, bytes.NewReader(nil)))
		if w.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestCallsReport(t *testing.T) {
	f := newFixture(t, 2, "t-1", rbac.RoleViewer)
	if _, err := f.m.InitiateOutboundCall(context.Background(), calls.OutboundCall{
		CallControlID: "cc-9",
		TenantID:      "t-1",
		From:          "+15559990000",
		To:            "+15550001111",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	w := f.do(http.MethodGet, "/v1/reports/calls", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var out reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TotalCalls != 1 || out.OutboundCalls != 1 || out.OpenCalls != 1 {
		t.Fatalf("unexpected summary %+v", out)
	}

	if w := f.do(http.MethodGet, "/v1/reports/calls?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/reports/calls?direction=sideways", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
