package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/config"
	"github.com/aegisx/aegisx/internal/license"
	"github.com/aegisx/aegisx/internal/model"
	"github.com/aegisx/aegisx/internal/server/middleware"
	"github.com/aegisx/aegisx/internal/service"
)

const testJWTSecret = "test-secret-for-handler-tests"

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *config.Store
	authSvc *service.AuthService
	license *license.MemoryProvider
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// memory license provider and a Chi router with routes mounted (no auth
// middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore(config.StoreOptions{})
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authSvc := service.NewAuthService(store, apikey.NewHasher(bcrypt.MinCost, 2), testJWTSecret)
	t.Cleanup(authSvc.Wait)

	mem := license.NewMemoryProvider("")
	validator := license.NewValidator(license.Chain{mem}, license.WithGrants(store))

	keys := NewKeyHandler(store, authSvc)
	lic := NewLicenseHandler(validator)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/license", lic.GetLicense)
		r.Get("/license/features/{feature}", lic.CheckFeature)

		r.Get("/whoami", WhoAmI)
		r.Get("/authorize", Authorize)

		r.Get("/system/api-key", keys.ListAPIKeys)
		r.Post("/system/api-key", keys.CreateAPIKey)
		r.Delete("/system/api-key/{prefix}", keys.RevokeAPIKey)
	})

	return &testEnv{store: store, authSvc: authSvc, license: mem, router: r}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// doAs is do with principal attached, as Authenticate would.
func (e *testEnv) doAs(t *testing.T, p *middleware.Principal, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.AuthPrincipalKey, p))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, map[string]any{
		"label":  "ci",
		"scopes": []map[string]any{{"resource": "users", "actions": []string{"read"}}},
		"ttl":    "720h",
	}))
	assertStatus(t, rr, http.StatusCreated)

	var resp createKeyResponse
	decodeJSON(t, rr, &resp)
	if res := apikey.ValidateFormat(resp.Key); !res.Valid || res.Prefix != resp.KeyPrefix {
		t.Fatalf("returned key %q is not well formed for prefix %q", resp.Key, resp.KeyPrefix)
	}
	if resp.ExpiresAt == nil {
		t.Error("expected expires_at for a key with ttl")
	}
	if resp.Preview != apikey.Preview(resp.Key) {
		t.Errorf("preview = %q", resp.Preview)
	}

	p, err := env.authSvc.VerifyAPIKey(context.Background(), resp.Key)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if !apikey.Authorize(p.Scopes, "users", "read") {
		t.Error("issued key should be allowed users:read")
	}
}

func TestCreateAPIKeyLegacyScopes(t *testing.T) {
	env := newTestEnv(t)

	body := strings.NewReader(`{"label":"legacy","scopes":{"orders":["read","write"]}}`)
	rr := env.do(t, "POST", "/api/v1/system/api-key", body)
	assertStatus(t, rr, http.StatusCreated)

	var resp createKeyResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Scopes) != 1 || resp.Scopes[0].Resource != "orders" || len(resp.Scopes[0].Actions) != 2 {
		t.Errorf("scopes = %+v, want orders:read,write", resp.Scopes)
	}
}

func TestCreateAPIKeyRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"label":`},
		{"bad ttl", `{"label":"x","ttl":"soon"}`},
		{"negative ttl", `{"label":"x","ttl":"-1h"}`},
		{"scope without actions", `{"label":"x","scopes":[{"resource":"users","actions":[]}]}`},
		{"scopes wrong shape", `{"label":"x","scopes":"users:read"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/api-key", strings.NewReader(tt.body))
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestListAPIKeysHidesHash(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, map[string]any{"label": "one"}))
	env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, map[string]any{"label": "two"}))

	rr := env.do(t, "GET", "/api/v1/system/api-key", nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	if strings.Contains(body, "key_hash") || strings.Contains(body, "$2a$") {
		t.Fatalf("listing leaked a hash: %s", body)
	}

	var resp struct {
		Resource []apiKeyView      `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Meta.Count != 2 || len(resp.Resource) != 2 {
		t.Fatalf("count = %d, len = %d, want 2", resp.Meta.Count, len(resp.Resource))
	}
	for _, k := range resp.Resource {
		if k.Status != "active" {
			t.Errorf("key %s status = %q, want active", k.KeyPrefix, k.Status)
		}
	}
}

func TestRevokeAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, map[string]any{"label": "tmp"}))
	assertStatus(t, rr, http.StatusCreated)
	var created createKeyResponse
	decodeJSON(t, rr, &created)

	rr = env.do(t, "DELETE", "/api/v1/system/api-key/"+created.KeyPrefix, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "DELETE", "/api/v1/system/api-key/"+created.KeyPrefix, nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "GET", "/api/v1/system/api-key?active=true", nil)
	var resp struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 0 {
		t.Errorf("active count = %d, want 0 after revoke", resp.Meta.Count)
	}

	if _, err := env.authSvc.VerifyAPIKey(context.Background(), created.Key); err == nil {
		t.Error("revoked key still verifies")
	}
}

// ---------------------------------------------------------------------------
// License
// ---------------------------------------------------------------------------

func TestGetLicenseAbsent(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/license", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["status"] != "absent" || resp["reason"] != "absent" {
		t.Errorf("body = %v, want status and reason absent", resp)
	}
	if resp["remediation"] == "" || resp["remediation"] == nil {
		t.Error("expected remediation for a missing license")
	}
}

func TestGetLicenseValid(t *testing.T) {
	env := newTestEnv(t)
	env.license.Save(context.Background(), license.BuildKey(license.TierTeam, "ABCDEF12"))

	rr := env.do(t, "GET", "/api/v1/license", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Status      string               `json:"status"`
		Key         string               `json:"key"`
		Entitlement *license.Entitlement `json:"entitlement"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "valid" || resp.Entitlement == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Entitlement.DeveloperSeats != 10 || resp.Entitlement.ExpiresAt != nil {
		t.Errorf("entitlement = %+v", resp.Entitlement)
	}
	if strings.Contains(resp.Key, "ABCDEF12") {
		t.Errorf("license key not masked: %s", resp.Key)
	}
}

func TestCheckFeature(t *testing.T) {
	env := newTestEnv(t)
	env.license.Save(context.Background(), license.BuildKey(license.TierPro, "TEST1234"))

	rr := env.do(t, "GET", "/api/v1/license/features/"+license.FeatureGenerateBulk, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", "/api/v1/license/features/"+license.FeatureSSO, nil)
	assertStatus(t, rr, http.StatusForbidden)
	var resp featureResponse
	decodeJSON(t, rr, &resp)
	if resp.Allowed || resp.Reason != "feature_not_included" || resp.Remediation == "" {
		t.Errorf("unexpected denial %+v", resp)
	}
}

func TestCheckFeatureWithoutLicense(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/license/features/"+license.FeatureGenerateCRUD, nil)
	assertStatus(t, rr, http.StatusForbidden)
	var resp featureResponse
	decodeJSON(t, rr, &resp)
	if resp.Reason != "absent" {
		t.Errorf("reason = %q, want absent", resp.Reason)
	}
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAs(t, &middleware.Principal{Type: "api_key", KeyPrefix: "0123abcd", Label: "ci"}, "/api/v1/whoami")
	assertStatus(t, rr, http.StatusOK)
	var resp whoamiResponse
	decodeJSON(t, rr, &resp)
	if resp.KeyPrefix != "0123abcd" || resp.Admin {
		t.Errorf("unexpected whoami %+v", resp)
	}

	rr = env.do(t, "GET", "/api/v1/whoami", nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAuthorizeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	p := &middleware.Principal{
		Type:   "api_key",
		Scopes: []apikey.Scope{{Resource: "users", Actions: []string{"read"}}, {Resource: "*", Actions: []string{"list"}}},
	}

	tests := []struct {
		query string
		want  int
	}{
		{"resource=users&action=read", http.StatusOK},
		{"resource=orders&action=list", http.StatusOK},
		{"resource=users&action=delete", http.StatusForbidden},
		{"resource=users", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rr := env.doAs(t, p, "/api/v1/authorize?"+tt.query)
		if rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.query, rr.Code, tt.want)
		}
	}
}

func TestExpiredKeyStatus(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-time.Hour)
	rec := &model.APIKey{KeyHash: "x", KeyPrefix: "deadbeef", Preview: "****0000", ExpiresAt: &past}
	if err := env.store.CreateAPIKey(context.Background(), rec); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	rr := env.do(t, "GET", "/api/v1/system/api-key", nil)
	var resp struct {
		Resource []apiKeyView `json:"resource"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 1 || resp.Resource[0].Status != "expired" {
		t.Errorf("resource = %+v, want one expired key", resp.Resource)
	}
}
