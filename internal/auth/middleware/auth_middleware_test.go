package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/apikey"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/models"
	"github.com/jslitzker/forgeboard/internal/auth/ratelimit"
	"github.com/jslitzker/forgeboard/internal/auth/session"
	"github.com/jslitzker/forgeboard/internal/auth/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	gateway  *Gateway
	db       *database.SQLiteDB
	sessions *session.Manager
	apiKeys  *apikey.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	sessions := session.NewManager(db, token.NewCodec(testSecret), session.DefaultConfig(), logger)
	apiKeys := apikey.NewManager(db, apikey.DefaultConfig(), logger)
	return &testEnv{
		gateway:  NewGateway(sessions, apiKeys, ratelimit.NewLimiter(), logger),
		db:       db,
		sessions: sessions,
		apiKeys:  apiKeys,
	}
}

func (e *testEnv) newUser(t *testing.T, email string, admin bool) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		DisplayName:  "Test User",
		AuthProvider: models.ProviderLocal,
		PasswordHash: "$2a$10$fakehash",
		IsActive:     true,
		IsAdmin:      admin,
	}
	if err := e.db.CreateUser(user); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return user
}

// echoIdentity writes the authenticated method, for asserting which
// credential won.
func echoIdentity(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Error("no identity in context")
			return
		}
		w.Write([]byte(id.Method()))
	})
}

func TestRequireAuthWithBearer(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "bearer@example.com", false)
	pair, err := env.sessions.Create(user, "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	env.gateway.RequireAuth(echoIdentity(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != string(autherr.MethodSession) {
		t.Errorf("method = %q", rec.Body.String())
	}
}

func TestRequireAuthWithAPIKey(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "key@example.com", false)
	_, raw, err := env.apiKeys.Create(user.ID, "test", nil, 0)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	// All three carriers resolve the same key.
	carriers := []func(r *http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Api-Key "+raw) },
		func(r *http.Request) { r.Header.Set("X-API-Key", raw) },
		func(r *http.Request) { r.URL.RawQuery = "api_key=" + raw },
	}
	for i, carry := range carriers {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		carry(req)
		rec := httptest.NewRecorder()
		env.gateway.RequireAuth(echoIdentity(t)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("carrier %d: status = %d", i, rec.Code)
		}
		if rec.Body.String() != string(autherr.MethodAPIKey) {
			t.Errorf("carrier %d: method = %q", i, rec.Body.String())
		}
	}
}

func TestBearerWinsOverAPIKey(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "both@example.com", false)
	pair, err := env.sessions.Create(user, "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, raw, err := env.apiKeys.Create(user.ID, "test", nil, 0)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set("X-API-Key", raw)
	rec := httptest.NewRecorder()
	env.gateway.RequireAuth(echoIdentity(t)).ServeHTTP(rec, req)

	if rec.Body.String() != string(autherr.MethodSession) {
		t.Errorf("method = %q, want session", rec.Body.String())
	}

	// A bad bearer fails outright even with a valid key alongside.
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	req.Header.Set("X-API-Key", raw)
	rec = httptest.NewRecorder()
	env.gateway.RequireAuth(echoIdentity(t)).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsMissingCredentials(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()

	called := false
	env.gateway.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	if called {
		t.Error("handler reached without credentials")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["error"] != string(autherr.KindTokenInvalid) {
		t.Errorf("error = %v", body["error"])
	}
}

func TestOptionalAuth(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "opt@example.com", false)
	pair, err := env.sessions.Create(user, "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var sawIdentity bool
	handler := env.gateway.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawIdentity = IdentityFromContext(r.Context())
	}))

	// Anonymous requests pass through without identity.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || sawIdentity {
		t.Errorf("anonymous: status=%d identity=%v", rec.Code, sawIdentity)
	}

	// Authenticated requests carry one.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !sawIdentity {
		t.Error("identity missing for authenticated request")
	}
}

func TestRequirePermissionScopesAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	admin := env.newUser(t, "admin@example.com", true)

	// The admin's key is deliberately scoped down to read-only.
	_, raw, err := env.apiKeys.Create(admin.ID, "readonly", []string{"read"}, 0)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	pair, err := env.sessions.Create(admin, "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	handler := env.gateway.RequirePermission("write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// The session carries the owner's full derived set.
	req := httptest.NewRequest(http.MethodPost, "/write", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("session: status = %d", rec.Code)
	}

	// The scoped-down key does not, despite the owner being an admin.
	req = httptest.NewRequest(http.MethodPost, "/write", nil)
	req.Header.Set("X-API-Key", raw)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("scoped key: status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["error"] != string(autherr.KindPermissionDenied) {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.newUser(t, "root@example.com", true)
	plain := env.newUser(t, "plain@example.com", false)

	adminPair, err := env.sessions.Create(admin, "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	plainPair, err := env.sessions.Create(plain, "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	handler := env.gateway.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminPair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("admin: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+plainPair.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["error"] != string(autherr.KindPermissionDenied) {
		t.Errorf("non-admin error = %v", body["error"])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d", rec.Code)
	}
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	env := newTestEnv(t)

	handler := env.gateway.RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var rec *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "192.0.2.50:1234"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("limit header = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining header = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "192.0.2.50:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// A different client is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "198.51.100.9:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("other client: status = %d", rec.Code)
	}
}
