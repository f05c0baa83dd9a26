package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmart-dev/fixmart/internal/config"
	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/testutil"
)

const cookieName = "fixmart_session"

// fakeProvider maps bearer tokens to identities. A few tokens simulate
// provider failures. Claims updates are kept per user ID and applied on
// resolve, the way a provider-owned app_metadata behaves.
type fakeProvider struct {
	calls atomic.Int32

	mu     sync.Mutex
	claims map[string]identity.ClaimsUpdate
}

func (p *fakeProvider) UpdateClaims(ctx context.Context, userID string, update identity.ClaimsUpdate) error {
	if update.Verified != nil && !*update.Verified {
		return identity.ErrClaimsReadOnly
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claims == nil {
		p.claims = make(map[string]identity.ClaimsUpdate)
	}
	current := p.claims[userID]
	if update.Type != nil {
		current.Type = update.Type
	}
	if update.IsAdmin != nil {
		current.IsAdmin = update.IsAdmin
	}
	p.claims[userID] = current
	return nil
}

func (p *fakeProvider) applyClaims(ident *identity.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update, ok := p.claims[ident.ID]
	if !ok {
		return
	}
	if update.Type != nil {
		ident.Type = *update.Type
	}
	if update.IsAdmin != nil {
		ident.IsAdmin = *update.IsAdmin
	}
}

var testIdentities = map[string]*identity.Identity{
	"u1-token":    {ID: "U1", Email: "u1@example.com", Verified: true, Type: identity.TypeIndividual},
	"u2-token":    {ID: "U2", Email: "u2@example.com", Verified: true, Type: identity.TypeIndividual},
	"u3-token":    {ID: "U3", Email: "u3@example.com", Verified: true, Type: identity.TypeIndividual},
	"shop-token":  {ID: "S1", Email: "shop@example.com", Verified: true, Type: identity.TypeRepairShop},
	"admin-token": {ID: "A1", Email: "admin@example.com", Verified: true, Type: identity.TypeIndividual, IsAdmin: true},
}

func (p *fakeProvider) Resolve(ctx context.Context, credential string) (*identity.Identity, *identity.Session, error) {
	p.calls.Add(1)

	switch credential {
	case "down-token":
		return nil, nil, identity.ErrProviderUnavailable
	case "broken-token":
		return nil, nil, errors.New("connection reset by peer")
	case "slow-token":
		<-ctx.Done()
		return nil, nil, ctx.Err()
	case "panic-token":
		panic("provider exploded")
	}

	ident, ok := testIdentities[credential]
	if !ok {
		return nil, nil, nil
	}
	copied := *ident
	p.applyClaims(&copied)
	return &copied, &identity.Session{Token: credential, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type testServer struct {
	*Server
	provider *fakeProvider
	enqueuer *testutil.Enqueuer
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Identity: config.IdentityConfig{
			Timeout:    50 * time.Millisecond,
			CookieName: cookieName,
		},
		Storage: config.StorageConfig{
			MaxUploadBytes: 1 << 20,
		},
		Marketplace: config.MarketplaceConfig{
			OfferTTL:            72 * time.Hour,
			BookingReminderLead: 2 * time.Hour,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	provider := &fakeProvider{}
	enqueuer := &testutil.Enqueuer{}

	srv, err := NewWithDependencies(cfg, zerolog.Nop(), "test", Dependencies{
		DB:       testutil.NewDB(t),
		Identity: provider,
		Claims:   provider,
		Enqueuer: enqueuer,
	})
	require.NoError(t, err)

	return &testServer{Server: srv, provider: provider, enqueuer: enqueuer}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

// decode unmarshals a JSON response body into a fresh T
func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

// requireEnvelope asserts the error shape and returns its reason
func requireEnvelope(t *testing.T, w *httptest.ResponseRecorder, status int) string {
	t.Helper()

	require.Equal(t, status, w.Code, "body: %s", w.Body.String())

	fields := decode[map[string]json.RawMessage](t, w)
	require.Len(t, fields, 3, "body: %s", w.Body.String())
	require.Contains(t, fields, "message")
	require.Contains(t, fields, "reason")
	require.Contains(t, fields, "details")

	var message, reason string
	require.NoError(t, json.Unmarshal(fields["message"], &message))
	require.NoError(t, json.Unmarshal(fields["reason"], &reason))
	assert.NotEmpty(t, message)
	return reason
}

func (ts *testServer) createProduct(t *testing.T, token string) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/products", token, map[string]any{
		"title":       "Cracked iPhone 12",
		"price_cents": 12000,
		"condition":   "for_parts",
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	return decode[map[string]any](t, w)["id"].(string)
}

func TestGuardedRoutesRejectMissingCredential(t *testing.T) {
	ts := newTestServer(t, nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/products"},
		{http.MethodPatch, "/api/users/me"},
		{http.MethodPatch, "/api/products/missing"},
		{http.MethodGet, "/api/transactions"},
		{http.MethodGet, "/api/admin/users"},
		{http.MethodPost, "/api/conversations"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := ts.do(t, route.method, route.path, "", nil)
			assert.Equal(t, "unauthenticated", requireEnvelope(t, w, http.StatusUnauthorized))
		})
	}

	assert.Zero(t, ts.provider.calls.Load(), "provider must not be called without a credential")
}

func TestUnknownCredentialIsUnauthenticated(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/auth/me", "forged-token", nil)
	assert.Equal(t, "unauthenticated", requireEnvelope(t, w, http.StatusUnauthorized))

	// Public routes still work for an invalid credential
	w = ts.do(t, http.MethodGet, "/api/products", "forged-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNonBearerAuthorizationHeaderCarriesNoCredential(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Basic dTE6cGFzc3dvcmQ=")
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "u1-token"})
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	assert.Equal(t, "unauthenticated", requireEnvelope(t, w, http.StatusUnauthorized))
	assert.Zero(t, ts.provider.calls.Load())
}

func TestIdentityResolvedOncePerRequest(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/auth/me", "u1-token", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	me := decode[MeResponse](t, w)
	require.NotNil(t, me.Identity)
	require.NotNil(t, me.User)
	assert.Equal(t, "U1", me.Identity.ID)
	assert.Equal(t, "U1", me.User.ID)
	assert.Equal(t, int32(1), ts.provider.calls.Load())
}

func TestCredentialSources(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("lowercase bearer scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "bearer u2-token")
		w := httptest.NewRecorder()
		ts.Handler().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "U2", decode[MeResponse](t, w).Identity.ID)
	})

	t.Run("session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "u3-token"})
		w := httptest.NewRecorder()
		ts.Handler().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "U3", decode[MeResponse](t, w).Identity.ID)
	})
}

func TestProviderFailureIsNeverUnauthenticated(t *testing.T) {
	tests := []struct {
		name  string
		token string
		path  string
	}{
		{"unavailable on guarded route", "down-token", "/api/auth/me"},
		{"unavailable on public route", "down-token", "/api/products"},
		{"transport error", "broken-token", "/api/auth/me"},
		{"timeout", "slow-token", "/api/auth/me"},
		{"timeout on public route", "slow-token", "/api/shops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)

			start := time.Now()
			w := ts.do(t, http.MethodGet, tt.path, tt.token, nil)

			assert.Equal(t, "provider_unavailable", requireEnvelope(t, w, http.StatusServiceUnavailable))
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, int32(1), ts.provider.calls.Load(), "provider calls must not be retried")
		})
	}
}

func TestProductOwnership(t *testing.T) {
	ts := newTestServer(t, nil)
	productID := ts.createProduct(t, "u2-token")
	path := "/api/products/" + productID

	// U1 is not the owner of U2's listing
	w := ts.do(t, http.MethodPatch, path, "u1-token", map[string]any{"title": "Stolen listing"})
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodDelete, path, "u1-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	// The owner may update
	w = ts.do(t, http.MethodPatch, path, "u2-token", map[string]any{"title": "Cracked iPhone 12 Pro"})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, "Cracked iPhone 12 Pro", decode[map[string]any](t, w)["title"])

	// Admins are not restricted by ownership here
	w = ts.do(t, http.MethodPatch, path, "admin-token", map[string]any{"status": "archived"})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, "archived", decode[map[string]any](t, w)["status"])
}

func TestMissingResourceIsNotFoundBeforeOwnership(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPatch, "/api/products/01HZZZZZZZZZZZZZZZZZZZZZZZ", "u1-token", map[string]any{"title": "Anything"})
	assert.Equal(t, "not_found", requireEnvelope(t, w, http.StatusNotFound))
}

func TestRoleAndAdminRules(t *testing.T) {
	ts := newTestServer(t, nil)

	shop := map[string]any{
		"name":    "Fix It Fast",
		"address": "1 Main St",
		"city":    "Springfield",
	}

	w := ts.do(t, http.MethodPost, "/api/shops", "u1-token", shop)
	assert.Equal(t, "forbidden_role", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodPost, "/api/shops", "shop-token", shop)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/admin/stats", "u1-token", nil)
	assert.Equal(t, "forbidden_role", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodGet, "/api/admin/stats", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	stats := decode[SystemStatsResponse](t, w)
	assert.Equal(t, "test", stats.Version)
	assert.Equal(t, int64(1), stats.Marketplace.Shops)
	// u1, shop and admin profiles are synced by the requests above
	assert.Equal(t, int64(3), stats.Marketplace.Users)
}

func TestValidationErrorsCarryFieldDetails(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/products", "u1-token", map[string]any{
		"price_cents": -5,
		"condition":   "broken",
	})
	assert.Equal(t, "validation_failed", requireEnvelope(t, w, http.StatusBadRequest))

	body := decode[struct {
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	}](t, w)

	fields := make([]string, 0, len(body.Details))
	for _, detail := range body.Details {
		fields = append(fields, detail.Field)
		assert.NotEmpty(t, detail.Message)
	}
	assert.ElementsMatch(t, []string{"title", "price_cents", "condition"}, fields)
}

func TestMalformedJSONIsValidationFailure(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer u1-token")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	assert.Equal(t, "validation_failed", requireEnvelope(t, w, http.StatusBadRequest))
}

func TestEveryErrorUsesTheEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		reason string
	}{
		{"unauthenticated", http.MethodGet, "/api/auth/me", "", http.StatusUnauthorized, "unauthenticated"},
		{"forbidden role", http.MethodGet, "/api/admin/users", "u1-token", http.StatusForbidden, "forbidden_role"},
		{"unknown route", http.MethodGet, "/api/nowhere", "", http.StatusNotFound, "not_found"},
		{"provider unavailable", http.MethodGet, "/api/auth/me", "down-token", http.StatusServiceUnavailable, "provider_unavailable"},
		{"panic", http.MethodGet, "/api/auth/me", "panic-token", http.StatusInternalServerError, "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.reason, requireEnvelope(t, w, tt.status))
		})
	}

	t.Run("panic details are suppressed", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/auth/me", "panic-token", nil)
		assert.NotContains(t, w.Body.String(), "provider exploded")
		assert.Contains(t, w.Body.String(), `"details":null`)
	})
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))

	w = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Len(t, w.Header().Get(requestIDHeader), 36)
}

func TestAccountEndpointsWithoutAuthenticator(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "u1@example.com",
		"password": "password123",
	})
	assert.Equal(t, "invalid_state", requireEnvelope(t, w, http.StatusConflict))

	w = ts.do(t, http.MethodPost, "/api/auth/logout", "u1-token", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestOfferFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	productID := ts.createProduct(t, "u2-token")

	w := ts.do(t, http.MethodPost, "/api/products/"+productID+"/offers", "u1-token", map[string]any{
		"amount_cents": 10000,
		"message":      "Would you take 100?",
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	offerID := decode[map[string]any](t, w)["id"].(string)

	// Only the seller may accept, and admins cannot act as the seller
	w = ts.do(t, http.MethodPost, "/api/offers/"+offerID+"/accept", "u1-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodPost, "/api/offers/"+offerID+"/accept", "admin-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodPost, "/api/offers/"+offerID+"/accept", "u2-token", nil)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	txn := decode[map[string]any](t, w)
	txnID := txn["id"].(string)
	assert.Equal(t, "U1", txn["buyer_id"])
	assert.Equal(t, "U2", txn["seller_id"])

	// Parties and admins can see the transaction, strangers cannot
	w = ts.do(t, http.MethodGet, "/api/transactions/"+txnID, "u3-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	for _, token := range []string{"u1-token", "u2-token", "admin-token"} {
		w = ts.do(t, http.MethodGet, "/api/transactions/"+txnID, token, nil)
		assert.Equal(t, http.StatusOK, w.Code, token)
	}

	// The seller cannot confirm receipt on the buyer's behalf
	w = ts.do(t, http.MethodPost, "/api/transactions/"+txnID+"/complete", "u2-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodPost, "/api/transactions/"+txnID+"/complete", "u1-token", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, "completed", decode[map[string]any](t, w)["status"])

	// Refunds are requested by the buyer and resolved by the seller
	w = ts.do(t, http.MethodPost, "/api/transactions/"+txnID+"/refunds", "u1-token", map[string]any{
		"amount_cents": 5000,
		"reason":       "Screen was worse than described",
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	refundID := decode[map[string]any](t, w)["id"].(string)

	w = ts.do(t, http.MethodPost, "/api/refunds/"+refundID+"/approve", "u1-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodPost, "/api/refunds/"+refundID+"/approve", "u2-token", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, "approved", decode[map[string]any](t, w)["status"])
}

func TestMessagingFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	// Make sure U2 has a profile
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/auth/me", "u2-token", nil).Code)

	w := ts.do(t, http.MethodPost, "/api/conversations", "u1-token", map[string]any{"recipient_id": "U2"})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	conversationID := decode[map[string]any](t, w)["id"].(string)

	w = ts.do(t, http.MethodPost, "/api/conversations/"+conversationID+"/messages", "u1-token", map[string]any{"body": "Is it still available?"})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, []string{"message:notify"}, ts.enqueuer.Types())

	// Outsiders cannot read or post, even admins cannot post
	w = ts.do(t, http.MethodGet, "/api/conversations/"+conversationID+"/messages", "u3-token", nil)
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodPost, "/api/conversations/"+conversationID+"/messages", "admin-token", map[string]any{"body": "Hello"})
	assert.Equal(t, "not_owner", requireEnvelope(t, w, http.StatusForbidden))

	w = ts.do(t, http.MethodGet, "/api/conversations/"+conversationID+"/messages", "u2-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = ts.do(t, http.MethodPost, "/api/conversations/"+conversationID+"/read", "u2-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["marked"])
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "test", body["version"])
}

func TestNewWithDependenciesRequiresCollaborators(t *testing.T) {
	_, err := NewWithDependencies(testConfig(), zerolog.Nop(), "test", Dependencies{})
	assert.Error(t, err)
}

func TestDataDir(t *testing.T) {
	tests := []struct {
		driver string
		url    string
		want   string
	}{
		{config.DriverSQLite, "/var/lib/fixmart/fixmart.sqlite", "/var/lib/fixmart"},
		{config.DriverSQLite, "file:/data/app.db?_pragma=busy_timeout(5000)", "/data"},
		{config.DriverSQLite, "fixmart.sqlite", "."},
		{config.DriverSQLite, "file::memory:", "."},
		{config.DriverPostgres, "postgres://fixmart@db/fixmart", "."},
	}

	for _, tt := range tests {
		cfg := testConfig()
		cfg.Database = config.DatabaseConfig{Driver: tt.driver, URL: tt.url}
		s := &Server{config: cfg}
		assert.Equal(t, tt.want, s.dataDir(), tt.url)
	}
}
