package commands

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fixmart-dev/fixmart/internal/cli/client"
)

// mockTokenStore is a simple in-memory token store for testing
type mockTokenStore struct {
	tokens map[string]string
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]string)}
}

func (m *mockTokenStore) SaveToken(apiURL, token string) error {
	m.tokens[apiURL] = token
	return nil
}

func (m *mockTokenStore) LoadToken(apiURL string) (string, error) {
	token, exists := m.tokens[apiURL]
	if !exists {
		return "", fmt.Errorf("not authenticated. Please run 'fixmart login' first")
	}
	return token, nil
}

func (m *mockTokenStore) DeleteToken(apiURL string) error {
	delete(m.tokens, apiURL)
	return nil
}

// mockAPIClient simulates the API client for testing
type mockAPIClient struct {
	email    string
	password string
	admin    bool
	calls    int
}

func (m *mockAPIClient) Login(email, password string) (*client.LoginResponse, error) {
	m.calls++
	if email != m.email || password != m.password {
		return nil, &client.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid email or password", Reason: "unauthenticated"}
	}
	return &client.LoginResponse{
		User:    client.User{ID: "user-1", Email: email, DisplayName: "Ana", UserType: "individual", IsAdmin: m.admin},
		Session: &client.Session{Token: "access-token", ExpiresAt: time.Now().Add(time.Hour)},
	}, nil
}

type scriptedPrompter struct {
	email    string
	password string
	asked    []string
}

func (p *scriptedPrompter) Email() (string, error) {
	p.asked = append(p.asked, "email")
	return p.email, nil
}

func (p *scriptedPrompter) Password() (string, error) {
	p.asked = append(p.asked, "password")
	return p.password, nil
}

func newTestOptions(apiURL string) (*Options, *mockTokenStore, *bytes.Buffer) {
	store := newMockTokenStore()
	out := &bytes.Buffer{}
	return &Options{APIURL: apiURL, Store: store, Out: out}, store, out
}

func TestLoginWithFlags(t *testing.T) {
	opts, store, out := newTestOptions("https://api.fixmart.test")
	api := &mockAPIClient{email: "ana@example.com", password: "secret-password", admin: true}

	if err := runLogin(opts, api, nil, "ana@example.com", "secret-password"); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}

	if store.tokens["https://api.fixmart.test"] != "access-token" {
		t.Errorf("token was not stored: %v", store.tokens)
	}
	if !strings.Contains(out.String(), "Login successful") || !strings.Contains(out.String(), "Role: Admin") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestLoginPromptsForMissingCredentials(t *testing.T) {
	t.Setenv("FIXMART_EMAIL", "")
	t.Setenv("FIXMART_PASSWORD", "")

	opts, store, _ := newTestOptions("https://api.fixmart.test")
	api := &mockAPIClient{email: "ana@example.com", password: "secret-password"}
	prompt := &scriptedPrompter{email: "ana@example.com", password: "secret-password"}

	if err := runLogin(opts, api, prompt, "", ""); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
	if strings.Join(prompt.asked, ",") != "email,password" {
		t.Errorf("expected email and password prompts, got %v", prompt.asked)
	}
	if _, ok := store.tokens["https://api.fixmart.test"]; !ok {
		t.Error("token was not stored")
	}
}

func TestLoginUsesEnvironment(t *testing.T) {
	t.Setenv("FIXMART_EMAIL", "ana@example.com")
	t.Setenv("FIXMART_PASSWORD", "secret-password")

	opts, _, _ := newTestOptions("https://api.fixmart.test")
	api := &mockAPIClient{email: "ana@example.com", password: "secret-password"}

	if err := runLogin(opts, api, nil, "", ""); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
}

func TestLoginNonInteractiveRequiresCredentials(t *testing.T) {
	t.Setenv("FIXMART_EMAIL", "")
	t.Setenv("FIXMART_PASSWORD", "")

	opts, _, _ := newTestOptions("https://api.fixmart.test")
	api := &mockAPIClient{}

	err := runLogin(opts, api, nil, "ana@example.com", "")
	if err == nil || !strings.Contains(err.Error(), "non-interactive") {
		t.Fatalf("expected non-interactive error, got %v", err)
	}
	if api.calls != 0 {
		t.Error("API must not be called without credentials")
	}
}

func TestLoginFailureKeepsStoreEmpty(t *testing.T) {
	opts, store, _ := newTestOptions("https://api.fixmart.test")
	api := &mockAPIClient{email: "ana@example.com", password: "secret-password"}

	err := runLogin(opts, api, nil, "ana@example.com", "wrong")
	if !client.IsReason(err, "unauthenticated") {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if len(store.tokens) != 0 {
		t.Errorf("no token should be stored: %v", store.tokens)
	}
}

type stubLister struct {
	products []client.Product
	offers   []client.Offer
	err      error
}

func (s *stubLister) ListProducts(client.ProductFilter) ([]client.Product, error) {
	return s.products, s.err
}

func (s *stubLister) ListOffers(role, status string) ([]client.Offer, error) {
	return s.offers, s.err
}

func TestProductsTable(t *testing.T) {
	opts, _, out := newTestOptions("https://api.fixmart.test")

	lister := &stubLister{products: []client.Product{
		{ID: "p1", Title: "Pixel 7", PriceCents: 25050, Currency: "EUR", Condition: "good", Status: "active"},
	}}
	if err := runProducts(opts, lister, client.ProductFilter{}); err != nil {
		t.Fatalf("runProducts failed: %v", err)
	}

	for _, want := range []string{"TITLE", "Pixel 7", "250.50 EUR", "good"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := runProducts(opts, &stubLister{}, client.ProductFilter{}); err != nil {
		t.Fatalf("runProducts failed: %v", err)
	}
	if !strings.Contains(out.String(), "No listings found.") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestOffersExplainsExpiredSession(t *testing.T) {
	opts, _, _ := newTestOptions("https://api.fixmart.test")

	lister := &stubLister{err: &client.APIError{StatusCode: http.StatusUnauthorized, Message: "Authentication required", Reason: "unauthenticated"}}
	err := runOffers(opts, lister, "", "")
	if err == nil || !strings.Contains(err.Error(), "fixmart login") {
		t.Fatalf("expected login hint, got %v", err)
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Error("expected wrapped API error")
	}
}

func TestWhoAmIAndLogout(t *testing.T) {
	var loggedOut bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/me":
			fmt.Fprint(w, `{"user":{"id":"user-1","email":"ana@example.com","display_name":"Ana","user_type":"repair_shop","verified":true}}`)
		case "/api/auth/logout":
			loggedOut = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	opts, store, out := newTestOptions(server.URL)

	// Not logged in yet
	if err := runWhoAmI(opts); err == nil {
		t.Fatal("expected error without a stored token")
	}

	store.tokens[server.URL] = "access-token"
	if err := runWhoAmI(opts); err != nil {
		t.Fatalf("runWhoAmI failed: %v", err)
	}
	if !strings.Contains(out.String(), "repair_shop") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	if err := runLogout(opts); err != nil {
		t.Fatalf("runLogout failed: %v", err)
	}
	if !loggedOut {
		t.Error("expected server-side logout")
	}
	if len(store.tokens) != 0 {
		t.Error("expected token to be removed")
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents    int64
		currency string
		want     string
	}{
		{0, "", "0.00 USD"},
		{5, "EUR", "0.05 EUR"},
		{123456, "USD", "1234.56 USD"},
		{-250, "USD", "-2.50 USD"},
	}
	for _, tt := range tests {
		if got := formatCents(tt.cents, tt.currency); got != tt.want {
			t.Errorf("formatCents(%d, %q) = %q, want %q", tt.cents, tt.currency, got, tt.want)
		}
	}
}
