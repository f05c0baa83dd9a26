package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		if req.Email != "ana@example.com" || req.Password != "secret-password" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"message": "Invalid email or password", "reason": "unauthenticated", "details": nil})
			return
		}

		json.NewEncoder(w).Encode(LoginResponse{
			User:    User{ID: "user-1", Email: req.Email, DisplayName: "Ana"},
			Session: &Session{Token: "access-token", ExpiresAt: time.Now().Add(time.Hour)},
		})
	}))
	defer server.Close()

	c := New(server.URL + "/")

	resp, err := c.Login("ana@example.com", "secret-password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Session.Token != "access-token" {
		t.Errorf("expected access-token, got %q", resp.Session.Token)
	}
	if resp.User.DisplayName != "Ana" {
		t.Errorf("expected Ana, got %q", resp.User.DisplayName)
	}

	_, err = c.Login("ana@example.com", "wrong")
	if !IsReason(err, "unauthenticated") {
		t.Fatalf("expected unauthenticated API error, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Invalid email or password" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
}

func TestLoginWithoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": "user-1"}, "session": nil})
	}))
	defer server.Close()

	if _, err := New(server.URL).Login("ana@example.com", "secret-password"); err == nil {
		t.Fatal("expected error when no session is issued")
	}
}

func TestAuthenticatedRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("expected bearer token, got %q", got)
		}

		switch r.URL.Path {
		case "/api/offers":
			if r.URL.Query().Get("role") != "seller" || r.URL.Query().Get("status") != "pending" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode([]Offer{{ID: "offer-1", AmountCents: 9000, Status: "pending"}})
		case "/api/products":
			if r.URL.Query().Get("q") != "iphone" || r.URL.Query().Get("limit") != "5" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			if r.URL.Query().Has("category") {
				t.Error("empty filters must not be sent")
			}
			json.NewEncoder(w).Encode([]Product{{ID: "product-1", Title: "iPhone 12"}})
		case "/api/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := New(server.URL)
	c.SetToken("access-token")

	offers, err := c.ListOffers("seller", "pending")
	if err != nil {
		t.Fatalf("ListOffers failed: %v", err)
	}
	if len(offers) != 1 || offers[0].ID != "offer-1" {
		t.Errorf("unexpected offers: %+v", offers)
	}

	products, err := c.ListProducts(ProductFilter{Query: "iphone", Limit: 5})
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(products) != 1 || products[0].Title != "iPhone 12" {
		t.Errorf("unexpected products: %+v", products)
	}

	if err := c.Logout(); err != nil {
		t.Errorf("Logout failed: %v", err)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL).Me()
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "bad gateway" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}
