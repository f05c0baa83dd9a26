package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client represents an HTTP client for the FixMart API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError is an error envelope returned by the API
type APIError struct {
	StatusCode int
	Message    string          `json:"message"`
	Reason     string          `json:"reason"`
	Details    json.RawMessage `json:"details"`
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Reason, e.StatusCode)
}

// IsReason reports whether err is an API error with the given reason
func IsReason(err error, reason string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == reason
}

// User is a marketplace profile
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	UserType    string `json:"user_type"`
	Verified    bool   `json:"verified"`
	IsAdmin     bool   `json:"is_admin"`
}

// Session is the access token issued at login
type Session struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	User    User     `json:"user"`
	Session *Session `json:"session"`
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	User User `json:"user"`
}

// Product is a marketplace listing
type Product struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
	Condition  string    `json:"condition"`
	Category   string    `json:"category"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProductFilter narrows a product listing
type ProductFilter struct {
	Category string
	Query    string
	Status   string
	Limit    int
}

// Offer is a price proposal on a product
type Offer struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Stats is the admin marketplace summary
type Stats struct {
	Version     string           `json:"version"`
	Uptime      string           `json:"uptime"`
	Goroutines  int              `json:"goroutines"`
	Marketplace map[string]int64 `json:"marketplace"`
}

// Login authenticates the user and returns the session
func (c *Client) Login(email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(http.MethodPost, "/api/auth/login", nil, LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil || resp.Session.Token == "" {
		return nil, fmt.Errorf("login succeeded but no session was issued; confirm your email address first")
	}
	return &resp, nil
}

// Logout ends the current session with the identity provider
func (c *Client) Logout() error {
	return c.do(http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

// Me returns the authenticated caller
func (c *Client) Me() (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(http.MethodGet, "/api/auth/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProducts returns listings matching filter
func (c *Client) ListProducts(filter ProductFilter) ([]Product, error) {
	query := url.Values{}
	setIf(query, "category", filter.Category)
	setIf(query, "q", filter.Query)
	setIf(query, "status", filter.Status)
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var products []Product
	if err := c.do(http.MethodGet, "/api/products", query, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// ListOffers returns the caller's offers, as buyer, seller or both
func (c *Client) ListOffers(role, status string) ([]Offer, error) {
	query := url.Values{}
	setIf(query, "role", role)
	setIf(query, "status", status)

	var offers []Offer
	if err := c.do(http.MethodGet, "/api/offers", query, nil, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

// Stats returns the admin marketplace summary
func (c *Client) Stats() (*Stats, error) {
	var stats Stats
	if err := c.do(http.MethodGet, "/api/admin/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) do(method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

func setIf(query url.Values, key, value string) {
	if value != "" {
		query.Set(key, value)
	}
}
