package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const maxProviderResponseBytes = 1 << 20

// SupabaseClient talks to Supabase Auth (GoTrue) over its REST API. It is
// safe for concurrent use and holds no per-request state.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewSupabaseClient creates a client for the project at baseURL. Every call is
// bounded by timeout.
func NewSupabaseClient(baseURL, anonKey string, timeout time.Duration, logger zerolog.Logger) *SupabaseClient {
	return &SupabaseClient{
		baseURL:    fmt.Sprintf("%s/auth/v1", strings.TrimRight(baseURL, "/")),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger.With().Str("component", "supabase_auth").Logger(),
	}
}

// WithServiceRoleKey enables the admin API used by UpdateClaims
func (c *SupabaseClient) WithServiceRoleKey(key string) *SupabaseClient {
	c.serviceKey = key
	return c
}

type supabaseUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type supabaseSession struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   int64         `json:"expires_at"`
	ExpiresIn   int64         `json:"expires_in"`
	User        *supabaseUser `json:"user"`
}

type supabaseError struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e supabaseError) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Error, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

// Resolve validates the access token with GET /auth/v1/user
func (c *SupabaseClient) Resolve(ctx context.Context, credential string) (*Identity, *Session, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, nil, nil
	}

	resp, body, err := c.do(ctx, http.MethodGet, "/user", credential, nil)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, fmt.Errorf("%w: resolve returned %s", ErrProviderUnavailable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		// Remaining 4xx: the provider rejected the token
		c.logger.Debug().Int("status", resp.StatusCode).Msg("Credential rejected by provider")
		return nil, nil, nil
	}

	var user supabaseUser
	if err := json.Unmarshal(body, &user); err != nil || user.ID == "" {
		return nil, nil, fmt.Errorf("%w: malformed user payload", ErrProviderUnavailable)
	}

	return user.identity(), sessionFromToken(credential), nil
}

// SignUp registers a new account. The session is nil when email confirmation
// is enabled on the project.
func (c *SupabaseClient) SignUp(ctx context.Context, params SignUpParams) (*Identity, *Session, error) {
	payload := map[string]any{
		"email":    params.Email,
		"password": params.Password,
		"data": map[string]any{
			"display_name": params.DisplayName,
			"user_type":    string(params.Type),
		},
	}

	resp, body, err := c.do(ctx, http.MethodPost, "/signup", "", payload)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, nil, fmt.Errorf("%w: signup returned %s", ErrProviderUnavailable, resp.Status)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(body)
		if apiErr.ErrorCode == "user_already_exists" || apiErr.ErrorCode == "email_exists" ||
			strings.Contains(strings.ToLower(apiErr.Msg), "already registered") {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrSignUpRejected, apiErr.text())
	}

	var session supabaseSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed signup payload", ErrProviderUnavailable)
	}
	if session.AccessToken == "" {
		// Confirmation pending: the body is the bare user object
		var user supabaseUser
		if err := json.Unmarshal(body, &user); err != nil || user.ID == "" {
			return nil, nil, fmt.Errorf("%w: malformed signup payload", ErrProviderUnavailable)
		}
		return user.identity(), nil, nil
	}

	return session.result()
}

// SignIn exchanges email and password for a session
func (c *SupabaseClient) SignIn(ctx context.Context, email, password string) (*Identity, *Session, error) {
	payload := map[string]any{"email": email, "password": password}

	resp, body, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", payload)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, nil, fmt.Errorf("%w: token returned %s", ErrProviderUnavailable, resp.Status)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, ErrInvalidCredentials
	}

	var session supabaseSession
	if err := json.Unmarshal(body, &session); err != nil || session.AccessToken == "" {
		return nil, nil, fmt.Errorf("%w: malformed token payload", ErrProviderUnavailable)
	}

	return session.result()
}

// SignOut revokes the session behind credential. An already invalid token is not an error.
func (c *SupabaseClient) SignOut(ctx context.Context, credential string) error {
	resp, _, err := c.do(ctx, http.MethodPost, "/logout", credential, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: logout returned %s", ErrProviderUnavailable, resp.Status)
	}
	return nil
}

// UpdateClaims writes user_type and is_admin into app_metadata through the
// admin API, which merges the keys into the existing metadata. Supabase can
// confirm an email but not unconfirm it.
func (c *SupabaseClient) UpdateClaims(ctx context.Context, userID string, update ClaimsUpdate) error {
	if c.serviceKey == "" {
		return fmt.Errorf("%w: SUPABASE_SERVICE_ROLE_KEY is not configured", ErrClaimsReadOnly)
	}
	if update.Verified != nil && !*update.Verified {
		return fmt.Errorf("%w: email verification cannot be revoked", ErrClaimsReadOnly)
	}

	payload := map[string]any{}
	appMetadata := map[string]any{}
	if update.Type != nil {
		appMetadata["user_type"] = string(*update.Type)
	}
	if update.IsAdmin != nil {
		appMetadata["is_admin"] = *update.IsAdmin
	}
	if len(appMetadata) > 0 {
		payload["app_metadata"] = appMetadata
	}
	if update.Verified != nil {
		payload["email_confirm"] = true
	}
	if len(payload) == 0 {
		return nil
	}

	resp, body, err := c.doAs(ctx, c.serviceKey, http.MethodPut, "/admin/users/"+url.PathEscape(userID), c.serviceKey, payload)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: admin update returned %s", ErrProviderUnavailable, resp.Status)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrClaimsReadOnly, decodeError(body).text())
	}

	c.logger.Info().Str("user_id", userID).Interface("app_metadata", appMetadata).Msg("Identity claims updated")
	return nil
}

// do performs exactly one bounded request. Transport failures map to ErrProviderUnavailable.
func (c *SupabaseClient) do(ctx context.Context, method, path, bearer string, payload any) (*http.Response, []byte, error) {
	return c.doAs(ctx, c.anonKey, method, path, bearer, payload)
}

func (c *SupabaseClient) doAs(ctx context.Context, apiKey, method, path, bearer string, payload any) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Identity provider request failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	return resp, body, nil
}

func decodeError(body []byte) supabaseError {
	var apiErr supabaseError
	_ = json.Unmarshal(body, &apiErr)
	return apiErr
}

func (s supabaseSession) result() (*Identity, *Session, error) {
	if s.User == nil || s.User.ID == "" {
		return nil, nil, fmt.Errorf("%w: session without user", ErrProviderUnavailable)
	}

	session := &Session{Token: s.AccessToken}
	switch {
	case s.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		session.ExpiresAt = time.Now().UTC().Add(time.Duration(s.ExpiresIn) * time.Second)
	}

	return s.User.identity(), session, nil
}

func (u *supabaseUser) identity() *Identity {
	// user_metadata is user-editable, so admin status only comes from app_metadata
	userType := metadataString(u.AppMetadata, "user_type")
	if userType == "" {
		userType = metadataString(u.UserMetadata, "user_type")
	}

	isAdmin, _ := u.AppMetadata["is_admin"].(bool)

	return &Identity{
		ID:       u.ID,
		Email:    u.Email,
		Verified: u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero(),
		Type:     ParseUserType(userType),
		IsAdmin:  isAdmin,
	}
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// sessionFromToken reads the exp claim without verifying the signature; the
// provider has already accepted the token.
func sessionFromToken(token string) *Session {
	session := &Session{Token: token}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return session
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.UTC()
	}

	return session
}
