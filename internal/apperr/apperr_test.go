package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fixmart-dev/fixmart/internal/identity"
)

func TestNormalize_Taxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason Kind
	}{
		{"unauthenticated", Unauthenticated(""), http.StatusUnauthorized, KindUnauthenticated},
		{"forbidden role", New(KindForbiddenRole, ""), http.StatusForbidden, KindForbiddenRole},
		{"not owner", New(KindNotOwner, ""), http.StatusForbidden, KindNotOwner},
		{"provider unavailable", fmt.Errorf("wrap: %w", identity.ErrProviderUnavailable), http.StatusServiceUnavailable, KindProviderUnavailable},
		{"invalid credentials", identity.ErrInvalidCredentials, http.StatusUnauthorized, KindUnauthenticated},
		{"email taken", identity.ErrEmailTaken, http.StatusConflict, KindConflict},
		{"provider claims read only", fmt.Errorf("%w: no service key", identity.ErrClaimsReadOnly), http.StatusConflict, KindInvalidState},
		{"record not found", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), http.StatusNotFound, KindNotFound},
		{"gorm duplicate", gorm.ErrDuplicatedKey, http.StatusConflict, KindConflict},
		{"pq duplicate", &pq.Error{Code: "23505"}, http.StatusConflict, KindConflict},
		{"sqlite duplicate", errors.New("UNIQUE constraint failed: users.email"), http.StatusConflict, KindConflict},
		{"invalid state", InvalidState("offer closed"), http.StatusConflict, KindInvalidState},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, KindUnexpected},
		{"unknown kind", New(Kind("mystery"), "x"), http.StatusInternalServerError, KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := Normalize(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			require.NotNil(t, env.Reason)
			assert.Equal(t, string(tt.wantReason), *env.Reason)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestNormalize_UnexpectedHidesInternals(t *testing.T) {
	err := Unexpected(errors.New("pq: password authentication failed for user admin")).
		WithDetails(map[string]string{"secret": "service-role-key"})

	status, env := Normalize(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "An unexpected error occurred. Please try again later.", env.Message)
	assert.Nil(t, env.Details)

	body, jsonErr := json.Marshal(env)
	require.NoError(t, jsonErr)
	assert.NotContains(t, string(body), "password")
	assert.NotContains(t, string(body), "service-role-key")
}

func TestEnvelope_WireShape(t *testing.T) {
	_, env := Normalize(NotFound("Product not found"))

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Len(t, fields, 3)
	assert.JSONEq(t, `"Product not found"`, string(fields["message"]))
	assert.JSONEq(t, `"not_found"`, string(fields["reason"]))
	assert.JSONEq(t, `null`, string(fields["details"]))
}

type createProductRequest struct {
	Title      string `json:"title" validate:"required,min=3"`
	PriceCents int64  `json:"price_cents" validate:"gt=0"`
	Currency   string `json:"currency" validate:"currency"`
	Email      string `json:"contact_email" validate:"omitempty,email"`
}

func TestValidation_FieldDetails(t *testing.T) {
	validate := NewValidator()

	err := validate.Struct(&createProductRequest{Title: "x", PriceCents: 0, Currency: "usd", Email: "nope"})
	require.Error(t, err)

	status, env := Normalize(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(KindValidationFailed), *env.Reason)

	details, ok := env.Details.([]FieldError)
	require.True(t, ok)

	byField := map[string]FieldError{}
	for _, d := range details {
		byField[d.Field] = d
	}
	assert.Equal(t, "min", byField["title"].Rule)
	assert.Equal(t, "gt", byField["price_cents"].Rule)
	assert.Equal(t, "currency", byField["currency"].Rule)
	assert.Equal(t, "email", byField["contact_email"].Rule)
}

func TestValidation_JSONErrors(t *testing.T) {
	var req createProductRequest

	syntaxErr := json.Unmarshal([]byte(`{"title":`), &req)
	assert.Equal(t, KindValidationFailed, Validation(syntaxErr).Kind)

	typeErr := json.Unmarshal([]byte(`{"price_cents":"ten"}`), &req)
	appErr := Validation(typeErr)
	assert.Equal(t, KindValidationFailed, appErr.Kind)
	details := appErr.Details.([]FieldError)
	assert.Equal(t, "price_cents", details[0].Field)

	assert.Equal(t, KindValidationFailed, Validation(errors.New("EOF")).Kind)
}

func TestClassify_PreservesAppError(t *testing.T) {
	original := Conflict("Shop already has a review from you")
	wrapped := fmt.Errorf("create review: %w", original)

	assert.Same(t, original, Classify(wrapped))
	assert.Nil(t, Classify(nil))
}
