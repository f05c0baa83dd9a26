package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	token, claims, err := issuer.Issue(time.Now(), "user-1", "a@example.com", "repair_shop")
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "repair_shop", got.UserType)
	assert.Equal(t, claims.ID, got.ID)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		token, _, err := issuer.Issue(time.Now().Add(-2*time.Hour), "user-1", "a@example.com", "individual")
		require.NoError(t, err)
		_, err = issuer.Validate(token)
		assert.Error(t, err)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewTokenIssuer("ffffffffffffffffffffffffffffffff", time.Hour)
		require.NoError(t, err)
		token, _, err := other.Issue(time.Now(), "user-1", "a@example.com", "individual")
		require.NoError(t, err)
		_, err = issuer.Validate(token)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Validate(signed)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Validate("not-a-token")
		assert.Error(t, err)
	})
}

func TestNewTokenIssuer_ShortSecret(t *testing.T) {
	_, err := NewTokenIssuer("short", time.Hour)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	assert.NoError(t, VerifyPassword("s3cret-pass", hash))
	assert.Error(t, VerifyPassword("wrong", hash))
}
