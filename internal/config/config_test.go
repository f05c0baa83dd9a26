package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setLocalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_MODE", "local")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setLocalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Identity.Timeout)
	assert.Equal(t, "sb-access-token", cfg.Identity.CookieName)
	assert.Equal(t, 72*time.Hour, cfg.Marketplace.OfferTTL)
	assert.Equal(t, int64(5<<20), cfg.Storage.MaxUploadBytes)
}

func TestLoad_Overrides(t *testing.T) {
	setLocalEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("IDENTITY_TIMEOUT", "750ms")
	t.Setenv("DATABASE_DRIVER", "Postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Identity.Timeout)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "supabase mode without url",
			env:  map[string]string{"IDENTITY_MODE": "supabase"},
			want: "SUPABASE_URL",
		},
		{
			name: "short local secret",
			env:  map[string]string{"IDENTITY_MODE": "local", "JWT_SECRET": "short"},
			want: "JWT_SECRET",
		},
		{
			name: "bad timeout",
			env: map[string]string{
				"IDENTITY_MODE":    "local",
				"JWT_SECRET":       "0123456789abcdef0123456789abcdef",
				"IDENTITY_TIMEOUT": "soon",
			},
			want: "IDENTITY_TIMEOUT",
		},
		{
			name: "unknown driver",
			env: map[string]string{
				"IDENTITY_MODE":   "local",
				"JWT_SECRET":      "0123456789abcdef0123456789abcdef",
				"DATABASE_DRIVER": "mysql",
			},
			want: "DATABASE_DRIVER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SUPABASE_URL", "")
			t.Setenv("SUPABASE_ANON_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
