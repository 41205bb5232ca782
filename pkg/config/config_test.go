package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("AI_PROVIDER", "")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, AIProviderMock, cfg.AIProvider)
	assert.Equal(t, "X-User-ID", cfg.UserIDHeader)
	assert.Equal(t, 30*time.Second, cfg.AIRequestTimeout)
	assert.False(t, cfg.BillingEnabled())
}

func TestNewConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/xtract")
	t.Setenv("APP_URL", "https://app.example.com/")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("AI_REQUEST_TIMEOUT", "5s")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, "https://app.example.com", cfg.AppURL)
	assert.True(t, cfg.BillingEnabled())
	assert.Equal(t, 5*time.Second, cfg.AIRequestTimeout)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "mongo"}, "StorageBackend"},
		{"postgres without url", map[string]string{"STORAGE_BACKEND": "postgres", "DATABASE_URL": ""}, "DatabaseURL"},
		{"redis without url", map[string]string{"STORAGE_BACKEND": "redis", "REDIS_URL": ""}, "RedisURL"},
		{"openai without key", map[string]string{"AI_PROVIDER": "openai", "OPENAI_API_KEY": ""}, "OpenAIAPIKey"},
		{"bad app url", map[string]string{"APP_URL": "not a url"}, "AppURL"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LogLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
