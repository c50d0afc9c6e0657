package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 2, cfg.CurrencyPrecision)
	assert.Equal(t, "IDR", cfg.DefaultCurrency)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("CURRENCY_PRECISION", "0")
	t.Setenv("DEFAULT_CURRENCY", "USD")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 0, cfg.CurrencyPrecision)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"precision":  {"CURRENCY_PRECISION", "9"},
		"rate limit": {"RATE_LIMIT_PER_MINUTE", "0"},
		"malformed":  {"CACHE_TTL", "soon"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestNilConfigIsNotProduction(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
}
