package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"APP_ENV":                    "",
		"AUTOSMS_BASE_URL":           "https://sms.example.com",
		"AUTOSMS_API_TOKEN":          "tok",
		"AUTOSMS_ALLOW_INSECURE_TLS": "",
		"AUTOSMS_TIMEOUT":            "",
		"POLL_INTERVAL":              "",
		"POLL_MAX_ATTEMPTS":          "",
		"CORS_ALLOWED_ORIGINS":       "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.False(t, cfg.IsProduction())
	require.Equal(t, 30*time.Second, cfg.AutoSMSTimeout)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 60, cfg.PollMaxAttempts)
	require.Equal(t, 24*time.Hour, cfg.WebhookReplayTTL)
	require.Equal(t, "EGP", cfg.CheckoutCurrency)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Nil(t, cfg.CORSAllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["AUTOSMS_TIMEOUT"] = "10s"
	env["POLL_INTERVAL"] = "2s"
	env["POLL_MAX_ATTEMPTS"] = "12"
	env["CORS_ALLOWED_ORIGINS"] = "https://shop.example.com, https://admin.example.com"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.AutoSMSTimeout)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 12, cfg.PollMaxAttempts)
	require.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadRequiresCredentials(t *testing.T) {
	env := baseEnv()
	env["AUTOSMS_API_TOKEN"] = ""
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "AUTOSMS_API_TOKEN")

	env = baseEnv()
	env["AUTOSMS_BASE_URL"] = ""
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "AUTOSMS_BASE_URL")

	env = baseEnv()
	env["AUTOSMS_BASE_URL"] = "sms.example.com"
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "absolute")
}

func TestLoadRefusesInsecureTLSInProduction(t *testing.T) {
	env := baseEnv()
	env["APP_ENV"] = "production"
	env["AUTOSMS_ALLOW_INSECURE_TLS"] = "true"
	_, err := LoadForTests(env)
	require.Error(t, err)

	env["APP_ENV"] = "staging"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.AutoSMSAllowInsecureTLS)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	env := baseEnv()
	env["POLL_INTERVAL"] = "soon"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
}
