package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse("esbo", []string{"-s", "secret"}, env(nil))
	require.NoError(t, err)
	require.Equal(t, ":5001", cfg.Handler.ServerAddr)
	require.Equal(t, "info", cfg.Logger.LogLevel)
	require.Equal(t, 25*time.Second, cfg.Telegram.PollTimeout)
	require.Equal(t, 15*time.Minute, cfg.Telegram.ConversationTTL)
	require.Equal(t, 10*time.Second, cfg.Service.CallbackTimeout)
	require.Equal(t, float64(10), cfg.Handler.PublicRate)
	require.Equal(t, 20, cfg.Handler.PublicBurst)
	require.Empty(t, cfg.Store.DBDsn)
	require.Empty(t, cfg.Auth.Operators)
}

func TestParseEnvOverridesFlags(t *testing.T) {
	cfg, err := parse("esbo", []string{"-a", ":9000", "-o", "ayse:1"}, env(map[string]string{
		"RUN_ADDRESS":      ":8080",
		"JWT_SECRET":       "from-env",
		"OPERATORS":        "ayse:parola, mehmet:gizli",
		"CONVERSATION_TTL": "5m",
		"PUBLIC_BURST":     "3",
		"REDIS_ADDR":       "localhost:6379",
	}))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Handler.ServerAddr)
	require.Equal(t, "from-env", cfg.Token.SecretKey)
	require.Equal(t, map[string]string{"ayse": "parola", "mehmet": "gizli"}, cfg.Auth.Operators)
	require.Equal(t, 5*time.Minute, cfg.Telegram.ConversationTTL)
	require.Equal(t, 3, cfg.Handler.PublicBurst)
	require.Equal(t, "localhost:6379", cfg.Locks.RedisAddr)
}

func TestParseErrors(t *testing.T) {
	_, err := parse("esbo", nil, env(nil))
	require.ErrorIs(t, err, ErrNoSecret)

	_, err = parse("esbo", []string{"-s", "x"}, env(map[string]string{"CALLBACK_TIMEOUT": "soon"}))
	require.ErrorContains(t, err, "CALLBACK_TIMEOUT")

	_, err = parse("esbo", []string{"-s", "x", "-o", "ayse"}, env(nil))
	require.Error(t, err)

	_, err = parse("esbo", []string{"-unknown"}, env(nil))
	require.Error(t, err)
}
