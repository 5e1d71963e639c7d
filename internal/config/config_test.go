package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "secret")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, ":8083", cfg.HTTPAddress)
	require.Equal(t, ":9083", cfg.GRPCAddress)
	require.Equal(t, "pairchat-auth", cfg.Issuer)
	require.Equal(t, "pairchat_session", cfg.CookieName)
	require.Equal(t, 5*time.Second, cfg.GracePeriod)
	require.Equal(t, "pairchat.events", cfg.AMQPExchange)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
	require.Equal(t, 5.0, cfg.MessagesPerSecond)
	require.Equal(t, 10, cfg.Burst)
	require.Empty(t, cfg.AMQPURL)
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	_, err := Load(NewViper())
	require.ErrorContains(t, err, "auth.signing_secret")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PAIRCHAT_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("PAIRCHAT_PRESENCE_GRACE_PERIOD", "250ms")
	t.Setenv("PAIRCHAT_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.SigningSecret)
	require.Equal(t, 250*time.Millisecond, cfg.GracePeriod)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsNonPositiveGrace(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "secret")
	v.Set("presence.grace_period", "0s")

	_, err := Load(v)
	require.ErrorContains(t, err, "presence.grace_period")
}
