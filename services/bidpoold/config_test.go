package bidpoold

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BIDPOOLD_JWT_SECRET", "")
	t.Setenv("BIDPOOLD_ENV", "")
	t.Setenv("BIDPOOLD_OUTBOX_DSN", "")
	path := writeConfig(t, "auth:\n  hmac_secret: secret\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, "data/outbox.db", cfg.Outbox.DSN)
	require.Equal(t, 30*time.Second, cfg.Outbox.RelayInterval.Duration)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 50, cfg.RateLimit.Burst)
	require.Equal(t, "0 0 0 * * MON", cfg.Scheduler.Schedule)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BIDPOOLD_JWT_SECRET", "from-env")
	t.Setenv("BIDPOOLD_OUTBOX_DSN", "postgres://bidpool@localhost/outbox")
	t.Setenv("BIDPOOLD_ENV", "staging")
	path := writeConfig(t, "listen: \":9000\"\nshutdown_timeout: 3s\nauth:\n  hmac_secret: from-file\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, 3*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.Equal(t, "postgres://bidpool@localhost/outbox", cfg.Outbox.DSN)
	require.Equal(t, "staging", cfg.Environment)
}

func TestLoadConfigSecretFile(t *testing.T) {
	t.Setenv("BIDPOOLD_JWT_SECRET", "")
	secretPath := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("  file-secret\n"), 0o600))
	path := writeConfig(t, "auth:\n  hmac_secret_file: "+secretPath+"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "file-secret", cfg.Auth.HMACSecret)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Setenv("BIDPOOLD_JWT_SECRET", "")
	cases := map[string]string{
		"missing secret":   "listen: \":9000\"\n",
		"unknown key":      "auth:\n  hmac_secret: s\nbogus: true\n",
		"bad backend":      "auth:\n  hmac_secret: s\nstorage:\n  backend: redis\n",
		"scheduler budget": "auth:\n  hmac_secret: s\nscheduler:\n  enabled: true\n",
		"bad duration":     "auth:\n  hmac_secret: s\nshutdown_timeout: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
