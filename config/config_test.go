package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/crypto"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDecryptConcurrency, cfg.DecryptConcurrency)
	assert.Equal(t, crypto.DefaultKDFConfig(), cfg.KDF)

	push, err := cfg.PushURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8087/notifications/hub", push)
}

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
server_url: https://vault.example.com/
sync_page_size: 50
reconnect_delay: 5s
log_level: debug
kdf:
  type: 1
  iterations: 3
  memory_mib: 64
  parallelism: 4
`))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.SyncPageSize)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, crypto.KDFTypeArgon2id, cfg.KDF.Type)
	assert.Equal(t, DefaultDecryptConcurrency, cfg.DecryptConcurrency)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	push, err := cfg.PushURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://vault.example.com/notifications/hub", push)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "color: blue\n",
		"bad scheme":    "server_url: ftp://example.com\n",
		"page size":     "sync_page_size: 0\n",
		"rsa bits":      "rsa_bits: 1024\n",
		"weak kdf":      "kdf:\n  type: 0\n  iterations: 10\n",
		"log level":     "log_level: loud\n",
		"notifications": "notifications_url: http://example.com/hub\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(dir, "ironkeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dir+"\nnotifications_url: wss://push.example.com/hub\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	push, err := cfg.PushURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://push.example.com/hub", push)
}
