// Package config holds the client core settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/keyring"
	"github.com/jmcleod/ironkeep/realtime"
	"github.com/jmcleod/ironkeep/syncer"
)

// DefaultDecryptConcurrency bounds the decrypt queue.
const DefaultDecryptConcurrency = 100

// Config holds client configuration.
type Config struct {
	ServerURL          string           `yaml:"server_url"`
	NotificationsURL   string           `yaml:"notifications_url"`
	DataDir            string           `yaml:"data_dir"`
	SyncPageSize       int              `yaml:"sync_page_size"`
	DecryptConcurrency int              `yaml:"decrypt_concurrency"`
	ReconnectDelay     time.Duration    `yaml:"reconnect_delay"`
	MaxUnlockAttempts  int              `yaml:"max_unlock_attempts"`
	RSABits            int              `yaml:"rsa_bits"`
	KDF                crypto.KDFConfig `yaml:"kdf"`
	LogLevel           string           `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		ServerURL:          "http://127.0.0.1:8087",
		DataDir:            filepath.Join(homeDir, ".local", "share", "ironkeep"),
		SyncPageSize:       syncer.DefaultPageSize,
		DecryptConcurrency: DefaultDecryptConcurrency,
		ReconnectDelay:     realtime.DefaultReconnectDelay,
		MaxUnlockAttempts:  keyring.DefaultMaxUnlockAttempts,
		RSABits:            keyring.DefaultRSABits,
		KDF:                crypto.DefaultKDFConfig(),
		LogLevel:           "info",
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseHTTPURL(c.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	}
	if c.NotificationsURL != "" {
		if _, err := c.notificationsURL(); err != nil {
			errs = append(errs, fmt.Errorf("notifications_url: %w", err))
		}
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.SyncPageSize < 1 {
		errs = append(errs, fmt.Errorf("sync_page_size must be positive, got %d", c.SyncPageSize))
	}
	if c.DecryptConcurrency < 1 {
		errs = append(errs, fmt.Errorf("decrypt_concurrency must be positive, got %d", c.DecryptConcurrency))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay))
	}
	if c.MaxUnlockAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_unlock_attempts must be positive, got %d", c.MaxUnlockAttempts))
	}
	if c.RSABits != 2048 && c.RSABits != 4096 {
		errs = append(errs, fmt.Errorf("rsa_bits must be 2048 or 4096, got %d", c.RSABits))
	}
	if err := c.KDF.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kdf: %w", err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// PushURL returns the WebSocket URL of the notification hub. When
// NotificationsURL is unset it is derived from ServerURL.
func (c *Config) PushURL() (string, error) {
	if c.NotificationsURL != "" {
		u, err := c.notificationsURL()
		if err != nil {
			return "", err
		}
		return u.String(), nil
	}
	u, err := parseHTTPURL(c.ServerURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/notifications/hub"
	return u.String(), nil
}

func (c *Config) notificationsURL() (*url.URL, error) {
	u, err := url.Parse(c.NotificationsURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

func parseHTTPURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}
