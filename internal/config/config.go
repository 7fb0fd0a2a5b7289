// Package config loads and validates termgate configuration.
//
// Configuration comes from a YAML file (strict: unrecognised keys are
// rejected at load) with an environment fallback for the single-user case.
// The user table, RP binding, and webhook URL are immutable once loaded.
//
// SECURITY: the loader enforces two startup guarantees:
//   - a configured jwt_secret shorter than 32 bytes aborts startup rather
//     than silently accepting a weak signing key; a missing secret is
//     auto-generated with a logged warning (tokens then die with the process)
//   - an external bind address without any second factor configured is
//     forced back to loopback unless allow_insecure_external_bind is set
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/termgate-dev/termgate/internal/logger"
)

const (
	// MinSecretLen is the minimum accepted HMAC-SHA256 signing key length.
	MinSecretLen = 32

	defaultLoopbackAddr = "127.0.0.1:9090"
	defaultExternalAddr = "0.0.0.0:9090"
)

// UserConfig is one entry of the user table.
type UserConfig struct {
	ID           string `yaml:"id"`
	PasswordHash string `yaml:"password_hash"`
	Root         string `yaml:"root"`
}

// TLSConfig holds the PEM paths for the listener. Both or neither.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// WebAuthnConfig is the relying-party binding.
type WebAuthnConfig struct {
	RPID     string `yaml:"rp_id"`
	RPOrigin string `yaml:"rp_origin"`
}

// OTPConfig configures the outbound OTP delivery webhook.
type OTPConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Config is the full termgate configuration.
type Config struct {
	BindAddr                  string         `yaml:"bind_addr"`
	JWTSecret                 string         `yaml:"jwt_secret"`
	TLS                       TLSConfig      `yaml:"tls"`
	Users                     []UserConfig   `yaml:"users"`
	WebAuthn                  WebAuthnConfig `yaml:"webauthn"`
	OTP                       OTPConfig      `yaml:"otp"`
	Shell                     string         `yaml:"shell"`
	CredentialsFile           string         `yaml:"credentials_file"`
	MaxUploadSizeMB           int64          `yaml:"max_upload_size_mb"`
	AllowInsecureExternalBind bool           `yaml:"allow_insecure_external_bind"`
	LogLevel                  string         `yaml:"log_level"`
	LogPretty                 bool           `yaml:"log_pretty"`

	// GeneratedSecret records that JWTSecret was auto-generated at startup.
	GeneratedSecret bool `yaml:"-"`
}

// envConfig is the single-user environment fallback, used when the YAML file
// defines no users.
type envConfig struct {
	User         string `env:"TERMGATE_USER"`
	PasswordHash string `env:"TERMGATE_PASSWORD_HASH"`
	Root         string `env:"TERMGATE_ROOT"`
	JWTSecret    string `env:"TERMGATE_JWT_SECRET"`
}

// Load reads the YAML file at path (optional: empty path means env-only),
// applies the environment fallback and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		// Reject unrecognised keys at load time.
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var envc envConfig
	if err := env.Parse(&envc); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if len(cfg.Users) == 0 && envc.User != "" {
		cfg.Users = []UserConfig{{
			ID:           envc.User,
			PasswordHash: envc.PasswordHash,
			Root:         envc.Root,
		}}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = envc.JWTSecret
	}

	cfg.applyDefaults(path)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(path string) {
	if c.WebAuthn.RPID == "" {
		c.WebAuthn.RPID = "localhost"
	}
	if c.WebAuthn.RPOrigin == "" {
		c.WebAuthn.RPOrigin = "https://localhost"
	}
	if c.MaxUploadSizeMB == 0 {
		c.MaxUploadSizeMB = 100
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CredentialsFile == "" {
		dir := "."
		if path != "" {
			dir = filepath.Dir(path)
		}
		c.CredentialsFile = filepath.Join(dir, "credentials.json")
	}

	if c.JWTSecret == "" {
		c.JWTSecret = generateSecret()
		c.GeneratedSecret = true
		logger.Security().Warn().
			Msg("No jwt_secret configured; generated an ephemeral signing key. Tokens will not survive a restart.")
	}

	if c.BindAddr == "" {
		if c.secondFactorAvailable() {
			c.BindAddr = defaultExternalAddr
		} else {
			c.BindAddr = defaultLoopbackAddr
		}
	}
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < MinSecretLen {
		return fmt.Errorf("jwt_secret must be at least %d bytes, got %d", MinSecretLen, len(c.JWTSecret))
	}

	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls.cert and tls.key must be set together")
	}

	seen := make(map[string]bool, len(c.Users))
	for i := range c.Users {
		u := &c.Users[i]
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate user id %q", u.ID)
		}
		seen[u.ID] = true
		if u.PasswordHash == "" {
			return fmt.Errorf("user %q: password_hash is required", u.ID)
		}
		if u.Root == "" {
			return fmt.Errorf("user %q: root is required", u.ID)
		}
		if !filepath.IsAbs(u.Root) {
			return fmt.Errorf("user %q: root must be an absolute path", u.ID)
		}
		u.Root = filepath.Clean(u.Root)
	}

	// Without a second factor, an external bind exposes a password-only
	// login to the network. Force loopback unless the operator opted in.
	if !c.secondFactorAvailable() && !c.AllowInsecureExternalBind && !isLoopbackAddr(c.BindAddr) {
		logger.Security().Warn().
			Str("configured", c.BindAddr).
			Str("forced", defaultLoopbackAddr).
			Msg("No second factor configured; forcing loopback bind. Set allow_insecure_external_bind to override.")
		c.BindAddr = defaultLoopbackAddr
	}

	return nil
}

// secondFactorAvailable reports whether any 2FA path can be taken: an OTP
// webhook makes the OTP factor available to every user, and WebAuthn is
// available once a credential is registered (which requires the service to
// already be running, so the webhook is the deciding signal at startup).
func (c *Config) secondFactorAvailable() bool {
	return c.OTP.WebhookURL != ""
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func generateSecret() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable for a service that signs tokens.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
