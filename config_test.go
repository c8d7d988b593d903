package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")
		return cfg
	}

	if err := validConfigErr(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing signing key", func(c *Config) { c.Token.SigningKey = nil }},
		{"short signing key", func(c *Config) { c.Token.SigningKey = []byte("short") }},
		{"zero access ttl", func(c *Config) { c.Token.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *Config) { c.Token.RefreshTTL = 0 }},
		{"refresh not beyond access", func(c *Config) { c.Token.RefreshTTL = c.Token.AccessTTL }},
		{"tiny password minimum", func(c *Config) { c.Password.MinLength = 4 }},
		{"limit without window", func(c *Config) { c.RateLimit.Login = ActionLimit{Max: 5} }},
		{"negative limit", func(c *Config) { c.RateLimit.Refresh = ActionLimit{Max: -1, Window: time.Minute} }},
		{"zero session cap", func(c *Config) { c.Session.MaxPerAccount = 0 }},
		{"zero lockout threshold", func(c *Config) { c.Lockout.MaxFailedAttempts = 0 }},
		{"zero lockout duration", func(c *Config) { c.Lockout.LockDuration = 0 }},
		{"zero verification ttl", func(c *Config) { c.Verification.EmailTokenTTL = 0 }},
		{"zero reset ttl", func(c *Config) { c.Verification.ResetTokenTTL = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func validConfigErr(cfg Config) error {
	return cfg.Validate()
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	yaml := `
token:
  signingkey: "0123456789abcdef0123456789abcdef"
  issuer: "file-issuer"
lockout:
  maxfailedattempts: 7
session:
  maxperaccount: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTHCORE_TOKEN_ISSUER", "env-issuer")
	t.Setenv("AUTHCORE_LOCKOUT_LOCKDURATION", "30m")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if string(cfg.Token.SigningKey) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("signing key not loaded")
	}
	if cfg.Token.Issuer != "env-issuer" {
		t.Errorf("issuer = %q, env should override file", cfg.Token.Issuer)
	}
	if cfg.Lockout.MaxFailedAttempts != 7 {
		t.Errorf("lockout threshold = %d, want 7", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Lockout.LockDuration != 30*time.Minute {
		t.Errorf("lock duration = %v, want 30m", cfg.Lockout.LockDuration)
	}
	if cfg.Session.MaxPerAccount != 3 {
		t.Errorf("session cap = %d, want 3", cfg.Session.MaxPerAccount)
	}
	// Untouched fields keep their defaults.
	if cfg.Token.AccessTTL != DefaultConfig().Token.AccessTTL {
		t.Errorf("access ttl = %v", cfg.Token.AccessTTL)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	// No signing key anywhere.
	if err := os.WriteFile(path, []byte("session:\n  maxperaccount: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation failure without a signing key")
	}
}

func TestBuilderRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")

	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error without a directory")
	}

	b := New().WithConfig(cfg).WithDirectory(NewMemoryDirectory())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected error reusing a builder")
	}
}
