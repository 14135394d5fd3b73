package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(LoaderOptions{
		ConfigDir:      ".",
		Environment:    "development",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load development config: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "development")
	}
}

func TestLoadForEnvironment(t *testing.T) {
	tests := []string{"development", "staging", "production", "local"}

	for _, env := range tests {
		t.Run(env, func(t *testing.T) {
			cfg, err := Load(LoaderOptions{
				ConfigDir:      ".",
				Environment:    env,
				SkipValidation: true,
			})
			if err != nil {
				t.Fatalf("Failed to load %s config: %v", env, err)
			}

			if cfg.Environment != env {
				t.Errorf("Environment = %q, want %q", cfg.Environment, env)
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	os.Setenv("COREVPN_LISTEN_ADDRESS", "203.0.113.1:1194")
	os.Setenv("COREVPN_LOG_LEVEL", "debug")
	defer os.Unsetenv("COREVPN_LISTEN_ADDRESS")
	defer os.Unsetenv("COREVPN_LOG_LEVEL")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "development.yaml")
	content := `
environment: development
listen:
  address: "0.0.0.0:1194"
logging:
  level: info
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "development",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Listen.Address != "203.0.113.1:1194" {
		t.Errorf("Listen.Address = %q, want %q", cfg.Listen.Address, "203.0.113.1:1194")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadWithCustomConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	testConfig := `
environment: test
logging:
  level: info
  format: json
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "test",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg == nil {
		t.Fatal("Config should not be nil")
	}
}

func TestLoadReadsDotEnvFileBeforeSubstitution(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte("COREVPN_DOTENV_TEST=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write .env file: %v", err)
	}
	defer os.Unsetenv("COREVPN_DOTENV_TEST")

	configPath := filepath.Join(tmpDir, "development.yaml")
	content := "environment: development\nlisten:\n  address: \"${COREVPN_DOTENV_TEST}\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "development",
		DotEnvPath:     envPath,
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Listen.Address != "from-dotenv" {
		t.Errorf("Listen.Address = %q, want %q", cfg.Listen.Address, "from-dotenv")
	}
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()

	if opts.ConfigDir != "config" {
		t.Errorf("ConfigDir = %q, want %q", opts.ConfigDir, "config")
	}
	if opts.SkipEnvSubstitution {
		t.Error("SkipEnvSubstitution should be false by default")
	}
	if opts.SkipValidation {
		t.Error("SkipValidation should be false by default")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	if cfg.Environment != "development" {
		t.Errorf("Default environment = %q, want %q", cfg.Environment, "development")
	}
}

func TestSessionConfigDefaults(t *testing.T) {
	cfg := &Config{
		Session: &SessionConfig{},
	}
	setDefaults(cfg)

	if cfg.Session.MaxIdleTime != 300*time.Second {
		t.Errorf("MaxIdleTime = %v, want %v", cfg.Session.MaxIdleTime, 300*time.Second)
	}
	if cfg.Session.CleanupInterval != 60*time.Second {
		t.Errorf("CleanupInterval = %v, want %v", cfg.Session.CleanupInterval, 60*time.Second)
	}
	if cfg.Session.MaxSessions != 4096 {
		t.Errorf("MaxSessions = %d, want %d", cfg.Session.MaxSessions, 4096)
	}
}

func TestHandshakeConfigDefaults(t *testing.T) {
	cfg := &Config{
		Handshake: &HandshakeConfig{},
	}
	setDefaults(cfg)

	if cfg.Handshake.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Handshake.Timeout, 30*time.Second)
	}
	if cfg.Handshake.MaxRetries != 10 {
		t.Errorf("MaxRetries = %d, want %d", cfg.Handshake.MaxRetries, 10)
	}
	if cfg.Handshake.RetryBackoff != 2.0 {
		t.Errorf("RetryBackoff = %v, want %v", cfg.Handshake.RetryBackoff, 2.0)
	}
}

func TestValidateConfigurationFlagsUnsupportedCipherSuite(t *testing.T) {
	cfg := &Config{Crypto: &CryptoConfig{CipherSuite: "rc4"}}
	errs := ValidateConfiguration(cfg)

	found := false
	for _, e := range errs {
		if e.Field == "crypto.cipher_suite" && e.Level == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected an error-level validation issue for an unsupported cipher suite")
	}
}

func TestValidateConfigurationRequiresPoolCIDR(t *testing.T) {
	cfg := &Config{Pool: &PoolConfig{}}
	errs := ValidateConfiguration(cfg)

	found := false
	for _, e := range errs {
		if e.Field == "pool" {
			found = true
		}
	}
	if !found {
		t.Error("expected an issue for an empty pool configuration")
	}
}

func TestValidateConfigurationAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Crypto: &CryptoConfig{CipherSuite: "chacha20-poly1305"},
		Pool:   &PoolConfig{CIDRv4: "10.8.0.0/24"},
		Push:   &PushConfig{Topology: "subnet"},
		Auth:   &AuthConfig{Provider: "static", StaticUsers: map[string]string{"alice": "x"}},
	}

	for _, e := range ValidateConfiguration(cfg) {
		if e.Level == "error" {
			t.Errorf("unexpected validation error: %s - %s", e.Field, e.Message)
		}
	}
}
