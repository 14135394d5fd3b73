package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// DotEnvPath, if set, is loaded into the process environment before
	// config files are read. A missing file is not an error.
	DotEnvPath string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.DotEnvPath != "" {
		if err := godotenv.Load(options.DotEnvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load dotenv file: %w", err)
		}
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		errs := ValidateConfiguration(cfg)
		for _, e := range errs {
			if e.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("COREVPN_LISTEN_ADDRESS"); addr != "" && cfg.Listen != nil {
		cfg.Listen.Address = addr
	}

	if suite := os.Getenv("COREVPN_CIPHER_SUITE"); suite != "" && cfg.Crypto != nil {
		cfg.Crypto.CipherSuite = suite
	}
	if keyFile := os.Getenv("COREVPN_TLS_AUTH_KEY_FILE"); keyFile != "" && cfg.Crypto != nil {
		cfg.Crypto.TLSAuthKeyFile = keyFile
	}

	if cidr := os.Getenv("COREVPN_POOL_CIDR_V4"); cidr != "" && cfg.Pool != nil {
		cfg.Pool.CIDRv4 = cidr
	}

	if logLevel := os.Getenv("COREVPN_LOG_LEVEL"); logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("COREVPN_LOG_FORMAT"); logFormat != "" && cfg.Logging != nil {
		cfg.Logging.Format = logFormat
	}

	if os.Getenv("COREVPN_METRICS_ENABLED") == "true" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("COREVPN_METRICS_ENABLED") == "false" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = false
	}
}

// ValidationError is one field-level problem found by ValidateConfiguration.
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}

// ValidateConfiguration checks cfg for inconsistencies that setDefaults
// can't repair on its own. Errors at Level "warning" don't fail Load.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Crypto != nil {
		switch cfg.Crypto.CipherSuite {
		case "chacha20-poly1305", "aes-256-gcm":
		default:
			errs = append(errs, ValidationError{
				Field: "crypto.cipher_suite", Level: "error",
				Message: fmt.Sprintf("unsupported cipher suite %q", cfg.Crypto.CipherSuite),
			})
		}
	}

	if cfg.Pool != nil && cfg.Pool.CIDRv4 == "" && cfg.Pool.CIDRv6 == "" {
		errs = append(errs, ValidationError{
			Field: "pool", Level: "error",
			Message: "at least one of cidr_v4 or cidr_v6 is required",
		})
	}

	if cfg.Push != nil {
		switch cfg.Push.Topology {
		case "net30", "subnet", "p2p":
		default:
			errs = append(errs, ValidationError{
				Field: "push.topology", Level: "error",
				Message: fmt.Sprintf("unknown topology %q", cfg.Push.Topology),
			})
		}
	}

	if cfg.Auth != nil {
		switch cfg.Auth.Provider {
		case "static":
			if len(cfg.Auth.StaticUsers) == 0 {
				errs = append(errs, ValidationError{
					Field: "auth.static_users", Level: "warning",
					Message: "static provider configured with no users",
				})
			}
		case "oidc":
			if cfg.Auth.OIDC == nil || cfg.Auth.OIDC.Issuer == "" {
				errs = append(errs, ValidationError{
					Field: "auth.oidc.issuer", Level: "error",
					Message: "oidc provider requires an issuer",
				})
			}
		default:
			errs = append(errs, ValidationError{
				Field: "auth.provider", Level: "error",
				Message: fmt.Sprintf("unknown auth provider %q", cfg.Auth.Provider),
			})
		}
	}

	return errs
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
