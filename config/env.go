package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables in config
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Listen != nil {
		cfg.Listen.Address = SubstituteEnvVars(cfg.Listen.Address)
	}

	if cfg.Crypto != nil {
		cfg.Crypto.CipherSuite = SubstituteEnvVars(cfg.Crypto.CipherSuite)
		cfg.Crypto.TLSAuthKeyFile = SubstituteEnvVars(cfg.Crypto.TLSAuthKeyFile)
	}

	if cfg.Pool != nil {
		cfg.Pool.CIDRv4 = SubstituteEnvVars(cfg.Pool.CIDRv4)
		cfg.Pool.CIDRv6 = SubstituteEnvVars(cfg.Pool.CIDRv6)
	}

	if cfg.Auth != nil {
		cfg.Auth.Provider = SubstituteEnvVars(cfg.Auth.Provider)
		if cfg.Auth.OIDC != nil {
			cfg.Auth.OIDC.Issuer = SubstituteEnvVars(cfg.Auth.OIDC.Issuer)
			cfg.Auth.OIDC.Audience = SubstituteEnvVars(cfg.Auth.OIDC.Audience)
		}
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
		cfg.Logging.FilePath = SubstituteEnvVars(cfg.Logging.FilePath)
		cfg.Logging.DSN = SubstituteEnvVars(cfg.Logging.DSN)
	}

	if cfg.Health != nil {
		cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// GetEnvironment returns the current environment from COREVPN_ENV or
// ENVIRONMENT, defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("COREVPN_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
