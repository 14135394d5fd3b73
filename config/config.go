package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure for a corevpn
// server process.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Listen      *ListenConfig    `yaml:"listen" json:"listen"`
	Crypto      *CryptoConfig    `yaml:"crypto" json:"crypto"`
	Pool        *PoolConfig      `yaml:"pool" json:"pool"`
	Push        *PushConfig      `yaml:"push" json:"push"`
	Auth        *AuthConfig      `yaml:"auth" json:"auth"`
	Session     *SessionConfig   `yaml:"session" json:"session"`
	Handshake   *HandshakeConfig `yaml:"handshake" json:"handshake"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig    `yaml:"health" json:"health"`
}

// ListenConfig describes the UDP socket the dispatcher binds.
type ListenConfig struct {
	Address string `yaml:"address" json:"address"`
}

// CryptoConfig selects the data-channel cipher and tls-auth material.
type CryptoConfig struct {
	CipherSuite    string `yaml:"cipher_suite" json:"cipher_suite"` // chacha20-poly1305, aes-256-gcm
	TLSAuthKeyFile string `yaml:"tls_auth_key_file" json:"tls_auth_key_file"`
}

// PoolConfig is the CIDR range(s) the address pool allocates from.
type PoolConfig struct {
	CIDRv4 string `yaml:"cidr_v4" json:"cidr_v4"`
	CIDRv6 string `yaml:"cidr_v6" json:"cidr_v6"`
}

// RouteConfig is one static route pushed to every client.
type RouteConfig struct {
	Net     string `yaml:"net" json:"net"`
	Mask    string `yaml:"mask" json:"mask"`
	Gateway string `yaml:"gateway" json:"gateway"`
	Metric  int    `yaml:"metric" json:"metric"`
}

// PushConfig is the policy a PushReply builder bakes into every
// PUSH_REPLY it sends.
type PushConfig struct {
	Topology        string        `yaml:"topology" json:"topology"` // net30, subnet, p2p
	RedirectGateway bool          `yaml:"redirect_gateway" json:"redirect_gateway"`
	DNSServers      []string      `yaml:"dns_servers" json:"dns_servers"`
	DHCPDomain      string        `yaml:"dhcp_domain" json:"dhcp_domain"`
	Routes          []RouteConfig `yaml:"routes" json:"routes"`
	Ping            int           `yaml:"ping" json:"ping"`
	PingRestart     int           `yaml:"ping_restart" json:"ping_restart"`
}

// OIDCConfig configures an external-identity auth.Provider. The JWKS
// fetch / key resolution itself is out of scope; a deployment wanting
// OIDC auth constructs its own auth.KeyFunc and wires it at startup.
type OIDCConfig struct {
	Issuer        string   `yaml:"issuer" json:"issuer"`
	Audience      string   `yaml:"audience" json:"audience"`
	UsernameClaim string   `yaml:"username_claim" json:"username_claim"`
	ValidMethods  []string `yaml:"valid_methods" json:"valid_methods"`
}

// AuthConfig selects and configures the session auth.Provider.
type AuthConfig struct {
	Provider    string            `yaml:"provider" json:"provider"` // static, oidc
	StaticUsers map[string]string `yaml:"static_users" json:"static_users"`
	OIDC        *OIDCConfig       `yaml:"oidc" json:"oidc"`
}

// SessionConfig tunes the dispatcher's idle-session sweep.
type SessionConfig struct {
	MaxIdleTime     time.Duration `yaml:"max_idle_time" json:"max_idle_time"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	MaxSessions     int           `yaml:"max_sessions" json:"max_sessions"`
}

// HandshakeConfig tunes the reliable control-channel transport.
type HandshakeConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff float64       `yaml:"retry_backoff" json:"retry_backoff"`
	InitialRTO   time.Duration `yaml:"initial_rto" json:"initial_rto"`
	MaxRTO       time.Duration `yaml:"max_rto" json:"max_rto"`
	SendWindow   int           `yaml:"send_window" json:"send_window"`
	AckDelay     time.Duration `yaml:"ack_delay" json:"ack_delay"`
}

// LoggingConfig represents logging configuration. Output selects the
// eventbus.Logger backend: "stdout"/"stderr"/"" disables connection
// event persistence (only the structured process logger remains),
// "file" uses FilePath, "database" connects to DSN.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	Format        string `yaml:"format" json:"format"`
	Output        string `yaml:"output" json:"output"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	DSN           string `yaml:"dsn" json:"dsn"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// LoadFromFile loads configuration from a file, trying YAML first and
// falling back to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, picking the format from
// the file extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration sections that are
// present but incomplete. A nil section is left nil: callers opt into
// a section by allocating it.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Listen != nil && cfg.Listen.Address == "" {
		cfg.Listen.Address = "0.0.0.0:1194"
	}

	if cfg.Crypto != nil && cfg.Crypto.CipherSuite == "" {
		cfg.Crypto.CipherSuite = "chacha20-poly1305"
	}

	if cfg.Push != nil && cfg.Push.Topology == "" {
		cfg.Push.Topology = "subnet"
	}

	if cfg.Auth != nil && cfg.Auth.Provider == "" {
		cfg.Auth.Provider = "static"
	}

	if cfg.Session != nil {
		if cfg.Session.MaxIdleTime == 0 {
			cfg.Session.MaxIdleTime = 300 * time.Second
		}
		if cfg.Session.CleanupInterval == 0 {
			cfg.Session.CleanupInterval = 60 * time.Second
		}
		if cfg.Session.MaxSessions == 0 {
			cfg.Session.MaxSessions = 4096
		}
	}

	if cfg.Handshake != nil {
		if cfg.Handshake.Timeout == 0 {
			cfg.Handshake.Timeout = 30 * time.Second
		}
		if cfg.Handshake.MaxRetries == 0 {
			cfg.Handshake.MaxRetries = 10
		}
		if cfg.Handshake.RetryBackoff == 0 {
			cfg.Handshake.RetryBackoff = 2.0
		}
		if cfg.Handshake.InitialRTO == 0 {
			cfg.Handshake.InitialRTO = time.Second
		}
		if cfg.Handshake.MaxRTO == 0 {
			cfg.Handshake.MaxRTO = 60 * time.Second
		}
		if cfg.Handshake.SendWindow == 0 {
			cfg.Handshake.SendWindow = 8
		}
		if cfg.Handshake.AckDelay == 0 {
			cfg.Handshake.AckDelay = 100 * time.Millisecond
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = 9100
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}

	if cfg.Health != nil {
		if cfg.Health.Port == 0 {
			cfg.Health.Port = 8080
		}
		if cfg.Health.Path == "" {
			cfg.Health.Path = "/health"
		}
	}
}
