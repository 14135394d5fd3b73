package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/corevpn/corevpn/addressing"
	"github.com/corevpn/corevpn/auth"
	"github.com/corevpn/corevpn/crypto"
	"github.com/corevpn/corevpn/pushconfig"
	"github.com/corevpn/corevpn/server"
	"github.com/corevpn/corevpn/transport"
)

// CipherSuite resolves the configured cipher suite name to the
// crypto.CipherSuite constant the data channel uses.
func (c *Config) CipherSuite() (crypto.CipherSuite, error) {
	if c.Crypto == nil {
		return crypto.ChaCha20Poly1305, nil
	}
	switch c.Crypto.CipherSuite {
	case "", "chacha20-poly1305":
		return crypto.ChaCha20Poly1305, nil
	case "aes-256-gcm":
		return crypto.AES256GCM, nil
	default:
		return 0, fmt.Errorf("config: unsupported cipher suite %q", c.Crypto.CipherSuite)
	}
}

// TLSAuthKeys reads and parses the tls-auth static key file, selecting
// the server-role TX/RX pair. Returns nil if no key file is configured,
// which disables tls-auth.
func (c *Config) TLSAuthKeys() (*crypto.TLSAuthKeys, error) {
	if c.Crypto == nil || c.Crypto.TLSAuthKeyFile == "" {
		return nil, nil
	}
	data, err := ioutil.ReadFile(c.Crypto.TLSAuthKeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: read tls-auth key file: %w", err)
	}
	sk, err := crypto.ParseStaticKeyFile(string(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse tls-auth key file: %w", err)
	}
	return crypto.SelectTLSAuthKeys(sk, crypto.RoleServer, crypto.DirectionUnset)
}

// AddressPool builds the addressing.Pool this server allocates client
// VPN addresses from.
func (c *Config) AddressPool() (*addressing.Pool, error) {
	if c.Pool == nil {
		return nil, fmt.Errorf("config: pool section is required")
	}
	return addressing.NewPool(c.Pool.CIDRv4, c.Pool.CIDRv6)
}

// PushPolicy translates the declarative push configuration into a
// pushconfig.Policy.
func (c *Config) PushPolicy() (pushconfig.Policy, error) {
	if c.Push == nil {
		return pushconfig.Policy{}, nil
	}

	var topology pushconfig.Topology
	switch c.Push.Topology {
	case "", "subnet":
		topology = pushconfig.TopologySubnet
	case "net30":
		topology = pushconfig.TopologyNet30
	case "p2p":
		topology = pushconfig.TopologyP2P
	default:
		return pushconfig.Policy{}, fmt.Errorf("config: unknown push topology %q", c.Push.Topology)
	}

	routes := make([]pushconfig.Route, 0, len(c.Push.Routes))
	for _, r := range c.Push.Routes {
		routes = append(routes, pushconfig.Route{
			Net:        r.Net,
			Mask:       r.Mask,
			Gateway:    r.Gateway,
			HasGateway: r.Gateway != "",
			Metric:     r.Metric,
			HasMetric:  r.Metric != 0,
		})
	}

	return pushconfig.Policy{
		Topology:        topology,
		RedirectGateway: c.Push.RedirectGateway,
		DNSServers:      c.Push.DNSServers,
		DHCPDomain:      c.Push.DHCPDomain,
		Routes:          routes,
		Ping:            c.Push.Ping,
		PingRestart:     c.Push.PingRestart,
	}, nil
}

// PushBuilder wires AddressPool and PushPolicy into a pushconfig.Builder.
func (c *Config) PushBuilder() (*pushconfig.Builder, error) {
	pool, err := c.AddressPool()
	if err != nil {
		return nil, err
	}
	policy, err := c.PushPolicy()
	if err != nil {
		return nil, err
	}
	return pushconfig.NewBuilder(pool, policy), nil
}

// AuthProvider builds the auth.Provider named by Auth.Provider. OIDC
// requires a caller-supplied auth.KeyFunc (JWKS resolution is out of
// scope for this package), so BuildOIDCProvider must be used directly
// for that case instead.
func (c *Config) AuthProvider() (auth.Provider, error) {
	if c.Auth == nil || c.Auth.Provider == "" || c.Auth.Provider == "static" {
		users := map[string]string{}
		if c.Auth != nil {
			users = c.Auth.StaticUsers
		}
		return auth.NewStaticProvider(users), nil
	}
	return nil, fmt.Errorf("config: auth provider %q requires a KeyFunc; construct an auth.OIDCCallbackProvider directly", c.Auth.Provider)
}

// BuildOIDCProvider builds an auth.OIDCCallbackProvider from the OIDC
// section, given a caller-supplied key resolution function.
func (c *Config) BuildOIDCProvider(keyFunc auth.KeyFunc) (*auth.OIDCCallbackProvider, error) {
	if c.Auth == nil || c.Auth.OIDC == nil {
		return nil, fmt.Errorf("config: auth.oidc section is required")
	}
	return &auth.OIDCCallbackProvider{
		KeyFunc:       keyFunc,
		Issuer:        c.Auth.OIDC.Issuer,
		Audience:      c.Auth.OIDC.Audience,
		UsernameClaim: c.Auth.OIDC.UsernameClaim,
		ValidMethods:  c.Auth.OIDC.ValidMethods,
	}, nil
}

// DispatcherConfig assembles a server.Config from this Config's crypto
// and session sections plus the caller-built auth/push collaborators.
func (c *Config) DispatcherConfig(authProvider auth.Provider, pushBuilder *pushconfig.Builder) (server.Config, error) {
	suite, err := c.CipherSuite()
	if err != nil {
		return server.Config{}, err
	}
	tlsAuthKeys, err := c.TLSAuthKeys()
	if err != nil {
		return server.Config{}, err
	}

	cfg := server.Config{
		CipherSuite:      suite,
		TLSAuthKeys:      tlsAuthKeys,
		AuthProvider:     authProvider,
		PushBuilder:      pushBuilder,
		Transport:        c.TransportConfig(),
		HandshakeTimeout: c.HandshakeTimeout(),
	}
	if c.Session != nil {
		cfg.SweepInterval = c.Session.CleanupInterval
		cfg.IdleTimeout = c.Session.MaxIdleTime
	}
	return cfg, nil
}

// TransportConfig translates the handshake tuning section into a
// transport.Config for the reliable control channel.
func (c *Config) TransportConfig() transport.Config {
	if c.Handshake == nil {
		return transport.DefaultConfig()
	}
	return transport.Config{
		SendWindow:     c.Handshake.SendWindow,
		MaxRetransmits: c.Handshake.MaxRetries,
		Backoff:        c.Handshake.RetryBackoff,
		AckDelay:       c.Handshake.AckDelay,
		InitialRTO:     c.Handshake.InitialRTO,
		MaxRTO:         c.Handshake.MaxRTO,
	}
}

// HandshakeTimeout is the overall deadline for completing a hard-reset
// to Established transition before the dispatcher gives up on a peer.
func (c *Config) HandshakeTimeout() time.Duration {
	if c.Handshake == nil || c.Handshake.Timeout == 0 {
		return 30 * time.Second
	}
	return c.Handshake.Timeout
}
