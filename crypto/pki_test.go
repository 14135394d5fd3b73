package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustMarshalCAKey(t *testing.T, ca *CA) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(ca.key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestIssueServerAndClientCerts(t *testing.T) {
	ca, err := NewCA("CoreVPN Test CA", "CoreVPN", 3650)
	require.NoError(t, err)

	serverResult, err := ca.IssueServerCert("vpn.example.com", []string{"vpn.example.com"}, []net.IP{net.ParseIP("10.8.0.1")}, 365)
	require.NoError(t, err)
	require.NotEmpty(t, serverResult.CertPEM)
	require.NotEmpty(t, serverResult.KeyPEM)
	require.NotEmpty(t, serverResult.CAPEM)

	clientResult, err := ca.IssueClientCert("alice", "alice@example.com", 365)
	require.NoError(t, err)
	require.NotEmpty(t, clientResult.CertPEM)
}

func TestCAFromPEMRoundTrip(t *testing.T) {
	ca, err := NewCA("CoreVPN Test CA", "CoreVPN", 3650)
	require.NoError(t, err)

	caPEM, err := ca.PEM()
	require.NoError(t, err)

	keyPEM := mustMarshalCAKey(t, ca)

	reloaded, err := CAFromPEM(caPEM, keyPEM)
	require.NoError(t, err)

	result, err := reloaded.IssueServerCert("vpn.example.com", nil, nil, 30)
	require.NoError(t, err)
	require.NotEmpty(t, result.CertPEM)
}
