package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// IssueResult bundles the three PEM blocks a CA/server/client issuance
// produces, per spec.md §4.1 ("Certificate, key, CA PEM are surfaced
// together as an issue-result triple").
type IssueResult struct {
	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte
}

// CA wraps an Ed25519-keyed X.509 certificate authority. Grounded on
// pkg/agent/crypto/formats/pem.go's use of crypto/x509+encoding/pem for
// key marshaling — the only X.509 tooling anywhere in the example pack,
// so stdlib is used here directly rather than as a fallback.
type CA struct {
	cert *x509.Certificate
	key  ed25519.PrivateKey
}

// NewCA issues a fresh self-signed CA certificate valid for days days.
func NewCA(cn, org string, days int) (*CA, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ca key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{org},
		},
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(days) * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: create ca certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse ca certificate: %w", err)
	}

	return &CA{cert: cert, key: priv}, nil
}

// CAFromPEM parses an existing CA certificate and key rather than
// resynthesizing it, per spec.md §9's explicit recommendation (the
// original source rebuilds the CA on load; this spec corrects that).
func CAFromPEM(certPEM, keyPEM []byte) (*CA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("crypto: decode ca cert pem")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse ca cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("crypto: decode ca key pem")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse ca key: %w", err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: ca key is not ed25519")
	}

	return &CA{cert: cert, key: edKey}, nil
}

func (ca *CA) PEM() ([]byte, error) {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw}), nil
}

// IssueServerCert issues a server leaf certificate with the given DNS
// and IP SANs, EKU serverAuth, per spec.md §4.1.
func (ca *CA) IssueServerCert(cn string, dnsNames []string, ips []net.IP, days int) (*IssueResult, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate server key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    now,
		NotAfter:     now.Add(time.Duration(days) * 24 * time.Hour),
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}

	return ca.issue(template, pub, priv)
}

// IssueClientCert issues a client leaf certificate, optionally carrying
// an rfc822Name SAN from an email address, EKU clientAuth.
func (ca *CA) IssueClientCert(cn, email string, days int) (*IssueResult, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate client key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    now,
		NotAfter:     now.Add(time.Duration(days) * 24 * time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if email != "" {
		template.EmailAddresses = []string{email}
	}

	return ca.issue(template, pub, priv)
}

func (ca *CA) issue(template *x509.Certificate, pub ed25519.PublicKey, priv ed25519.PrivateKey) (*IssueResult, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal leaf key: %w", err)
	}

	caPEM, err := ca.PEM()
	if err != nil {
		return nil, err
	}

	return &IssueResult{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		CAPEM:   caPEM,
	}, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate serial: %w", err)
	}
	return serial, nil
}
