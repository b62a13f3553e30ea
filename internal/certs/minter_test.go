package certs

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateTestCA(t *testing.T) *Authority {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-root", Organization: []string{"Test CA"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Authority{Cert: cert, Signer: priv}
}

func TestMinter_Leaf_SetsSubjectAndSAN(t *testing.T) {
	ca := generateTestCA(t)
	m := NewMinter(ca, time.Now())

	leaf, err := m.Leaf("example.test")
	require.NoError(t, err)
	require.Len(t, leaf.Certificate, 1)

	parsed, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)

	require.Equal(t, "example.test", parsed.Subject.CommonName)
	require.Contains(t, parsed.DNSNames, "example.test")
	require.Equal(t, ca.Cert.Subject.String(), parsed.Issuer.String())
	require.False(t, parsed.IsCA)
}

func TestMinter_Leaf_PublicKeyMatchesCA(t *testing.T) {
	ca := generateTestCA(t)
	m := NewMinter(ca, time.Now())

	leaf, err := m.Leaf("example.test")
	require.NoError(t, err)

	parsed, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)

	caPub, ok := ca.Signer.Public().(ed25519.PublicKey)
	require.True(t, ok)
	leafPub, ok := parsed.PublicKey.(ed25519.PublicKey)
	require.True(t, ok)
	require.True(t, caPub.Equal(leafPub), "leaf public key must equal CA public key")
}

func TestMinter_Leaf_SignatureVerifiesUnderCAPublicKey(t *testing.T) {
	ca := generateTestCA(t)
	m := NewMinter(ca, time.Now())

	leaf, err := m.Leaf("example.test")
	require.NoError(t, err)

	parsed, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)

	require.NoError(t, parsed.CheckSignatureFrom(ca.Cert))
}

func TestMinter_Leaf_CachesAcrossCalls(t *testing.T) {
	ca := generateTestCA(t)
	m := NewMinter(ca, time.Now())

	first, err := m.Leaf("cache.test")
	require.NoError(t, err)
	second, err := m.Leaf("cache.test")
	require.NoError(t, err)

	require.Same(t, first, second, "repeated calls for the same hostname must return the cached certificate")
}

func TestMinter_Leaf_DifferentHostnamesGetDifferentCerts(t *testing.T) {
	ca := generateTestCA(t)
	m := NewMinter(ca, time.Now())

	a, err := m.Leaf("a.test")
	require.NoError(t, err)
	b, err := m.Leaf("b.test")
	require.NoError(t, err)

	require.NotEqual(t, a.Certificate[0], b.Certificate[0])
}

func TestSerialFor_DeterministicInStartTimeAndHostname(t *testing.T) {
	start := time.Now()
	s1 := serialFor(start, "example.test")
	s2 := serialFor(start, "example.test")
	require.Equal(t, 0, s1.Cmp(s2))

	s3 := serialFor(start, "other.test")
	require.NotEqual(t, 0, s1.Cmp(s3))
}
