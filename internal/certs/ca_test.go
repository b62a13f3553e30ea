package certs

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.step.sm/crypto/pemutil"
)

func writeTestCAFiles(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "ca.pem")
	keyPath = filepath.Join(dir, "ca.key")

	_, err = pemutil.Serialize(cert, pemutil.WithFilename(certPath))
	require.NoError(t, err)
	_, err = pemutil.Serialize(priv, pemutil.WithFilename(keyPath))
	require.NoError(t, err)

	return certPath, keyPath
}

func TestLoad_ValidMaterial(t *testing.T) {
	certPath, keyPath := writeTestCAFiles(t)

	ca, err := Load(certPath, keyPath)
	require.NoError(t, err)
	require.Equal(t, "test-root", ca.Cert.Subject.CommonName)
	require.NotNil(t, ca.Signer)
}

func TestLoad_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.pem"), filepath.Join(dir, "nope.key"))
	require.Error(t, err)
}

func TestLoad_MismatchedKey(t *testing.T) {
	certPath, _ := writeTestCAFiles(t)
	_, otherKeyPath := writeTestCAFiles(t)

	_, err := Load(certPath, otherKeyPath)
	require.Error(t, err)
}
