// Package certs loads the proxy's certificate authority material and mints
// per-hostname leaf certificates signed by it.
package certs

import (
	"crypto"
	"crypto/x509"
	"fmt"

	"go.step.sm/crypto/pemutil"
)

// Authority holds the CA's certificate and private key, loaded once at
// startup and treated as immutable for the remainder of the process.
type Authority struct {
	Cert   *x509.Certificate
	Signer crypto.Signer
}

// Load reads a PEM certificate and a PEM private key from disk and returns
// the parsed CA identity. It is called exactly once, at startup; the result
// is shared by every worker without locking.
func Load(certPath, keyPath string) (*Authority, error) {
	cert, err := pemutil.ReadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate %q: %w", certPath, err)
	}

	key, err := pemutil.Read(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA private key %q: %w", keyPath, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("CA private key %q is not a signing key", keyPath)
	}

	if err := verifyKeyMatchesCert(cert, signer); err != nil {
		return nil, fmt.Errorf("CA material %q / %q: %w", certPath, keyPath, err)
	}

	return &Authority{Cert: cert, Signer: signer}, nil
}

// verifyKeyMatchesCert is a cheap startup sanity check: the public key
// embedded in the CA certificate must match the public half of the loaded
// private key, or every later CreateCertificate call would fail far less
// clearly than "CA material doesn't match".
func verifyKeyMatchesCert(cert *x509.Certificate, signer crypto.Signer) error {
	certPub, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		// Public key type doesn't support comparison (shouldn't happen for
		// RSA/ECDSA/Ed25519); skip the check rather than reject it.
		return nil
	}
	if !certPub.Equal(signer.Public()) {
		return fmt.Errorf("certificate public key does not match private key")
	}
	return nil
}
