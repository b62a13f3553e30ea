package certs

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

const (
	leafValidityPast   = -24 * time.Hour
	leafValidityFuture = 365 * 24 * time.Hour
	leafOrganization   = "CS112 Proxy"
	leafCountry        = "US"
)

// Minter mints per-hostname leaf certificates chained to an Authority and
// caches them for the lifetime of the process. A single Minter is shared by
// every worker.
type Minter struct {
	ca        *Authority
	startedAt time.Time

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// NewMinter returns a Minter bound to ca. startedAt anchors the deterministic
// serial number, which is a function of (start_time, hostname).
func NewMinter(ca *Authority, startedAt time.Time) *Minter {
	return &Minter{
		ca:        ca,
		startedAt: startedAt,
		cache:     make(map[string]*tls.Certificate),
	}
}

// Leaf returns a tls.Certificate for hostname, minting and caching a fresh
// one on first request. Repeated calls for the same hostname return the
// identical certificate for the process lifetime.
func (m *Minter) Leaf(hostname string) (*tls.Certificate, error) {
	m.mu.RLock()
	cert, ok := m.cache[hostname]
	m.mu.RUnlock()
	if ok {
		return cert, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have minted it while we waited for the write
	// lock; a benign re-sign race is acceptable, but avoiding it here is
	// free.
	if cert, ok := m.cache[hostname]; ok {
		return cert, nil
	}

	cert, err := m.mint(hostname)
	if err != nil {
		return nil, err
	}
	m.cache[hostname] = cert
	return cert, nil
}

// mint signs a brand-new leaf certificate for hostname. The leaf's public
// key is the CA's own public key, and the CA's private key signs it: a
// deliberate property that avoids a per-connection keypair generation. A
// stricter deployment would generate a fresh per-leaf keypair here instead
// of reusing m.ca.Signer.Public().
func (m *Minter) mint(hostname string) (*tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: serialFor(m.startedAt, hostname),
		Subject: pkix.Name{
			Country:      []string{leafCountry},
			Organization: []string{leafOrganization},
			CommonName:   hostname,
		},
		NotBefore:             time.Now().Add(leafValidityPast),
		NotAfter:              time.Now().Add(leafValidityFuture),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, m.ca.Cert, m.ca.Signer.Public(), m.ca.Signer)
	if err != nil {
		return nil, fmt.Errorf("signing leaf certificate for %q: %w", hostname, err)
	}

	// Only the leaf is sent downstream, matching the original design: the
	// client already trusts the CA as a root, so no intermediate chain is
	// needed.
	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  m.ca.Signer,
	}, nil
}

// serialFor derives a deterministic serial number from the process start
// time and the target hostname. It need not be unique across restarts.
func serialFor(startedAt time.Time, hostname string) *big.Int {
	h := sha256.New()
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(startedAt.Unix()))
	h.Write(tsBuf[:])
	h.Write([]byte(hostname))
	sum := h.Sum(nil)
	// Keep the serial positive and within the 20-octet limit RFC 5280
	// recommends by using the first 19 bytes of the digest.
	return new(big.Int).SetBytes(sum[:19])
}
