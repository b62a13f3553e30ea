package proxyhttp

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relayfox/interceptproxy/internal/tlsconfig"
)

// relayIdleTimeout bounds each direction of the fast-relay copy loop: 60s of
// idle time on either leg closes the tunnel.
const relayIdleTimeout = 60 * time.Second

// connectEstablished is written to the client over the plaintext socket
// once the upstream TLS handshake succeeds.
var connectEstablished = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")

// handleConnect implements the CONNECT/MITM path: parse the target, tunnel
// and TLS-terminate both legs, then dispatch fast-relay or buffered-enhance
// handling for the lifetime of the tunnel.
func (h *Handler) handleConnect(conn net.Conn, head []byte, sess *session, log *zap.Logger) {
	hostname, port, err := parseConnectTarget(head)
	if err != nil {
		log.Debug("malformed CONNECT request", zap.Error(err))
		_, _ = conn.Write(resp400)
		return
	}
	sess.hostname, sess.port = hostname, port
	log = log.With(zap.String("target", net.JoinHostPort(hostname, strconv.Itoa(port))))

	rawUpstream, err := dialUpstream(hostname, port)
	if err != nil {
		log.Debug("dialing origin failed", zap.Error(err))
		_, _ = conn.Write(resp502)
		return
	}
	defer rawUpstream.Close()

	upstreamConfig := tlsconfig.ClientConfig(hostname)
	upstreamTLS := tls.Client(rawUpstream, upstreamConfig)
	_ = upstreamTLS.SetDeadline(time.Now().Add(ioTimeout))
	if err := upstreamTLS.Handshake(); err != nil {
		log.Debug("TLS handshake with origin failed", zap.Error(err))
		_, _ = conn.Write(resp502)
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := conn.Write(connectEstablished); err != nil {
		log.Debug("writing 200 Connection Established failed", zap.Error(err))
		return
	}

	downstreamConfig := tlsconfig.ServerConfig(hostname, h.Minter.Leaf)
	downstreamTLS := tls.Server(conn, downstreamConfig)
	_ = downstreamTLS.SetDeadline(time.Now().Add(ioTimeout))
	if err := downstreamTLS.Handshake(); err != nil {
		log.Debug("TLS handshake with client failed", zap.Error(err))
		return
	}
	_ = downstreamTLS.SetDeadline(time.Time{})
	_ = upstreamTLS.SetDeadline(time.Time{})

	if sess.mode == modeFastRelay {
		h.relayTunnel(downstreamTLS, upstreamTLS, log)
		return
	}
	h.enhanceTunnel(downstreamTLS, upstreamTLS, hostname, log)
}

// parseConnectTarget extracts hostname and port from a
// "CONNECT host:port HTTP/1.1" request line, defaulting to port 443 when
// none is given.
func parseConnectTarget(head []byte) (string, int, error) {
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(string(head))))
	if err != nil {
		return "", 0, fmt.Errorf("parsing CONNECT request: %w", err)
	}
	if req.Method != http.MethodConnect {
		return "", 0, fmt.Errorf("not a CONNECT request")
	}
	return splitHostPort(req.RequestURI, 443)
}

// relayTunnel runs the two directional copy loops of the fast-relay
// strategy, injecting the marker header into the first upstream response
// chunk, and returns once either direction finishes or errors.
func (h *Handler) relayTunnel(client, upstream net.Conn, log *zap.Logger) {
	g := new(errgroup.Group)

	// When either direction ends, close both legs' underlying sockets so the
	// other direction's blocked Read returns instead of waiting out its idle
	// timeout.
	closeBoth := func() {
		for _, c := range []net.Conn{client, upstream} {
			if tc, ok := c.(*tls.Conn); ok {
				_ = tc.NetConn().Close()
				continue
			}
			_ = c.Close()
		}
	}

	g.Go(func() error {
		defer closeBoth()
		return copyLoop(upstream, client, relayIdleTimeout, false)
	})
	g.Go(func() error {
		defer closeBoth()
		return copyLoop(client, upstream, relayIdleTimeout, true)
	})

	if err := g.Wait(); err != nil {
		log.Debug("tunnel closed", zap.Error(err))
	}
}

// copyLoop copies from src to dst until either side errors. When
// injectMarker is true, the first chunk that looks like an HTTP response
// status line has the marker header inserted before being written.
func copyLoop(dst, src net.Conn, idleTimeout time.Duration, injectMarker bool) error {
	buf := make([]byte, relayChunkSize)
	first := true
	for {
		_ = src.SetReadDeadline(time.Now().Add(idleTimeout))
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if injectMarker && first && looksLikeHTTPResponse(chunk) {
				chunk = injectMarkerHeader(chunk, relayChunkSize)
			}
			first = false
			_ = dst.SetWriteDeadline(time.Now().Add(idleTimeout))
			if _, werr := dst.Write(chunk); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

// enhanceTunnel implements the buffered single-exchange strategy inside a
// MITM tunnel: read one request, forward it, buffer the response, enhance
// or fall back, then return, closing the tunnel after one exchange.
func (h *Handler) enhanceTunnel(client, upstream net.Conn, hostname string, log *zap.Logger) {
	_ = client.SetReadDeadline(time.Now().Add(ioTimeout))
	reqBuf := make([]byte, headBufferSize)
	n, err := client.Read(reqBuf)
	if err != nil || n == 0 {
		log.Debug("reading request inside tunnel failed", zap.Error(err))
		return
	}
	reqHead := reqBuf[:n]

	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(string(reqHead))))
	if err != nil {
		log.Debug("malformed request inside tunnel", zap.Error(err))
		return
	}

	outgoing := stripAcceptEncoding(reqHead)
	_ = upstream.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := upstream.Write(outgoing); err != nil {
		log.Debug("forwarding request to origin failed", zap.Error(err))
		return
	}

	full, truncated, err := readCapped(upstream, maxBufferedResponse)
	if err != nil && len(full) == 0 {
		log.Debug("reading buffered response from origin failed", zap.Error(err))
		return
	}

	url := fmt.Sprintf("https://%s%s", hostname, req.URL.RequestURI())
	enhanced, ok := h.tryEnhance(full, truncated, url, log)
	if ok {
		writeEnhancedResponse(client, full, enhanced, log)
		return
	}

	out := full
	if looksLikeHTTPResponse(full) {
		out = injectMarkerHeader(full, maxBufferedResponse)
	}
	_ = client.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := client.Write(out); err != nil {
		log.Debug("writing fallback response to client failed", zap.Error(err))
	}
}
