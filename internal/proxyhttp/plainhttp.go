package proxyhttp

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// relayChunkSize is the fixed receive buffer used while streaming a
	// fast-relay response.
	relayChunkSize = 64 * 1024

	// maxBufferedResponse caps how much of an upstream response the
	// enhancing path will buffer before giving up on enhancement.
	maxBufferedResponse = 2 * 1024 * 1024
)

// handlePlainHTTP implements the cleartext request path: parse the request
// line and Host header, forward to the origin, then relay or buffer-and-
// enhance the response depending on the process-wide mode.
func (h *Handler) handlePlainHTTP(conn net.Conn, head []byte, sess *session, log *zap.Logger) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		log.Debug("malformed request line", zap.Error(err))
		_, _ = conn.Write(resp400)
		return
	}

	hostname, port, err := splitHostPort(req.Host, 80)
	if err != nil || hostname == "" {
		log.Debug("missing or invalid Host header", zap.Error(err))
		_, _ = conn.Write(resp400)
		return
	}
	sess.hostname, sess.port = hostname, port

	outgoing := head
	if h.LLMEnabled {
		outgoing = stripAcceptEncoding(head)
	}

	upstream, err := dialUpstream(hostname, port)
	if err != nil {
		log.Debug("dialing origin failed", zap.String("hostname", hostname), zap.Error(err))
		_, _ = conn.Write(resp502)
		return
	}
	defer upstream.Close()

	_ = upstream.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := upstream.Write(outgoing); err != nil {
		log.Debug("forwarding request to origin failed", zap.Error(err))
		return
	}

	if sess.mode == modeFastRelay {
		h.relayPlainResponse(conn, upstream, log)
		return
	}
	h.bufferAndEnhancePlainResponse(conn, upstream, req, hostname, log)
}

// relayPlainResponse streams bytes from upstream to the client unmodified,
// except for a one-time marker-header injection on the first chunk if it
// looks like the start of an HTTP response. Used when the process-wide
// enhancement mode is disabled.
func (h *Handler) relayPlainResponse(client, upstream net.Conn, log *zap.Logger) {
	buf := make([]byte, relayChunkSize)
	first := true
	for {
		_ = upstream.SetReadDeadline(time.Now().Add(ioTimeout))
		n, err := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if first && looksLikeHTTPResponse(chunk) {
				chunk = injectMarkerHeader(chunk, relayChunkSize)
			}
			first = false
			_ = client.SetWriteDeadline(time.Now().Add(ioTimeout))
			if _, werr := client.Write(chunk); werr != nil {
				log.Debug("writing relayed response to client failed", zap.Error(werr))
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// bufferAndEnhancePlainResponse implements the enhancement-enabled branch:
// buffer the full response, try to enhance an HTML body, and fall back to
// the original buffered response with the marker header otherwise.
func (h *Handler) bufferAndEnhancePlainResponse(client, upstream net.Conn, req *http.Request, hostname string, log *zap.Logger) {
	full, truncated, err := readCapped(upstream, maxBufferedResponse)
	if err != nil && len(full) == 0 {
		log.Debug("reading buffered response from origin failed", zap.Error(err))
		return
	}

	url := fmt.Sprintf("http://%s%s", hostname, req.URL.RequestURI())
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

// splitHostPort splits a Host header value into hostname and port, applying
// defaultPort when no port is present.
func splitHostPort(hostHeader string, defaultPort int) (string, int, error) {
	if hostHeader == "" {
		return "", 0, fmt.Errorf("empty Host header")
	}
	host, portStr, err := net.SplitHostPort(hostHeader)
	if err != nil {
		// No port present at all.
		return hostHeader, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in Host header %q: %w", hostHeader, err)
	}
	return host, port, nil
}

// readCapped reads from r until one of: the headers plus a Content-Length
// worth of body have fully arrived, a short read leaves nothing more to read
// right now, EOF/error, or limit bytes have been accumulated. truncated is
// true only in the last case, meaning the buffer was cut off mid-response
// and does not hold a complete message. It does not decode chunked
// transfer-encoding; a chunked body is buffered as opaque bytes and relies
// on the short-read or EOF paths to stop.
func readCapped(r net.Conn, limit int) (data []byte, truncated bool, err error) {
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 64*1024)

	headersEnd := -1
	wantTotal := -1 // total response length once Content-Length is known

	for {
		_ = r.SetReadDeadline(time.Now().Add(ioTimeout))
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			if len(buf) >= limit {
				return buf[:limit], true, nil
			}

			if headersEnd < 0 {
				if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
					headersEnd = idx + 4
					if cl, ok := contentLengthFrom(buf[:idx]); ok {
						wantTotal = headersEnd + cl
					}
				}
			}
			if wantTotal >= 0 && len(buf) >= wantTotal {
				return buf[:wantTotal], false, nil
			}
		}

		if rerr != nil {
			return buf, false, rerr
		}
		if n < len(chunk) {
			// A read shorter than the buffer with no error means the origin
			// has nothing more ready right now; treat it as the end of this
			// response rather than blocking until ioTimeout.
			return buf, false, nil
		}
	}
}
