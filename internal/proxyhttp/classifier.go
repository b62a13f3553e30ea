package proxyhttp

import (
	"bytes"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relayfox/interceptproxy/internal/certs"
	"github.com/relayfox/interceptproxy/internal/enhance"
	"github.com/relayfox/interceptproxy/internal/metrics"
)

const (
	// headBufferSize is the size of the single read the classifier performs
	// before inspecting the request line. The classifier deliberately does
	// not loop to drain a slow or adversarial client's remaining bytes —
	// real clients send the full request head in one segment; a client that
	// doesn't is an accepted limitation rather than something silently
	// hardened against.
	headBufferSize = 16 * 1024

	// ioTimeout bounds every blocking read/write a worker performs outside
	// the fast-relay copy loop.
	ioTimeout = 30 * time.Second

	// connectTimeout bounds the upstream TCP dial.
	connectTimeout = 10 * time.Second
)

var (
	resp400 = []byte("HTTP/1.1 400 Bad Request\r\n\r\n")
	resp501 = []byte("HTTP/1.1 501 Not Implemented\r\n\r\n")
	resp502 = []byte("HTTP/1.1 502 Bad Gateway\r\n\r\n")
)

// Handler bundles the dependencies every connection worker needs: the
// certificate minter (for MITM), the enhancement client, the process-wide
// mode flag, and observability hooks.
type Handler struct {
	Minter     *certs.Minter
	Enhance    *enhance.Client
	LLMEnabled bool
	Log        *zap.Logger
	Metrics    *metrics.Collectors
}

// Serve handles one accepted client connection end to end: classify, then
// dispatch to the plain-HTTP or MITM handler, then close. It never panics
// across the caller's goroutine boundary.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()

	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
	}

	sess := newSession(conn, h.LLMEnabled)
	log := h.Log.With(zap.String("session", sess.id), zap.String("remote", conn.RemoteAddr().String()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic in connection worker", zap.Any("panic", r))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, headBufferSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		log.Debug("reading request head failed", zap.Error(err))
		return
	}
	head := buf[:n]

	switch {
	case bytes.HasPrefix(head, []byte("CONNECT ")):
		if h.Metrics != nil {
			h.Metrics.ConnectTunnelsTotal.Inc()
		}
		h.handleConnect(conn, head, sess, log)
	case bytes.HasPrefix(head, []byte("GET ")),
		bytes.HasPrefix(head, []byte("POST ")),
		bytes.HasPrefix(head, []byte("HEAD ")):
		if h.Metrics != nil {
			h.Metrics.PlainRequestsTotal.Inc()
		}
		h.handlePlainHTTP(conn, head, sess, log)
	default:
		log.Debug("unsupported method, closing")
		_, _ = conn.Write(resp501)
	}
}

// dialUpstream opens a TCP connection to hostname:port with the standard
// upstream-connect timeout.
func dialUpstream(hostname string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: connectTimeout}
	return d.Dial("tcp", net.JoinHostPort(hostname, strconv.Itoa(port)))
}
