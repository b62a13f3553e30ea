package proxyhttp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// enhanceTimeout bounds the whole buffered-enhance round trip, independent
// of the enhancement client's own internal timeout, so a hung backend can
// never stall a connection worker indefinitely.
const enhanceTimeout = 2 * time.Second

// tryEnhance attempts to run a buffered HTML response body through the
// enhancement backend. It reports ok=false whenever enhancement should not
// or did not happen, in which case the caller must fall back to forwarding
// the original response. truncated must be true when full was cut off by
// readCapped's buffer cap rather than holding a complete response; a
// truncated body is never sent for enhancement, since it would be rewritten
// as if it were the whole document.
func (h *Handler) tryEnhance(full []byte, truncated bool, url string, log *zap.Logger) (enhancedBody []byte, ok bool) {
	if h.Enhance == nil {
		return nil, false
	}
	if truncated {
		return nil, false
	}
	headers, body, split := splitHeadersAndBody(full)
	if !split || len(body) == 0 {
		return nil, false
	}
	if !isHTMLContentType(extractContentType(headers)) {
		return nil, false
	}
	if hasContentEncoding(headers) {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), enhanceTimeout)
	defer cancel()

	result, err := h.Enhance.Enhance(ctx, body, url)
	if err != nil {
		log.Debug("enhancement skipped", zap.Error(err))
		return nil, false
	}
	return result, true
}

// writeEnhancedResponse discards original's headers and rebuilds the
// response from just its status line plus a fixed header set around
// enhancedBody: status line, X-Proxy, Content-Length, Content-Type,
// Connection, body.
func writeEnhancedResponse(client net.Conn, original, enhancedBody []byte, log *zap.Logger) {
	statusLineEnd := bytes.Index(original, []byte("\r\n"))
	if statusLineEnd < 0 {
		return
	}

	out := make([]byte, 0, statusLineEnd+128+len(enhancedBody))
	out = append(out, original[:statusLineEnd]...)
	out = append(out, fmt.Sprintf(
		"\r\n%sContent-Length: %d\r\nContent-Type: text/html; charset=utf-8\r\nConnection: close\r\n\r\n",
		markerHeader, len(enhancedBody))...)
	out = append(out, enhancedBody...)

	_ = client.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := client.Write(out); err != nil {
		log.Debug("writing enhanced response to client failed", zap.Error(err))
	}
}

// looksLikeHTTPResponse reports whether data begins with a well-formed HTTP
// status line, used to decide whether marker injection applies to a given
// chunk.
func looksLikeHTTPResponse(data []byte) bool {
	return bytes.HasPrefix(data, []byte("HTTP/"))
}
