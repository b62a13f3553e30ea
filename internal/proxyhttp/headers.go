package proxyhttp

import (
	"bytes"
	"strconv"
	"strings"
)

// markerHeader is the interception marker every forwarded response carries
// exactly once.
const markerHeader = "X-Proxy:CS112\r\n"

// injectMarkerHeader inserts the marker header immediately after the status
// line of an HTTP response held in data. It is a no-op if: data has no CRLF
// (not a well-formed status line), the marker is already present anywhere in
// data, or inserting it would make the response exceed limit bytes.
//
// data is returned unmodified (same backing array, same length) in every
// no-op case; otherwise a new slice is returned.
func injectMarkerHeader(data []byte, limit int) []byte {
	statusLineEnd := bytes.Index(data, []byte("\r\n"))
	if statusLineEnd < 0 {
		return data
	}
	if bytes.Contains(data, []byte("X-Proxy:")) {
		return data
	}

	insertAt := statusLineEnd + 2
	if len(data)+len(markerHeader) > limit {
		return data
	}

	out := make([]byte, 0, len(data)+len(markerHeader))
	out = append(out, data[:insertAt]...)
	out = append(out, markerHeader...)
	out = append(out, data[insertAt:]...)
	return out
}

// extractContentType returns the value of the first Content-Type header
// found in headers, or "" if none is present. It does not handle a value
// split across continuation lines, a latent assumption carried over from
// the header formats real servers emit in practice.
func extractContentType(headers []byte) string {
	const needle = "content-type:"
	lower := strings.ToLower(string(headers))
	idx := strings.Index(lower, needle)
	if idx < 0 {
		return ""
	}

	rest := headers[idx+len(needle):]
	rest = bytes.TrimLeft(rest, " ")

	end := bytes.IndexAny(rest, "\r\n")
	if end < 0 {
		return strings.TrimSpace(string(rest))
	}
	return strings.TrimSpace(string(rest[:end]))
}

// contentLengthFrom returns the parsed value of the first Content-Length
// header found in headers, and whether a valid non-negative one was present.
func contentLengthFrom(headers []byte) (int, bool) {
	const needle = "content-length:"
	lower := strings.ToLower(string(headers))
	idx := strings.Index(lower, needle)
	if idx < 0 {
		return 0, false
	}

	rest := headers[idx+len(needle):]
	rest = bytes.TrimLeft(rest, " ")
	if end := bytes.IndexAny(rest, "\r\n"); end >= 0 {
		rest = rest[:end]
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(rest)))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// isHTMLContentType reports whether ct names an HTML content type, matching
// case-insensitively on the "text/html" substring.
func isHTMLContentType(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/html")
}

// hasContentEncoding reports whether headers contains any Content-Encoding
// header, used to suppress enhancement of already-compressed bodies.
func hasContentEncoding(headers []byte) bool {
	return strings.Contains(strings.ToLower(string(headers)), "content-encoding:")
}

// stripAcceptEncoding removes the first Accept-Encoding header line from
// data, in place conceptually (a new slice is returned). Called only when
// enhancement mode is enabled, so the origin sends an uncompressed body the
// enhancement backend can read. It is a no-op if no such header exists.
func stripAcceptEncoding(data []byte) []byte {
	lower := strings.ToLower(string(data))
	idx := strings.Index(lower, "\r\naccept-encoding:")
	if idx < 0 {
		return data
	}

	lineStart := idx + 2 // skip the leading \r\n, which stays in the output
	lineEnd := bytes.Index(data[lineStart:], []byte("\r\n"))
	if lineEnd < 0 {
		return data
	}
	lineEnd += lineStart + 2 // include the line's own trailing \r\n

	out := make([]byte, 0, len(data)-(lineEnd-lineStart))
	out = append(out, data[:lineStart]...)
	out = append(out, data[lineEnd:]...)
	return out
}

// splitHeadersAndBody locates the first blank line terminating an HTTP
// message's headers and returns the header block and the body that follows
// it. ok is false if no such boundary was found in data.
func splitHeadersAndBody(data []byte) (headers, body []byte, ok bool) {
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, nil, false
	}
	return data[:idx], data[idx+4:], true
}
