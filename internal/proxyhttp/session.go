// Package proxyhttp implements the connection-handling core of the proxy:
// the request classifier, the plain-HTTP handler, and the CONNECT/MITM
// handler.
package proxyhttp

import (
	"net"

	"github.com/google/uuid"
)

// mode selects which of the two response-handling strategies a session
// uses; it is a direct read of the process-wide enhancement flag, but kept
// per-session so tests can exercise both paths without global state.
type mode int

const (
	modeFastRelay mode = iota
	modeEnhance
)

// session holds everything scoped to one accepted client connection. It is
// created once per connection and discarded when the connection closes.
type session struct {
	id     string
	client net.Conn

	hostname string
	port     int
	mode     mode
}

func newSession(client net.Conn, llmEnabled bool) *session {
	m := modeFastRelay
	if llmEnabled {
		m = modeEnhance
	}
	return &session{
		id:     uuid.NewString(),
		client: client,
		mode:   m,
	}
}
