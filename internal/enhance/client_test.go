package enhance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayfox/interceptproxy/internal/metrics"
)

func testClient(t *testing.T, addr string) *Client {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewClient(addr, zap.NewNop(), m)
}

func TestClient_Enhance_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req enhanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "http://example.test/", req.URL)

		decoded, err := base64.StdEncoding.DecodeString(req.HTMLBase64)
		require.NoError(t, err)
		require.Equal(t, "<p>A</p>", string(decoded))

		resp := enhanceResponse{HTMLBase64: base64.StdEncoding.EncodeToString([]byte("<p>A!</p>"))}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := testClient(t, strings.TrimPrefix(srv.URL, "http://"))

	out, err := c.Enhance(context.Background(), []byte("<p>A</p>"), "http://example.test/")
	require.NoError(t, err)
	require.Equal(t, "<p>A!</p>", string(out))
}

func TestClient_Enhance_NonOKStatusFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, strings.TrimPrefix(srv.URL, "http://"))

	_, err := c.Enhance(context.Background(), []byte("x"), "http://example.test/")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestClient_Enhance_ConnectFailureEntersCooldown(t *testing.T) {
	c := testClient(t, "127.0.0.1:1") // nothing listens here

	_, err := c.Enhance(context.Background(), []byte("x"), "http://example.test/")
	require.ErrorIs(t, err, ErrBackendUnavailable)

	c.mu.Lock()
	available := c.available
	c.mu.Unlock()
	require.False(t, available)

	// A second call within the cooldown window must not attempt a connect;
	// shouldAttempt should report false directly.
	require.False(t, c.shouldAttempt())
}

func TestClient_ShouldAttempt_ResetsAfterCooldown(t *testing.T) {
	c := testClient(t, "127.0.0.1:1")
	c.mu.Lock()
	c.available = false
	c.lastFailure = time.Now().Add(-(cooldown + time.Second))
	c.mu.Unlock()

	require.True(t, c.shouldAttempt())
}

func TestClient_Enhance_MalformedJSONFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := testClient(t, strings.TrimPrefix(srv.URL, "http://"))
	_, err := c.Enhance(context.Background(), []byte("x"), "http://example.test/")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("hello"),
		bytesRepeat(0xAB, 1<<20),
	}
	for _, b := range cases {
		enc := base64.StdEncoding.EncodeToString(b)
		dec, err := base64.StdEncoding.DecodeString(enc)
		require.NoError(t, err)
		require.Equal(t, b, dec)
	}
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
