// Package metrics exposes the proxy's process-wide counters as Prometheus
// collectors. Every counter here is a
// pure observability addition: the proxy's behavior is identical whether or
// not anything ever scrapes them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups every counter the proxy emits.
type Collectors struct {
	ConnectionsTotal         prometheus.Counter
	ConnectTunnelsTotal      prometheus.Counter
	PlainRequestsTotal       prometheus.Counter
	EnhancementAttemptsTotal prometheus.Counter
	EnhancementFailuresTotal prometheus.Counter
	BackendAvailableChanges  prometheus.Counter
}

// New registers and returns the proxy's metric collectors against reg. Pass
// prometheus.NewRegistry() for test isolation, or prometheus.DefaultRegisterer
// wrapped appropriately for production use.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptproxy",
			Name:      "connections_total",
			Help:      "Total number of client connections accepted.",
		}),
		ConnectTunnelsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptproxy",
			Name:      "connect_tunnels_total",
			Help:      "Total number of CONNECT/MITM tunnels opened.",
		}),
		PlainRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptproxy",
			Name:      "plain_requests_total",
			Help:      "Total number of plain HTTP requests handled.",
		}),
		EnhancementAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptproxy",
			Name:      "enhancement_attempts_total",
			Help:      "Total number of calls made to the enhancement backend.",
		}),
		EnhancementFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptproxy",
			Name:      "enhancement_failures_total",
			Help:      "Total number of enhancement calls that did not yield a usable body.",
		}),
		BackendAvailableChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptproxy",
			Name:      "backend_availability_changes_total",
			Help:      "Total number of enhancement backend available<->unavailable transitions.",
		}),
	}
}

// Serve runs a minimal HTTP server exposing /metrics on addr until ctx is
// cancelled. It is only started when --metrics-addr is configured.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
