// Package metrics exposes the proxy's Prometheus counters and a small
// HTTP server to serve them, following the same promauto/promhttp
// pattern as the proxy's other components.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveTunnels tracks currently open tunnels.
	ActiveTunnels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subnetproxy_active_tunnels",
		Help: "Current number of open tunnels",
	})

	// TunnelsTotal counts tunnels opened, by request type (CONNECT/OTHER).
	TunnelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnetproxy_tunnels_total",
		Help: "Total tunnels opened by request type",
	}, []string{"request_type"})

	// BytesTotal counts bytes relayed, by direction (upstream/downstream).
	BytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnetproxy_bytes_total",
		Help: "Total bytes relayed by direction",
	}, []string{"direction"})

	// DialAttemptsTotal counts upstream dial attempts, by outcome
	// (direct, proxied, error).
	DialAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnetproxy_dial_attempts_total",
		Help: "Total upstream dial attempts by outcome",
	}, []string{"outcome"})

	// KerberosNegotiationsTotal counts SPNEGO negotiation attempts, by
	// outcome (success, failure).
	KerberosNegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subnetproxy_kerberos_negotiations_total",
		Help: "Total Kerberos negotiation attempts by outcome",
	}, []string{"outcome"})

	// PolicyChangesTotal counts reconnects that tunnels complete after a
	// published policy change: one published change is counted once for
	// each tunnel that was forwarding and re-dialed successfully.
	PolicyChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subnetproxy_policy_changes_total",
		Help: "Total subnet policy changes observed",
	})

	// TunnelDuration tracks how long a tunnel stays open.
	TunnelDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "subnetproxy_tunnel_duration_seconds",
		Help:    "Tunnel lifetime in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
	})
)

// Server wraps the HTTP server that exposes /metrics on a loopback
// address separate from the proxy's own listener.
type Server struct {
	server *http.Server
}

// NewServer builds a metrics server bound to addr (not yet listening).
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start begins serving metrics in the background. errCh receives the
// listener error, if any, once the server stops.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		err := s.server.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
