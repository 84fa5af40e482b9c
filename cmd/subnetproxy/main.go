// Command subnetproxy runs a subnet-aware forward proxy: it listens on
// loopback, sniffs each connection's target, and dials either directly
// or through a configured corporate upstream depending on which subnet
// the host's interfaces currently sit in — re-dialing in place if the
// host roams to a different subnet mid-tunnel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subnetproxy/internal/config"
	"subnetproxy/internal/listener"
	"subnetproxy/internal/metrics"
	"subnetproxy/internal/netpolicy"
	"subnetproxy/internal/ui"

	"github.com/joho/godotenv"
)

const version = "0.1.0"

func main() {
	// Ignored if absent: in production/container deployments the
	// ambient knobs below typically come from the real environment.
	_ = godotenv.Load()

	ui.PrintBanner(version)

	if len(os.Args) != 2 {
		ui.ErrorNote("usage: subnetproxy <config.json>")
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		ui.ErrorNote(err.Error())
		os.Exit(1)
	}

	metricsAddr := envOr("SUBNETPROXY_METRICS_LISTEN", "127.0.0.1:9090")
	pollInterval := envDurationOr("SUBNETPROXY_POLL_INTERVAL", netpolicy.DefaultPollInterval)

	ui.LogGroup("Startup")
	ui.LogGroupItem("Config", os.Args[1])
	ui.LogGroupItem("Listen", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	ui.LogGroupItem("Metrics", metricsAddr)
	ui.LogGroupItem("Poll interval", pollInterval.String())
	ui.LogGroupEnd()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher := netpolicy.NewWatcher(cfg, pollInterval)
	go watcher.Run()
	defer watcher.Stop()

	metricsSrv := metrics.NewServer(metricsAddr)
	metricsErrCh := make(chan error, 1)
	metricsSrv.Start(metricsErrCh)
	go func() {
		if err := <-metricsErrCh; err != nil {
			ui.LogStatus("warning", "metrics server: "+err.Error())
		}
	}()

	ln := listener.New(cfg.Port, watcher)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- ln.Run(ctx) }()

	select {
	case <-ctx.Done():
		ui.LogStatus("info", "shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		<-runErrCh
	case err := <-runErrCh:
		if err != nil {
			ui.LogStatus("error", err.Error())
			os.Exit(1)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
