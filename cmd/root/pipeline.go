package root

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/deviceid"
	"github.com/docker/keytrail/pkg/journal"
	"github.com/docker/keytrail/pkg/session"
	"github.com/docker/keytrail/pkg/telemetry"
	"github.com/docker/keytrail/pkg/transport"
	"github.com/docker/keytrail/pkg/userconfig"
	"github.com/docker/keytrail/pkg/version"
)

// journalRetention is how long flush outcomes are kept.
const journalRetention = 30 * 24 * time.Hour

type pipelineFlags struct {
	metricsListen string
	noWatch       bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	cmd.Flags().BoolVar(&f.noWatch, "no-watch", false, "Do not reload the configuration file when it changes")
}

// pipeline is a running telemetry client with the components the CLI wires
// around it.
type pipeline struct {
	client    *telemetry.Client
	journal   *journal.Store
	watcher   *userconfig.Watcher
	metrics   *http.Server
	collector transport.Config
}

func startPipeline(ctx context.Context, flags pipelineFlags) (*pipeline, error) {
	cfg, err := userconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	telemetryCfg, err := cfg.TelemetryConfig()
	if err != nil {
		return nil, err
	}
	p := &pipeline{collector: cfg.TransportConfig()}
	sender, err := transport.New(p.collector)
	if err != nil {
		return nil, fmt.Errorf("invalid collector settings: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	id, persisted := deviceid.Store{Dir: cfg.StateDir}.Load()
	if !persisted {
		slog.Warn("Device id could not be persisted", "dir", cfg.StateDir)
	}

	opts := []telemetry.Option{
		telemetry.WithLogger(slog.Default()),
		telemetry.WithSender(sender),
		telemetry.WithSessionProvider(session.TokenFileProvider{Path: cfg.SessionTokenFile}),
		telemetry.WithDeviceID(id),
		telemetry.WithRegisterer(registry),
		telemetry.WithVersion(version.Version),
	}

	if path := cfg.JournalPath(); path != "" {
		j, err := openJournal(ctx, path)
		if err != nil {
			// The journal is diagnostic; telemetry keeps working without it.
			slog.Warn("Journal disabled", "path", path, "error", err)
		} else {
			p.journal = j
			opts = append(opts, telemetry.WithRecorder(j))
		}
	}

	p.client, err = telemetry.New(telemetryCfg, opts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := p.client.Start(ctx); err != nil {
		p.Close()
		return nil, err
	}

	if !flags.noWatch {
		p.watcher = userconfig.NewWatcher(userconfig.Path(), p.reload)
		if err := p.watcher.Start(); err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
			p.watcher = nil
		}
	}

	if flags.metricsListen != "" {
		if err := p.serveMetrics(flags.metricsListen, registry); err != nil {
			p.Close()
			return nil, err
		}
	}

	return p, nil
}

func openJournal(ctx context.Context, path string) (*journal.Store, error) {
	j, err := journal.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if n, err := j.Prune(ctx, time.Now().Add(-journalRetention)); err != nil {
		slog.Warn("Failed to prune journal", "error", err)
	} else if n > 0 {
		slog.Debug("Pruned journal", "removed", n)
	}
	return j, nil
}

// reload applies a changed configuration file. Collector settings are bound
// to the transport and only take effect after a restart.
func (p *pipeline) reload(cfg *userconfig.Config) {
	next, err := cfg.TelemetryConfig()
	if err != nil {
		slog.Warn("Ignoring invalid configuration change", "error", err)
		return
	}
	if err := p.client.Configure(next.Patch()); err != nil {
		slog.Warn("Failed to apply configuration change", "error", err)
		return
	}
	if cfg.TransportConfig() != p.collector {
		slog.Warn("Collector settings changed; restart keytrail to apply them")
	}
	slog.Debug("Configuration reloaded")
}

func (p *pipeline) serveMetrics(addr string, registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	p.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := p.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", "error", err)
		}
	}()
	slog.Debug("Serving metrics", "addr", ln.Addr().String())
	return nil
}

// drain makes one last delivery attempt for the queued events.
func (p *pipeline) drain(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := p.client.ReportNow(ctx)
	switch {
	case err == nil:
	case errors.Is(err, telemetry.ErrDisabled), errors.Is(err, telemetry.ErrReportingDisabled):
	default:
		slog.Warn("Final report failed", "error", err)
	}
}

// Close stops every component. Queued events that could not be delivered
// are dropped with the process.
func (p *pipeline) Close() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	if p.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.metrics.Shutdown(ctx)
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			slog.Error("Failed to close telemetry client", "error", err)
		}
	}
	if p.journal != nil {
		if err := p.journal.Close(); err != nil {
			slog.Error("Failed to close journal", "error", err)
		}
	}
}
