// nat64d -- stateful NAT64 translator daemon (RFC 6145/6146/6052).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gonat64/internal/config"
	"github.com/dantte-lp/gonat64/internal/control"
	nat64metrics "github.com/dantte-lp/gonat64/internal/metrics"
	appversion "github.com/dantte-lp/gonat64/internal/version"
	"github.com/dantte-lp/gonat64/internal/xlat"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("nat64d starting",
		slog.String("version", appversion.Version),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := nat64metrics.NewCollector(reg)

	xlatCfg, err := toXlatConfig(cfg)
	if err != nil {
		logger.Error("invalid translator configuration", slog.String("error", err.Error()))
		return 1
	}

	core, err := xlat.NewCore(xlatCfg, logger)
	if err != nil {
		logger.Error("failed to construct translator core", slog.String("error", err.Error()))
		return 1
	}
	defer core.Close()

	if err := runServers(cfg, core, xlatCfg, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("nat64d exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("nat64d stopped")
	return 0
}

// runServers sets up and runs the control channel and metrics HTTP
// servers using an errgroup with signal-aware context for graceful
// shutdown (same shape as the reference daemon's runServers).
func runServers(
	cfg *config.Config,
	core *xlat.Core,
	xlatCfg xlat.Config,
	collector *nat64metrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	ctrlLn, err := net.Listen("tcp", cfg.Control.Addr)
	if err != nil {
		return fmt.Errorf("listen on control addr %s: %w", cfg.Control.Addr, err)
	}
	defer ctrlLn.Close()

	ctrlSrv := control.NewServer(core, xlatCfg, logger)
	g.Go(func() error {
		logger.Info("control channel listening", slog.String("addr", cfg.Control.Addr))
		return ctrlSrv.Serve(gCtx, ctrlLn)
	})

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return pollMetrics(gCtx, core, collector)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, core, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// pollMetrics periodically snapshots table sizes into the Prometheus
// collector.
func pollMetrics(ctx context.Context, core *xlat.Core, collector *nat64metrics.Collector) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			collector.SetBIBEntries("udp", float64(core.BIBUDP.Count()))
			collector.SetBIBEntries("tcp", float64(core.BIBTCP.Count()))
			collector.SetBIBEntries("icmp", float64(core.BIBICMP.Count()))
			collector.SetSessions("udp", float64(core.SessionDB.Count(xlat.ProtoUDP)))
			collector.SetSessions("tcp", float64(core.SessionDB.Count(xlat.ProtoTCP)))
			collector.SetSessions("icmp", float64(core.SessionDB.Count(xlat.ProtoICMP)))
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only; table contents are not reloaded.
// -------------------------------------------------------------------------

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
				continue
			}
			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("log level reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, core *xlat.Core, logger *slog.Logger, servers...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr: cfg.Addr,
		Handler: mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// toXlatConfig converts the koanf-loaded config.Config into the
// xlat.Config xlat.NewCore expects.
func toXlatConfig(cfg *config.Config) (xlat.Config, error) {
	pool6, err := cfg.Pool6Prefixes()
	if err != nil {
		return xlat.Config{}, err
	}
	xlatPrefixes := make([]xlat.Prefix6, 0, len(pool6))
	for _, p := range pool6 {
		xlatPrefixes = append(xlatPrefixes, xlat.Prefix6{Addr: p.Addr(), Len: p.Bits()})
	}

	pool4, err := cfg.Pool4Addrs()
	if err != nil {
		return xlat.Config{}, err
	}

	return xlat.Config{
		Pool6: xlatPrefixes,
		Pool4: pool4,
		SessionDB: xlat.SessionDBConfig{
			UDPTimeout: cfg.SessionDB.UDPTimeout,
			ICMPTimeout: cfg.SessionDB.ICMPTimeout,
			TCPEstTimeout: cfg.SessionDB.TCPEstTimeout,
			TCPTransTimeout: cfg.SessionDB.TCPTransTimeout,
			TCPSynTimeout: cfg.SessionDB.TCPSynTimeout,
			PendingSynMax: cfg.SessionDB.PendingSynMax,
		},
		Translate: xlat.TranslateConfig{
			ResetTrafficClass: cfg.Translate.ResetTrafficClass,
			ResetTOS: cfg.Translate.ResetTOS,
			NewTOS: cfg.Translate.NewTOS,
			DFAlwaysOn: cfg.Translate.DFAlwaysOn,
			BuildIPv4ID: cfg.Translate.BuildIPv4ID,
			LowerMTUFail: cfg.Translate.LowerMTUFail,
			MTUPlateaus: cfg.Translate.MTUPlateaus,
			MinIPv6MTU: cfg.Translate.MinIPv6MTU,
		},
		Filter: &xlat.FilterConfig{
			DropByAddr: cfg.Filtering.DropByAddr,
			DropICMPv6Info: cfg.Filtering.DropICMPv6Info,
			DropExternalTCP: cfg.Filtering.DropExternalTCP,
		},
		FragmentTimeout: cfg.Fragmentation.FragmentTimeout,
	}, nil
}
