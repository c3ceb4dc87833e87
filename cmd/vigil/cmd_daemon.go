package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/internal/daemon"
	"github.com/yairfalse/vigil/internal/emitter"
	awsprovider "github.com/yairfalse/vigil/internal/provider/aws"
	"github.com/yairfalse/vigil/internal/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
	daemonMode        string
	daemonRegion      string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Scan continuously and export metrics",
	Long: `Run Vigil in daemon mode for continuous compliance scanning.

The daemon scans at a fixed interval, logs every violation, tracks
compliance drift between scans and exports metrics.

Features:
- Prometheus metrics on /metrics
- Health checks on /healthz and /readyz
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  vigil daemon                          # Run with defaults
  vigil daemon --interval 5m            # Scan every 5 minutes
  vigil daemon --metrics-addr :2112     # Custom metrics address
  vigil daemon --mode remediate         # Fix retention on every pass`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Scan interval")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics HTTP server address")
	daemonCmd.Flags().StringVar(&daemonMode, "mode", "", "Scan mode (report-only, remediate)")
	daemonCmd.Flags().StringVar(&daemonRegion, "region", "", "Cloud region")
}

// applyDaemonFlags overrides config values with explicitly set flags.
func applyDaemonFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("interval") {
		c.Daemon.Interval = daemonInterval
	}
	if flags.Changed("metrics-addr") {
		c.Daemon.MetricsAddr = daemonMetricsAddr
	}
	if flags.Changed("mode") {
		c.Scan.Mode = daemonMode
	}
	if flags.Changed("region") {
		c.AWS.Region = daemonRegion
	}
	c.OTEL.Metrics.Prometheus = true
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	applyDaemonFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	client, err := awsprovider.New(ctx, awsprovider.Config{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
	if err != nil {
		return fmt.Errorf("connect to aws: %w", err)
	}

	s, err := buildScanner(client, client.Remediator(), cfg, tp)
	if err != nil {
		return err
	}

	prom, err := emitter.NewPrometheusEmitter()
	if err != nil {
		return fmt.Errorf("create emitter: %w", err)
	}
	emit := emitter.NewMultiEmitter(emitter.NewLogEmitter(nil), prom)
	defer func() { _ = emit.Close() }()

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:    cfg.Daemon.Interval,
		MetricsAddr: cfg.Daemon.MetricsAddr,
	}, s.Scan, emit)
	if err != nil {
		return err
	}

	log.Info().
		Str("region", cfg.AWS.Region).
		Str("account", client.AccountID()).
		Str("mode", string(s.mode)).
		Dur("interval", cfg.Daemon.Interval).
		Str("metrics_addr", cfg.Daemon.MetricsAddr).
		Msg("vigil daemon starting")

	return d.Run(ctx)
}
