package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/internal/emitter"
	awsprovider "github.com/yairfalse/vigil/internal/provider/aws"
	"github.com/yairfalse/vigil/internal/telemetry"
	"github.com/yairfalse/vigil/pkg/compliance"
)

var (
	scanKinds         []string
	scanMode          string
	scanOutput        string
	scanStrict        bool
	scanRegion        string
	scanProfile       string
	scanConcurrency   int
	scanRetentionDays int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one compliance scan",
	Long: `Scan enumerates every selected resource kind, evaluates its rule and
prints the report.

Exit status is 0 when every pass completed and, in remediate mode or with
--strict, nothing is left unresolved; 1 when a pass failed or violations
remain; 2 for configuration errors.`,
	Example: `  vigil scan                                   # Report-only scan of all kinds
  vigil scan --kinds log_group --mode remediate  # Apply 30-day retention where missing
  vigil scan --output json --strict            # Machine-readable, fail on violations
  vigil scan -c vigil.toml --region eu-west-1`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringSliceVar(&scanKinds, "kinds", nil, "Resource kinds to scan (bucket, log_group)")
	scanCmd.Flags().StringVar(&scanMode, "mode", "", "Scan mode (report-only, remediate)")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "Output format (table, json, yaml)")
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "Exit non-zero on any unresolved violation")
	scanCmd.Flags().StringVar(&scanRegion, "region", "", "Cloud region")
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "AWS shared config profile")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "Provider/rule pairs run at once")
	scanCmd.Flags().IntVar(&scanRetentionDays, "retention-days", 0, "Retention suggested for log groups without one")
}

// applyScanFlags overrides config values with explicitly set flags.
func applyScanFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("kinds") {
		c.Scan.Kinds = scanKinds
	}
	if flags.Changed("mode") {
		c.Scan.Mode = scanMode
	}
	if flags.Changed("region") {
		c.AWS.Region = scanRegion
	}
	if flags.Changed("profile") {
		c.AWS.Profile = scanProfile
	}
	if flags.Changed("concurrency") {
		c.Scan.Concurrency = scanConcurrency
	}
	if flags.Changed("retention-days") {
		c.Scan.RetentionDays = scanRetentionDays
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	applyScanFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := emitter.ParseFormat(scanOutput)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(cmd.Context()) }()

	client, err := awsprovider.New(ctx, awsprovider.Config{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
	if err != nil {
		return fmt.Errorf("connect to aws: %w", err)
	}

	s, err := buildScanner(client, client.Remediator(), cfg, tp)
	if err != nil {
		return err
	}

	log.Debug().
		Str("region", cfg.AWS.Region).
		Str("account", client.AccountID()).
		Str("mode", string(s.mode)).
		Int("pairs", len(s.pairs)).
		Msg("scan starting")

	report, scanErr := s.Scan(ctx)
	if compliance.IsConfiguration(scanErr) {
		return scanErr
	}

	out := emitter.NewWriterEmitter(cmd.OutOrStdout(), format)
	if err := out.Emit(ctx, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if code := scanExitCode(report, scanErr, s.mode, scanStrict); code != exitOK {
		return &exitError{code: code, err: scanErr}
	}
	return nil
}

// scanExitCode maps a finished scan onto the process exit status.
func scanExitCode(report *compliance.ScanReport, err error, mode compliance.Mode, strict bool) int {
	switch {
	case compliance.IsConfiguration(err):
		return exitConfigError
	case err != nil, report == nil:
		return exitFailure
	case report.HasErrors(), report.Cancelled:
		return exitFailure
	case (mode == compliance.ModeRemediate || strict) && report.Unresolved() > 0:
		return exitFailure
	default:
		return exitOK
	}
}
