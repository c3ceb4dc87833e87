package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/pkg/compliance"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

var (
	version = "0.1.0"

	configPath string
	debug      bool

	// cfg is loaded once in PersistentPreRunE and adjusted by subcommand flags.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "vigil",
		Short: "Cloud account compliance scanner",
		Long: `Vigil - Cloud Account Compliance Scanner

Vigil enumerates the storage buckets and log groups of a cloud account,
checks each one against compliance rules, and optionally fixes what it
can. Buckets must not be publicly exposed; log groups must have a
retention policy.

Scans run in report-only mode unless remediation is requested.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	code := exitCode(err)
	if err != nil && !isSilent(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if compliance.IsConfiguration(err) {
		return exitConfigError
	}
	return exitFailure
}

// isSilent reports whether err only carries an exit code.
func isSilent(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.err == nil
}

func init() {
	rootCmd.SetVersionTemplate(`Vigil {{.Version}} - Cloud Account Compliance Scanner
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// setup configures logging and loads the config file.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	setupLogging(cfg.Log.Level, debug)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	loaded, err := config.Load(path)
	if err != nil {
		return nil, &compliance.ConfigurationError{Reason: err.Error()}
	}
	return loaded, nil
}

func setupLogging(level string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
