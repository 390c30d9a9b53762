// Command stitch renders marketing email templates: it expands fragment
// includes, resolves entity bindings and composes the final HTML, either
// from the command line or as an HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sambeau/stitch/config"
	"github.com/sambeau/stitch/logging"
)

// Version information, set at build time via -ldflags
var (
	Version = "dev"     // -X main.Version=$(git describe --tags --always)
	Commit  = "unknown" // -X main.Commit=$(git rev-parse --short HEAD)
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point, designed for testability (Mat Ryer pattern)
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	c := &cli{stdout: stdout, stderr: stderr, getenv: getenv}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// cli carries the process environment and global flags into subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	configPath string
	logLevel   string
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stitch",
		Short: "Email template resolution pipeline",
		Long: `stitch expands fragment includes, resolves entity bindings and composes
marketing email templates into final HTML.

Config Resolution:
  1. --config flag
  2. STITCH_CONFIG environment variable
  3. ./stitch.yaml
  4. ~/.config/stitch/stitch.yaml
  5. built-in defaults`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (default: auto-detect)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log level (debug|info|warn|error)")

	root.AddCommand(
		c.serveCmd(),
		c.renderCmd(),
		c.scanCmd(),
		c.proofCmd(),
		c.importCmd(),
		c.versionCmd(),
	)
	return root
}

// loadConfig reads the configuration, falling back to defaults when no
// file exists and none was asked for.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath, c.getenv)
	if errors.Is(err, config.ErrNoConfig) {
		cfg, err = config.Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	return cfg, nil
}

// validate re-checks the config once flag overrides are applied.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// logger builds the configured logger. Commands that write documents to
// stdout pass toStderr so log lines never mix with output.
func (c *cli) logger(cfg *config.Config, toStderr bool) (*zap.Logger, func() error, error) {
	stdout := c.stdout
	if toStderr {
		stdout = c.stderr
	}
	return logging.New(cfg.Logging, stdout, c.stderr)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "stitch version %s (commit %s)\n", Version, Commit)
		},
	}
}
