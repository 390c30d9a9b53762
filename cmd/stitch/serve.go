package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sambeau/stitch/config"
	"github.com/sambeau/stitch/mail"
	"github.com/sambeau/stitch/server"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		host  string
		port  int
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes POST /render, /scan and /proof, plus GET /healthz and /stats.
It shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if quiet {
				cfg.Logging.Quiet = true
			}
			if err := validate(cfg); err != nil {
				return err
			}

			log, closeLog, err := c.logger(cfg, false)
			if err != nil {
				return err
			}
			defer closeLog()
			defer log.Sync()
			for _, w := range config.Warnings(cfg) {
				log.Warn(w)
			}

			backend, err := server.OpenBackend(cfg, log)
			if err != nil {
				return fmt.Errorf("opening backend: %w", err)
			}
			defer backend.Close()

			proofer, err := newProofer(cfg, log)
			if err != nil {
				return err
			}
			srv, err := server.New(cfg, backend, proofer, log)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override listen host")
	cmd.Flags().IntVar(&port, "port", 0, "override listen port")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress request logs")
	return cmd
}

// newProofer returns nil when no provider is configured.
func newProofer(cfg *config.Config, log *zap.Logger) (*mail.Proofer, error) {
	if cfg.Proof.Provider == "" {
		return nil, nil
	}
	p, err := mail.NewProvider(cfg.Proof)
	if err != nil {
		return nil, fmt.Errorf("proof provider: %w", err)
	}
	return mail.NewProofer(p, cfg.Proof.From, cfg.Proof.Subject, log.Named("proof")), nil
}
