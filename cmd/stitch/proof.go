package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) proofCmd() *cobra.Command {
	var (
		opts    requestOptions
		to      []string
		subject string
	)
	cmd := &cobra.Command{
		Use:   "proof [flags] FILE --to ADDRESS",
		Short: "Render a template and email it as a proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(to) == 0 {
				return errors.New("at least one --to address is required")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Proof.Provider == "" {
				return errors.New("proof delivery is not configured (set proof.provider)")
			}

			res, err := c.resolve(cmd.Context(), cmd, args[0], &opts, false)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(c.stderr, "warning: %s\n", w)
			}

			log, closeLog, err := c.logger(cfg, true)
			if err != nil {
				return err
			}
			defer closeLog()
			proofer, err := newProofer(cfg, log)
			if err != nil {
				return err
			}
			id, err := proofer.Send(cmd.Context(), to, subject, res.RenderedDocument)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "sent via %s: %s\n", proofer.Provider(), id)
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line (default from config)")
	return cmd
}
