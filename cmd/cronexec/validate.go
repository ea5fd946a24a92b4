package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cronexec/internal/app"
	"cronexec/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, every expression and every job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		if err := app.ValidateConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d jobs (%d active)\n", len(cfg.Jobs), len(cfg.ActiveJobs()))
		return nil
	},
}
