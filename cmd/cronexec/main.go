package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cronexec/internal/config"
)

var (
	cfgPath  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "cronexec",
	Short: "Run commands on cron schedules",
	Long: `cronexec runs jobs on Quartz or standard cron expressions.

Each job is a self-rescheduling chain on a shared worker pool: every cycle
computes the next fire time, submits the command and re-arms itself.

Examples:
  cronexec run --config ./cronexec.yaml
  cronexec validate --config ./cronexec.yaml
  cronexec next "0 0 12 ? * MON-FRI" -n 5
  cronexec history backup -n 20`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./cronexec.yaml", "path to config (json or yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config (missing files are ignored)")

	rootCmd.AddCommand(runCmd, validateCmd, nextCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
