package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cronexec/internal/config"
	"cronexec/internal/storage"
	logx "cronexec/pkg/logx"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [job]",
	Short: "Show recent runs from the configured store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if cfg.Storage == nil {
		return errors.New("storage is not configured")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}, logx.Nop())
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("storage is disabled")
	}
	defer st.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	runs, err := st.RecentRuns(ctx, name, historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tKIND\tLATE\tTOOK\tRESULT")
	for _, r := range runs {
		result := "ok"
		if !r.OK() {
			result = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Started.Format(time.RFC3339), r.Name, r.Kind,
			r.Lateness.Round(time.Millisecond), r.Duration.Round(time.Millisecond), result)
	}
	return w.Flush()
}
