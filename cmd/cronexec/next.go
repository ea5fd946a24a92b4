package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cronexec/internal/cronspec"
)

var (
	nextCount   int
	nextTZ      string
	nextDialect string
)

var nextCmd = &cobra.Command{
	Use:   "next <expression>",
	Short: "Print the upcoming fire times of an expression",
	Args:  cobra.ExactArgs(1),
	RunE:  runNext,
}

func init() {
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "number of instants to print")
	nextCmd.Flags().StringVar(&nextTZ, "tz", "", "IANA timezone (default local)")
	nextCmd.Flags().StringVar(&nextDialect, "dialect", "quartz", "dialect for unprefixed 6-field expressions: quartz or standard")
}

func runNext(cmd *cobra.Command, args []string) error {
	dialect, err := cronspec.ParseDialect(nextDialect)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(nextTZ); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return fmt.Errorf("tz: %w", err)
		}
	}
	h, err := cronspec.New(loc, dialect).Validate(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	next := cronspec.NextN(h, time.Now(), nextCount)
	if len(next) == 0 {
		fmt.Fprintln(out, "no further instants")
		return nil
	}
	for _, t := range next {
		fmt.Fprintln(out, t.In(loc).Format(time.RFC3339))
	}
	return nil
}
