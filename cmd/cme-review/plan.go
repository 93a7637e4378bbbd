package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/cme-video-review/internal/catalog"
	"github.com/fpang/cme-video-review/internal/segment"
)

var (
	planPad      float64
	planDuration float64
	planSession  string
)

var planCmd = &cobra.Command{
	Use:   "plan <timestamp>",
	Short: "Show the extraction window for a declared timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("timestamp must be seconds: %w", err)
		}
		w := segment.Plan(ts, planPad, planDuration)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "start:    %.3fs\n", w.Start)
		fmt.Fprintf(out, "duration: %.3fs\n", w.Duration)
		fmt.Fprintf(out, "end:      %.3fs\n", w.End())
		if planSession != "" {
			fmt.Fprintf(out, "segment:  %s\n", segment.SegmentKey("", planSession, ts, w.Duration))
		}
		return nil
	},
}

var catalogFile string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the test types and their expected movements",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := catalog.Default()
		if catalogFile != "" {
			var err error
			if cat, err = loadCatalogFile(catalogFile); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		for _, name := range cat.Types() {
			exp, _ := cat.Lookup(name)
			fmt.Fprintf(out, "%-20s %v", name, exp.ExpectedMovements)
			if exp.ExaminerTouchRequired {
				fmt.Fprint(out, " (examiner touch)")
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().Float64Var(&planPad, "pad", segment.DefaultPad, "Seconds before the timestamp")
	planCmd.Flags().Float64Var(&planDuration, "duration", segment.DefaultDuration, "Segment length in seconds")
	planCmd.Flags().StringVar(&planSession, "session", "", "Session ID; prints the segment key when set")
	catalogCmd.Flags().StringVar(&catalogFile, "file", "", "YAML catalog to load instead of the built-in one")
}
