package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	plog "ticksync.dev/internal/persistence/log"
)

var (
	matchDir string
	entityID uint32
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Inspect recorded match logs",
}

var ticksCmd = &cobra.Command{
	Use:   "ticks",
	Short: "Summarize the authoritative tick log, or print one entity's trajectory",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		var sum tickSummary
		err := scan(filepath.Join(matchDir, plog.TicksPrefix), plog.TicksPrefix, func(e plog.TickEntry) error {
			sum.add(e)
			if entityID != 0 {
				writeTrajectory(out, e, entityID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if entityID == 0 {
			fmt.Fprintf(out, "ticks=%d first=%d last=%d gaps=%d max_entities=%d\n",
				sum.Entries, sum.First, sum.Last, sum.Gaps, sum.MaxEntities)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List joins and leaves",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return scan(filepath.Join(matchDir, plog.SessionsPrefix), plog.SessionsPrefix, func(e plog.SessionEvent) error {
			fmt.Fprintf(out, "%s\ttick=%d\t%s\tsession=%d\tname=%q\tplayers=%v\n",
				e.Time.Format("15:04:05.000"), e.Tick, e.Event, e.Session, e.Name, e.Players)
			return nil
		})
	},
}

var correctionsCmd = &cobra.Command{
	Use:   "corrections <dir>",
	Short: "Summarize client reconciliation reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sum correctionSummary
		err := scan(filepath.Join(args[0], plog.CorrectionsPrefix), plog.CorrectionsPrefix, func(e plog.CorrectionEntry) error {
			sum.add(e)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reports=%d replayed=%d corrections=%d snaps=%d mean=%.3f max=%.3f\n",
			sum.Reports, sum.Replayed, sum.Corrections, sum.Snaps, sum.MeanDistance(), sum.MaxDistance)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&matchDir, "match", "", "match directory (<data>/matches/<id>)")
	ticksCmd.Flags().Uint32Var(&entityID, "entity", 0, "print this entity's position per tick")

	rootCmd.AddCommand(ticksCmd, sessionsCmd, correctionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
