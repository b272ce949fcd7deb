package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/pkg/database"
)

var (
	refreshesLimit   int
	refreshesTrigger string
	refreshesSince   time.Duration
	pruneOlderThan   time.Duration
)

var refreshesCmd = &cobra.Command{
	Use:   "refreshes",
	Short: "Inspect the recorded refresh runs",
	Long:  `List or prune the refresh runs the viewer records in its database.`,
}

var refreshesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent refresh runs",
	Args:  cobra.NoArgs,
	RunE:  runRefreshesList,
}

var refreshesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete refresh runs older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runRefreshesPrune,
}

func init() {
	refreshesListCmd.Flags().IntVar(&refreshesLimit, "limit", 20, "maximum number of runs")
	refreshesListCmd.Flags().StringVar(&refreshesTrigger, "trigger", "", "only runs with this trigger (startup, timer, manual, resume)")
	refreshesListCmd.Flags().DurationVar(&refreshesSince, "since", 0, "only runs started within this duration")
	refreshesPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 7*24*time.Hour, "age of the runs to delete")

	rootCmd.AddCommand(refreshesCmd)
	refreshesCmd.AddCommand(refreshesListCmd)
	refreshesCmd.AddCommand(refreshesPruneCmd)
}

func openRuns() (repository.RefreshRunRepository, func(), error) {
	db, err := database.Open(current.cfg.DBConfig(), current.logger, current.metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return repository.NewRefreshRunRepository(db, current.logger, current.metrics), func() { db.Close() }, nil
}

func runRefreshesList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	runs, closeDB, err := openRuns()
	if err != nil {
		return err
	}
	defer closeDB()

	filter := repository.RefreshRunFilter{Limit: refreshesLimit}
	if refreshesTrigger != "" {
		filter.Trigger = &refreshesTrigger
	}
	if refreshesSince > 0 {
		since := time.Now().Add(-refreshesSince)
		filter.Since = &since
	}

	list, total, err := runs.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, list)
	}

	loc := current.cfg.Location()
	w := newTable(out)
	fmt.Fprintln(w, "STARTED\tTRIGGER\tDURATION\tSTRIKES\tSTATIONS\tERRORS")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%d ms\t%d\t%d\t%d\n",
			r.StartedAt.In(loc).Format("2006-01-02 15:04:05"), r.Trigger, r.DurationMS, r.StrikeCount, r.StationCount, r.ErrorCount)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d runs\n", len(list), total)
	return nil
}

func runRefreshesPrune(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	runs, closeDB, err := openRuns()
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := runs.DeleteBefore(cmd.Context(), time.Now().Add(-pruneOlderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d refresh runs\n", n)
	return nil
}
