package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// 🕘 history 命令
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the last recorded status of every job",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			store, _, err := a.openHistory(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return invalid(fmt.Errorf("run history is disabled (database.enabled)"))
			}

			runs, err := store.Runs(ctx, p.Name, limit)
			if err != nil {
				return err
			}
			latest, err := store.Latest(ctx, p.Name)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintf(a.stdout, "no recorded runs for %s\n", p.Name)
				return nil
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tPASSED\tFAILED\tTIMED OUT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), statusString(r.Status),
					r.Passed, r.Failed, r.TimedOut)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "JOB\tSTATUS\tDURATION\tFINISHED\tRUN")
			for _, j := range latest {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					j.JobID, statusString(j.Status),
					(time.Duration(j.DurationMS) * time.Millisecond).String(),
					j.FinishedAt.Local().Format(time.DateTime), shortID(j.RunID))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
