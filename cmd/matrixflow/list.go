package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/BaSui01/matrixflow/matrix"
	"github.com/BaSui01/matrixflow/workflow"
)

// =============================================================================
// 📋 list 命令
// =============================================================================

type listedJob struct {
	ID          string            `json:"id"`
	Combination map[string]string `json:"combination"`
	Steps       []string          `json:"steps"`
	Resources   []string          `json:"resources,omitempty"`
}

func newListCmd(a *app) *cobra.Command {
	var (
		count  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Expand the matrix and print every job",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count {
				p, err := a.loadPipeline()
				if err != nil {
					return err
				}
				n, err := matrix.Count(p.Definition)
				if err != nil {
					return invalid(err)
				}
				// 计数不展开作业，但条件仍须全部可解析
				if err := workflow.NewPlanner(p.Definition, a.runContext(), a.logger).Check(p.Template); err != nil {
					return invalid(err)
				}
				fmt.Fprintln(a.stdout, n)
				return nil
			}

			pl, err := a.planJobs()
			if err != nil {
				return err
			}
			if asJSON {
				out := make([]listedJob, 0, len(pl.jobs))
				for _, job := range pl.jobs {
					steps := make([]string, len(job.Steps))
					for i, s := range job.Steps {
						steps[i] = s.Name
					}
					out = append(out, listedJob{
						ID:          job.ID,
						Combination: job.Combination.Map(),
						Steps:       steps,
						Resources:   job.Resources,
					})
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, job := range pl.jobs {
				steps := make([]string, len(job.Steps))
				for i, s := range job.Steps {
					steps[i] = s.Name
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					color.HiWhiteString("%s", job.ID),
					job.Combination.Key(),
					color.CyanString("%s", strings.Join(steps, ", ")),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%d jobs\n", len(pl.jobs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "print only the number of combinations")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print jobs as JSON")
	return cmd
}

// noArgs 与 cobra.NoArgs 相同，但错误按用法错误处理
func noArgs(cmd *cobra.Command, args []string) error {
	return invalid(cobra.NoArgs(cmd, args))
}

// exactArgs 与 cobra.ExactArgs 相同，但错误按用法错误处理
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return invalid(cobra.ExactArgs(n)(cmd, args))
	}
}

// minArgs 与 cobra.MinimumNArgs 相同，但错误按用法错误处理
func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return invalid(cobra.MinimumNArgs(n)(cmd, args))
	}
}
