package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/coverage"
)

// =============================================================================
// 📊 coverage 命令
// =============================================================================

func newCoverageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Work with coverage reports",
	}
	cmd.AddCommand(newCoverageMergeCmd(a))
	return cmd
}

func newCoverageMergeCmd(a *app) *cobra.Command {
	var (
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "merge <files...> -o out",
		Short: "Merge JSON or LCOV coverage reports into one",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return invalid(fmt.Errorf("--output is required"))
			}
			f := coverage.FormatForPath(output)
			if format != "" {
				var err error
				if f, err = coverage.ParseFormat(format); err != nil {
					return invalid(err)
				}
			}

			reports := make([]*coverage.Report, 0, len(args))
			var missing []string
			for _, path := range args {
				r, err := coverage.ReadFile(path)
				if err != nil {
					a.logger.Warn("coverage input skipped", zap.String("path", path), zap.Error(err))
					missing = append(missing, path)
					continue
				}
				reports = append(reports, r)
			}
			merged := coverage.Merge(reports...)
			if len(missing) > 0 {
				merged.Incomplete = true
				merged.Missing = append(merged.Missing, missing...)
			}

			if err := ensureParent(output); err != nil {
				return err
			}
			if err := coverage.WriteFile(output, merged, f); err != nil {
				return err
			}

			s := merged.Summary()
			fmt.Fprintf(a.stdout, "merged %d reports into %s: %.1f%% of %d lines in %d files\n",
				len(reports), output, s.Percent, s.Lines, s.Files)
			if merged.Incomplete {
				fmt.Fprintln(a.stdout, color.YellowString("incomplete, unreadable: %s", strings.Join(missing, ", ")))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "merged report path")
	cmd.Flags().StringVar(&format, "format", "", "output format: json or lcov (default from the output extension)")
	return cmd
}
