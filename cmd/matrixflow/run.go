package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/coverage"
	"github.com/BaSui01/matrixflow/internal/cache"
	"github.com/BaSui01/matrixflow/internal/ctxkeys"
	"github.com/BaSui01/matrixflow/internal/history"
	"github.com/BaSui01/matrixflow/internal/metrics"
	"github.com/BaSui01/matrixflow/workflow"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run one job, selected by id or unique id prefix",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pl, err := a.planJobs()
			if err != nil {
				return err
			}
			job, err := findJob(pl.jobs, args[0])
			if err != nil {
				return invalid(err)
			}

			a.initTelemetry()
			mgr, err := a.openCache()
			if err != nil {
				return err
			}
			collector := a.newCollector()
			exec := a.newExecutor(mgr, collector)

			res := exec.Run(cmd.Context(), job)
			printResult(a, res, true)
			a.exportMetrics(collector, mgr)

			if res.Status != workflow.StatusPassed {
				return &exitError{code: exitFailed}
			}
			return nil
		},
	}
}

// =============================================================================
// ⏩ run-all 命令
// =============================================================================

func newRunAllCmd(a *app) *cobra.Command {
	var rerunFailed bool
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Run every job on the worker pool and merge coverage",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pl, err := a.planJobs()
			if err != nil {
				return err
			}

			store, pool, err := a.openHistory(ctx)
			if err != nil {
				if rerunFailed {
					return err
				}
				a.logger.Warn("run history unavailable", zap.Error(err))
			}
			if rerunFailed && store == nil {
				return invalid(fmt.Errorf("--rerun-failed needs run history (database.enabled)"))
			}

			jobs := pl.jobs
			if rerunFailed {
				statuses, err := store.LatestStatuses(ctx, pl.pipeline.Name)
				if err != nil {
					return err
				}
				jobs = history.SelectRerun(jobs, statuses)
				a.logger.Info("selected jobs to rerun", zap.Int("jobs", len(jobs)), zap.Int("total", len(pl.jobs)))
				if len(jobs) == 0 {
					fmt.Fprintln(a.stdout, color.GreenString("nothing to rerun: every job passed last time"))
					return nil
				}
			}

			a.initTelemetry()
			mgr, err := a.openCache()
			if err != nil {
				return err
			}
			collector := a.newCollector()
			exec := a.newExecutor(mgr, collector)

			r := a.cfg.Runner
			sched, err := workflow.NewScheduler(workflow.SchedulerConfig{
				Parallelism:    a.parallelismLevels().Outer,
				ResourceLimits: a.resourceLimits(pl.pipeline.Template),
				DispatchRate:   r.DispatchRate,
				DispatchBurst:  r.DispatchBurst,
			}, exec, a.logger)
			if err != nil {
				return invalid(err)
			}

			var run *history.RunRecord
			if store != nil {
				run, err = store.BeginRun(ctx, pl.pipeline.Name, len(jobs))
				if err != nil {
					a.logger.Warn("failed to record run start", zap.Error(err))
				} else {
					ctx = ctxkeys.WithRunID(ctx, run.ID)
				}
			}

			a.logger.Info("run started",
				zap.String("pipeline", pl.pipeline.Name),
				zap.Int("jobs", len(jobs)),
				zap.Int("parallelism", sched.Parallelism()),
			)
			report := sched.Run(ctx, jobs)

			for _, res := range report.Results {
				printResult(a, res, false)
			}

			if pl.pipeline.Template.Coverage != "" {
				a.mergeCoverage(ctx, report)
			}

			if run != nil {
				// 即使 ctx 已取消也要落盘结果
				if err := store.RecordReport(context.WithoutCancel(ctx), run.ID, report); err != nil {
					a.logger.Warn("failed to record run results", zap.Error(err))
				}
			}
			if pool != nil {
				stats := pool.Stats()
				collector.RecordDBConnections(stats.OpenConnections, stats.Idle)
			}
			a.exportMetrics(collector, mgr)

			printSummary(a, report)
			if code := report.ExitCode(); code != exitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rerunFailed, "rerun-failed", false, "only run jobs whose last recorded status was not passed")
	return cmd
}

// mergeCoverage 合并每个作业的覆盖率产物并写出报告
func (a *app) mergeCoverage(ctx context.Context, report *workflow.Report) {
	artifacts := make([]coverage.Artifact, 0, len(report.Results))
	for _, res := range report.Results {
		artifacts = append(artifacts, coverage.Artifact{JobID: res.JobID, Path: res.Coverage})
	}
	merged, err := coverage.NewAggregator(a.cfg.Coverage.Concurrency, a.logger).Collect(ctx, artifacts)
	if err != nil {
		a.logger.Warn("coverage collection interrupted", zap.Error(err))
		return
	}

	summary := merged.Summary()
	line := fmt.Sprintf("coverage: %.1f%% of %d lines in %d files", summary.Percent, summary.Lines, summary.Files)
	if merged.Incomplete {
		line += color.YellowString(" (incomplete, missing: %s)", strings.Join(merged.Missing, ", "))
	}
	fmt.Fprintln(a.stdout, line)

	out := a.cfg.Coverage.Output
	if out == "" {
		return
	}
	format, err := coverage.ParseFormat(a.cfg.Coverage.Format)
	if err != nil {
		format = coverage.FormatForPath(out)
	}
	if err := ensureParent(out); err != nil {
		a.logger.Warn("coverage report not written", zap.Error(err))
		return
	}
	if err := coverage.WriteFile(out, merged, format); err != nil {
		a.logger.Warn("coverage report not written", zap.Error(err))
		return
	}
	a.logger.Info("coverage report written", zap.String("path", out), zap.String("format", string(format)))
}

// exportMetrics 写出 textfile 指标（若已配置）
func (a *app) exportMetrics(collector *metrics.Collector, mgr *cache.Manager) {
	if mgr != nil {
		collector.RecordCacheStats(mgr.GetStats())
	}
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := collector.WriteTextfile(path); err != nil {
		a.logger.Warn("metrics textfile not written", zap.Error(err))
	}
}

// printResult 打印单个作业的结果；verbose 时附带每个步骤
func printResult(a *app, res *workflow.JobResult, verbose bool) {
	fmt.Fprintf(a.stdout, "%s %s %s\n", statusString(string(res.Status)), res.JobID, res.Duration().Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(a.stdout, "    %s\n", color.RedString("%s", res.Error))
	}
	for _, w := range res.Warnings() {
		fmt.Fprintf(a.stdout, "    %s %s\n", color.YellowString("warning:"), w)
	}
	if !verbose {
		return
	}
	for _, step := range res.Steps {
		cacheNote := ""
		if step.Cache != "" {
			cacheNote = color.CyanString(" [cache %s]", step.Cache)
		}
		fmt.Fprintf(a.stdout, "  %s %s%s\n", statusString(string(step.Status)), step.Name, cacheNote)
		if step.Status != workflow.StepPassed && step.Stderr != "" {
			fmt.Fprintln(a.stdout, indent(step.Stderr, "      "))
		}
	}
	if res.Coverage != "" {
		fmt.Fprintf(a.stdout, "  coverage: %s\n", filepath.ToSlash(res.Coverage))
	}
}

func printSummary(a *app, report *workflow.Report) {
	fmt.Fprintf(a.stdout, "%d jobs: %s, %s, %s in %s\n",
		len(report.Results),
		color.GreenString("%d passed", report.Passed),
		color.RedString("%d failed", report.Failed),
		color.MagentaString("%d timed out", report.TimedOut),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
}

func statusString(status string) string {
	switch status {
	case "passed":
		return color.GreenString("%-9s", status)
	case "warned":
		return color.YellowString("%-9s", status)
	case "timed_out":
		return color.MagentaString("%-9s", status)
	default:
		return color.RedString("%-9s", status)
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
