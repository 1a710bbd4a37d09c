// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow plans and runs the jobs of a build matrix.

# Overview

A Template describes the steps shared by every job. The Planner resolves it
against one matrix.Combination: step conditions are evaluated once, env
templates are interpolated and the job id is derived from the combination.
The Executor runs a job's steps strictly in order inside a fresh working
directory, and the Scheduler runs many jobs on a bounded worker pool.

# Core types

  - Template / StepTemplate  step template of a pipeline
  - RunContext               host platform and option flags seen by conditions
  - Planner                  Combination + Template -> Job
  - Job / Step               resolved executable unit
  - Runner / ShellRunner     runs one command, killing its process group on cancel
  - Executor                 sequential step execution, cache-aware fetch steps
  - Scheduler                worker pool, resource classes, dispatch rate
  - JobResult / Report       outcomes, sorted by job id

# Failure model

A failing required step fails the job and stops it. A failing optional step
is recorded as a warning. A step that exceeds its timeout marks the job
timed out. Step failures are data in JobResult, never Go errors; only
configuration problems surface as matrix.ConfigError, before any job runs.
*/
package workflow
