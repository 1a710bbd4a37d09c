package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/matrixflow/internal/database"
	"github.com/BaSui01/matrixflow/workflow"
)

// ErrUnknownRun 运行记录不存在
var ErrUnknownRun = errors.New("history: unknown run")

// 运行状态
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
)

// RunRecord 一次 run-all 调用
type RunRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	Pipeline   string `gorm:"index;size:255"`
	Status     string `gorm:"size:16"`
	Jobs       int
	Passed     int
	Failed     int
	TimedOut   int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// JobRecord 一个作业在某次运行中的结果
type JobRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index;size:36"`
	JobID       string `gorm:"index;size:255"`
	Combination string
	Status      string `gorm:"size:16"`
	Error       string
	Warnings    int
	Coverage    string
	DurationMS  int64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store 基于 GORM 的运行历史存储
type Store struct {
	pool       *database.PoolManager
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewStore 创建历史存储并迁移表结构
func NewStore(ctx context.Context, pool *database.PoolManager, logger *zap.Logger) (*Store, error) {
	s := newStore(pool, logger)
	if err := pool.DB().WithContext(ctx).AutoMigrate(&RunRecord{}, &JobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history tables: %w", err)
	}
	return s, nil
}

func newStore(pool *database.PoolManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:       pool,
		logger:     logger.With(zap.String("component", "history")),
		maxRetries: 3,
		now:        time.Now,
	}
}

// BeginRun 创建运行记录，返回新的运行 ID
func (s *Store) BeginRun(ctx context.Context, pipeline string, jobs int) (*RunRecord, error) {
	run := &RunRecord{
		ID:        uuid.NewString(),
		Pipeline:  pipeline,
		Status:    RunRunning,
		Jobs:      jobs,
		StartedAt: s.now().UTC(),
	}
	if err := s.pool.DB().WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.logger.Debug("run started", zap.String("run_id", run.ID), zap.String("pipeline", pipeline))
	return run, nil
}

// RecordReport 在一个事务中写入全部作业结果并结束运行
func (s *Store) RecordReport(ctx context.Context, runID string, report *workflow.Report) error {
	records := make([]JobRecord, 0, len(report.Results))
	for _, res := range report.Results {
		records = append(records, jobRecord(runID, res))
	}
	finished := s.now().UTC()
	status := RunPassed
	if report.ExitCode() != 0 {
		status = RunFailed
	}

	return s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return fmt.Errorf("insert job records: %w", err)
			}
		}
		res := tx.Model(&RunRecord{}).Where("id = ?", runID).Updates(map[string]any{
			"status":      status,
			"passed":      report.Passed,
			"failed":      report.Failed,
			"timed_out":   report.TimedOut,
			"finished_at": finished,
		})
		if res.Error != nil {
			return fmt.Errorf("finish run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
		}
		return nil
	})
}

func jobRecord(runID string, res *workflow.JobResult) JobRecord {
	return JobRecord{
		RunID:       runID,
		JobID:       res.JobID,
		Combination: res.Combination,
		Status:      string(res.Status),
		Error:       res.Error,
		Warnings:    len(res.Warnings()),
		Coverage:    res.Coverage,
		DurationMS:  res.Duration().Milliseconds(),
		StartedAt:   res.StartedAt.UTC(),
		FinishedAt:  res.FinishedAt.UTC(),
	}
}

// Latest 返回流水线中每个作业最近一次记录，按作业 ID 排序
func (s *Store) Latest(ctx context.Context, pipeline string) ([]JobRecord, error) {
	var rows []JobRecord
	err := s.pool.DB().WithContext(ctx).
		Table("job_records").
		Select("job_records.*").
		Joins("JOIN run_records ON run_records.id = job_records.run_id").
		Where("run_records.pipeline = ?", pipeline).
		Order("job_records.finished_at DESC").
		Order("job_records.id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	latest := make([]JobRecord, 0, len(rows))
	for _, r := range rows {
		if seen[r.JobID] {
			continue
		}
		seen[r.JobID] = true
		latest = append(latest, r)
	}
	sort.Slice(latest, func(i, j int) bool { return latest[i].JobID < latest[j].JobID })
	return latest, nil
}

// LatestStatuses 返回作业 ID 到最近状态的映射
func (s *Store) LatestStatuses(ctx context.Context, pipeline string) (map[string]workflow.Status, error) {
	latest, err := s.Latest(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	out := make(map[string]workflow.Status, len(latest))
	for _, r := range latest {
		out[r.JobID] = workflow.Status(r.Status)
	}
	return out, nil
}

// Runs 返回最近的运行记录，新的在前
func (s *Store) Runs(ctx context.Context, pipeline string, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	q := s.pool.DB().WithContext(ctx).Where("pipeline = ?", pipeline).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}

// SelectRerun 保留最近状态不是 passed 的作业；从未记录过的作业也会保留
func SelectRerun(jobs []*workflow.Job, statuses map[string]workflow.Status) []*workflow.Job {
	var out []*workflow.Job
	for _, job := range jobs {
		if statuses[job.ID] != workflow.StatusPassed {
			out = append(out, job)
		}
	}
	return out
}
