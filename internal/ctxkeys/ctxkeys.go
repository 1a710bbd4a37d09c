package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey contextKey = "run_id"
	jobIDKey contextKey = "job_id"
)

// WithRunID 设置本次运行的 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithJobID 设置当前 Job ID
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobID 获取 Job ID
func JobID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(jobIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
