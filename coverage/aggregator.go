package coverage

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Artifact is one job's coverage output.
type Artifact struct {
	JobID string
	// Path is empty when the job produced no coverage.
	Path string
}

// Aggregator loads per-job artifacts and merges them.
type Aggregator struct {
	concurrency int
	logger      *zap.Logger
}

// NewAggregator creates an aggregator reading at most concurrency files at
// once.
func NewAggregator(concurrency int, logger *zap.Logger) *Aggregator {
	if concurrency < 1 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "coverage")),
	}
}

// Collect merges every readable artifact. Missing or unreadable ones mark
// the report incomplete and are listed by job id; only ctx cancellation
// returns an error.
func (a *Aggregator) Collect(ctx context.Context, artifacts []Artifact) (*Report, error) {
	reports := make([]*Report, len(artifacts))
	var (
		mu      sync.Mutex
		missing []string
	)
	markMissing := func(id string) {
		mu.Lock()
		missing = append(missing, id)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, art := range artifacts {
		if art.Path == "" {
			a.logger.Warn("job produced no coverage", zap.String("job_id", art.JobID))
			markMissing(art.JobID)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := ReadFile(art.Path)
			if err != nil {
				a.logger.Warn("coverage artifact unreadable",
					zap.String("job_id", art.JobID),
					zap.String("path", art.Path),
					zap.Error(err),
				)
				markMissing(art.JobID)
				return nil
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(reports...)
	if len(missing) > 0 {
		merged.Incomplete = true
		merged.Missing = mergeIDs(merged.Missing, missing)
	}
	summary := merged.Summary()
	a.logger.Info("coverage merged",
		zap.Int("artifacts", len(artifacts)),
		zap.Int("files", summary.Files),
		zap.Float64("percent", summary.Percent),
		zap.Bool("incomplete", merged.Incomplete),
	)
	return merged, nil
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string(nil), a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
