package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ScoreRequest selects the promises for a scoring run. PromiseIDs takes precedence over
// Since; with neither set every promise is rescored.
type ScoreRequest struct {
	Since      time.Time
	PromiseIDs []string
	Limit      int // 0 means no limit
	DryRun     bool
}

// RunScoring recomputes progress for the selected promises. A dry run computes and reports
// the scores without writing them.
func (e *Engine) RunScoring(ctx context.Context, req ScoreRequest) (*Summary, error) {
	start := time.Now()
	summary := newSummary(req.DryRun)

	ids, err := e.selectPromises(ctx, req)
	if err != nil {
		return nil, err
	}

	e.logger.Info("scoring_started",
		zap.String("run_id", summary.RunID),
		zap.Int("promises", len(ids)),
		zap.Bool("dry_run", req.DryRun))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			var (
				p   ledger.Progress
				err error
			)
			if req.DryRun {
				p, err = e.aggregator.Evaluate(ctx, id)
			} else {
				p, err = e.aggregator.Rescore(ctx, id)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if ledger.IsNotFound(err) {
					summary.recordError(fmt.Sprintf("promise %s: not found", id))
				} else {
					summary.recordError(fmt.Sprintf("promise %s: %v", id, err))
				}
				return nil
			}

			summary.Scores = append(summary.Scores, PromiseScore{PromiseID: id, Progress: p})
			summary.PromisesRescored++
			if !req.DryRun {
				e.metrics.RecordRescore()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Scores, func(i, j int) bool { return summary.Scores[i].PromiseID < summary.Scores[j].PromiseID })
	summary.Duration = time.Since(start)
	e.metrics.ObserveRun("score", summary.Duration)

	e.logger.Info("scoring_completed",
		zap.String("run_id", summary.RunID),
		zap.Int("promises_rescored", summary.PromisesRescored),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (e *Engine) selectPromises(ctx context.Context, req ScoreRequest) ([]string, error) {
	var (
		ids []string
		err error
	)
	switch {
	case len(req.PromiseIDs) > 0:
		ids = req.PromiseIDs
	case !req.Since.IsZero():
		ids, err = e.client.PromisesLinkedSince(ctx, req.Since)
	default:
		ids, err = e.client.PromiseIDs(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select promises: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
		if req.Limit > 0 && len(unique) == req.Limit {
			break
		}
	}
	return unique, nil
}
