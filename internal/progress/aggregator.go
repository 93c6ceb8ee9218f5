package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
	"go.uber.org/zap"
)

// Aggregator recomputes and stores promise progress from the current link set.
type Aggregator struct {
	client *ledger.Client
	scorer Scorer
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator. A nil scorer means DefaultPolicy().
func NewAggregator(client *ledger.Client, scorer Scorer, logger *zap.Logger) *Aggregator {
	if scorer == nil {
		scorer = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		client: client,
		scorer: scorer,
		logger: logger.Named("progress"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate scores a promise from its linked evidence plus any extra items, without writing.
// Linked IDs whose evidence no longer exists are skipped. Returns redis.Nil if the promise
// doesn't exist.
func (a *Aggregator) Evaluate(ctx context.Context, promiseID string, extra ...*ledger.EvidenceItem) (ledger.Progress, error) {
	promise, err := a.client.GetPromise(ctx, promiseID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return ledger.Progress{}, err
		}
		return ledger.Progress{}, fmt.Errorf("failed to load promise %s: %w", promiseID, err)
	}

	return a.score(ctx, promiseID, promise.LinkedEvidenceIDs, extra...)
}

// Rescore recomputes a promise's progress and writes it back with the current time as
// last_scored_at. Concurrent link changes to the promise force a re-read, so the stored
// progress matches the final evidence set. Returns redis.Nil if the promise doesn't exist.
func (a *Aggregator) Rescore(ctx context.Context, promiseID string) (ledger.Progress, error) {
	progress, err := a.client.RescorePromise(ctx, promiseID, func(ctx context.Context, linked []string) (ledger.Progress, error) {
		return a.score(ctx, promiseID, linked)
	}, a.now())
	if err != nil {
		return ledger.Progress{}, err
	}

	a.logger.Debug("promise_rescored",
		zap.String("promise_id", promiseID),
		zap.Int("score", progress.Score),
		zap.String("status", string(progress.Status)),
		zap.Int("evidence_count", progress.EvidenceCount))

	return progress, nil
}

func (a *Aggregator) score(ctx context.Context, promiseID string, linked []string, extra ...*ledger.EvidenceItem) (ledger.Progress, error) {
	evidence, err := a.client.GetEvidenceBatch(ctx, linked)
	if err != nil {
		return ledger.Progress{}, fmt.Errorf("failed to load evidence for promise %s: %w", promiseID, err)
	}

	if skipped := len(linked) - len(evidence); skipped > 0 {
		a.logger.Debug("dangling_evidence_skipped",
			zap.String("promise_id", promiseID),
			zap.Int("skipped", skipped))
	}

	return a.scorer.Score(append(evidence, extra...)), nil
}
