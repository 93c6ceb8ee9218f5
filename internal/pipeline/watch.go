package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/pledge/internal/filter"
	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCorpusRefresh is how often watch mode reloads the promise corpus.
const DefaultCorpusRefresh = 5 * time.Minute

// WatchRequest configures event-driven linking.
type WatchRequest struct {
	Criteria      filter.Criteria
	Scope         prefilter.Scope
	CorpusRefresh time.Duration

	// SkipBacklog disables the initial linking run over items already pending
	SkipBacklog bool

	// OnResult, when set, is called after each event-driven item finishes
	OnResult func(ItemResult)
}

// Watch links evidence as soon as it is ingested or reset, and blocks until ctx is cancelled.
// Pub/Sub delivery is at-most-once; anything missed stays pending for the next batch run.
func (e *Engine) Watch(ctx context.Context, req WatchRequest) error {
	if err := req.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid evidence criteria: %w", err)
	}
	refresh := req.CorpusRefresh
	if refresh <= 0 {
		refresh = DefaultCorpusRefresh
	}

	// Subscribe before draining the backlog so nothing ingested in between is missed
	subscription, err := e.client.SubscribeEvidenceEvents(ctx)
	if err != nil {
		return err
	}
	defer subscription.Close()

	var corpus atomic.Pointer[prefilter.Corpus]
	initial, err := e.LoadCorpus(ctx, req.Scope)
	if err != nil {
		return err
	}
	corpus.Store(initial)

	e.logger.Info("watch_started",
		zap.String("instance", e.client.InstanceName()),
		zap.Int("corpus", initial.Len()),
		zap.Duration("corpus_refresh", refresh))

	if !req.SkipBacklog {
		if _, err := e.RunLinking(ctx, LinkRequest{Criteria: req.Criteria, Scope: req.Scope}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to link pending backlog: %w", err)
		}
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	var (
		inflight sync.Map
		g        errgroup.Group
	)
	g.SetLimit(e.opts.Workers)
	defer g.Wait()

	errs := subscription.Errors()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("watch_stopping")
			return nil

		case <-ticker.C:
			fresh, err := e.LoadCorpus(ctx, req.Scope)
			if err != nil {
				e.logger.Warn("corpus_refresh_failed", zap.Error(err))
				continue
			}
			corpus.Store(fresh)
			e.logger.Debug("corpus_refreshed", zap.Int("corpus", fresh.Len()))

		case event, ok := <-subscription.Events():
			if !ok {
				e.logger.Info("subscription_closed")
				return nil
			}
			if event.Status != ledger.LinkingStatusPending {
				continue
			}
			if _, busy := inflight.LoadOrStore(event.EvidenceID, struct{}{}); busy {
				continue
			}

			id := event.EvidenceID
			g.Go(func() error {
				defer inflight.Delete(id)
				e.handleEvent(ctx, corpus.Load(), id, req)
				return nil
			})

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.logger.Warn("subscription_error", zap.Error(err))
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, corpus *prefilter.Corpus, evidenceID string, req WatchRequest) {
	item, err := e.client.GetEvidence(ctx, evidenceID)
	if err != nil {
		if !ledger.IsNotFound(err) && ctx.Err() == nil {
			e.logger.Warn("evidence_load_failed", zap.String("evidence_id", evidenceID), zap.Error(err))
		}
		return
	}

	// A concurrent batch run may already have linked it
	if item.LinkingStatus != ledger.LinkingStatusPending || !req.Criteria.Matches(item) {
		return
	}

	result, _ := e.processItem(ctx, corpus, item, false)
	if result.Status == "" {
		return
	}

	e.logger.Info("evidence_event_processed",
		zap.String("evidence_id", evidenceID),
		zap.String("status", string(result.Status)),
		zap.Int("added", len(result.Added)),
		zap.Int("removed", len(result.Removed)))

	if req.OnResult != nil {
		req.OnResult(result)
	}
}
