// Package pipeline runs the batch entry points: linking pending evidence to promises and
// rescoring promise progress. Each evidence item flows through prefilter, oracle, decision,
// persistence and aggregation on one worker of a bounded pool.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/pledge/internal/decision"
	"github.com/dyluth/pledge/internal/filter"
	"github.com/dyluth/pledge/internal/metrics"
	"github.com/dyluth/pledge/internal/oracle"
	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/internal/progress"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for Options.
const (
	DefaultWorkers        = 4
	DefaultMaxItemsPerRun = 200

	// maxErrorMessages bounds the error messages carried in a Summary
	maxErrorMessages = 5

	// loadChunk bounds the IDs fetched per store round trip
	loadChunk = 500
)

// Oracle judges candidate promises for one evidence item.
type Oracle interface {
	Judge(ctx context.Context, req oracle.Request) ([]oracle.Judgment, error)
}

// Options configures an Engine.
type Options struct {
	Workers        int
	MaxItemsPerRun int
	Prefilter      prefilter.Options
}

// Engine runs linking and scoring batches against one ledger.
type Engine struct {
	client     *ledger.Client
	oracle     Oracle
	decider    *decision.Engine
	aggregator *progress.Aggregator
	opts       Options
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewEngine creates a pipeline engine. Zero-valued options take their defaults; logger and
// metrics may be nil.
func NewEngine(client *ledger.Client, o Oracle, decider *decision.Engine, aggregator *progress.Aggregator, opts Options, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxItemsPerRun <= 0 {
		opts.MaxItemsPerRun = DefaultMaxItemsPerRun
	}
	if opts.Prefilter.MaxCandidates <= 0 {
		opts.Prefilter.MaxCandidates = prefilter.DefaultMaxCandidates
	}
	if decider == nil {
		decider = decision.NewEngine(decision.DefaultMinConfidence)
	}
	if aggregator == nil {
		aggregator = progress.NewAggregator(client, nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:     client,
		oracle:     o,
		decider:    decider,
		aggregator: aggregator,
		opts:       opts,
		logger:     logger.Named("pipeline"),
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LinkRequest selects the evidence and promise corpus for a linking run.
type LinkRequest struct {
	Criteria filter.Criteria
	Scope    prefilter.Scope
	Limit    int // 0 means Options.MaxItemsPerRun
	DryRun   bool
}

// ItemResult is the outcome of one evidence item in a linking run.
type ItemResult struct {
	EvidenceID string                  `json:"evidence_id"`
	Status     ledger.LinkingStatus    `json:"status"`
	Candidates int                     `json:"candidates"`
	Decisions  []decision.LinkDecision `json:"decisions,omitempty"`
	Added      []string                `json:"added,omitempty"`
	Removed    []string                `json:"removed,omitempty"`
	Err        error                   `json:"-"`
}

// Summary reports a batch run.
type Summary struct {
	RunID            string         `json:"run_id"`
	DryRun           bool           `json:"dry_run"`
	ItemsProcessed   int            `json:"items_processed"`
	NoMatches        int            `json:"no_matches"`
	LinksCreated     int            `json:"links_created"`
	LinksRemoved     int            `json:"links_removed"`
	PromisesRescored int            `json:"promises_rescored"`
	Errors           int            `json:"errors"`
	ErrorMessages    []string       `json:"error_messages,omitempty"`
	Duration         time.Duration  `json:"duration_ns"`
	Items            []ItemResult   `json:"items,omitempty"`
	Scores           []PromiseScore `json:"scores,omitempty"`
}

// PromiseScore is one promise's progress as computed by a scoring run.
type PromiseScore struct {
	PromiseID string          `json:"promise_id"`
	Progress  ledger.Progress `json:"progress"`
}

func newSummary(dryRun bool) *Summary {
	return &Summary{RunID: uuid.New().String(), DryRun: dryRun}
}

func (s *Summary) recordError(msg string) {
	s.Errors++
	if len(s.ErrorMessages) < maxErrorMessages {
		s.ErrorMessages = append(s.ErrorMessages, msg)
	}
}

// RunLinking processes up to Limit pending evidence items matching req.Criteria.
// Per-item failures are recorded as error status and never abort the batch. The only error
// returned is a setup failure or ctx cancellation, in which case the partial summary is also
// returned.
func (e *Engine) RunLinking(ctx context.Context, req LinkRequest) (*Summary, error) {
	start := time.Now()
	summary := newSummary(req.DryRun)

	if err := req.Criteria.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evidence criteria: %w", err)
	}

	limit := req.Limit
	if limit <= 0 || limit > e.opts.MaxItemsPerRun {
		limit = e.opts.MaxItemsPerRun
	}

	items, err := e.selectPending(ctx, req.Criteria, limit)
	if err != nil {
		return nil, err
	}

	corpus, err := e.LoadCorpus(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	e.logger.Info("linking_started",
		zap.String("run_id", summary.RunID),
		zap.Int("items", len(items)),
		zap.Int("corpus", corpus.Len()),
		zap.Bool("dry_run", req.DryRun))

	var (
		mu       sync.Mutex
		rescored = make(map[string]struct{})
		previews = make(map[string][]*ledger.EvidenceItem)
		g        errgroup.Group
	)
	g.SetLimit(e.opts.Workers)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			result, touched := e.processItem(ctx, corpus, item, req.DryRun)
			if result.Status == "" {
				// Interrupted before reaching a terminal state
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			summary.add(result)
			for _, id := range touched {
				if req.DryRun {
					previews[id] = append(previews[id], item)
					continue
				}
				rescored[id] = struct{}{}
			}
			return nil
		})
	}
	_ = g.Wait()

	if req.DryRun {
		e.previewScores(ctx, summary, previews)
	} else {
		summary.PromisesRescored = len(rescored)
	}
	sort.Slice(summary.Items, func(i, j int) bool { return summary.Items[i].EvidenceID < summary.Items[j].EvidenceID })
	summary.Duration = time.Since(start)
	e.metrics.ObserveRun("link", summary.Duration)

	e.logger.Info("linking_completed",
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.ItemsProcessed),
		zap.Int("no_matches", summary.NoMatches),
		zap.Int("links_created", summary.LinksCreated),
		zap.Int("links_removed", summary.LinksRemoved),
		zap.Int("promises_rescored", summary.PromisesRescored),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Summary) add(result ItemResult) {
	s.Items = append(s.Items, result)
	s.ItemsProcessed++
	switch result.Status {
	case ledger.LinkingStatusNoMatches:
		s.NoMatches++
	case ledger.LinkingStatusError:
		s.recordError(fmt.Sprintf("evidence %s: %v", result.EvidenceID, result.Err))
	}
	s.LinksCreated += len(result.Added)
	s.LinksRemoved += len(result.Removed)
}

// previewScores evaluates every promise a dry run would have linked, counting the run's accepted
// evidence as if it were already linked. Nothing is written.
func (e *Engine) previewScores(ctx context.Context, summary *Summary, previews map[string][]*ledger.EvidenceItem) {
	ids := make([]string, 0, len(previews))
	for id := range previews {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		p, err := e.aggregator.Evaluate(ctx, id, previews[id]...)
		if err != nil {
			e.logger.Warn("score_preview_failed", zap.String("promise_id", id), zap.Error(err))
			continue
		}
		summary.Scores = append(summary.Scores, PromiseScore{PromiseID: id, Progress: p})
	}
	summary.PromisesRescored = len(summary.Scores)
}

// processItem runs one evidence item through the whole chain. It returns the item result and
// the promises whose progress was rewritten, or in a dry run the promises that would be linked.
func (e *Engine) processItem(ctx context.Context, corpus *prefilter.Corpus, item *ledger.EvidenceItem, dryRun bool) (ItemResult, []string) {
	result := ItemResult{EvidenceID: item.ID}

	candidates := corpus.Candidates(item.Text(), e.opts.Prefilter)
	result.Candidates = len(candidates)
	e.metrics.ObserveCandidates(len(candidates))

	var accepted []string
	if len(candidates) > 0 {
		start := time.Now()
		judgments, err := e.oracle.Judge(ctx, oracle.NewRequest(item, candidates))
		e.metrics.ObserveOracleCall(oracleResult(err), time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown: leave the item pending for the next run
				result.Err = ctx.Err()
				return result, nil
			}
			return e.fail(ctx, result, err, dryRun), nil
		}

		outcome := e.decider.Decide(item.ID, candidates, judgments)
		result.Decisions = outcome.Decisions
		accepted = outcome.Accepted
	}

	if dryRun {
		result.Status = ledger.LinkingStatusProcessed
		if len(accepted) == 0 {
			result.Status = ledger.LinkingStatusNoMatches
		}
		result.Added = accepted
		return result, accepted
	}

	change, err := e.client.ApplyLinks(ctx, item.ID, accepted, e.now())
	if err != nil {
		if ledger.IsNotFound(err) {
			result.Status = ledger.LinkingStatusError
			result.Err = fmt.Errorf("evidence disappeared during linking")
			return result, nil
		}
		return e.fail(ctx, result, err, dryRun), nil
	}

	result.Status = change.Status
	result.Added = change.Added
	result.Removed = change.Removed
	e.metrics.RecordOutcome(string(change.Status))
	e.metrics.RecordLinkChanges(len(change.Added), len(change.Removed))

	e.logger.Debug("evidence_linked",
		zap.String("evidence_id", item.ID),
		zap.String("status", string(change.Status)),
		zap.Int("candidates", len(candidates)),
		zap.Strings("added", change.Added),
		zap.Strings("removed", change.Removed))

	var rescored []string
	for _, promiseID := range change.Affected() {
		if _, err := e.aggregator.Rescore(ctx, promiseID); err != nil {
			// Links are committed; the next scoring run picks the promise up via promise_link_updates
			e.logger.Warn("rescore_failed",
				zap.String("evidence_id", item.ID),
				zap.String("promise_id", promiseID),
				zap.Error(err))
			continue
		}
		e.metrics.RecordRescore()
		rescored = append(rescored, promiseID)
	}

	return result, rescored
}

// fail records a linking failure on the item. Existing links are left untouched.
func (e *Engine) fail(ctx context.Context, result ItemResult, cause error, dryRun bool) ItemResult {
	result.Status = ledger.LinkingStatusError
	result.Err = cause

	e.logger.Warn("linking_failed",
		zap.String("evidence_id", result.EvidenceID),
		zap.Error(cause))

	if dryRun {
		return result
	}

	e.metrics.RecordOutcome(string(ledger.LinkingStatusError))
	if err := e.client.MarkError(ctx, result.EvidenceID, cause.Error(), e.now()); err != nil {
		e.logger.Error("mark_error_failed",
			zap.String("evidence_id", result.EvidenceID),
			zap.Error(err))
	}
	return result
}

func oracleResult(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := oracle.KindOf(err); kind != "" {
		return string(kind)
	}
	return "cancelled"
}

// selectPending returns up to limit pending evidence items matching criteria, in ID order.
func (e *Engine) selectPending(ctx context.Context, criteria filter.Criteria, limit int) ([]*ledger.EvidenceItem, error) {
	ids, err := e.client.EvidenceIDsByStatus(ctx, ledger.LinkingStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending evidence: %w", err)
	}

	selected := make([]*ledger.EvidenceItem, 0, limit)
	for i := 0; i < len(ids) && len(selected) < limit; i += loadChunk {
		end := i + loadChunk
		if end > len(ids) {
			end = len(ids)
		}
		items, err := e.client.GetEvidenceBatch(ctx, ids[i:end])
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.LinkingStatus != ledger.LinkingStatusPending || !criteria.Matches(item) {
				continue
			}
			selected = append(selected, item)
			if len(selected) == limit {
				break
			}
		}
	}
	return selected, nil
}

// LoadCorpus reads every promise and builds the prefilter corpus for scope.
func (e *Engine) LoadCorpus(ctx context.Context, scope prefilter.Scope) (*prefilter.Corpus, error) {
	ids, err := e.client.PromiseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list promises: %w", err)
	}

	promises := make([]*ledger.Promise, 0, len(ids))
	for i := 0; i < len(ids); i += loadChunk {
		end := i + loadChunk
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := e.client.GetPromises(ctx, ids[i:end])
		if err != nil {
			return nil, err
		}
		promises = append(promises, batch...)
	}

	return prefilter.NewCorpus(promises, scope), nil
}
