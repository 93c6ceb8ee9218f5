// Package reconcile detects and repairs drift between the two sides of the evidence/promise
// relation. It is safe to run while linking is in progress: every write is a conditional
// script that re-checks its precondition inside Redis, so a link committed after the scan is
// never undone.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dyluth/pledge/internal/metrics"
	"github.com/dyluth/pledge/pkg/ledger"
	"go.uber.org/zap"
)

// MaxBatchSize is the largest number of repairs committed in one pipeline.
const MaxBatchSize = 500

// Options controls a reconciliation run.
type Options struct {
	// DryRun reports what would be repaired without writing anything
	DryRun bool

	// Rescore recomputes progress for every promise whose evidence set was repaired
	Rescore bool
}

// Report summarises a reconciliation run. It is informational only.
type Report struct {
	EvidenceScanned     int           `json:"evidence_scanned"`
	PromisesScanned     int           `json:"promises_scanned"`
	BackRefsAdded       int           `json:"backrefs_added"`
	DanglingRefsDropped int           `json:"dangling_refs_dropped"`
	OrphansRemoved      int           `json:"orphans_removed"`
	StatusesRepaired    int           `json:"statuses_repaired"`
	IndexEntriesAdded   int           `json:"index_entries_added"`
	Rescored            int           `json:"rescored"`
	AffectedPromises    []string      `json:"affected_promises,omitempty"`
	DryRun              bool          `json:"dry_run"`
	Duration            time.Duration `json:"duration_ns"`
}

// Repairs returns the total number of repairs in the report.
func (r *Report) Repairs() int {
	return r.BackRefsAdded + r.DanglingRefsDropped + r.OrphansRemoved + r.StatusesRepaired + r.IndexEntriesAdded
}

// Rescorer recomputes one promise's progress.
type Rescorer interface {
	Rescore(ctx context.Context, promiseID string) (ledger.Progress, error)
}

// Reconciler scans both stores and queues conditional repairs.
type Reconciler struct {
	client    *ledger.Client
	rescorer  Rescorer
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a reconciler. batchSize is clamped to (0, MaxBatchSize]; rescorer may be nil when
// Options.Rescore is never used.
func New(client *ledger.Client, rescorer Rescorer, batchSize int, logger *zap.Logger, m *metrics.Metrics) *Reconciler {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		client:    client,
		rescorer:  rescorer,
		batchSize: batchSize,
		logger:    logger.Named("reconcile"),
		metrics:   m,
	}
}

// Run performs one full reconciliation pass:
//   - forward, over every evidence item: drop references to promises that don't exist, add
//     missing back-references, and restore the status/link-count invariant. A referenced
//     promise whose hash exists but is missing from the promise index is re-indexed, so the
//     scan and the repair scripts agree on what exists
//   - reverse, over every promise: remove evidence IDs whose evidence is gone or no longer
//     references the promise
//
// Running it twice in a row reports no repairs the second time.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	report := &Report{DryRun: opts.DryRun}

	promiseIDs, err := r.client.PromiseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list promises: %w", err)
	}
	promiseExists := make(map[string]struct{}, len(promiseIDs))
	promiseLinks := make(map[string]map[string]struct{}, len(promiseIDs))
	for _, pid := range promiseIDs {
		promiseExists[pid] = struct{}{}
		linked, err := r.client.PromiseEvidenceIDs(ctx, pid)
		if err != nil {
			return nil, err
		}
		promiseLinks[pid] = toSet(linked)
	}

	// Promises found through evidence references whose hash exists outside the index
	unindexed := make(map[string]bool)
	exists := func(pid string) (bool, error) {
		if _, ok := promiseExists[pid]; ok {
			return true, nil
		}
		if found, ok := unindexed[pid]; ok {
			return found, nil
		}
		found, err := r.client.PromiseExists(ctx, pid)
		if err != nil {
			return false, err
		}
		unindexed[pid] = found
		if found {
			linked, err := r.client.PromiseEvidenceIDs(ctx, pid)
			if err != nil {
				return false, err
			}
			promiseLinks[pid] = toSet(linked)
		}
		return found, nil
	}

	evidenceIDs, err := r.client.EvidenceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}

	w := &writer{r: r, ctx: ctx, opts: opts, report: report, affected: make(map[string]struct{})}

	evidenceLinks := make(map[string]map[string]struct{}, len(evidenceIDs))
	for i := 0; i < len(evidenceIDs); i += r.batchSize {
		end := i + r.batchSize
		if end > len(evidenceIDs) {
			end = len(evidenceIDs)
		}

		items, err := r.client.GetEvidenceBatch(ctx, evidenceIDs[i:end])
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			report.EvidenceScanned++
			evidenceLinks[item.ID] = toSet(item.PromiseIDs)

			remaining := 0
			for _, pid := range item.PromiseIDs {
				found, err := exists(pid)
				if err != nil {
					return nil, err
				}
				if !found {
					if err := w.queue(ledger.RepairDanglingRef, item.ID, pid); err != nil {
						return nil, err
					}
					continue
				}
				remaining++
				if _, ok := promiseLinks[pid][item.ID]; !ok {
					if err := w.queue(ledger.RepairBackRef, item.ID, pid); err != nil {
						return nil, err
					}
				}
			}

			if statusDrifted(item.LinkingStatus, remaining) {
				if err := w.queue(ledger.RepairStatus, item.ID, ""); err != nil {
					return nil, err
				}
			}
		}
	}

	var restored []string
	for pid, found := range unindexed {
		if found {
			restored = append(restored, pid)
		}
	}
	sort.Strings(restored)
	for _, pid := range restored {
		promiseIDs = append(promiseIDs, pid)
		if err := w.queue(ledger.RepairPromiseIndex, "", pid); err != nil {
			return nil, err
		}
	}
	sort.Strings(promiseIDs)
	report.PromisesScanned = len(promiseIDs)

	for _, pid := range promiseIDs {
		for _, eid := range sortedKeys(promiseLinks[pid]) {
			if _, ok := evidenceLinks[eid][pid]; ok {
				continue
			}
			if err := w.queue(ledger.RepairOrphan, eid, pid); err != nil {
				return nil, err
			}
		}
	}

	if err := w.flush(); err != nil {
		return nil, err
	}

	report.AffectedPromises = sortedKeys(w.affected)

	if opts.Rescore && !opts.DryRun && r.rescorer != nil {
		for _, pid := range report.AffectedPromises {
			if _, err := r.rescorer.Rescore(ctx, pid); err != nil {
				if ledger.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to rescore promise %s: %w", pid, err)
			}
			report.Rescored++
		}
	}

	report.Duration = time.Since(start)

	r.logger.Info("reconcile_completed",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("evidence_scanned", report.EvidenceScanned),
		zap.Int("promises_scanned", report.PromisesScanned),
		zap.Int("back_refs_added", report.BackRefsAdded),
		zap.Int("dangling_refs_dropped", report.DanglingRefsDropped),
		zap.Int("orphans_removed", report.OrphansRemoved),
		zap.Int("statuses_repaired", report.StatusesRepaired),
		zap.Int("rescored", report.Rescored),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// statusDrifted reports whether a status disagrees with the link count it will have after
// dangling references are dropped.
func statusDrifted(status ledger.LinkingStatus, links int) bool {
	switch status {
	case ledger.LinkingStatusProcessed:
		return links == 0
	case ledger.LinkingStatusNoMatches:
		return links > 0
	default:
		return false
	}
}

// writer accumulates repairs and commits them in bounded batches.
type writer struct {
	r        *Reconciler
	ctx      context.Context
	opts     Options
	report   *Report
	batch    *ledger.RepairBatch
	affected map[string]struct{}
}

func (w *writer) queue(kind ledger.RepairKind, evidenceID, promiseID string) error {
	if w.opts.DryRun {
		w.count(ledger.RepairResult{Kind: kind, EvidenceID: evidenceID, PromiseID: promiseID, Changed: true})
		return nil
	}

	if w.batch == nil {
		w.batch = w.r.client.NewRepairBatch()
	}
	switch kind {
	case ledger.RepairBackRef:
		w.batch.EnsureBackRef(evidenceID, promiseID)
	case ledger.RepairDanglingRef:
		w.batch.DropDanglingRef(evidenceID, promiseID)
	case ledger.RepairOrphan:
		w.batch.RemoveOrphan(promiseID, evidenceID)
	case ledger.RepairStatus:
		w.batch.RepairStatus(evidenceID)
	case ledger.RepairPromiseIndex:
		w.batch.RestorePromiseIndex(promiseID)
	}

	if w.batch.Len() >= w.r.batchSize {
		return w.flush()
	}
	return nil
}

func (w *writer) flush() error {
	if w.batch == nil || w.batch.Len() == 0 {
		return nil
	}
	results, err := w.batch.Exec(w.ctx)
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.Changed {
			w.count(result)
		}
	}
	return nil
}

func (w *writer) count(result ledger.RepairResult) {
	switch result.Kind {
	case ledger.RepairBackRef:
		w.report.BackRefsAdded++
		w.affected[result.PromiseID] = struct{}{}
	case ledger.RepairDanglingRef:
		w.report.DanglingRefsDropped++
	case ledger.RepairOrphan:
		w.report.OrphansRemoved++
		w.affected[result.PromiseID] = struct{}{}
	case ledger.RepairStatus:
		w.report.StatusesRepaired++
	case ledger.RepairPromiseIndex:
		w.report.IndexEntriesAdded++
	}

	if !w.opts.DryRun {
		w.r.metrics.RecordRepair(string(result.Kind))
	}

	w.r.logger.Debug("repair_applied",
		zap.String("kind", string(result.Kind)),
		zap.String("evidence_id", result.EvidenceID),
		zap.String("promise_id", result.PromiseID),
		zap.Bool("dry_run", w.opts.DryRun))
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
