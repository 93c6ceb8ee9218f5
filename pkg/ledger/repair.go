package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Conditional repair scripts used by reconciliation. Each script re-checks its precondition
// inside Redis at write time, so a repair queued from a stale read can never undo a link that
// ApplyLinks committed in the meantime.

// ensureBackRefScript adds the evidence to the promise's set only while the evidence still
// references the promise.
// KEYS: evidence promise set, promise evidence set. ARGV: promise id, evidence id.
var ensureBackRefScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return redis.call('SADD', KEYS[2], ARGV[2])
end
return 0
`)

// dropDanglingRefScript removes a promise reference from an evidence item when the promise
// does not exist.
// KEYS: promise hash, evidence promise set, promise evidence set. ARGV: promise id, evidence id.
var dropDanglingRefScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[3], ARGV[2])
  return redis.call('SREM', KEYS[2], ARGV[1])
end
return 0
`)

// removeOrphanScript removes an evidence ID from a promise's set when the evidence no longer
// exists or no longer references the promise.
// KEYS: evidence hash, evidence promise set, promise evidence set. ARGV: promise id, evidence id.
var removeOrphanScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 and redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return 0
end
return redis.call('SREM', KEYS[3], ARGV[2])
`)

// restorePromiseIndexScript adds a promise back to the promise index while its hash exists.
// KEYS: promise hash, promise index. ARGV: promise id.
var restorePromiseIndexScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('SADD', KEYS[2], ARGV[1])
end
return 0
`)

// repairStatusScript restores the status/link invariants of one evidence item:
// processed without links returns to pending, no_matches with links becomes processed.
// Returns the new status, or an empty string when nothing changed.
// KEYS: evidence hash, evidence promise set, pending/processed/no_matches/error index keys.
// ARGV: evidence id.
var repairStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return ''
end
local status = redis.call('HGET', KEYS[1], 'linking_status')
local links = redis.call('SCARD', KEYS[2])
local target = ''
if status == 'processed' and links == 0 then
  target = 'pending'
elseif status == 'no_matches' and links > 0 then
  target = 'processed'
end
if target == '' then
  return ''
end
redis.call('HSET', KEYS[1], 'linking_status', target)
for i = 3, 6 do
  redis.call('SREM', KEYS[i], ARGV[1])
end
if target == 'pending' then
  redis.call('SADD', KEYS[3], ARGV[1])
else
  redis.call('SADD', KEYS[4], ARGV[1])
end
return target
`)

// RepairKind identifies one kind of cross-reference repair.
type RepairKind string

const (
	// RepairBackRef adds a missing promise -> evidence back-reference
	RepairBackRef RepairKind = "missing_back_reference"

	// RepairDanglingRef drops an evidence -> promise reference to a promise that doesn't exist
	RepairDanglingRef RepairKind = "dangling_promise_reference"

	// RepairOrphan removes a promise -> evidence reference not mirrored by the evidence item
	RepairOrphan RepairKind = "orphaned_evidence_reference"

	// RepairStatus restores the linking_status / link-count invariant
	RepairStatus RepairKind = "status_invariant"

	// RepairPromiseIndex re-indexes a promise whose hash exists but is missing from the index
	RepairPromiseIndex RepairKind = "promise_index_entry"
)

// RepairResult reports the outcome of one queued repair.
type RepairResult struct {
	Kind       RepairKind
	EvidenceID string
	PromiseID  string
	Changed    bool
	NewStatus  LinkingStatus // Only set for RepairStatus results that changed something
}

type repairOp struct {
	kind       RepairKind
	evidenceID string
	promiseID  string
}

// RepairBatch queues conditional reconciliation writes and executes them in one pipeline.
// Callers bound the batch size to respect per-commit write limits.
type RepairBatch struct {
	c   *Client
	ops []repairOp
}

// NewRepairBatch starts an empty batch of repairs.
func (c *Client) NewRepairBatch() *RepairBatch {
	return &RepairBatch{c: c}
}

// EnsureBackRef queues adding evidenceID to promiseID's evidence set.
func (b *RepairBatch) EnsureBackRef(evidenceID, promiseID string) {
	b.ops = append(b.ops, repairOp{kind: RepairBackRef, evidenceID: evidenceID, promiseID: promiseID})
}

// DropDanglingRef queues removing a reference to a promise that doesn't exist.
func (b *RepairBatch) DropDanglingRef(evidenceID, promiseID string) {
	b.ops = append(b.ops, repairOp{kind: RepairDanglingRef, evidenceID: evidenceID, promiseID: promiseID})
}

// RemoveOrphan queues removing evidenceID from promiseID's evidence set.
func (b *RepairBatch) RemoveOrphan(promiseID, evidenceID string) {
	b.ops = append(b.ops, repairOp{kind: RepairOrphan, evidenceID: evidenceID, promiseID: promiseID})
}

// RepairStatus queues a status invariant check for evidenceID.
func (b *RepairBatch) RepairStatus(evidenceID string) {
	b.ops = append(b.ops, repairOp{kind: RepairStatus, evidenceID: evidenceID})
}

// RestorePromiseIndex queues re-adding promiseID to the promise index.
func (b *RepairBatch) RestorePromiseIndex(promiseID string) {
	b.ops = append(b.ops, repairOp{kind: RepairPromiseIndex, promiseID: promiseID})
}

// Len returns the number of queued repairs.
func (b *RepairBatch) Len() int {
	return len(b.ops)
}

// Exec runs all queued repairs in one pipeline and clears the batch.
func (b *RepairBatch) Exec(ctx context.Context) ([]RepairResult, error) {
	if len(b.ops) == 0 {
		return nil, nil
	}

	c := b.c
	cmds := make([]*redis.Cmd, len(b.ops))

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range b.ops {
			evidenceKey := EvidenceKey(c.instanceName, op.evidenceID)
			evidenceLinks := EvidencePromisesKey(c.instanceName, op.evidenceID)
			promiseLinks := PromiseEvidenceKey(c.instanceName, op.promiseID)

			switch op.kind {
			case RepairBackRef:
				cmds[i] = ensureBackRefScript.Eval(ctx, pipe,
					[]string{evidenceLinks, promiseLinks}, op.promiseID, op.evidenceID)
			case RepairDanglingRef:
				cmds[i] = dropDanglingRefScript.Eval(ctx, pipe,
					[]string{PromiseKey(c.instanceName, op.promiseID), evidenceLinks, promiseLinks},
					op.promiseID, op.evidenceID)
			case RepairOrphan:
				cmds[i] = removeOrphanScript.Eval(ctx, pipe,
					[]string{evidenceKey, evidenceLinks, promiseLinks}, op.promiseID, op.evidenceID)
			case RepairPromiseIndex:
				cmds[i] = restorePromiseIndexScript.Eval(ctx, pipe,
					[]string{PromiseKey(c.instanceName, op.promiseID), PromiseIndexKey(c.instanceName)},
					op.promiseID)
			case RepairStatus:
				cmds[i] = repairStatusScript.Eval(ctx, pipe,
					[]string{
						evidenceKey,
						evidenceLinks,
						EvidenceStatusKey(c.instanceName, LinkingStatusPending),
						EvidenceStatusKey(c.instanceName, LinkingStatusProcessed),
						EvidenceStatusKey(c.instanceName, LinkingStatusNoMatches),
						EvidenceStatusKey(c.instanceName, LinkingStatusError),
					}, op.evidenceID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute repair batch: %w", err)
	}

	results := make([]RepairResult, len(b.ops))
	for i, op := range b.ops {
		result := RepairResult{Kind: op.kind, EvidenceID: op.evidenceID, PromiseID: op.promiseID}

		if op.kind == RepairStatus {
			target, err := cmds[i].Text()
			if err != nil {
				return nil, fmt.Errorf("failed to read status repair result: %w", err)
			}
			if target != "" {
				result.Changed = true
				result.NewStatus = LinkingStatus(target)
			}
		} else {
			n, err := cmds[i].Int64()
			if err != nil {
				return nil, fmt.Errorf("failed to read repair result: %w", err)
			}
			result.Changed = n > 0
		}

		results[i] = result
	}

	// Items returned to pending should be picked up by event-driven linkers
	for _, r := range results {
		if r.Kind == RepairStatus && r.NewStatus == LinkingStatusPending {
			_ = c.publishEvidenceEvent(ctx, EvidenceEvent{EvidenceID: r.EvidenceID, Status: LinkingStatusPending})
		}
	}

	b.ops = nil
	return results, nil
}
