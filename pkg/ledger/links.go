package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-transaction retries when the evidence's link set changes
// between WATCH and EXEC.
const maxTxRetries = 8

// LinkChange describes how one ApplyLinks call changed an evidence item's links.
// Added and Removed are the promises whose linked-evidence set changed and therefore need
// rescoring. All slices are sorted.
type LinkChange struct {
	EvidenceID string
	Status     LinkingStatus
	Added      []string
	Removed    []string
	Kept       []string
}

// Affected returns the promises whose linked-evidence set changed (added then removed).
func (lc *LinkChange) Affected() []string {
	affected := make([]string, 0, len(lc.Added)+len(lc.Removed))
	affected = append(affected, lc.Added...)
	affected = append(affected, lc.Removed...)
	return affected
}

// ApplyLinks records the accepted promise set for one evidence item, on both sides of the
// relation, in a single MULTI/EXEC:
//   - the evidence's promise set is replaced by promiseIDs
//   - linking_status becomes processed (or no_matches when promiseIDs is empty), last_error is
//     cleared and the status index is updated
//   - the evidence ID is SADDed to each accepted promise's evidence set (set-union, so
//     concurrent writers for the same promise never clobber each other)
//   - the evidence ID is SREMed from promises it linked to on a previous pass but no longer does
//
// The evidence's promise set is WATCHed so a concurrent ApplyLinks or reconciliation for the
// same item forces a retry instead of a lost update. Returns redis.Nil if the evidence item
// doesn't exist.
func (c *Client) ApplyLinks(ctx context.Context, evidenceID string, promiseIDs []string, at time.Time) (*LinkChange, error) {
	accepted := sortedMembers(promiseIDs)

	status := LinkingStatusProcessed
	if len(accepted) == 0 {
		status = LinkingStatusNoMatches
	}

	evidenceKey := EvidenceKey(c.instanceName, evidenceID)
	linksKey := EvidencePromisesKey(c.instanceName, evidenceID)
	updatesKey := PromiseLinkUpdatesKey(c.instanceName)
	atMs := at.UnixMilli()

	var change *LinkChange

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, evidenceKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return redis.Nil
		}

		previous, err := tx.SMembers(ctx, linksKey).Result()
		if err != nil {
			return err
		}
		change = diffLinks(evidenceID, status, previous, accepted)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, linksKey)
			if len(accepted) > 0 {
				pipe.SAdd(ctx, linksKey, toMembers(accepted)...)
			}

			pipe.HSet(ctx, evidenceKey,
				"linking_status", string(status),
				"last_processed_at_ms", atMs,
			)
			pipe.HDel(ctx, evidenceKey, "last_error")
			c.moveStatus(ctx, pipe, evidenceID, status)

			for _, promiseID := range accepted {
				pipe.SAdd(ctx, PromiseEvidenceKey(c.instanceName, promiseID), evidenceID)
			}
			for _, promiseID := range change.Removed {
				pipe.SRem(ctx, PromiseEvidenceKey(c.instanceName, promiseID), evidenceID)
			}
			for _, promiseID := range change.Affected() {
				pipe.ZAdd(ctx, updatesKey, redis.Z{Score: float64(atMs), Member: promiseID})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.rdb.Watch(ctx, txf, linksKey)
		if err == nil {
			// Links are committed; the event is advisory
			_ = c.publishLinkEvent(ctx, LinkEvent{
				EvidenceID: evidenceID,
				Status:     status,
				Added:      change.Added,
				Removed:    change.Removed,
			})
			return change, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply links for evidence %s: %w", evidenceID, err)
	}

	return nil, fmt.Errorf("failed to apply links for evidence %s: transaction retries exhausted", evidenceID)
}

// MarkError records a failed linking pass. Existing links are left untouched so a failed
// retry never partially rewrites the relation. Returns redis.Nil if the item doesn't exist.
func (c *Client) MarkError(ctx context.Context, evidenceID string, message string, at time.Time) error {
	key := EvidenceKey(c.instanceName, evidenceID)

	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check evidence existence: %w", err)
	}
	if exists == 0 {
		return redis.Nil
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"linking_status", string(LinkingStatusError),
			"last_error", message,
			"last_processed_at_ms", at.UnixMilli(),
		)
		c.moveStatus(ctx, pipe, evidenceID, LinkingStatusError)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark evidence %s as errored: %w", evidenceID, err)
	}

	return nil
}

// ResetEvidence returns an evidence item to pending so the next linking pass reprocesses it.
// This is the only transition out of a terminal state. Links are kept until the next
// ApplyLinks replaces them. Resetting a pending item is a no-op.
// Returns (false, redis.Nil) if the item doesn't exist.
func (c *Client) ResetEvidence(ctx context.Context, evidenceID string) (bool, error) {
	key := EvidenceKey(c.instanceName, evidenceID)

	current, err := c.rdb.HGet(ctx, key, "linking_status").Result()
	if err != nil {
		if IsNotFound(err) {
			return false, redis.Nil
		}
		return false, fmt.Errorf("failed to read evidence status: %w", err)
	}
	if LinkingStatus(current) == LinkingStatusPending {
		return false, nil
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "linking_status", string(LinkingStatusPending))
		pipe.HDel(ctx, key, "last_error")
		c.moveStatus(ctx, pipe, evidenceID, LinkingStatusPending)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to reset evidence %s: %w", evidenceID, err)
	}

	if err := c.publishEvidenceEvent(ctx, EvidenceEvent{EvidenceID: evidenceID, Status: LinkingStatusPending}); err != nil {
		return true, err
	}
	return true, nil
}

// moveStatus queues the status index update for an evidence item.
func (c *Client) moveStatus(ctx context.Context, pipe redis.Pipeliner, evidenceID string, status LinkingStatus) {
	for _, s := range LinkingStatuses {
		key := EvidenceStatusKey(c.instanceName, s)
		if s == status {
			pipe.SAdd(ctx, key, evidenceID)
		} else {
			pipe.SRem(ctx, key, evidenceID)
		}
	}
}

// diffLinks compares the previous and new promise sets of an evidence item.
func diffLinks(evidenceID string, status LinkingStatus, previous, accepted []string) *LinkChange {
	prev := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		prev[id] = struct{}{}
	}
	next := make(map[string]struct{}, len(accepted))
	for _, id := range accepted {
		next[id] = struct{}{}
	}

	change := &LinkChange{
		EvidenceID: evidenceID,
		Status:     status,
		Added:      []string{},
		Removed:    []string{},
		Kept:       []string{},
	}
	for _, id := range accepted {
		if _, ok := prev[id]; ok {
			change.Kept = append(change.Kept, id)
		} else {
			change.Added = append(change.Added, id)
		}
	}
	for _, id := range sortedMembers(previous) {
		if _, ok := next[id]; !ok {
			change.Removed = append(change.Removed, id)
		}
	}

	return change
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
