package pipeline

import (
	"context"
	"fmt"

	"github.com/dyluth/pledge/pkg/ledger"
	"go.uber.org/zap"
)

// ResetRequest selects evidence to return to pending. IDs and Statuses are combined.
type ResetRequest struct {
	Statuses []ledger.LinkingStatus
	IDs      []string
}

// ResetSummary reports a reset.
type ResetSummary struct {
	Reset          int      `json:"reset"`
	AlreadyPending int      `json:"already_pending"`
	NotFound       []string `json:"not_found,omitempty"`
}

// Reset returns the selected evidence items to pending. Each reset publishes an evidence
// event, so a running watch relinks the items immediately.
func (e *Engine) Reset(ctx context.Context, req ResetRequest) (*ResetSummary, error) {
	if len(req.Statuses) == 0 && len(req.IDs) == 0 {
		return nil, fmt.Errorf("nothing to reset: specify a status or an evidence ID")
	}

	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	for _, status := range req.Statuses {
		if status == ledger.LinkingStatusPending {
			return nil, fmt.Errorf("cannot reset from %s", status)
		}
		batch, err := e.client.EvidenceIDsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, id := range batch {
			add(id)
		}
	}
	for _, id := range req.IDs {
		add(id)
	}

	summary := &ResetSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		changed, err := e.client.ResetEvidence(ctx, id)
		switch {
		case ledger.IsNotFound(err):
			summary.NotFound = append(summary.NotFound, id)
		case err != nil:
			return summary, err
		case changed:
			summary.Reset++
		default:
			summary.AlreadyPending++
		}
	}

	e.logger.Info("evidence_reset",
		zap.Int("reset", summary.Reset),
		zap.Int("already_pending", summary.AlreadyPending),
		zap.Int("not_found", len(summary.NotFound)))
	return summary, nil
}
