package inspect

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dyluth/pledge/internal/filter"
	"github.com/dyluth/pledge/pkg/ledger"
)

// OutputFormat selects how lists are rendered.
type OutputFormat string

const (
	// OutputFormatTable prints a table with truncated titles
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSONL prints complete items as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatTable, OutputFormatJSONL:
		return OutputFormat(s), nil
	case "":
		return OutputFormatTable, nil
	}
	return "", fmt.Errorf("unknown output format: %s (must be 'table' or 'jsonl')", s)
}

const listChunk = 500

// ListQuery selects evidence for ListEvidence. Statuses are ORed; Criteria is ANDed on top.
type ListQuery struct {
	Statuses []ledger.LinkingStatus // Empty means every status
	Criteria filter.Criteria
	Limit    int // 0 means no limit
}

// ListEvidence writes the evidence matching q, ordered by event date then ID.
func ListEvidence(ctx context.Context, client *ledger.Client, q ListQuery, format OutputFormat, w io.Writer) error {
	if err := q.Criteria.Validate(); err != nil {
		return err
	}

	ids, err := selectIDs(ctx, client, q.Statuses)
	if err != nil {
		return err
	}

	var items []*ledger.EvidenceItem
	for start := 0; start < len(ids); start += listChunk {
		end := start + listChunk
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := client.GetEvidenceBatch(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to load evidence: %w", err)
		}
		for _, item := range batch {
			if q.Criteria.Matches(item) {
				items = append(items, item)
			}
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EventDate.Equal(items[j].EventDate) {
			return items[i].EventDate.Before(items[j].EventDate)
		}
		return items[i].ID < items[j].ID
	})
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}

	switch format {
	case OutputFormatTable:
		FormatTable(w, items, client.InstanceName())
	case OutputFormatJSONL:
		return FormatJSONL(w, items)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

func selectIDs(ctx context.Context, client *ledger.Client, statuses []ledger.LinkingStatus) ([]string, error) {
	if len(statuses) == 0 {
		ids, err := client.EvidenceIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list evidence: %w", err)
		}
		return ids, nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, status := range statuses {
		batch, err := client.EvidenceIDsByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s evidence: %w", status, err)
		}
		for _, id := range batch {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
