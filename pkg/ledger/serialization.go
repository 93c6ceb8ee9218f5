package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Scalar fields map to individual hash fields so they can be read and updated one at a time.
// Optional fields are written only when present: a missing hash field decodes to a nil pointer,
// which keeps "absent" distinct from "present but empty". Timestamps are stored as unix
// milliseconds. Link sets are NOT part of the hash; they live in dedicated Redis sets.

// EvidenceToHash converts an EvidenceItem to a Redis hash.
// The provenance map is JSON-encoded into a single field.
func EvidenceToHash(e *EvidenceItem) (map[string]interface{}, error) {
	hash := map[string]interface{}{
		"id":             e.ID,
		"source_type":    string(e.SourceType),
		"title":          e.Title,
		"description":    e.Description,
		"source_url":     e.SourceURL,
		"event_date_ms":  e.EventDate.UnixMilli(),
		"ingested_at_ms": e.IngestedAt.UnixMilli(),
		"linking_status": string(e.LinkingStatus),
	}

	if len(e.Provenance) > 0 {
		provenanceJSON, err := json.Marshal(e.Provenance)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provenance: %w", err)
		}
		hash["provenance"] = string(provenanceJSON)
	}

	if e.ParliamentSession != nil {
		hash["parliament_session"] = *e.ParliamentSession
	}
	if e.BillStage != nil {
		hash["bill_stage"] = string(*e.BillStage)
	}
	if e.LastProcessedAt != nil {
		hash["last_processed_at_ms"] = e.LastProcessedAt.UnixMilli()
	}
	if e.LastError != nil {
		hash["last_error"] = *e.LastError
	}

	return hash, nil
}

// HashToEvidence converts a Redis hash to an EvidenceItem.
// PromiseIDs is left empty; the client fills it from the evidence's promise set.
func HashToEvidence(hash map[string]string) (*EvidenceItem, error) {
	eventDate, err := parseMillis(hash, "event_date_ms")
	if err != nil {
		return nil, err
	}

	ingestedAt, err := parseMillis(hash, "ingested_at_ms")
	if err != nil {
		return nil, err
	}

	var provenance map[string]string
	if provenanceJSON := hash["provenance"]; provenanceJSON != "" {
		if err := json.Unmarshal([]byte(provenanceJSON), &provenance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
		}
	}

	e := &EvidenceItem{
		ID:            hash["id"],
		SourceType:    SourceType(hash["source_type"]),
		Title:         hash["title"],
		Description:   hash["description"],
		SourceURL:     hash["source_url"],
		EventDate:     eventDate,
		Provenance:    provenance,
		IngestedAt:    ingestedAt,
		LinkingStatus: LinkingStatus(hash["linking_status"]),
		PromiseIDs:    []string{},
	}

	if v, ok := hash["parliament_session"]; ok {
		e.ParliamentSession = &v
	}
	if v, ok := hash["bill_stage"]; ok {
		stage := BillStage(v)
		e.BillStage = &stage
	}
	if _, ok := hash["last_processed_at_ms"]; ok {
		t, err := parseMillis(hash, "last_processed_at_ms")
		if err != nil {
			return nil, err
		}
		e.LastProcessedAt = &t
	}
	if v, ok := hash["last_error"]; ok {
		e.LastError = &v
	}

	return e, nil
}

// PromiseToHash converts the static fields of a Promise to a Redis hash.
// Progress fields are only included once the promise has been scored.
func PromiseToHash(p *Promise) map[string]interface{} {
	hash := map[string]interface{}{
		"id":                     p.ID,
		"party_code":             p.PartyCode,
		"text":                   p.Text,
		"category":               p.Category,
		"responsible_department": p.ResponsibleDepartment,
		"date_issued_ms":         p.DateIssued.UnixMilli(),
		"source_document":        p.SourceDocument,
	}

	if p.Rank != nil {
		hash["rank"] = *p.Rank
	}
	if p.Direction != nil {
		hash["direction"] = *p.Direction
	}
	if p.ParliamentSession != nil {
		hash["parliament_session"] = *p.ParliamentSession
	}

	for field, value := range ProgressToHash(Progress{
		Score:            p.ProgressScore,
		Status:           p.ProgressStatus,
		EvidenceCount:    p.EvidenceCount,
		LatestEvidenceAt: p.LatestEvidenceAt,
	}, p.LastScoredAt) {
		hash[field] = value
	}

	return hash
}

// ProgressToHash converts derived progress state to the promise hash fields it owns.
// A nil scoredAt means the promise has never been scored and no fields are produced.
func ProgressToHash(progress Progress, scoredAt *time.Time) map[string]interface{} {
	if scoredAt == nil {
		return map[string]interface{}{}
	}

	hash := map[string]interface{}{
		"progress_score":    progress.Score,
		"progress_status":   string(progress.Status),
		"evidence_count":    progress.EvidenceCount,
		"last_scored_at_ms": scoredAt.UnixMilli(),
	}
	if progress.LatestEvidenceAt != nil {
		hash["latest_evidence_at_ms"] = progress.LatestEvidenceAt.UnixMilli()
	}

	return hash
}

// HashToPromise converts a Redis hash to a Promise.
// LinkedEvidenceIDs is left empty; the client fills it from the promise's evidence set.
func HashToPromise(hash map[string]string) (*Promise, error) {
	dateIssued, err := parseMillis(hash, "date_issued_ms")
	if err != nil {
		return nil, err
	}

	p := &Promise{
		ID:                    hash["id"],
		PartyCode:             hash["party_code"],
		Text:                  hash["text"],
		Category:              hash["category"],
		ResponsibleDepartment: hash["responsible_department"],
		DateIssued:            dateIssued,
		SourceDocument:        hash["source_document"],
		LinkedEvidenceIDs:     []string{},
		ProgressStatus:        ProgressNotStarted,
	}

	if v, ok := hash["rank"]; ok {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid rank field: %w", err)
		}
		p.Rank = &rank
	}
	if v, ok := hash["direction"]; ok {
		p.Direction = &v
	}
	if v, ok := hash["parliament_session"]; ok {
		p.ParliamentSession = &v
	}

	if _, ok := hash["last_scored_at_ms"]; ok {
		scoredAt, err := parseMillis(hash, "last_scored_at_ms")
		if err != nil {
			return nil, err
		}
		p.LastScoredAt = &scoredAt

		score, err := strconv.Atoi(hash["progress_score"])
		if err != nil {
			return nil, fmt.Errorf("invalid progress_score field: %w", err)
		}
		p.ProgressScore = score
		p.ProgressStatus = ProgressStatus(hash["progress_status"])

		count, err := strconv.Atoi(hash["evidence_count"])
		if err != nil {
			return nil, fmt.Errorf("invalid evidence_count field: %w", err)
		}
		p.EvidenceCount = count
	}

	if _, ok := hash["latest_evidence_at_ms"]; ok {
		latest, err := parseMillis(hash, "latest_evidence_at_ms")
		if err != nil {
			return nil, err
		}
		p.LatestEvidenceAt = &latest
	}

	return p, nil
}

// parseMillis reads a unix-millisecond hash field as a UTC time.
func parseMillis(hash map[string]string, field string) (time.Time, error) {
	ms, err := strconv.ParseInt(hash[field], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
