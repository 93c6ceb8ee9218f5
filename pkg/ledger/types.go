package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EvidenceItem is a discrete real-world event (bill stage, order-in-council, gazette notice,
// news release) ingested as a candidate indicator of government action.
// Evidence items are created by ingestion in the pending state and are never deleted by the
// linking pipeline.
type EvidenceItem struct {
	ID          string     `json:"id"`          // UUIDv5 derived from source type, date and content
	SourceType  SourceType `json:"source_type"` // Kind of source that produced the item
	Title       string     `json:"title"`
	Description string     `json:"description"`
	SourceURL   string     `json:"source_url"`
	EventDate   time.Time  `json:"event_date"` // Publication or event date (UTC)

	ParliamentSession *string    `json:"parliament_session,omitempty"` // e.g. "44-1"; nil when the source carries none
	BillStage         *BillStage `json:"bill_stage,omitempty"`         // Only set on bill events

	Provenance map[string]string `json:"provenance,omitempty"` // Free-form source metadata
	IngestedAt time.Time         `json:"ingested_at"`

	// Linking state, owned by the linking pipeline
	LinkingStatus   LinkingStatus `json:"linking_status"`
	PromiseIDs      []string      `json:"promise_ids"` // Set semantics, returned sorted
	LastProcessedAt *time.Time    `json:"last_processed_at,omitempty"`
	LastError       *string       `json:"last_error,omitempty"`
}

// Text returns the text used for lexical matching (title followed by description).
func (e *EvidenceItem) Text() string {
	if e.Description == "" {
		return e.Title
	}
	return e.Title + "\n" + e.Description
}

// SourceType enumerates the kinds of evidence sources.
type SourceType string

const (
	SourceTypeBillEvent      SourceType = "bill_event"
	SourceTypeOrderInCouncil SourceType = "order_in_council"
	SourceTypeGazetteNotice  SourceType = "gazette_notice"
	SourceTypeNewsRelease    SourceType = "news_release"
	SourceTypeOther          SourceType = "other"
)

// LinkingStatus is the evidence item's position in the linking state machine:
// pending -> {processed, no_matches, error}, and back to pending only via an explicit reset.
type LinkingStatus string

const (
	// LinkingStatusPending marks items waiting for a linking pass
	LinkingStatusPending LinkingStatus = "pending"

	// LinkingStatusProcessed marks items linked to at least one promise
	LinkingStatusProcessed LinkingStatus = "processed"

	// LinkingStatusNoMatches marks items for which no promise was accepted
	LinkingStatusNoMatches LinkingStatus = "no_matches"

	// LinkingStatusError marks items whose last pass failed; retried after a reset
	LinkingStatusError LinkingStatus = "error"
)

// LinkingStatuses lists every linking status, in state machine order.
var LinkingStatuses = []LinkingStatus{
	LinkingStatusPending,
	LinkingStatusProcessed,
	LinkingStatusNoMatches,
	LinkingStatusError,
}

// IsTerminal reports whether the status ends a linking pass.
func (s LinkingStatus) IsTerminal() bool {
	switch s {
	case LinkingStatusProcessed, LinkingStatusNoMatches, LinkingStatusError:
		return true
	default:
		return false
	}
}

// BillStage is the legislative stage a bill event records. Stages are ordered.
type BillStage string

const (
	BillStageFirstReading  BillStage = "first_reading"
	BillStageSecondReading BillStage = "second_reading"
	BillStageCommittee     BillStage = "committee"
	BillStageReportStage   BillStage = "report_stage"
	BillStageThirdReading  BillStage = "third_reading"
	BillStageSenate        BillStage = "senate"
	BillStageRoyalAssent   BillStage = "royal_assent"
)

var billStageOrder = map[BillStage]int{
	BillStageFirstReading:  1,
	BillStageSecondReading: 2,
	BillStageCommittee:     3,
	BillStageReportStage:   4,
	BillStageThirdReading:  5,
	BillStageSenate:        6,
	BillStageRoyalAssent:   7,
}

// Rank returns the stage's position in the legislative sequence (0 if unknown).
func (b BillStage) Rank() int {
	return billStageOrder[b]
}

// AtLeast reports whether b is at or beyond other in the legislative sequence.
func (b BillStage) AtLeast(other BillStage) bool {
	return b.Rank() >= other.Rank() && b.Rank() > 0
}

// Promise is a tracked policy commitment. Static fields are populated by the enrichment
// collaborator; the linked-evidence set and progress fields are owned by this module.
type Promise struct {
	ID                    string    `json:"id"`
	PartyCode             string    `json:"party_code"`
	Text                  string    `json:"text"`
	Category              string    `json:"category,omitempty"`
	ResponsibleDepartment string    `json:"responsible_department,omitempty"`
	DateIssued            time.Time `json:"date_issued"`
	SourceDocument        string    `json:"source_document,omitempty"`

	Rank              *int    `json:"rank,omitempty"`      // Upstream priority rank, 1 = highest
	Direction         *string `json:"direction,omitempty"` // Upstream classification
	ParliamentSession *string `json:"parliament_session,omitempty"`

	LinkedEvidenceIDs []string `json:"linked_evidence_ids"` // Set semantics, returned sorted

	ProgressScore    int            `json:"progress_score"`
	ProgressStatus   ProgressStatus `json:"progress_status"`
	EvidenceCount    int            `json:"evidence_count"`
	LatestEvidenceAt *time.Time     `json:"latest_evidence_at,omitempty"`
	LastScoredAt     *time.Time     `json:"last_scored_at,omitempty"`
}

// ProgressStatus is the ordinal progress classification derived from linked evidence.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressAdvanced   ProgressStatus = "advanced"
	ProgressFulfilled  ProgressStatus = "fulfilled"
)

// Progress is the derived progress state written back to a promise.
type Progress struct {
	Score            int            `json:"score"`
	Status           ProgressStatus `json:"status"`
	EvidenceCount    int            `json:"evidence_count"`
	LatestEvidenceAt *time.Time     `json:"latest_evidence_at,omitempty"`
}

// Validate checks if the EvidenceItem has valid field values.
func (e *EvidenceItem) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid evidence ID: not a valid UUID")
	}

	if err := e.SourceType.Validate(); err != nil {
		return fmt.Errorf("invalid source type: %w", err)
	}

	if e.Title == "" {
		return fmt.Errorf("evidence title cannot be empty")
	}

	if e.EventDate.IsZero() {
		return fmt.Errorf("evidence event date cannot be empty")
	}

	if err := e.LinkingStatus.Validate(); err != nil {
		return fmt.Errorf("invalid linking status: %w", err)
	}

	if e.BillStage != nil {
		if e.SourceType != SourceTypeBillEvent {
			return fmt.Errorf("bill stage is only valid on %s evidence", SourceTypeBillEvent)
		}
		if err := e.BillStage.Validate(); err != nil {
			return fmt.Errorf("invalid bill stage: %w", err)
		}
	}

	switch e.LinkingStatus {
	case LinkingStatusProcessed:
		if len(e.PromiseIDs) == 0 {
			return fmt.Errorf("processed evidence must link at least one promise")
		}
	case LinkingStatusNoMatches:
		if len(e.PromiseIDs) > 0 {
			return fmt.Errorf("no_matches evidence cannot link promises")
		}
	}

	return nil
}

// Validate checks if the Promise has valid static field values.
func (p *Promise) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("promise ID cannot be empty")
	}

	if p.PartyCode == "" {
		return fmt.Errorf("promise party code cannot be empty")
	}

	if p.Text == "" {
		return fmt.Errorf("promise text cannot be empty")
	}

	if p.Rank != nil && *p.Rank < 1 {
		return fmt.Errorf("invalid rank: must be >= 1, got %d", *p.Rank)
	}

	if p.ProgressStatus != "" {
		if err := p.ProgressStatus.Validate(); err != nil {
			return fmt.Errorf("invalid progress status: %w", err)
		}
	}

	return nil
}

// Validate checks if the SourceType is a valid enum value.
func (st SourceType) Validate() error {
	switch st {
	case SourceTypeBillEvent, SourceTypeOrderInCouncil, SourceTypeGazetteNotice,
		SourceTypeNewsRelease, SourceTypeOther:
		return nil
	default:
		return fmt.Errorf("unknown source type: %q", st)
	}
}

// Validate checks if the LinkingStatus is a valid enum value.
func (s LinkingStatus) Validate() error {
	switch s {
	case LinkingStatusPending, LinkingStatusProcessed, LinkingStatusNoMatches, LinkingStatusError:
		return nil
	default:
		return fmt.Errorf("unknown linking status: %q", s)
	}
}

// Validate checks if the BillStage is a valid enum value.
func (b BillStage) Validate() error {
	if _, ok := billStageOrder[b]; !ok {
		return fmt.Errorf("unknown bill stage: %q", b)
	}
	return nil
}

// Validate checks if the ProgressStatus is a valid enum value.
func (ps ProgressStatus) Validate() error {
	switch ps {
	case ProgressNotStarted, ProgressInProgress, ProgressAdvanced, ProgressFulfilled:
		return nil
	default:
		return fmt.Errorf("unknown progress status: %q", ps)
	}
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
