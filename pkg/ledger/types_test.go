package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvidence() *EvidenceItem {
	return &EvidenceItem{
		ID:            uuid.New().String(),
		SourceType:    SourceTypeBillEvent,
		Title:         "Bill C-5 second reading",
		EventDate:     time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC),
		IngestedAt:    time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC),
		LinkingStatus: LinkingStatusPending,
	}
}

// TestEvidenceItemValidate tests evidence validation rules
func TestEvidenceItemValidate(t *testing.T) {
	stage := BillStageCommittee

	tests := []struct {
		name    string
		mutate  func(e *EvidenceItem)
		wantErr string
	}{
		{name: "valid pending item", mutate: func(e *EvidenceItem) {}},
		{name: "invalid ID", mutate: func(e *EvidenceItem) { e.ID = "not-a-uuid" }, wantErr: "not a valid UUID"},
		{name: "unknown source type", mutate: func(e *EvidenceItem) { e.SourceType = "tweet" }, wantErr: "unknown source type"},
		{name: "empty title", mutate: func(e *EvidenceItem) { e.Title = "" }, wantErr: "title cannot be empty"},
		{name: "missing event date", mutate: func(e *EvidenceItem) { e.EventDate = time.Time{} }, wantErr: "event date cannot be empty"},
		{name: "unknown status", mutate: func(e *EvidenceItem) { e.LinkingStatus = "done" }, wantErr: "unknown linking status"},
		{
			name: "bill stage on a bill event",
			mutate: func(e *EvidenceItem) {
				e.BillStage = &stage
			},
		},
		{
			name: "bill stage on a news release",
			mutate: func(e *EvidenceItem) {
				e.SourceType = SourceTypeNewsRelease
				e.BillStage = &stage
			},
			wantErr: "bill stage is only valid",
		},
		{
			name: "processed without links",
			mutate: func(e *EvidenceItem) {
				e.LinkingStatus = LinkingStatusProcessed
			},
			wantErr: "must link at least one promise",
		},
		{
			name: "no_matches with links",
			mutate: func(e *EvidenceItem) {
				e.LinkingStatus = LinkingStatusNoMatches
				e.PromiseIDs = []string{"P1"}
			},
			wantErr: "cannot link promises",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvidence()
			tt.mutate(e)
			err := e.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, expected to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// TestPromiseValidate tests promise validation rules
func TestPromiseValidate(t *testing.T) {
	zero := 0

	tests := []struct {
		name    string
		promise Promise
		wantErr bool
	}{
		{name: "valid", promise: Promise{ID: "P1", PartyCode: "LPC", Text: "Ban assault-style firearms"}},
		{name: "missing ID", promise: Promise{PartyCode: "LPC", Text: "x"}, wantErr: true},
		{name: "missing party", promise: Promise{ID: "P1", Text: "x"}, wantErr: true},
		{name: "missing text", promise: Promise{ID: "P1", PartyCode: "LPC"}, wantErr: true},
		{name: "rank below one", promise: Promise{ID: "P1", PartyCode: "LPC", Text: "x", Rank: &zero}, wantErr: true},
		{name: "bad progress status", promise: Promise{ID: "P1", PartyCode: "LPC", Text: "x", ProgressStatus: "done"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.promise.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestBillStageOrdering tests the legislative stage sequence
func TestBillStageOrdering(t *testing.T) {
	if !BillStageRoyalAssent.AtLeast(BillStageCommittee) {
		t.Error("royal assent should be at least committee")
	}
	if BillStageFirstReading.AtLeast(BillStageSecondReading) {
		t.Error("first reading should not be at least second reading")
	}
	if !BillStageReportStage.AtLeast(BillStageReportStage) {
		t.Error("a stage should be at least itself")
	}
	if BillStage("unknown").AtLeast(BillStageFirstReading) {
		t.Error("unknown stage should never rank")
	}
	if BillStage("unknown").Rank() != 0 {
		t.Error("unknown stage should rank 0")
	}
}

// TestLinkingStatusIsTerminal tests which statuses end a linking pass
func TestLinkingStatusIsTerminal(t *testing.T) {
	if LinkingStatusPending.IsTerminal() {
		t.Error("pending should not be terminal")
	}
	for _, s := range []LinkingStatus{LinkingStatusProcessed, LinkingStatusNoMatches, LinkingStatusError} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestEvidenceText(t *testing.T) {
	e := validEvidence()
	if e.Text() != "Bill C-5 second reading" {
		t.Errorf("Text() without description = %q", e.Text())
	}

	e.Description = "An Act to amend the Criminal Code"
	if e.Text() != "Bill C-5 second reading\nAn Act to amend the Criminal Code" {
		t.Errorf("Text() with description = %q", e.Text())
	}
}
