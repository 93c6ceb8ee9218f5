package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// evidenceNamespace scopes UUIDv5 evidence identifiers.
var evidenceNamespace = uuid.MustParse("6f1c8a52-3d0e-5b7a-9c44-2f8e1d6b0a31")

// EvidenceID derives the stable identifier for an evidence item from its source type, event
// date and a hash of its content. Ingesting the same source item twice yields the same ID,
// which makes CreateEvidence idempotent.
func EvidenceID(sourceType SourceType, eventDate time.Time, title, description, sourceURL string) string {
	content := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimSpace(title),
		strings.TrimSpace(description),
		strings.TrimSpace(sourceURL),
	}, "\n")))

	name := strings.Join([]string{
		string(sourceType),
		eventDate.UTC().Format("2006-01-02"),
		hex.EncodeToString(content[:]),
	}, "|")

	return uuid.NewSHA1(evidenceNamespace, []byte(name)).String()
}
