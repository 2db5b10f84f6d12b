package contracts

import (
	"fmt"
	"time"
)

// Signature component separator. The canonical signing strings below are an
// interoperability contract; their layout must not change.
const SigSeparator = ":"

// CanonicalizeRecord builds the canonical signing string for an evidence
// record: evidence_id:case_number:collected_at(RFC3339, UTC):fingerprint.
func CanonicalizeRecord(evidenceID, caseNumber string, collectedAt time.Time, fingerprint string) string {
	return fmt.Sprintf("%s%s%s%s%s%s%s",
		evidenceID, SigSeparator,
		caseNumber, SigSeparator,
		collectedAt.UTC().Format(time.RFC3339), SigSeparator,
		fingerprint)
}

// CanonicalizeEntry builds the canonical signing string for a custody entry:
// evidence_id:timestamp(RFC3339, UTC):actor_id:action:prev_hash.
func CanonicalizeEntry(evidenceID string, ts time.Time, actorID string, action Action, prevHash string) string {
	return fmt.Sprintf("%s%s%s%s%s%s%s%s%s",
		evidenceID, SigSeparator,
		ts.UTC().Format(time.RFC3339), SigSeparator,
		actorID, SigSeparator,
		string(action), SigSeparator,
		prevHash)
}
