// Package contracts defines the shared data model of the custody engine:
// evidence records, custody ledger entries, verification reports, and the
// canonical signing strings that bind them together.
package contracts

import (
	"fmt"
	"time"
)

// EvidenceType is the fixed enumeration of supported digital evidence kinds.
type EvidenceType string

const (
	EvidenceSocialMediaPost EvidenceType = "social_media_post"
	EvidenceScreenshot      EvidenceType = "screenshot"
	EvidenceChatMessage     EvidenceType = "chat_message"
	EvidenceEmail           EvidenceType = "email"
	EvidenceDocument        EvidenceType = "document"
	EvidenceAudio           EvidenceType = "audio"
	EvidenceVideo           EvidenceType = "video"
	EvidenceNetworkLog      EvidenceType = "network_log"
	EvidenceDatabaseRecord  EvidenceType = "database_record"
	EvidenceSystemLog       EvidenceType = "system_log"
)

// EvidenceTypes lists every supported type in declaration order.
var EvidenceTypes = []EvidenceType{
	EvidenceSocialMediaPost,
	EvidenceScreenshot,
	EvidenceChatMessage,
	EvidenceEmail,
	EvidenceDocument,
	EvidenceAudio,
	EvidenceVideo,
	EvidenceNetworkLog,
	EvidenceDatabaseRecord,
	EvidenceSystemLog,
}

// ParseEvidenceType validates a string against the fixed enumeration.
func ParseEvidenceType(s string) (EvidenceType, error) {
	for _, t := range EvidenceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown evidence type %q", s)
}

// Status is the legal processing state of an evidence record.
type Status string

const (
	StatusCollected Status = "COLLECTED"
	StatusVerified  Status = "VERIFIED"
	StatusSealed    Status = "SEALED"
	StatusSubmitted Status = "SUBMITTED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Action identifies a custody event. Transition actions mirror the status
// they move the record into; the remaining actions record handling without
// changing status.
type Action string

const (
	ActionCollected   Action = "COLLECTED"
	ActionVerified    Action = "VERIFIED"
	ActionSealed      Action = "SEALED"
	ActionSubmitted   Action = "SUBMITTED"
	ActionAccepted    Action = "ACCEPTED"
	ActionRejected    Action = "REJECTED"
	ActionViewed      Action = "VIEWED"
	ActionIntegrity   Action = "INTEGRITY_VERIFIED"
	ActionTransferred Action = "CUSTODY_TRANSFERRED"
)

// Transition returns the status a transition action moves a record into,
// or "" when the action does not change status.
func (a Action) Transition() Status {
	switch a {
	case ActionCollected:
		return StatusCollected
	case ActionVerified:
		return StatusVerified
	case ActionSealed:
		return StatusSealed
	case ActionSubmitted:
		return StatusSubmitted
	case ActionAccepted:
		return StatusAccepted
	case ActionRejected:
		return StatusRejected
	}
	return ""
}

// FileManifestEntry is one attached file: its manifest-relative path, the
// content hash under which the blob store holds it, and its size in bytes.
type FileManifestEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// EvidenceRecord is the persisted description of one piece of evidence.
// OriginalFingerprint is write-once; CurrentFingerprint is recomputed on
// demand during verification and never stored.
type EvidenceRecord struct {
	EvidenceID          string              `json:"evidence_id"`
	CaseNumber          string              `json:"case_number"`
	EvidenceType        EvidenceType        `json:"evidence_type"`
	SourcePlatform      string              `json:"source_platform"`
	CollectedBy         string              `json:"collected_by"`
	CollectedAt         time.Time           `json:"collected_at"`
	LocationCollected   string              `json:"location_collected"`
	Description         string              `json:"description"`
	OriginalFingerprint string              `json:"original_fingerprint"`
	CurrentFingerprint  string              `json:"current_fingerprint,omitempty"`
	Signature           string              `json:"signature"`
	Status              Status              `json:"status"`
	SourcePayload       []byte              `json:"source_payload"`
	FileManifest        []FileManifestEntry `json:"file_manifest"`
	ComplianceChecklist map[string]bool     `json:"compliance_checklist"`
}

// CustodyEntry is one immutable link in an evidence item's custody chain.
// EntryHash covers the entry's canonical content and the predecessor's
// EntryHash; the first entry chains from GenesisHash.
type CustodyEntry struct {
	EvidenceID     string    `json:"evidence_id"`
	Sequence       uint64    `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	ActorID        string    `json:"actor_id"`
	ActorName      string    `json:"actor_name"`
	Action         Action    `json:"action"`
	Location       string    `json:"location"`
	Notes          string    `json:"notes"`
	EntrySignature string    `json:"entry_signature"`
	EntryHash      string    `json:"entry_hash"`
	PrevHash       string    `json:"prev_hash"`
}

// GenesisHash is the fixed chaining value for the first ledger entry.
const GenesisHash = "genesis"

// CourtDetails identifies the receiving court for a submission package.
type CourtDetails struct {
	CourtName      string `json:"court_name"`
	JudgeName      string `json:"judge_name"`
	ProsecutorName string `json:"prosecutor_name"`
	ProsecutorID   string `json:"prosecutor_id"`
}

// ExpertDetails identifies the examiner preparing testimony.
type ExpertDetails struct {
	Name        string `json:"name"`
	Credentials string `json:"credentials"`
}

// VerificationReport is the read-only output of an integrity verification.
type VerificationReport struct {
	EvidenceID     string          `json:"evidence_id"`
	VerifiedAt     time.Time       `json:"verified_at"`
	Checks         map[string]bool `json:"checks"`
	ChecksPassed   int             `json:"checks_passed"`
	TotalChecks    int             `json:"total_checks"`
	IntegrityScore float64         `json:"integrity_score"`
	Questionable   bool            `json:"questionable"`
}

// ExpertAnalysis is a persisted expert examination of one evidence item.
type ExpertAnalysis struct {
	EvidenceID      string    `json:"evidence_id"`
	ExpertName      string    `json:"expert_name"`
	Credentials     string    `json:"expert_credentials"`
	AnalysisDate    time.Time `json:"analysis_date"`
	Methodology     string    `json:"methodology"`
	Authenticity    string    `json:"authenticity"`
	ConfidenceLevel string    `json:"confidence_level"`
	IntegrityScore  float64   `json:"integrity_score"`
}

// Summary aggregates the store for reporting.
type Summary struct {
	TotalEvidence       int                  `json:"total_evidence_items"`
	StatusDistribution  map[Status]int       `json:"status_distribution"`
	TypeDistribution    map[EvidenceType]int `json:"type_distribution"`
	TotalCustodyEntries int                  `json:"total_custody_entries"`
	GeneratedAt         time.Time            `json:"generated_at"`
}
