package court

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cybershield/custody/pkg/contracts"
)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Document rendering is pure: every byte comes from the record, ledger,
// report, and seal time. Rendering the same inputs twice yields identical
// documents.

func renderCertificate(r *contracts.EvidenceRecord, details contracts.CourtDetails, report *contracts.VerificationReport, sealedAt time.Time) string {
	var b strings.Builder
	b.WriteString("CERTIFICATE OF AUTHENTICITY OF ELECTRONIC RECORD\n")
	b.WriteString("(Section 65B, Indian Evidence Act, 1872, as amended by the IT Act, 2000)\n\n")
	fmt.Fprintf(&b, "Case Number:  %s\n", r.CaseNumber)
	fmt.Fprintf(&b, "Evidence ID:  %s\n", r.EvidenceID)
	fmt.Fprintf(&b, "Court:        %s\n", orNotSpecified(details.CourtName))
	fmt.Fprintf(&b, "Judge:        %s\n", orNotSpecified(details.JudgeName))
	fmt.Fprintf(&b, "Date:         %s\n\n", sealedAt.Format("02 January 2006"))

	fmt.Fprintf(&b, "I, %s, being the person responsible for the operation of the computer\n", r.CollectedBy)
	b.WriteString("system at the time this digital evidence was collected, certify that:\n\n")
	b.WriteString("1. The computer system was operating properly at the time the evidence was produced.\n")
	b.WriteString("2. The information reproduced from the system is accurately recorded and preserved.\n")
	b.WriteString("3. The evidence is authenticated by digital signature and cryptographic hash.\n")
	b.WriteString("4. The chain of custody has been maintained throughout collection and storage.\n\n")

	b.WriteString("TECHNICAL DETAILS\n")
	fmt.Fprintf(&b, "  Original Fingerprint: %s\n", r.OriginalFingerprint)
	fmt.Fprintf(&b, "  Digital Signature:    %s...\n", truncate(r.Signature, 64))
	fmt.Fprintf(&b, "  Collected At:         %s\n", r.CollectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  Evidence Type:        %s\n", r.EvidenceType)
	fmt.Fprintf(&b, "  Source Platform:      %s\n", orNotSpecified(r.SourcePlatform))
	fmt.Fprintf(&b, "  Integrity Score:      %.2f (%d/%d checks passed)\n\n",
		report.IntegrityScore, report.ChecksPassed, report.TotalChecks)

	fmt.Fprintf(&b, "Certified by: %s\nDigital Evidence Officer\n", r.CollectedBy)
	fmt.Fprintf(&b, "Date: %s\n", sealedAt.Format("02/01/2006"))
	return b.String()
}

func renderTechnicalSummary(r *contracts.EvidenceRecord, report *contracts.VerificationReport, sealedAt time.Time) string {
	var b strings.Builder
	b.WriteString("TECHNICAL SUMMARY OF DIGITAL EVIDENCE EXAMINATION\n\n")
	fmt.Fprintf(&b, "Evidence ID:   %s\n", r.EvidenceID)
	fmt.Fprintf(&b, "Case Number:   %s\n", r.CaseNumber)
	fmt.Fprintf(&b, "Sealed At:     %s\n\n", sealedAt.Format(time.RFC3339))

	b.WriteString("METHODOLOGY\n")
	b.WriteString("  SHA-256 fingerprint over RFC 8785 canonical JSON of the source payload;\n")
	b.WriteString("  Ed25519 digital signatures over canonical signing strings;\n")
	b.WriteString("  hash-chained append-only custody ledger replayed from genesis.\n\n")

	b.WriteString("VERIFICATION RESULTS\n")
	for _, name := range []string{"fingerprint_match", "signature_valid", "chain_continuity", "file_manifest"} {
		fmt.Fprintf(&b, "  %-20s %s\n", name, passFail(report.Checks[name]))
	}
	fmt.Fprintf(&b, "  integrity_score      %.2f\n\n", report.IntegrityScore)

	b.WriteString("COMPLIANCE CHECKLIST\n")
	for _, name := range sortedKeys(r.ComplianceChecklist) {
		fmt.Fprintf(&b, "  %-30s %s\n", name, passFail(r.ComplianceChecklist[name]))
	}

	if len(r.FileManifest) > 0 {
		b.WriteString("\nATTACHED FILES\n")
		for _, f := range r.FileManifest {
			fmt.Fprintf(&b, "  %s  %s  (%d bytes)\n", f.Path, f.Hash, f.Size)
		}
	}
	return b.String()
}

func renderCustodyTranscript(r *contracts.EvidenceRecord, entries []contracts.CustodyEntry) string {
	var b strings.Builder
	b.WriteString("CHAIN OF CUSTODY TRANSCRIPT\n\n")
	fmt.Fprintf(&b, "Evidence ID: %s\nCase Number: %s\nEntries:     %d\n\n", r.EvidenceID, r.CaseNumber, len(entries))

	for _, e := range entries {
		fmt.Fprintf(&b, "Entry %d\n", e.Sequence)
		fmt.Fprintf(&b, "  Timestamp:  %s\n", e.Timestamp.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "  Actor:      %s (%s)\n", e.ActorName, e.ActorID)
		fmt.Fprintf(&b, "  Action:     %s\n", e.Action)
		fmt.Fprintf(&b, "  Location:   %s\n", e.Location)
		if e.Notes != "" {
			fmt.Fprintf(&b, "  Notes:      %s\n", e.Notes)
		}
		fmt.Fprintf(&b, "  Entry Hash: %s\n", e.EntryHash)
		fmt.Fprintf(&b, "  Prev Hash:  %s\n", e.PrevHash)
		fmt.Fprintf(&b, "  Signature:  %s...\n\n", truncate(e.EntrySignature, 64))
	}

	b.WriteString("Each entry hash covers the entry content and its predecessor's hash,\n")
	b.WriteString("chaining to the fixed genesis value. Any truncation, reordering, or\n")
	b.WriteString("insertion is detectable by replaying the chain.\n")
	return b.String()
}

func renderEvidenceSummary(r *contracts.EvidenceRecord, details contracts.CourtDetails, sealedAt time.Time) string {
	var b strings.Builder
	b.WriteString("EVIDENCE SUMMARY\n\n")
	fmt.Fprintf(&b, "Evidence ID:        %s\n", r.EvidenceID)
	fmt.Fprintf(&b, "Case Number:        %s\n", r.CaseNumber)
	fmt.Fprintf(&b, "Evidence Type:      %s\n", r.EvidenceType)
	fmt.Fprintf(&b, "Source Platform:    %s\n", orNotSpecified(r.SourcePlatform))
	fmt.Fprintf(&b, "Collected By:       %s\n", r.CollectedBy)
	fmt.Fprintf(&b, "Collected At:       %s\n", r.CollectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Location Collected: %s\n", r.LocationCollected)
	fmt.Fprintf(&b, "Description:        %s\n\n", r.Description)
	fmt.Fprintf(&b, "Prepared for:       %s\n", orNotSpecified(details.CourtName))
	fmt.Fprintf(&b, "Prosecutor:         %s\n", orNotSpecified(details.ProsecutorName))
	fmt.Fprintf(&b, "Sealed At:          %s\n", sealedAt.Format(time.RFC3339))
	return b.String()
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func orNotSpecified(s string) string {
	if s == "" {
		return "Not Specified"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
