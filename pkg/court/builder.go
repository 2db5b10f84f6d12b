// Package court assembles sealed, exportable submission packages. A
// package is rendered deterministically from data already in the store and
// ledger, bundled into a single archive at a content-addressed path, and
// recorded as a SEALED custody transition.
package court

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cybershield/custody/pkg/blob"
	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/crypto"
	"github.com/cybershield/custody/pkg/ledger"
)

// ErrBuildFailed indicates package assembly failed. No partially written
// archive is ever left at the final path.
var ErrBuildFailed = errors.New("court package build failed")

// PackageFormatVersion is the semver of the archive layout. The offline
// inspector accepts any package within the same major version.
const PackageFormatVersion = "1.0.0"

// RecordLoader loads evidence records.
type RecordLoader interface {
	Get(ctx context.Context, evidenceID string) (*contracts.EvidenceRecord, error)
}

// CustodyLedger is the slice of ledger behavior the builder needs.
type CustodyLedger interface {
	Entries(ctx context.Context, evidenceID string) ([]contracts.CustodyEntry, error)
	Head(ctx context.Context, evidenceID string) (string, error)
	Append(ctx context.Context, req ledger.AppendRequest) (*contracts.CustodyEntry, error)
}

// IntegrityVerifier produces the verification report embedded in the
// package documents.
type IntegrityVerifier interface {
	VerifyIntegrity(ctx context.Context, evidenceID string) (*contracts.VerificationReport, error)
}

// SubmissionRecorder persists the built package reference.
type SubmissionRecorder interface {
	InsertCourtSubmission(ctx context.Context, submissionID, evidenceID, caseNumber string, details contracts.CourtDetails, packagePath, packageHash string) error
}

// Builder assembles court submission packages.
type Builder struct {
	records      RecordLoader
	ledger       CustodyLedger
	blobs        blob.Store
	verifier     IntegrityVerifier
	submissions  SubmissionRecorder
	packageDir   string
	signerPubKey string
	clock        func() time.Time
}

// NewBuilder creates a Builder writing archives under packageDir.
func NewBuilder(records RecordLoader, l CustodyLedger, blobs blob.Store, verifier IntegrityVerifier, submissions SubmissionRecorder, packageDir string) (*Builder, error) {
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure package dir: %w", err)
	}
	return &Builder{
		records:     records,
		ledger:      l,
		blobs:       blobs,
		verifier:    verifier,
		submissions: submissions,
		packageDir:  packageDir,
		clock:       time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithSignerPublicKey embeds the hex-encoded signing public key in built
// manifests, so the record signature verifies offline with nothing but the
// archive.
func (b *Builder) WithSignerPublicKey(pubKeyHex string) *Builder {
	b.signerPubKey = pubKeyHex
	return b
}

// PackageManifest is the archive's self-description, written as
// package_manifest.json inside the archive.
type PackageManifest struct {
	FormatVersion   string                 `json:"format_version"`
	EvidenceID      string                 `json:"evidence_id"`
	CaseNumber      string                 `json:"case_number"`
	CollectedAt     time.Time              `json:"collected_at"`
	Fingerprint     string                 `json:"original_fingerprint"`
	RecordSignature string                 `json:"record_signature"`
	SignerPublicKey string                 `json:"signer_public_key,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	CourtDetails    contracts.CourtDetails `json:"court_details"`
	ChainHead       string                 `json:"chain_head"`
	Contents        []PackageEntry         `json:"contents"`
}

// PackageEntry records one archived file and its content hash.
type PackageEntry struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// FormatForCourt builds the submission package for an evidence item and
// seals the record. Legal only while the record is COLLECTED or VERIFIED.
// Returns the content-addressed archive path.
func (b *Builder) FormatForCourt(ctx context.Context, evidenceID string, details contracts.CourtDetails) (string, error) {
	record, err := b.records.Get(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	if record.Status != contracts.StatusCollected && record.Status != contracts.StatusVerified {
		return "", fmt.Errorf("%w: cannot seal from %s", ledger.ErrInvalidTransition, record.Status)
	}

	entries, err := b.ledger.Entries(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	head, err := b.ledger.Head(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	report, err := b.verifier.VerifyIntegrity(ctx, evidenceID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	sealedAt := b.clock().UTC().Truncate(time.Second)

	archivePath, archiveHash, err := b.writeArchive(ctx, record, entries, report, details, head, sealedAt)
	if err != nil {
		return "", err
	}

	actorID := details.ProsecutorID
	if actorID == "" {
		actorID = "COURT_SYSTEM"
	}
	actorName := details.ProsecutorName
	if actorName == "" {
		actorName = "Court Processor"
	}
	_, err = b.ledger.Append(ctx, ledger.AppendRequest{
		EvidenceID:   evidenceID,
		ActorID:      actorID,
		ActorName:    actorName,
		Action:       contracts.ActionSealed,
		Location:     details.CourtName,
		Notes:        fmt.Sprintf("Court submission package built for case %s", record.CaseNumber),
		ExpectedHead: head,
	})
	if err != nil {
		_ = os.Remove(archivePath) // the seal did not happen
		return "", err
	}

	if err := b.submissions.InsertCourtSubmission(ctx, uuid.New().String(), evidenceID, record.CaseNumber, details, archivePath, archiveHash); err != nil {
		return "", err
	}
	return archivePath, nil
}

// writeArchive renders all documents and bundles them with the payload and
// attachments. The archive is written to a temp path and renamed into
// place, keyed by its own content hash.
func (b *Builder) writeArchive(ctx context.Context, record *contracts.EvidenceRecord, entries []contracts.CustodyEntry, report *contracts.VerificationReport, details contracts.CourtDetails, chainHead string, sealedAt time.Time) (string, string, error) {
	tmp, err := os.CreateTemp(b.packageDir, "package-*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("%w: create temp archive: %v", ErrBuildFailed, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	zw := zip.NewWriter(tmp)
	manifest := PackageManifest{
		FormatVersion:   PackageFormatVersion,
		EvidenceID:      record.EvidenceID,
		CaseNumber:      record.CaseNumber,
		CollectedAt:     record.CollectedAt,
		Fingerprint:     record.OriginalFingerprint,
		RecordSignature: record.Signature,
		SignerPublicKey: b.signerPubKey,
		CreatedAt:       sealedAt,
		CourtDetails:    details,
		ChainHead:       chainHead,
	}

	addFile := func(name string, content []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrBuildFailed, name, err)
		}
		if _, err := w.Write(content); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrBuildFailed, name, err)
		}
		manifest.Contents = append(manifest.Contents, PackageEntry{
			Name: name,
			Hash: crypto.HashBytes(content),
			Size: int64(len(content)),
		})
		return nil
	}

	docs := []struct {
		name    string
		content string
	}{
		{"documents/certificate_of_authenticity.txt", renderCertificate(record, details, report, sealedAt)},
		{"documents/technical_summary.txt", renderTechnicalSummary(record, report, sealedAt)},
		{"documents/custody_transcript.txt", renderCustodyTranscript(record, entries)},
		{"documents/evidence_summary.txt", renderEvidenceSummary(record, details, sealedAt)},
	}
	for _, d := range docs {
		if err := addFile(d.name, []byte(d.content)); err != nil {
			return "", "", err
		}
	}

	if err := addFile("source_payload.json", record.SourcePayload); err != nil {
		return "", "", err
	}
	fileManifest, err := json.MarshalIndent(record.FileManifest, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("%w: encode file manifest: %v", ErrBuildFailed, err)
	}
	if err := addFile("file_manifest.json", fileManifest); err != nil {
		return "", "", err
	}

	for _, f := range record.FileManifest {
		if err := b.addAttachment(ctx, zw, &manifest, f); err != nil {
			return "", "", err
		}
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("%w: encode package manifest: %v", ErrBuildFailed, err)
	}
	w, err := zw.Create("package_manifest.json")
	if err != nil {
		return "", "", fmt.Errorf("%w: create package manifest: %v", ErrBuildFailed, err)
	}
	if _, err := w.Write(manifestJSON); err != nil {
		return "", "", fmt.Errorf("%w: write package manifest: %v", ErrBuildFailed, err)
	}

	if err := zw.Close(); err != nil {
		return "", "", fmt.Errorf("%w: finalize archive: %v", ErrBuildFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("%w: close archive: %v", ErrBuildFailed, err)
	}

	hash, err := hashArchive(tmpPath)
	if err != nil {
		return "", "", err
	}
	final := filepath.Join(b.packageDir, strings.TrimPrefix(hash, crypto.HashPrefix)+".zip")
	if err := os.Rename(tmpPath, final); err != nil {
		return "", "", fmt.Errorf("%w: commit archive: %v", ErrBuildFailed, err)
	}
	return final, hash, nil
}

// addAttachment streams one manifest file from the blob store into the
// archive. A missing blob aborts the build.
func (b *Builder) addAttachment(ctx context.Context, zw *zip.Writer, manifest *PackageManifest, f contracts.FileManifestEntry) error {
	rc, err := b.blobs.Open(ctx, f.Hash)
	if err != nil {
		return fmt.Errorf("%w: attachment %s: %v", ErrBuildFailed, f.Path, err)
	}
	defer func() { _ = rc.Close() }()

	name := "files/" + f.Path
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrBuildFailed, name, err)
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		return fmt.Errorf("%w: copy %s: %v", ErrBuildFailed, name, err)
	}
	manifest.Contents = append(manifest.Contents, PackageEntry{Name: name, Hash: f.Hash, Size: n})
	return nil
}

func hashArchive(path string) (string, error) {
	hash, _, err := crypto.HashFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: hash archive: %v", ErrBuildFailed, err)
	}
	return hash, nil
}
