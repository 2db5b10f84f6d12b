package verify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cybershield/custody/pkg/blob"
	"github.com/cybershield/custody/pkg/canonicalize"
	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/crypto"
)

type fakeRecords struct {
	record *contracts.EvidenceRecord
	err    error
}

func (f *fakeRecords) Get(ctx context.Context, evidenceID string) (*contracts.EvidenceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	clone := *f.record
	return &clone, nil
}

type fakeChain struct {
	ok     bool
	reason string
}

func (f *fakeChain) VerifyChain(ctx context.Context, evidenceID string) (bool, string, error) {
	return f.ok, f.reason, nil
}

// buildRecord constructs a record whose fingerprint and signature are
// genuinely valid for the given payload.
func buildRecord(t *testing.T, signer crypto.Signer, payload []byte) *contracts.EvidenceRecord {
	t.Helper()
	fp, err := canonicalize.FingerprintRaw(payload)
	if err != nil {
		t.Fatal(err)
	}
	r := &contracts.EvidenceRecord{
		EvidenceID:          "EVD-1",
		CaseNumber:          "CASE-2026-001",
		CollectedAt:         time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		OriginalFingerprint: fp,
		SourcePayload:       payload,
	}
	canonical := contracts.CanonicalizeRecord(r.EvidenceID, r.CaseNumber, r.CollectedAt, r.OriginalFingerprint)
	r.Signature, err = signer.Sign([]byte(canonical))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestAllChecksPass(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("k1")
	payload := []byte(`{"type":"social_media_post","social_media":{"platform":"twitter","post_id":"1"}}`)
	record := buildRecord(t, signer, payload)

	blobs, _ := blob.NewFileStore(t.TempDir())
	content := []byte("attached screenshot")
	hash, size, err := blobs.Put(context.Background(), bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	record.FileManifest = []contracts.FileManifestEntry{{Path: "shot.png", Hash: hash, Size: size}}

	v := New(&fakeRecords{record: record}, &fakeChain{ok: true}, blobs, signer, 0)
	report, err := v.VerifyIntegrity(context.Background(), "EVD-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if report.IntegrityScore != 1.0 {
		t.Errorf("score = %.2f, want 1.0", report.IntegrityScore)
	}
	if report.ChecksPassed != 4 || report.TotalChecks != 4 {
		t.Errorf("checks = %d/%d, want 4/4", report.ChecksPassed, report.TotalChecks)
	}
	if report.Questionable {
		t.Error("fully valid evidence flagged questionable")
	}
	for name, ok := range report.Checks {
		if !ok {
			t.Errorf("check %s failed", name)
		}
	}
}

func TestTamperedPayloadFailsFingerprint(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("k1")
	record := buildRecord(t, signer, []byte(`{"content":"original"}`))
	record.SourcePayload = []byte(`{"content":"tampered"}`)

	blobs, _ := blob.NewFileStore(t.TempDir())
	v := New(&fakeRecords{record: record}, &fakeChain{ok: true}, blobs, signer, 0)
	report, err := v.VerifyIntegrity(context.Background(), "EVD-1")
	if err != nil {
		t.Fatal(err)
	}

	if report.Checks[CheckFingerprintMatch] {
		t.Error("fingerprint_match passed on tampered payload")
	}
	if !report.Checks[CheckSignatureValid] {
		t.Error("signature over the original fingerprint should still verify")
	}
	if report.IntegrityScore != 0.75 {
		t.Errorf("score = %.2f, want 0.75", report.IntegrityScore)
	}
	if !report.Questionable {
		t.Error("tampered evidence not flagged questionable at default threshold")
	}
}

func TestBrokenChainFailsContinuity(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("k1")
	record := buildRecord(t, signer, []byte(`{"a":1}`))

	blobs, _ := blob.NewFileStore(t.TempDir())
	v := New(&fakeRecords{record: record}, &fakeChain{ok: false, reason: "chain broken at entry 2"}, blobs, signer, 0)
	report, err := v.VerifyIntegrity(context.Background(), "EVD-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Checks[CheckChainContinuity] {
		t.Error("chain_continuity passed on a broken chain")
	}
}

func TestMissingBlobFailsManifest(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("k1")
	record := buildRecord(t, signer, []byte(`{"a":1}`))
	record.FileManifest = []contracts.FileManifestEntry{
		{Path: "gone.bin", Hash: crypto.HashBytes([]byte("never stored")), Size: 12},
	}

	blobs, _ := blob.NewFileStore(t.TempDir())
	v := New(&fakeRecords{record: record}, &fakeChain{ok: true}, blobs, signer, 0)
	report, err := v.VerifyIntegrity(context.Background(), "EVD-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Checks[CheckFileManifest] {
		t.Error("file_manifest passed with a missing blob")
	}
}

func TestEmptyManifestPassesTrivially(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("k1")
	record := buildRecord(t, signer, []byte(`{"a":1}`))

	blobs, _ := blob.NewFileStore(t.TempDir())
	v := New(&fakeRecords{record: record}, &fakeChain{ok: true}, blobs, signer, 0)
	report, _ := v.VerifyIntegrity(context.Background(), "EVD-1")
	if !report.Checks[CheckFileManifest] {
		t.Error("file_manifest failed for a record with no attachments")
	}
	if report.TotalChecks != 4 {
		t.Errorf("total checks = %d, checks must never be skipped", report.TotalChecks)
	}
}

func TestThresholdConfigurable(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("k1")
	record := buildRecord(t, signer, []byte(`{"content":"original"}`))
	record.SourcePayload = []byte(`{"content":"tampered"}`)

	blobs, _ := blob.NewFileStore(t.TempDir())
	v := New(&fakeRecords{record: record}, &fakeChain{ok: true}, blobs, signer, 0.5)
	report, _ := v.VerifyIntegrity(context.Background(), "EVD-1")
	if report.Questionable {
		t.Errorf("score %.2f flagged questionable at threshold 0.5", report.IntegrityScore)
	}
}
