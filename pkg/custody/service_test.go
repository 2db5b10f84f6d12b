package custody

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershield/custody/pkg/audit"
	"github.com/cybershield/custody/pkg/blob"
	"github.com/cybershield/custody/pkg/compliance"
	"github.com/cybershield/custody/pkg/config"
	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/court"
	"github.com/cybershield/custody/pkg/crypto"
	"github.com/cybershield/custody/pkg/ledger"
	"github.com/cybershield/custody/pkg/store"
	"github.com/cybershield/custody/pkg/verify"
)

func testService(t *testing.T) *Service {
	svc, _ := testServiceWithConfig(t)
	return svc
}

func testServiceWithConfig(t *testing.T) (*Service, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	keystorePath := filepath.Join(dir, "keys", "keystore.json")
	_, err := crypto.WriteKeystore(keystorePath, "service-test-key")
	require.NoError(t, err)

	cfg := &config.Config{
		DatabaseDSN:        "file:" + filepath.Join(dir, "custody.db"),
		KeystorePath:       keystorePath,
		BlobBackend:        config.BlobBackendFile,
		BlobDir:            filepath.Join(dir, "blobs"),
		PackageDir:         filepath.Join(dir, "packages"),
		IntegrityThreshold: config.DefaultIntegrityThreshold,
	}

	svc, closeFn, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return svc, cfg
}

func collectRequest(t *testing.T, dir string) CollectRequest {
	t.Helper()
	attachment := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(attachment, []byte("screenshot bytes"), 0o600))

	return CollectRequest{
		CaseNumber: "CASE-2026-001",
		Payload: &contracts.SourcePayload{
			Type: contracts.EvidenceSocialMediaPost,
			SocialMedia: &contracts.SocialMediaPayload{
				Platform: "twitter",
				PostID:   "1892",
				Author:   "@suspect",
				Content:  "the disputed post",
			},
		},
		CollectedBy: "officer-7",
		Location:    "Cyber Cell, Pune",
		Description: "Defamatory post",
		FilePaths:   []string{attachment},
	}
}

func TestCollectThenVerifyScoresFull(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	assert.NotEmpty(t, record.EvidenceID)
	assert.Equal(t, contracts.StatusCollected, record.Status)
	assert.Len(t, record.OriginalFingerprint, 64)
	assert.NotEmpty(t, record.Signature)
	require.Len(t, record.FileManifest, 1)
	assert.True(t, record.ComplianceChecklist["proper_identification"])

	chain, err := svc.CustodyChain(ctx, record.EvidenceID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, contracts.ActionCollected, chain[0].Action)
	assert.Equal(t, contracts.GenesisHash, chain[0].PrevHash)

	report, err := svc.VerifyIntegrity(ctx, record.EvidenceID, "officer-7")
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.IntegrityScore)
	assert.False(t, report.Questionable)
	assert.Equal(t, 4, report.TotalChecks)

	// The verification itself is on the record's chain.
	chain, err = svc.CustodyChain(ctx, record.EvidenceID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, contracts.ActionIntegrity, chain[1].Action)
}

func TestCollectRejectsMissingFields(t *testing.T) {
	svc := testService(t)
	req := collectRequest(t, t.TempDir())
	req.CaseNumber = ""

	_, err := svc.Collect(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestCollectRejectsMissingFile(t *testing.T) {
	svc := testService(t)
	req := collectRequest(t, t.TempDir())
	req.FilePaths = []string{filepath.Join(t.TempDir(), "does-not-exist.png")}

	_, err := svc.Collect(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrMissingFile)
}

func TestCollectRejectsInvalidPayload(t *testing.T) {
	svc := testService(t)
	req := collectRequest(t, t.TempDir())
	req.Payload = &contracts.SourcePayload{Type: contracts.EvidenceSocialMediaPost}

	_, err := svc.Collect(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestSubmitFromCollectedRejected(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, record.EvidenceID, "pros-1", "Prosecutor", "District Court")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestFormatForCourtSealsViaService(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	before, err := svc.CustodyChain(ctx, record.EvidenceID)
	require.NoError(t, err)

	path, err := svc.FormatForCourt(ctx, record.EvidenceID, contracts.CourtDetails{
		CourtName:      "District Court, Pune",
		ProsecutorName: "A. Kulkarni",
		ProsecutorID:   "PROS-11",
	})
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	got, err := svc.Evidence(ctx, record.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSealed, got.Status)

	after, err := svc.CustodyChain(ctx, record.EvidenceID)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)

	result, err := court.InspectPackage(path)
	require.NoError(t, err)
	assert.True(t, result.Verified, "issues: %v", result.Issues)
}

func TestFullLifecycleToAccepted(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	_, err = svc.FormatForCourt(ctx, record.EvidenceID, contracts.CourtDetails{CourtName: "District Court"})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, record.EvidenceID, "pros-1", "Prosecutor", "District Court")
	require.NoError(t, err)

	_, err = svc.Accept(ctx, record.EvidenceID, "court-1", "Registrar", "admitted as exhibit P-4")
	require.NoError(t, err)

	got, err := svc.Evidence(ctx, record.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusAccepted, got.Status)

	// Terminal: no further custody events.
	_, err = svc.AppendCustody(ctx, CustodyRequest{
		EvidenceID: record.EvidenceID, ActorID: "x", Action: contracts.ActionViewed,
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestRejectIsTerminal(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)
	_, err = svc.FormatForCourt(ctx, record.EvidenceID, contracts.CourtDetails{CourtName: "District Court"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, record.EvidenceID, "pros-1", "Prosecutor", "District Court")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, record.EvidenceID, "court-1", "Registrar", "certification incomplete")
	require.NoError(t, err)

	got, err := svc.Evidence(ctx, record.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRejected, got.Status)
}

func TestConcurrentAppendsBothLand(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AppendCustody(ctx, CustodyRequest{
				EvidenceID: record.EvidenceID,
				ActorID:    "officer-7",
				ActorName:  "Officer Seven",
				Action:     contracts.ActionViewed,
			})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	chain, err := svc.CustodyChain(ctx, record.EvidenceID)
	require.NoError(t, err)
	assert.Len(t, chain, 3) // genesis + both views

	report, err := svc.VerifyIntegrity(ctx, record.EvidenceID, "officer-7")
	require.NoError(t, err)
	assert.True(t, report.Checks[verify.CheckChainContinuity])
}

func TestTamperedPayloadFlagsQuestionable(t *testing.T) {
	svc, cfg := testServiceWithConfig(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	// Tamper with the stored payload behind the engine's back.
	db, err := store.Open(cfg.DatabaseDSN)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(
		`UPDATE evidence_records SET source_payload = '{"forged":true}' WHERE evidence_id = ?`,
		record.EvidenceID)
	require.NoError(t, err)

	report, err := svc.VerifyIntegrity(ctx, record.EvidenceID, "officer-7")
	require.NoError(t, err)
	assert.False(t, report.Checks[verify.CheckFingerprintMatch])
	assert.True(t, report.Questionable)
}

// failingSigner always fails to sign, simulating an unavailable key.
type failingSigner struct{}

func (failingSigner) Sign([]byte) (string, error) { return "", fmt.Errorf("signing key unavailable") }
func (failingSigner) Verify([]byte, string) bool  { return false }
func (failingSigner) PublicKey() string           { return "" }
func (failingSigner) KeyID() string               { return "broken" }

func TestCollectBacksOutWhenChainOpenFails(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open("file:" + filepath.Join(dir, "custody.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	records, err := store.New(db)
	require.NoError(t, err)
	signer, err := crypto.NewEd25519Signer("good-key")
	require.NoError(t, err)

	// The record signs fine, but the ledger cannot sign the genesis entry.
	led, err := ledger.New(db, failingSigner{}, signer)
	require.NoError(t, err)
	led.WithStatusWriter(records.SetStatusTx)

	blobs, err := blob.NewFileStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	engine, err := compliance.NewEngine()
	require.NoError(t, err)
	verifier := verify.New(records, led, blobs, signer, 0)
	courts, err := court.NewBuilder(records, led, blobs, verifier, records, filepath.Join(dir, "packages"))
	require.NoError(t, err)

	svc := New(records, led, blobs, signer, engine, verifier, courts, audit.Nop{})

	_, err = svc.Collect(context.Background(), collectRequest(t, t.TempDir()))
	require.Error(t, err)

	// No half-collected record survives: a record without a chain would
	// have no derivable status.
	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.TotalEvidence)
	assert.Equal(t, 0, sum.TotalCustodyEntries)
}

func TestPrepareExpertTestimony(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	record, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	analysis, err := svc.PrepareExpertTestimony(ctx, record.EvidenceID, contracts.ExpertDetails{
		Name:        "Dr. Rao",
		Credentials: "Certified Forensic Examiner",
	})
	require.NoError(t, err)
	assert.Equal(t, "VERIFIED", analysis.Authenticity)
	assert.Equal(t, "HIGH", analysis.ConfidenceLevel)
	assert.Equal(t, 1.0, analysis.IntegrityScore)
	assert.Equal(t, "Dr. Rao", analysis.ExpertName)
}

func TestSummaryCounts(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, err := svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)
	_, err = svc.Collect(ctx, collectRequest(t, t.TempDir()))
	require.NoError(t, err)

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalEvidence)
	assert.Equal(t, 2, sum.StatusDistribution[contracts.StatusCollected])
	assert.Equal(t, 2, sum.TotalCustodyEntries)
}
