package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cybershield/custody/pkg/contracts"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("file:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func testRecord(id string) *contracts.EvidenceRecord {
	return &contracts.EvidenceRecord{
		EvidenceID:          id,
		CaseNumber:          "CASE-2026-001",
		EvidenceType:        contracts.EvidenceSocialMediaPost,
		SourcePlatform:      "twitter",
		CollectedBy:         "officer-7",
		CollectedAt:         time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		LocationCollected:   "Cyber Cell, Pune",
		Description:         "Defamatory post",
		OriginalFingerprint: "deadbeef",
		Signature:           "cafe",
		Status:              contracts.StatusCollected,
		SourcePayload:       []byte(`{"type":"social_media_post"}`),
		FileManifest: []contracts.FileManifestEntry{
			{Path: "screenshot.png", Hash: "sha256:aa", Size: 42},
		},
		ComplianceChecklist: map[string]bool{"proper_identification": true},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := testRecord("EVD-1")
	if err := s.Insert(ctx, want); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, "EVD-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CaseNumber != want.CaseNumber || got.EvidenceType != want.EvidenceType {
		t.Errorf("loaded record differs: %+v", got)
	}
	if got.OriginalFingerprint != want.OriginalFingerprint {
		t.Errorf("fingerprint = %s, want %s", got.OriginalFingerprint, want.OriginalFingerprint)
	}
	if !got.CollectedAt.Equal(want.CollectedAt) {
		t.Errorf("collected_at = %s, want %s", got.CollectedAt, want.CollectedAt)
	}
	if len(got.FileManifest) != 1 || got.FileManifest[0].Hash != "sha256:aa" {
		t.Errorf("manifest = %+v", got.FileManifest)
	}
	if !got.ComplianceChecklist["proper_identification"] {
		t.Error("checklist lost on round trip")
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord("EVD-1")); err != nil {
		t.Fatal(err)
	}
	err := s.Insert(ctx, testRecord("EVD-1"))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "EVD-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testRecord("EVD-1")
	b := testRecord("EVD-2")
	b.Status = contracts.StatusSealed
	b.EvidenceType = contracts.EvidenceEmail
	for _, r := range []*contracts.EvidenceRecord{a, b} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalEvidence != 2 {
		t.Errorf("total = %d, want 2", sum.TotalEvidence)
	}
	if sum.StatusDistribution[contracts.StatusCollected] != 1 || sum.StatusDistribution[contracts.StatusSealed] != 1 {
		t.Errorf("status distribution = %+v", sum.StatusDistribution)
	}
	if sum.TypeDistribution[contracts.EvidenceEmail] != 1 {
		t.Errorf("type distribution = %+v", sum.TypeDistribution)
	}
}

func TestInsertExpertAnalysisAndSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.InsertExpertAnalysis(ctx, "analysis-1", &contracts.ExpertAnalysis{
		EvidenceID:      "EVD-1",
		ExpertName:      "Dr. Rao",
		AnalysisDate:    time.Now(),
		Authenticity:    "VERIFIED",
		ConfidenceLevel: "HIGH",
		IntegrityScore:  1.0,
	})
	if err != nil {
		t.Fatalf("insert analysis: %v", err)
	}

	err = s.InsertCourtSubmission(ctx, "sub-1", "EVD-1", "CASE-2026-001",
		contracts.CourtDetails{CourtName: "District Court"}, "/tmp/pkg.zip", "sha256:ff")
	if err != nil {
		t.Fatalf("insert submission: %v", err)
	}
}

func TestInsertFailureSurfacesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS evidence_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS expert_analysis").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS court_submissions").WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	mock.ExpectExec("INSERT INTO evidence_records").WillReturnError(errors.New("disk I/O error"))

	err = s.Insert(context.Background(), testRecord("EVD-1"))
	if err == nil {
		t.Fatal("expected insert error")
	}
	if errors.Is(err, ErrDuplicate) {
		t.Error("driver error misclassified as duplicate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestValidateCollectFields(t *testing.T) {
	if err := ValidateCollectFields("CASE-1", "officer", "Pune", "desc"); err != nil {
		t.Errorf("valid fields rejected: %v", err)
	}
	cases := [][4]string{
		{"", "officer", "Pune", "desc"},
		{"CASE-1", "", "Pune", "desc"},
		{"CASE-1", "officer", "", "desc"},
		{"CASE-1", "officer", "Pune", ""},
		{"   ", "officer", "Pune", "desc"},
	}
	for _, c := range cases {
		err := ValidateCollectFields(c[0], c[1], c[2], c[3])
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidateCollectFields(%v) = %v, want ErrInvalidInput", c, err)
		}
	}
}

func TestValidatePayload(t *testing.T) {
	valid := &contracts.SourcePayload{
		Type:        contracts.EvidenceSocialMediaPost,
		SocialMedia: &contracts.SocialMediaPayload{Platform: "twitter", PostID: "123"},
	}
	if err := ValidatePayload(valid); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	if err := ValidatePayload(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil payload: %v", err)
	}

	unknown := &contracts.SourcePayload{Type: "hologram"}
	if err := ValidatePayload(unknown); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown type: %v", err)
	}

	missingVariant := &contracts.SourcePayload{Type: contracts.EvidenceSocialMediaPost}
	if err := ValidatePayload(missingVariant); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing variant: %v", err)
	}
}
