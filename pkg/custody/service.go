// Package custody is the engine facade. A Service owns one evidence store,
// one custody ledger, and one blob store, and exposes the full lifecycle:
// collection, custody events, integrity verification, court packaging, and
// expert testimony.
package custody

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cybershield/custody/pkg/audit"
	"github.com/cybershield/custody/pkg/blob"
	"github.com/cybershield/custody/pkg/canonicalize"
	"github.com/cybershield/custody/pkg/compliance"
	"github.com/cybershield/custody/pkg/config"
	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/court"
	"github.com/cybershield/custody/pkg/crypto"
	"github.com/cybershield/custody/pkg/ledger"
	"github.com/cybershield/custody/pkg/store"
	"github.com/cybershield/custody/pkg/verify"
)

// appendRetries bounds the optimistic-concurrency retry loop for custody
// appends. Conflicts beyond this surface ErrConcurrentModification.
const appendRetries = 3

const lockStripes = 64

// Service orchestrates the evidence lifecycle over injected components.
type Service struct {
	records    *store.Store
	ledger     *ledger.Ledger
	blobs      blob.Store
	signer     crypto.Signer
	compliance *compliance.Engine
	verifier   *verify.Verifier
	courts     *court.Builder
	audit      audit.Logger
	tracer     trace.Tracer
	clock      func() time.Time

	locks [lockStripes]sync.Mutex
}

// New assembles a Service from its components. All components are required
// except logger, which defaults to a stdout logger.
func New(records *store.Store, l *ledger.Ledger, blobs blob.Store, signer crypto.Signer, engine *compliance.Engine, verifier *verify.Verifier, courts *court.Builder, logger audit.Logger) *Service {
	if logger == nil {
		logger = audit.NewLogger()
	}
	return &Service{
		records:    records,
		ledger:     l,
		blobs:      blobs,
		signer:     signer,
		compliance: engine,
		verifier:   verifier,
		courts:     courts,
		audit:      logger,
		tracer:     otel.Tracer("custody"),
		clock:      time.Now,
	}
}

// Open wires a full Service from configuration: database, keystore, blob
// backend, ledger, verifier, compliance engine, and court builder. The
// returned close function releases the database.
func Open(ctx context.Context, cfg *config.Config) (*Service, func() error, error) {
	signer, err := crypto.LoadKeystore(cfg.KeystorePath)
	if err != nil {
		return nil, nil, err
	}
	keyring, err := crypto.LoadVerificationKeyRing(cfg.KeystorePath)
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	records, err := store.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	led, err := ledger.New(db, signer, keyring)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	led.WithStatusWriter(records.SetStatusTx)

	blobs, err := blob.NewStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	engine, err := compliance.NewEngine()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	verifier := verify.New(records, led, blobs, keyring, cfg.IntegrityThreshold)
	courts, err := court.NewBuilder(records, led, blobs, verifier, records, cfg.PackageDir)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	courts.WithSignerPublicKey(signer.PublicKey())

	svc := New(records, led, blobs, signer, engine, verifier, courts, audit.NewLogger())
	return svc, db.Close, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) lock(evidenceID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(evidenceID))
	return &s.locks[h.Sum32()%lockStripes]
}

// CollectRequest describes one evidence item to bring under custody.
type CollectRequest struct {
	CaseNumber  string
	Payload     *contracts.SourcePayload
	CollectedBy string
	Location    string
	Description string
	// FilePaths lists attached files to ingest into the blob store. A
	// missing path fails the whole collection.
	FilePaths []string
}

// Collect validates the request, fingerprints and signs the payload,
// ingests attachments into content-addressed storage, persists the record,
// and opens its custody chain with a genesis entry.
func (s *Service) Collect(ctx context.Context, req CollectRequest) (*contracts.EvidenceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "custody.Collect")
	defer span.End()

	if err := store.ValidateCollectFields(req.CaseNumber, req.CollectedBy, req.Location, req.Description); err != nil {
		return nil, err
	}
	if err := store.ValidatePayload(req.Payload); err != nil {
		return nil, err
	}

	payload, err := canonicalize.JCS(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	fingerprint, err := canonicalize.FingerprintRaw(payload)
	if err != nil {
		return nil, fmt.Errorf("fingerprint payload: %w", err)
	}

	manifest, err := s.ingestFiles(ctx, req.FilePaths)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC().Truncate(time.Second)
	record := &contracts.EvidenceRecord{
		EvidenceID:          newEvidenceID(now),
		CaseNumber:          req.CaseNumber,
		EvidenceType:        req.Payload.Type,
		SourcePlatform:      req.Payload.Platform(),
		CollectedBy:         req.CollectedBy,
		CollectedAt:         now,
		LocationCollected:   req.Location,
		Description:         req.Description,
		OriginalFingerprint: fingerprint,
		Status:              contracts.StatusCollected,
		SourcePayload:       payload,
		FileManifest:        manifest,
	}

	canonical := contracts.CanonicalizeRecord(record.EvidenceID, record.CaseNumber, record.CollectedAt, record.OriginalFingerprint)
	if record.Signature, err = s.signer.Sign([]byte(canonical)); err != nil {
		return nil, fmt.Errorf("sign evidence record: %w", err)
	}

	// At collection every integrity check holds by construction: the
	// fingerprint and signature were just computed and the chain is about
	// to receive its genesis entry.
	record.ComplianceChecklist = s.compliance.Evaluate(compliance.Input{
		Record:       record,
		LedgerLength: 1,
		LedgerIntact: true,
		Checks: map[string]bool{
			verify.CheckFingerprintMatch: true,
			verify.CheckSignatureValid:   true,
			verify.CheckChainContinuity:  true,
			verify.CheckFileManifest:     true,
		},
	})

	mu := s.lock(record.EvidenceID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.records.Insert(ctx, record); err != nil {
		return nil, err
	}
	_, err = s.ledger.Append(ctx, ledger.AppendRequest{
		EvidenceID:   record.EvidenceID,
		ActorID:      req.CollectedBy,
		ActorName:    req.CollectedBy,
		Action:       contracts.ActionCollected,
		Location:     req.Location,
		Notes:        "Evidence collected and registered",
		ExpectedHead: contracts.GenesisHash,
	})
	if err != nil {
		// Back out the record: a COLLECTED record with no custody chain
		// would have no derivable status.
		_ = s.records.Remove(ctx, record.EvidenceID)
		return nil, fmt.Errorf("open custody chain: %w", err)
	}

	_ = s.audit.Record(ctx, audit.EventCollection, req.CollectedBy, "collect", record.EvidenceID, map[string]interface{}{
		"case_number":   record.CaseNumber,
		"evidence_type": string(record.EvidenceType),
		"fingerprint":   record.OriginalFingerprint,
		"files":         len(manifest),
	})
	return record, nil
}

func (s *Service) ingestFiles(ctx context.Context, paths []string) ([]contracts.FileManifestEntry, error) {
	var manifest []contracts.FileManifestEntry
	for _, path := range paths {
		f, err := os.Open(path) //nolint:gosec // collector-supplied path
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", store.ErrMissingFile, path)
			}
			return nil, fmt.Errorf("open attachment %s: %w", path, err)
		}
		hash, size, err := s.blobs.Put(ctx, f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("store attachment %s: %w", path, err)
		}
		manifest = append(manifest, contracts.FileManifestEntry{
			Path: filepath.Base(path),
			Hash: hash,
			Size: size,
		})
	}
	return manifest, nil
}

func newEvidenceID(now time.Time) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("EVD-%s-%s", now.Format("20060102"), id[:12])
}

// CustodyRequest describes one custody event to append.
type CustodyRequest struct {
	EvidenceID string
	ActorID    string
	ActorName  string
	Action     contracts.Action
	Location   string
	Notes      string
}

// AppendCustody appends a custody event, re-reading the chain head and
// retrying a bounded number of times when a concurrent append wins.
func (s *Service) AppendCustody(ctx context.Context, req CustodyRequest) (*contracts.CustodyEntry, error) {
	ctx, span := s.tracer.Start(ctx, "custody.AppendCustody")
	defer span.End()

	mu := s.lock(req.EvidenceID)
	mu.Lock()
	defer mu.Unlock()

	entry, err := s.appendWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.EventCustody, req.ActorID, string(req.Action), req.EvidenceID, map[string]interface{}{
		"sequence": entry.Sequence,
		"location": req.Location,
	})
	return entry, nil
}

// appendWithRetry performs the read-head, append cycle. The caller holds
// the per-item stripe lock, so retries only matter when another process
// shares the database.
func (s *Service) appendWithRetry(ctx context.Context, req CustodyRequest) (*contracts.CustodyEntry, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		head, err := s.ledger.Head(ctx, req.EvidenceID)
		if err != nil {
			return nil, err
		}
		entry, err := s.ledger.Append(ctx, ledger.AppendRequest{
			EvidenceID:   req.EvidenceID,
			ActorID:      req.ActorID,
			ActorName:    req.ActorName,
			Action:       req.Action,
			Location:     req.Location,
			Notes:        req.Notes,
			ExpectedHead: head,
		})
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ledger.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// VerifyIntegrity runs the full integrity verification and records the
// verification itself as a custody event on the item's chain.
func (s *Service) VerifyIntegrity(ctx context.Context, evidenceID, actorID string) (*contracts.VerificationReport, error) {
	ctx, span := s.tracer.Start(ctx, "custody.VerifyIntegrity")
	defer span.End()

	report, err := s.verifier.VerifyIntegrity(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	if actorID == "" {
		actorID = "SYSTEM"
	}
	mu := s.lock(evidenceID)
	mu.Lock()
	_, appendErr := s.appendWithRetry(ctx, CustodyRequest{
		EvidenceID: evidenceID,
		ActorID:    actorID,
		ActorName:  "Integrity Verifier",
		Action:     contracts.ActionIntegrity,
		Notes:      fmt.Sprintf("Integrity score %.2f (%d/%d checks passed)", report.IntegrityScore, report.ChecksPassed, report.TotalChecks),
	})
	mu.Unlock()
	if appendErr != nil {
		return nil, fmt.Errorf("record verification event: %w", appendErr)
	}

	_ = s.audit.Record(ctx, audit.EventVerification, actorID, "verify_integrity", evidenceID, map[string]interface{}{
		"integrity_score": report.IntegrityScore,
		"questionable":    report.Questionable,
	})
	return report, nil
}

// FormatForCourt builds the court submission package for an evidence item
// and seals it. Returns the package archive path.
func (s *Service) FormatForCourt(ctx context.Context, evidenceID string, details contracts.CourtDetails) (string, error) {
	ctx, span := s.tracer.Start(ctx, "custody.FormatForCourt")
	defer span.End()

	mu := s.lock(evidenceID)
	mu.Lock()
	defer mu.Unlock()

	path, err := s.courts.FormatForCourt(ctx, evidenceID, details)
	if err != nil {
		return "", err
	}

	_ = s.audit.Record(ctx, audit.EventExport, details.ProsecutorID, "format_for_court", evidenceID, map[string]interface{}{
		"court":   details.CourtName,
		"package": path,
	})
	return path, nil
}

// Submit records court submission of a sealed evidence item.
func (s *Service) Submit(ctx context.Context, evidenceID, actorID, actorName, courtName string) (*contracts.CustodyEntry, error) {
	return s.AppendCustody(ctx, CustodyRequest{
		EvidenceID: evidenceID,
		ActorID:    actorID,
		ActorName:  actorName,
		Action:     contracts.ActionSubmitted,
		Location:   courtName,
		Notes:      "Submitted to " + courtName,
	})
}

// Accept records court acceptance of a submitted evidence item.
func (s *Service) Accept(ctx context.Context, evidenceID, actorID, actorName, notes string) (*contracts.CustodyEntry, error) {
	return s.AppendCustody(ctx, CustodyRequest{
		EvidenceID: evidenceID,
		ActorID:    actorID,
		ActorName:  actorName,
		Action:     contracts.ActionAccepted,
		Notes:      notes,
	})
}

// Reject records court rejection of a submitted evidence item.
func (s *Service) Reject(ctx context.Context, evidenceID, actorID, actorName, reason string) (*contracts.CustodyEntry, error) {
	return s.AppendCustody(ctx, CustodyRequest{
		EvidenceID: evidenceID,
		ActorID:    actorID,
		ActorName:  actorName,
		Action:     contracts.ActionRejected,
		Notes:      reason,
	})
}

// Evidence loads one evidence record.
func (s *Service) Evidence(ctx context.Context, evidenceID string) (*contracts.EvidenceRecord, error) {
	return s.records.Get(ctx, evidenceID)
}

// CustodyChain returns the full custody chain for an evidence item.
func (s *Service) CustodyChain(ctx context.Context, evidenceID string) ([]contracts.CustodyEntry, error) {
	return s.ledger.Entries(ctx, evidenceID)
}

// Summary aggregates the evidence store for reporting.
func (s *Service) Summary(ctx context.Context) (*contracts.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "custody.Summary")
	defer span.End()
	return s.records.Summary(ctx)
}

// PrepareExpertTestimony runs a fresh verification and persists an expert
// analysis derived from it. Authenticity and confidence come from the
// integrity score alone; the expert supplies identity and credentials.
func (s *Service) PrepareExpertTestimony(ctx context.Context, evidenceID string, expert contracts.ExpertDetails) (*contracts.ExpertAnalysis, error) {
	ctx, span := s.tracer.Start(ctx, "custody.PrepareExpertTestimony")
	defer span.End()

	report, err := s.verifier.VerifyIntegrity(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	analysis := &contracts.ExpertAnalysis{
		EvidenceID:      evidenceID,
		ExpertName:      expert.Name,
		Credentials:     expert.Credentials,
		AnalysisDate:    s.clock().UTC(),
		Methodology:     "Cryptographic fingerprint comparison, digital signature verification, and chain of custody replay",
		Authenticity:    authenticity(report),
		ConfidenceLevel: confidence(report.IntegrityScore, report.Questionable),
		IntegrityScore:  report.IntegrityScore,
	}

	if err := s.records.InsertExpertAnalysis(ctx, uuid.New().String(), analysis); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.EventVerification, expert.Name, "prepare_expert_testimony", evidenceID, map[string]interface{}{
		"authenticity": analysis.Authenticity,
		"confidence":   analysis.ConfidenceLevel,
	})
	return analysis, nil
}

func authenticity(report *contracts.VerificationReport) string {
	if report.Questionable {
		return "QUESTIONABLE"
	}
	return "VERIFIED"
}

func confidence(score float64, questionable bool) string {
	switch {
	case questionable:
		return "LOW"
	case score >= 0.9:
		return "HIGH"
	default:
		return "MEDIUM"
	}
}
