// Package store persists evidence records and their supporting tables.
// The original fingerprint of a record is write-once: nothing in this
// package can overwrite it after Insert, and records with custody history
// are never deleted.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cybershield/custody/pkg/contracts"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidInput indicates a required collection field was empty or
	// malformed. Rejected before any state is created.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates an unknown evidence id.
	ErrNotFound = errors.New("evidence not found")
	// ErrMissingFile indicates a declared attachment does not exist.
	ErrMissingFile = errors.New("declared file missing")
	// ErrDuplicate indicates an evidence id collision on insert.
	ErrDuplicate = errors.New("evidence id already exists")
)

// Open connects to the evidence database. A postgres:// DSN selects the
// Postgres driver; anything else is treated as a sqlite path/URI.
func Open(dsn string) (*sql.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Store is the evidence record store.
type Store struct {
	db       *sql.DB
	postgres bool
}

// New creates a Store and runs its migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, postgres: driverIsPostgres(db)}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func driverIsPostgres(db *sql.DB) bool {
	return fmt.Sprintf("%T", db.Driver()) == "*pq.Driver"
}

// rebind rewrites ? placeholders to $N for the Postgres driver.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evidence_records (
			evidence_id TEXT PRIMARY KEY,
			case_number TEXT NOT NULL,
			evidence_type TEXT NOT NULL,
			source_platform TEXT,
			collected_by TEXT NOT NULL,
			collected_at TEXT NOT NULL,
			location_collected TEXT,
			description TEXT,
			original_fingerprint TEXT NOT NULL,
			signature TEXT NOT NULL,
			status TEXT NOT NULL,
			source_payload TEXT NOT NULL,
			file_manifest TEXT NOT NULL,
			compliance_checklist TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expert_analysis (
			analysis_id TEXT PRIMARY KEY,
			evidence_id TEXT NOT NULL,
			expert_name TEXT NOT NULL,
			expert_credentials TEXT,
			analysis_date TEXT NOT NULL,
			methodology TEXT,
			authenticity TEXT,
			confidence_level TEXT,
			integrity_score REAL
		)`,
		`CREATE TABLE IF NOT EXISTS court_submissions (
			submission_id TEXT PRIMARY KEY,
			evidence_id TEXT NOT NULL,
			case_number TEXT NOT NULL,
			court_name TEXT NOT NULL,
			judge_name TEXT,
			prosecutor_name TEXT,
			prosecutor_id TEXT,
			package_path TEXT NOT NULL,
			package_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate evidence store: %w", err)
		}
	}
	return nil
}

// Insert persists a new evidence record. The record's fingerprint,
// signature, and status must already be set by the caller.
func (s *Store) Insert(ctx context.Context, r *contracts.EvidenceRecord) error {
	manifest, err := json.Marshal(r.FileManifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	checklist, err := json.Marshal(r.ComplianceChecklist)
	if err != nil {
		return fmt.Errorf("encode checklist: %w", err)
	}

	query := s.rebind(`INSERT INTO evidence_records (
		evidence_id, case_number, evidence_type, source_platform,
		collected_by, collected_at, location_collected, description,
		original_fingerprint, signature, status, source_payload,
		file_manifest, compliance_checklist, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		r.EvidenceID, r.CaseNumber, string(r.EvidenceType), r.SourcePlatform,
		r.CollectedBy, r.CollectedAt.UTC().Format(time.RFC3339Nano),
		r.LocationCollected, r.Description,
		r.OriginalFingerprint, r.Signature, string(r.Status),
		string(r.SourcePayload), string(manifest), string(checklist),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.EvidenceID)
		}
		return fmt.Errorf("insert evidence record: %w", err)
	}
	return nil
}

// SetStatusTx updates the cached status column inside a caller-owned
// transaction. The ledger runs it while committing a transition append so
// the cached status and the chain move together.
func (s *Store) SetStatusTx(ctx context.Context, tx *sql.Tx, evidenceID string, status contracts.Status) error {
	query := s.rebind(`UPDATE evidence_records SET status = ? WHERE evidence_id = ?`)
	if _, err := tx.ExecContext(ctx, query, string(status), evidenceID); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Remove backs out a record whose custody chain never opened: if the
// genesis append fails after Insert, the half-collected record must not
// survive. Records with custody history are never removed.
func (s *Store) Remove(ctx context.Context, evidenceID string) error {
	query := s.rebind(`DELETE FROM evidence_records WHERE evidence_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, evidenceID); err != nil {
		return fmt.Errorf("remove evidence record: %w", err)
	}
	return nil
}

// Get loads an evidence record by id.
func (s *Store) Get(ctx context.Context, evidenceID string) (*contracts.EvidenceRecord, error) {
	query := s.rebind(`SELECT
		evidence_id, case_number, evidence_type, source_platform,
		collected_by, collected_at, location_collected, description,
		original_fingerprint, signature, status, source_payload,
		file_manifest, compliance_checklist
	FROM evidence_records WHERE evidence_id = ?`)

	row := s.db.QueryRowContext(ctx, query, evidenceID)

	var r contracts.EvidenceRecord
	var evidenceType, status, collectedAt, payload, manifest, checklist string
	err := row.Scan(
		&r.EvidenceID, &r.CaseNumber, &evidenceType, &r.SourcePlatform,
		&r.CollectedBy, &collectedAt, &r.LocationCollected, &r.Description,
		&r.OriginalFingerprint, &r.Signature, &status, &payload,
		&manifest, &checklist,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, evidenceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load evidence record: %w", err)
	}

	r.EvidenceType = contracts.EvidenceType(evidenceType)
	r.Status = contracts.Status(status)
	r.SourcePayload = []byte(payload)
	if r.CollectedAt, err = time.Parse(time.RFC3339Nano, collectedAt); err != nil {
		return nil, fmt.Errorf("parse collected_at: %w", err)
	}
	if err := json.Unmarshal([]byte(manifest), &r.FileManifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(checklist), &r.ComplianceChecklist); err != nil {
		return nil, fmt.Errorf("decode checklist: %w", err)
	}
	return &r, nil
}

// InsertExpertAnalysis persists an expert examination row.
func (s *Store) InsertExpertAnalysis(ctx context.Context, analysisID string, a *contracts.ExpertAnalysis) error {
	query := s.rebind(`INSERT INTO expert_analysis (
		analysis_id, evidence_id, expert_name, expert_credentials,
		analysis_date, methodology, authenticity, confidence_level, integrity_score
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		analysisID, a.EvidenceID, a.ExpertName, a.Credentials,
		a.AnalysisDate.UTC().Format(time.RFC3339Nano),
		a.Methodology, a.Authenticity, a.ConfidenceLevel, a.IntegrityScore,
	)
	if err != nil {
		return fmt.Errorf("insert expert analysis: %w", err)
	}
	return nil
}

// InsertCourtSubmission records a built court package.
func (s *Store) InsertCourtSubmission(ctx context.Context, submissionID, evidenceID, caseNumber string, details contracts.CourtDetails, packagePath, packageHash string) error {
	query := s.rebind(`INSERT INTO court_submissions (
		submission_id, evidence_id, case_number, court_name, judge_name,
		prosecutor_name, prosecutor_id, package_path, package_hash, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		submissionID, evidenceID, caseNumber, details.CourtName, details.JudgeName,
		details.ProsecutorName, details.ProsecutorID, packagePath, packageHash,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert court submission: %w", err)
	}
	return nil
}

// Summary aggregates record counts by status and type plus the total number
// of custody entries.
func (s *Store) Summary(ctx context.Context) (*contracts.Summary, error) {
	sum := &contracts.Summary{
		StatusDistribution: make(map[contracts.Status]int),
		TypeDistribution:   make(map[contracts.EvidenceType]int),
		GeneratedAt:        time.Now().UTC(),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, evidence_type FROM evidence_records`)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status, etype string
		if err := rows.Scan(&status, &etype); err != nil {
			return nil, fmt.Errorf("summary scan: %w", err)
		}
		sum.TotalEvidence++
		sum.StatusDistribution[contracts.Status(status)]++
		sum.TypeDistribution[contracts.EvidenceType(etype)]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summary rows: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM custody_ledger`)
	if err := row.Scan(&sum.TotalCustodyEntries); err != nil && !errors.Is(err, sql.ErrNoRows) {
		// Ledger table may not exist yet when no ledger was constructed.
		sum.TotalCustodyEntries = 0
	}
	return sum, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
