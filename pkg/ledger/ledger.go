// Package ledger implements the append-only, hash-chained chain of custody.
//
// Each evidence item owns one chain. Entries are never edited or deleted;
// every entry's hash covers its canonical content and its predecessor's
// hash, chaining back to a fixed genesis value, so truncation, reordering,
// or insertion is detectable by replaying the chain.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cybershield/custody/pkg/canonicalize"
	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/crypto"
)

var (
	// ErrInvalidTransition indicates the requested action is not legal from
	// the evidence item's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConcurrentModification indicates the ledger head moved between the
	// caller's read and its append. The caller rereads and retries.
	ErrConcurrentModification = errors.New("ledger head changed, reread and retry")
	// ErrChainBroken indicates replaying the chain found a mismatch.
	ErrChainBroken = errors.New("custody chain is broken")
	// ErrNoEntries indicates the evidence item has no ledger yet.
	ErrNoEntries = errors.New("no custody entries")
)

// transitions maps each transition action to the statuses it is legal from.
// Sealing is reachable from COLLECTED directly because building a court
// package performs its own verification pass.
var transitions = map[contracts.Action][]contracts.Status{
	contracts.ActionVerified:  {contracts.StatusCollected},
	contracts.ActionSealed:    {contracts.StatusCollected, contracts.StatusVerified},
	contracts.ActionSubmitted: {contracts.StatusSealed},
	contracts.ActionAccepted:  {contracts.StatusSubmitted},
	contracts.ActionRejected:  {contracts.StatusSubmitted},
}

// SignatureVerifier checks entry signatures. Both a single signer and a
// rotation-tolerant keyring satisfy it.
type SignatureVerifier interface {
	Verify(data []byte, sigHex string) bool
}

// StatusWriter persists an evidence item's derived status inside the append
// transaction, so the cached status and the chain move together. The record
// store provides one; a ledger without a StatusWriter keeps chains only.
type StatusWriter func(ctx context.Context, tx *sql.Tx, evidenceID string, status contracts.Status) error

// Ledger is the SQL-backed custody ledger.
type Ledger struct {
	db           *sql.DB
	signer       crypto.Signer
	verifier     SignatureVerifier
	statusWriter StatusWriter
	clock        func() time.Time
	postgres     bool
}

// New creates a Ledger over db, signing new entries with signer and
// verifying existing ones with verifier, and runs its migration.
func New(db *sql.DB, signer crypto.Signer, verifier SignatureVerifier) (*Ledger, error) {
	if signer == nil {
		return nil, errors.New("ledger requires a signer")
	}
	if verifier == nil {
		verifier = signer
	}
	l := &Ledger{
		db:       db,
		signer:   signer,
		verifier: verifier,
		clock:    time.Now,
		postgres: fmt.Sprintf("%T", db.Driver()) == "*pq.Driver",
	}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithStatusWriter wires the cached-status update into transition appends.
func (l *Ledger) WithStatusWriter(w StatusWriter) *Ledger {
	l.statusWriter = w
	return l
}

func (l *Ledger) migrate() error {
	query := `CREATE TABLE IF NOT EXISTS custody_ledger (
		evidence_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		action TEXT NOT NULL,
		location TEXT,
		notes TEXT,
		entry_signature TEXT NOT NULL,
		entry_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		PRIMARY KEY (evidence_id, sequence)
	)`
	if _, err := l.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrate custody ledger: %w", err)
	}
	return nil
}

func (l *Ledger) rebind(query string) string {
	if !l.postgres {
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

// AppendRequest describes one custody event to record.
type AppendRequest struct {
	EvidenceID string
	ActorID    string
	ActorName  string
	Action     contracts.Action
	Location   string
	Notes      string
	// ExpectedHead is the entry hash of the chain head the caller last
	// read (GenesisHash for an empty chain). A stale value fails the
	// append with ErrConcurrentModification.
	ExpectedHead string
}

// Append validates the state transition, chains and signs a new entry, and
// persists it. On a transition action the configured StatusWriter runs in
// the same transaction.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*contracts.CustodyEntry, error) {
	if req.EvidenceID == "" || req.ActorID == "" || req.Action == "" {
		return nil, fmt.Errorf("append requires evidence_id, actor_id, and action")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	actions, headHash, headSeq, err := l.replayActions(ctx, tx, req.EvidenceID)
	if err != nil {
		return nil, err
	}

	if req.ExpectedHead != headHash {
		return nil, fmt.Errorf("%w: expected head %s, actual %s",
			ErrConcurrentModification, req.ExpectedHead, headHash)
	}

	status, hasGenesis := foldActions(actions)
	if err := checkTransition(req.Action, status, hasGenesis); err != nil {
		return nil, err
	}

	entry := &contracts.CustodyEntry{
		EvidenceID: req.EvidenceID,
		Sequence:   headSeq + 1,
		Timestamp:  l.clock().UTC().Truncate(time.Second),
		ActorID:    req.ActorID,
		ActorName:  req.ActorName,
		Action:     req.Action,
		Location:   req.Location,
		Notes:      req.Notes,
		PrevHash:   headHash,
	}
	entry.EntryHash = EntryHash(entry)

	canonical := contracts.CanonicalizeEntry(entry.EvidenceID, entry.Timestamp, entry.ActorID, entry.Action, entry.PrevHash)
	entry.EntrySignature, err = l.signer.Sign([]byte(canonical))
	if err != nil {
		return nil, fmt.Errorf("sign custody entry: %w", err)
	}

	insert := l.rebind(`INSERT INTO custody_ledger (
		evidence_id, sequence, timestamp, actor_id, actor_name,
		action, location, notes, entry_signature, entry_hash, prev_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, insert,
		entry.EvidenceID, entry.Sequence,
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.ActorID, entry.ActorName, string(entry.Action),
		entry.Location, entry.Notes,
		entry.EntrySignature, entry.EntryHash, entry.PrevHash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "duplicate key") {
			return nil, fmt.Errorf("%w: concurrent append won", ErrConcurrentModification)
		}
		return nil, fmt.Errorf("insert custody entry: %w", err)
	}

	if next := req.Action.Transition(); next != "" && l.statusWriter != nil {
		if err := l.statusWriter(ctx, tx, req.EvidenceID, next); err != nil {
			return nil, fmt.Errorf("update cached status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return entry, nil
}

// replayActions loads the chain's actions, head hash, and head sequence
// inside the append transaction.
func (l *Ledger) replayActions(ctx context.Context, tx *sql.Tx, evidenceID string) ([]contracts.Action, string, uint64, error) {
	query := l.rebind(`SELECT action, entry_hash, sequence
		FROM custody_ledger WHERE evidence_id = ? ORDER BY sequence`)
	rows, err := tx.QueryContext(ctx, query, evidenceID)
	if err != nil {
		return nil, "", 0, fmt.Errorf("read ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []contracts.Action
	headHash := contracts.GenesisHash
	var headSeq uint64
	for rows.Next() {
		var action, hash string
		var seq uint64
		if err := rows.Scan(&action, &hash, &seq); err != nil {
			return nil, "", 0, fmt.Errorf("scan ledger: %w", err)
		}
		actions = append(actions, contracts.Action(action))
		headHash = hash
		headSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, fmt.Errorf("iterate ledger: %w", err)
	}
	return actions, headHash, headSeq, nil
}

// foldActions derives the current status from the action history.
func foldActions(actions []contracts.Action) (contracts.Status, bool) {
	status := contracts.Status("")
	hasGenesis := false
	for _, a := range actions {
		if a == contracts.ActionCollected {
			hasGenesis = true
		}
		if next := a.Transition(); next != "" {
			status = next
		}
	}
	return status, hasGenesis
}

func checkTransition(action contracts.Action, status contracts.Status, hasGenesis bool) error {
	if action == contracts.ActionCollected {
		if hasGenesis {
			return fmt.Errorf("%w: chain already has a genesis entry", ErrInvalidTransition)
		}
		return nil
	}
	if !hasGenesis {
		return fmt.Errorf("%w: chain has no genesis entry", ErrInvalidTransition)
	}
	if status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, status)
	}
	if action.Transition() == "" {
		return nil // view-only actions are legal from any non-terminal state
	}
	for _, from := range transitions[action] {
		if from == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not legal from %s", ErrInvalidTransition, action, status)
}

// EntryHash computes an entry's chained hash: SHA-256 over the entry's
// canonical content concatenated with the predecessor's hash.
func EntryHash(e *contracts.CustodyEntry) string {
	content := fmt.Sprintf("%s:%d:%s:%s:%s:%s:%s:%s",
		e.EvidenceID, e.Sequence,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.ActorID, e.ActorName, string(e.Action), e.Location, e.Notes)
	return canonicalize.HashBytes([]byte(content + ":" + e.PrevHash))
}

// Entries returns the full chain for an evidence item in order.
func (l *Ledger) Entries(ctx context.Context, evidenceID string) ([]contracts.CustodyEntry, error) {
	query := l.rebind(`SELECT evidence_id, sequence, timestamp, actor_id,
		actor_name, action, location, notes, entry_signature, entry_hash, prev_hash
		FROM custody_ledger WHERE evidence_id = ? ORDER BY sequence`)
	rows, err := l.db.QueryContext(ctx, query, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []contracts.CustodyEntry
	for rows.Next() {
		var e contracts.CustodyEntry
		var ts, action string
		if err := rows.Scan(&e.EvidenceID, &e.Sequence, &ts, &e.ActorID,
			&e.ActorName, &action, &e.Location, &e.Notes,
			&e.EntrySignature, &e.EntryHash, &e.PrevHash); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Action = contracts.Action(action)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse entry timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

// Head returns the current head hash for an evidence item, or GenesisHash
// for an empty chain.
func (l *Ledger) Head(ctx context.Context, evidenceID string) (string, error) {
	query := l.rebind(`SELECT entry_hash FROM custody_ledger
		WHERE evidence_id = ? ORDER BY sequence DESC LIMIT 1`)
	var head string
	err := l.db.QueryRowContext(ctx, query, evidenceID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

// Status derives an evidence item's status by folding its ledger.
func (l *Ledger) Status(ctx context.Context, evidenceID string) (contracts.Status, error) {
	entries, err := l.Entries(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoEntries, evidenceID)
	}
	actions := make([]contracts.Action, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	status, _ := foldActions(actions)
	return status, nil
}

// VerifyChain replays the full chain, recomputing each entry hash from its
// predecessor and verifying each entry signature. It reports the first
// discrepancy found.
//
// Fields outside the signing string (actor name, location, notes) are
// protected by the hash chain alone: rewriting them on the current head can
// only be detected once a successor entry references the old head hash.
func (l *Ledger) VerifyChain(ctx context.Context, evidenceID string) (bool, string, error) {
	entries, err := l.Entries(ctx, evidenceID)
	if err != nil {
		return false, "", err
	}
	if len(entries) == 0 {
		return false, "chain is empty", nil
	}

	prev := contracts.GenesisHash
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", e.Sequence, prev, e.PrevHash), nil
		}
		if computed := EntryHash(e); computed != e.EntryHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", e.Sequence), nil
		}
		canonical := contracts.CanonicalizeEntry(e.EvidenceID, e.Timestamp, e.ActorID, e.Action, e.PrevHash)
		if !l.verifier.Verify([]byte(canonical), e.EntrySignature) {
			return false, fmt.Sprintf("signature invalid at entry %d", e.Sequence), nil
		}
		prev = e.EntryHash
	}
	return true, "chain verified", nil
}
