// Package audit records structured operational events for every engine
// operation. This is plain operational logging; the tamper-evident record
// of custody actions lives in the ledger, not here.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventCollection   EventType = "COLLECTION"
	EventCustody      EventType = "CUSTODY"
	EventVerification EventType = "VERIFICATION"
	EventExport       EventType = "EXPORT"
)

// Event is a structured audit record.
type Event struct {
	ID         string                 `json:"id"`
	ActorID    string                 `json:"actor_id"`
	Type       EventType              `json:"type"`
	Action     string                 `json:"action"`
	EvidenceID string                 `json:"evidence_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, actorID, action, evidenceID string, metadata map[string]interface{}) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, actorID, action, evidenceID string, metadata map[string]interface{}) error {
	event := Event{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		Type:       eventType,
		Action:     action,
		EvidenceID: evidenceID,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(raw, '\n')...))
	return err
}

// Nop is a Logger that discards everything. Useful in tests.
type Nop struct{}

func (Nop) Record(context.Context, EventType, string, string, string, map[string]interface{}) error {
	return nil
}
