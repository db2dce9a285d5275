// Package events carries domain events (ledger and job changes) to the
// audit stream and to connected clients.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	LedgerCreated    = "ledger.created"
	LedgerTransition = "ledger.transition"
	LedgerOverride   = "ledger.override"
	LedgerMismatch   = "ledger.mismatch"
	LedgerDisbursed  = "ledger.disbursed"
	JobAccepted      = "job.accepted"
	JobCompleted     = "job.completed"
	JobStatus        = "job.status"
)

type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	At           time.Time `json:"at"`
	TechnicianID string    `json:"technician_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	LedgerID     string    `json:"ledger_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Data         any       `json:"data,omitempty"`
}

// New stamps an event with a fresh id.
func New(typ string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: at.UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(_ context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("domain_event",
		"event_id", e.ID,
		"type", e.Type,
		"technician_id", e.TechnicianID,
		"job_id", e.JobID,
		"ledger_id", e.LedgerID,
		"actor", e.Actor,
	)
	return nil
}
