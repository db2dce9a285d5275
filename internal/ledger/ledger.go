// Package ledger records technician payouts for completed jobs and moves
// them through the approval workflow:
//
//	pending -> approved
//	pending -> rejected
//	approved -> pending (administrative override only)
//
// There is at most one entry per job. Creation is insert-if-absent keyed on
// job_id, so repeated or concurrent completion signals for the same job
// leave exactly one entry.
package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/auth"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/events"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payments"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payout"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

const conflictKey = "job_id"

// Disburser sends money for an approved entry.
type Disburser interface {
	Transfer(ctx context.Context, req payments.TransferRequest) (string, error)
}

type Service struct {
	Store      storage.Store
	Calculator *payout.Calculator
	Events     events.Publisher
	// Payments is optional; Disburse fails while it is nil.
	Payments Disburser
	Currency string
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) calculator() *payout.Calculator {
	if s.Calculator == nil {
		return payout.NewCalculator(payout.DefaultConfig())
	}
	return s.Calculator
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		s.logger().Warn("event publish failed", "type", e.Type, "error", err)
	}
}

// CreateForJob records the payout for a completed job. If an entry for the
// job already exists it is returned unchanged with created=false.
// A disagreement with the job's estimated_payout is recorded on the entry
// and reported; the recomputed amount is always the one stored.
func (s *Service) CreateForJob(ctx context.Context, job models.Job) (models.LedgerEntry, bool, error) {
	if job.Status != models.JobCompleted {
		return models.LedgerEntry{}, false, apperr.Validation("job %s is %s, not completed", job.ID, job.Status)
	}
	if job.AssignedTechnicianID == "" {
		return models.LedgerEntry{}, false, apperr.Validation("job %s has no assigned technician", job.ID)
	}

	res, err := s.calculator().Compute(job.LineItems, job.AssignedTechnicianID, job.Metadata)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	share, _ := res.ShareFor(job.AssignedTechnicianID)
	now := s.now()
	entry := models.LedgerEntry{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		TechnicianID: job.AssignedTechnicianID,
		AmountCents:  share.AmountCents,
		Amount:       share.Amount,
		TotalCents:   res.TotalCents,
		Splits:       res.Shares,
		State:        models.LedgerPending,
		Mismatch:     payout.Reconcile(share, job.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	rec, err := storage.Encode(entry)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	inserted, err := s.Store.Upsert(ctx, storage.PayoutLedger, rec, conflictKey)
	if err != nil {
		observability.StoreErrors.WithLabelValues("upsert").Inc()
		return models.LedgerEntry{}, false, apperr.StoreUnavailable(err, "upsert")
	}
	if !inserted {
		existing, err := s.byJob(ctx, job.ID)
		return existing, false, err
	}

	observability.LedgerCreated.Inc()
	s.logger().Info("ledger entry created", "ledger_id", entry.ID, "job_id", job.ID,
		"technician_id", entry.TechnicianID, "amount", payout.FormatCents(entry.AmountCents))

	e := events.New(events.LedgerCreated, now)
	e.TechnicianID, e.JobID, e.LedgerID, e.Data = entry.TechnicianID, job.ID, entry.ID, entry
	s.publish(ctx, e)

	if entry.Mismatch != nil {
		observability.PayoutMismatches.Inc()
		s.logger().Warn("payout mismatch", "ledger_id", entry.ID, "job_id", job.ID,
			"error", payout.MismatchError(job.ID, entry.Mismatch).Error())
		m := events.New(events.LedgerMismatch, now)
		m.TechnicianID, m.JobID, m.LedgerID, m.Data = entry.TechnicianID, job.ID, entry.ID, entry.Mismatch
		s.publish(ctx, m)
	}
	return entry, true, nil
}

// SetState moves an entry forward. Only pending entries may change, and
// only to approved or rejected. Asking for the current state is a no-op.
func (s *Service) SetState(ctx context.Context, ledgerID string, to models.LedgerState, actor models.Identity) (models.LedgerEntry, error) {
	entry, err := s.load(ctx, ledgerID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if err := auth.RequireAdmin(actor); err != nil {
		return models.LedgerEntry{}, err
	}
	if !validState(to) {
		return models.LedgerEntry{}, apperr.Validation("unknown ledger state %q", to)
	}
	if entry.State == to {
		return entry, nil
	}
	if entry.State != models.LedgerPending || to == models.LedgerPending {
		return models.LedgerEntry{}, apperr.Validation("cannot move ledger entry from %s to %s", entry.State, to)
	}
	return s.transition(ctx, entry, models.Transition{From: entry.State, To: to, Actor: actor.SubjectID}, events.LedgerTransition)
}

// Override reopens an approved entry for correction. It is the only
// backward move and is recorded and logged as an override.
func (s *Service) Override(ctx context.Context, ledgerID string, actor models.Identity, reason string) (models.LedgerEntry, error) {
	entry, err := s.load(ctx, ledgerID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if err := auth.RequireAdmin(actor); err != nil {
		return models.LedgerEntry{}, err
	}
	if reason == "" {
		return models.LedgerEntry{}, apperr.Validation("override reason is required")
	}
	if entry.State != models.LedgerApproved {
		return models.LedgerEntry{}, apperr.Validation("only approved entries can be reopened, entry is %s", entry.State)
	}
	if entry.TransferID != "" {
		return models.LedgerEntry{}, apperr.Validation("entry %s was already disbursed", entry.ID)
	}
	t := models.Transition{From: entry.State, To: models.LedgerPending, Actor: actor.SubjectID, Override: true, Reason: reason}
	updated, err := s.transition(ctx, entry, t, events.LedgerOverride)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	s.logger().Warn("ledger override", "ledger_id", entry.ID, "job_id", entry.JobID,
		"actor", actor.SubjectID, "from", t.From, "to", t.To, "reason", reason)
	return updated, nil
}

func (s *Service) transition(ctx context.Context, entry models.LedgerEntry, t models.Transition, eventType string) (models.LedgerEntry, error) {
	t.At = s.now()
	from := entry.State
	entry.State = t.To
	entry.Transitions = append(entry.Transitions, t)
	entry.UpdatedAt = t.At

	// Guard on the state we read so a concurrent change is not overwritten.
	n, err := s.Store.Update(ctx, storage.PayoutLedger,
		storage.Filter{"id": entry.ID, "state": string(from)},
		storage.Record{"state": string(entry.State), "transitions": entry.Transitions, "updated_at": entry.UpdatedAt},
	)
	if err != nil {
		observability.StoreErrors.WithLabelValues("update").Inc()
		return models.LedgerEntry{}, apperr.StoreUnavailable(err, "update")
	}
	if n == 0 {
		return models.LedgerEntry{}, apperr.Validation("ledger entry %s changed concurrently, reload and retry", entry.ID)
	}

	observability.LedgerTransitions.WithLabelValues(string(t.From), string(t.To), strconv.FormatBool(t.Override)).Inc()
	s.logger().Info("ledger transition", "ledger_id", entry.ID, "from", t.From, "to", t.To, "actor", t.Actor)

	e := events.New(eventType, t.At)
	e.TechnicianID, e.JobID, e.LedgerID, e.Actor, e.Data = entry.TechnicianID, entry.JobID, entry.ID, t.Actor, t
	s.publish(ctx, e)
	return entry, nil
}

func validState(st models.LedgerState) bool {
	switch st {
	case models.LedgerPending, models.LedgerApproved, models.LedgerRejected:
		return true
	}
	return false
}

func (s *Service) load(ctx context.Context, id string) (models.LedgerEntry, error) {
	if id == "" {
		return models.LedgerEntry{}, apperr.Validation("ledger id is required")
	}
	var entry models.LedgerEntry
	if err := storage.Get(ctx, s.Store, storage.PayoutLedger, storage.Filter{"id": id}, &entry); err != nil {
		return models.LedgerEntry{}, apperr.FromStore(err, "find_one", "ledger entry "+id)
	}
	return entry, nil
}

func (s *Service) byJob(ctx context.Context, jobID string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := storage.Get(ctx, s.Store, storage.PayoutLedger, storage.Filter{conflictKey: jobID}, &entry); err != nil {
		return models.LedgerEntry{}, apperr.FromStore(err, "find_one", "ledger entry for job "+jobID)
	}
	return entry, nil
}
