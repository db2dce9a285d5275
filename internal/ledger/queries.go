package ledger

import (
	"context"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/auth"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/events"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payments"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payout"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

const DefaultListLimit = 100

// Get returns an entry visible to actor: administrators see every entry,
// technicians only entries they are paid from.
func (s *Service) Get(ctx context.Context, actor models.Identity, ledgerID string) (models.LedgerEntry, error) {
	entry, err := s.load(ctx, ledgerID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !canSee(actor, entry) {
		return models.LedgerEntry{}, apperr.Unauthorized("ledger entry %s belongs to another technician", ledgerID)
	}
	return entry, nil
}

func canSee(actor models.Identity, entry models.LedgerEntry) bool {
	if actor.IsAdmin() || actor.SubjectID == entry.TechnicianID {
		return true
	}
	for _, sh := range entry.Splits {
		if sh.TechnicianID == actor.SubjectID {
			return true
		}
	}
	return false
}

// ListByTechnician returns the technician's entries, newest first.
func (s *Service) ListByTechnician(ctx context.Context, techID string, limit int) ([]models.LedgerEntry, error) {
	if techID == "" {
		return nil, apperr.Validation("technician id is required")
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	recs, err := s.Store.FindMany(ctx, storage.PayoutLedger, storage.Filter{"technician_id": techID},
		&storage.Order{Field: "created_at", Desc: true}, limit)
	if err != nil {
		observability.StoreErrors.WithLabelValues("find_many").Inc()
		return nil, apperr.StoreUnavailable(err, "find_many")
	}
	out := make([]models.LedgerEntry, 0, len(recs))
	for _, rec := range recs {
		var e models.LedgerEntry
		if err := storage.Decode(rec, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// AuditReport compares a stored entry against a fresh computation from the
// job as it is now.
type AuditReport struct {
	Entry      models.LedgerEntry `json:"entry"`
	Recomputed payout.Result      `json:"recomputed"`
	// Drift is set when the stored amount no longer matches the job.
	Drift *models.Mismatch `json:"drift,omitempty"`
	// Estimate is set when the job's estimated_payout disagrees with the
	// recomputed amount.
	Estimate *models.Mismatch `json:"estimate_mismatch,omitempty"`
}

// Audit recomputes the payout of an entry's job. Disagreements are
// reported in the result and are not errors.
func (s *Service) Audit(ctx context.Context, actor models.Identity, ledgerID string) (AuditReport, error) {
	entry, err := s.load(ctx, ledgerID)
	if err != nil {
		return AuditReport{}, err
	}
	if err := auth.RequireAdmin(actor); err != nil {
		return AuditReport{}, err
	}
	var job models.Job
	if err := storage.Get(ctx, s.Store, storage.Jobs, storage.Filter{"id": entry.JobID}, &job); err != nil {
		return AuditReport{}, apperr.FromStore(err, "find_one", "job "+entry.JobID)
	}
	res, err := s.calculator().Compute(job.LineItems, entry.TechnicianID, job.Metadata)
	if err != nil {
		return AuditReport{}, err
	}
	share, _ := res.ShareFor(entry.TechnicianID)
	report := AuditReport{Entry: entry, Recomputed: res, Estimate: payout.Reconcile(share, job.Metadata)}
	if share.AmountCents != entry.AmountCents {
		report.Drift = &models.Mismatch{EstimatedCents: entry.AmountCents, RecomputedCents: share.AmountCents}
		observability.PayoutMismatches.Inc()
		s.logger().Warn("ledger drift", "ledger_id", entry.ID, "job_id", entry.JobID,
			"stored", payout.FormatCents(entry.AmountCents), "recomputed", payout.FormatCents(share.AmountCents))
	}
	return report, nil
}

// Disburse pays an approved entry out to the technician's connected
// account. An entry that already has a transfer is returned unchanged.
// The ledger id is the idempotency key, so a retry after a lost response
// does not pay twice.
func (s *Service) Disburse(ctx context.Context, actor models.Identity, ledgerID string) (models.LedgerEntry, error) {
	entry, err := s.load(ctx, ledgerID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if err := auth.RequireAdmin(actor); err != nil {
		return models.LedgerEntry{}, err
	}
	if entry.TransferID != "" {
		return entry, nil
	}
	if entry.State != models.LedgerApproved {
		return models.LedgerEntry{}, apperr.Validation("only approved entries can be disbursed, entry is %s", entry.State)
	}
	if s.Payments == nil {
		return models.LedgerEntry{}, apperr.Validation("payout disbursement is not configured")
	}

	var tech models.Technician
	if err := storage.Get(ctx, s.Store, storage.Technicians, storage.Filter{"id": entry.TechnicianID}, &tech); err != nil {
		return models.LedgerEntry{}, apperr.FromStore(err, "find_one", "technician "+entry.TechnicianID)
	}
	if tech.PayoutAccount == "" {
		return models.LedgerEntry{}, apperr.Validation("technician %s has no payout account", tech.ID)
	}

	transferID, err := s.Payments.Transfer(ctx, payments.TransferRequest{
		AmountCents:    entry.AmountCents,
		Currency:       s.Currency,
		Destination:    tech.PayoutAccount,
		IdempotencyKey: "ledger-" + entry.ID,
		Description:    "payout for job " + entry.JobID,
		Metadata:       map[string]string{"ledger_id": entry.ID, "job_id": entry.JobID},
	})
	if err != nil {
		observability.Disbursements.WithLabelValues("error").Inc()
		s.logger().Error("payout transfer failed", "ledger_id", entry.ID, "error", err)
		return models.LedgerEntry{}, apperr.Wrap(apperr.KindInternal, err, "payout transfer failed")
	}

	now := s.now()
	entry.TransferID, entry.DisbursedAt, entry.UpdatedAt = transferID, &now, now
	n, err := s.Store.Update(ctx, storage.PayoutLedger,
		storage.Filter{"id": entry.ID, "state": string(models.LedgerApproved)},
		storage.Record{"transfer_id": transferID, "disbursed_at": now, "updated_at": now},
	)
	if err != nil {
		observability.StoreErrors.WithLabelValues("update").Inc()
		s.logger().Error("transfer sent but not recorded", "ledger_id", entry.ID, "transfer_id", transferID, "error", err)
		return models.LedgerEntry{}, apperr.StoreUnavailable(err, "update")
	}
	if n == 0 {
		s.logger().Error("transfer sent for entry that left approved", "ledger_id", entry.ID, "transfer_id", transferID)
		return models.LedgerEntry{}, apperr.Validation("ledger entry %s changed concurrently", entry.ID)
	}

	observability.Disbursements.WithLabelValues("ok").Inc()
	e := events.New(events.LedgerDisbursed, now)
	e.TechnicianID, e.JobID, e.LedgerID, e.Actor = entry.TechnicianID, entry.JobID, entry.ID, actor.SubjectID
	e.Data = map[string]any{"transfer_id": transferID, "amount_cents": entry.AmountCents}
	s.publish(ctx, e)
	return entry, nil
}
