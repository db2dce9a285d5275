// Package jobs drives the job lifecycle: technicians accept pending jobs
// and complete them, administrators move jobs between states. Completing a
// job records its payout in the ledger.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/auth"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/events"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/ledger"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/matcher"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payout"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobPendingAssign: {models.JobAccepted, models.JobRejected, models.JobCancelled},
	models.JobAccepted:      {models.JobOrdered, models.JobCompleted, models.JobCancelled, models.JobPendingAssign},
	models.JobOrdered:       {models.JobCompleted, models.JobCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to models.JobStatus) bool {
	if from.Terminal() {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Service struct {
	Store      storage.Store
	Matcher    *matcher.Service
	Ledger     *ledger.Service
	Calculator *payout.Calculator
	Events     events.Publisher
	Clock      clock.Clock
	Logger     *slog.Logger
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

func (s *Service) publish(ctx context.Context, typ string, job models.Job, actor string) {
	if s.Events == nil {
		return
	}
	e := events.New(typ, s.now())
	e.TechnicianID, e.JobID, e.Actor = job.AssignedTechnicianID, job.ID, actor
	data := map[string]any{"status": job.Status}
	if oid, ok := job.Metadata[models.MetaOrderID]; ok {
		data[models.MetaOrderID] = oid
	}
	e.Data = data
	if err := s.Events.Publish(ctx, e); err != nil {
		s.logger().Warn("event publish failed", "type", typ, "error", err)
	}
}

// Get loads one job.
func (s *Service) Get(ctx context.Context, jobID string) (models.Job, error) {
	if jobID == "" {
		return models.Job{}, apperr.Validation("job id is required")
	}
	var job models.Job
	if err := storage.Get(ctx, s.Store, storage.Jobs, storage.Filter{"id": jobID}, &job); err != nil {
		return models.Job{}, apperr.FromStore(err, "find_one", "job "+jobID)
	}
	return job, nil
}

// Accept assigns a pending job to the calling technician. The job must be
// within the technician's service radius and the technician must be under
// their daily cap. The payout estimate at this moment is stored in the
// job's metadata as estimated_payout.
func (s *Service) Accept(ctx context.Context, actor models.Identity, jobID string) (models.Job, error) {
	if actor.SubjectKind != models.SubjectTechnician {
		return models.Job{}, apperr.Unauthorized("only technicians accept jobs")
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.JobPendingAssign {
		return models.Job{}, apperr.Validation("job %s is %s, not pending_assign", job.ID, job.Status)
	}
	tech, err := s.Matcher.Technician(ctx, actor.SubjectID)
	if err != nil {
		return models.Job{}, err
	}
	if !tech.Active() {
		return models.Job{}, apperr.Unauthorized("technician %s is %s", tech.ID, tech.Status)
	}

	res := s.Matcher.Eligible(tech, []models.Job{job})
	if len(res.Flagged) > 0 {
		return models.Job{}, apperr.Validation("job %s has no usable destination", job.ID)
	}
	if len(res.Eligible) == 0 {
		return models.Job{}, apperr.Validation("job %s is outside your service radius", job.ID)
	}

	now := s.now()
	if tech.MaxJobsPerDay > 0 {
		n, err := s.acceptedOn(ctx, tech.ID, now)
		if err != nil {
			return models.Job{}, err
		}
		if n >= tech.MaxJobsPerDay {
			return models.Job{}, apperr.Validation("daily limit of %d jobs reached", tech.MaxJobsPerDay)
		}
	}

	est, err := s.calculator().Compute(job.LineItems, tech.ID, job.Metadata)
	if err != nil {
		return models.Job{}, err
	}
	share, _ := est.ShareFor(tech.ID)

	meta := copyMeta(job.Metadata)
	meta[models.MetaEstimatedPayout] = share.Amount
	meta[models.MetaAcceptedAt] = now.Format(time.RFC3339)

	job.Status, job.AssignedTechnicianID, job.Metadata, job.UpdatedAt = models.JobAccepted, tech.ID, meta, now
	if err := s.write(ctx, job, models.JobPendingAssign, storage.Record{
		"status":                 string(job.Status),
		"assigned_technician_id": job.AssignedTechnicianID,
		"metadata":               meta,
		"updated_at":             now,
	}); err != nil {
		return models.Job{}, err
	}

	s.Matcher.Invalidate(ctx, tech.ID)
	s.logger().Info("job accepted", "job_id", job.ID, "technician_id", tech.ID,
		"distance_miles", res.Eligible[0].DistanceMiles, "estimated_payout", share.Amount)
	s.publish(ctx, events.JobAccepted, job, actor.SubjectID)
	return job, nil
}

// acceptedOn counts the technician's jobs accepted on the UTC day of now.
func (s *Service) acceptedOn(ctx context.Context, techID string, now time.Time) (int, error) {
	recs, err := s.Store.FindMany(ctx, storage.Jobs, storage.Filter{"assigned_technician_id": techID}, nil, 0)
	if err != nil {
		observability.StoreErrors.WithLabelValues("find_many").Inc()
		return 0, apperr.StoreUnavailable(err, "find_many")
	}
	y, m, d := now.Date()
	n := 0
	for _, rec := range recs {
		var j models.Job
		if err := storage.Decode(rec, &j); err != nil || j.Status == models.JobCancelled {
			continue
		}
		raw, _ := j.Metadata[models.MetaAcceptedAt].(string)
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if ay, am, ad := at.UTC().Date(); ay == y && am == m && ad == d {
			n++
		}
	}
	return n, nil
}

// Complete marks a job completed and records its ledger entry. Completing
// an already completed job only re-runs the idempotent ledger creation.
// The payout is computed before the status write so a job whose payout
// cannot be computed stays in its current status.
func (s *Service) Complete(ctx context.Context, actor models.Identity, jobID string) (models.Job, models.LedgerEntry, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, models.LedgerEntry{}, err
	}
	if !actor.IsAdmin() && actor.SubjectID != job.AssignedTechnicianID {
		return models.Job{}, models.LedgerEntry{}, apperr.Unauthorized("job %s is assigned to another technician", job.ID)
	}

	if job.Status != models.JobCompleted {
		if !CanTransition(job.Status, models.JobCompleted) {
			return models.Job{}, models.LedgerEntry{}, apperr.Validation("job %s cannot be completed from %s", job.ID, job.Status)
		}
		if job.AssignedTechnicianID == "" {
			return models.Job{}, models.LedgerEntry{}, apperr.Validation("job %s has no assigned technician", job.ID)
		}
		if _, err := s.calculator().Compute(job.LineItems, job.AssignedTechnicianID, job.Metadata); err != nil {
			return models.Job{}, models.LedgerEntry{}, err
		}
		now := s.now()
		meta := copyMeta(job.Metadata)
		meta[models.MetaCompletedAt] = now.Format(time.RFC3339)
		from := job.Status
		job.Status, job.Metadata, job.UpdatedAt = models.JobCompleted, meta, now
		if err := s.write(ctx, job, from, storage.Record{
			"status":     string(job.Status),
			"metadata":   meta,
			"updated_at": now,
		}); err != nil {
			return models.Job{}, models.LedgerEntry{}, err
		}
		s.logger().Info("job completed", "job_id", job.ID, "technician_id", job.AssignedTechnicianID, "actor", actor.SubjectID)
		s.publish(ctx, events.JobCompleted, job, actor.SubjectID)
	}

	entry, _, err := s.Ledger.CreateForJob(ctx, job)
	if err != nil {
		// The job stays completed; calling Complete again retries the entry.
		s.logger().Error("ledger gap: job completed without ledger entry", "job_id", job.ID,
			"technician_id", job.AssignedTechnicianID, "code", apperr.KindOf(err), "error", err)
		return job, models.LedgerEntry{}, err
	}
	return job, entry, nil
}

// Transition applies an administrative status change. Completion goes
// through Complete so the ledger entry is recorded; acceptance must come
// from the technician through Accept.
func (s *Service) Transition(ctx context.Context, actor models.Identity, jobID string, to models.JobStatus) (models.Job, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return models.Job{}, err
	}
	if to == models.JobCompleted {
		job, _, err := s.Complete(ctx, actor, jobID)
		return job, err
	}
	if to == models.JobAccepted {
		return models.Job{}, apperr.Validation("jobs are accepted by technicians")
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status == to {
		return job, nil
	}
	if !CanTransition(job.Status, to) {
		return models.Job{}, apperr.Validation("job %s cannot move from %s to %s", job.ID, job.Status, to)
	}

	from, prevTech := job.Status, job.AssignedTechnicianID
	now := s.now()
	patch := storage.Record{"status": string(to), "updated_at": now}
	if to == models.JobPendingAssign {
		// Back in the pool: drop the assignment and its estimate.
		meta := copyMeta(job.Metadata)
		delete(meta, models.MetaAcceptedAt)
		delete(meta, models.MetaEstimatedPayout)
		job.AssignedTechnicianID, job.Metadata = "", meta
		patch["assigned_technician_id"] = nil
		patch["metadata"] = meta
	}
	job.Status, job.UpdatedAt = to, now
	if err := s.write(ctx, job, from, patch); err != nil {
		return models.Job{}, err
	}
	if prevTech != "" {
		s.Matcher.Invalidate(ctx, prevTech)
	}
	s.logger().Info("job status changed", "job_id", job.ID, "from", from, "to", to, "actor", actor.SubjectID)
	s.publish(ctx, events.JobStatus, job, actor.SubjectID)
	return job, nil
}

// write applies patch only while the job is still in status from.
func (s *Service) write(ctx context.Context, job models.Job, from models.JobStatus, patch storage.Record) error {
	n, err := s.Store.Update(ctx, storage.Jobs, storage.Filter{"id": job.ID, "status": string(from)}, patch)
	if err != nil {
		observability.StoreErrors.WithLabelValues("update").Inc()
		return apperr.StoreUnavailable(err, "update")
	}
	if n == 0 {
		return apperr.Validation("job %s changed concurrently, reload and retry", job.ID)
	}
	return nil
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
