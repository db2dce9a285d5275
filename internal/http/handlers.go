package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payout"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.issuer.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        sess.Token,
		"subject_id":   sess.SubjectID,
		"subject_kind": sess.SubjectKind,
		"expires_at":   sess.ExpiresAt,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, id models.Identity) {
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleEligible(w http.ResponseWriter, r *http.Request, id models.Identity) {
	if id.SubjectKind != models.SubjectTechnician {
		s.writeError(w, r, apperr.Unauthorized("only technicians have eligible jobs"))
		return
	}
	res, err := s.matcher.EligibleForTechnician(r.Context(), id.SubjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTechnicianEligible(w http.ResponseWriter, r *http.Request, id models.Identity) {
	techID := mux.Vars(r)["id"]
	if !id.IsAdmin() && id.SubjectID != techID {
		s.writeError(w, r, apperr.Unauthorized("cannot view another technician's jobs"))
		return
	}
	res, err := s.matcher.EligibleForTechnician(r.Context(), techID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, id models.Identity) {
	job, err := s.jobs.Accept(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, id models.Identity) {
	job, entry, err := s.jobs.Complete(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "ledger_entry": entry})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req struct {
		Status models.JobStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Status == "" {
		s.writeError(w, r, apperr.Validation("status is required"))
		return
	}
	job, err := s.jobs.Transition(r.Context(), id, mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handlePayoutPreview computes the payout a job would produce now. A
// disagreement with the stored estimate is part of the response.
func (s *Server) handlePayoutPreview(w http.ResponseWriter, r *http.Request, id models.Identity) {
	job, err := s.jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	techID := job.AssignedTechnicianID
	switch {
	case id.IsAdmin():
	case techID == id.SubjectID:
	case techID == "" && id.SubjectKind == models.SubjectTechnician:
		techID = id.SubjectID
	default:
		s.writeError(w, r, apperr.Unauthorized("job %s is assigned to another technician", job.ID))
		return
	}
	res, err := s.calc.Compute(job.LineItems, techID, job.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{"job_id": job.ID, "payout": res}
	if share, ok := res.ShareFor(techID); ok {
		if m := payout.Reconcile(share, job.Metadata); m != nil {
			mm := map[string]any{
				"code":             apperr.KindComputationMismatch,
				"estimated_cents":  m.EstimatedCents,
				"recomputed_cents": m.RecomputedCents,
			}
			if e, ok := apperr.As(payout.MismatchError(job.ID, m)); ok {
				mm["message"] = e.Message
			}
			body["mismatch"] = mm
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLedgerList(w http.ResponseWriter, r *http.Request, id models.Identity) {
	techID := id.SubjectID
	if q := r.URL.Query().Get("technician_id"); q != "" && q != techID {
		if !id.IsAdmin() {
			s.writeError(w, r, apperr.Unauthorized("cannot list another technician's ledger"))
			return
		}
		techID = q
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.ledger.ListByTechnician(r.Context(), techID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleLedgerGet(w http.ResponseWriter, r *http.Request, id models.Identity) {
	entry, err := s.ledger.Get(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLedgerState(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req struct {
		State models.LedgerState `json:"state"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.ledger.SetState(r.Context(), mux.Vars(r)["id"], req.State, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLedgerOverride(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.ledger.Override(r.Context(), mux.Vars(r)["id"], id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLedgerDisburse(w http.ResponseWriter, r *http.Request, id models.Identity) {
	entry, err := s.ledger.Disburse(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLedgerAudit(w http.ResponseWriter, r *http.Request, id models.Identity) {
	report, err := s.ledger.Audit(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, id models.Identity) {
	if err := s.hub.Serve(w, r, id); err != nil {
		s.logger.Warn("ws upgrade failed", "subject_id", id.SubjectID, "error", err)
	}
}
