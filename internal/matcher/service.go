package matcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/cache"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

const cachePrefix = "eligible:"

// Service loads technicians and the pending job pool from the store and
// runs Eligible over them. Results are cached for CacheTTL when Cache is set.
type Service struct {
	Store         storage.Store
	Cache         cache.Cache
	CacheTTL      time.Duration
	DefaultRadius float64
	Logger        *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) defaultRadius() float64 {
	if s.DefaultRadius <= 0 {
		return DefaultServiceRadius
	}
	return s.DefaultRadius
}

// Eligible runs the matcher with the service's default radius.
func (s *Service) Eligible(tech models.Technician, jobs []models.Job) Result {
	return Eligible(tech, jobs, s.defaultRadius())
}

// Technician loads one technician by id.
func (s *Service) Technician(ctx context.Context, id string) (models.Technician, error) {
	var tech models.Technician
	if err := storage.Get(ctx, s.Store, storage.Technicians, storage.Filter{"id": id}, &tech); err != nil {
		return models.Technician{}, apperr.FromStore(err, "find_one", "technician "+id)
	}
	return tech, nil
}

// EligibleForTechnician returns the jobs technician techID may take now.
func (s *Service) EligibleForTechnician(ctx context.Context, techID string) (Result, error) {
	if techID == "" {
		return Result{}, apperr.Validation("technician id is required")
	}
	if res, ok := s.cached(ctx, techID); ok {
		return res, nil
	}

	start := time.Now()
	tech, err := s.Technician(ctx, techID)
	if err != nil {
		return Result{}, err
	}
	jobs, undecodable, err := s.pendingJobs(ctx)
	if err != nil {
		return Result{}, err
	}

	res := s.Eligible(tech, jobs)
	res.Flagged = append(res.Flagged, undecodable...)

	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchEligible.Observe(float64(len(res.Eligible)))
	if len(res.Flagged) > 0 {
		observability.MatchFlagged.Add(float64(len(res.Flagged)))
		for _, f := range res.Flagged {
			s.logger().Warn("job flagged for follow-up", "job_id", f.JobID, "reason", f.Reason, "technician_id", techID)
		}
	}
	s.store(ctx, techID, res)
	return res, nil
}

// Invalidate drops cached results for the given technicians.
func (s *Service) Invalidate(ctx context.Context, techIDs ...string) {
	if s.Cache == nil || len(techIDs) == 0 {
		return
	}
	keys := make([]string, len(techIDs))
	for i, id := range techIDs {
		keys[i] = cachePrefix + id
	}
	if err := s.Cache.Delete(ctx, keys...); err != nil {
		s.logger().Warn("eligible cache invalidate failed", "error", err)
	}
}

func (s *Service) pendingJobs(ctx context.Context) ([]models.Job, []Flag, error) {
	recs, err := s.Store.FindMany(ctx, storage.Jobs, storage.Filter{"status": string(models.JobPendingAssign)}, nil, 0)
	if err != nil {
		observability.StoreErrors.WithLabelValues("find_many").Inc()
		return nil, nil, apperr.StoreUnavailable(err, "find_many")
	}
	jobs := make([]models.Job, 0, len(recs))
	var flags []Flag
	for _, rec := range recs {
		var j models.Job
		if err := storage.Decode(rec, &j); err != nil {
			flags = append(flags, Flag{JobID: rec.ID(), Reason: ReasonUndecodable})
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, flags, nil
}

func (s *Service) cached(ctx context.Context, techID string) (Result, bool) {
	if s.Cache == nil || s.CacheTTL <= 0 {
		return Result{}, false
	}
	b, ok, err := s.Cache.Get(ctx, cachePrefix+techID)
	if err != nil {
		s.logger().Warn("eligible cache read failed", "error", err)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func (s *Service) store(ctx context.Context, techID string, res Result) {
	if s.Cache == nil || s.CacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, cachePrefix+techID, b, s.CacheTTL); err != nil {
		s.logger().Warn("eligible cache write failed", "error", err)
	}
}
