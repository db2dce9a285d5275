// Package matcher computes which pending jobs a technician may take.
// It never assigns anything; assignment is the caller's decision.
package matcher

import (
	"math"
	"sort"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/geo"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

// DefaultServiceRadius applies when a technician record has no radius.
const DefaultServiceRadius = 25.0

// Flag reasons.
const (
	ReasonMissingDestination = "missing_destination"
	ReasonInvalidDestination = "invalid_destination"
	ReasonUndecodable        = "undecodable_record"
)

type Candidate struct {
	Job           models.Job `json:"job"`
	DistanceMiles float64    `json:"distance_miles"`
}

// Flag marks a job that could not be matched and needs follow-up.
type Flag struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type Result struct {
	Eligible []Candidate `json:"eligible"`
	Flagged  []Flag      `json:"flagged,omitempty"`
}

// Radius returns the technician's effective service radius in miles.
// A radius that is zero, negative or not finite yields 0.
func Radius(tech models.Technician, defaultRadius float64) float64 {
	r := defaultRadius
	if tech.ServiceRadius != nil {
		r = *tech.ServiceRadius
	}
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return 0
	}
	return r
}

// Eligible returns the pending_assign jobs within the technician's radius,
// closest first. Jobs at equal distance keep their input order. Jobs with
// a missing or invalid destination are left out and flagged. A technician
// without usable home coordinates or with a zero radius gets an empty set.
func Eligible(tech models.Technician, jobs []models.Job, defaultRadius float64) Result {
	res := Result{Eligible: []Candidate{}}
	radius := Radius(tech, defaultRadius)
	if tech.Home == nil || !geo.ValidCoord(*tech.Home) || radius == 0 {
		return res
	}

	for _, j := range jobs {
		if j.Status != models.JobPendingAssign {
			continue
		}
		if j.Destination == nil {
			res.Flagged = append(res.Flagged, Flag{JobID: j.ID, Reason: ReasonMissingDestination})
			continue
		}
		if !geo.ValidCoord(*j.Destination) {
			res.Flagged = append(res.Flagged, Flag{JobID: j.ID, Reason: ReasonInvalidDestination})
			continue
		}
		d := geo.DistanceMiles(*tech.Home, *j.Destination)
		if d <= radius {
			res.Eligible = append(res.Eligible, Candidate{Job: j, DistanceMiles: d})
		}
	}

	sort.SliceStable(res.Eligible, func(i, k int) bool {
		return res.Eligible[i].DistanceMiles < res.Eligible[k].DistanceMiles
	})
	return res
}
