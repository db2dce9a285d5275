// Package payout derives what a technician is owed for a job from its line
// items and metadata. All arithmetic runs in integer cents so a later
// recomputation of the same input always yields the same amount.
package payout

import (
	"fmt"
	"math"
	"strings"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

type SplitPolicy string

const (
	SplitEqual    SplitPolicy = "equal"
	SplitWeighted SplitPolicy = "weighted"
)

// Config holds the pricing-tier multipliers and the default split policy.
type Config struct {
	TierMultipliers map[string]float64
	DefaultSplit    SplitPolicy
}

func DefaultConfig() Config {
	return Config{
		TierMultipliers: map[string]float64{
			"byo":     0.60,
			"base":    0.45,
			"managed": 0.35,
		},
		DefaultSplit: SplitEqual,
	}
}

type Result struct {
	SubtotalCents int64          `json:"subtotal_cents"`
	Tier          string         `json:"tier,omitempty"`
	Multiplier    float64        `json:"multiplier"`
	TotalCents    int64          `json:"total_cents"`
	Total         float64        `json:"total"`
	Policy        SplitPolicy    `json:"split_policy"`
	Shares        []models.Share `json:"shares"`
}

// ShareFor returns the share of technicianID.
func (r Result) ShareFor(technicianID string) (models.Share, bool) {
	for _, s := range r.Shares {
		if s.TechnicianID == technicianID {
			return s, true
		}
	}
	return models.Share{}, false
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	if cfg.TierMultipliers == nil {
		cfg.TierMultipliers = DefaultConfig().TierMultipliers
	}
	if cfg.DefaultSplit == "" {
		cfg.DefaultSplit = SplitEqual
	}
	tiers := make(map[string]float64, len(cfg.TierMultipliers))
	for k, v := range cfg.TierMultipliers {
		tiers[strings.ToLower(k)] = v
	}
	cfg.TierMultipliers = tiers
	return &Calculator{cfg: cfg}
}

// Compute sums quantity × unit price over items, applies the tier
// multiplier and splits the total across the job's participants.
// assignedTech is always a participant.
func (c *Calculator) Compute(items []models.LineItem, assignedTech string, meta map[string]any) (Result, error) {
	var subtotal int64
	for i, it := range items {
		if it.Quantity < 0 {
			return Result{}, apperr.Validation("line item %d: negative quantity", i)
		}
		if math.IsNaN(it.UnitPrice) || math.IsInf(it.UnitPrice, 0) || it.UnitPrice < 0 {
			return Result{}, apperr.Validation("line item %d: invalid unit price", i)
		}
		subtotal += int64(it.Quantity) * ToCents(it.UnitPrice)
	}

	tier, mult, err := c.multiplier(meta)
	if err != nil {
		return Result{}, err
	}
	total := subtotal
	if mult != 1 {
		total = int64(math.Round(float64(subtotal) * mult))
	}

	policy := c.cfg.DefaultSplit
	if p := metaString(meta, models.MetaSplitPolicy); p != "" {
		policy = SplitPolicy(strings.ToLower(p))
	}
	participants := participantsOf(assignedTech, meta)

	var cents []int64
	switch policy {
	case SplitEqual:
		cents = splitEqual(total, len(participants))
	case SplitWeighted:
		cents, err = splitWeighted(total, participants, meta)
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, apperr.Validation("unknown split policy %q", policy)
	}

	shares := make([]models.Share, len(participants))
	for i, id := range participants {
		shares[i] = models.Share{TechnicianID: id, AmountCents: cents[i], Amount: FromCents(cents[i])}
	}
	return Result{
		SubtotalCents: subtotal,
		Tier:          tier,
		Multiplier:    mult,
		TotalCents:    total,
		Total:         FromCents(total),
		Policy:        policy,
		Shares:        shares,
	}, nil
}

func (c *Calculator) multiplier(meta map[string]any) (string, float64, error) {
	tier := strings.ToLower(metaString(meta, models.MetaPricingTier))
	if v, ok := metaFloat(meta, models.MetaPayoutMultiplier); ok {
		if v <= 0 || v > 1 {
			return "", 0, apperr.Validation("payout_multiplier must be in (0, 1]")
		}
		return tier, v, nil
	}
	if tier == "" {
		return "", 1, nil
	}
	m, ok := c.cfg.TierMultipliers[tier]
	if !ok {
		return "", 0, apperr.Validation("unknown pricing tier %q", tier)
	}
	return tier, m, nil
}

func participantsOf(assigned string, meta map[string]any) []string {
	mates := metaStrings(meta, models.MetaTeammates)
	out := make([]string, 0, len(mates)+1)
	seen := make(map[string]bool, len(mates)+1)
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(mates) == 0 {
		add(assigned)
		return out
	}
	isMate := false
	for _, m := range mates {
		if m == assigned {
			isMate = true
		}
	}
	if !isMate && assigned != "" {
		add(assigned)
	}
	for _, m := range mates {
		add(m)
	}
	return out
}

// splitEqual gives every participant total/n; leftover cents go one each to
// the earliest participants.
func splitEqual(total int64, n int) []int64 {
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	base, rem := total/int64(n), total%int64(n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}

func splitWeighted(total int64, participants []string, meta map[string]any) ([]int64, error) {
	raw := map[string]any{}
	switch m := meta[models.MetaTeammateShares].(type) {
	case map[string]any:
		raw = m
	case map[string]float64:
		for k, v := range m {
			raw[k] = v
		}
	}
	weights := make([]float64, len(participants))
	var sum float64
	for i, id := range participants {
		w, ok := toFloat(raw[id])
		if !ok || w <= 0 || math.IsInf(w, 0) {
			return nil, apperr.Validation("teammate_shares: missing or invalid weight for %q", id)
		}
		weights[i] = w
		sum += w
	}

	out := make([]int64, len(participants))
	var assigned int64
	for i, w := range weights {
		out[i] = int64(math.Floor(float64(total) * w / sum))
		assigned += out[i]
	}
	for i := 0; assigned < total && len(out) > 0; i = (i + 1) % len(out) {
		out[i]++
		assigned++
	}
	return out, nil
}

// Reconcile compares a stored estimate against the recomputed share.
// It returns nil when there is no estimate or the two agree to the cent.
func Reconcile(share models.Share, meta map[string]any) *models.Mismatch {
	est, ok := metaFloat(meta, models.MetaEstimatedPayout)
	if !ok {
		return nil
	}
	estCents := ToCents(est)
	if estCents == share.AmountCents {
		return nil
	}
	return &models.Mismatch{EstimatedCents: estCents, RecomputedCents: share.AmountCents}
}

// MismatchError wraps a mismatch report as a computation_mismatch error for
// callers that surface it.
func MismatchError(jobID string, m *models.Mismatch) error {
	return apperr.New(apperr.KindComputationMismatch,
		"job %s: estimated payout %s differs from recomputed %s", jobID,
		FormatCents(m.EstimatedCents), FormatCents(m.RecomputedCents))
}

func ToCents(v float64) int64 { return int64(math.Round(v * 100)) }

func FromCents(c int64) float64 { return float64(c) / 100 }

func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
