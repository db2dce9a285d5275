package payout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

var twoItems = []models.LineItem{
	{ServiceID: "cam-install", Quantity: 2, UnitPrice: 199.99},
	{ServiceID: "doorbell", Quantity: 1, UnitPrice: 49.99},
}

func TestComputeWithoutTier(t *testing.T) {
	c := NewCalculator(DefaultConfig())

	res, err := c.Compute(twoItems, "tech-1", map[string]any{"order_id": "o-77"})
	require.NoError(t, err)

	assert.EqualValues(t, 44997, res.SubtotalCents)
	assert.EqualValues(t, 44997, res.TotalCents)
	assert.Equal(t, 449.97, res.Total)
	assert.Equal(t, 1.0, res.Multiplier)
	require.Len(t, res.Shares, 1)
	assert.Equal(t, models.Share{TechnicianID: "tech-1", AmountCents: 44997, Amount: 449.97}, res.Shares[0])
}

func TestComputeIsDeterministic(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	meta := map[string]any{"pricing_tier": "managed", "teammates": []any{"tech-2", "tech-3"}}

	first, err := c.Compute(twoItems, "tech-1", meta)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := c.Compute(twoItems, "tech-1", meta)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestTierMultipliers(t *testing.T) {
	c := NewCalculator(Config{TierMultipliers: map[string]float64{"BYO": 0.5, "managed": 0.25}})

	res, err := c.Compute(twoItems, "t", map[string]any{"pricing_tier": "byo"})
	require.NoError(t, err)
	// 44997 * 0.5 = 22498.5 rounds half away from zero
	assert.EqualValues(t, 22499, res.TotalCents)
	assert.Equal(t, "byo", res.Tier)

	res, err = c.Compute(twoItems, "t", map[string]any{"pricing_tier": "Managed"})
	require.NoError(t, err)
	assert.EqualValues(t, 11249, res.TotalCents)

	res, err = c.Compute(twoItems, "t", map[string]any{"pricing_tier": "managed", "payout_multiplier": "0.8"})
	require.NoError(t, err)
	assert.EqualValues(t, 35998, res.TotalCents)

	_, err = c.Compute(twoItems, "t", map[string]any{"pricing_tier": "platinum"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.Compute(twoItems, "t", map[string]any{"payout_multiplier": 1.5})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEqualSplitDistributesRemainderInOrder(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	items := []models.LineItem{{ServiceID: "x", Quantity: 1, UnitPrice: 100.00}}

	res, err := c.Compute(items, "tech-b", map[string]any{"teammates": []any{"tech-a", "tech-b", "tech-c"}})
	require.NoError(t, err)

	require.Len(t, res.Shares, 3)
	assert.Equal(t, "tech-a", res.Shares[0].TechnicianID)
	assert.EqualValues(t, 3334, res.Shares[0].AmountCents)
	assert.EqualValues(t, 3333, res.Shares[1].AmountCents)
	assert.EqualValues(t, 3333, res.Shares[2].AmountCents)

	var sum int64
	for _, s := range res.Shares {
		sum += s.AmountCents
	}
	assert.Equal(t, res.TotalCents, sum)
}

func TestAssignedTechnicianAlwaysParticipates(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	items := []models.LineItem{{ServiceID: "x", Quantity: 1, UnitPrice: 90}}

	res, err := c.Compute(items, "lead", map[string]any{"teammates": "helper-1, helper-2"})
	require.NoError(t, err)
	require.Len(t, res.Shares, 3)
	share, ok := res.ShareFor("lead")
	require.True(t, ok)
	assert.EqualValues(t, 3000, share.AmountCents)
}

func TestWeightedSplit(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	items := []models.LineItem{{ServiceID: "x", Quantity: 1, UnitPrice: 100}}
	meta := map[string]any{
		"split_policy":    "weighted",
		"teammates":       []any{"a", "b"},
		"teammate_shares": map[string]any{"a": 2.0, "b": 1.0},
	}

	res, err := c.Compute(items, "a", meta)
	require.NoError(t, err)
	assert.Equal(t, SplitWeighted, res.Policy)
	assert.EqualValues(t, 6667, res.Shares[0].AmountCents)
	assert.EqualValues(t, 3333, res.Shares[1].AmountCents)

	delete(meta["teammate_shares"].(map[string]any), "b")
	_, err = c.Compute(items, "a", meta)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConfiguredDefaultSplitPolicy(t *testing.T) {
	c := NewCalculator(Config{DefaultSplit: SplitWeighted})
	items := []models.LineItem{{ServiceID: "x", Quantity: 1, UnitPrice: 10}}

	_, err := c.Compute(items, "a", map[string]any{"teammates": []any{"a", "b"}})
	require.ErrorIs(t, err, apperr.ErrValidation, "weighted default needs shares")

	res, err := c.Compute(items, "a", map[string]any{"teammates": []any{"a", "b"}, "split_policy": "equal"})
	require.NoError(t, err)
	assert.EqualValues(t, 500, res.Shares[1].AmountCents)
}

func TestInvalidLineItems(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	cases := [][]models.LineItem{
		{{ServiceID: "x", Quantity: -1, UnitPrice: 10}},
		{{ServiceID: "x", Quantity: 1, UnitPrice: -10}},
		{{ServiceID: "x", Quantity: 1, UnitPrice: math.NaN()}},
	}
	for _, items := range cases {
		_, err := c.Compute(items, "t", nil)
		require.ErrorIs(t, err, apperr.ErrValidation)
	}

	res, err := c.Compute(nil, "t", nil)
	require.NoError(t, err)
	assert.Zero(t, res.TotalCents)
}

func TestReconcile(t *testing.T) {
	share := models.Share{TechnicianID: "t", AmountCents: 44997, Amount: 449.97}

	assert.Nil(t, Reconcile(share, nil))
	assert.Nil(t, Reconcile(share, map[string]any{"estimated_payout": 449.97}))
	assert.Nil(t, Reconcile(share, map[string]any{"estimated_payout": "449.97"}))

	m := Reconcile(share, map[string]any{"estimated_payout": 400})
	require.NotNil(t, m)
	assert.Equal(t, models.Mismatch{EstimatedCents: 40000, RecomputedCents: 44997}, *m)

	err := MismatchError("job-1", m)
	require.ErrorIs(t, err, apperr.ErrComputationMismatch)
	assert.Contains(t, err.Error(), "400.00")
	assert.Contains(t, err.Error(), "449.97")
}
