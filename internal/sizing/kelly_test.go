package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/odds"
)

func TestSizeCappedAtMaxPercentage(t *testing.T) {
	s := New(DefaultConfig())
	d, err := s.Size(0.75, odds.MustParse("+150"), decimal.NewFromInt(10000), 1.5)
	require.NoError(t, err)

	assert.True(t, d.ShouldBet)
	assert.InDelta(t, 0.5833, d.KellySuggested, 1e-4)
	assert.InDelta(t, 0.875, d.Edge, 1e-12)
	assert.True(t, d.BetAmount.Equal(decimal.NewFromInt(3000)), "bet %s", d.BetAmount)
	assert.InDelta(t, 0.30, d.BetFraction, 1e-12)
}

func TestSizeUncapped(t *testing.T) {
	s := New(DefaultConfig())
	// b = 1, kelly = 0.75 - 0.25 = 0.5; half-kelly personality
	d, err := s.Size(0.75, odds.MustParse("EVEN"), decimal.NewFromInt(1000), 0.5)
	require.NoError(t, err)
	assert.True(t, d.ShouldBet)
	assert.True(t, d.BetAmount.Equal(decimal.NewFromInt(250)), "bet %s", d.BetAmount)
}

func TestSizeNoEdge(t *testing.T) {
	s := New(DefaultConfig())
	d, err := s.Size(0.5, odds.MustParse("-110"), decimal.NewFromInt(1000), 1)
	require.NoError(t, err)
	assert.False(t, d.ShouldBet)
	assert.True(t, d.BetAmount.IsZero())
	assert.Equal(t, ReasonNoEdge, d.Reason)
	assert.Less(t, d.KellySuggested, 0.0)
}

func TestSizeMinimumBetFloor(t *testing.T) {
	s := New(DefaultConfig())
	// kelly = (1*0.53 - 0.47)/1 = 0.06 -> 0.06 * 0.1 * 100 = 0.6, floored up to the minimum
	d, err := s.Size(0.53, odds.MustParse("2.0"), decimal.NewFromInt(100), 0.1)
	require.NoError(t, err)
	assert.True(t, d.ShouldBet)
	assert.True(t, d.BetAmount.Equal(decimal.NewFromInt(10)), "bet %s", d.BetAmount)
}

func TestSizeNeverExceedsBankroll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBetPercentage = 1
	s := New(cfg)
	for _, bankroll := range []string{"10", "10.01", "55.55", "1234.56"} {
		br := decimal.RequireFromString(bankroll)
		d, err := s.Size(0.95, odds.MustParse("+300"), br, 5)
		require.NoError(t, err)
		assert.True(t, d.BetAmount.LessThanOrEqual(br), "bet %s > bankroll %s", d.BetAmount, br)
	}
}

func TestSizeInsufficientBankroll(t *testing.T) {
	s := New(DefaultConfig())
	d, err := s.Size(0.8, odds.MustParse("+150"), decimal.NewFromInt(5), 1)
	require.NoError(t, err)
	assert.False(t, d.ShouldBet)
	assert.Equal(t, ReasonInsufficientFunds, d.Reason)

	d, err = s.Size(0.8, odds.MustParse("+150"), decimal.Zero, 1)
	require.NoError(t, err)
	assert.False(t, d.ShouldBet)
}

func TestSizeZeroMultiplier(t *testing.T) {
	s := New(DefaultConfig())
	d, err := s.Size(0.8, odds.MustParse("+150"), decimal.NewFromInt(1000), 0)
	require.NoError(t, err)
	assert.False(t, d.ShouldBet)
	assert.Equal(t, ReasonZeroMultiplier, d.Reason)
}

func TestSizeRejectsBadInput(t *testing.T) {
	s := New(DefaultConfig())
	_, err := s.Size(1.5, odds.MustParse("+150"), decimal.NewFromInt(1000), 1)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = s.Size(0.7, odds.MustParse("+150"), decimal.NewFromInt(1000), -1)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = s.Size(0.7, odds.Odds{}, decimal.NewFromInt(1000), 1)
	assert.ErrorIs(t, err, model.ErrComputation)
}
