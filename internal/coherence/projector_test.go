package coherence

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

func ptr(v float64) *float64 { return &v }

func teamTotals() []Constraint {
	return []Constraint{{Name: "team_totals", Kind: KindSum, Parts: []string{"home_score", "away_score"}, Total: "total_points"}}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, SeverityMinor, Classify(0.5))
	assert.Equal(t, SeverityModerate, Classify(1))
	assert.Equal(t, SeverityModerate, Classify(3))
	assert.Equal(t, SeveritySevere, Classify(3.01))
}

func TestCoherentSlateIsUntouched(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{GameID: "g1", Numeric: map[string]float64{"home_score": 24, "away_score": 17, "total_points": 41}}
	res, err := p.Project(s, nil, GameContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Violations)
	assert.Empty(t, res.DeltasApplied)
	assert.Equal(t, 1.0, res.SatisfactionScore)
	assert.NoError(t, res.Err())
}

func TestSumProjection(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{GameID: "g1", Numeric: map[string]float64{"home_score": 24, "away_score": 17, "total_points": 45}}
	res, err := p.Project(s, nil, GameContext{})
	require.NoError(t, err)

	require.Len(t, res.Violations, 1)
	assert.Equal(t, "team_totals", res.Violations[0].Constraint)
	assert.InDelta(t, 4, res.Violations[0].Delta, 1e-12)
	assert.Equal(t, SeveritySevere, res.Violations[0].Severity)

	require.True(t, res.Success)
	got := res.Projected
	assert.Less(t, math.Abs(got["home_score"]+got["away_score"]-got["total_points"]), 1e-6)
	// least squares spreads the 4 point gap evenly over the three values
	assert.InDelta(t, 24+4.0/3, got["home_score"], 1e-9)
	assert.InDelta(t, 17+4.0/3, got["away_score"], 1e-9)
	assert.InDelta(t, 45-4.0/3, got["total_points"], 1e-9)
	assert.Equal(t, 1.0, res.SatisfactionScore)
	assert.Len(t, res.DeltasApplied, 3)
}

func TestProjectionDoesNotMutateInput(t *testing.T) {
	p := New(DefaultConfig())
	numeric := map[string]float64{"home_score": 30, "away_score": 20, "total_points": 40}
	_, err := p.Project(Slate{Numeric: numeric}, teamTotals(), GameContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"home_score": 30, "away_score": 20, "total_points": 40}, numeric)
}

func TestAllSumConstraintsHold(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{
		GameID: "g2",
		Numeric: map[string]float64{
			"home_score": 27, "away_score": 20, "total_points": 44,
			"q1_points": 10, "q2_points": 14, "q3_points": 7, "q4_points": 10,
			"first_half_points": 21, "second_half_points": 20,
		},
		Categorical: map[string]string{"winner": "home"},
	}
	res, err := p.Project(s, nil, GameContext{})
	require.NoError(t, err)
	require.True(t, res.Success, "remaining: %+v", res.RemainingViolations)

	x := res.Projected
	total := x["total_points"]
	assert.Less(t, math.Abs(x["home_score"]+x["away_score"]-total), 1e-6)
	assert.Less(t, math.Abs(x["q1_points"]+x["q2_points"]+x["q3_points"]+x["q4_points"]-total), 1e-6)
	assert.Less(t, math.Abs(x["first_half_points"]+x["second_half_points"]-total), 1e-6)
	assert.GreaterOrEqual(t, x["home_score"]-x["away_score"], 1-1e-6)
}

func TestWinnerMarginProjection(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{
		Numeric:     map[string]float64{"home_score": 20, "away_score": 24, "total_points": 44},
		Categorical: map[string]string{"winner": "Home"},
	}
	res, err := p.Project(s, nil, GameContext{GameID: "g3"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "g3", res.GameID)
	assert.InDelta(t, 22.5, res.Projected["home_score"], 1e-9)
	assert.InDelta(t, 21.5, res.Projected["away_score"], 1e-9)
	assert.InDelta(t, 44, res.Projected["total_points"], 1e-9)
}

func TestBoundsAreRespected(t *testing.T) {
	p := New(DefaultConfig())
	// Unconstrained least squares would push away_score below zero.
	s := Slate{Numeric: map[string]float64{"home_score": 10, "away_score": 1, "total_points": 2}}
	res, err := p.Project(s, teamTotals(), GameContext{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.GreaterOrEqual(t, res.Projected["away_score"], 0.0)
	assert.Less(t, math.Abs(res.Projected["home_score"]+res.Projected["away_score"]-res.Projected["total_points"]), 1e-6)
}

func TestInfeasibleWithinBounds(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{GameID: "g4", Numeric: map[string]float64{"home_score": 10, "away_score": 10, "total_points": 45}}
	gctx := GameContext{Bounds: map[string]Bound{
		"home_score":   {Lower: ptr(0), Upper: ptr(10)},
		"away_score":   {Lower: ptr(0), Upper: ptr(10)},
		"total_points": {Lower: ptr(45), Upper: ptr(45)},
	}}
	res, err := p.Project(s, teamTotals(), gctx)
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.Len(t, res.RemainingViolations, 1)
	assert.InDelta(t, 25, res.RemainingViolations[0].Delta, 1e-9)
	assert.Equal(t, 0.0, res.SatisfactionScore)
	assert.True(t, errors.Is(res.Err(), model.ErrConstraintInfeasible))
	assert.Equal(t, 45.0, res.Original["total_points"])
}

func TestMissingCategoriesAreSkipped(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{Numeric: map[string]float64{"home_score": 21, "away_score": 14, "total_points": 35}}
	res, err := p.Project(s, nil, GameContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Skipped, "quarter_totals")
	assert.Contains(t, res.Skipped, "half_totals")
	assert.Contains(t, res.Skipped, "winner_margin")
}

func TestMaxShareViolation(t *testing.T) {
	p := New(DefaultConfig())
	share := []Constraint{{Name: "team_share", Kind: KindMaxShare, Parts: []string{"home_score", "away_score"}, Total: "total_points", Share: 0.8}}
	s := Slate{Numeric: map[string]float64{"home_score": 45, "away_score": 3, "total_points": 48}}

	v, _, err := p.Detect(s, share)
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, "team_share:home_score", v[0].Constraint)
	assert.InDelta(t, 45-0.8*48, v[0].Delta, 1e-9)

	res, err := p.Project(s, share, GameContext{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.LessOrEqual(t, res.Projected["home_score"], 0.8*res.Projected["total_points"]+1e-6)
}

func TestSatisfactionPartial(t *testing.T) {
	assert.InDelta(t, 0.75, satisfaction([]Violation{{Delta: 3}, {Delta: 1}}, []Violation{{Delta: 1}}), 1e-12)
	assert.Equal(t, 1.0, satisfaction(nil, nil))
	assert.Equal(t, 0.0, satisfaction([]Violation{{Delta: 1}}, []Violation{{Delta: 2}}))
}

func TestMalformedInput(t *testing.T) {
	p := New(DefaultConfig())
	_, err := p.Project(Slate{}, nil, GameContext{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = p.Project(Slate{Numeric: map[string]float64{"home_score": math.NaN()}}, nil, GameContext{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = p.Project(Slate{Numeric: map[string]float64{"a": 1}}, []Constraint{{Name: "x", Kind: "product"}}, GameContext{})
	assert.ErrorIs(t, err, model.ErrValidation)

	s := Slate{Numeric: map[string]float64{"home_score": 24, "away_score": 17, "total_points": 45}}
	_, err = p.Project(s, teamTotals(), GameContext{Bounds: map[string]Bound{"home_score": {Lower: ptr(5), Upper: ptr(1)}}})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestOutOfBoundValueOnCoherentSlate(t *testing.T) {
	p := New(DefaultConfig())
	quarters := []Constraint{{Name: "quarter_totals", Kind: KindSum, Parts: []string{"q1_points", "q2_points", "q3_points", "q4_points"}, Total: "total_points"}}
	s := Slate{GameID: "g5", Numeric: map[string]float64{
		"q1_points": 20, "q2_points": 20, "q3_points": 24, "q4_points": -20, "total_points": 44,
		"point_spread": -7,
	}}

	v, _, err := p.Detect(s, quarters)
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, KindBounds, v[0].Kind)
	assert.Equal(t, "bounds:q4_points", v[0].Constraint)
	assert.InDelta(t, 20, v[0].Delta, 1e-12)

	res, err := p.Project(s, quarters, GameContext{})
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	require.True(t, res.Success, "remaining: %+v", res.RemainingViolations)
	x := res.Projected
	assert.GreaterOrEqual(t, x["q4_points"], -1e-9)
	assert.Less(t, math.Abs(x["q1_points"]+x["q2_points"]+x["q3_points"]+x["q4_points"]-x["total_points"]), 1e-6)
	// the 20 points lifted into q4 come back evenly from the other four values
	assert.InDelta(t, 15, x["q1_points"], 1e-9)
	assert.InDelta(t, 49, x["total_points"], 1e-9)
	assert.Equal(t, -7.0, x["point_spread"])
	assert.Equal(t, -20.0, res.Original["q4_points"])
}

func TestUpperBoundWithoutConstraints(t *testing.T) {
	p := New(DefaultConfig())
	s := Slate{Numeric: map[string]float64{"passing_yards": 700, "home_score": 24}}
	gctx := GameContext{Bounds: map[string]Bound{"passing_yards": {Lower: ptr(0), Upper: ptr(550)}}}
	res, err := p.Project(s, []Constraint{}, gctx)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, 550.0, res.Violations[0].Expected)
	assert.True(t, res.Success)
	assert.InDelta(t, 550, res.Projected["passing_yards"], 1e-9)
	assert.Equal(t, map[string]float64{"passing_yards": -150}, roundDeltas(res.DeltasApplied))
}

func roundDeltas(d map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(d))
	for k, v := range d {
		out[k] = math.Round(v*1e6) / 1e6
	}
	return out
}
