package bankroll

import (
	"math"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

const lineTolerance = 1e-9

// updateMetrics refreshes the account's risk metrics after a settlement.
// Returns, PeakBalance and CurrentBalance must already reflect the new bet.
func updateMetrics(a *model.BankrollAccount, status model.BetStatus) {
	m := &a.RiskMetrics
	switch status {
	case model.BetWon:
		m.Wins++
		if m.CurrentStreak > 0 {
			m.CurrentStreak++
		} else {
			m.CurrentStreak = 1
		}
	case model.BetLost:
		m.Losses++
		if m.CurrentStreak < 0 {
			m.CurrentStreak--
		} else {
			m.CurrentStreak = -1
		}
	case model.BetPush:
		m.Pushes++
	}

	m.Volatility = stdev(a.Returns)

	if a.PeakBalance.IsPositive() {
		dd, _ := a.PeakBalance.Sub(a.CurrentBalance).Div(a.PeakBalance).Float64()
		if dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	if a.TotalStaked.IsPositive() {
		m.ROI, _ = a.CurrentBalance.Sub(a.StartingBalance).Div(a.TotalStaked).Float64()
	}
}

// classify maps balance/starting onto the advisory bands. Zero is eliminated.
func classify(a model.BankrollAccount, bands RiskBands) model.RiskLevel {
	if !a.CurrentBalance.IsPositive() {
		return model.RiskEliminated
	}
	if !a.StartingBalance.IsPositive() {
		return model.RiskSafe
	}
	ratio, _ := a.CurrentBalance.Div(a.StartingBalance).Float64()
	switch {
	case ratio >= bands.Safe:
		return model.RiskSafe
	case ratio >= bands.AtRisk:
		return model.RiskAtRisk
	case ratio >= bands.Danger:
		return model.RiskDanger
	default:
		return model.RiskCritical
	}
}

// stdev is the sample standard deviation; fewer than two values give 0.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
