package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/odds"
)

type Config struct {
	MinEdge          float64 `yaml:"min_edge"`
	MaxBetPercentage float64 `yaml:"max_bet_percentage"`
	MinBetAmount     float64 `yaml:"min_bet_amount"`
}

func DefaultConfig() Config {
	return Config{
		MinEdge:          0.02,
		MaxBetPercentage: 0.30,
		MinBetAmount:     10,
	}
}

// Reasons reported when no bet is placed.
const (
	ReasonNoEdge            = "edge below minimum"
	ReasonNegativeKelly     = "kelly fraction not positive"
	ReasonInsufficientFunds = "bankroll below minimum bet"
	ReasonZeroMultiplier    = "personality multiplier is zero"
)

// Decision is the outcome of sizing one prospective bet.
type Decision struct {
	ShouldBet      bool            `json:"should_bet"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	BetFraction    float64         `json:"bet_fraction"`
	KellySuggested float64         `json:"kelly_suggested"`
	Edge           float64         `json:"edge"`
	Reason         string          `json:"reason,omitempty"`
}

// Sizer applies a capped, personality-scaled Kelly criterion.
type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

func (s *Sizer) Config() Config { return s.cfg }

// Size computes the stake for a bet at price o given the expert's confidence
// and available bankroll. The amount never exceeds bankroll.
func (s *Sizer) Size(confidence float64, o odds.Odds, bankroll decimal.Decimal, multiplier float64) (Decision, error) {
	if confidence < 0 || confidence > 1 || math.IsNaN(confidence) {
		return Decision{}, fmt.Errorf("confidence %v outside [0,1]: %w", confidence, model.ErrValidation)
	}
	if multiplier < 0 || math.IsNaN(multiplier) {
		return Decision{}, fmt.Errorf("personality multiplier %v must be >= 0: %w", multiplier, model.ErrValidation)
	}
	if bankroll.IsNegative() {
		return Decision{}, fmt.Errorf("bankroll %s is negative: %w", bankroll, model.ErrInvariantViolation)
	}

	d := o.Decimal()
	b := d - 1
	if b <= 0 || math.IsNaN(b) {
		return Decision{}, fmt.Errorf("decimal odds %v leave no payout: %w", d, model.ErrComputation)
	}
	p := confidence
	q := 1 - p
	kelly := (b*p - q) / b
	edge := p*d - 1

	dec := Decision{KellySuggested: kelly, Edge: edge, BetAmount: decimal.Zero}
	switch {
	case edge < s.cfg.MinEdge:
		dec.Reason = ReasonNoEdge
		return dec, nil
	case kelly <= 0:
		dec.Reason = ReasonNegativeKelly
		return dec, nil
	case multiplier == 0:
		dec.Reason = ReasonZeroMultiplier
		return dec, nil
	}

	minBet := decimal.NewFromFloat(s.cfg.MinBetAmount)
	if bankroll.LessThan(minBet) || bankroll.IsZero() {
		dec.Reason = ReasonInsufficientFunds
		return dec, nil
	}

	adjusted := math.Min(math.Max(kelly*multiplier, 0), s.cfg.MaxBetPercentage)
	amount := bankroll.Mul(decimal.NewFromFloat(adjusted))
	if amount.LessThan(minBet) {
		amount = minBet
	}
	if amount.GreaterThan(bankroll) {
		amount = bankroll
	}
	amount = amount.RoundFloor(2)

	dec.ShouldBet = amount.IsPositive()
	dec.BetAmount = amount
	dec.BetFraction, _ = amount.Div(bankroll).Float64()
	if !dec.ShouldBet {
		dec.Reason = ReasonInsufficientFunds
	}
	return dec, nil
}
