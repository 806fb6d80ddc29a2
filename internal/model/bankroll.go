package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetStatus is the lifecycle state of a bet.
type BetStatus string

const (
	BetPending BetStatus = "pending"
	BetWon     BetStatus = "won"
	BetLost    BetStatus = "lost"
	BetPush    BetStatus = "push"
)

// IsTerminal reports whether the bet has been settled.
func (s BetStatus) IsTerminal() bool {
	return s == BetWon || s == BetLost || s == BetPush
}

// Line bet sides.
const (
	SideOver  = "over"
	SideUnder = "under"
)

// Bet is a stake an expert placed on one predicted category.
//
// Selection carries the backed label for binary/enum markets. Line and Side
// describe numeric markets (totals, spreads): the bet wins when the actual value
// lands on Side of Line and pushes on an exact tie.
type Bet struct {
	BetID          string           `json:"bet_id"`
	ExpertID       string           `json:"expert_id"`
	Season         string           `json:"season"`
	GameID         string           `json:"game_id"`
	Category       string           `json:"category"`
	Selection      string           `json:"selection,omitempty"`
	Line           *float64         `json:"line,omitempty"`
	Side           string           `json:"side,omitempty"`
	Stake          decimal.Decimal  `json:"stake_amount"`
	Odds           string           `json:"odds"`
	Status         BetStatus        `json:"status"`
	Payout         *decimal.Decimal `json:"payout_amount,omitempty"`
	BankrollBefore decimal.Decimal  `json:"bankroll_before"`
	BankrollAfter  decimal.Decimal  `json:"bankroll_after"`
	PlacedAt       time.Time        `json:"placed_at"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
}

// Clone returns a copy that shares no pointers with b.
func (b Bet) Clone() Bet {
	out := b
	if b.Line != nil {
		v := *b.Line
		out.Line = &v
	}
	if b.Payout != nil {
		v := *b.Payout
		out.Payout = &v
	}
	if b.SettledAt != nil {
		v := *b.SettledAt
		out.SettledAt = &v
	}
	return out
}

// RiskLevel is the advisory band of a bankroll. Only RiskEliminated stops betting.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "safe"
	RiskAtRisk     RiskLevel = "at_risk"
	RiskDanger     RiskLevel = "danger"
	RiskCritical   RiskLevel = "critical"
	RiskEliminated RiskLevel = "eliminated"
)

// RiskMetrics summarises the settled bet history of an account.
type RiskMetrics struct {
	Volatility    float64 `json:"volatility"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CurrentStreak int     `json:"current_streak"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	Pushes        int     `json:"pushes"`
	ROI           float64 `json:"roi"`
}

// BankrollAccount is one expert's balance for a season.
type BankrollAccount struct {
	ExpertID        string          `json:"expert_id"`
	Season          string          `json:"season"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	PeakBalance     decimal.Decimal `json:"peak_balance"`
	PendingExposure decimal.Decimal `json:"pending_exposure"`
	TotalStaked     decimal.Decimal `json:"total_staked"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	RiskMetrics     RiskMetrics     `json:"risk_metrics"`
	Returns         []float64       `json:"returns,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Eliminated reports whether the account can no longer place bets.
func (a BankrollAccount) Eliminated() bool { return a.RiskLevel == RiskEliminated }

// Available is the balance not yet committed to pending bets.
func (a BankrollAccount) Available() decimal.Decimal {
	return a.CurrentBalance.Sub(a.PendingExposure)
}

// Clone returns a deep copy of a.
func (a BankrollAccount) Clone() BankrollAccount {
	out := a
	if a.Returns != nil {
		out.Returns = append([]float64(nil), a.Returns...)
	}
	return out
}
