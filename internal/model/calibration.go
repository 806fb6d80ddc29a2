package model

import (
	"maps"
	"time"
)

// BetaState tracks correctness of binary/enum predictions as Beta parameters.
type BetaState struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean is the calibrated success rate alpha/(alpha+beta).
func (b BetaState) Mean() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// Variance is alpha*beta / ((alpha+beta)^2 * (alpha+beta+1)).
func (b BetaState) Variance() float64 {
	s := b.Alpha + b.Beta
	return b.Alpha * b.Beta / (s * s * (s + 1))
}

// EMAState tracks bias (Mu) and spread (Sigma) of numeric prediction errors.
type EMAState struct {
	Mu           float64 `json:"mu"`
	Sigma        float64 `json:"sigma"`
	LearningRate float64 `json:"learning_rate"`
}

// CalibrationState is the per (expert, category) calibration record. Exactly one
// of Beta and EMA is set, depending on Type.
type CalibrationState struct {
	ExpertID     string     `json:"expert_id"`
	Category     string     `json:"category"`
	Type         PredType   `json:"pred_type"`
	Beta         *BetaState `json:"beta,omitempty"`
	EMA          *EMAState  `json:"ema,omitempty"`
	Observations int        `json:"observations"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with s.
func (s CalibrationState) Clone() CalibrationState {
	out := s
	if s.Beta != nil {
		b := *s.Beta
		out.Beta = &b
	}
	if s.EMA != nil {
		e := *s.EMA
		out.EMA = &e
	}
	return out
}

// FactorWeights maps factor names to weights for one expert.
type FactorWeights struct {
	ExpertID string             `json:"expert_id"`
	Weights  map[string]float64 `json:"weights"`
}

// Clone returns a deep copy of w.
func (w FactorWeights) Clone() FactorWeights {
	return FactorWeights{ExpertID: w.ExpertID, Weights: maps.Clone(w.Weights)}
}

// Learning update kinds.
const (
	LearningBeta = "beta"
	LearningEMA  = "ema"
)

// LearningSnapshot captures the mutable learning state touched by one update.
type LearningSnapshot struct {
	Calibration CalibrationState   `json:"calibration"`
	Factors     map[string]float64 `json:"factors,omitempty"`
}

// LearningInputs records what drove a learning update.
type LearningInputs struct {
	FinalScore   float64  `json:"final_score"`
	ExactMatch   bool     `json:"exact_match"`
	Predicted    *float64 `json:"predicted,omitempty"`
	Observed     *float64 `json:"observed,omitempty"`
	LearningRate float64  `json:"learning_rate"`
	Multiplier   float64  `json:"multiplier"`
	FactorsUsed  []string `json:"factors_used,omitempty"`
}

// LearningUpdateRecord is the append-only audit entry for one learning mutation.
type LearningUpdateRecord struct {
	ID             string           `json:"id"`
	ExpertID       string           `json:"expert_id"`
	GameID         string           `json:"game_id"`
	Category       string           `json:"category"`
	Kind           string           `json:"kind"`
	StateBefore    LearningSnapshot `json:"state_before"`
	StateAfter     LearningSnapshot `json:"state_after"`
	Inputs         LearningInputs   `json:"inputs"`
	FactorsApplied bool             `json:"factors_applied"`
	Timestamp      time.Time        `json:"timestamp"`
}
