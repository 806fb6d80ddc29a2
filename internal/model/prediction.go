package model

import (
	"fmt"
	"time"
)

// PredType is the shape of a predicted value.
type PredType string

const (
	PredBinary  PredType = "binary"
	PredEnum    PredType = "enum"
	PredNumeric PredType = "numeric"
)

// Valid reports whether t is a known prediction type.
func (t PredType) Valid() bool {
	switch t {
	case PredBinary, PredEnum, PredNumeric:
		return true
	}
	return false
}

// Categorical reports whether t is graded by label comparison.
func (t PredType) Categorical() bool { return t == PredBinary || t == PredEnum }

// PredictionAssertion is one expert's pre-game claim about one category.
type PredictionAssertion struct {
	ExpertID    string    `json:"expert_id" yaml:"expert_id"`
	GameID      string    `json:"game_id" yaml:"game_id"`
	Category    string    `json:"category" yaml:"category"`
	Type        PredType  `json:"pred_type" yaml:"pred_type"`
	Value       any       `json:"value" yaml:"value"`
	Confidence  float64   `json:"confidence" yaml:"confidence"`
	Odds        string    `json:"odds,omitempty" yaml:"odds,omitempty"`
	FactorsUsed []string  `json:"factors_used,omitempty" yaml:"factors_used,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Key identifies the assertion inside a game batch.
func (p PredictionAssertion) Key() string {
	return p.ExpertID + "/" + p.GameID + "/" + p.Category
}

// ActualOutcome holds the ground truth for a finalized game.
type ActualOutcome struct {
	GameID      string         `json:"game_id" yaml:"game_id"`
	Values      map[string]any `json:"values" yaml:"values"`
	FinalizedAt time.Time      `json:"finalized_at,omitempty" yaml:"finalized_at,omitempty"`
}

// Lookup returns the actual value for category.
func (o ActualOutcome) Lookup(category string) (any, error) {
	v, ok := o.Values[category]
	if !ok || v == nil {
		return nil, fmt.Errorf("game %s category %q: %w", o.GameID, category, ErrInsufficientData)
	}
	return v, nil
}

// GradedAssertion is a prediction scored against the actual outcome.
type GradedAssertion struct {
	PredictionAssertion
	ActualValue          any       `json:"actual_value"`
	ExactMatch           bool      `json:"exact_match"`
	CalibrationComponent float64   `json:"calibration_component"`
	FinalScore           float64   `json:"final_score"`
	GradingMethod        string    `json:"grading_method"`
	SigmaUsed            *float64  `json:"sigma_used,omitempty"`
	Distance             *float64  `json:"distance,omitempty"`
	GradedAt             time.Time `json:"graded_at"`
}

// ExpertGrade aggregates one expert's graded assertions for a game.
type ExpertGrade struct {
	ExpertID        string             `json:"expert_id"`
	GameID          string             `json:"game_id"`
	OverallScore    float64            `json:"overall_score"`
	ExactMatchRate  float64            `json:"exact_match_rate"`
	ScoreByCategory map[string]float64 `json:"score_by_category"`
	Graded          int                `json:"graded"`
	Skipped         int                `json:"skipped"`
}
