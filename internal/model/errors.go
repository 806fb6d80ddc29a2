package model

import "errors"

var (
	// ErrValidation marks malformed predictions, odds, categories or bet requests.
	ErrValidation = errors.New("validation error")
	// ErrInsufficientData marks a missing actual outcome for a category.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrConstraintInfeasible marks a projection that cannot satisfy every hard constraint.
	ErrConstraintInfeasible = errors.New("constraint infeasible")
	// ErrInvariantViolation marks a settlement that would drive a bankroll negative.
	// It always reaches the caller.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrComputation marks numerically invalid input such as decimal odds <= 1.
	ErrComputation = errors.New("computation error")
)

// Kind returns a stable label for err, used as a metrics and log dimension.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrConstraintInfeasible):
		return "constraint_infeasible"
	case errors.Is(err, ErrComputation):
		return "computation"
	default:
		return "internal"
	}
}

// ItemError records one skipped assertion, bet or learning update inside a batch.
type ItemError struct {
	Stage    string `json:"stage"`
	ExpertID string `json:"expert_id,omitempty"`
	GameID   string `json:"game_id,omitempty"`
	Category string `json:"category,omitempty"`
	BetID    string `json:"bet_id,omitempty"`
	Kind     string `json:"kind"`
	Err      error  `json:"-"`
	Message  string `json:"message"`
}

// NewItemError builds an ItemError, filling Kind and Message from err.
func NewItemError(stage string, err error) ItemError {
	return ItemError{Stage: stage, Kind: Kind(err), Err: err, Message: err.Error()}
}

func (e ItemError) Error() string { return e.Stage + ": " + e.Message }

func (e ItemError) Unwrap() error { return e.Err }
