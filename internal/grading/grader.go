package grading

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

const (
	MethodBrierExact     = "brier_exact"
	MethodGaussianKernel = "gaussian_kernel"

	exactWeight = 0.7
	brierWeight = 0.3

	// confidenceBonus scales how far confidence can move a numeric score.
	confidenceBonus = 0.2
	exactTolerance  = 1e-9
)

// Config holds per-category numeric tolerances.
type Config struct {
	DefaultSigma float64            `yaml:"default_sigma"`
	Sigma        map[string]float64 `yaml:"sigma"`
}

// DefaultConfig returns tolerances for the usual game categories.
func DefaultConfig() Config {
	return Config{
		DefaultSigma: 5.0,
		Sigma: map[string]float64{
			"home_score":     3.0,
			"away_score":     3.0,
			"total_points":   4.0,
			"point_spread":   3.5,
			"passing_yards":  25.0,
			"rushing_yards":  15.0,
			"receiving_yds":  15.0,
			"turnovers":      1.0,
			"first_downs":    3.0,
			"time_of_poss":   2.5,
			"field_goals":    1.0,
			"sacks":          1.5,
			"quarter_points": 3.0,
		},
	}
}

// Grader scores predictions against actual outcomes. It holds no mutable state
// and is safe for concurrent use.
type Grader struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Grader {
	if cfg.DefaultSigma <= 0 {
		cfg.DefaultSigma = DefaultConfig().DefaultSigma
	}
	return &Grader{cfg: cfg, now: time.Now}
}

// Sigma returns the tolerance used for a numeric category.
func (g *Grader) Sigma(category string) float64 {
	if s, ok := g.cfg.Sigma[category]; ok {
		return s
	}
	return g.cfg.DefaultSigma
}

// Grade scores a single prediction. It fails with model.ErrInsufficientData when
// the outcome lacks the category or holds a malformed value for it, and with
// model.ErrValidation when the prediction itself is malformed.
func (g *Grader) Grade(p model.PredictionAssertion, outcome model.ActualOutcome) (model.GradedAssertion, error) {
	if p.Confidence < 0 || p.Confidence > 1 || math.IsNaN(p.Confidence) {
		return model.GradedAssertion{}, fmt.Errorf("%s: confidence %v outside [0,1]: %w", p.Key(), p.Confidence, model.ErrValidation)
	}
	if !p.Type.Valid() {
		return model.GradedAssertion{}, fmt.Errorf("%s: unknown pred_type %q: %w", p.Key(), p.Type, model.ErrValidation)
	}
	actual, err := outcome.Lookup(p.Category)
	if err != nil {
		return model.GradedAssertion{}, err
	}

	graded := model.GradedAssertion{
		PredictionAssertion: p,
		ActualValue:         actual,
		GradedAt:            g.now().UTC(),
	}
	if p.Type.Categorical() {
		err = g.gradeCategorical(&graded, actual)
	} else {
		err = g.gradeNumeric(&graded, actual)
	}
	if err != nil {
		return model.GradedAssertion{}, fmt.Errorf("%s: %w", p.Key(), err)
	}
	graded.FinalScore = clamp01(graded.FinalScore)
	return graded, nil
}

func (g *Grader) gradeCategorical(out *model.GradedAssertion, actual any) error {
	predicted, err := Label(out.Value)
	if err != nil {
		return fmt.Errorf("predicted value: %w", err)
	}
	observed, err := Label(actual)
	if err != nil {
		return fmt.Errorf("actual value: %v: %w", err, model.ErrInsufficientData)
	}

	out.ExactMatch = predicted == observed
	indicator, exact := 0.0, 0.0
	if out.ExactMatch {
		indicator, exact = 1.0, 1.0
	}
	brier := (out.Confidence - indicator) * (out.Confidence - indicator)
	out.CalibrationComponent = 1 - brier
	out.FinalScore = exactWeight*exact + brierWeight*(1-brier)
	out.GradingMethod = MethodBrierExact
	return nil
}

func (g *Grader) gradeNumeric(out *model.GradedAssertion, actual any) error {
	predicted, err := Number(out.Value)
	if err != nil {
		return fmt.Errorf("predicted value: %w", err)
	}
	observed, err := Number(actual)
	if err != nil {
		return fmt.Errorf("actual value: %v: %w", err, model.ErrInsufficientData)
	}
	sigma := g.Sigma(out.Category)
	if sigma <= 0 {
		return fmt.Errorf("sigma %v for %q must be > 0: %w", sigma, out.Category, model.ErrValidation)
	}

	distance := math.Abs(predicted - observed)
	z := distance / sigma
	gaussian := math.Exp(-0.5 * z * z)
	confidenceFactor := 1 + confidenceBonus*(out.Confidence-0.5)*gaussian

	out.ExactMatch = distance < exactTolerance
	out.CalibrationComponent = gaussian
	out.FinalScore = math.Min(1.0, gaussian*confidenceFactor)
	out.GradingMethod = MethodGaussianKernel
	out.SigmaUsed = &sigma
	out.Distance = &distance
	return nil
}

// GradeAll grades a batch. Assertions that fail are reported and skipped; the
// rest of the batch is still graded.
func (g *Grader) GradeAll(predictions []model.PredictionAssertion, outcome model.ActualOutcome) ([]model.GradedAssertion, []model.ItemError) {
	graded := make([]model.GradedAssertion, 0, len(predictions))
	var failures []model.ItemError
	for _, p := range predictions {
		ga, err := g.Grade(p, outcome)
		if err != nil {
			ie := model.NewItemError("grade", err)
			ie.ExpertID, ie.GameID, ie.Category = p.ExpertID, p.GameID, p.Category
			failures = append(failures, ie)
			continue
		}
		graded = append(graded, ga)
	}
	return graded, failures
}

// Aggregate summarises one expert's graded assertions for a game.
func Aggregate(expertID, gameID string, graded []model.GradedAssertion, skipped int) model.ExpertGrade {
	eg := model.ExpertGrade{
		ExpertID:        expertID,
		GameID:          gameID,
		ScoreByCategory: make(map[string]float64),
		Skipped:         skipped,
	}
	counts := make(map[string]int)
	var total float64
	var exact int
	for _, ga := range graded {
		if ga.ExpertID != expertID {
			continue
		}
		eg.Graded++
		total += ga.FinalScore
		if ga.ExactMatch {
			exact++
		}
		counts[ga.Category]++
		eg.ScoreByCategory[ga.Category] += ga.FinalScore
	}
	if eg.Graded == 0 {
		return eg
	}
	for cat, n := range counts {
		eg.ScoreByCategory[cat] /= float64(n)
	}
	eg.OverallScore = total / float64(eg.Graded)
	eg.ExactMatchRate = float64(exact) / float64(eg.Graded)
	return eg
}

// Label normalises a binary/enum value for comparison.
func Label(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("nil label: %w", model.ErrValidation)
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if s == "" {
			return "", fmt.Errorf("empty label: %w", model.ErrValidation)
		}
		return s, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case fmt.Stringer:
		return Label(x.String())
	default:
		return "", fmt.Errorf("unsupported label type %T: %w", v, model.ErrValidation)
	}
}

// Number converts a numeric prediction or outcome to float64.
func Number(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case interface{ Float64() (float64, error) }:
		n, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %v: %v: %w", v, err, model.ErrValidation)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", x, model.ErrValidation)
		}
		f = n
	default:
		return 0, fmt.Errorf("unsupported numeric type %T: %w", v, model.ErrValidation)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v: %w", f, model.ErrValidation)
	}
	return f, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
