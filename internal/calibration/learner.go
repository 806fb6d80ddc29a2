package calibration

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/grading"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/keylock"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

type Config struct {
	LearningRate    float64            `yaml:"learning_rate"`
	EMAAlpha        float64            `yaml:"ema_alpha"`
	AdjustmentRate  float64            `yaml:"adjustment_rate"`
	MaxChange       float64            `yaml:"max_change"`
	MinObservations int                `yaml:"min_observations"`
	PriorAlpha      float64            `yaml:"prior_alpha"`
	PriorBeta       float64            `yaml:"prior_beta"`
	DefaultSigma    float64            `yaml:"default_sigma"`
	InitialSigma    map[string]float64 `yaml:"initial_sigma"`
}

func DefaultConfig() Config {
	return Config{
		LearningRate:    0.1,
		EMAAlpha:        0.1,
		AdjustmentRate:  0.05,
		MaxChange:       0.2,
		MinObservations: 3,
		PriorAlpha:      1,
		PriorBeta:       1,
		DefaultSigma:    5,
	}
}

// Personality overrides learning parameters for one expert. Zero fields fall
// back to Config.
type Personality struct {
	LearningRate   float64
	EMAAlpha       float64
	AdjustmentRate float64
	MaxChange      float64
}

// ErrAlreadyLearned is returned when the audit log already holds a record for
// the same expert, game and category.
var ErrAlreadyLearned = fmt.Errorf("assertion already learned: %w", model.ErrValidation)

// AuditLog is the append-only store of learning updates.
type AuditLog interface {
	Append(ctx context.Context, rec model.LearningUpdateRecord) error
	Records(ctx context.Context, expertID string, limit int) ([]model.LearningUpdateRecord, error)
	// Learned reports whether a record exists for the graded assertion.
	Learned(ctx context.Context, expertID, gameID, category string) (bool, error)
}

type stateKey struct {
	expertID string
	category string
}

// Learner updates per-expert calibration and factor weights from graded
// assertions. Updates for one expert are serialised.
type Learner struct {
	cfg           Config
	personalities map[string]Personality
	audit         AuditLog
	locks         *keylock.Map
	log           zerolog.Logger
	now           func() time.Time

	mu      sync.RWMutex
	states  map[stateKey]model.CalibrationState
	weights map[string]map[string]float64
}

type Option func(*Learner)

func WithAuditLog(a AuditLog) Option {
	return func(l *Learner) { l.audit = a }
}

func WithPersonalities(p map[string]Personality) Option {
	return func(l *Learner) { l.personalities = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Learner) { l.log = log.With().Str("component", "calibration").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

// New builds a Learner. Without WithAuditLog records are kept in memory.
func New(cfg Config, opts ...Option) *Learner {
	l := &Learner{
		cfg:     cfg,
		locks:   keylock.New(),
		log:     zerolog.Nop(),
		now:     time.Now,
		states:  make(map[stateKey]model.CalibrationState),
		weights: make(map[string]map[string]float64),
	}
	for _, o := range opts {
		o(l)
	}
	if l.audit == nil {
		l.audit = NewMemoryAudit()
	}
	return l
}

// Load seeds previously persisted calibration state and factor weights.
func (l *Learner) Load(states []model.CalibrationState, weights []model.FactorWeights) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range states {
		l.states[stateKey{s.ExpertID, s.Category}] = s.Clone()
	}
	for _, w := range weights {
		l.weights[w.ExpertID] = w.Clone().Weights
	}
}

type params struct {
	learningRate   float64
	emaAlpha       float64
	adjustmentRate float64
	maxChange      float64
}

func (l *Learner) params(expertID string) params {
	p := params{
		learningRate:   l.cfg.LearningRate,
		emaAlpha:       l.cfg.EMAAlpha,
		adjustmentRate: l.cfg.AdjustmentRate,
		maxChange:      l.cfg.MaxChange,
	}
	o, ok := l.personalities[expertID]
	if !ok {
		return p
	}
	if o.LearningRate > 0 {
		p.learningRate = o.LearningRate
	}
	if o.EMAAlpha > 0 {
		p.emaAlpha = o.EMAAlpha
	}
	if o.AdjustmentRate > 0 {
		p.adjustmentRate = o.AdjustmentRate
	}
	if o.MaxChange > 0 {
		p.maxChange = o.MaxChange
	}
	return p
}

// Learn applies one graded assertion to the expert's calibration state and,
// once enough observations exist, to the weights of the factors it used.
// Exactly one audit record is appended per call. If the append fails the
// update is discarded. An assertion with a game ID is learned at most once;
// repeats fail with ErrAlreadyLearned and leave the state untouched.
func (l *Learner) Learn(ctx context.Context, graded model.GradedAssertion) (model.LearningUpdateRecord, error) {
	if graded.ExpertID == "" || graded.Category == "" {
		return model.LearningUpdateRecord{}, fmt.Errorf("learning needs expert_id and category: %w", model.ErrValidation)
	}
	if !graded.Type.Valid() {
		return model.LearningUpdateRecord{}, fmt.Errorf("unknown pred_type %q: %w", graded.Type, model.ErrValidation)
	}
	p := l.params(graded.ExpertID)

	unlock := l.locks.Lock(graded.ExpertID)
	defer unlock()

	if graded.GameID != "" {
		done, err := l.audit.Learned(ctx, graded.ExpertID, graded.GameID, graded.Category)
		if err != nil {
			return model.LearningUpdateRecord{}, fmt.Errorf("check learning record: %w", err)
		}
		if done {
			return model.LearningUpdateRecord{}, fmt.Errorf("%s/%s/%s: %w",
				graded.ExpertID, graded.GameID, graded.Category, ErrAlreadyLearned)
		}
	}

	key := stateKey{graded.ExpertID, graded.Category}
	l.mu.RLock()
	state, ok := l.states[key]
	weights := l.weights[graded.ExpertID]
	l.mu.RUnlock()
	if !ok {
		state = l.initialState(graded, p)
	} else if state.Type.Categorical() != graded.Type.Categorical() {
		return model.LearningUpdateRecord{}, fmt.Errorf("%s/%s calibrated as %s, got %s: %w",
			graded.ExpertID, graded.Category, state.Type, graded.Type, model.ErrValidation)
	}

	factors := uniqueFactors(graded.FactorsUsed)
	before := model.LearningSnapshot{Calibration: state.Clone(), Factors: factorSubset(weights, factors)}
	inputs := model.LearningInputs{
		FinalScore:  graded.FinalScore,
		ExactMatch:  graded.ExactMatch,
		FactorsUsed: factors,
	}

	now := l.now().UTC()
	after := state.Clone()
	kind := model.LearningBeta
	if graded.Type.Categorical() {
		inputs.LearningRate = p.learningRate
		if graded.ExactMatch {
			after.Beta.Alpha += p.learningRate
		} else {
			after.Beta.Beta += p.learningRate
		}
	} else {
		kind = model.LearningEMA
		predicted, err := grading.Number(graded.Value)
		if err != nil {
			return model.LearningUpdateRecord{}, fmt.Errorf("predicted value: %w", err)
		}
		observed, err := grading.Number(graded.ActualValue)
		if err != nil {
			return model.LearningUpdateRecord{}, fmt.Errorf("actual value: %w", err)
		}
		inputs.Predicted, inputs.Observed = &predicted, &observed
		inputs.LearningRate = p.emaAlpha
		updateEMA(after.EMA, observed-predicted, p.emaAlpha)
	}
	after.Observations++
	after.UpdatedAt = now

	newWeights := weights
	applied := false
	if after.Observations >= l.cfg.MinObservations && len(factors) > 0 {
		m := FactorMultiplier(graded.FinalScore, p.adjustmentRate, p.maxChange)
		inputs.Multiplier = m
		newWeights = make(map[string]float64, len(weights)+len(factors))
		for f, w := range weights {
			newWeights[f] = w
		}
		for _, f := range factors {
			newWeights[f] = weightOf(weights, f) * m
		}
		applied = true
	}

	rec := model.LearningUpdateRecord{
		ID:             uuid.NewString(),
		ExpertID:       graded.ExpertID,
		GameID:         graded.GameID,
		Category:       graded.Category,
		Kind:           kind,
		StateBefore:    before,
		StateAfter:     model.LearningSnapshot{Calibration: after.Clone(), Factors: factorSubset(newWeights, factors)},
		Inputs:         inputs,
		FactorsApplied: applied,
		Timestamp:      now,
	}
	if err := l.audit.Append(ctx, rec); err != nil {
		l.log.Error().Err(err).Str("expert_id", rec.ExpertID).Str("category", rec.Category).Msg("audit append failed, update discarded")
		return model.LearningUpdateRecord{}, fmt.Errorf("append learning record: %w", err)
	}

	l.mu.Lock()
	l.states[key] = after
	if applied {
		l.weights[graded.ExpertID] = newWeights
	}
	l.mu.Unlock()

	l.log.Debug().Str("expert_id", rec.ExpertID).Str("category", rec.Category).Str("kind", kind).
		Int("observations", after.Observations).Bool("factors_applied", applied).Msg("learning update")
	return rec, nil
}

func (l *Learner) initialState(graded model.GradedAssertion, p params) model.CalibrationState {
	s := model.CalibrationState{
		ExpertID: graded.ExpertID,
		Category: graded.Category,
		Type:     graded.Type,
	}
	if graded.Type.Categorical() {
		s.Beta = &model.BetaState{Alpha: l.cfg.PriorAlpha, Beta: l.cfg.PriorBeta}
		return s
	}
	sigma, ok := l.cfg.InitialSigma[graded.Category]
	if !ok {
		sigma = l.cfg.DefaultSigma
	}
	s.EMA = &model.EMAState{Sigma: sigma, LearningRate: p.emaAlpha}
	return s
}

// updateEMA folds one error into the bias and spread estimates.
func updateEMA(e *model.EMAState, err, alpha float64) {
	e.Mu = (1-alpha)*e.Mu + alpha*err
	e.Sigma = math.Sqrt((1-alpha)*e.Sigma*e.Sigma + alpha*err*err)
	e.LearningRate = alpha
}

// FactorMultiplier is 1 + (score-0.5)*rate clamped to [1-maxChange, 1+maxChange].
func FactorMultiplier(score, rate, maxChange float64) float64 {
	m := 1 + (score-0.5)*rate
	return math.Max(1-maxChange, math.Min(1+maxChange, m))
}

func weightOf(w map[string]float64, factor string) float64 {
	if v, ok := w[factor]; ok {
		return v
	}
	return 1
}

func factorSubset(w map[string]float64, factors []string) map[string]float64 {
	if len(factors) == 0 {
		return nil
	}
	out := make(map[string]float64, len(factors))
	for _, f := range factors {
		out[f] = weightOf(w, f)
	}
	return out
}

func uniqueFactors(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	out = slices.Compact(out)
	if out[0] == "" {
		out = out[1:]
	}
	return out
}

// State returns the calibration state for one expert and category.
func (l *Learner) State(expertID, category string) (model.CalibrationState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.states[stateKey{expertID, category}]
	return s.Clone(), ok
}

// States returns every calibration state for an expert, ordered by category.
func (l *Learner) States(expertID string) []model.CalibrationState {
	l.mu.RLock()
	var out []model.CalibrationState
	for k, s := range l.states {
		if k.expertID == expertID {
			out = append(out, s.Clone())
		}
	}
	l.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.CalibrationState) int {
		switch {
		case a.Category < b.Category:
			return -1
		case a.Category > b.Category:
			return 1
		}
		return 0
	})
	return out
}

// Weights returns a copy of the expert's factor weights.
func (l *Learner) Weights(expertID string) model.FactorWeights {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return model.FactorWeights{ExpertID: expertID, Weights: cloneWeights(l.weights[expertID])}
}

// Records returns up to limit of the expert's most recent audit records,
// newest first. A limit <= 0 returns all of them.
func (l *Learner) Records(ctx context.Context, expertID string, limit int) ([]model.LearningUpdateRecord, error) {
	return l.audit.Records(ctx, expertID, limit)
}

func cloneWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
