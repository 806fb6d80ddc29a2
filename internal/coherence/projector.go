package coherence

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

// Slate is the aggregated, published prediction set for one game.
type Slate struct {
	GameID      string             `json:"game_id"`
	Numeric     map[string]float64 `json:"numeric"`
	Categorical map[string]string  `json:"categorical,omitempty"`
}

// Bound limits a projected value. Nil ends are open.
type Bound struct {
	Lower *float64 `yaml:"lower" json:"lower,omitempty"`
	Upper *float64 `yaml:"upper" json:"upper,omitempty"`
}

func (b Bound) limits() (lo, hi float64) {
	lo, hi = math.Inf(-1), math.Inf(1)
	if b.Lower != nil {
		lo = *b.Lower
	}
	if b.Upper != nil {
		hi = *b.Upper
	}
	return lo, hi
}

// GameContext carries per-game projection settings.
type GameContext struct {
	GameID string           `json:"game_id"`
	Bounds map[string]Bound `json:"bounds,omitempty"`
}

type Config struct {
	MaxIterations int              `yaml:"max_iterations"`
	Tolerance     float64          `yaml:"tolerance"`
	DefaultBound  Bound            `yaml:"default_bound"`
	Bounds        map[string]Bound `yaml:"bounds"`
	Constraints   []Constraint     `yaml:"constraints"`
}

func DefaultConfig() Config {
	zero := 0.0
	return Config{
		MaxIterations: 50,
		Tolerance:     1e-6,
		DefaultBound:  Bound{Lower: &zero},
		Bounds: map[string]Bound{
			"point_spread": {},
		},
		Constraints: DefaultConstraints(),
	}
}

// ProjectionResult reports the coherent slate and how far it moved.
type ProjectionResult struct {
	GameID              string             `json:"game_id"`
	Success             bool               `json:"success"`
	Original            map[string]float64 `json:"original"`
	Projected           map[string]float64 `json:"projected"`
	Violations          []Violation        `json:"violations"`
	RemainingViolations []Violation        `json:"remaining_violations"`
	DeltasApplied       map[string]float64 `json:"deltas_applied"`
	SatisfactionScore   float64            `json:"satisfaction_score"`
	Skipped             []string           `json:"skipped_constraints,omitempty"`
	Iterations          int                `json:"iterations"`
	ProcessingTime      time.Duration      `json:"processing_time_ns"`
}

// Err is nil on success and wraps model.ErrConstraintInfeasible otherwise.
func (r ProjectionResult) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("game %s: %d constraint(s) still violated: %w", r.GameID, len(r.RemainingViolations), model.ErrConstraintInfeasible)
}

// Projector adjusts a slate by the smallest squared change that satisfies
// every violated constraint within per-category bounds.
type Projector struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

type Option func(*Projector)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Projector) { p.log = l.With().Str("component", "coherence").Logger() }
}

func New(cfg Config, opts ...Option) *Projector {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	if cfg.Constraints == nil {
		cfg.Constraints = DefaultConstraints()
	}
	p := &Projector{cfg: cfg, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Detect lists the constraint violations of a slate without projecting it.
func (p *Projector) Detect(s Slate, constraints []Constraint) ([]Violation, []string, error) {
	if constraints == nil {
		constraints = p.cfg.Constraints
	}
	if err := validateSlate(s); err != nil {
		return nil, nil, err
	}
	rows, skipped, err := expand(s, constraints)
	if err != nil {
		return nil, nil, err
	}
	limits, err := p.boundRows(s, GameContext{})
	if err != nil {
		return nil, nil, err
	}
	rows = append(rows, limits...)
	return violations(rows, s.Numeric, p.cfg.Tolerance), skipped, nil
}

// Project returns the coherent version of s. A nil constraints slice uses the
// configured set. The error is non-nil only for malformed input; an
// unsatisfiable slate yields Success=false with the best-effort values.
func (p *Projector) Project(s Slate, constraints []Constraint, gctx GameContext) (ProjectionResult, error) {
	start := p.now()
	if constraints == nil {
		constraints = p.cfg.Constraints
	}
	if err := validateSlate(s); err != nil {
		return ProjectionResult{}, err
	}
	rows, skipped, err := expand(s, constraints)
	if err != nil {
		return ProjectionResult{}, err
	}
	limits, err := p.boundRows(s, gctx)
	if err != nil {
		return ProjectionResult{}, err
	}
	rows = append(rows, limits...)

	gameID := s.GameID
	if gameID == "" {
		gameID = gctx.GameID
	}
	res := ProjectionResult{
		GameID:        gameID,
		Original:      maps.Clone(s.Numeric),
		Projected:     maps.Clone(s.Numeric),
		DeltasApplied: map[string]float64{},
		Skipped:       skipped,
	}
	res.Violations = violations(rows, s.Numeric, p.cfg.Tolerance)
	if len(res.Violations) == 0 {
		res.Success = true
		res.SatisfactionScore = 1
		res.ProcessingTime = p.now().Sub(start)
		return res, nil
	}

	vars := variables(rows)
	bounds := make([]Bound, len(vars))
	for i, v := range vars {
		bounds[i] = p.bound(v, gctx)
	}

	sol, iterations, converged, err := p.solve(rows, vars, bounds, s.Numeric)
	if err != nil {
		return ProjectionResult{}, err
	}
	for i, v := range vars {
		res.Projected[v] = sol[i]
		if d := sol[i] - s.Numeric[v]; math.Abs(d) > 1e-12 {
			res.DeltasApplied[v] = d
		}
	}
	res.Iterations = iterations
	res.RemainingViolations = violations(rows, res.Projected, p.cfg.Tolerance)
	res.Success = converged && len(res.RemainingViolations) == 0
	res.SatisfactionScore = satisfaction(res.Violations, res.RemainingViolations)
	res.ProcessingTime = p.now().Sub(start)

	ev := p.log.Debug()
	if !res.Success {
		ev = p.log.Warn()
	}
	ev.Str("game_id", res.GameID).Int("violations", len(res.Violations)).
		Int("remaining", len(res.RemainingViolations)).Int("iterations", iterations).
		Float64("satisfaction", res.SatisfactionScore).Msg("slate projected")
	return res, nil
}

func (p *Projector) bound(category string, gctx GameContext) Bound {
	if b, ok := gctx.Bounds[category]; ok {
		return b
	}
	if b, ok := p.cfg.Bounds[category]; ok {
		return b
	}
	return p.cfg.DefaultBound
}

// boundRows turns the finite bounds of every slate value into rows, so a
// value outside its bound is a violation even when every constraint holds.
func (p *Projector) boundRows(s Slate, gctx GameContext) ([]row, error) {
	categories := make([]string, 0, len(s.Numeric))
	for c := range s.Numeric {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var out []row
	for _, c := range categories {
		lo, hi := p.bound(c, gctx).limits()
		if lo > hi {
			return nil, fmt.Errorf("bounds for %s: lower %v > upper %v: %w", c, lo, hi, model.ErrValidation)
		}
		if !math.IsInf(lo, -1) {
			out = append(out, row{name: "bounds:" + c, kind: KindBounds, op: opGE, left: map[string]float64{c: 1}, constant: lo})
		}
		if !math.IsInf(hi, 1) {
			out = append(out, row{name: "bounds:" + c, kind: KindBounds, op: opLE, left: map[string]float64{c: 1}, constant: hi})
		}
	}
	return out, nil
}

// solve runs the active-set loop. Violated rows are held as equalities at
// their boundary and values that leave their bounds are fixed at the bound.
// Each round adds at least one row or fixed value, so the loop is finite.
func (p *Projector) solve(rows []row, vars []string, bounds []Bound, original map[string]float64) ([]float64, int, bool, error) {
	index := make(map[string]int, len(vars))
	orig := make([]float64, len(vars))
	for i, v := range vars {
		index[v] = i
		orig[i] = original[v]
	}
	current := maps.Clone(original)
	active := make(map[int]bool)
	for i, r := range rows {
		if _, _, d := r.delta(original); d > p.cfg.Tolerance {
			active[i] = true
		}
	}
	fixed := make(map[int]float64)

	var x []float64
	for iter := 1; iter <= p.cfg.MaxIterations; iter++ {
		var residual float64
		var err error
		x, residual, err = minimumChange(rows, active, index, orig, fixed)
		if err != nil {
			return nil, iter, false, err
		}
		if residual > p.cfg.Tolerance {
			return x, iter, false, nil
		}

		changed := false
		for i := range x {
			if _, ok := fixed[i]; ok {
				continue
			}
			lo, hi := bounds[i].limits()
			switch {
			case x[i] < lo-p.cfg.Tolerance:
				fixed[i], changed = lo, true
			case x[i] > hi+p.cfg.Tolerance:
				fixed[i], changed = hi, true
			}
		}
		if changed {
			continue
		}

		for i, v := range vars {
			current[v] = x[i]
		}
		for i, r := range rows {
			if active[i] {
				continue
			}
			if _, _, d := r.delta(current); d > p.cfg.Tolerance {
				active[i], changed = true, true
			}
		}
		if !changed {
			return x, iter, true, nil
		}
	}
	return x, p.cfg.MaxIterations, false, nil
}

// minimumChange finds the least-norm move from orig that satisfies the active
// rows with the fixed values pinned. The residual is the norm of what the
// active rows still miss.
func minimumChange(rows []row, active map[int]bool, index map[string]int, orig []float64, fixed map[int]float64) ([]float64, float64, error) {
	x := make([]float64, len(orig))
	copy(x, orig)
	for i, v := range fixed {
		x[i] = v
	}

	var free []int
	col := make(map[int]int)
	for i := range orig {
		if _, ok := fixed[i]; !ok {
			col[i] = len(free)
			free = append(free, i)
		}
	}
	act := make([]int, 0, len(active))
	for i := range active {
		act = append(act, i)
	}
	sort.Ints(act)

	m, n := len(act), len(free)
	r := make([]float64, m)
	for k, ri := range act {
		coef, rhs := rows[ri].coef()
		s := rhs
		for c, a := range coef {
			s -= a * x[index[c]]
		}
		r[k] = s
	}
	if m == 0 || n == 0 {
		return x, norm(r), nil
	}

	a := mat.NewDense(m, n, nil)
	for k, ri := range act {
		coef, _ := rows[ri].coef()
		for c, v := range coef {
			if j, ok := col[index[c]]; ok {
				a.Set(k, j, a.At(k, j)+v)
			}
		}
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, 0, fmt.Errorf("svd factorization failed: %w", model.ErrComputation)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return x, norm(r), nil
	}
	var step mat.Dense
	svd.SolveTo(&step, mat.NewDense(m, 1, r), rank)
	for j, i := range free {
		x[i] += step.At(j, 0)
	}

	var moved mat.VecDense
	moved.MulVec(a, step.ColView(0))
	miss := make([]float64, m)
	for k := range r {
		miss[k] = r[k] - moved.AtVec(k)
	}
	return x, norm(miss), nil
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// satisfaction is 1 - remaining/original summed deltas, clamped to [0,1].
func satisfaction(original, remaining []Violation) float64 {
	var before, after float64
	for _, v := range original {
		before += v.Delta
	}
	for _, v := range remaining {
		after += v.Delta
	}
	if before == 0 {
		return 1
	}
	return math.Max(0, math.Min(1, 1-after/before))
}

func expand(s Slate, constraints []Constraint) ([]row, []string, error) {
	var rows []row
	var skipped []string
	for _, c := range constraints {
		if err := c.Validate(); err != nil {
			return nil, nil, err
		}
		rs, ok := c.rows(s)
		if !ok {
			skipped = append(skipped, c.Name)
			continue
		}
		rows = append(rows, rs...)
	}
	return rows, skipped, nil
}

func variables(rows []row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for _, c := range r.categories() {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func validateSlate(s Slate) error {
	if len(s.Numeric) == 0 {
		return fmt.Errorf("slate has no numeric values: %w", model.ErrValidation)
	}
	for c, v := range s.Numeric {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("slate value %s=%v is not finite: %w", c, v, model.ErrValidation)
		}
	}
	return nil
}
