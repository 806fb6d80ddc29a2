package coherence

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

// Kind names a family of linear constraints.
type Kind string

const (
	// KindSum requires the parts to add up to the total.
	KindSum Kind = "sum"
	// KindMaxShare requires every part to be at most Share of the total.
	KindMaxShare Kind = "max_share"
	// KindWinnerMargin ties the sign of Parts[0]-Parts[1] to the winner label.
	KindWinnerMargin Kind = "winner_margin"
	// KindBounds marks a value outside its per-category bound. It comes from
	// the projector's bounds and is not configurable as a constraint.
	KindBounds Kind = "bounds"
)

// Constraint is a relationship the published slate must satisfy. Constraints
// are data; new ones need no code as long as they fit one of the kinds.
type Constraint struct {
	Name      string   `yaml:"name" json:"name"`
	Kind      Kind     `yaml:"kind" json:"kind"`
	Parts     []string `yaml:"parts" json:"parts"`
	Total     string   `yaml:"total,omitempty" json:"total,omitempty"`
	Share     float64  `yaml:"share,omitempty" json:"share,omitempty"`
	Winner    string   `yaml:"winner,omitempty" json:"winner,omitempty"`
	HomeLabel string   `yaml:"home_label,omitempty" json:"home_label,omitempty"`
	AwayLabel string   `yaml:"away_label,omitempty" json:"away_label,omitempty"`
	MinMargin float64  `yaml:"min_margin,omitempty" json:"min_margin,omitempty"`
}

// DefaultConstraints returns the standard game-level coherence rules.
func DefaultConstraints() []Constraint {
	return []Constraint{
		{Name: "team_totals", Kind: KindSum, Parts: []string{"home_score", "away_score"}, Total: "total_points"},
		{Name: "quarter_totals", Kind: KindSum, Parts: []string{"q1_points", "q2_points", "q3_points", "q4_points"}, Total: "total_points"},
		{Name: "half_totals", Kind: KindSum, Parts: []string{"first_half_points", "second_half_points"}, Total: "total_points"},
		{Name: "winner_margin", Kind: KindWinnerMargin, Winner: "winner", Parts: []string{"home_score", "away_score"}, HomeLabel: "home", AwayLabel: "away", MinMargin: 1},
		{Name: "team_share", Kind: KindMaxShare, Parts: []string{"home_score", "away_score"}, Total: "total_points", Share: 0.8},
	}
}

// Validate checks that c is well formed.
func (c Constraint) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("constraint name is required: %w", model.ErrValidation)
	}
	switch c.Kind {
	case KindSum:
		if len(c.Parts) == 0 || c.Total == "" {
			return fmt.Errorf("constraint %s: sum needs parts and total: %w", c.Name, model.ErrValidation)
		}
	case KindMaxShare:
		if len(c.Parts) == 0 || c.Total == "" {
			return fmt.Errorf("constraint %s: max_share needs parts and total: %w", c.Name, model.ErrValidation)
		}
		if c.Share <= 0 || c.Share > 1 {
			return fmt.Errorf("constraint %s: share %v must be in (0,1]: %w", c.Name, c.Share, model.ErrValidation)
		}
	case KindWinnerMargin:
		if c.Winner == "" || len(c.Parts) != 2 {
			return fmt.Errorf("constraint %s: winner_margin needs winner and exactly two parts: %w", c.Name, model.ErrValidation)
		}
		if c.MinMargin < 0 {
			return fmt.Errorf("constraint %s: min_margin must be >= 0: %w", c.Name, model.ErrValidation)
		}
	default:
		return fmt.Errorf("constraint %s: unknown kind %q: %w", c.Name, c.Kind, model.ErrValidation)
	}
	return nil
}

type op int

const (
	opEq op = iota
	opLE
	opGE
)

// row is left op right, where both sides are linear in the slate values:
// left = sum(left[c]*x[c]), right = sum(right[c]*x[c]) + constant.
type row struct {
	name     string
	kind     Kind
	op       op
	left     map[string]float64
	right    map[string]float64
	constant float64
}

// coef returns the row as a single linear form coef*x op rhs.
func (r row) coef() (map[string]float64, float64) {
	out := make(map[string]float64, len(r.left)+len(r.right))
	for c, v := range r.left {
		out[c] += v
	}
	for c, v := range r.right {
		out[c] -= v
	}
	return out, r.constant
}

func (r row) sides(x map[string]float64) (left, right float64) {
	for c, v := range r.left {
		left += v * x[c]
	}
	for c, v := range r.right {
		right += v * x[c]
	}
	return left, right + r.constant
}

// delta is how far x is from satisfying r; zero when satisfied.
func (r row) delta(x map[string]float64) (left, right, d float64) {
	left, right = r.sides(x)
	switch r.op {
	case opLE:
		d = math.Max(0, left-right)
	case opGE:
		d = math.Max(0, right-left)
	default:
		d = math.Abs(left - right)
	}
	return left, right, d
}

func (r row) categories() []string {
	seen := make(map[string]struct{}, len(r.left)+len(r.right))
	for c := range r.left {
		seen[c] = struct{}{}
	}
	for c := range r.right {
		seen[c] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// rows expands c into linear rows over the slate. It reports false when c
// references categories the slate does not carry.
func (c Constraint) rows(s Slate) ([]row, bool) {
	for _, p := range c.Parts {
		if _, ok := s.Numeric[p]; !ok {
			return nil, false
		}
	}
	switch c.Kind {
	case KindSum:
		if _, ok := s.Numeric[c.Total]; !ok {
			return nil, false
		}
		left := make(map[string]float64, len(c.Parts))
		for _, p := range c.Parts {
			left[p]++
		}
		return []row{{name: c.Name, kind: c.Kind, op: opEq, left: left, right: map[string]float64{c.Total: 1}}}, true

	case KindMaxShare:
		if _, ok := s.Numeric[c.Total]; !ok {
			return nil, false
		}
		out := make([]row, 0, len(c.Parts))
		for _, p := range c.Parts {
			out = append(out, row{
				name:  c.Name + ":" + p,
				kind:  c.Kind,
				op:    opLE,
				left:  map[string]float64{p: 1},
				right: map[string]float64{c.Total: c.Share},
			})
		}
		return out, true

	case KindWinnerMargin:
		label, ok := s.Categorical[c.Winner]
		if !ok {
			return nil, false
		}
		home, away := c.Parts[0], c.Parts[1]
		r := row{name: c.Name, kind: c.Kind, left: map[string]float64{home: 1, away: -1}}
		homeLabel, awayLabel := orDefault(c.HomeLabel, "home"), orDefault(c.AwayLabel, "away")
		switch strings.ToLower(strings.TrimSpace(label)) {
		case homeLabel:
			r.op, r.constant = opGE, c.MinMargin
		case awayLabel:
			r.op, r.constant = opLE, -c.MinMargin
		case "tie":
			r.op = opEq
		default:
			return nil, false
		}
		return []row{r}, true
	}
	return nil, false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.ToLower(v)
}

// Severity classifies the size of a violation.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Classify maps a violation delta onto a severity band.
func Classify(delta float64) Severity {
	switch {
	case delta < 1:
		return SeverityMinor
	case delta <= 3:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// Violation is one unsatisfied constraint row.
type Violation struct {
	Constraint string   `json:"constraint"`
	Kind       Kind     `json:"kind"`
	Categories []string `json:"categories"`
	Actual     float64  `json:"actual"`
	Expected   float64  `json:"expected"`
	Delta      float64  `json:"delta"`
	Severity   Severity `json:"severity"`
}

func violations(rows []row, x map[string]float64, tol float64) []Violation {
	var out []Violation
	for _, r := range rows {
		left, right, d := r.delta(x)
		if d <= tol {
			continue
		}
		out = append(out, Violation{
			Constraint: r.name,
			Kind:       r.kind,
			Categories: r.categories(),
			Actual:     left,
			Expected:   right,
			Delta:      d,
			Severity:   Classify(d),
		})
	}
	return out
}
