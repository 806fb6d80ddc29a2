package odds

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

// Format records how a price was quoted, so payouts use the exact quoted terms.
type Format string

const (
	FormatAmerican Format = "american"
	FormatDecimal  Format = "decimal"
	FormatEven     Format = "even"
)

var hundred = decimal.NewFromInt(100)

// Odds is a parsed betting price.
type Odds struct {
	format   Format
	american decimal.Decimal
	dec      decimal.Decimal
}

// Parse reads American ("+150", "-110", "150"), "EVEN"/"EV" and decimal
// ("2.5") prices. Unsigned values of 100 or more are American; unsigned
// values below 100 are decimal.
func Parse(raw string) (Odds, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "":
		return Odds{}, fmt.Errorf("empty odds: %w", model.ErrValidation)
	case "EVEN", "EV", "EVENS":
		return Odds{format: FormatEven, american: hundred, dec: decimal.NewFromInt(2)}, nil
	}

	v, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return Odds{}, fmt.Errorf("odds %q: %w", raw, model.ErrValidation)
	}
	signed := strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-")
	if signed || v.GreaterThanOrEqual(hundred) {
		return FromAmerican(v)
	}
	return FromDecimal(v)
}

// FromAmerican builds odds from an American price.
func FromAmerican(v decimal.Decimal) (Odds, error) {
	if v.IsZero() {
		return Odds{}, fmt.Errorf("american odds of zero: %w", model.ErrComputation)
	}
	if v.Abs().LessThan(hundred) {
		return Odds{}, fmt.Errorf("american odds %s must have magnitude >= 100: %w", v, model.ErrValidation)
	}
	var dec decimal.Decimal
	if v.IsPositive() {
		dec = decimal.NewFromInt(1).Add(v.Div(hundred))
	} else {
		dec = decimal.NewFromInt(1).Add(hundred.Div(v.Abs()))
	}
	return Odds{format: FormatAmerican, american: v, dec: dec}, nil
}

// FromDecimal builds odds from a decimal price.
func FromDecimal(v decimal.Decimal) (Odds, error) {
	if v.LessThanOrEqual(decimal.NewFromInt(1)) {
		return Odds{}, fmt.Errorf("decimal odds %s must be > 1: %w", v, model.ErrComputation)
	}
	var american decimal.Decimal
	b := v.Sub(decimal.NewFromInt(1))
	if b.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		american = b.Mul(hundred)
	} else {
		american = hundred.Div(b).Neg()
	}
	return Odds{format: FormatDecimal, american: american, dec: v}, nil
}

func (o Odds) Format() Format { return o.format }

// Decimal returns the decimal price (stake included).
func (o Odds) Decimal() float64 {
	f, _ := o.dec.Float64()
	return f
}

// American returns the American price.
func (o Odds) American() float64 {
	f, _ := o.american.Float64()
	return f
}

// ImpliedProbability is 1/decimal.
func (o Odds) ImpliedProbability() float64 {
	d := o.Decimal()
	if d <= 0 {
		return math.NaN()
	}
	return 1 / d
}

// Profit returns the net winnings on stake, excluding the returned stake.
func (o Odds) Profit(stake decimal.Decimal) decimal.Decimal {
	switch o.format {
	case FormatEven:
		return stake
	case FormatAmerican:
		if o.american.IsPositive() {
			return stake.Mul(o.american).Div(hundred)
		}
		return stake.Mul(hundred).Div(o.american.Abs())
	default:
		return stake.Mul(o.dec.Sub(decimal.NewFromInt(1)))
	}
}

// String renders the odds in their quoted format.
func (o Odds) String() string {
	switch o.format {
	case FormatEven:
		return "EVEN"
	case FormatDecimal:
		return o.dec.String()
	default:
		if o.american.IsPositive() {
			return "+" + o.american.String()
		}
		return o.american.String()
	}
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(raw string) Odds {
	o, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return o
}
