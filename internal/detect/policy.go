package detect

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy gates scalar-category alerts behind a cooldown window that a large enough value move
// can override.
type Policy struct {
	Cooldown         time.Duration
	OverrideFraction decimal.Decimal
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Emit bool
	// Overridden is set when an active cooldown was bypassed by the magnitude rule.
	Overridden bool
	// Baseline is false when there was no previous value to compare against.
	Baseline bool
	// Ratio is last/fresh, zero when there is no baseline.
	Ratio decimal.Decimal
}

var one = decimal.NewFromInt(1)

// Decide returns whether a change to fresh should be alerted given the last alerted value and
// whether a cooldown marker is present.
func (p Policy) Decide(fresh decimal.Decimal, last decimal.NullDecimal, cooling bool) Decision {
	if !last.Valid {
		return Decision{Emit: true}
	}

	d := Decision{Baseline: true}
	exceeds := false
	if fresh.IsZero() {
		// last/0 is unbounded in either direction
		exceeds = !last.Decimal.IsZero()
	} else {
		d.Ratio = last.Decimal.Div(fresh)
		upper := one.Add(p.OverrideFraction)
		lower := one.Sub(p.OverrideFraction)
		exceeds = d.Ratio.GreaterThan(upper) || d.Ratio.LessThan(lower)
	}

	if cooling && exceeds {
		d.Overridden = true
		cooling = false
	}
	d.Emit = !cooling
	return d
}
