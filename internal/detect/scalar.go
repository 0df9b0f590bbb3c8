package detect

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScalarEvent is the freshest floor-ask or top-bid event for a collection.
type ScalarEvent struct {
	ID        string
	Price     decimal.NullDecimal
	Contract  string
	TokenID   string
	Maker     string
	Source    string
	CreatedAt time.Time
}

// ScalarState is the persisted state of a scalar category for one collection.
type ScalarState struct {
	LastEventID string
	LastValue   decimal.NullDecimal
	Cooling     bool
}

// Outcome classifies a scalar evaluation.
type Outcome int

const (
	// Unchanged means the fresh event was already alerted.
	Unchanged Outcome = iota
	// Suppressed means the event is new but held back by an active cooldown.
	Suppressed
	// Emit means the event should be alerted and, once sent, committed.
	Emit
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Suppressed:
		return "suppressed"
	case Emit:
		return "emit"
	}
	return "unknown"
}

// Evaluation is the result of ScalarDetector.Evaluate.
type Evaluation struct {
	Outcome  Outcome
	Decision Decision
}

// ScalarDetector evaluates floor and top-bid changes.
type ScalarDetector struct {
	Category Category
	Policy   Policy
}

// Validate checks that ev carries what the category needs.
func (d ScalarDetector) Validate(ev ScalarEvent) error {
	var missing []string
	if ev.ID == "" {
		missing = append(missing, "event id")
	}
	if !ev.Price.Valid {
		missing = append(missing, "price")
	}
	switch d.Category {
	case CategoryFloor:
		if ev.TokenID == "" {
			missing = append(missing, "token id")
		}
		if ev.Source == "" {
			missing = append(missing, "source")
		}
		if ev.CreatedAt.IsZero() {
			missing = append(missing, "created at")
		}
	case CategoryBid:
		if ev.Maker == "" {
			missing = append(missing, "maker")
		}
	}
	if len(missing) > 0 {
		return Incomplete(string(d.Category)+" event", missing...)
	}
	return nil
}

// Evaluate decides what to do with ev given the stored state. It never mutates state; on Emit the
// caller sends the alert and then persists Next(ev).
func (d ScalarDetector) Evaluate(ev ScalarEvent, st ScalarState) (Evaluation, error) {
	if err := d.Validate(ev); err != nil {
		return Evaluation{}, err
	}
	if st.LastEventID != "" && sameEventID(ev.ID, st.LastEventID) {
		return Evaluation{Outcome: Unchanged}, nil
	}

	decision := d.Policy.Decide(ev.Price.Decimal, st.LastValue, st.Cooling)
	if !decision.Emit {
		return Evaluation{Outcome: Suppressed, Decision: decision}, nil
	}
	return Evaluation{Outcome: Emit, Decision: decision}, nil
}

// Next is the state to persist after ev has been alerted.
func (d ScalarDetector) Next(ev ScalarEvent) ScalarState {
	return ScalarState{
		LastEventID: ev.ID,
		LastValue:   ev.Price,
		Cooling:     d.Policy.Cooldown > 0,
	}
}

// sameEventID compares ids numerically when both parse as decimals, so "0042" and "42" match.
func sameEventID(a, b string) bool {
	if a == b {
		return true
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}
