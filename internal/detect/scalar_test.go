package detect

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func floorEvent(id, price string) ScalarEvent {
	return ScalarEvent{
		ID:        id,
		Price:     decimal.NewNullDecimal(decimal.RequireFromString(price)),
		TokenID:   "7",
		Source:    "opensea.io",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestScalarUnchangedIsNoop(t *testing.T) {
	d := ScalarDetector{Category: CategoryFloor, Policy: testPolicy()}
	ev, err := d.Evaluate(floorEvent("42", "1.5"), ScalarState{LastEventID: "42", LastValue: last("1.5")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Outcome != Unchanged {
		t.Fatalf("outcome = %s, want unchanged", ev.Outcome)
	}
}

func TestScalarNumericIDMatch(t *testing.T) {
	d := ScalarDetector{Category: CategoryFloor, Policy: testPolicy()}
	ev, err := d.Evaluate(floorEvent("042", "1.5"), ScalarState{LastEventID: "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Outcome != Unchanged {
		t.Fatalf("numeric ids should compare equal, got %s", ev.Outcome)
	}
}

func TestScalarSuppressedWhileCooling(t *testing.T) {
	d := ScalarDetector{Category: CategoryFloor, Policy: testPolicy()}
	st := ScalarState{LastEventID: "41", LastValue: last("100"), Cooling: true}
	ev, err := d.Evaluate(floorEvent("42", "105"), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Outcome != Suppressed {
		t.Fatalf("outcome = %s, want suppressed", ev.Outcome)
	}

	// the same event is evaluated again next cycle and stays suppressed
	again, _ := d.Evaluate(floorEvent("42", "105"), st)
	if again.Outcome != Suppressed {
		t.Fatalf("re-evaluation outcome = %s, want suppressed", again.Outcome)
	}

	st.Cooling = false
	cleared, _ := d.Evaluate(floorEvent("42", "105"), st)
	if cleared.Outcome != Emit {
		t.Fatalf("after cooldown clears outcome = %s, want emit", cleared.Outcome)
	}
}

func TestScalarIncompleteFloor(t *testing.T) {
	d := ScalarDetector{Category: CategoryFloor, Policy: testPolicy()}
	ev := floorEvent("42", "1")
	ev.Source = ""
	ev.Price = decimal.NullDecimal{}
	if _, err := d.Evaluate(ev, ScalarState{}); !errors.Is(err, ErrIncompleteData) {
		t.Fatalf("expected ErrIncompleteData, got %v", err)
	}
}

func TestScalarBidRequiresMaker(t *testing.T) {
	d := ScalarDetector{Category: CategoryBid, Policy: testPolicy()}
	ev := ScalarEvent{ID: "9", Price: last("2")}
	if _, err := d.Evaluate(ev, ScalarState{}); !errors.Is(err, ErrIncompleteData) {
		t.Fatalf("bid without maker should be incomplete, got %v", err)
	}
	ev.Maker = "0xabc"
	res, err := d.Evaluate(ev, ScalarState{})
	if err != nil || res.Outcome != Emit {
		t.Fatalf("first bid should emit, got %s err=%v", res.Outcome, err)
	}
}

func TestScalarNext(t *testing.T) {
	d := ScalarDetector{Category: CategoryFloor, Policy: testPolicy()}
	next := d.Next(floorEvent("43", "2.5"))
	if next.LastEventID != "43" || !next.LastValue.Valid || !next.LastValue.Decimal.Equal(decimal.RequireFromString("2.5")) || !next.Cooling {
		t.Fatalf("unexpected next state %+v", next)
	}
}
