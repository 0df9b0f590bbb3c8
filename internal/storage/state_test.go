package storage

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"collectionwatch/internal/detect"
)

const testCollection = "0x659A4BdaAaCc62d2bd9Cb18225D9C89b5B697A5A"

func TestKeyLayout(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{Key(detect.CategoryFloor, fieldEventID, testCollection), "flooreventid_" + testCollection},
		{Key(detect.CategoryBid, fieldCooldown, testCollection), "bidcooldown_" + testCollection},
		{Keys(detect.CategoryFloor, testCollection)[2], "floorprice_" + testCollection},
		{Keys(detect.CategoryListings, testCollection)[0], "listingsorderid_" + testCollection},
		{Keys(detect.CategorySales, testCollection)[0], "saleorderid_" + testCollection},
		{Keys(detect.CategoryBurn, testCollection)[0], "burnevent_" + testCollection},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("key = %s, want %s", tc.got, tc.want)
		}
	}
}

func TestScalarRoundTripAndCooldownExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mem := NewMemoryStore().WithClock(func() time.Time { return now })
	state := NewState(mem, time.Second)
	ctx := context.Background()

	empty, err := state.LoadScalar(ctx, detect.CategoryFloor, testCollection)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if empty.LastEventID != "" || empty.LastValue.Valid || empty.Cooling {
		t.Fatalf("expected empty state, got %+v", empty)
	}

	next := detect.ScalarState{LastEventID: "42", LastValue: decimal.NewNullDecimal(decimal.RequireFromString("1.25")), Cooling: true}
	if err := state.CommitScalar(ctx, detect.CategoryFloor, testCollection, next, 30*time.Minute); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loaded, err := state.LoadScalar(ctx, detect.CategoryFloor, testCollection)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LastEventID != "42" || !loaded.Cooling || !loaded.LastValue.Decimal.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected state %+v", loaded)
	}

	now = now.Add(31 * time.Minute)
	cooled, _ := state.LoadScalar(ctx, detect.CategoryFloor, testCollection)
	if cooled.Cooling {
		t.Fatal("cooldown marker should have expired")
	}
	if cooled.LastEventID != "42" {
		t.Fatal("event id must not expire")
	}
}

func TestCorruptPriceMeansNoBaseline(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, Key(detect.CategoryBid, fieldPrice, testCollection), "NaN-ish", 0)
	st, err := NewState(mem, 0).LoadScalar(ctx, detect.CategoryBid, testCollection)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.LastValue.Valid {
		t.Fatal("corrupt price should load as no baseline")
	}
}

func TestCursorLifecycle(t *testing.T) {
	state := NewState(NewMemoryStore(), 0)
	ctx := context.Background()

	if err := state.SetCursor(ctx, detect.CategorySales, testCollection, "sale-9"); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	got, err := state.Cursor(ctx, detect.CategorySales, testCollection)
	if err != nil || got != "sale-9" {
		t.Fatalf("cursor = %q, %v", got, err)
	}
	if other, _ := state.Cursor(ctx, detect.CategoryBurn, testCollection); other != "" {
		t.Fatalf("burn cursor must be independent, got %q", other)
	}
	if err := state.ClearCursor(ctx, detect.CategorySales, testCollection); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := state.Cursor(ctx, detect.CategorySales, testCollection); got != "" {
		t.Fatalf("cursor should be cleared, got %q", got)
	}
}

func TestSnapshotAndReset(t *testing.T) {
	state := NewState(NewMemoryStore(), 0)
	ctx := context.Background()
	_ = state.SetCursor(ctx, detect.CategoryListings, testCollection, "order-1")

	entries, err := state.Snapshot(ctx, testCollection, []detect.Category{detect.CategoryListings, detect.CategoryBid})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if !entries[0].Present || entries[0].Value != "order-1" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}

	if err := state.Reset(ctx, testCollection, []detect.Category{detect.CategoryListings}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	after, _ := state.Snapshot(ctx, testCollection, []detect.Category{detect.CategoryListings})
	if !reflect.DeepEqual(after, []Entry{{Category: detect.CategoryListings, Key: "listingsorderid_" + testCollection}}) {
		t.Fatalf("unexpected entries after reset %+v", after)
	}
}

func TestPurgeExpiredDropsOnlyExpiredKeys(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mem := NewMemoryStore().WithClock(func() time.Time { return now })
	state := NewState(mem, time.Second)
	ctx := context.Background()

	next := detect.ScalarState{LastEventID: "7", LastValue: decimal.NewNullDecimal(decimal.RequireFromString("3")), Cooling: true}
	if err := state.CommitScalar(ctx, detect.CategoryBid, testCollection, next, time.Minute); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if n, err := state.PurgeExpired(ctx); err != nil || n != 0 {
		t.Fatalf("nothing expired yet: n=%d err=%v", n, err)
	}

	now = now.Add(2 * time.Minute)
	n, err := state.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 || mem.Len() != 2 {
		t.Fatalf("purged %d, %d keys left; want 1 purged and 2 left", n, mem.Len())
	}
}
