package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"collectionwatch/internal/detect"
)

// Key layout is "{category}{field}_{collection}", matching the names the bot has always used so
// an existing Redis keeps its state:
//
//	flooreventid_{c}  floorcooldown_{c}  floorprice_{c}
//	bideventid_{c}    bidcooldown_{c}    bidprice_{c}
//	listingsorderid_{c}  saleorderid_{c}  burnevent_{c}
const (
	fieldEventID  = "eventid"
	fieldCooldown = "cooldown"
	fieldPrice    = "price"
	fieldOrderID  = "orderid"
	fieldEvent    = "event"
)

var keyPrefix = map[detect.Category]string{
	detect.CategoryFloor:    "floor",
	detect.CategoryBid:      "bid",
	detect.CategoryListings: "listings",
	detect.CategorySales:    "sale",
	detect.CategoryBurn:     "burn",
}

// Key builds the store key for a category field of a collection.
func Key(cat detect.Category, field, collection string) string {
	prefix, ok := keyPrefix[cat]
	if !ok {
		prefix = string(cat)
	}
	return prefix + field + "_" + collection
}

func cursorField(cat detect.Category) string {
	if cat == detect.CategoryBurn {
		return fieldEvent
	}
	return fieldOrderID
}

// Keys lists every key the category uses for collection.
func Keys(cat detect.Category, collection string) []string {
	if cat.Scalar() {
		return []string{
			Key(cat, fieldEventID, collection),
			Key(cat, fieldCooldown, collection),
			Key(cat, fieldPrice, collection),
		}
	}
	return []string{Key(cat, cursorField(cat), collection)}
}

// State gives typed access to category state on top of a Store. Every call is bounded by the
// configured operation timeout.
type State struct {
	store     Store
	opTimeout time.Duration
}

// NewState wraps store; opTimeout <= 0 leaves calls bounded only by the caller's context.
func NewState(store Store, opTimeout time.Duration) *State {
	return &State{store: store, opTimeout: opTimeout}
}

func (s *State) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *State) get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Get(ctx, key)
}

func (s *State) set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Set(ctx, key, value, ttl)
}

func (s *State) del(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Delete(ctx, key)
}

// LoadScalar reads the last event id, last value and cooldown marker. A stored price that does not
// parse is treated as no baseline.
func (s *State) LoadScalar(ctx context.Context, cat detect.Category, collection string) (detect.ScalarState, error) {
	var st detect.ScalarState

	id, _, err := s.get(ctx, Key(cat, fieldEventID, collection))
	if err != nil {
		return st, err
	}
	st.LastEventID = id

	_, cooling, err := s.get(ctx, Key(cat, fieldCooldown, collection))
	if err != nil {
		return st, err
	}
	st.Cooling = cooling

	raw, ok, err := s.get(ctx, Key(cat, fieldPrice, collection))
	if err != nil {
		return st, err
	}
	if ok {
		if price, perr := decimal.NewFromString(raw); perr == nil {
			st.LastValue = decimal.NewNullDecimal(price)
		}
	}
	return st, nil
}

// CommitScalar persists the state after an alert was sent: event id, cooldown marker (when
// cooldown > 0) and last value. All writes are attempted; failures are joined.
func (s *State) CommitScalar(ctx context.Context, cat detect.Category, collection string, next detect.ScalarState, cooldown time.Duration) error {
	var errs []error
	if err := s.set(ctx, Key(cat, fieldEventID, collection), next.LastEventID, 0); err != nil {
		errs = append(errs, err)
	}
	if next.Cooling && cooldown > 0 {
		if err := s.set(ctx, Key(cat, fieldCooldown, collection), "true", cooldown); err != nil {
			errs = append(errs, err)
		}
	}
	if next.LastValue.Valid {
		if err := s.set(ctx, Key(cat, fieldPrice, collection), next.LastValue.Decimal.String(), 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cursor returns the last processed id of an ordered category, "" when none is stored.
func (s *State) Cursor(ctx context.Context, cat detect.Category, collection string) (string, error) {
	id, _, err := s.get(ctx, Key(cat, cursorField(cat), collection))
	return id, err
}

// SetCursor stores the last processed id of an ordered category.
func (s *State) SetCursor(ctx context.Context, cat detect.Category, collection, id string) error {
	return s.set(ctx, Key(cat, cursorField(cat), collection), id, 0)
}

// ClearCursor drops the stored id so the next pass bootstraps.
func (s *State) ClearCursor(ctx context.Context, cat detect.Category, collection string) error {
	return s.del(ctx, Key(cat, cursorField(cat), collection))
}

// Entry is one stored key as reported by Snapshot.
type Entry struct {
	Category detect.Category
	Key      string
	Value    string
	Present  bool
}

// Snapshot reads every key of the given categories for collection.
func (s *State) Snapshot(ctx context.Context, collection string, cats []detect.Category) ([]Entry, error) {
	entries := make([]Entry, 0, len(cats)*3)
	for _, cat := range cats {
		for _, key := range Keys(cat, collection) {
			value, ok, err := s.get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", key, err)
			}
			entries = append(entries, Entry{Category: cat, Key: key, Value: value, Present: ok})
		}
	}
	return entries, nil
}

// Reset deletes every key of the given categories for collection.
func (s *State) Reset(ctx context.Context, collection string, cats []detect.Category) error {
	var errs []error
	for _, cat := range cats {
		for _, key := range Keys(cat, collection) {
			if err := s.del(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// PurgeExpired drops expired keys when the backend keeps them until read. Backends that expire
// keys themselves report 0.
func (s *State) PurgeExpired(ctx context.Context) (int64, error) {
	purger, ok := s.store.(Purger)
	if !ok {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return purger.PurgeExpired(ctx)
}
