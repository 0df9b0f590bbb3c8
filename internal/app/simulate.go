package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"collectionwatch/internal/detect"
	"collectionwatch/internal/fetcher"
	"collectionwatch/internal/service"
	"collectionwatch/internal/storage"
)

const (
	simulatedPrevious = "simulated-0"
	simulatedLatest   = "simulated-1"
)

// SimulateOptions configure a synthetic alert.
type SimulateOptions struct {
	Category   detect.Category
	Collection string
	Price      decimal.Decimal
}

// SimulateAlert pushes one synthetic alert of the given category through the real detection and
// rendering path to the configured channels. State lives in memory and is discarded.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	collection := opts.Collection
	if collection == "" {
		tracked := a.Config.TrackedCollections()
		if len(tracked) == 0 {
			return errors.New("no collection configured")
		}
		collection = tracked[0]
	}
	if opts.Price.IsZero() {
		opts.Price = decimal.NewFromInt(1)
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	state := storage.NewState(storage.NewMemoryStore(), a.Config.State.OpTimeout)
	if !opts.Category.Scalar() {
		if err := state.SetCursor(ctx, opts.Category, collection, simulatedPrevious); err != nil {
			return err
		}
	}

	pollOpts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return err
	}
	pollOpts.Collections = []string{collection}
	pollOpts.Categories = map[detect.Category]bool{opts.Category: true}
	pollOpts.Workers = 1

	src := newStaticSource(collection, opts.Category, opts.Price, a.Config.BurnAddress().Hex())
	report := service.New(pollOpts, nil, src, state, notifier, a.Logger).RunCycle(ctx)
	if report.Alerts == 0 {
		return fmt.Errorf("simulated %s alert was not delivered; see logs", opts.Category)
	}
	a.Logger.Info().Str("category", opts.Category.String()).Str("collection", collection).Msg("simulated alert sent")
	return nil
}

// staticSource serves one synthetic event per category.
type staticSource struct {
	collection string
	category   detect.Category
	price      decimal.NullDecimal
	burn       string
	at         time.Time
}

func newStaticSource(collection string, cat detect.Category, price decimal.Decimal, burn string) *staticSource {
	return &staticSource{
		collection: collection,
		category:   cat,
		price:      decimal.NewNullDecimal(price),
		burn:       burn,
		at:         time.Now().UTC(),
	}
}

func (s *staticSource) scalar() detect.ScalarEvent {
	return detect.ScalarEvent{
		ID:        simulatedLatest,
		Price:     s.price,
		Contract:  s.collection,
		TokenID:   "1",
		Maker:     s.burn,
		Source:    "reservoir.tools",
		CreatedAt: s.at,
	}
}

func (s *staticSource) LatestFloorAsk(context.Context, string) (detect.ScalarEvent, error) {
	return s.scalar(), nil
}

func (s *staticSource) LatestTopBid(context.Context, string) (detect.ScalarEvent, error) {
	return s.scalar(), nil
}

func (s *staticSource) Listings(context.Context, string, int) ([]detect.Listing, error) {
	mk := func(id string) detect.Listing {
		return detect.Listing{
			ID:          id,
			Contract:    s.collection,
			TokenSetID:  "token:" + s.collection + ":" + id,
			Maker:       s.burn,
			PriceNative: s.price,
			SourceName:  "Simulation",
			SourceIcon:  "https://reservoir.tools/favicon.ico",
			CreatedAt:   s.at,
		}
	}
	return []detect.Listing{mk(simulatedLatest), mk(simulatedPrevious)}, nil
}

func (s *staticSource) Sales(context.Context, string, int) ([]detect.Sale, error) {
	to := "0x000000000000000000000000000000000000dEaD"
	if s.category == detect.CategoryBurn {
		to = s.burn
	}
	mk := func(id string) detect.Sale {
		return detect.Sale{
			ID:             id,
			TxHash:         "0x" + id,
			Contract:       s.collection,
			TokenID:        "1",
			TokenName:      "Simulated Token",
			TokenImage:     "https://reservoir.tools/favicon.ico",
			CollectionID:   s.collection,
			CollectionName: "Simulated Collection",
			OrderSource:    "reservoir.tools",
			From:           s.collection,
			To:             to,
			PriceNative:    s.price,
			Timestamp:      s.at,
		}
	}
	return []detect.Sale{mk(simulatedLatest), mk(simulatedPrevious)}, nil
}

func (s *staticSource) Token(_ context.Context, contract, tokenID string) (fetcher.Token, error) {
	return fetcher.Token{
		Contract:   contract,
		TokenID:    tokenID,
		Name:       "Simulated Token",
		Image:      "https://reservoir.tools/favicon.ico",
		Owner:      s.burn,
		Collection: s.collectionMeta(),
	}, nil
}

func (s *staticSource) TokenSet(ctx context.Context, tokenSetID string) (fetcher.Token, error) {
	return s.Token(ctx, s.collection, "1")
}

func (s *staticSource) Collection(context.Context, string) (fetcher.Collection, error) {
	return s.collectionMeta(), nil
}

func (s *staticSource) collectionMeta() fetcher.Collection {
	return fetcher.Collection{
		ID:    s.collection,
		Name:  "Simulated Collection",
		Image: "https://reservoir.tools/favicon.ico",
	}
}

var _ fetcher.Source = (*staticSource)(nil)
