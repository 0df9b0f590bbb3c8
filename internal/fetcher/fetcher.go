package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"collectionwatch/internal/detect"
)

var (
	// ErrUpstream wraps every failed marketplace API call.
	ErrUpstream = errors.New("upstream error")
	// ErrRateLimited is returned once rate-limit retries are exhausted. It always comes wrapped
	// together with ErrUpstream.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned by metadata lookups that matched nothing.
	ErrNotFound = errors.New("not found")
)

// EventSource fetches the event data the detectors compare against stored state.
type EventSource interface {
	// LatestFloorAsk returns the newest floor-ask event; a zero event when the feed is empty.
	LatestFloorAsk(ctx context.Context, collection string) (detect.ScalarEvent, error)
	// LatestTopBid returns the newest top-bid event; a zero event when the feed is empty.
	LatestTopBid(ctx context.Context, collection string) (detect.ScalarEvent, error)
	// Listings returns up to limit active asks, newest first.
	Listings(ctx context.Context, collection string, limit int) ([]detect.Listing, error)
	// Sales returns up to limit sales, newest first.
	Sales(ctx context.Context, collection string, limit int) ([]detect.Sale, error)
}

// MetadataSource resolves display data for alerts.
type MetadataSource interface {
	Token(ctx context.Context, contract, tokenID string) (Token, error)
	TokenSet(ctx context.Context, tokenSetID string) (Token, error)
	Collection(ctx context.Context, id string) (Collection, error)
}

// Source is the full marketplace client surface.
type Source interface {
	EventSource
	MetadataSource
}

// Collection is collection-level display metadata.
type Collection struct {
	ID    string
	Name  string
	Image string
	Slug  string
}

// Token is token-level display metadata.
type Token struct {
	Contract   string
	TokenID    string
	Name       string
	Image      string
	Owner      string
	RarityRank int
	LastSale   decimal.NullDecimal
	Collection Collection
}
