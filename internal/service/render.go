package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"collectionwatch/internal/alerting"
	"collectionwatch/internal/detect"
	"collectionwatch/internal/fetcher"
)

const (
	colorMarket = 0x8b43e0
	colorSale   = 0x808080
	colorBurn   = 0xff4500

	reservoirRedirect = "https://api.reservoir.tools/redirect/sources"
	marketplaceURL    = "https://forgotten.market"
	collectionURL     = "https://www.reservoir.market/collections"
	addressURL        = "https://www.reservoir.market/address"
	explorerTxURL     = "https://etherscan.io/tx"

	unknownToken      = "Unknown Token"
	unknownCollection = "Unknown Collection"
)

// renderer turns detected events into alerts, looking up display metadata where the event alone
// is not enough.
type renderer struct {
	meta fetcher.MetadataSource
	now  func() time.Time
}

func eth(v decimal.NullDecimal) string {
	if !v.Valid {
		return "N/A"
	}
	return v.Decimal.String() + "Ξ"
}

func usd(v decimal.NullDecimal) string {
	if !v.Valid {
		return "N/A"
	}
	return "$" + v.Decimal.StringFixed(2)
}

func short(addr string) string {
	if len(addr) <= 6 {
		return addr
	}
	return addr[:6]
}

func (r renderer) floor(ctx context.Context, collection string, ev detect.ScalarEvent) (alerting.Alert, error) {
	contract := ev.Contract
	if contract == "" {
		contract = collection
	}
	tok, err := r.meta.Token(ctx, contract, ev.TokenID)
	if err != nil {
		return alerting.Alert{}, fmt.Errorf("floor token: %w", err)
	}

	var missing []string
	if tok.Name == "" {
		missing = append(missing, "token name")
	}
	if tok.Owner == "" {
		missing = append(missing, "owner")
	}
	if tok.Collection.ID == "" {
		missing = append(missing, "collection")
	}
	if len(missing) > 0 {
		return alerting.Alert{}, detect.Incomplete("floor token", missing...)
	}

	lastSale := "N/A"
	if tok.LastSale.Valid {
		lastSale = eth(tok.LastSale)
	}
	rarity := "N/A"
	if tok.RarityRank > 0 {
		rarity = fmt.Sprintf("%d", tok.RarityRank)
	}

	return alerting.Alert{
		Category:   detect.CategoryFloor,
		Collection: collection,
		Title:      "New Floor Listing!",
		Author:     tok.Collection.Name,
		AuthorIcon: tok.Collection.Image,
		Description: []string{
			fmt.Sprintf("%s is now the floor token, listed for %s by %s", tok.Name, eth(ev.Price), short(tok.Owner)),
			"Last Sale: " + lastSale,
			"Rarity Rank: " + rarity,
		},
		Fields:    []alerting.Field{{Name: "Owner", Value: addressURL + "/" + tok.Owner}},
		Image:     tok.Image,
		URL:       fmt.Sprintf("%s/%s/tokens/%s/link/v2", reservoirRedirect, ev.Source, url.PathEscape(tok.Collection.ID+":"+tok.TokenID)),
		LinkLabel: "Purchase",
		Color:     colorMarket,
		Timestamp: ev.CreatedAt,
	}, nil
}

func (r renderer) bid(ctx context.Context, collection string, ev detect.ScalarEvent) (alerting.Alert, error) {
	coll, err := r.meta.Collection(ctx, collection)
	if err != nil {
		return alerting.Alert{}, fmt.Errorf("bid collection: %w", err)
	}
	if coll.Name == "" {
		return alerting.Alert{}, detect.Incomplete("bid collection", "name")
	}

	contract := ev.Contract
	if contract == "" {
		contract = collection
	}
	return alerting.Alert{
		Category:    detect.CategoryBid,
		Collection:  collection,
		Title:       "New Top Bid!",
		Author:      coll.Name,
		AuthorIcon:  coll.Image,
		Description: []string{fmt.Sprintf("The top bid on the collection just changed to %s made by %s", eth(ev.Price), short(ev.Maker))},
		Fields:      []alerting.Field{{Name: "Bidder", Value: addressURL + "/" + ev.Maker}},
		Thumbnail:   coll.Image,
		URL:         collectionURL + "/" + contract,
		LinkLabel:   "Accept offer",
		Color:       colorMarket,
		Timestamp:   r.now(),
	}, nil
}

func (r renderer) listing(ctx context.Context, collection string, l detect.Listing) (alerting.Alert, error) {
	if missing := l.MissingDisplay(); len(missing) > 0 {
		return alerting.Alert{}, detect.Incomplete("listing "+l.ID, missing...)
	}
	tok, err := r.meta.TokenSet(ctx, l.TokenSetID)
	if err != nil {
		return alerting.Alert{}, fmt.Errorf("listing token: %w", err)
	}

	var missing []string
	if tok.Name == "" {
		missing = append(missing, "token name")
	}
	if tok.Image == "" {
		missing = append(missing, "token image")
	}
	if tok.Collection.Name == "" {
		missing = append(missing, "collection name")
	}
	if tok.Collection.Image == "" {
		missing = append(missing, "collection image")
	}
	if len(missing) > 0 {
		return alerting.Alert{}, detect.Incomplete("listing "+l.ID+" token", missing...)
	}

	return alerting.Alert{
		Category:   detect.CategoryListings,
		Collection: collection,
		Title:      tok.Name + " has been listed!",
		Author:     tok.Collection.Name,
		AuthorIcon: tok.Collection.Image,
		Description: []string{
			"Item: " + tok.Name,
			fmt.Sprintf("Price: %s (%s)", eth(l.PriceNative), usd(l.PriceUSD)),
			"From: " + l.Maker,
		},
		Thumbnail:  tok.Image,
		Footer:     l.SourceName,
		FooterIcon: l.SourceIcon,
		URL:        fmt.Sprintf("%s/%s/%s", marketplaceURL, tok.Contract, tok.TokenID),
		LinkLabel:  "Purchase",
		Color:      colorMarket,
		Timestamp:  r.now(),
	}, nil
}

func (r renderer) sale(ctx context.Context, collection string, s detect.Sale) (alerting.Alert, error) {
	if missing := s.MissingDisplay(); len(missing) > 0 {
		return alerting.Alert{}, detect.Incomplete("sale "+s.ID, missing...)
	}
	contract := s.Contract
	if contract == "" {
		contract = collection
	}
	coll, err := r.meta.Collection(ctx, contract)
	if err != nil {
		return alerting.Alert{}, fmt.Errorf("sale collection: %w", err)
	}
	if coll.Name == "" || coll.Image == "" {
		return alerting.Alert{}, detect.Incomplete("sale "+s.ID+" collection", "name or image")
	}

	author := s.CollectionName
	if author == "" {
		author = unknownCollection
	}
	return alerting.Alert{
		Category:   detect.CategorySales,
		Collection: collection,
		Title:      s.TokenName + " has been sold!",
		Author:     author,
		AuthorIcon: coll.Image,
		Description: []string{
			"Item: " + s.TokenName,
			fmt.Sprintf("Price: %s (%s)", eth(s.PriceNative), usd(s.PriceUSD)),
			"Buyer: " + s.To,
			"Seller: " + s.From,
		},
		Thumbnail:  s.TokenImage,
		Footer:     s.OrderSource,
		FooterIcon: fmt.Sprintf("%s/%s/logo/v2", reservoirRedirect, s.OrderSource),
		URL:        explorerTxURL + "/" + s.TxHash,
		LinkLabel:  "View Sale",
		Color:      colorSale,
		Timestamp:  timestampOr(s.Timestamp, r.now),
	}, nil
}

// burn never fails: missing names fall back to placeholders.
func (r renderer) burn(_ context.Context, collection string, s detect.Sale) (alerting.Alert, error) {
	name := strings.TrimSpace(s.TokenName)
	if name == "" {
		name = unknownToken
	}
	collName := strings.TrimSpace(s.CollectionName)
	if collName == "" {
		collName = unknownCollection
	}
	return alerting.Alert{
		Category:    detect.CategoryBurn,
		Collection:  collection,
		Title:       name + " has been burned!",
		Description: []string{fmt.Sprintf("A token from the collection **%s** has been sent to the burn address.", collName)},
		Fields: []alerting.Field{
			{Name: "Price", Value: fmt.Sprintf("%s (%s)", eth(s.PriceNative), usd(s.PriceUSD)), Inline: true},
			{Name: "Transaction", Value: explorerTxURL + "/" + s.TxHash, Inline: true},
		},
		Thumbnail: s.TokenImage,
		Footer:    "Token Burn Event",
		URL:       explorerTxURL + "/" + s.TxHash,
		LinkLabel: "View Burn Transaction",
		Color:     colorBurn,
		Timestamp: timestampOr(s.Timestamp, r.now),
	}, nil
}

// restartNotice is posted when an ordered category starts tracking a collection from scratch.
func restartNotice(cat detect.Category, collection string, now time.Time) alerting.Alert {
	noun := "listings"
	bot := "listing"
	if cat == detect.CategorySales {
		noun, bot = "sales", "sales"
	}
	return alerting.Alert{
		Category:   cat,
		Collection: collection,
		Description: []string{
			fmt.Sprintf("Restarting %s bot for contract %s, new %s will begin to populate from here...", bot, collection, noun),
		},
		Timestamp: now,
	}
}

func timestampOr(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t
}
