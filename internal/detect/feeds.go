package detect

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BurnAddress is the null address tokens are sent to when burned.
var BurnAddress = common.Address{}

// Listing is one active ask from the listings feed.
type Listing struct {
	ID          string
	Contract    string
	TokenSetID  string
	Maker       string
	PriceNative decimal.NullDecimal
	PriceUSD    decimal.NullDecimal
	SourceName  string
	SourceIcon  string
	CreatedAt   time.Time
}

// Sale is one fill from the sales feed. Burns are sales whose recipient is the burn address.
type Sale struct {
	ID             string
	TxHash         string
	Contract       string
	TokenID        string
	TokenName      string
	TokenImage     string
	CollectionID   string
	CollectionName string
	OrderSource    string
	From           string
	To             string
	PriceNative    decimal.NullDecimal
	PriceUSD       decimal.NullDecimal
	Timestamp      time.Time
}

// ListingFeed collapses consecutive listings on the same token set, which is how one item listed
// on several marketplaces shows up.
var ListingFeed = Feed[Listing]{
	ID:    func(l Listing) string { return l.ID },
	Group: func(l Listing) string { return l.TokenSetID },
}

// SaleFeed reconciles sales and burns by sale id.
var SaleFeed = Feed[Sale]{
	ID: func(s Sale) string { return s.ID },
}

// MissingDisplay lists the listing fields an alert cannot be rendered without.
func (l Listing) MissingDisplay() []string {
	var missing []string
	if l.SourceName == "" {
		missing = append(missing, "source name")
	}
	if l.SourceIcon == "" {
		missing = append(missing, "source icon")
	}
	if l.TokenSetID == "" {
		missing = append(missing, "token set id")
	}
	return missing
}

// MissingDisplay lists the sale fields an alert cannot be rendered without.
func (s Sale) MissingDisplay() []string {
	var missing []string
	if s.OrderSource == "" {
		missing = append(missing, "order source")
	}
	if s.TokenName == "" {
		missing = append(missing, "token name")
	}
	if s.TokenImage == "" {
		missing = append(missing, "token image")
	}
	return missing
}

// IsBurn reports whether the sale sent the token to burn.
func (s Sale) IsBurn(burn common.Address) bool {
	if !common.IsHexAddress(s.To) {
		return false
	}
	return common.HexToAddress(s.To) == burn
}

// Burns keeps, in order, the sales that transferred to burn. Entries without a sale id cannot be
// tracked and are dropped.
func Burns(sales []Sale, burn common.Address) []Sale {
	out := make([]Sale, 0, len(sales))
	for _, s := range sales {
		if s.ID == "" || !s.IsBurn(burn) {
			continue
		}
		out = append(out, s)
	}
	return out
}
