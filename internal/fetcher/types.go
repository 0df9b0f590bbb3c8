package fetcher

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"collectionwatch/internal/detect"
)

// flexString accepts a JSON string or number and keeps the literal digits of numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// sourceRef is a marketplace source given either as a bare domain string or as an object.
type sourceRef struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
	URL    string `json:"url"`
}

func (s *sourceRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &s.Domain)
	}
	type plain sourceRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = sourceRef(p)
	return nil
}

func (s sourceRef) label() string {
	if s.Domain != "" {
		return s.Domain
	}
	return s.Name
}

type eventInfo struct {
	ID        flexString `json:"id"`
	Kind      string     `json:"kind"`
	CreatedAt string     `json:"createdAt"`
}

type floorAskResponse struct {
	Events []struct {
		FloorAsk struct {
			OrderID  string              `json:"orderId"`
			Contract string              `json:"contract"`
			TokenID  flexString          `json:"tokenId"`
			Maker    string              `json:"maker"`
			Price    decimal.NullDecimal `json:"price"`
			Source   sourceRef           `json:"source"`
		} `json:"floorAsk"`
		Event eventInfo `json:"event"`
	} `json:"events"`
}

type topBidResponse struct {
	Events []struct {
		TopBid struct {
			OrderID    string              `json:"orderId"`
			Contract   string              `json:"contract"`
			TokenSetID string              `json:"tokenSetId"`
			Maker      string              `json:"maker"`
			Price      decimal.NullDecimal `json:"price"`
			Source     sourceRef           `json:"source"`
		} `json:"topBid"`
		Event eventInfo `json:"event"`
	} `json:"events"`
}

type priceInfo struct {
	Amount struct {
		Native decimal.NullDecimal `json:"native"`
		USD    decimal.NullDecimal `json:"usd"`
	} `json:"amount"`
}

type asksResponse struct {
	Orders *[]struct {
		ID         string    `json:"id"`
		Contract   string    `json:"contract"`
		TokenSetID string    `json:"tokenSetId"`
		Maker      string    `json:"maker"`
		Price      priceInfo `json:"price"`
		Source     sourceRef `json:"source"`
		CreatedAt  string    `json:"createdAt"`
	} `json:"orders"`
}

type salesResponse struct {
	Sales *[]struct {
		SaleID      string     `json:"saleId"`
		TxHash      string     `json:"txHash"`
		Timestamp   flexString `json:"timestamp"`
		From        string     `json:"from"`
		To          string     `json:"to"`
		OrderSource string     `json:"orderSource"`
		Price       priceInfo  `json:"price"`
		Token       struct {
			Contract   string     `json:"contract"`
			TokenID    flexString `json:"tokenId"`
			Name       string     `json:"name"`
			Image      string     `json:"image"`
			Collection struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"collection"`
		} `json:"token"`
	} `json:"sales"`
}

type collectionInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	Slug  string `json:"slug"`
}

type tokensResponse struct {
	Tokens []struct {
		Token struct {
			Contract   string         `json:"contract"`
			TokenID    flexString     `json:"tokenId"`
			Name       string         `json:"name"`
			Image      string         `json:"image"`
			Owner      string         `json:"owner"`
			RarityRank *int           `json:"rarityRank"`
			Collection collectionInfo `json:"collection"`
			LastSell   struct {
				Value decimal.NullDecimal `json:"value"`
			} `json:"lastSell"`
		} `json:"token"`
	} `json:"tokens"`
}

type collectionsResponse struct {
	Collections []collectionInfo `json:"collections"`
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	if secs, err := decimal.NewFromString(raw); err == nil {
		return time.Unix(secs.IntPart(), 0).UTC()
	}
	return time.Time{}
}

func (r floorAskResponse) latest() detect.ScalarEvent {
	if len(r.Events) == 0 {
		return detect.ScalarEvent{}
	}
	ev := r.Events[0]
	return detect.ScalarEvent{
		ID:        string(ev.Event.ID),
		Price:     ev.FloorAsk.Price,
		Contract:  ev.FloorAsk.Contract,
		TokenID:   string(ev.FloorAsk.TokenID),
		Maker:     ev.FloorAsk.Maker,
		Source:    ev.FloorAsk.Source.label(),
		CreatedAt: parseTime(ev.Event.CreatedAt),
	}
}

func (r topBidResponse) latest() detect.ScalarEvent {
	if len(r.Events) == 0 {
		return detect.ScalarEvent{}
	}
	ev := r.Events[0]
	return detect.ScalarEvent{
		ID:        string(ev.Event.ID),
		Price:     ev.TopBid.Price,
		Contract:  ev.TopBid.Contract,
		Maker:     ev.TopBid.Maker,
		Source:    ev.TopBid.Source.label(),
		CreatedAt: parseTime(ev.Event.CreatedAt),
	}
}

func (r asksResponse) listings() []detect.Listing {
	out := make([]detect.Listing, 0, len(*r.Orders))
	for _, o := range *r.Orders {
		out = append(out, detect.Listing{
			ID:          o.ID,
			Contract:    o.Contract,
			TokenSetID:  o.TokenSetID,
			Maker:       o.Maker,
			PriceNative: o.Price.Amount.Native,
			PriceUSD:    o.Price.Amount.USD,
			SourceName:  o.Source.Name,
			SourceIcon:  o.Source.Icon,
			CreatedAt:   parseTime(o.CreatedAt),
		})
	}
	return out
}

func (r salesResponse) sales() []detect.Sale {
	out := make([]detect.Sale, 0, len(*r.Sales))
	for _, s := range *r.Sales {
		out = append(out, detect.Sale{
			ID:             s.SaleID,
			TxHash:         s.TxHash,
			Contract:       s.Token.Contract,
			TokenID:        string(s.Token.TokenID),
			TokenName:      s.Token.Name,
			TokenImage:     s.Token.Image,
			CollectionID:   s.Token.Collection.ID,
			CollectionName: s.Token.Collection.Name,
			OrderSource:    s.OrderSource,
			From:           s.From,
			To:             s.To,
			PriceNative:    s.Price.Amount.Native,
			PriceUSD:       s.Price.Amount.USD,
			Timestamp:      parseTime(string(s.Timestamp)),
		})
	}
	return out
}

func (r tokensResponse) first() (Token, bool) {
	if len(r.Tokens) == 0 {
		return Token{}, false
	}
	t := r.Tokens[0].Token
	tok := Token{
		Contract: t.Contract,
		TokenID:  string(t.TokenID),
		Name:     strings.TrimSpace(t.Name),
		Image:    t.Image,
		Owner:    t.Owner,
		LastSale: t.LastSell.Value,
		Collection: Collection{
			ID:    t.Collection.ID,
			Name:  t.Collection.Name,
			Image: t.Collection.Image,
			Slug:  t.Collection.Slug,
		},
	}
	if t.RarityRank != nil {
		tok.RarityRank = *t.RarityRank
	}
	return tok, true
}
