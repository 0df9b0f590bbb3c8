package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestClient(url string, retries int) *Reservoir {
	r := NewReservoir(Options{
		BaseURL:     url,
		APIKey:      "secret",
		Timeout:     time.Second,
		UserAgent:   "test",
		MaxRetries:  retries,
		BackoffBase: time.Millisecond,
	}, noopLogger())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func serveJSON(t *testing.T, path, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestLatestFloorAsk(t *testing.T) {
	srv := serveJSON(t, floorAskPath, `{"events":[{
		"floorAsk":{"orderId":"0xabc","contract":"0x659a","tokenId":"42","maker":"0xmaker","price":1.25,"source":"opensea.io"},
		"event":{"id":123456789012,"kind":"new-order","createdAt":"2024-03-01T10:00:00.000Z"}}]}`)
	defer srv.Close()

	ev, err := newTestClient(srv.URL, 0).LatestFloorAsk(context.Background(), "0x659a")
	if err != nil {
		t.Fatalf("LatestFloorAsk: %v", err)
	}
	if ev.ID != "123456789012" {
		t.Fatalf("numeric id should keep its digits, got %q", ev.ID)
	}
	if !ev.Price.Valid || !ev.Price.Decimal.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("price = %+v", ev.Price)
	}
	if ev.TokenID != "42" || ev.Source != "opensea.io" || ev.CreatedAt.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestLatestTopBidEmptyFeed(t *testing.T) {
	srv := serveJSON(t, topBidPath, `{"events":[]}`)
	defer srv.Close()

	ev, err := newTestClient(srv.URL, 0).LatestTopBid(context.Background(), "0x659a")
	if err != nil {
		t.Fatalf("LatestTopBid: %v", err)
	}
	if ev.ID != "" || ev.Price.Valid {
		t.Fatalf("empty feed should give zero event, got %+v", ev)
	}
}

func TestListingsDecodesSourceObject(t *testing.T) {
	srv := serveJSON(t, asksPath, `{"orders":[
		{"id":"0x02","contract":"0x659a","tokenSetId":"token:0x659a:7","maker":"0xm",
		 "price":{"amount":{"native":0.5,"usd":1500.12}},
		 "source":{"domain":"blur.io","name":"Blur","icon":"https://icon"},
		 "createdAt":"2024-03-01T10:00:00.000Z"},
		{"id":"0x01","contract":"0x659a","tokenSetId":"token:0x659a:8","price":{"amount":{"native":0.6}},"source":null}]}`)
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Listings(context.Background(), "0x659a", 500)
	if err != nil {
		t.Fatalf("Listings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(got))
	}
	if got[0].SourceName != "Blur" || got[0].SourceIcon != "https://icon" || got[0].TokenSetID != "token:0x659a:7" {
		t.Fatalf("unexpected first listing %+v", got[0])
	}
	if got[1].SourceName != "" || got[1].PriceUSD.Valid {
		t.Fatalf("second listing should lack source and usd, got %+v", got[1])
	}
}

func TestListingsMissingOrders(t *testing.T) {
	srv := serveJSON(t, asksPath, `{}`)
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 0).Listings(context.Background(), "0x659a", 500); !errors.Is(err, ErrUpstream) {
		t.Fatalf("missing orders should be an upstream error, got %v", err)
	}
}

func TestSales(t *testing.T) {
	srv := serveJSON(t, salesPath, `{"sales":[{
		"saleId":"s1","txHash":"0xtx","timestamp":1709287200,"from":"0xa","to":"0x0000000000000000000000000000000000000000",
		"orderSource":"opensea.io","price":{"amount":{"native":"2.5","usd":"7000"}},
		"token":{"contract":"0x659a","tokenId":"9","name":"Token #9","image":"https://img",
		         "collection":{"id":"0x659a","name":"Collection"}}}]}`)
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Sales(context.Background(), "0x659a", 100)
	if err != nil {
		t.Fatalf("Sales: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(got))
	}
	s := got[0]
	if s.ID != "s1" || s.TokenName != "Token #9" || s.CollectionName != "Collection" {
		t.Fatalf("unexpected sale %+v", s)
	}
	if s.Timestamp.Unix() != 1709287200 {
		t.Fatalf("timestamp = %v", s.Timestamp)
	}
	if !s.PriceNative.Decimal.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("price = %s", s.PriceNative.Decimal)
	}
}

func TestTokenAndCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case tokensPath:
			if r.URL.Query().Get("tokens") != "0x659a:42" {
				t.Errorf("tokens query = %q", r.URL.Query().Get("tokens"))
			}
			_, _ = w.Write([]byte(`{"tokens":[{"token":{"contract":"0x659a","tokenId":"42","name":" Piece ","image":"https://img",
				"owner":"0xowner","rarityRank":17,"lastSell":{"value":1.1},"collection":{"id":"0x659a","name":"Coll"}}}]}`))
		case collectionsPath:
			_, _ = w.Write([]byte(`{"collections":[]}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	tok, err := c.Token(context.Background(), "0x659a", "42")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.Name != "Piece" || tok.RarityRank != 17 || tok.Collection.Name != "Coll" || !tok.LastSale.Valid {
		t.Fatalf("unexpected token %+v", tok)
	}

	if _, err := c.Collection(context.Background(), "0x659a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty collections should be ErrNotFound, got %v", err)
	}
}

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if _, err := c.LatestFloorAsk(context.Background(), "0x659a"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[1] != 2*waits[0] {
		t.Fatalf("backoff should double, got %v", waits)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Sales(context.Background(), "0x659a", 100)
	if !errors.Is(err, ErrRateLimited) || !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected rate-limited upstream error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected initial call plus 2 retries, got %d", calls)
	}
}

func TestHTTPErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":400,"error":"Bad Request","message":"bad collection"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).LatestTopBid(context.Background(), "nope")
	if !errors.Is(err, ErrUpstream) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected plain upstream error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("400 should not be retried, got %d calls", calls)
	}
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	r := NewReservoir(Options{BackoffBase: 100 * time.Millisecond}, noopLogger())
	if got := r.backoff(2, 0); got != 400*time.Millisecond {
		t.Fatalf("backoff(2) = %v", got)
	}
	if got := r.backoff(0, 3*time.Second); got != 3*time.Second {
		t.Fatalf("retry-after should win, got %v", got)
	}
	if got := r.backoff(20, 0); got != maxBackoff {
		t.Fatalf("backoff should cap at %v, got %v", maxBackoff, got)
	}
}
