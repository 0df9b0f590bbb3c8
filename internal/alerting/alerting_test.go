package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectionwatch/internal/config"
	"collectionwatch/internal/detect"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleAlert(cat detect.Category) Alert {
	return Alert{
		Category:    cat,
		Collection:  "0x659a4bdaaacc62d2bd9cb18225d9c89b5b697a5a",
		Title:       "Token #1 has been sold!",
		URL:         "https://etherscan.io/tx/0x1",
		LinkLabel:   "View Sale",
		Author:      "Collection",
		Description: []string{"Price: 1.5 ETH"},
		Fields:      []Field{{Name: "Buyer", Value: "0xbuyer"}},
		Footer:      "opensea.io",
		Image:       "https://img",
		Timestamp:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAlertText(t *testing.T) {
	text := sampleAlert(detect.CategorySales).Text()
	for _, want := range []string{"[Collection]", "Token #1 has been sold!", "Price: 1.5 ETH", "Buyer: 0xbuyer", "View Sale: https://etherscan.io/tx/0x1", "2024-03-01T10:00:00Z UTC"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text missing %q:\n%s", want, text)
		}
	}
}

// telegramForm reads a Bot API request body, which may be JSON or a multipart form.
func telegramForm(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	out := make(map[string]string)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		for k, v := range body {
			out[k] = fmt.Sprint(v)
		}
		return out
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
	}
	for k := range r.Form {
		out[k] = r.FormValue(k)
	}
	if r.MultipartForm != nil {
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out
}

func TestTelegramNotifierRoutes(t *testing.T) {
	var received []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		received = append(received, telegramForm(t, r))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
	}))
	defer srv.Close()

	n, err := NewTelegramNotifier("token", "main", srv.URL, map[string]string{"listings": "listing-chat"}, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}

	if err := n.Notify(context.Background(), sampleAlert(detect.CategoryListings)); err != nil {
		t.Fatalf("Notify listings: %v", err)
	}
	if err := n.Notify(context.Background(), sampleAlert(detect.CategoryFloor)); err != nil {
		t.Fatalf("Notify floor: %v", err)
	}

	if len(received) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(received))
	}
	if received[0]["chat_id"] != "listing-chat" || received[1]["chat_id"] != "main" {
		t.Fatalf("routing mismatch: %v / %v", received[0]["chat_id"], received[1]["chat_id"])
	}
	if !strings.Contains(received[0]["text"], "Token #1 has been sold!") {
		t.Fatalf("text = %q", received[0]["text"])
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n, err := NewTelegramNotifier("token", "chat", srv.URL, nil, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}
	if err := n.Notify(context.Background(), sampleAlert(detect.CategorySales)); err == nil {
		t.Fatal("ok=false should fail")
	}
}

func TestTelegramNotifierRejectsUnknownRoute(t *testing.T) {
	if _, err := NewTelegramNotifier("token", "chat", "", map[string]string{"mints": "x"}, time.Second, testLogger()); err == nil {
		t.Fatal("unknown route category should fail")
	}
}

func TestDiscordNotifierEmbed(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewDiscordNotifier(srv.URL, nil, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewDiscordNotifier: %v", err)
	}
	if err := n.Notify(context.Background(), sampleAlert(detect.CategorySales)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(payload.Embeds))
	}
	e := payload.Embeds[0]
	if e.Title != "Token #1 has been sold!" || e.Author == nil || e.Author.Name != "Collection" {
		t.Fatalf("unexpected embed %+v", e)
	}
	if e.Image == nil || e.Image.URL != "https://img" || e.Footer == nil || e.Footer.Text != "opensea.io" {
		t.Fatalf("missing image or footer: %+v", e)
	}
	if e.Timestamp != "2024-03-01T10:00:00Z" {
		t.Fatalf("timestamp = %q", e.Timestamp)
	}
}

func TestDiscordNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited."}`))
	}))
	defer srv.Close()

	n, _ := NewDiscordNotifier(srv.URL, nil, time.Second, testLogger())
	if err := n.Notify(context.Background(), sampleAlert(detect.CategorySales)); err == nil {
		t.Fatal("429 should fail")
	}
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, Alert) error {
	s.calls++
	return s.err
}

func TestMultiPartialFailureSucceeds(t *testing.T) {
	bad := &stubNotifier{err: errors.New("boom")}
	good := &stubNotifier{}
	m := NewMulti(testLogger()).Add("bad", bad).Add("good", good)

	if err := m.Notify(context.Background(), sampleAlert(detect.CategoryBurn)); err != nil {
		t.Fatalf("one healthy channel should be enough, got %v", err)
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Fatalf("every channel should be attempted: bad=%d good=%d", bad.calls, good.calls)
	}
}

func TestMultiAllFail(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	m := NewMulti(testLogger()).Add("a", &stubNotifier{err: errA}).Add("b", &stubNotifier{err: errB})

	err := m.Notify(context.Background(), sampleAlert(detect.CategoryBurn))
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestFromConfigFallsBackToLog(t *testing.T) {
	n, err := FromConfig(config.AlertingConfig{}, time.Second, testLogger())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := n.(*LogNotifier); !ok {
		t.Fatalf("expected LogNotifier, got %T", n)
	}

	n, err = FromConfig(config.AlertingConfig{
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"},
		Discord:  config.DiscordConfig{Enabled: true, WebhookURL: "http://localhost/hook"},
	}, time.Second, testLogger())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if m, ok := n.(*Multi); !ok || m.Len() != 2 {
		t.Fatalf("expected Multi with two channels, got %T", n)
	}
}
