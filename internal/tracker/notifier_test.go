package tracker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/fushengyk/spreadscan/internal/config"
	"github.com/fushengyk/spreadscan/internal/domain"
	"go.uber.org/zap"
)

func alertConfig() *config.Config {
	return &config.Config{
		Alerts: config.AlertConfig{
			Enabled:         true,
			MinSpread:       0.5,
			Cooldown:        10 * time.Minute,
			ExpansionFactor: 1.5,
			Channels:        []string{"hook"},
		},
	}
}

func TestNotifier_CooldownAndExpansion(t *testing.T) {
	n := NewNotifier(alertConfig(), zap.NewNop().Sugar())
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	btc := op("BTC/USDT", "GATEIO_SPOT", "MEXC_FUTURES", 0.6)

	if got := n.due([]domain.ArbitrageOpportunity{op("ETH/USDT", "A", "B", 0.4)}); len(got) != 0 {
		t.Fatal("below min spread should not alert")
	}
	if got := n.due([]domain.ArbitrageOpportunity{btc}); len(got) != 1 {
		t.Fatal("first alert expected")
	}

	clock = clock.Add(time.Minute)
	btc.SpreadPercent = 0.8
	if got := n.due([]domain.ArbitrageOpportunity{btc}); len(got) != 0 {
		t.Fatal("in cooldown without enough expansion")
	}

	btc.SpreadPercent = 0.9
	if got := n.due([]domain.ArbitrageOpportunity{btc}); len(got) != 1 {
		t.Fatal("expansion should re-alert")
	}

	clock = clock.Add(11 * time.Minute)
	btc.SpreadPercent = 0.6
	if got := n.due([]domain.ArbitrageOpportunity{btc}); len(got) != 1 {
		t.Fatal("cooldown expired, alert expected")
	}
}

func TestNotifier_Webhook(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
		}
		got <- string(b)
	}))
	defer srv.Close()

	n := NewNotifier(alertConfig(), zap.NewNop().Sugar())
	ch := &config.ResolvedChannel{
		Name:    "hook",
		Type:    "webhook",
		URL:     srv.URL,
		Method:  "POST",
		Body:    `{"msg_type":"text","content":{"text":"{{.Message}}"}}`,
		Headers: map[string]string{"X-Token": "secret"},
	}
	if err := n.sendToChannel(ch, "line one\n\"quoted\""); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Content struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(<-got), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body.Content.Text != "line one\n\"quoted\"" {
		t.Fatalf("message mangled: %q", body.Content.Text)
	}
}

func TestNotifier_Telegram(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier(alertConfig(), zap.NewNop().Sugar())
	n.telegramAPI = srv.URL

	err := n.sendToChannel(&config.ResolvedChannel{Name: "tg", Type: "telegram", Token: "T", ChatID: "1"}, "hi")
	if err == nil {
		t.Fatal("expected api error")
	}
	if path := <-paths; path != "/botT/sendMessage" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestFormatMessage(t *testing.T) {
	rate := 0.0001
	o := op("PEPE/USDT", "GATEIO_SPOT", "MEXC_FUTURES", 0.75)
	o.BuyLeg.Price = 0.00001234
	o.SellLeg.Price = 0.00001243
	o.MaxSpread24h = 1.2
	o.FundingRate = &rate

	msg := formatMessage(o, time.UTC)
	for _, want := range []string{"PEPE/USDT", "0.00001234", "0.750%", "1.200%", "0.0100%"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestNotifier_Timezone(t *testing.T) {
	cfg := alertConfig()
	cfg.Alerts.Timezone = "Asia/Tokyo"
	n := NewNotifier(cfg, zap.NewNop().Sugar())

	o := op("BTC/USDT", "GATEIO_SPOT", "MEXC_FUTURES", 0.6)
	o.DetectedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if msg := formatMessage(o, n.loc); !strings.Contains(msg, "2024-05-01 09:00:00") {
		t.Fatalf("timestamp not in configured zone:\n%s", msg)
	}

	cfg.Alerts.Timezone = "Mars/Olympus"
	if n := NewNotifier(cfg, zap.NewNop().Sugar()); n.loc != time.UTC {
		t.Fatalf("unknown zone should fall back to UTC, got %v", n.loc)
	}
}

func TestNotifier_WebhookGet(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.Query().Get("text")
	}))
	defer srv.Close()

	n := NewNotifier(alertConfig(), zap.NewNop().Sugar())
	ch := &config.ResolvedChannel{Name: "hook", Type: "webhook", Method: "GET", URL: srv.URL + "/send?text={{.Message}}"}
	if err := n.sendToChannel(ch, "a&b c"); err != nil {
		t.Fatal(err)
	}
	if text := <-got; text != "a&b c" {
		t.Fatalf("query mangled: %q", text)
	}
}

func TestFormatPrice(t *testing.T) {
	cases := map[float64]string{
		0:          "N/A",
		64123.5:    "64123.5",
		1.5:        "1.5",
		0.00001234: "0.00001234",
		25.1234:    "25.123",
		-3:         "N/A",
		0.0042:     "0.0042",
	}
	for in, want := range cases {
		if got := formatPrice(in); got != want {
			t.Errorf("formatPrice(%v) = %s, want %s", in, got, want)
		}
	}
}
