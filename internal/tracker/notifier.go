package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fushengyk/spreadscan/internal/config"
	"github.com/fushengyk/spreadscan/internal/domain"
	"go.uber.org/zap"
)

// Notifier sends opportunity alerts to configured channels
type Notifier struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	client *http.Client

	telegramAPI string
	now         func() time.Time
	loc         *time.Location

	mu    sync.Mutex
	state map[string]alertState // opportunity key -> last alert
}

type alertState struct {
	LastTriggerTime time.Time
	LastSpread      float64
}

// NewNotifier creates a new notifier with resolved channels
func NewNotifier(cfg *config.Config, logger *zap.SugaredLogger) *Notifier {
	loc, err := loadLocation(cfg.Alerts.Timezone)
	if err != nil {
		logger.Warnf("⚠️ Unknown alert timezone %q, using UTC: %v", cfg.Alerts.Timezone, err)
	}
	return &Notifier{
		cfg:         cfg,
		logger:      logger,
		client:      &http.Client{Timeout: 10 * time.Second},
		telegramAPI: "https://api.telegram.org",
		now:         time.Now,
		loc:         loc,
		state:       make(map[string]alertState),
	}
}

// Notify alerts on every opportunity that passes the rule. Delivery is async.
func (n *Notifier) Notify(ops []domain.ArbitrageOpportunity) {
	if !n.cfg.Alerts.Enabled || len(n.cfg.Alerts.Channels) == 0 {
		return
	}
	for _, op := range n.due(ops) {
		go n.Send(op, n.cfg.Alerts.Channels)
	}
}

// due applies min spread, cooldown and expansion per opportunity key
func (n *Notifier) due(ops []domain.ArbitrageOpportunity) []domain.ArbitrageOpportunity {
	rule := n.cfg.Alerts
	factor := rule.ExpansionFactor
	if factor == 0 {
		factor = 1.2
	}
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()

	var out []domain.ArbitrageOpportunity
	for _, op := range ops {
		if op.SpreadPercent < rule.MinSpread {
			continue
		}
		key := op.Key()
		st, seen := n.state[key]
		inCooldown := seen && now.Sub(st.LastTriggerTime) < rule.Cooldown

		// Expansion check
		if inCooldown && op.SpreadPercent < st.LastSpread*factor {
			continue
		}
		n.state[key] = alertState{LastTriggerTime: now, LastSpread: op.SpreadPercent}
		out = append(out, op)
	}
	return out
}

// Send dispatches the alert to the specified channels
func (n *Notifier) Send(op domain.ArbitrageOpportunity, channelNames []string) {
	msg := formatMessage(op, n.loc)
	n.logger.Infof("🔔 Alert %s %s %.3f%%", op.Symbol, op.Direction, op.SpreadPercent)

	for _, name := range channelNames {
		ch, err := n.cfg.ResolveChannel(name)
		if err != nil {
			n.logger.Warnf("Skipping alert channel: %v", err)
			continue
		}
		go func() {
			if err := n.sendToChannel(ch, msg); err != nil {
				n.logger.Errorf("Failed to send to %s (%s): %v", ch.Name, ch.Type, err)
			}
		}()
	}
}

func formatMessage(op domain.ArbitrageOpportunity, loc *time.Location) string {
	lines := []string{
		fmt.Sprintf("🚨 %s %s", op.Symbol, op.Direction),
		fmt.Sprintf("🟢 buy  %s @ %s", op.BuyLeg.MarketID, formatPrice(op.BuyLeg.Price)),
		fmt.Sprintf("🔴 sell %s @ %s", op.SellLeg.MarketID, formatPrice(op.SellLeg.Price)),
		fmt.Sprintf("📈 spread %.3f%% (24h max %.3f%%)", op.SpreadPercent, op.MaxSpread24h),
	}
	if op.FundingRate != nil {
		lines = append(lines, fmt.Sprintf("💰 funding %.4f%%", *op.FundingRate*100))
	}
	lines = append(lines, "🕒 "+op.DetectedAt.In(loc).Format("2006-01-02 15:04:05 MST"))
	return strings.Join(lines, "\n")
}

// loadLocation falls back to UTC for an empty or unknown zone name
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// formatPrice rounds to roughly five significant digits and drops trailing zeros
func formatPrice(price float64) string {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return "N/A"
	}
	places := 4 - int(math.Floor(math.Log10(price)))
	places = max(2, min(places, 10))
	out := strconv.FormatFloat(price, 'f', places, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}

func (n *Notifier) sendToChannel(ch *config.ResolvedChannel, msg string) error {
	var (
		req *http.Request
		err error
	)
	switch ch.Type {
	case "telegram":
		req, err = n.telegramRequest(ch, msg)
	case "webhook":
		req, err = webhookRequest(ch, msg)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
	if err != nil {
		return err
	}
	return n.deliver(ch, req)
}

type telegramMessage struct {
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
	ThreadID string `json:"message_thread_id,omitempty"`
}

func (n *Notifier) telegramRequest(ch *config.ResolvedChannel, msg string) (*http.Request, error) {
	body, err := json.Marshal(telegramMessage{ChatID: ch.ChatID, Text: msg, ThreadID: ch.ThreadID})
	if err != nil {
		return nil, err
	}
	endpoint, err := url.JoinPath(n.telegramAPI, "bot"+ch.Token, "sendMessage")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

const messagePlaceholder = "{{.Message}}"

// webhookRequest renders msg into the URL for GET and into the body
// template for every other method. Body templates are JSON.
func webhookRequest(ch *config.ResolvedChannel, msg string) (*http.Request, error) {
	var req *http.Request
	var err error
	if ch.Method == http.MethodGet {
		target := strings.ReplaceAll(ch.URL, messagePlaceholder, url.QueryEscape(msg))
		req, err = http.NewRequest(http.MethodGet, target, nil)
	} else {
		var body []byte
		body, err = renderBody(ch.Body, msg)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequest(ch.Method, ch.URL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func renderBody(tmpl, msg string) ([]byte, error) {
	if tmpl == "" {
		return json.Marshal(map[string]string{"text": msg})
	}
	quoted, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	inner := string(quoted[1 : len(quoted)-1])
	return []byte(strings.ReplaceAll(tmpl, messagePlaceholder, inner)), nil
}

// deliver sends req and turns any non-2xx reply into an error carrying
// the start of the response body
func (n *Notifier) deliver(ch *config.ResolvedChannel, req *http.Request) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s replied %s: %s", ch.Type, resp.Status, bytes.TrimSpace(snippet))
	}
	n.logger.Debugf("Alert delivered to %s", ch.Name)
	return nil
}
