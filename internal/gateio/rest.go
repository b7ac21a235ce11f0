package gateio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/symbols"
	"go.uber.org/zap"
)

// Client is the public Gate.io REST API for one market.
// It lists tradable symbols and, for REST-sourced markets, polls tickers.
type Client struct {
	baseURL string
	market  domain.Market
	norm    *symbols.Strategy
	http    *http.Client
	logger  *zap.SugaredLogger
}

var (
	_ domain.SymbolDiscoverer = (*Client)(nil)
	_ domain.QuoteSource      = (*Client)(nil)
)

// NewClient creates a client; baseURL includes /api/v4
func NewClient(baseURL string, market domain.Market, norm *symbols.Strategy, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		market:  market,
		norm:    norm,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type currencyPair struct {
	ID          string `json:"id"`
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	TradeStatus string `json:"trade_status"`
}

type contract struct {
	Name        string `json:"name"`
	InDelisting bool   `json:"in_delisting"`
}

// TradableSymbols lists active USDT markets in canonical form
func (c *Client) TradableSymbols(ctx context.Context) ([]string, error) {
	var raw []string

	if c.market.Type == domain.MarketFutures {
		var list []contract
		if err := c.get(ctx, "/futures/usdt/contracts", &list); err != nil {
			return nil, fmt.Errorf("fetch contracts: %w", err)
		}
		for _, ct := range list {
			if !ct.InDelisting {
				raw = append(raw, ct.Name)
			}
		}
	} else {
		var list []currencyPair
		if err := c.get(ctx, "/spot/currency_pairs", &list); err != nil {
			return nil, fmt.Errorf("fetch currency pairs: %w", err)
		}
		for _, p := range list {
			if p.TradeStatus == "tradable" && strings.EqualFold(p.Quote, "USDT") {
				raw = append(raw, p.ID)
			}
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if !c.norm.Tradable(r) {
			continue
		}
		canonical, ok := c.norm.Learn(r)
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out, nil
}

// Snapshot polls the ticker endpoint; an empty symbol list returns every ticker
func (c *Client) Snapshot(ctx context.Context, want []string) (map[string]domain.MarketQuote, error) {
	path := "/spot/tickers"
	if c.market.Type == domain.MarketFutures {
		path = "/futures/usdt/tickers"
	}

	var list []ticker
	if err := c.get(ctx, path, &list); err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}

	filter := make(map[string]bool, len(want))
	for _, s := range want {
		filter[s] = true
	}

	now := time.Now()
	p := &Protocol{norm: c.norm}
	out := make(map[string]domain.MarketQuote, len(want))
	for _, t := range list {
		q, ok := p.quote(t)
		if !ok || (len(filter) > 0 && !filter[q.Symbol]) {
			continue
		}
		q.MarketID = c.market.ID
		q.ObservedAt = now
		out[q.Symbol] = q
	}
	c.logger.Debugf("[%s] Polled %d tickers (%d kept)", c.market.ID, len(list), len(out))
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
