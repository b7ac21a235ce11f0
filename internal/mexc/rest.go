package mexc

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

// Client is the public MEXC contract REST API
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

// NewClient creates a client for baseURL (https://contract.mexc.com)
func NewClient(baseURL string, market domain.Market, norm *symbols.Strategy, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		market:  market,
		norm:    norm,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// response is the common MEXC envelope
type response[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type contractDetail struct {
	Symbol     string `json:"symbol"`
	State      int    `json:"state"`
	QuoteCoin  string `json:"quoteCoin"`
	SettleCoin string `json:"settleCoin"`
	FutureType int    `json:"futureType"`
	IsHidden   bool   `json:"isHidden"`
}

// TradableSymbols lists enabled, visible USDT perpetual contracts
func (c *Client) TradableSymbols(ctx context.Context) ([]string, error) {
	var resp response[[]contractDetail]
	if err := c.get(ctx, "/api/v1/contract/detail", &resp); err != nil {
		return nil, fmt.Errorf("fetch contract detail: %w", err)
	}

	seen := make(map[string]bool, len(resp.Data))
	out := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.State != 0 || d.FutureType != 1 || d.IsHidden {
			continue
		}
		if d.QuoteCoin != "USDT" || d.SettleCoin != "USDT" {
			continue
		}
		if !c.norm.Tradable(d.Symbol) {
			continue
		}
		canonical, ok := c.norm.Learn(d.Symbol)
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out, nil
}

// Snapshot polls every contract ticker and keeps the wanted symbols
func (c *Client) Snapshot(ctx context.Context, want []string) (map[string]domain.MarketQuote, error) {
	var resp response[[]ticker]
	if err := c.get(ctx, "/api/v1/contract/ticker", &resp); err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}

	filter := make(map[string]bool, len(want))
	for _, s := range want {
		filter[s] = true
	}

	now := time.Now()
	p := &Protocol{norm: c.norm}
	out := make(map[string]domain.MarketQuote, len(want))
	for _, t := range resp.Data {
		q, ok := p.quote(t)
		if !ok || (len(filter) > 0 && !filter[q.Symbol]) {
			continue
		}
		q.MarketID = c.market.ID
		q.ObservedAt = now
		out[q.Symbol] = q
	}
	c.logger.Debugf("[%s] Polled %d tickers (%d kept)", c.market.ID, len(resp.Data), len(out))
	return out, nil
}

// get decodes a MEXC envelope and fails on success=false
func (c *Client) get(ctx context.Context, path string, out interface{ ok() error }) error {
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
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return out.ok()
}

func (r *response[T]) ok() error {
	if !r.Success {
		return fmt.Errorf("api error %d: %s", r.Code, r.Message)
	}
	return nil
}
