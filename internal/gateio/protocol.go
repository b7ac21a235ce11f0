// Package gateio speaks the Gate.io v4 spot and USDT futures ticker feeds.
package gateio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fushengyk/spreadscan/internal/connector"
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/symbols"
)

// Separator is the Gate.io base/quote separator (BTC_USDT)
const Separator = "_"

// Protocol implements connector.Protocol for one Gate.io market
type Protocol struct {
	url     string
	channel string // spot or futures
	norm    *symbols.Strategy
	now     func() time.Time
}

var _ connector.Protocol = (*Protocol)(nil)

// NewProtocol creates a protocol for the market type at url
func NewProtocol(url string, mt domain.MarketType, norm *symbols.Strategy) *Protocol {
	return &Protocol{
		url:     url,
		channel: channelPrefix(mt),
		norm:    norm,
		now:     time.Now,
	}
}

func channelPrefix(mt domain.MarketType) string {
	if mt == domain.MarketFutures {
		return "futures"
	}
	return "spot"
}

func (p *Protocol) URL() string {
	return p.url
}

type request struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event,omitempty"`
	Payload []string `json:"payload,omitempty"`
}

// SubscribeMessages sends all symbols in one tickers request
func (p *Protocol) SubscribeMessages(canonical []string) ([][]byte, error) {
	payload := make([]string, 0, len(canonical))
	for _, s := range canonical {
		payload = append(payload, p.norm.ToVenue(s))
	}
	b, err := json.Marshal(request{
		Time:    p.now().Unix(),
		Channel: p.channel + ".tickers",
		Event:   "subscribe",
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// PingMessage is the application level ping Gate.io expects from clients
func (p *Protocol) PingMessage() []byte {
	b, _ := json.Marshal(request{Time: p.now().Unix(), Channel: p.channel + ".ping"})
	return b
}

type envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Error   *apiError       `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ticker covers both spot (currency_pair, lowest_ask, highest_bid) and
// futures (contract, ask1, bid1) layouts
type ticker struct {
	CurrencyPair string           `json:"currency_pair"`
	Contract     string           `json:"contract"`
	LowestAsk    connector.Number `json:"lowest_ask"`
	HighestBid   connector.Number `json:"highest_bid"`
	Ask1         connector.Number `json:"ask1"`
	Bid1         connector.Number `json:"bid1"`
	FundingRate  connector.Number `json:"funding_rate"`
}

func (t ticker) symbol() string {
	if t.CurrencyPair != "" {
		return t.CurrencyPair
	}
	return t.Contract
}

func (t ticker) ask() connector.Number {
	if t.LowestAsk.Set {
		return t.LowestAsk
	}
	return t.Ask1
}

func (t ticker) bid() connector.Number {
	if t.HighestBid.Set {
		return t.HighestBid
	}
	return t.Bid1
}

func (p *Protocol) Decode(msg []byte) (connector.Decoded, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return connector.Decoded{}, err
	}
	if env.Error != nil {
		return connector.Decoded{}, fmt.Errorf("gateio error %d: %s", env.Error.Code, env.Error.Message)
	}
	if env.Event != "update" || env.Channel != p.channel+".tickers" {
		// subscribe acks and pongs
		return connector.Decoded{}, connector.ErrIgnored
	}

	tickers, err := decodeTickers(env.Result)
	if err != nil {
		return connector.Decoded{}, err
	}

	var out connector.Decoded
	for _, t := range tickers {
		if q, ok := p.quote(t); ok {
			out.Quotes = append(out.Quotes, q)
		}
	}
	if len(out.Quotes) == 0 {
		return connector.Decoded{}, errors.New("update without usable ticker")
	}
	return out, nil
}

// decodeTickers accepts a single ticker object or an array of them
func decodeTickers(raw json.RawMessage) ([]ticker, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty result")
	}
	if raw[0] == '[' {
		var list []ticker
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var t ticker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return []ticker{t}, nil
}

// quote normalizes a ticker; MarketID and ObservedAt are stamped by the connector
func (p *Protocol) quote(t ticker) (domain.MarketQuote, bool) {
	canonical, mult, ok := p.norm.FromVenue(t.symbol())
	if !ok {
		return domain.MarketQuote{}, false
	}
	q := domain.MarketQuote{
		Symbol:      canonical,
		BestBid:     t.bid().Scaled(mult),
		BestAsk:     t.ask().Scaled(mult),
		FundingRate: t.FundingRate.Ptr(),
	}
	return q, q.Valid()
}
