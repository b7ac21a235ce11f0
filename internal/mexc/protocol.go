// Package mexc speaks the MEXC USDT perpetual contract ticker feed.
package mexc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fushengyk/spreadscan/internal/connector"
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/symbols"
)

// Separator is the MEXC contract base/quote separator (BTC_USDT)
const Separator = "_"

var (
	ping = []byte(`{"method":"ping"}`)
	pong = []byte(`{"method":"pong"}`)
)

// Protocol implements connector.Protocol for MEXC futures.
// The client pings on the keep-alive interval and answers server pings.
type Protocol struct {
	url  string
	norm *symbols.Strategy
}

var _ connector.Protocol = (*Protocol)(nil)

// NewProtocol creates the contract protocol
func NewProtocol(url string, norm *symbols.Strategy) *Protocol {
	return &Protocol{url: url, norm: norm}
}

func (p *Protocol) URL() string {
	return p.url
}

type subscribe struct {
	Method string `json:"method"`
	Param  struct {
		Symbol string `json:"symbol"`
	} `json:"param"`
}

// SubscribeMessages sends one sub.ticker frame per symbol
func (p *Protocol) SubscribeMessages(canonical []string) ([][]byte, error) {
	out := make([][]byte, 0, len(canonical))
	for _, s := range canonical {
		var req subscribe
		req.Method = "sub.ticker"
		req.Param.Symbol = p.norm.ToVenue(s)
		b, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// PingMessage is acknowledged by the server on the pong channel
func (p *Protocol) PingMessage() []byte {
	return ping
}

type envelope struct {
	Method  string          `json:"method"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type ticker struct {
	Symbol      string           `json:"symbol"`
	Ask1        connector.Number `json:"ask1"`
	Bid1        connector.Number `json:"bid1"`
	FundingRate connector.Number `json:"fundingRate"`
	Timestamp   int64            `json:"timestamp"`
}

func (p *Protocol) Decode(msg []byte) (connector.Decoded, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return connector.Decoded{}, err
	}

	switch {
	case env.Method == "ping":
		return connector.Decoded{Reply: pong}, nil
	case env.Channel == "push.ticker":
	case env.Channel == "rs.error":
		return connector.Decoded{}, fmt.Errorf("mexc error: %s", env.Data)
	case env.Channel == "pong", strings.HasPrefix(env.Channel, "rs."):
		return connector.Decoded{}, connector.ErrIgnored
	default:
		return connector.Decoded{}, fmt.Errorf("unknown frame %q", env.Channel)
	}

	var t ticker
	if err := json.Unmarshal(env.Data, &t); err != nil {
		return connector.Decoded{}, err
	}
	q, ok := p.quote(t)
	if !ok {
		return connector.Decoded{}, fmt.Errorf("incomplete ticker for %q", t.Symbol)
	}
	return connector.Decoded{Quotes: []domain.MarketQuote{q}}, nil
}

func (p *Protocol) quote(t ticker) (domain.MarketQuote, bool) {
	canonical, mult, ok := p.norm.FromVenue(t.Symbol)
	if !ok {
		return domain.MarketQuote{}, false
	}
	q := domain.MarketQuote{
		Symbol:      canonical,
		BestBid:     t.Bid1.Scaled(mult),
		BestAsk:     t.Ask1.Scaled(mult),
		FundingRate: t.FundingRate.Ptr(),
	}
	return q, q.Valid()
}
