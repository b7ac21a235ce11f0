package domain

import (
	"context"
	"fmt"
	"time"
)

// Venue represents a supported exchange
type Venue string

const (
	VenueGateIO Venue = "gateio"
	VenueMEXC   Venue = "mexc"
)

// MarketType defines the type of market
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// MarketID identifies one venue + market type, e.g. GATEIO_SPOT
type MarketID string

// Market describes a single quote partition
type Market struct {
	ID     MarketID   `json:"id"`
	Venue  Venue      `json:"venue"`
	Type   MarketType `json:"type"`
	Source string     `json:"source"` // ws or rest
}

// MarketQuote is the latest best bid/ask for a symbol on one market.
// Symbol is always canonical BASE/QUOTE.
type MarketQuote struct {
	MarketID    MarketID  `json:"market_id"`
	Symbol      string    `json:"symbol"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	FundingRate *float64  `json:"funding_rate,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Valid reports whether both sides are present and positive
func (q MarketQuote) Valid() bool {
	return q.Symbol != "" && q.BestBid > 0 && q.BestAsk > 0
}

// ConnStatus is the connector session status
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
)

// ConnectionState is a point-in-time view of a connector
type ConnectionState struct {
	Market  MarketID   `json:"market"`
	Status  ConnStatus `json:"status"`
	Pending []string   `json:"pending"`
	Live    []string   `json:"live"`
}

// QuoteWriter accepts normalized quotes from a connector or poller
type QuoteWriter interface {
	Put(q MarketQuote) bool
}

// QuoteSource yields the latest quotes of one market for the given symbols.
// Implementations may block (REST polling) and must honor ctx.
type QuoteSource interface {
	Snapshot(ctx context.Context, symbols []string) (map[string]MarketQuote, error)
}

// ExchangeConnector owns one persistent session per market
type ExchangeConnector interface {
	Market() MarketID
	Connect(symbols []string)
	Subscribe(symbols []string)
	State() ConnectionState
	Close()
}

// SymbolDiscoverer lists the canonical symbols a market currently trades
type SymbolDiscoverer interface {
	TradableSymbols(ctx context.Context) ([]string, error)
}

// Direction is buy market type -> sell market type
type Direction string

const (
	SpotToFuture   Direction = "spot-to-future"
	FutureToSpot   Direction = "future-to-spot"
	SpotToSpot     Direction = "spot-to-spot"
	FutureToFuture Direction = "future-to-future"
)

// DirectionOf derives the direction from the leg market types
func DirectionOf(buy, sell MarketType) Direction {
	switch {
	case buy == MarketSpot && sell == MarketFutures:
		return SpotToFuture
	case buy == MarketFutures && sell == MarketSpot:
		return FutureToSpot
	case buy == MarketFutures && sell == MarketFutures:
		return FutureToFuture
	default:
		return SpotToSpot
	}
}

// Leg is one side of a prospective trade
type Leg struct {
	MarketID   MarketID   `json:"market_id"`
	Venue      Venue      `json:"venue"`
	MarketType MarketType `json:"market_type"`
	Price      float64    `json:"price"`
}

// ArbitrageOpportunity is one retained spread with its rolling 24h maximum
type ArbitrageOpportunity struct {
	Symbol             string    `json:"symbol"`
	BuyLeg             Leg       `json:"buy_leg"`
	SellLeg            Leg       `json:"sell_leg"`
	SpreadPercent      float64   `json:"spread_percent"`
	Direction          Direction `json:"direction"`
	FundingRate        *float64  `json:"funding_rate,omitempty"`
	DetectedAt         time.Time `json:"detected_at"`
	MaxSpread24h       float64   `json:"max_spread_24h"`
	MaxSpreadTimestamp time.Time `json:"max_spread_timestamp"`
}

// IntraVenue reports whether both legs trade on the same venue
func (o ArbitrageOpportunity) IntraVenue() bool {
	return o.BuyLeg.Venue == o.SellLeg.Venue
}

// Key is the identity used to match an opportunity with its prior record:
// (symbol, direction) intra-venue, (symbol, buy market, sell market) otherwise.
func (o ArbitrageOpportunity) Key() string {
	if o.IntraVenue() {
		return fmt.Sprintf("%s|%s|%s", o.SellLeg.Venue, o.Symbol, o.Direction)
	}
	return fmt.Sprintf("%s|%s|%s", o.Symbol, o.BuyLeg.MarketID, o.SellLeg.MarketID)
}

// SpreadSample is one historical spread observation
type SpreadSample struct {
	Symbol        string    `json:"symbol"`
	ExchangeBuy   string    `json:"exchange_buy"`
	ExchangeSell  string    `json:"exchange_sell"`
	Direction     Direction `json:"direction"`
	SpreadPercent float64   `json:"spread_percent"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// SampleFromOpportunity converts a retained opportunity into a history row
func SampleFromOpportunity(o ArbitrageOpportunity) SpreadSample {
	return SpreadSample{
		Symbol:        o.Symbol,
		ExchangeBuy:   string(o.BuyLeg.Venue),
		ExchangeSell:  string(o.SellLeg.Venue),
		Direction:     o.Direction,
		SpreadPercent: o.SpreadPercent,
		RecordedAt:    o.DetectedAt,
	}
}

// SampleQuery selects historical samples
type SampleQuery struct {
	Symbol       string
	ExchangeBuy  string
	ExchangeSell string
	Direction    Direction
	Since        time.Time
}

// CycleResult is the outcome of one detection cycle
type CycleResult struct {
	ID            string                 `json:"id"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Opportunities []ArbitrageOpportunity `json:"opportunities"`
	// Degraded is set when the snapshot or history could not be read or written
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}
