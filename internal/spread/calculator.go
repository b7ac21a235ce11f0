// Package spread computes directional arbitrage spreads between two quotes.
package spread

import (
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the percentage gained buying at buy.BestAsk and selling at
// sell.BestBid: (sellBid - buyAsk) / buyAsk * 100. ok is false when either quote
// is missing a side or has a non-positive price.
func Calculate(buy, sell domain.MarketQuote) (pct float64, ok bool) {
	return Percent(buy.BestAsk, sell.BestBid)
}

// Percent is Calculate on raw prices
func Percent(buyAsk, sellBid float64) (float64, bool) {
	if buyAsk <= 0 || sellBid <= 0 {
		return 0, false
	}
	ask := decimal.NewFromFloat(buyAsk)
	bid := decimal.NewFromFloat(sellBid)

	pct, _ := bid.Sub(ask).Div(ask).Mul(hundred).Float64()
	return pct, true
}

// Retained reports whether a spread survives the profitability threshold
func Retained(pct, threshold float64) bool {
	return pct > 0 && pct > threshold
}
