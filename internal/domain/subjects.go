package domain

import (
	"fmt"
	"strings"
)

// NATS Subject constants
const (
	SubjectPrefixArbitrage = "arbitrage"
	SubjectBatch           = "arbitrage.opportunities"
)

// SubjectOpportunity builds the per-opportunity subject, BTC/USDT -> arbitrage.opportunity.btc_usdt
func SubjectOpportunity(symbol string) string {
	token := strings.ToLower(strings.NewReplacer("/", "_", ".", "_", " ", "").Replace(symbol))
	return fmt.Sprintf("%s.opportunity.%s", SubjectPrefixArbitrage, token)
}

// Stream names
const (
	StreamArbitrage = "ARBITRAGE"
)

// Stream subject patterns
var (
	StreamArbitrageSubjects = []string{"arbitrage.>"}
)
