// Package pricestore keeps the latest quote per (market, symbol).
//
// The table is partitioned by MarketID. Each connector writes only into its own
// partition, the detection cycle reads across partitions. Quotes are stored by
// value so a reader always sees a complete quote from a single update.
package pricestore

import (
	"context"
	"sync"

	"github.com/fushengyk/spreadscan/internal/domain"
)

// Store is the shared price table
type Store struct {
	mu         sync.RWMutex
	partitions map[domain.MarketID]*Partition
}

// New creates an empty store
func New() *Store {
	return &Store{partitions: make(map[domain.MarketID]*Partition)}
}

// Partition returns the partition for a market, creating it on first use
func (s *Store) Partition(id domain.MarketID) *Partition {
	s.mu.RLock()
	p, ok := s.partitions[id]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[id]; ok {
		return p
	}
	p = &Partition{market: id, quotes: make(map[string]domain.MarketQuote)}
	s.partitions[id] = p
	return p
}

// Get returns the latest quote for a market and symbol
func (s *Store) Get(id domain.MarketID, symbol string) (domain.MarketQuote, bool) {
	s.mu.RLock()
	p, ok := s.partitions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.MarketQuote{}, false
	}
	return p.Get(symbol)
}

// Markets lists partitions that exist
func (s *Store) Markets() []domain.MarketID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]domain.MarketID, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	return ids
}

// Partition holds the quotes of one market
type Partition struct {
	market domain.MarketID

	mu     sync.RWMutex
	quotes map[string]domain.MarketQuote
}

var (
	_ domain.QuoteWriter = (*Partition)(nil)
	_ domain.QuoteSource = (*Partition)(nil)
)

// Market returns the partition owner
func (p *Partition) Market() domain.MarketID {
	return p.market
}

// Put replaces the quote for q.Symbol. Quotes for another market or with a
// missing side are rejected and the previous entry is kept.
func (p *Partition) Put(q domain.MarketQuote) bool {
	if q.MarketID != p.market || !q.Valid() {
		return false
	}
	p.mu.Lock()
	p.quotes[q.Symbol] = q
	p.mu.Unlock()
	return true
}

// Get returns the latest quote for symbol
func (p *Partition) Get(symbol string) (domain.MarketQuote, bool) {
	p.mu.RLock()
	q, ok := p.quotes[symbol]
	p.mu.RUnlock()
	return q, ok
}

// Len returns the number of symbols with a quote
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.quotes)
}

// Snapshot copies the quotes for symbols; an empty list copies everything
func (p *Partition) Snapshot(_ context.Context, symbols []string) (map[string]domain.MarketQuote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(symbols) == 0 {
		out := make(map[string]domain.MarketQuote, len(p.quotes))
		for k, v := range p.quotes {
			out[k] = v
		}
		return out, nil
	}

	out := make(map[string]domain.MarketQuote, len(symbols))
	for _, s := range symbols {
		if q, ok := p.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}
