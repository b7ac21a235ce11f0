// Package symbols converts between canonical BASE/QUOTE symbols and venue encodings.
//
// Each venue gets its own Strategy: the separator it uses, explicit aliases for
// multiplier-adjusted contracts (1000PEPE_USDT quotes 1000 PEPE), optional
// automatic detection of those prefixes, and a filter for leveraged tokens.
package symbols

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// CanonicalSep separates base and quote in canonical symbols
const CanonicalSep = "/"

var (
	leveragedRe  = regexp.MustCompile(`^[A-Z0-9]+[2-5][LS]$`)
	multiplierRe = regexp.MustCompile(`^(1000000|100000|10000|1000)([A-Z][A-Z0-9]*)$`)
)

// Alias maps a canonical symbol to a venue ticker whose price is Multiplier units of base
type Alias struct {
	Symbol     string // venue encoding, e.g. 1000PEPE_USDT
	Multiplier float64
}

// Strategy is a per-venue normalization strategy. Safe for concurrent use.
type Strategy struct {
	sep  string
	auto bool

	mu      sync.RWMutex
	aliases map[string]Alias  // canonical -> alias
	reverse map[string]string // venue -> canonical
}

// Option configures a Strategy
type Option func(*Strategy)

// WithAutoMultiplier detects 1000X style prefixes on venue symbols
func WithAutoMultiplier() Option {
	return func(s *Strategy) { s.auto = true }
}

// WithAlias registers an explicit alias
func WithAlias(canonical string, a Alias) Option {
	return func(s *Strategy) { s.register(canonical, a) }
}

// New creates a strategy for a venue using sep between base and quote
func New(sep string, opts ...Option) *Strategy {
	s := &Strategy{
		sep:     sep,
		aliases: make(map[string]Alias),
		reverse: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Canonical builds BASE/QUOTE
func Canonical(base, quote string) string {
	return strings.ToUpper(base) + CanonicalSep + strings.ToUpper(quote)
}

// Split breaks a canonical symbol into base and quote
func Split(canonical string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(canonical, CanonicalSep)
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

// Register stores an alias learned at runtime (e.g. from symbol discovery)
func (s *Strategy) Register(canonical string, a Alias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.register(canonical, a)
}

func (s *Strategy) register(canonical string, a Alias) {
	if a.Multiplier <= 0 {
		a.Multiplier = 1
	}
	a.Symbol = strings.ToUpper(a.Symbol)
	// aliases may be written in canonical form
	a.Symbol = strings.Replace(a.Symbol, CanonicalSep, s.sep, 1)
	canonical = strings.ToUpper(canonical)
	s.aliases[canonical] = a
	s.reverse[a.Symbol] = canonical
}

// ToVenue converts BTC/USDT into the venue encoding
func (s *Strategy) ToVenue(canonical string) string {
	canonical = strings.ToUpper(canonical)
	s.mu.RLock()
	a, ok := s.aliases[canonical]
	s.mu.RUnlock()
	if ok {
		return a.Symbol
	}
	return strings.Replace(canonical, CanonicalSep, s.sep, 1)
}

// FromVenue converts a venue symbol into canonical form and the price multiplier.
// A venue price divided by the multiplier is the canonical price.
func (s *Strategy) FromVenue(raw string) (canonical string, multiplier float64, ok bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", 0, false
	}

	s.mu.RLock()
	c, known := s.reverse[raw]
	var a Alias
	if known {
		a = s.aliases[c]
	}
	s.mu.RUnlock()
	if known {
		return c, a.Multiplier, true
	}

	base, quote, found := strings.Cut(raw, s.sep)
	if !found || base == "" || quote == "" {
		return "", 0, false
	}

	if s.auto {
		if m := multiplierRe.FindStringSubmatch(base); m != nil {
			mult, _ := strconv.ParseFloat(m[1], 64)
			return Canonical(m[2], quote), mult, true
		}
	}
	return Canonical(base, quote), 1, true
}

// Tradable reports whether a venue symbol should be tracked at all
func (s *Strategy) Tradable(raw string) bool {
	base, _, found := strings.Cut(strings.ToUpper(raw), s.sep)
	if !found {
		return false
	}
	return !leveragedRe.MatchString(base)
}

// Learn runs FromVenue and registers a non-trivial multiplier so ToVenue round-trips
func (s *Strategy) Learn(raw string) (string, bool) {
	c, mult, ok := s.FromVenue(raw)
	if !ok {
		return "", false
	}
	if mult != 1 {
		s.Register(c, Alias{Symbol: raw, Multiplier: mult})
	}
	return c, true
}
