package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fushengyk/spreadscan/internal/config"
	"github.com/fushengyk/spreadscan/internal/connector"
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/gateio"
	"github.com/fushengyk/spreadscan/internal/mexc"
	"github.com/fushengyk/spreadscan/internal/pricestore"
	"github.com/fushengyk/spreadscan/internal/symbols"
	"github.com/fushengyk/spreadscan/internal/tracker"
	"go.uber.org/zap"
)

// restClient is what each venue REST client offers
type restClient interface {
	domain.SymbolDiscoverer
	domain.QuoteSource
}

// feed is one configured market
type feed struct {
	market    domain.Market
	rest      restClient
	conn      *connector.Connector // nil for rest markets
	partition *pricestore.Partition

	tradable  map[string]bool // nil until discovery succeeds
	lastStats connector.Stats
}

// Service owns the price store and every market feed
type Service struct {
	cfg    *config.Config
	store  *pricestore.Store
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	feeds []*feed

	mu      sync.RWMutex
	symbols []string
}

// NewService builds a feed per configured market
func NewService(cfg *config.Config, logger *zap.SugaredLogger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		store:  pricestore.New(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for _, mc := range cfg.Markets {
		f, err := s.newFeed(mc)
		if err != nil {
			cancel()
			return nil, err
		}
		s.feeds = append(s.feeds, f)
	}
	return s, nil
}

func (s *Service) newFeed(mc config.MarketConfig) (*feed, error) {
	market := domain.Market{
		ID:     domain.MarketID(mc.ID),
		Venue:  domain.Venue(mc.Venue),
		Type:   domain.MarketType(mc.Type),
		Source: mc.Source,
	}
	f := &feed{market: market, partition: s.store.Partition(market.ID)}

	var proto connector.Protocol
	switch market.Venue {
	case domain.VenueGateIO:
		norm := newStrategy(gateio.Separator, mc)
		f.rest = gateio.NewClient(mc.RestURL, market, norm, s.logger)
		proto = gateio.NewProtocol(mc.WSURL, market.Type, norm)
	case domain.VenueMEXC:
		norm := newStrategy(mexc.Separator, mc)
		f.rest = mexc.NewClient(mc.RestURL, market, norm, s.logger)
		proto = mexc.NewProtocol(mc.WSURL, norm)
	default:
		return nil, fmt.Errorf("market %s: unsupported venue %s", mc.ID, mc.Venue)
	}

	if mc.Source != "rest" {
		f.conn = connector.New(market, proto, f.partition, s.cfg.WebSocket, s.logger)
	}
	return f, nil
}

func newStrategy(sep string, mc config.MarketConfig) *symbols.Strategy {
	var opts []symbols.Option
	if mc.AutoMultiplier {
		opts = append(opts, symbols.WithAutoMultiplier())
	}
	for canonical, a := range mc.Aliases {
		opts = append(opts, symbols.WithAlias(canonical, symbols.Alias{Symbol: a.Symbol, Multiplier: a.Multiplier}))
	}
	return symbols.New(sep, opts...)
}

// Start discovers tradable symbols and opens the WebSocket sessions
func (s *Service) Start() error {
	s.logger.Info("📊 Starting Collector Service...")

	s.discover()
	universe := s.Symbols()
	if len(universe) == 0 {
		return fmt.Errorf("no tradable symbols found on any market")
	}

	for _, f := range s.feeds {
		if f.conn == nil {
			s.logger.Infof("[%s] Polling REST for %d symbols", f.market.ID, len(f.subscribable(universe)))
			continue
		}
		f.conn.Connect(f.subscribable(universe))
	}

	if s.cfg.Collector.DiscoveryInterval > 0 {
		s.wg.Add(1)
		go s.runDiscovery()
	}
	if s.cfg.Collector.StatsInterval > 0 {
		s.wg.Add(1)
		go s.runStatsLogger()
	}

	s.logger.Infof("✅ Started %d market feeds, %d symbols", len(s.feeds), len(universe))
	return nil
}

// Stop closes every session
func (s *Service) Stop() {
	s.logger.Info("🛑 Stopping Collector Service...")
	s.cancel()
	s.wg.Wait()

	for _, f := range s.feeds {
		if f.conn != nil {
			f.conn.Close()
		}
	}
}

// Store exposes the shared price table
func (s *Service) Store() *pricestore.Store {
	return s.store
}

// Markets lists the configured markets
func (s *Service) Markets() []domain.Market {
	out := make([]domain.Market, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f.market)
	}
	return out
}

// Sources returns one quote source per market: the store partition for
// WebSocket markets, the REST client for polled ones.
func (s *Service) Sources() []tracker.Source {
	out := make([]tracker.Source, 0, len(s.feeds))
	for _, f := range s.feeds {
		var src domain.QuoteSource = f.partition
		if f.conn == nil {
			src = f.rest
		}
		out = append(out, tracker.Source{Market: f.market, Quotes: src})
	}
	return out
}

// Symbols returns the canonical symbols being tracked
func (s *Service) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

// States reports the connection state of every WebSocket market
func (s *Service) States() []domain.ConnectionState {
	var out []domain.ConnectionState
	for _, f := range s.feeds {
		if f.conn != nil {
			out = append(out, f.conn.State())
		}
	}
	return out
}

// discover refreshes each market's tradable set and recomputes the universe.
// A market whose discovery fails keeps its previous set.
func (s *Service) discover() {
	timeout := s.cfg.Collector.DiscoveryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	for _, f := range s.feeds {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		list, err := f.rest.TradableSymbols(ctx)
		cancel()
		if err != nil {
			s.logger.Warnf("[%s] Symbol discovery failed: %v", f.market.ID, err)
			continue
		}
		tradable := make(map[string]bool, len(list))
		for _, sym := range list {
			tradable[sym] = true
		}
		f.tradable = tradable
		s.logger.Debugf("[%s] %d tradable symbols", f.market.ID, len(list))
	}

	universe := s.universe()
	s.mu.Lock()
	s.symbols = universe
	s.mu.Unlock()
}

// universe is the configured symbol list filtered to symbols at least two
// markets trade. Without a configured list every shared symbol is tracked.
// Markets without a discovered set are assumed to trade everything configured.
func (s *Service) universe() []string {
	counts := make(map[string]int)
	if len(s.cfg.Symbols) > 0 {
		for _, raw := range s.cfg.Symbols {
			sym := strings.ToUpper(strings.TrimSpace(raw))
			for _, f := range s.feeds {
				if f.tradable == nil || f.tradable[sym] {
					counts[sym]++
				}
			}
		}
	} else {
		for _, f := range s.feeds {
			for sym := range f.tradable {
				counts[sym]++
			}
		}
	}

	var out []string
	for sym, n := range counts {
		if n >= 2 || len(s.feeds) == 1 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// subscribable filters the universe to what this market trades
func (f *feed) subscribable(universe []string) []string {
	if f.tradable == nil {
		return universe
	}
	out := make([]string, 0, len(universe))
	for _, sym := range universe {
		if f.tradable[sym] {
			out = append(out, sym)
		}
	}
	return out
}

func (s *Service) runDiscovery() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Collector.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			before := len(s.Symbols())
			s.discover()
			universe := s.Symbols()
			for _, f := range s.feeds {
				if f.conn != nil {
					f.conn.Subscribe(f.subscribable(universe))
				}
			}
			if len(universe) != before {
				s.logger.Infof("🔄 Symbol universe changed: %d -> %d", before, len(universe))
			}
		}
	}
}

func (s *Service) runStatsLogger() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Collector.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	for _, f := range s.feeds {
		if f.conn == nil {
			continue
		}
		st := f.conn.Stats()
		deltaRecv := st.Received - f.lastStats.Received
		deltaParsed := st.Parsed - f.lastStats.Parsed
		deltaDropped := st.Dropped - f.lastStats.Dropped
		f.lastStats = st

		state := f.conn.State()
		s.logger.Infof("📈 [%s] %s | recv=%d parsed=%d dropped=%d | live=%d pending=%d quotes=%d",
			f.market.ID, state.Status, deltaRecv, deltaParsed, deltaDropped,
			len(state.Live), len(state.Pending), f.partition.Len())
	}
}
