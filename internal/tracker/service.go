// Package tracker runs the detection cycle: read quotes, compute spreads,
// fold them into the rolling maximum and persist the batch.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fushengyk/spreadscan/internal/config"
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/spread"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrCycleBusy is returned when a cycle is already running
var ErrCycleBusy = errors.New("detection cycle already running")

// SnapshotStore keeps the latest opportunity batch under one key
type SnapshotStore interface {
	Load(ctx context.Context) ([]domain.ArbitrageOpportunity, error)
	Save(ctx context.Context, ops []domain.ArbitrageOpportunity) error
}

// HistoryStore appends spread samples and drops old ones
type HistoryStore interface {
	Record(ctx context.Context, samples []domain.SpreadSample) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Publisher announces a finished cycle
type Publisher interface {
	Publish(ctx context.Context, res domain.CycleResult) error
}

// Alerter decides which opportunities reach a human
type Alerter interface {
	Notify(ops []domain.ArbitrageOpportunity)
}

// Source is one market the cycle reads from
type Source struct {
	Market domain.Market
	Quotes domain.QuoteSource
}

// Pair is evaluated in both directions
type Pair struct {
	A, B      domain.Market
	Threshold float64
}

// Deps wires the service to its collaborators. Only Snapshots is required.
type Deps struct {
	Sources   []Source
	Pairs     []Pair
	Symbols   func() []string // nil or empty: every symbol quoted in a cycle
	Snapshots SnapshotStore
	History   HistoryStore
	Publisher Publisher
	Alerter   Alerter
}

// Service runs detection cycles, one at a time
type Service struct {
	cfg     config.TrackerConfig
	history config.HistoryConfig
	deps    Deps
	logger  *zap.SugaredLogger
	now     func() time.Time
	inspect func(symbol string) // called before each symbol is evaluated; nil in production

	sem chan struct{}

	mu     sync.RWMutex
	latest *domain.CycleResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// NewService creates a tracker
func NewService(cfg config.TrackerConfig, history config.HistoryConfig, deps Deps, logger *zap.SugaredLogger) (*Service, error) {
	if deps.Snapshots == nil {
		return nil, errors.New("tracker: snapshot store is required")
	}
	if len(deps.Pairs) == 0 {
		return nil, errors.New("tracker: no pairs configured")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		history: history,
		deps:    deps,
		logger:  logger,
		now:     time.Now,
		sem:     make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start runs cycles on the configured interval and schedules history pruning
func (s *Service) Start() error {
	s.logger.Infof("🔍 Starting Tracker Service (%d pairs, interval %v)...", len(s.deps.Pairs), s.cfg.Interval)

	if s.deps.History != nil && s.history.Retention > 0 && s.history.PruneSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.history.PruneSchedule, s.prune); err != nil {
			return fmt.Errorf("prune schedule %q: %w", s.history.PruneSchedule, err)
		}
		c.Start()
		s.cron = c
		s.logger.Infof("✅ History pruning scheduled (%s, retention %v)", s.history.PruneSchedule, s.history.Retention)
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the loop and waits for a running cycle to return
func (s *Service) Stop() {
	s.logger.Info("🛑 Stopping Tracker Service...")
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()

	if s.cfg.WarmUp > 0 {
		select {
		case <-time.After(s.cfg.WarmUp):
		case <-s.ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.tick()
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick skips when a requested cycle is still running
func (s *Service) tick() {
	res, err := s.TryRunCycle(s.ctx)
	switch {
	case errors.Is(err, ErrCycleBusy):
		s.logger.Debug("Cycle busy, skipping tick")
	case err != nil:
		if s.ctx.Err() == nil {
			s.logger.Warnf("Cycle failed: %v", err)
		}
	default:
		s.logger.Debugf("Cycle %s: %d opportunities in %v", res.ID, len(res.Opportunities), res.FinishedAt.Sub(res.StartedAt))
	}
}

// RunCycle waits for the running cycle, if any, then runs one
func (s *Service) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return domain.CycleResult{}, ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.runCycle(ctx)
}

// TryRunCycle runs a cycle or returns ErrCycleBusy immediately
func (s *Service) TryRunCycle(ctx context.Context) (domain.CycleResult, error) {
	select {
	case s.sem <- struct{}{}:
	default:
		return domain.CycleResult{}, ErrCycleBusy
	}
	defer func() { <-s.sem }()
	return s.runCycle(ctx)
}

// Latest returns the last completed cycle
func (s *Service) Latest() (domain.CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.CycleResult{}, false
	}
	return *s.latest, true
}

func (s *Service) runCycle(ctx context.Context) (domain.CycleResult, error) {
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	now := s.now()
	res := domain.CycleResult{ID: uuid.NewString(), StartedAt: now}

	quotes := s.fetchAll(ctx, now, &res)
	candidates := s.evaluate(quotes, now, &res)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("cycle aborted: %w", err)
	}

	prior, err := s.deps.Snapshots.Load(ctx)
	loaded := err == nil
	if !loaded {
		// every key restarts its window for this cycle only; the stored
		// batch is left untouched so maxima survive the outage
		s.degrade(&res, "load snapshot: %v (batch not saved)", err)
		prior = nil
	}

	merged := Merge(candidates, prior, now, s.cfg.Window)
	SortBySpread(merged)
	res.Opportunities = merged

	if loaded {
		if err := s.deps.Snapshots.Save(ctx, merged); err != nil {
			s.degrade(&res, "save snapshot: %v", err)
		}
	}

	if s.deps.History != nil && len(merged) > 0 {
		samples := make([]domain.SpreadSample, 0, len(merged))
		for _, op := range merged {
			samples = append(samples, domain.SampleFromOpportunity(op))
		}
		if err := s.deps.History.Record(ctx, samples); err != nil {
			s.degrade(&res, "record history: %v", err)
		}
	}

	res.FinishedAt = s.now()

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(ctx, res); err != nil {
			s.warn(&res, "publish: %v", err)
		}
	}
	if s.deps.Alerter != nil {
		s.deps.Alerter.Notify(merged)
	}

	s.mu.Lock()
	s.latest = &res
	s.mu.Unlock()

	if res.Degraded {
		s.logger.Warnf("⚠️ Cycle %s degraded: %v", res.ID, res.Warnings)
	}
	return res, nil
}

type fetchResult struct {
	market domain.MarketID
	quotes map[string]domain.MarketQuote
	err    error
}

// fetchAll reads every source concurrently. A source that fails or exceeds
// the fetch timeout contributes no quotes.
func (s *Service) fetchAll(ctx context.Context, now time.Time, res *domain.CycleResult) map[domain.MarketID]map[string]domain.MarketQuote {
	var symbols []string
	if s.deps.Symbols != nil {
		symbols = s.deps.Symbols()
	}

	results := make(chan fetchResult, len(s.deps.Sources))
	for _, src := range s.deps.Sources {
		go func(src Source) {
			q, err := s.fetchOne(ctx, src, symbols)
			results <- fetchResult{market: src.Market.ID, quotes: q, err: err}
		}(src)
	}

	out := make(map[domain.MarketID]map[string]domain.MarketQuote, len(s.deps.Sources))
	for range s.deps.Sources {
		r := <-results
		if r.err != nil {
			s.warn(res, "%s: %v", r.market, r.err)
			continue
		}
		fresh := make(map[string]domain.MarketQuote, len(r.quotes))
		for sym, q := range r.quotes {
			if s.cfg.MaxQuoteAge > 0 && now.Sub(q.ObservedAt) > s.cfg.MaxQuoteAge {
				continue
			}
			fresh[sym] = q
		}
		out[r.market] = fresh
	}
	return out
}

func (s *Service) fetchOne(ctx context.Context, src Source, symbols []string) (map[string]domain.MarketQuote, error) {
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	// sources that ignore ctx are abandoned at the deadline
	done := make(chan fetchResult, 1)
	go func() {
		q, err := src.Quotes.Snapshot(ctx, symbols)
		done <- fetchResult{quotes: q, err: err}
	}()

	select {
	case r := <-done:
		return r.quotes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evaluate computes both directions of every pair for every symbol
func (s *Service) evaluate(quotes map[domain.MarketID]map[string]domain.MarketQuote, now time.Time, res *domain.CycleResult) []domain.ArbitrageOpportunity {
	symbols := s.universe(quotes)
	best := make(map[string]domain.ArbitrageOpportunity)

	for _, sym := range symbols {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.warn(res, "%s: evaluation panic: %v", sym, r)
				}
			}()
			if s.inspect != nil {
				s.inspect(sym)
			}
			for _, p := range s.deps.Pairs {
				qa, okA := quotes[p.A.ID][sym]
				qb, okB := quotes[p.B.ID][sym]
				if !okA || !okB {
					continue
				}
				for _, op := range []*domain.ArbitrageOpportunity{
					candidate(sym, p.A, qa, p.B, qb, p.Threshold, now),
					candidate(sym, p.B, qb, p.A, qa, p.Threshold, now),
				} {
					if op == nil {
						continue
					}
					if prev, ok := best[op.Key()]; !ok || op.SpreadPercent > prev.SpreadPercent {
						best[op.Key()] = *op
					}
				}
			}
		}()
	}

	out := make([]domain.ArbitrageOpportunity, 0, len(best))
	for _, op := range best {
		out = append(out, op)
	}
	return out
}

func (s *Service) universe(quotes map[domain.MarketID]map[string]domain.MarketQuote) []string {
	if s.deps.Symbols != nil {
		if syms := s.deps.Symbols(); len(syms) > 0 {
			return syms
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range quotes {
		for sym := range m {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

// candidate buys on buyM at its ask and sells on sellM at its bid.
// nil when the spread is not retained.
func candidate(symbol string, buyM domain.Market, buy domain.MarketQuote, sellM domain.Market, sell domain.MarketQuote, threshold float64, now time.Time) *domain.ArbitrageOpportunity {
	pct, ok := spread.Calculate(buy, sell)
	if !ok || !spread.Retained(pct, threshold) {
		return nil
	}

	var funding *float64
	switch {
	case sellM.Type == domain.MarketFutures && sell.FundingRate != nil:
		funding = sell.FundingRate
	case buyM.Type == domain.MarketFutures:
		funding = buy.FundingRate
	}

	return &domain.ArbitrageOpportunity{
		Symbol:             symbol,
		BuyLeg:             domain.Leg{MarketID: buyM.ID, Venue: buyM.Venue, MarketType: buyM.Type, Price: buy.BestAsk},
		SellLeg:            domain.Leg{MarketID: sellM.ID, Venue: sellM.Venue, MarketType: sellM.Type, Price: sell.BestBid},
		SpreadPercent:      pct,
		Direction:          domain.DirectionOf(buyM.Type, sellM.Type),
		FundingRate:        funding,
		DetectedAt:         now,
		MaxSpread24h:       pct,
		MaxSpreadTimestamp: now,
	}
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	before := s.now().Add(-s.history.Retention)
	n, err := s.deps.History.Prune(ctx, before)
	if err != nil {
		s.logger.Errorf("History prune failed: %v", err)
		return
	}
	s.logger.Infof("🧹 Pruned %d spread samples older than %s", n, before.Format(time.RFC3339))
}

// warn records a non-fatal problem on the result
func (s *Service) warn(res *domain.CycleResult, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	res.Warnings = append(res.Warnings, msg)
	s.logger.Warn(msg)
}

func (s *Service) degrade(res *domain.CycleResult, format string, args ...any) {
	res.Degraded = true
	s.warn(res, format, args...)
}
