package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/storage/pgstore"
	"github.com/fushengyk/spreadscan/internal/tracker"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// CycleRunner runs and reports detection cycles
type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleResult, error)
	Latest() (domain.CycleResult, bool)
}

// SnapshotReader reads the persisted opportunity batch
type SnapshotReader interface {
	Load(ctx context.Context) ([]domain.ArbitrageOpportunity, error)
}

// SpreadAverager computes the mean spread over a window
type SpreadAverager interface {
	Average(ctx context.Context, q domain.SampleQuery) (float64, int64, error)
}

// Pinger is a backing service checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers read from. History and Pingers may be nil.
type Deps struct {
	Tracker   CycleRunner
	Snapshots SnapshotReader
	History   SpreadAverager
	States    func() []domain.ConnectionState
	Pingers   map[string]Pinger

	// DefaultLimit bounds /arbitrage/opportunities when no limit is given; 0 returns all
	DefaultLimit int
}

// Handler serves the HTTP surface
type Handler struct {
	deps   Deps
	logger *zap.SugaredLogger
}

// NewHandler creates a handler
func NewHandler(deps Deps, logger *zap.SugaredLogger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// RunCycle handles GET /api/arbitrage-cron
func (h *Handler) RunCycle(c fiber.Ctx) error {
	res, err := h.deps.Tracker.RunCycle(c.Context())
	if err != nil {
		h.logger.Errorf("Cycle failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":        "ok",
		"id":            res.ID,
		"opportunities": len(res.Opportunities),
		"degraded":      res.Degraded,
		"warnings":      res.Warnings,
	})
}

// Opportunities handles GET /api/arbitrage/opportunities?limit=N
func (h *Handler) Opportunities(c fiber.Ctx) error {
	limit := h.deps.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a non-negative integer",
			})
		}
		limit = n
	}

	ops, err := h.deps.Snapshots.Load(c.Context())
	if err != nil {
		h.logger.Warnf("Snapshot read failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "snapshot store unavailable",
		})
	}
	if ops == nil {
		ops = []domain.ArbitrageOpportunity{}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"count":         len(ops),
		"opportunities": tracker.TopN(ops, limit),
	})
}

// AverageSpread handles GET /api/average-spread
func (h *Handler) AverageSpread(c fiber.Ctx) error {
	if h.deps.History == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "spread history is disabled",
		})
	}

	symbol := c.Query("symbol")
	exchangeBuy := c.Query("exchangeBuy")
	exchangeSell := c.Query("exchangeSell")
	direction := domain.Direction(c.Query("direction"))

	if symbol == "" || exchangeBuy == "" || exchangeSell == "" || direction == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "symbol, exchangeBuy, exchangeSell and direction are required",
		})
	}
	switch direction {
	case domain.SpotToFuture, domain.FutureToSpot, domain.SpotToSpot, domain.FutureToFuture:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid direction",
		})
	}

	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "window must be a positive duration like 24h",
			})
		}
		window = d
	}

	q := domain.SampleQuery{
		Symbol:       symbol,
		ExchangeBuy:  exchangeBuy,
		ExchangeSell: exchangeSell,
		Direction:    direction,
		Since:        time.Now().Add(-window),
	}
	avg, n, err := h.deps.History.Average(c.Context(), q)
	if errors.Is(err, pgstore.ErrNoSamples) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"averageSpread": nil,
			"samples":       0,
			"message":       "no spread samples in window",
		})
	}
	if err != nil {
		h.logger.Errorf("Average spread failed for %s: %v", symbol, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute average spread",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"averageSpread": avg,
		"samples":       n,
		"window":        window.String(),
	})
}

// Health handles GET /api/health
func (h *Handler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	services := make(map[string]string, len(h.deps.Pingers))
	for name, p := range h.deps.Pingers {
		if err := p.Ping(ctx); err != nil {
			services[name] = err.Error()
			healthy = false
			continue
		}
		services[name] = "ok"
	}

	var states []domain.ConnectionState
	if h.deps.States != nil {
		states = h.deps.States()
	}

	body := fiber.Map{
		"healthy":     healthy,
		"services":    services,
		"connections": states,
	}
	if latest, ok := h.deps.Tracker.Latest(); ok {
		body["last_cycle"] = fiber.Map{
			"id":          latest.ID,
			"finished_at": latest.FinishedAt,
			"degraded":    latest.Degraded,
		}
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(body)
}
