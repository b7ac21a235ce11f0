package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/storage/pgstore"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type fakeTracker struct {
	res  domain.CycleResult
	err  error
	runs int
}

func (f *fakeTracker) RunCycle(context.Context) (domain.CycleResult, error) {
	f.runs++
	return f.res, f.err
}

func (f *fakeTracker) Latest() (domain.CycleResult, bool) {
	return f.res, f.runs > 0
}

type fakeSnapshots struct {
	ops []domain.ArbitrageOpportunity
	err error
}

func (f *fakeSnapshots) Load(context.Context) ([]domain.ArbitrageOpportunity, error) {
	return f.ops, f.err
}

type fakeHistory struct {
	got domain.SampleQuery
	avg float64
	n   int64
	err error
}

func (f *fakeHistory) Average(_ context.Context, q domain.SampleQuery) (float64, int64, error) {
	f.got = q
	return f.avg, f.n, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newApp(deps Deps) *fiber.App {
	app := fiber.New()
	SetupRoutes(app, NewHandler(deps, zap.NewNop().Sugar()))
	return app
}

func get(t *testing.T, app *fiber.App, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", target, err)
	}
	return resp.StatusCode, body
}

func ops(n int) []domain.ArbitrageOpportunity {
	out := make([]domain.ArbitrageOpportunity, n)
	for i := range out {
		out[i] = domain.ArbitrageOpportunity{Symbol: "BTC/USDT", SpreadPercent: float64(n - i)}
	}
	return out
}

func TestRunCycle(t *testing.T) {
	tr := &fakeTracker{res: domain.CycleResult{ID: "c1", Opportunities: ops(3), Degraded: true}}
	app := newApp(Deps{Tracker: tr, Snapshots: &fakeSnapshots{}})

	status, body := get(t, app, "/api/arbitrage-cron")
	if status != fiber.StatusOK {
		t.Fatalf("status %d", status)
	}
	if body["opportunities"] != float64(3) || body["degraded"] != true || body["id"] != "c1" {
		t.Fatalf("unexpected body %v", body)
	}

	tr.err = errors.New("cycle aborted")
	if status, _ := get(t, app, "/api/arbitrage-cron"); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
}

func TestOpportunities(t *testing.T) {
	snaps := &fakeSnapshots{ops: ops(5)}
	app := newApp(Deps{Tracker: &fakeTracker{}, Snapshots: snaps})

	status, body := get(t, app, "/api/arbitrage/opportunities?limit=2")
	if status != fiber.StatusOK {
		t.Fatalf("status %d", status)
	}
	if body["count"] != float64(5) || len(body["opportunities"].([]any)) != 2 {
		t.Fatalf("unexpected body %v", body)
	}

	if status, _ := get(t, app, "/api/arbitrage/opportunities?limit=x"); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}

	bounded := newApp(Deps{Tracker: &fakeTracker{}, Snapshots: snaps, DefaultLimit: 3})
	if _, body := get(t, bounded, "/api/arbitrage/opportunities"); len(body["opportunities"].([]any)) != 3 {
		t.Fatalf("default limit not applied: %v", body)
	}
	if _, body := get(t, bounded, "/api/arbitrage/opportunities?limit=0"); len(body["opportunities"].([]any)) != 5 {
		t.Fatalf("limit=0 should return all: %v", body)
	}

	snaps.ops = nil
	if _, body := get(t, app, "/api/arbitrage/opportunities"); len(body["opportunities"].([]any)) != 0 {
		t.Fatalf("empty snapshot should be an empty list, got %v", body)
	}

	snaps.err = errors.New("redis down")
	if status, _ := get(t, app, "/api/arbitrage/opportunities"); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestAverageSpread(t *testing.T) {
	hist := &fakeHistory{avg: 0.25, n: 4}
	app := newApp(Deps{Tracker: &fakeTracker{}, Snapshots: &fakeSnapshots{}, History: hist})

	url := "/api/average-spread?symbol=BTC/USDT&exchangeBuy=gateio&exchangeSell=mexc&direction=spot-to-future&window=1h"
	before := time.Now()
	status, body := get(t, app, url)
	if status != fiber.StatusOK {
		t.Fatalf("status %d: %v", status, body)
	}
	if body["averageSpread"] != 0.25 || body["samples"] != float64(4) {
		t.Fatalf("unexpected body %v", body)
	}
	if hist.got.Symbol != "BTC/USDT" || hist.got.Direction != domain.SpotToFuture {
		t.Fatalf("unexpected query %+v", hist.got)
	}
	if since := before.Sub(hist.got.Since); since < 59*time.Minute || since > 61*time.Minute {
		t.Fatalf("window not applied: %v", since)
	}

	hist.err = pgstore.ErrNoSamples
	status, body = get(t, app, url)
	if status != fiber.StatusOK || body["averageSpread"] != nil {
		t.Fatalf("no samples should be a null average, got %d %v", status, body)
	}

	for _, bad := range []string{
		"/api/average-spread?symbol=BTC/USDT",
		"/api/average-spread?symbol=BTC/USDT&exchangeBuy=gateio&exchangeSell=mexc&direction=sideways",
		"/api/average-spread?symbol=BTC/USDT&exchangeBuy=gateio&exchangeSell=mexc&direction=spot-to-future&window=-1h",
	} {
		if status, _ := get(t, app, bad); status != fiber.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", bad, status)
		}
	}
}

func TestAverageSpread_Disabled(t *testing.T) {
	app := newApp(Deps{Tracker: &fakeTracker{}, Snapshots: &fakeSnapshots{}})
	if status, _ := get(t, app, "/api/average-spread?symbol=BTC/USDT"); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestHealth(t *testing.T) {
	states := []domain.ConnectionState{{Market: "GATEIO_SPOT", Status: domain.StatusConnected}}
	deps := Deps{
		Tracker:   &fakeTracker{runs: 1, res: domain.CycleResult{ID: "c9"}},
		Snapshots: &fakeSnapshots{},
		States:    func() []domain.ConnectionState { return states },
		Pingers:   map[string]Pinger{"redis": fakePinger{}},
	}

	status, body := get(t, newApp(deps), "/api/health")
	if status != fiber.StatusOK || body["healthy"] != true {
		t.Fatalf("unexpected %d %v", status, body)
	}
	if conns := body["connections"].([]any); len(conns) != 1 {
		t.Fatalf("connections %v", conns)
	}
	if last := body["last_cycle"].(map[string]any); last["id"] != "c9" {
		t.Fatalf("last cycle %v", last)
	}

	deps.Pingers["postgres"] = fakePinger{err: errors.New("refused")}
	status, body = get(t, newApp(deps), "/api/health")
	if status != fiber.StatusServiceUnavailable || body["healthy"] != false {
		t.Fatalf("unexpected %d %v", status, body)
	}
}

func TestSetupRoutes(t *testing.T) {
	app := newApp(Deps{Tracker: &fakeTracker{}, Snapshots: &fakeSnapshots{}})

	mounted := make(map[string]bool)
	for _, r := range app.GetRoutes() {
		if r.Method == http.MethodGet {
			mounted[r.Path] = true
		}
	}
	for _, path := range []string{"/api/arbitrage-cron", "/api/arbitrage/opportunities", "/api/average-spread", "/api/health"} {
		if !mounted[path] {
			t.Errorf("%s not mounted", path)
		}
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("routes must live under /api, got %d", resp.StatusCode)
	}
}
