package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("KV_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Connect(ctx, url)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := fmt.Sprintf("test:snapshot:%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), key) })

	store := NewSnapshotStore(client, key, time.Minute, zap.NewNop().Sugar())

	got, err := store.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("missing key should load empty, got %v %v", got, err)
	}

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch := []domain.ArbitrageOpportunity{{
		Symbol:             "BTC/USDT",
		BuyLeg:             domain.Leg{MarketID: "GATEIO_SPOT", Venue: domain.VenueGateIO, MarketType: domain.MarketSpot, Price: 100},
		SellLeg:            domain.Leg{MarketID: "MEXC_FUTURES", Venue: domain.VenueMEXC, MarketType: domain.MarketFutures, Price: 100.5},
		SpreadPercent:      0.5,
		Direction:          domain.SpotToFuture,
		DetectedAt:         ts,
		MaxSpread24h:       0.7,
		MaxSpreadTimestamp: ts.Add(-time.Hour),
	}}
	if err := store.Save(ctx, batch); err != nil {
		t.Fatal(err)
	}

	got, err = store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key() != batch[0].Key() || got[0].MaxSpread24h != 0.7 || !got[0].MaxSpreadTimestamp.Equal(ts.Add(-time.Hour)) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// an empty batch replaces the previous one
	if err := store.Save(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Load(ctx); len(got) != 0 {
		t.Fatalf("expected empty batch, got %+v", got)
	}
}

func TestSnapshotStore_CorruptValue(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := fmt.Sprintf("test:snapshot:%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), key) })

	if err := client.Set(ctx, key, "{not json", 0).Err(); err != nil {
		t.Fatal(err)
	}
	store := NewSnapshotStore(client, key, 0, zap.NewNop().Sugar())
	if got, err := store.Load(ctx); err != nil || got != nil {
		t.Fatalf("corrupt value should load empty, got %v %v", got, err)
	}
}
