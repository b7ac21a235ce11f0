package pricestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
)

func quote(market domain.MarketID, symbol string, bid, ask float64) domain.MarketQuote {
	return domain.MarketQuote{MarketID: market, Symbol: symbol, BestBid: bid, BestAsk: ask, ObservedAt: time.Now()}
}

func TestPartition_PutAndGet(t *testing.T) {
	s := New()
	p := s.Partition("GATEIO_SPOT")

	if !p.Put(quote("GATEIO_SPOT", "BTC/USDT", 99, 100)) {
		t.Fatal("expected put to succeed")
	}
	got, ok := s.Get("GATEIO_SPOT", "BTC/USDT")
	if !ok || got.BestAsk != 100 || got.BestBid != 99 {
		t.Fatalf("unexpected quote %+v", got)
	}
	if s.Partition("GATEIO_SPOT") != p {
		t.Fatal("partition should be reused")
	}
}

func TestPartition_RejectsForeignAndPartial(t *testing.T) {
	p := New().Partition("MEXC_FUTURES")
	p.Put(quote("MEXC_FUTURES", "BTC/USDT", 99, 100))

	if p.Put(quote("GATEIO_SPOT", "BTC/USDT", 1, 2)) {
		t.Fatal("foreign market write accepted")
	}
	if p.Put(quote("MEXC_FUTURES", "BTC/USDT", 0, 2)) {
		t.Fatal("quote without bid accepted")
	}
	if p.Put(quote("MEXC_FUTURES", "BTC/USDT", 5, 0)) {
		t.Fatal("quote without ask accepted")
	}

	got, _ := p.Get("BTC/USDT")
	if got.BestBid != 99 || got.BestAsk != 100 {
		t.Fatalf("previous quote was modified: %+v", got)
	}
}

func TestPartition_Snapshot(t *testing.T) {
	p := New().Partition("GATEIO_SPOT")
	p.Put(quote("GATEIO_SPOT", "BTC/USDT", 1, 2))
	p.Put(quote("GATEIO_SPOT", "ETH/USDT", 3, 4))

	snap, err := p.Snapshot(context.Background(), []string{"ETH/USDT", "SOL/USDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 || snap["ETH/USDT"].BestAsk != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	all, _ := p.Snapshot(context.Background(), nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(all))
	}

	// the copy is detached from the partition
	delete(all, "BTC/USDT")
	if p.Len() != 2 {
		t.Fatal("snapshot aliases partition map")
	}
}

func TestStore_ConcurrentWritersOneReader(t *testing.T) {
	s := New()
	markets := []domain.MarketID{"A", "B", "C"}

	var wg sync.WaitGroup
	for _, m := range markets {
		wg.Add(1)
		go func(m domain.MarketID) {
			defer wg.Done()
			p := s.Partition(m)
			for i := 1; i <= 500; i++ {
				// bid and ask always move together so a torn read is detectable
				p.Put(quote(m, "BTC/USDT", float64(i), float64(i)+0.5))
			}
		}(m)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			for _, m := range markets {
				if q, ok := s.Get(m, "BTC/USDT"); ok && q.BestAsk-q.BestBid != 0.5 {
					t.Errorf("torn quote %+v", q)
					return
				}
			}
		}
	}()

	wg.Wait()
	<-done

	for _, m := range markets {
		q, ok := s.Get(m, "BTC/USDT")
		if !ok || q.BestBid != 500 {
			t.Fatalf("market %s final quote %+v", m, q)
		}
	}
}
