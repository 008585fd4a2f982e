package engine

import (
	"math/rand"
	"testing"
	"time"

	"shadow_exchange/internal/domain"
)

func TestPriceCache_DirectionSequence(t *testing.T) {
	cache, w := NewPriceCache()
	base := time.Unix(1700000000, 0)

	w.Apply("BTC", 65000.50, 2.35, base)
	s, ok := cache.GetPrice("BTC")
	if !ok {
		t.Fatal("expected BTC sample")
	}
	if s.Direction != domain.DirectionNeutral || s.HasPrevious() {
		t.Errorf("first sample should be neutral without previous, got %s", s.Direction)
	}

	w.Apply("BTC", 64990.00, 2.10, base.Add(time.Second))
	s, _ = cache.GetPrice("btc")
	if s.Price != 64990.00 || s.PriceChange24h != 2.10 {
		t.Errorf("unexpected sample %+v", s)
	}
	if s.Direction != domain.DirectionDown {
		t.Errorf("expected down, got %s", s.Direction)
	}
	if *s.PreviousPrice != 65000.50 {
		t.Errorf("expected previous 65000.50, got %v", *s.PreviousPrice)
	}

	w.Apply("BTC", 64990.00, 2.10, base.Add(2*time.Second))
	s, _ = cache.GetPrice("BTC")
	if s.Direction != domain.DirectionNeutral {
		t.Errorf("unchanged price should be neutral, got %s", s.Direction)
	}
}

// Direction must always reflect the immediately preceding accepted price.
func TestPriceCache_DirectionProperty(t *testing.T) {
	cache, w := NewPriceCache()
	rng := rand.New(rand.NewSource(42))

	var prev *float64
	for i := 0; i < 500; i++ {
		price := float64(rng.Intn(20) + 100)
		w.Apply("ETH", price, 0, time.Unix(int64(i), 0))
		s, _ := cache.GetPrice("ETH")

		want := domain.DirectionNeutral
		if prev != nil && price > *prev {
			want = domain.DirectionUp
		} else if prev != nil && price < *prev {
			want = domain.DirectionDown
		}
		if s.Direction != want {
			t.Fatalf("step %d: price %v prev %v got %s want %s", i, price, prev, s.Direction, want)
		}
		p := price
		prev = &p
	}
}

func TestPriceCache_GetEnhancedCoin(t *testing.T) {
	cache, w := NewPriceCache()
	coin := domain.Coin{ID: "bitcoin", Symbol: "btc", CurrentPrice: 60000, PriceChangePercentage24h: 1.0, MarketCap: 1e12}

	t.Run("identity without sample", func(t *testing.T) {
		got := cache.GetEnhancedCoin(coin)
		if got.CurrentPrice != 60000 || got.PriceChangePercentage24h != 1.0 || got.MarketCap != 1e12 {
			t.Errorf("coin should pass through unchanged, got %+v", got)
		}
	})

	t.Run("live sample wins", func(t *testing.T) {
		w.Apply("BTC", 65000.5, 2.35, time.Now())
		got := cache.GetEnhancedCoin(coin)
		if got.CurrentPrice != 65000.5 || got.PriceChangePercentage24h != 2.35 {
			t.Errorf("expected live override, got %+v", got)
		}
		if got.MarketCap != 1e12 || got.ID != "bitcoin" {
			t.Error("non-price fields must be preserved")
		}
		if coin.CurrentPrice != 60000 {
			t.Error("input coin must not be mutated")
		}
	})

	t.Run("EnhanceAll preserves order", func(t *testing.T) {
		out := cache.EnhanceAll([]domain.Coin{{Symbol: "eth", CurrentPrice: 3000}, coin})
		if out[0].CurrentPrice != 3000 || out[1].CurrentPrice != 65000.5 {
			t.Errorf("unexpected enhanced list %+v", out)
		}
	})
}

func TestPriceCache_Watch(t *testing.T) {
	cache, w := NewPriceCache()
	ch, cancel := cache.Watch(4)

	w.Apply("SOL", 150, 3, time.Now())

	select {
	case s := <-ch:
		if s.Symbol != "SOL" || s.Price != 150 {
			t.Errorf("unexpected sample %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("observer did not receive sample")
	}

	cancel()
	cancel() // idempotent
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}

	// Writer must not block once nobody listens.
	w.Apply("SOL", 151, 3, time.Now())
}

func TestPriceCache_SlowObserverDoesNotBlock(t *testing.T) {
	cache, w := NewPriceCache()
	_, cancel := cache.Watch(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Apply("ADA", float64(i), 0, time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on a slow observer")
	}
	if s, _ := cache.GetPrice("ADA"); s.Price != 99 {
		t.Errorf("expected last write to win, got %v", s.Price)
	}
}

func TestPriceCache_ConnectedFlag(t *testing.T) {
	cache, w := NewPriceCache()
	if cache.IsConnected() {
		t.Error("new cache should be disconnected")
	}
	w.SetConnected(true)
	if !cache.IsConnected() {
		t.Error("flag should follow writer")
	}
}
