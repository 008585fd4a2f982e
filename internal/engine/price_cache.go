package engine

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shadow_exchange/internal/domain"
)

// PriceCache maps symbol -> latest PriceSample.
// Reads are open to everyone; writes go through the PriceWriter handed out by
// NewPriceCache, which belongs to the stream manager.
type PriceCache struct {
	mu      sync.RWMutex
	samples map[string]domain.PriceSample

	connected atomic.Bool

	subsMu  sync.Mutex
	subs    map[uint64]chan domain.PriceSample
	nextSub uint64
	dropped atomic.Uint64
}

// PriceWriter is the only mutation path into a PriceCache.
type PriceWriter struct {
	c *PriceCache
}

// NewPriceCache creates an empty cache and its writer.
func NewPriceCache() (*PriceCache, *PriceWriter) {
	c := &PriceCache{
		samples: make(map[string]domain.PriceSample),
		subs:    make(map[uint64]chan domain.PriceSample),
	}
	return c, &PriceWriter{c: c}
}

// Apply records a new price for symbol, comparing it against the previous
// sample to derive the direction. Last write wins.
func (w *PriceWriter) Apply(symbol string, price, change24h float64, at time.Time) domain.PriceSample {
	sym := strings.ToUpper(symbol)

	w.c.mu.Lock()
	var prev *float64
	if old, ok := w.c.samples[sym]; ok {
		p := old.Price
		prev = &p
	}
	sample := domain.NewPriceSample(sym, price, change24h, prev, at)
	w.c.samples[sym] = sample
	w.c.mu.Unlock()

	w.c.publish(sample)
	return sample
}

// SetConnected updates the connectivity flag.
func (w *PriceWriter) SetConnected(connected bool) {
	w.c.connected.Store(connected)
}

// GetPrice returns the sample for the upper-cased symbol.
func (c *PriceCache) GetPrice(symbol string) (domain.PriceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.samples[strings.ToUpper(strings.TrimSpace(symbol))]
	return s, ok // Return copy
}

// GetEnhancedCoin overrides the coin's price and 24h change with the live
// sample for its symbol. Without a sample the coin is returned unchanged.
func (c *PriceCache) GetEnhancedCoin(coin domain.Coin) domain.Coin {
	s, ok := c.GetPrice(coin.Symbol)
	if !ok {
		return coin
	}
	coin.CurrentPrice = s.Price
	coin.PriceChangePercentage24h = s.PriceChange24h
	return coin
}

// EnhanceAll applies GetEnhancedCoin to every coin, preserving order.
func (c *PriceCache) EnhanceAll(coins []domain.Coin) []domain.Coin {
	out := make([]domain.Coin, len(coins))
	for i, coin := range coins {
		out[i] = c.GetEnhancedCoin(coin)
	}
	return out
}

// Samples returns every cached sample ordered by symbol.
func (c *PriceCache) Samples() []domain.PriceSample {
	c.mu.RLock()
	out := make([]domain.PriceSample, 0, len(c.samples))
	for _, s := range c.samples {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of symbols with a live sample.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// IsConnected reports whether the stream is live.
func (c *PriceCache) IsConnected() bool {
	return c.connected.Load()
}

// Watch registers an observer for every applied sample.
// Slow observers miss samples instead of stalling the writer.
// The returned func unregisters and closes the channel.
func (c *PriceCache) Watch(buffer int) (<-chan domain.PriceSample, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.PriceSample, buffer)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
			close(ch)
		})
	}
}

func (c *PriceCache) publish(s domain.PriceSample) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			if n := c.dropped.Add(1); n%1000 == 1 {
				slog.Debug("Price observer lagging, sample dropped",
					slog.String("symbol", s.Symbol), slog.Uint64("dropped", n))
			}
		}
	}
}
