package engine

import (
	"sync"
	"time"

	"shadow_exchange/internal/domain"
)

// FlashDuration is how long a cell shows the direction of a new sample.
const FlashDuration = 500 * time.Millisecond

// PriceSource is the read side of the price cache.
type PriceSource interface {
	GetPrice(symbol string) (domain.PriceSample, bool)
}

// CellView is what a single price cell renders.
type CellView struct {
	Symbol    string           `json:"symbol"`
	Price     float64          `json:"price"`
	Change24h float64          `json:"change_24h"`
	Live      bool             `json:"live"`
	Flash     domain.Direction `json:"flash"`
}

// FlashCell merges a REST fallback price with the live sample for one
// displayed cell and keeps a short-lived flash direction.
// The flash is keyed by the sample timestamp: a new sample restarts the
// timer, repeated reads of the same sample do not.
type FlashCell struct {
	mu sync.Mutex

	src            PriceSource
	symbol         string
	fallback       float64
	fallbackChange float64
	duration       time.Duration

	lastKey time.Time
	flash   domain.Direction
	gen     uint64
	timer   *time.Timer
}

// NewFlashCell creates a cell for symbol with the REST price as fallback.
func NewFlashCell(src PriceSource, symbol string, fallback, fallbackChange float64) *FlashCell {
	return &FlashCell{
		src:            src,
		symbol:         symbol,
		fallback:       fallback,
		fallbackChange: fallbackChange,
		duration:       FlashDuration,
		flash:          domain.DirectionNeutral,
	}
}

// WithDuration overrides the flash duration.
func (f *FlashCell) WithDuration(d time.Duration) *FlashCell {
	f.mu.Lock()
	f.duration = d
	f.mu.Unlock()
	return f
}

// SetFallback replaces the REST-sourced price.
func (f *FlashCell) SetFallback(price, change24h float64) {
	f.mu.Lock()
	f.fallback = price
	f.fallbackChange = change24h
	f.mu.Unlock()
}

// View reads the live sample and returns the merged cell state.
func (f *FlashCell) View() CellView {
	sample, live := f.src.GetPrice(f.symbol)

	f.mu.Lock()
	defer f.mu.Unlock()

	if live && !sample.LastUpdate.Equal(f.lastKey) {
		f.lastKey = sample.LastUpdate
		f.restart(sample.Direction)
	}

	v := CellView{
		Symbol:    f.symbol,
		Price:     f.fallback,
		Change24h: f.fallbackChange,
		Flash:     f.flash,
	}
	if live {
		v.Price = sample.Price
		v.Change24h = sample.PriceChange24h
		v.Live = true
	}
	return v
}

// Stop cancels any pending decay.
func (f *FlashCell) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.gen++
}

// restart must be called with mu held.
func (f *FlashCell) restart(dir domain.Direction) {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.gen++
	f.flash = dir
	if dir == domain.DirectionNeutral {
		return
	}

	gen := f.gen
	f.timer = time.AfterFunc(f.duration, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		// A newer sample already took over.
		if f.gen != gen {
			return
		}
		f.flash = domain.DirectionNeutral
		f.timer = nil
	})
}
