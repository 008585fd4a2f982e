package binance

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/engine"
	"shadow_exchange/internal/infra"
)

const (
	// DefaultStreamURL is the combined stream endpoint.
	DefaultStreamURL = "wss://stream.binance.com:9443/stream"
	// MaxSymbols caps one combined subscription.
	MaxSymbols = 50
)

// NoRetries in Options.MaxRetries disables automatic reconnects.
const NoRetries = -1

// ErrClosed is returned by operations on a closed StreamManager.
var ErrClosed = errors.New("stream manager closed")

// Options tune a StreamManager. Zero values fall back to defaults.
type Options struct {
	BaseURL      string
	MaxRetries   int
	Backoff      infra.Backoff
	ReadTimeout  time.Duration
	PingInterval time.Duration
	// ResubscribeCooldown delays a new subscription that follows an
	// exhausted retry cycle by at most this long.
	ResubscribeCooldown time.Duration
}

// StreamManager keeps one combined ticker connection matching the current
// subscription set and writes every accepted frame into the price cache.
type StreamManager struct {
	opts   Options
	writer *engine.PriceWriter
	now    func() time.Time

	mu      sync.Mutex
	parent  context.Context
	symbols []string
	worker  *infra.BaseWSWorker
	closed  bool

	state       atomic.Int32
	exhaustedAt atomic.Int64 // unix nanos of the last exhausted cycle
	listenersMu sync.Mutex
	listeners   []func(infra.ConnState)

	log *slog.Logger
}

// NewStreamManager creates an idle manager owning writer.
func NewStreamManager(writer *engine.PriceWriter, opts Options) *StreamManager {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultStreamURL
	}
	switch {
	case opts.MaxRetries == NoRetries:
		opts.MaxRetries = 0
	case opts.MaxRetries <= 0:
		opts.MaxRetries = infra.DefaultMaxRetries
	}
	if opts.Backoff.Base <= 0 || opts.Backoff.Max <= 0 {
		opts.Backoff = infra.DefaultBackoff()
	}
	m := &StreamManager{
		opts:   opts,
		writer: writer,
		now:    time.Now,
		parent: context.Background(),
		log:    slog.Default().With("component", "binance_stream"),
	}
	m.state.Store(int32(infra.StateIdle))
	return m
}

// Start binds the manager to ctx. Cancelling ctx tears the connection down.
func (m *StreamManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.parent = ctx
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.Close()
	}()
}

// OnStateChange registers an observer of connection state transitions.
func (m *StreamManager) OnStateChange(fn func(infra.ConnState)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// FilterSymbols normalizes a requested symbol list: upper-cases, drops
// blanks, stable quotes and duplicates, and keeps at most MaxSymbols.
func FilterSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" || domain.IsStableQuote(sym) || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
		if len(out) == MaxSymbols {
			break
		}
	}
	return out
}

// StreamURL builds the combined ticker URL for symbols.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + strings.ToLower(quoteSuffix) + "@ticker"
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

// Subscribe replaces the subscription set. A changed set closes the current
// connection and opens a new one with a fresh retry budget; an unchanged set
// is a no-op. An empty filtered set leaves the manager idle.
func (m *StreamManager) Subscribe(symbols []string) error {
	next := FilterSymbols(symbols)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if sameSet(m.symbols, next) && (m.worker != nil || len(next) == 0) {
		return nil
	}

	m.stopWorkerLocked()
	m.symbols = next

	if len(next) == 0 {
		m.setState(infra.StateIdle)
		m.log.Info("No streamable symbols, staying idle")
		return nil
	}

	m.startWorkerLocked()
	return nil
}

// Reconnect restarts the current subscription with a fresh retry budget.
func (m *StreamManager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.stopWorkerLocked()
	if len(m.symbols) == 0 {
		m.setState(infra.StateIdle)
		return nil
	}
	m.startWorkerLocked()
	return nil
}

// Close tears the manager down. No further connections are made.
func (m *StreamManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.stopWorkerLocked()
	m.setState(infra.StateTerminated)
	m.log.Info("Stream manager terminated")
}

// Symbols returns the active subscription set.
func (m *StreamManager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symbols...)
}

// State returns the connection state.
func (m *StreamManager) State() infra.ConnState {
	return infra.ConnState(m.state.Load())
}

// IsConnected reports whether the stream is live.
func (m *StreamManager) IsConnected() bool {
	return m.State() == infra.StateLive
}

func (m *StreamManager) startWorkerLocked() {
	h := &tickerHandler{
		url:    StreamURL(m.opts.BaseURL, m.symbols),
		writer: m.writer,
		now:    m.now,
	}
	w := infra.NewBaseWSWorker(h)
	w.MaxRetries = m.opts.MaxRetries
	w.Backoff = m.opts.Backoff
	if m.opts.ReadTimeout > 0 {
		w.ReadTimeout = m.opts.ReadTimeout
	}
	if m.opts.PingInterval > 0 {
		w.PingInterval = m.opts.PingInterval
	}
	w.InitialDelay = m.cooldownRemaining()
	w.OnStateChange(func(s infra.ConnState) {
		// Terminated is reported by the manager itself on Close.
		if s == infra.StateTerminated {
			return
		}
		if s == infra.StateIdle {
			m.exhaustedAt.Store(m.now().UnixNano())
		}
		m.setState(s)
	})

	m.worker = w
	w.Start(m.parent)
	m.log.Info("Subscribed to ticker streams", slog.Int("symbols", len(m.symbols)))
}

// stopWorkerLocked closes the connection and cancels any pending retry,
// waiting for the worker to exit so no stale attempt can fire.
func (m *StreamManager) stopWorkerLocked() {
	if m.worker == nil {
		return
	}
	m.worker.Stop()
	m.worker = nil
	m.writer.SetConnected(false)
}

func (m *StreamManager) cooldownRemaining() time.Duration {
	if m.opts.ResubscribeCooldown <= 0 {
		return 0
	}
	at := m.exhaustedAt.Load()
	if at == 0 {
		return 0
	}
	left := m.opts.ResubscribeCooldown - m.now().Sub(time.Unix(0, at))
	if left < 0 {
		return 0
	}
	return left
}

func (m *StreamManager) setState(s infra.ConnState) {
	if infra.ConnState(m.state.Swap(int32(s))) == s {
		return
	}
	m.writer.SetConnected(s == infra.StateLive)

	m.listenersMu.Lock()
	ls := append([]func(infra.ConnState){}, m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range ls {
		fn(s)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
