package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of a streaming connection.
type ConnState int32

const (
	StateIdle       ConnState = iota // No connection, nothing scheduled
	StateConnecting                  // Dial in flight
	StateLive                        // Handshake done, reading frames
	StateClosed                      // Connection lost or dial failed
	StateBackoff                     // Waiting before the next attempt
	StateTerminated                  // Torn down, no further attempts
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateLive:
		return "LIVE"
	case StateClosed:
		return "CLOSED"
	case StateBackoff:
		return "BACKOFF"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxRetries bounds automatic reconnects after a close or failed dial.
const DefaultMaxRetries = 5

// WebSocketHandler defines feed-specific logic for the BaseWSWorker.
type WebSocketHandler interface {
	GetURL() string
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// BaseWSWorker manages the lifecycle of one WebSocket connection.
// It reconnects with exponential backoff until MaxRetries consecutive
// attempts have failed, then rests in StateIdle.
type BaseWSWorker struct {
	handler WebSocketHandler
	mu      sync.RWMutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	state         atomic.Int32
	onStateChange func(ConnState)

	ReadTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxRetries       int
	Backoff          Backoff
	// InitialDelay postpones the first dial.
	InitialDelay time.Duration
}

// NewBaseWSWorker creates a new generic WebSocket worker.
func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		handler:          handler,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxRetries:       DefaultMaxRetries,
		Backoff:          DefaultBackoff(),
	}
}

// OnStateChange registers a callback invoked on every transition.
// It must not block or call back into the worker. Set it before Start.
func (w *BaseWSWorker) OnStateChange(fn func(ConnState)) {
	w.onStateChange = fn
}

// State returns the current lifecycle state.
func (w *BaseWSWorker) State() ConnState {
	return ConnState(w.state.Load())
}

// Connected reports whether the connection is live.
func (w *BaseWSWorker) Connected() bool {
	return w.State() == StateLive
}

// Start initiates the connection loop.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker: it cancels any pending backoff, closes the
// socket and waits for the worker goroutines to exit.
func (w *BaseWSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
	w.setState(StateTerminated)
}

func (w *BaseWSWorker) setState(s ConnState) {
	if ConnState(w.state.Swap(int32(s))) == s {
		return
	}
	if w.onStateChange != nil {
		w.onStateChange(s)
	}
}

func (w *BaseWSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	if w.InitialDelay > 0 {
		w.setState(StateBackoff)
		if !w.sleep(ctx, w.InitialDelay) {
			w.setState(StateTerminated)
			return
		}
	}

	for {
		if ctx.Err() != nil {
			w.setState(StateTerminated)
			return
		}

		w.setState(StateConnecting)
		if err := w.connect(ctx); err != nil {
			slog.Warn("WS Connection failed", "id", w.handler.ID(), "err", err, "retry", retry)
		} else {
			retry = 0 // Reset on successful connect
			w.setState(StateLive)
			w.process(ctx)
		}

		w.setState(StateClosed)
		if ctx.Err() != nil {
			w.setState(StateTerminated)
			return
		}

		if retry >= w.MaxRetries {
			slog.Warn("WS Retries exhausted", "id", w.handler.ID(), "retries", retry)
			w.setState(StateIdle)
			return
		}

		delay := w.Backoff.Delay(retry)
		retry++
		w.setState(StateBackoff)
		slog.Info("WS Reconnect scheduled", "id", w.handler.ID(), "attempt", retry, "delay", delay)

		if !w.sleep(ctx, delay) {
			w.setState(StateTerminated)
			return
		}
	}
}

func (w *BaseWSWorker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *BaseWSWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.HandshakeTimeout}
	header := make(http.Header)
	header.Set("User-Agent", GetUserAgent())

	conn, resp, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial (status %d): %w", resp.StatusCode, err)
		}
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	// Stop cancels before it closes, so a dial finishing after Stop's close
	// is caught here.
	if ctx.Err() != nil {
		w.close()
		return ctx.Err()
	}

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	slog.Info("WS Connected", "id", w.handler.ID())
	return nil
}

func (w *BaseWSWorker) process(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if w.PingInterval > 0 {
		w.wg.Add(1)
		go w.pingLoop(connCtx)
	}

	for {
		if ctx.Err() != nil {
			w.close()
			return
		}
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		if w.ReadTimeout > 0 {
			c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		}
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS Read error", "id", w.handler.ID(), "err", err)
			}
			w.close()
			return
		}

		w.handler.OnMessage(ctx, msg)
	}
}

func (w *BaseWSWorker) pingLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			c := w.conn
			w.mu.RUnlock()
			if c == nil {
				return
			}
			if err := w.handler.OnPing(ctx, c); err != nil {
				slog.Warn("WS Ping error", "id", w.handler.ID(), "err", err)
				w.close()
				return
			}
		}
	}
}

func (w *BaseWSWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
