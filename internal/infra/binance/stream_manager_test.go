package binance

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/engine"
	"shadow_exchange/internal/infra"

	"github.com/gorilla/websocket"
)

// mockBinanceServer upgrades every request, records its stream query and
// hands the connection to serve.
type mockBinanceServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []string
	conns   int32
}

func newMockBinanceServer(t *testing.T, serve func(*websocket.Conn)) *mockBinanceServer {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	m := &mockBinanceServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.queries = append(m.queries, r.URL.Query().Get("streams"))
		m.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		atomic.AddInt32(&m.conns, 1)
		serve(conn)
	}))
	return m
}

func (m *mockBinanceServer) streamURL() string {
	return strings.Replace(m.URL, "http://", "ws://", 1) + "/stream"
}

func (m *mockBinanceServer) lastQuery() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return ""
	}
	return m.queries[len(m.queries)-1]
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFilterSymbols(t *testing.T) {
	t.Run("drops stable quotes and duplicates", func(t *testing.T) {
		got := FilterSymbols([]string{"btc", "USDT", "eth", "BTC", " ", "usdc", "sol"})
		want := []string{"BTC", "ETH", "SOL"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("caps at MaxSymbols after filtering", func(t *testing.T) {
		in := []string{"USDT"}
		for i := 0; i < 60; i++ {
			in = append(in, fmt.Sprintf("coin%d", i))
		}
		got := FilterSymbols(in)
		if len(got) != MaxSymbols {
			t.Errorf("expected %d symbols, got %d", MaxSymbols, len(got))
		}
		for _, s := range got {
			if s == "USDT" {
				t.Error("USDT must be filtered")
			}
		}
	})
}

func TestStreamURL(t *testing.T) {
	got := StreamURL(DefaultStreamURL, []string{"BTC", "ETH"})
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@ticker/ethusdt@ticker"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParseTicker(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		ok     bool
		symbol string
		price  float64
		change float64
	}{
		{"valid", `{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"65000.50","P":"2.35"}}`, true, "BTC", 65000.50, 2.35},
		{"lower-case symbol", `{"data":{"s":"ethusdt","c":"3000","P":"-1.5"}}`, true, "ETH", 3000, -1.5},
		{"missing change", `{"data":{"s":"SOLUSDT","c":"150"}}`, true, "SOL", 150, 0},
		{"null data", `{"data":null}`, false, "", 0, 0},
		{"missing symbol", `{"data":{"c":"1"}}`, false, "", 0, 0},
		{"missing price", `{"data":{"s":"BTCUSDT","P":"1"}}`, false, "", 0, 0},
		{"bad price", `{"data":{"s":"BTCUSDT","c":"abc"}}`, false, "", 0, 0},
		{"nan price", `{"data":{"s":"BTCUSDT","c":"NaN"}}`, false, "", 0, 0},
		{"not json", `hello`, false, "", 0, 0},
		{"bare quote", `{"data":{"s":"USDT","c":"1"}}`, false, "", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, price, change, ok := parseTicker([]byte(tt.msg))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if sym != tt.symbol || price != tt.price || change != tt.change {
				t.Errorf("got (%s, %v, %v), want (%s, %v, %v)", sym, price, change, tt.symbol, tt.price, tt.change)
			}
		})
	}
}

func TestStreamManager_TickerScenario(t *testing.T) {
	release := make(chan struct{})
	server := newMockBinanceServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"65000.50","P":"2.35"}}`,
			`{"data":null}`,
			`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"64990.00","P":"2.10"}}`,
		}
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		<-release
	})
	defer server.Close()
	defer close(release)

	cache, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{BaseURL: server.streamURL()})
	defer m.Close()

	if err := m.Subscribe([]string{"btc", "USDT"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		s, ok := cache.GetPrice("BTC")
		return ok && s.Price == 64990.00
	}, "BTC sample never reached 64990.00")

	s, _ := cache.GetPrice("BTC")
	if s.Direction != domain.DirectionDown {
		t.Errorf("expected down, got %s", s.Direction)
	}
	if s.PriceChange24h != 2.10 {
		t.Errorf("expected change 2.10, got %v", s.PriceChange24h)
	}
	if !m.IsConnected() || !cache.IsConnected() {
		t.Error("malformed frame must not drop the connectivity flag")
	}
	if q := server.lastQuery(); q != "btcusdt@ticker" {
		t.Errorf("unexpected streams query %q", q)
	}
}

func TestStreamManager_StableOnlyOpensNothing(t *testing.T) {
	server := newMockBinanceServer(t, func(conn *websocket.Conn) {})
	defer server.Close()

	cache, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{BaseURL: server.streamURL()})
	defer m.Close()

	if err := m.Subscribe([]string{"usdt"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt32(&server.conns); n != 0 {
		t.Errorf("expected no connection, got %d", n)
	}
	if m.IsConnected() || cache.IsConnected() {
		t.Error("connectivity flag should stay false")
	}
	if m.State() != infra.StateIdle {
		t.Errorf("expected IDLE, got %s", m.State())
	}
}

func TestStreamManager_ResubscribeReplacesConnection(t *testing.T) {
	var open int32
	server := newMockBinanceServer(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&open, 1)
		defer atomic.AddInt32(&open, -1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	_, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{BaseURL: server.streamURL()})
	defer m.Close()

	m.Subscribe([]string{"BTC", "ETH"})
	waitFor(t, 2*time.Second, func() bool {
		return m.IsConnected() && atomic.LoadInt32(&server.conns) == 1
	}, "first connection never went live")

	// Same set in another order is not a change.
	m.Subscribe([]string{"eth", "btc"})
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&server.conns); n != 1 {
		t.Errorf("unchanged set should keep the connection, got %d dials", n)
	}

	m.Subscribe([]string{"BTC", "SOL"})
	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&server.conns) == 2 && m.IsConnected()
	}, "second connection never went live")

	if q := server.lastQuery(); q != "btcusdt@ticker/solusdt@ticker" {
		t.Errorf("unexpected streams query %q", q)
	}
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&open) == 1 },
		"old connection was not torn down")

	if got := m.Symbols(); strings.Join(got, ",") != "BTC,SOL" {
		t.Errorf("unexpected symbols %v", got)
	}
}

func TestStreamManager_ExhaustedRetriesStayIdle(t *testing.T) {
	var dials int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{
		BaseURL: strings.Replace(server.URL, "http://", "ws://", 1),
		Backoff: infra.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	})
	defer m.Close()

	m.Subscribe([]string{"BTC"})
	waitFor(t, 2*time.Second, func() bool { return m.State() == infra.StateIdle && atomic.LoadInt32(&dials) > 0 },
		"manager never gave up")

	if n := atomic.LoadInt32(&dials); n != 1+infra.DefaultMaxRetries {
		t.Errorf("expected %d dials, got %d", 1+infra.DefaultMaxRetries, n)
	}

	// Same set: stays disconnected.
	m.Subscribe([]string{"BTC"})
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&dials); n != 1+infra.DefaultMaxRetries {
		t.Errorf("unchanged set should not redial, got %d dials", n)
	}

	// Explicit re-initialization restarts the budget.
	m.Reconnect()
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&dials) == 2*(1+int32(infra.DefaultMaxRetries)) },
		"Reconnect did not run a fresh retry cycle")
}

func TestStreamManager_NoRetries(t *testing.T) {
	var dials int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{
		BaseURL:    strings.Replace(server.URL, "http://", "ws://", 1),
		MaxRetries: NoRetries,
		Backoff:    infra.Backoff{Base: time.Millisecond, Max: time.Millisecond},
	})
	defer m.Close()

	m.Subscribe([]string{"BTC"})
	waitFor(t, time.Second, func() bool { return m.State() == infra.StateIdle && atomic.LoadInt32(&dials) > 0 },
		"manager never went idle")
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Errorf("expected a single dial without retries, got %d", n)
	}
}

func TestStreamManager_ResubscribeChurnAgainstBusyFeed(t *testing.T) {
	var open int32
	server := newMockBinanceServer(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&open, 1)
		defer atomic.AddInt32(&open, -1)
		frame := []byte(`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"65000","P":"1"}}`)
		for {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	})
	defer server.Close()

	_, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{BaseURL: server.streamURL()})

	sets := [][]string{{"BTC"}, {"BTC", "ETH"}, {"SOL"}, {"ETH", "SOL"}}
	for i := 0; i < 40; i++ {
		done := make(chan error, 1)
		go func() { done <- m.Subscribe(sets[i%len(sets)]) }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Subscribe #%d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Subscribe #%d hung (state=%s)", i, m.State())
		}
		time.Sleep(time.Duration(i%6) * 150 * time.Microsecond)
	}

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung")
	}
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&open) == 0 },
		"connections left open after Close")
}

func TestStreamManager_ResubscribeCooldown(t *testing.T) {
	var dials int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{
		BaseURL:             strings.Replace(server.URL, "http://", "ws://", 1),
		MaxRetries:          1,
		Backoff:             infra.Backoff{Base: time.Millisecond, Max: time.Millisecond},
		ResubscribeCooldown: 300 * time.Millisecond,
	})
	defer m.Close()

	m.Subscribe([]string{"BTC"})
	waitFor(t, time.Second, func() bool { return m.State() == infra.StateIdle && atomic.LoadInt32(&dials) == 2 },
		"first cycle did not exhaust")

	m.Subscribe([]string{"ETH"})
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&dials); n != 2 {
		t.Errorf("cooldown should delay the next dial, got %d dials", n)
	}
	if m.State() != infra.StateBackoff {
		t.Errorf("expected BACKOFF during cooldown, got %s", m.State())
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&dials) >= 3 }, "cooldown never elapsed")
}

func TestStreamManager_CloseTerminates(t *testing.T) {
	release := make(chan struct{})
	server := newMockBinanceServer(t, func(conn *websocket.Conn) { <-release })
	defer server.Close()
	defer close(release)

	cache, writer := engine.NewPriceCache()
	m := NewStreamManager(writer, Options{BaseURL: server.streamURL()})

	var mu sync.Mutex
	var seen []infra.ConnState
	m.OnStateChange(func(s infra.ConnState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	m.Subscribe([]string{"BTC"})
	waitFor(t, 2*time.Second, m.IsConnected, "never went live")

	m.Close()
	if m.State() != infra.StateTerminated || cache.IsConnected() {
		t.Errorf("expected terminated and disconnected, got %s", m.State())
	}
	if err := m.Subscribe([]string{"ETH"}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[len(seen)-1] != infra.StateTerminated {
		t.Errorf("last observed state = %s", seen[len(seen)-1])
	}
}
