package pricebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"shadow_exchange/internal/domain"
)

const (
	keyPrefix     = "price:"
	channelPrefix = "prices."

	DefaultTTL = 5 * time.Minute
)

// KeyFor is the Redis key holding the latest sample of symbol.
func KeyFor(symbol string) string {
	return keyPrefix + strings.ToUpper(symbol)
}

// ChannelFor is the pub/sub channel carrying samples of symbol.
func ChannelFor(symbol string) string {
	return channelPrefix + strings.ToUpper(symbol)
}

// SampleSource delivers live price samples.
type SampleSource interface {
	Watch(buffer int) (<-chan domain.PriceSample, func())
}

// RedisMirror copies every cached sample into Redis so other processes can
// read the latest price (MGET) or follow updates (SUBSCRIBE).
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	written atomic.Uint64
	failed  atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisMirror wraps an existing client. ttl <= 0 uses DefaultTTL.
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisMirror{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "pricebus"),
	}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisMirror(client, ttl), nil
}

// Start mirrors every sample from source until ctx is done or Stop.
func (m *RedisMirror) Start(ctx context.Context, source SampleSource) {
	ctx, m.cancel = context.WithCancel(ctx)
	samples, unwatch := source.Watch(512)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unwatch()

		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-samples:
				if !ok {
					return
				}
				if err := m.Publish(ctx, s); err != nil && ctx.Err() == nil {
					// One line per failure burst is enough
					if m.failed.Add(1)%100 == 1 {
						m.logger.Warn("Price mirror write failed", slog.String("symbol", s.Symbol), slog.Any("error", err))
					}
				}
			}
		}
	}()
}

// Publish stores s under its key and announces it on its channel.
func (m *RedisMirror) Publish(ctx context.Context, s domain.PriceSample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, KeyFor(s.Symbol), data, m.ttl)
	pipe.Publish(ctx, ChannelFor(s.Symbol), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	m.written.Add(1)
	return nil
}

// Snapshot reads the latest mirrored sample of each symbol. Symbols with
// no (or an expired) entry are absent from the result.
func (m *RedisMirror) Snapshot(ctx context.Context, symbols []string) (map[string]domain.PriceSample, error) {
	out := make(map[string]domain.PriceSample, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = KeyFor(sym)
	}

	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for _, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var s domain.PriceSample
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			m.logger.Debug("Skipping malformed mirror entry", slog.Any("error", err))
			continue
		}
		out[s.Symbol] = s
	}
	return out, nil
}

// Follow subscribes to the channels of symbols, or to every symbol when
// none are given. The returned func ends the subscription.
func (m *RedisMirror) Follow(ctx context.Context, symbols ...string) (<-chan domain.PriceSample, func(), error) {
	var ps *redis.PubSub
	if len(symbols) == 0 {
		ps = m.client.PSubscribe(ctx, channelPrefix+"*")
	} else {
		channels := make([]string, len(symbols))
		for i, sym := range symbols {
			channels[i] = ChannelFor(sym)
		}
		ps = m.client.Subscribe(ctx, channels...)
	}

	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan domain.PriceSample, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var s domain.PriceSample
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				continue
			}
			select {
			case out <- s:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}
	return out, stop, nil
}

// Written returns the number of samples mirrored so far.
func (m *RedisMirror) Written() uint64 {
	return m.written.Load()
}

// Stop stops mirroring. The client stays open for Snapshot.
func (m *RedisMirror) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
}

// Close stops mirroring and closes the client.
func (m *RedisMirror) Close() error {
	m.Stop()
	return m.client.Close()
}
