package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// Store is the alert persistence the monitor needs.
type Store interface {
	ListActiveAlerts(ctx context.Context) ([]domain.PriceAlert, error)
	MarkAlertTriggered(ctx context.Context, id string, ts int64) error
}

// SampleSource delivers live price samples.
type SampleSource interface {
	Watch(buffer int) (<-chan domain.PriceSample, func())
}

// Monitor fires active alerts when a live sample crosses their target.
type Monitor struct {
	store  Store
	source SampleSource

	// Reloads active alerts to pick up rows written by other processes
	refreshEvery time.Duration
	onTrigger    func(domain.PriceAlert)
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string][]domain.PriceAlert // by currency

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. onTrigger may be nil.
func NewMonitor(store Store, source SampleSource, onTrigger func(domain.PriceAlert)) *Monitor {
	return &Monitor{
		store:        store,
		source:       source,
		refreshEvery: time.Minute,
		onTrigger:    onTrigger,
		now:          time.Now,
		logger:       slog.Default().With("component", "alerts"),
		active:       make(map[string][]domain.PriceAlert),
	}
}

// Start loads active alerts and evaluates every incoming sample.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.Reload(ctx); err != nil {
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	samples, unwatch := m.source.Watch(256)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unwatch()

		ticker := time.NewTicker(m.refreshEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-samples:
				if !ok {
					return
				}
				m.Evaluate(ctx, s)
			case <-ticker.C:
				if err := m.Reload(ctx); err != nil && ctx.Err() == nil {
					m.logger.Warn("Alert reload failed", slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}

// Stop stops evaluating samples.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
}

// Reload replaces the in-memory alert set with the stored active alerts.
func (m *Monitor) Reload(ctx context.Context) error {
	alerts, err := m.store.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}

	active := make(map[string][]domain.PriceAlert)
	for _, a := range alerts {
		cur := domain.NormalizeCurrency(a.Currency)
		active[cur] = append(active[cur], a)
	}

	m.mu.Lock()
	m.active = active
	m.mu.Unlock()

	m.logger.Debug("Alerts loaded", slog.Int("count", len(alerts)))
	return nil
}

// Track adds a newly created alert without waiting for the next reload.
func (m *Monitor) Track(a domain.PriceAlert) {
	if !a.IsActive {
		return
	}
	cur := domain.NormalizeCurrency(a.Currency)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.active[cur] {
		if existing.ID == a.ID {
			return
		}
	}
	m.active[cur] = append(m.active[cur], a)
}

// Forget drops an alert, e.g. after the user deleted it.
func (m *Monitor) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cur, list := range m.active {
		m.active[cur] = removeAlert(list, id)
	}
}

// Evaluate checks sample against the active alerts of its currency and
// triggers those whose condition holds. It returns the triggered alerts.
func (m *Monitor) Evaluate(ctx context.Context, s domain.PriceSample) []domain.PriceAlert {
	cur := strings.ToUpper(s.Symbol)
	price := decimal.NewFromFloat(s.Price)

	m.mu.Lock()
	var hits []domain.PriceAlert
	var keep []domain.PriceAlert
	for _, a := range m.active[cur] {
		if a.CheckCondition(price) {
			hits = append(hits, a)
		} else {
			keep = append(keep, a)
		}
	}
	if len(hits) > 0 {
		m.active[cur] = keep
	}
	m.mu.Unlock()

	var fired []domain.PriceAlert
	for _, a := range hits {
		ts := m.now().UnixMicro()
		err := m.store.MarkAlertTriggered(ctx, a.ID, ts)
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted or fired elsewhere
			continue
		}
		if err != nil {
			m.logger.Error("Failed to trigger alert", slog.String("id", a.ID), slog.Any("error", err))
			m.Track(a)
			continue
		}

		a.Trigger(ts)
		fired = append(fired, a)
		m.logger.Info("Price alert triggered",
			slog.String("id", a.ID),
			slog.String("user", a.UserID),
			slog.String("currency", cur),
			slog.String("condition", string(a.Condition)),
			slog.String("target", a.TargetPrice.String()),
			slog.Float64("price", s.Price))
		if m.onTrigger != nil {
			m.onTrigger(a)
		}
	}
	return fired
}

// ActiveCount returns the number of tracked alerts.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range m.active {
		n += len(list)
	}
	return n
}

func removeAlert(list []domain.PriceAlert, id string) []domain.PriceAlert {
	out := list[:0]
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}
