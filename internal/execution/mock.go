package execution

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// MemoryLedger is an in-memory Ledger for tests and dry runs.
// ApplyTrade follows the same rules as the SQL store.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]domain.Balance // user|currency
	txs      []domain.Transaction
	seq      int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]domain.Balance)}
}

func balanceKey(userID, currency string) string {
	return userID + "|" + domain.NormalizeCurrency(currency)
}

func (m *MemoryLedger) nextID() string {
	m.seq++
	return strconv.Itoa(m.seq)
}

func (m *MemoryLedger) GetBalance(ctx context.Context, userID, currency string) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[balanceKey(userID, currency)]
	if !ok {
		return domain.Balance{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *MemoryLedger) UpsertBalance(ctx context.Context, b domain.Balance) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Currency = domain.NormalizeCurrency(b.Currency)
	if old, ok := m.balances[balanceKey(b.UserID, b.Currency)]; ok {
		b.ID = old.ID
	} else if b.ID == "" {
		b.ID = m.nextID()
	}
	m.balances[balanceKey(b.UserID, b.Currency)] = b
	return b, nil
}

// ListBalances returns the user's balances ordered by currency.
func (m *MemoryLedger) ListBalances(ctx context.Context, userID string) ([]domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Balance{}
	for _, b := range m.balances {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *MemoryLedger) ApplyTrade(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx.FromCurrency = domain.NormalizeCurrency(tx.FromCurrency)
	tx.ToCurrency = domain.NormalizeCurrency(tx.ToCurrency)
	fromKey := balanceKey(tx.UserID, tx.FromCurrency)
	toKey := balanceKey(tx.UserID, tx.ToCurrency)

	if tx.FromCurrency != domain.FiatCurrency {
		from, ok := m.balances[fromKey]
		if !ok {
			return domain.Transaction{}, &domain.InsufficientBalanceError{Currency: tx.FromCurrency, Need: tx.FromAmount, Have: decimal.Zero}
		}
		if !from.Covers(tx.FromAmount) {
			return domain.Transaction{}, &domain.InsufficientBalanceError{Currency: tx.FromCurrency, Need: tx.FromAmount, Have: from.Amount}
		}
		from.Debit(tx.FromAmount, tx.CreatedAtUnixM)
		m.balances[fromKey] = from
	}

	if tx.ToCurrency != domain.FiatCurrency {
		to, ok := m.balances[toKey]
		if !ok {
			to = domain.Balance{ID: m.nextID(), UserID: tx.UserID, Currency: tx.ToCurrency, CreatedAtUnixM: tx.CreatedAtUnixM}
		}
		to.Credit(tx.ToAmount, tx.CreatedAtUnixM)
		m.balances[toKey] = to
	}

	if tx.ID == "" {
		tx.ID = m.nextID()
	}
	m.txs = append(m.txs, tx)
	return tx, nil
}

// Transactions returns every recorded transaction in insertion order.
func (m *MemoryLedger) Transactions() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.txs...)
}
