package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// glebarez registers as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (user_id, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		from_amount TEXT NOT NULL,
		to_amount TEXT NOT NULL,
		price_at_transaction TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS price_alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		target_price TEXT NOT NULL,
		condition TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		triggered_at BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_alerts_active ON price_alerts (is_active)`,
	`CREATE TABLE IF NOT EXISTS watchlist (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (user_id, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		avatar_url TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

// Store persists wallets, alerts, watchlists, profiles and preferences.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		// One writer; pragmas below then hold for every statement.
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=NORMAL;",
			"PRAGMA cache_size=-2000;", // 2MB cache
			"PRAGMA foreign_keys=ON;",
			"PRAGMA busy_timeout=5000;",
		}
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
			}
		}
	case DriverPostgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	s := &Store{db: db, driver: driver, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Database ready", slog.String("driver", driver))
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) nowUnixM() int64 {
	return s.now().UnixMicro()
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *Store) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at"),
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. A missing key
// yields "".
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind("SELECT value FROM metadata WHERE key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ---------------------------------------------------------------------------
// Balances
// ---------------------------------------------------------------------------

const balanceColumns = "id, user_id, currency, amount, created_at, updated_at"

// ListBalances returns the user's balances ordered by currency.
func (s *Store) ListBalances(ctx context.Context, userID string) ([]domain.Balance, error) {
	out := []domain.Balance{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = ? ORDER BY currency"), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	return out, nil
}

// GetBalance returns one balance or domain.ErrNotFound.
func (s *Store) GetBalance(ctx context.Context, userID, currency string) (domain.Balance, error) {
	return getBalance(ctx, s.db, userID, currency)
}

// UpsertBalance writes b, keyed by (user, currency).
func (s *Store) UpsertBalance(ctx context.Context, b domain.Balance) (domain.Balance, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Currency = domain.NormalizeCurrency(b.Currency)
	if b.CreatedAtUnixM == 0 {
		b.CreatedAtUnixM = s.nowUnixM()
	}
	if b.UpdatedAtUnixM == 0 {
		b.UpdatedAtUnixM = b.CreatedAtUnixM
	}
	if err := upsertBalance(ctx, s.db, b); err != nil {
		return domain.Balance{}, err
	}
	return s.GetBalance(ctx, b.UserID, b.Currency)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func getBalance(ctx context.Context, q queryer, userID, currency string) (domain.Balance, error) {
	var b domain.Balance
	err := q.GetContext(ctx, &b, q.Rebind(
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = ? AND currency = ?"),
		userID, domain.NormalizeCurrency(currency))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Balance{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

func upsertBalance(ctx context.Context, q queryer, b domain.Balance) error {
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO balances (id, user_id, currency, amount, created_at, updated_at)
		VALUES (:id, :user_id, :currency, :amount, :created_at, :updated_at)
		ON CONFLICT(user_id, currency) DO UPDATE SET amount=excluded.amount, updated_at=excluded.updated_at`, b)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

const transactionColumns = "id, user_id, type, from_currency, to_currency, from_amount, to_amount, price_at_transaction, created_at"

// InsertTransaction records tx as-is, assigning an id and timestamp when empty.
func (s *Store) InsertTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	s.fillTransaction(&tx)
	if err := insertTransaction(ctx, s.db, tx); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// ListTransactions returns the user's history newest first. limit <= 0
// returns everything.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE user_id = ? ORDER BY created_at DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	out := []domain.Transaction{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

func (s *Store) fillTransaction(tx *domain.Transaction) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAtUnixM == 0 {
		tx.CreatedAtUnixM = s.nowUnixM()
	}
	tx.FromCurrency = domain.NormalizeCurrency(tx.FromCurrency)
	tx.ToCurrency = domain.NormalizeCurrency(tx.ToCurrency)
}

func insertTransaction(ctx context.Context, q queryer, tx domain.Transaction) error {
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:id, :user_id, :type, :from_currency, :to_currency, :from_amount, :to_amount, :price_at_transaction, :created_at)`, tx)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ApplyTrade moves funds for tx and records it atomically.
//
// FromAmount is debited from FromCurrency and ToAmount credited to
// ToCurrency. The fiat side of a deposit or withdrawal is external and is
// neither debited nor credited. A missing or short source balance fails
// with *domain.InsufficientBalanceError and leaves nothing written.
func (s *Store) ApplyTrade(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	s.fillTransaction(&tx)
	ts := tx.CreatedAtUnixM

	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to begin trade: %w", err)
	}
	defer dbtx.Rollback()

	if tx.FromCurrency != domain.FiatCurrency {
		from, err := getBalance(ctx, dbtx, tx.UserID, tx.FromCurrency)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, &domain.InsufficientBalanceError{Currency: tx.FromCurrency, Need: tx.FromAmount, Have: decimal.Zero}
		}
		if err != nil {
			return domain.Transaction{}, err
		}
		if !from.Covers(tx.FromAmount) {
			return domain.Transaction{}, &domain.InsufficientBalanceError{Currency: tx.FromCurrency, Need: tx.FromAmount, Have: from.Amount}
		}
		from.Debit(tx.FromAmount, ts)
		if err := upsertBalance(ctx, dbtx, from); err != nil {
			return domain.Transaction{}, err
		}
	}

	if tx.ToCurrency != domain.FiatCurrency {
		to, err := getBalance(ctx, dbtx, tx.UserID, tx.ToCurrency)
		if errors.Is(err, domain.ErrNotFound) {
			to = domain.Balance{
				ID:             uuid.NewString(),
				UserID:         tx.UserID,
				Currency:       tx.ToCurrency,
				Amount:         decimal.Zero,
				CreatedAtUnixM: ts,
			}
		} else if err != nil {
			return domain.Transaction{}, err
		}
		to.Credit(tx.ToAmount, ts)
		if err := upsertBalance(ctx, dbtx, to); err != nil {
			return domain.Transaction{}, err
		}
	}

	if err := insertTransaction(ctx, dbtx, tx); err != nil {
		return domain.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to commit trade: %w", err)
	}
	return tx, nil
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

const alertColumns = "id, user_id, currency, target_price, condition, is_active, triggered_at, created_at"

// ListAlerts returns the user's alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, userID string) ([]domain.PriceAlert, error) {
	out := []domain.PriceAlert{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		"SELECT "+alertColumns+" FROM price_alerts WHERE user_id = ? ORDER BY created_at DESC"), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, nil
}

// ListActiveAlerts returns every active alert across users.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]domain.PriceAlert, error) {
	out := []domain.PriceAlert{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		"SELECT "+alertColumns+" FROM price_alerts WHERE is_active = ? ORDER BY created_at"), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return out, nil
}

// CreateAlert stores a new active alert.
func (s *Store) CreateAlert(ctx context.Context, a domain.PriceAlert) (domain.PriceAlert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAtUnixM == 0 {
		a.CreatedAtUnixM = s.nowUnixM()
	}
	a.Currency = domain.NormalizeCurrency(a.Currency)
	a.IsActive = true
	a.TriggeredAtUnixM = nil

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO price_alerts (`+alertColumns+`)
		VALUES (:id, :user_id, :currency, :target_price, :condition, :is_active, :triggered_at, :created_at)`, a)
	if err != nil {
		return domain.PriceAlert{}, fmt.Errorf("failed to create alert: %w", err)
	}
	return a, nil
}

// DeleteAlert removes the user's alert or returns domain.ErrNotFound.
func (s *Store) DeleteAlert(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM price_alerts WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return expectOne(res)
}

// MarkAlertTriggered deactivates an active alert. It returns
// domain.ErrNotFound when the alert is gone or already triggered.
func (s *Store) MarkAlertTriggered(ctx context.Context, id string, ts int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE price_alerts SET is_active = ?, triggered_at = ? WHERE id = ? AND is_active = ?"),
		false, ts, id, true)
	if err != nil {
		return fmt.Errorf("failed to trigger alert: %w", err)
	}
	return expectOne(res)
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

// ListWatchlist returns the user's watched currencies, newest first.
func (s *Store) ListWatchlist(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	out := []domain.WatchlistItem{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		"SELECT id, user_id, currency, created_at FROM watchlist WHERE user_id = ? ORDER BY created_at DESC, id DESC"), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return out, nil
}

// AddToWatchlist adds currency; adding it twice is a no-op.
func (s *Store) AddToWatchlist(ctx context.Context, userID, currency string) error {
	item := domain.WatchlistItem{
		ID:             uuid.NewString(),
		UserID:         userID,
		Currency:       domain.NormalizeCurrency(currency),
		CreatedAtUnixM: s.nowUnixM(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO watchlist (id, user_id, currency, created_at)
		VALUES (:id, :user_id, :currency, :created_at)
		ON CONFLICT(user_id, currency) DO NOTHING`, item)
	if err != nil {
		return fmt.Errorf("failed to add to watchlist: %w", err)
	}
	return nil
}

// RemoveFromWatchlist deletes currency from the list.
func (s *Store) RemoveFromWatchlist(ctx context.Context, userID, currency string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM watchlist WHERE user_id = ? AND currency = ?"),
		userID, domain.NormalizeCurrency(currency))
	if err != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

// GetProfile returns the user's profile or domain.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.GetContext(ctx, &p, s.db.Rebind(
		"SELECT id, user_id, username, avatar_url, created_at, updated_at FROM profiles WHERE user_id = ?"), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpsertProfile writes the username and avatar of p.UserID.
func (s *Store) UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	now := s.nowUnixM()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAtUnixM == 0 {
		p.CreatedAtUnixM = now
	}
	p.UpdatedAtUnixM = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles (id, user_id, username, avatar_url, created_at, updated_at)
		VALUES (:id, :user_id, :username, :avatar_url, :created_at, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET username=excluded.username, avatar_url=excluded.avatar_url, updated_at=excluded.updated_at`, p)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return s.GetProfile(ctx, p.UserID)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
