// Package sandbox is a local stand-in for the ledger and the billing
// service, backed by SQLite. It lets the whole provisioning flow be
// rehearsed across runs without a chain or a hosted billing API.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"flexplan/core/determinism"
	"flexplan/core/types"
)

// ErrNotFound is returned for unknown rows
var ErrNotFound = errors.New("not found")

// Store owns the sandbox database.
type Store struct {
	db  *sql.DB
	ids *determinism.IDGenerator
	now func() time.Time
}

// Open opens (or creates) the sandbox database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox dir: %w", err)
		}
		dsn = path + "?" + url.Values{
			"_pragma": []string{
				"busy_timeout(30000)",
				"journal_mode(WAL)",
				"synchronous(NORMAL)",
			},
		}.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sandbox db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:  db,
		ids: determinism.NewIDGenerator("flexplan-sandbox"),
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		address     TEXT PRIMARY KEY,
		wallet      TEXT NOT NULL DEFAULT '0',
		billing     TEXT NOT NULL DEFAULT '0'
	);
	CREATE TABLE IF NOT EXISTS allowances (
		owner       TEXT NOT NULL,
		spender     TEXT NOT NULL,
		amount      TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (owner, spender)
	);
	CREATE TABLE IF NOT EXISTS transactions (
		block       INTEGER PRIMARY KEY AUTOINCREMENT,
		hash        TEXT NOT NULL UNIQUE,
		kind        TEXT NOT NULL,
		account     TEXT NOT NULL,
		amount      TEXT NOT NULL,
		status      INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS offers (
		project_id     TEXT NOT NULL,
		deployment_id  TEXT NOT NULL,
		indexer        TEXT NOT NULL,
		price          TEXT NOT NULL,
		max_time       INTEGER NOT NULL DEFAULT 0,
		position       INTEGER NOT NULL,
		PRIMARY KEY (deployment_id, indexer)
	);
	CREATE TABLE IF NOT EXISTS api_keys (
		id          TEXT PRIMARY KEY,
		account     TEXT NOT NULL,
		name        TEXT NOT NULL,
		value       TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS hosting_plans (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		account        TEXT NOT NULL,
		deployment_id  TEXT NOT NULL,
		price          TEXT NOT NULL,
		maximum        INTEGER NOT NULL,
		expiration     INTEGER NOT NULL,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_account ON api_keys(account);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_hosting_plans_deployment ON hosting_plans(account, deployment_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init sandbox schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Fund credits the wallet of address with amount (human scale), creating
// the account if needed.
func (s *Store) Fund(ctx context.Context, address string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("fund amount must be positive")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	acct, err := loadAccount(ctx, tx, address)
	if err != nil {
		return err
	}
	acct.wallet = acct.wallet.Add(amount.Shift(types.TokenDecimals).Truncate(0))
	if err := saveAccount(ctx, tx, acct); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureAccount funds address with amount unless it already exists
func (s *Store) EnsureAccount(ctx context.Context, address string, amount decimal.Decimal) (created bool, err error) {
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts WHERE address = ?`, address).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists > 0 || !amount.IsPositive() {
		return false, nil
	}
	return true, s.Fund(ctx, address, amount)
}

// PutOffer records a provider quote for a deployment. Re-quoting replaces
// the price but keeps the original listing position.
func (s *Store) PutOffer(ctx context.Context, projectID, deploymentID string, offer types.ProviderOffer) error {
	if offer.ProviderID == "" {
		return fmt.Errorf("offer provider id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (project_id, deployment_id, indexer, price, max_time, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM offers WHERE deployment_id = ?))
		ON CONFLICT (deployment_id, indexer) DO UPDATE SET price = excluded.price, max_time = excluded.max_time`,
		projectID, deploymentID, offer.ProviderID,
		types.PerRequestBaseUnits(offer.PricePerThousand).String(), offer.MaxDurationSeconds, deploymentID,
	)
	if err != nil {
		return fmt.Errorf("put offer: %w", err)
	}
	return nil
}

// Offers returns the quotes for a deployment in listing order
func (s *Store) Offers(ctx context.Context, deploymentID string) ([]types.ProviderOffer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT indexer, price, max_time FROM offers WHERE deployment_id = ? ORDER BY position`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var offers []types.ProviderOffer
	for rows.Next() {
		var indexer, price string
		var maxTime int64
		if err := rows.Scan(&indexer, &price, &maxTime); err != nil {
			return nil, err
		}
		perThousand, err := types.PerThousandFromBaseUnits(types.BaseUnits(price))
		if err != nil {
			return nil, err
		}
		offers = append(offers, types.ProviderOffer{
			ProviderID:         indexer,
			PricePerThousand:   perThousand,
			MaxDurationSeconds: maxTime,
		})
	}
	return offers, rows.Err()
}

type account struct {
	address string
	wallet  decimal.Decimal
	billing decimal.Decimal
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func loadAccount(ctx context.Context, q querier, address string) (account, error) {
	acct := account{address: address, wallet: decimal.Zero, billing: decimal.Zero}
	var wallet, billing string
	err := q.QueryRowContext(ctx, `SELECT wallet, billing FROM accounts WHERE address = ?`, address).Scan(&wallet, &billing)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return acct, fmt.Errorf("load account: %w", err)
	}
	if acct.wallet, err = types.BaseUnits(wallet).Decimal(); err != nil {
		return acct, err
	}
	if acct.billing, err = types.BaseUnits(billing).Decimal(); err != nil {
		return acct, err
	}
	return acct, nil
}

func saveAccount(ctx context.Context, q querier, acct account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (address, wallet, billing) VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET wallet = excluded.wallet, billing = excluded.billing`,
		acct.address, acct.wallet.String(), acct.billing.String())
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}
