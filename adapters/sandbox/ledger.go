package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"flexplan/core/clients"
	"flexplan/core/types"
)

const (
	kindApprove = "approve"
	kindDeposit = "deposit"
)

// Ledger is the sandbox ledger seen from one wallet.
type Ledger struct {
	store    *Store
	address  string
	contract string
}

// Ledger returns the ledger view of address. contract is the billing
// contract deposits are made to.
func (s *Store) Ledger(address, contract string) *Ledger {
	return &Ledger{store: s, address: address, contract: contract}
}

// Account returns the wallet address
func (l *Ledger) Account() string {
	return l.address
}

// Allowance returns what spender may pull from the wallet
func (l *Ledger) Allowance(ctx context.Context, spender string) (types.BaseUnits, error) {
	amount, err := allowance(ctx, l.store.db, l.address, spender)
	if err != nil {
		return "", err
	}
	return types.BaseUnits(amount.String()), nil
}

func allowance(ctx context.Context, q querier, owner, spender string) (decimal.Decimal, error) {
	var amount string
	err := q.QueryRowContext(ctx,
		`SELECT amount FROM allowances WHERE owner = ? AND spender = ?`, owner, spender).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read allowance: %w", err)
	}
	return types.BaseUnits(amount).Decimal()
}

// Approve sets the allowance of spender to amount
func (l *Ledger) Approve(ctx context.Context, spender string, amount types.BaseUnits) (clients.Tx, error) {
	value, err := amount.Decimal()
	if err != nil {
		return nil, err
	}
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO allowances (owner, spender, amount) VALUES (?, ?, ?)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = excluded.amount`,
		l.address, spender, value.String())
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	hash, err := l.store.record(ctx, tx, kindApprove, l.address, value, clients.ReceiptSucceeded)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &pendingTx{store: l.store, hash: hash}, nil
}

// Deposit moves amount from the wallet into the billing contract. Like a
// real contract call, a deposit exceeding the allowance or the wallet is
// mined but reverted.
func (l *Ledger) Deposit(ctx context.Context, amount types.BaseUnits, _ bool) (clients.Tx, error) {
	value, err := amount.Decimal()
	if err != nil {
		return nil, err
	}
	if !value.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	acct, err := loadAccount(ctx, tx, l.address)
	if err != nil {
		return nil, err
	}
	allowed, err := allowance(ctx, tx, l.address, l.contract)
	if err != nil {
		return nil, err
	}

	status := clients.ReceiptSucceeded
	if value.GreaterThan(allowed) || value.GreaterThan(acct.wallet) {
		status = clients.ReceiptReverted
	} else {
		acct.wallet = acct.wallet.Sub(value)
		acct.billing = acct.billing.Add(value)
		if err := saveAccount(ctx, tx, acct); err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE allowances SET amount = ? WHERE owner = ? AND spender = ?`,
			allowed.Sub(value).String(), l.address, l.contract)
		if err != nil {
			return nil, fmt.Errorf("spend allowance: %w", err)
		}
	}

	hash, err := l.store.record(ctx, tx, kindDeposit, l.address, value, status)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &pendingTx{store: l.store, hash: hash}, nil
}

// BalanceOf returns the wallet balance of address
func (l *Ledger) BalanceOf(ctx context.Context, address string) (types.BaseUnits, error) {
	acct, err := loadAccount(ctx, l.store.db, address)
	if err != nil {
		return "", err
	}
	return types.BaseUnits(acct.wallet.String()), nil
}

// BillingBalance returns the billing balance of address
func (l *Ledger) BillingBalance(ctx context.Context, address string) (types.BaseUnits, error) {
	acct, err := loadAccount(ctx, l.store.db, address)
	if err != nil {
		return "", err
	}
	return types.BaseUnits(acct.billing.String()), nil
}

// record appends a transaction and returns its hash
func (s *Store) record(ctx context.Context, q querier, kind, address string, amount decimal.Decimal, status clients.ReceiptStatus) (string, error) {
	var nonce int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM transactions WHERE account = ?`, address).Scan(&nonce); err != nil {
		return "", err
	}
	hash := s.ids.TxHash(kind, address, amount.String(), strconv.FormatInt(nonce, 10))
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (hash, kind, account, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		hash, kind, address, amount.String(), int(status), s.now().Unix())
	if err != nil {
		return "", fmt.Errorf("record %s: %w", kind, err)
	}
	return hash, nil
}

// Receipt returns the receipt of a recorded transaction
func (s *Store) Receipt(ctx context.Context, hash string) (clients.Receipt, error) {
	var block uint64
	var status int
	err := s.db.QueryRowContext(ctx, `SELECT block, status FROM transactions WHERE hash = ?`, hash).Scan(&block, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return clients.Receipt{}, fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return clients.Receipt{}, err
	}
	return clients.Receipt{TxHash: hash, BlockNumber: block, Status: clients.ReceiptStatus(status)}, nil
}

// pendingTx is a sandbox transaction handle. Sandbox transactions are
// mined when recorded, so Wait only reads the receipt back.
type pendingTx struct {
	store *Store
	hash  string
}

func (t *pendingTx) Hash() string {
	return t.hash
}

func (t *pendingTx) Wait(ctx context.Context) (clients.Receipt, error) {
	return t.store.Receipt(ctx, t.hash)
}

var _ clients.Ledger = (*Ledger)(nil)
