// Package account - Balance refresh on account switch
// Keeps the wallet balance, billing balance and allowance of the connected
// account current. Switch notifications are debounced, the notification
// fired when the session first mounts is ignored (its data was just
// loaded), and concurrent fetches for the same account share one result.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"flexplan/core/clients"
	"flexplan/core/pricing"
	"flexplan/core/types"
	"flexplan/internal/logging"
)

// DefaultDebounce is how long a burst of switch notifications is collapsed
const DefaultDebounce = 300 * time.Millisecond

// Balances is what the wizard displays about an account
type Balances struct {
	Account   string
	Wallet    decimal.Decimal
	Billing   decimal.Decimal
	Allowance decimal.Decimal
	FetchedAt time.Time
}

// LowBalance reports whether the billing account is funded but running low
func (b Balances) LowBalance() bool {
	return pricing.LowBalanceWarning(b.Billing)
}

// Refresher re-reads balances when the connected account changes.
type Refresher struct {
	ledger   clients.Ledger
	spender  string
	debounce time.Duration
	timeout  time.Duration
	onUpdate func(Balances)
	onError  func(error)
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	mounted bool
	pending *time.Timer
	latest  *Balances
	stopped bool
}

// Option configures a Refresher
type Option func(*Refresher)

// WithDebounce overrides the debounce window
func WithDebounce(d time.Duration) Option {
	return func(r *Refresher) { r.debounce = d }
}

// WithTimeout bounds each background fetch
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) { r.timeout = d }
}

// OnUpdate registers the callback receiving refreshed balances
func OnUpdate(fn func(Balances)) Option {
	return func(r *Refresher) { r.onUpdate = fn }
}

// OnError registers the callback receiving background fetch failures
func OnError(fn func(error)) Option {
	return func(r *Refresher) { r.onError = fn }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) { r.logger = l }
}

// NewRefresher creates a refresher. spender is the billing contract whose
// allowance is read.
func NewRefresher(ledger clients.Ledger, spender string, opts ...Option) *Refresher {
	r := &Refresher{
		ledger:   ledger,
		spender:  spender,
		debounce: DefaultDebounce,
		timeout:  30 * time.Second,
		logger:   logging.Named("account"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch reads the three balances of account in parallel. Concurrent calls
// for the same account share one set of reads.
func (r *Refresher) Fetch(ctx context.Context, account string) (Balances, error) {
	v, err, shared := r.group.Do(account, func() (interface{}, error) {
		return r.fetch(ctx, account)
	})
	if err != nil {
		return Balances{}, err
	}
	if shared {
		r.logger.Debug("balance fetch shared", logging.Account(account))
	}
	b := v.(Balances)

	r.mu.Lock()
	r.latest = &b
	r.mu.Unlock()
	return b, nil
}

func (r *Refresher) fetch(ctx context.Context, account string) (Balances, error) {
	var wallet, billing, allowance types.BaseUnits

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.ledger.BalanceOf(gctx, account)
		if err != nil {
			return fmt.Errorf("wallet balance: %w", err)
		}
		wallet = v
		return nil
	})
	g.Go(func() error {
		v, err := r.ledger.BillingBalance(gctx, account)
		if err != nil {
			return fmt.Errorf("billing balance: %w", err)
		}
		billing = v
		return nil
	})
	g.Go(func() error {
		v, err := r.ledger.Allowance(gctx, r.spender)
		if err != nil {
			return fmt.Errorf("allowance: %w", err)
		}
		allowance = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return Balances{}, err
	}

	b := Balances{Account: account, FetchedAt: r.now()}
	var err error
	if b.Wallet, err = types.FromBaseUnits(wallet); err != nil {
		return Balances{}, err
	}
	if b.Billing, err = types.FromBaseUnits(billing); err != nil {
		return Balances{}, err
	}
	if b.Allowance, err = types.FromBaseUnits(allowance); err != nil {
		return Balances{}, err
	}
	return b, nil
}

// AccountChanged is called whenever the connected account is reported.
// The first report marks the session as mounted and does nothing; later
// reports schedule a debounced refresh, replacing any pending one.
func (r *Refresher) AccountChanged(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if !r.mounted {
		r.mounted = true
		return
	}
	if account == "" {
		return
	}
	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(r.debounce, func() {
		r.refresh(account)
	})
}

func (r *Refresher) refresh(account string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	b, err := r.Fetch(ctx, account)
	if err != nil {
		r.logger.Warn("balance refresh failed", logging.Account(account), zap.Error(err))
		if r.onError != nil {
			r.onError(err)
		}
		return
	}
	r.logger.Debug("balances refreshed", logging.Account(account), logging.Amount("billing", b.Billing))
	if r.onUpdate != nil {
		r.onUpdate(b)
	}
}

// Latest returns the most recently fetched balances
func (r *Refresher) Latest() (Balances, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Balances{}, false
	}
	return *r.latest, true
}

// Stop cancels any pending refresh. Later notifications are ignored.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}
