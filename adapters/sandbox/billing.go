package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"flexplan/core/clients"
	"flexplan/core/types"
)

// Billing is the sandbox billing service seen from one account.
type Billing struct {
	store   *Store
	account string
}

// Billing returns the billing service view of account
func (s *Store) Billing(account string) *Billing {
	return &Billing{store: s, account: account}
}

// ListIndexerOffers returns the stored quotes for a deployment
func (b *Billing) ListIndexerOffers(ctx context.Context, _ string, deploymentID string) ([]types.ProviderOffer, error) {
	return b.store.Offers(ctx, deploymentID)
}

// ListAPIKeys returns the account's keys, oldest first
func (b *Billing) ListAPIKeys(ctx context.Context) (types.Result[[]types.APIKey], error) {
	if b.account == "" {
		return types.Fail[[]types.APIKey]("unauthorized"), nil
	}
	rows, err := b.store.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM api_keys WHERE account = ? ORDER BY created_at, id`, b.account)
	if err != nil {
		return types.Result[[]types.APIKey]{}, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []types.APIKey{}
	for rows.Next() {
		var k types.APIKey
		var created int64
		if err := rows.Scan(&k.ID, &k.Name, &created); err != nil {
			return types.Result[[]types.APIKey]{}, err
		}
		k.CreatedAt = time.Unix(created, 0).UTC()
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return types.Result[[]types.APIKey]{}, err
	}
	return types.Ok(keys), nil
}

// CreateAPIKey issues a new key for the account
func (b *Billing) CreateAPIKey(ctx context.Context, name string) (types.Result[types.APIKey], error) {
	if b.account == "" {
		return types.Fail[types.APIKey]("unauthorized"), nil
	}
	if name == "" {
		return types.Fail[types.APIKey]("api key name is required"), nil
	}
	key := types.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: b.store.now().Truncate(time.Second),
	}
	_, err := b.store.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, account, name, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.ID, b.account, key.Name, uuid.NewString(), key.CreatedAt.Unix())
	if err != nil {
		return types.Result[types.APIKey]{}, fmt.Errorf("create api key: %w", err)
	}
	return types.Ok(key), nil
}

// ListHostingPlans returns the account's plans
func (b *Billing) ListHostingPlans(ctx context.Context) (types.Result[[]types.HostingPlan], error) {
	if b.account == "" {
		return types.Fail[[]types.HostingPlan]("unauthorized"), nil
	}
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT id, deployment_id, price, maximum, expiration
		FROM hosting_plans WHERE account = ? ORDER BY id`, b.account)
	if err != nil {
		return types.Result[[]types.HostingPlan]{}, fmt.Errorf("list hosting plans: %w", err)
	}
	defer rows.Close()

	plans := []types.HostingPlan{}
	for rows.Next() {
		var id int64
		var p types.HostingPlan
		var price string
		if err := rows.Scan(&id, &p.DeploymentID, &price, &p.Maximum, &p.Expiration); err != nil {
			return types.Result[[]types.HostingPlan]{}, err
		}
		p.ID = strconv.FormatInt(id, 10)
		p.Price = types.BaseUnits(price)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return types.Result[[]types.HostingPlan]{}, err
	}
	return types.Ok(plans), nil
}

// CreateHostingPlan opens a plan. An account holds at most one plan per
// deployment.
func (b *Billing) CreateHostingPlan(ctx context.Context, params types.HostingPlanParams) (types.Result[types.HostingPlan], error) {
	if msg := b.checkPlan(params); msg != "" {
		return types.Fail[types.HostingPlan](msg), nil
	}
	var existing int
	err := b.store.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM hosting_plans WHERE account = ? AND deployment_id = ?`,
		b.account, params.DeploymentID).Scan(&existing)
	if err != nil {
		return types.Result[types.HostingPlan]{}, err
	}
	if existing > 0 {
		return types.Fail[types.HostingPlan]("a plan already exists for deployment " + params.DeploymentID), nil
	}

	now := b.store.now().Unix()
	res, err := b.store.db.ExecContext(ctx, `
		INSERT INTO hosting_plans (account, deployment_id, price, maximum, expiration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.account, params.DeploymentID, params.Price.String(), params.Maximum, params.Expiration, now, now)
	if err != nil {
		return types.Result[types.HostingPlan]{}, fmt.Errorf("create hosting plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Result[types.HostingPlan]{}, err
	}
	return types.Ok(planFromParams(strconv.FormatInt(id, 10), params)), nil
}

// UpdateHostingPlan changes the terms of one of the account's plans
func (b *Billing) UpdateHostingPlan(ctx context.Context, id string, params types.HostingPlanParams) (types.Result[types.HostingPlan], error) {
	if msg := b.checkPlan(params); msg != "" {
		return types.Fail[types.HostingPlan](msg), nil
	}
	planID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || planID <= 0 {
		return types.Fail[types.HostingPlan]("invalid plan id " + strconv.Quote(id)), nil
	}

	var deployment string
	err = b.store.db.QueryRowContext(ctx,
		`SELECT deployment_id FROM hosting_plans WHERE id = ? AND account = ?`, planID, b.account).Scan(&deployment)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Fail[types.HostingPlan]("plan " + id + " not found"), nil
	}
	if err != nil {
		return types.Result[types.HostingPlan]{}, err
	}
	if deployment != params.DeploymentID {
		return types.Fail[types.HostingPlan]("plan " + id + " belongs to another deployment"), nil
	}

	_, err = b.store.db.ExecContext(ctx, `
		UPDATE hosting_plans SET price = ?, maximum = ?, expiration = ?, updated_at = ?
		WHERE id = ?`,
		params.Price.String(), params.Maximum, params.Expiration, b.store.now().Unix(), planID)
	if err != nil {
		return types.Result[types.HostingPlan]{}, fmt.Errorf("update hosting plan: %w", err)
	}
	return types.Ok(planFromParams(id, params)), nil
}

func (b *Billing) checkPlan(params types.HostingPlanParams) string {
	if b.account == "" {
		return "unauthorized"
	}
	if params.DeploymentID == "" {
		return "deployment id is required"
	}
	price, err := params.Price.Decimal()
	if err != nil || !price.IsPositive() {
		return "price must be a positive base-unit amount"
	}
	if params.Maximum < types.MinMaxProviders {
		return fmt.Sprintf("maximum must be at least %d", types.MinMaxProviders)
	}
	if params.Expiration <= 0 {
		return "expiration must be positive"
	}
	return ""
}

func planFromParams(id string, p types.HostingPlanParams) types.HostingPlan {
	return types.HostingPlan{
		ID:           id,
		DeploymentID: p.DeploymentID,
		Price:        p.Price,
		Maximum:      p.Maximum,
		Expiration:   p.Expiration,
	}
}

var _ clients.BillingService = (*Billing)(nil)

// ForAccount is Billing typed as the service interface, for servers that
// resolve the caller per request
func (s *Store) ForAccount(account string) clients.BillingService {
	return s.Billing(account)
}
