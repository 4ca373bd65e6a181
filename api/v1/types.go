// Package v1 - Billing API wire types
// These DTOs are the STABLE contract between the billing client and the
// sandbox server. Amounts are base-unit integer strings; prices are per
// request. Changes to these types are breaking changes.
package v1

import (
	"fmt"
	"time"

	"flexplan/core/types"
)

// Routes served by the billing API
const (
	RouteOffers       = "/projects/{project}/deployments/{deployment}/indexers"
	RouteAPIKeys      = "/users/apikey"
	RouteHostingPlans = "/users/hosting-plans"
	RouteHostingPlan  = "/users/hosting-plans/{id}"
	RouteHealth       = "/health"
	RouteMetrics      = "/metrics"
)

// Headers used on every request
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAuthorization = "Authorization"
	HeaderAccount       = "X-Account"
)

// OffersPath fills in RouteOffers
func OffersPath(projectID, deploymentID string) string {
	return fmt.Sprintf("/projects/%s/deployments/%s/indexers", projectID, deploymentID)
}

// HostingPlanPath fills in RouteHostingPlan
func HostingPlanPath(id string) string {
	return RouteHostingPlans + "/" + id
}

// ErrorResponse is the body of every service-level error
type ErrorResponse struct {
	Error string `json:"error"`
}

// IndexerOffer is one provider quote as sent on the wire
type IndexerOffer struct {
	Indexer string `json:"indexer"`

	// Price is base units per request
	Price string `json:"price"`

	// MaxTime is the longest plan duration in seconds
	MaxTime int64 `json:"max_time"`
}

// OffersResponse is the body of GET RouteOffers
type OffersResponse struct {
	Indexers []IndexerOffer `json:"indexers"`
}

// CreateAPIKeyRequest is the body of POST RouteAPIKeys
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// APIKey is an API key as sent on the wire
type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HostingPlanRequest is the body of POST RouteHostingPlans and PUT RouteHostingPlan
type HostingPlanRequest struct {
	ID           string `json:"id"`
	DeploymentID string `json:"deploymentId"`
	Price        string `json:"price"`
	Maximum      int    `json:"maximum"`
	Expiration   int64  `json:"expiration"`
}

// HostingPlan is a plan as sent on the wire
type HostingPlan struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	Price        string    `json:"price"`
	Maximum      int       `json:"maximum"`
	Expiration   int64     `json:"expiration"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToOffer converts a wire offer to the per-1000 domain form
func (o IndexerOffer) ToOffer() (types.ProviderOffer, error) {
	price, err := types.PerThousandFromBaseUnits(types.BaseUnits(o.Price))
	if err != nil {
		return types.ProviderOffer{}, fmt.Errorf("offer from %s: %w", o.Indexer, err)
	}
	return types.ProviderOffer{
		ProviderID:         o.Indexer,
		PricePerThousand:   price,
		MaxDurationSeconds: o.MaxTime,
	}, nil
}

// FromOffer converts a domain offer to the wire form
func FromOffer(o types.ProviderOffer) IndexerOffer {
	return IndexerOffer{
		Indexer: o.ProviderID,
		Price:   types.PerRequestBaseUnits(o.PricePerThousand).String(),
		MaxTime: o.MaxDurationSeconds,
	}
}

// ToAPIKey converts a wire key to the domain form
func (k APIKey) ToAPIKey() types.APIKey {
	return types.APIKey{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}

// FromAPIKey converts a domain key to the wire form
func FromAPIKey(k types.APIKey) APIKey {
	return APIKey{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}

// ToHostingPlan converts a wire plan to the domain form
func (p HostingPlan) ToHostingPlan() types.HostingPlan {
	return types.HostingPlan{
		ID:           p.ID,
		DeploymentID: p.DeploymentID,
		Price:        types.BaseUnits(p.Price),
		Maximum:      p.Maximum,
		Expiration:   p.Expiration,
	}
}

// FromHostingPlan converts a domain plan to the wire form
func FromHostingPlan(p types.HostingPlan) HostingPlan {
	return HostingPlan{
		ID:           p.ID,
		DeploymentID: p.DeploymentID,
		Price:        p.Price.String(),
		Maximum:      p.Maximum,
		Expiration:   p.Expiration,
	}
}

// NewHostingPlanRequest converts submitted params to the wire form
func NewHostingPlanRequest(p types.HostingPlanParams) HostingPlanRequest {
	return HostingPlanRequest{
		ID:           p.ID,
		DeploymentID: p.DeploymentID,
		Price:        p.Price.String(),
		Maximum:      p.Maximum,
		Expiration:   p.Expiration,
	}
}

// Params converts the wire request to the domain form
func (r HostingPlanRequest) Params() types.HostingPlanParams {
	return types.HostingPlanParams{
		ID:           r.ID,
		DeploymentID: r.DeploymentID,
		Price:        types.BaseUnits(r.Price),
		Maximum:      r.Maximum,
		Expiration:   r.Expiration,
	}
}

// Validate checks a plan request before it is stored
func (r HostingPlanRequest) Validate() error {
	if r.DeploymentID == "" {
		return fmt.Errorf("deploymentId is required")
	}
	price, err := types.BaseUnits(r.Price).Decimal()
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive")
	}
	if r.Maximum < types.MinMaxProviders {
		return fmt.Errorf("maximum must be at least %d", types.MinMaxProviders)
	}
	if r.Expiration <= 0 {
		return fmt.Errorf("expiration must be positive")
	}
	return nil
}
