// Package webhook delivers signed Flex Plan provisioning events.
// Supports plain JSON receivers plus Slack and Teams incoming webhooks.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flexplan/core/pipeline"
	"flexplan/core/types"
)

// Provider is a webhook receiver type
type Provider string

const (
	ProviderCustom Provider = "custom"
	ProviderSlack  Provider = "slack"
	ProviderTeams  Provider = "teams"
)

// ParseProvider accepts an empty name as custom
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case "":
		return ProviderCustom, nil
	case ProviderCustom, ProviderSlack, ProviderTeams:
		return p, nil
	default:
		return "", fmt.Errorf("unknown webhook provider %q", s)
	}
}

// Event names
const (
	EventPlanCreated = "plan.created"
	EventPlanUpdated = "plan.updated"
	EventPlanFailed  = "plan.failed"
)

// Config configures webhook behavior
type Config struct {
	// Provider type
	Provider Provider `json:"provider"`

	// Endpoint URL
	Endpoint string `json:"endpoint"`

	// Secret signs the body with HMAC-SHA256
	Secret string `json:"secret"`

	// Headers to include
	Headers map[string]string `json:"headers"`

	// Timeout for requests
	Timeout time.Duration `json:"timeout"`

	// RetryCount for failed requests
	RetryCount int `json:"retry_count"`

	// RetryDelay between retries
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig(provider Provider) *Config {
	return &Config{
		Provider:   provider,
		Timeout:    10 * time.Second,
		RetryCount: 3,
		RetryDelay: 1 * time.Second,
		Headers:    make(map[string]string),
	}
}

// Adapter is the webhook adapter
type Adapter struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a new webhook adapter
func New(config *Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

// Payload is the webhook payload
type Payload struct {
	// Event type
	Event string `json:"event"`

	// DeliveryID is unique per event; retries reuse it
	DeliveryID string `json:"delivery_id"`

	Account      string `json:"account"`
	ProjectID    string `json:"project_id"`
	DeploymentID string `json:"deployment_id"`

	// Plan is set once the plan stage completed
	Plan *PlanPayload `json:"plan,omitempty"`

	// Deposit is the human-scale amount deposited in this run
	Deposit string `json:"deposit,omitempty"`

	TxHashes []string `json:"tx_hashes,omitempty"`

	// FailedStage and Error describe a failed run
	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`

	// Timestamp
	Timestamp time.Time `json:"timestamp"`
}

// PlanPayload is plan info
type PlanPayload struct {
	ID               string `json:"id"`
	PricePerThousand string `json:"price_per_thousand"`
	Maximum          int    `json:"maximum"`
	Expiration       int64  `json:"expiration"`
}

// NewPayload describes a finished pipeline run. runErr is the error Run
// returned, nil on success.
func NewPayload(account string, req pipeline.Request, out *pipeline.Outcome, runErr error, now time.Time) *Payload {
	p := &Payload{
		Event:        EventPlanCreated,
		DeliveryID:   uuid.NewString(),
		Account:      account,
		ProjectID:    req.ProjectID,
		DeploymentID: req.DeploymentID,
		Timestamp:    now.UTC(),
	}
	if req.Editing() || (out != nil && out.PlanExisted) {
		p.Event = EventPlanUpdated
	}
	if out != nil {
		p.TxHashes = out.TxHashes()
		if out.DepositConsumed {
			p.Deposit = req.DepositAmount.String()
		}
		if out.Plan != nil {
			p.Plan = planPayload(*out.Plan)
		}
	}
	if runErr != nil {
		p.Event = EventPlanFailed
		p.Error = runErr.Error()
		var stageErr *pipeline.StageError
		if errors.As(runErr, &stageErr) {
			p.FailedStage = stageErr.Stage.String()
			p.Error = stageErr.Message()
		}
	}
	return p
}

func planPayload(plan types.HostingPlan) *PlanPayload {
	return &PlanPayload{
		ID:               plan.ID,
		PricePerThousand: plan.PricePerThousand().String(),
		Maximum:          plan.Maximum,
		Expiration:       plan.Expiration,
	}
}

// Send sends the webhook
func (a *Adapter) Send(ctx context.Context, payload *Payload) error {
	var lastErr error

	for attempt := 0; attempt <= a.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.config.RetryDelay):
			}
		}

		if err := a.sendOnce(ctx, payload); err != nil {
			lastErr = err
			a.logger.Debug("webhook delivery failed",
				zap.String("delivery_id", payload.DeliveryID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return nil
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", a.config.RetryCount+1, lastErr)
}

func (a *Adapter) sendOnce(ctx context.Context, payload *Payload) error {
	body, err := a.formatPayload(payload)
	if err != nil {
		return fmt.Errorf("failed to format payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flexplan-Event", payload.Event)
	req.Header.Set("X-Flexplan-Delivery", payload.DeliveryID)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	if a.config.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+a.sign(body))
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SignatureHeader carries the hex HMAC of the request body
const SignatureHeader = "X-Flexplan-Signature"

func (a *Adapter) formatPayload(payload *Payload) ([]byte, error) {
	switch a.config.Provider {
	case ProviderSlack:
		return a.formatSlack(payload)
	case ProviderTeams:
		return a.formatTeams(payload)
	default:
		return json.Marshal(payload)
	}
}

func (p *Payload) title() string {
	switch p.Event {
	case EventPlanFailed:
		return fmt.Sprintf("Flex Plan for %s failed at %s", p.DeploymentID, p.FailedStage)
	case EventPlanUpdated:
		return fmt.Sprintf("Flex Plan for %s updated", p.DeploymentID)
	default:
		return fmt.Sprintf("Flex Plan for %s created", p.DeploymentID)
	}
}

func (p *Payload) facts() [][2]string {
	facts := [][2]string{{"Account", p.Account}, {"Project", p.ProjectID}}
	if p.Plan != nil {
		facts = append(facts,
			[2]string{"Price / 1000", p.Plan.PricePerThousand + " " + types.TokenSymbol},
			[2]string{"Max providers", fmt.Sprintf("%d", p.Plan.Maximum)},
		)
	}
	if p.Deposit != "" {
		facts = append(facts, [2]string{"Deposit", p.Deposit + " " + types.TokenSymbol})
	}
	if p.Error != "" {
		facts = append(facts, [2]string{"Error", p.Error})
	}
	return facts
}

func (a *Adapter) formatSlack(payload *Payload) ([]byte, error) {
	color := "good"
	if payload.Event == EventPlanFailed {
		color = "danger"
	}

	var fields []map[string]interface{}
	for _, f := range payload.facts() {
		fields = append(fields, map[string]interface{}{"title": f[0], "value": f[1], "short": true})
	}
	slack := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  payload.title(),
				"fields": fields,
				"footer": "delivery " + payload.DeliveryID,
				"ts":     payload.Timestamp.Unix(),
			},
		},
	}

	return json.Marshal(slack)
}

func (a *Adapter) formatTeams(payload *Payload) ([]byte, error) {
	themeColor := "00FF00"
	if payload.Event == EventPlanFailed {
		themeColor = "FF0000"
	}

	var facts []map[string]interface{}
	for _, f := range payload.facts() {
		facts = append(facts, map[string]interface{}{"name": f[0], "value": f[1]})
	}
	teams := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": themeColor,
		"summary":    payload.title(),
		"sections": []map[string]interface{}{
			{
				"activityTitle": payload.title(),
				"facts":         facts,
			},
		},
	}

	return json.Marshal(teams)
}

func (a *Adapter) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(a.config.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value against the body
func VerifySignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
