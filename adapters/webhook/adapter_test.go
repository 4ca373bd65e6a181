package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexplan/core/pipeline"
	"flexplan/core/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRequest() pipeline.Request {
	return pipeline.Request{
		ProjectID:     "42",
		DeploymentID:  "QmDeployment",
		Price:         decimal.NewFromInt(2),
		MaxProviders:  decimal.NewFromInt(4),
		DepositAmount: decimal.NewFromInt(500),
	}
}

func testOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		Stages: []pipeline.StageReport{
			{Stage: pipeline.StageAllowance, Status: pipeline.StatusDone, TxHash: "0x01"},
			{Stage: pipeline.StageDeposit, Status: pipeline.StatusDone, TxHash: "0x02"},
			{Stage: pipeline.StageAPIKey, Status: pipeline.StatusSkipped},
			{Stage: pipeline.StagePlan, Status: pipeline.StatusDone},
		},
		DepositConsumed: true,
		Plan: &types.HostingPlan{
			ID:           "7",
			DeploymentID: "QmDeployment",
			Price:        types.PerRequestBaseUnits(decimal.NewFromInt(2)),
			Maximum:      4,
			Expiration:   86400,
		},
	}
}

func TestNewPayloadSuccess(t *testing.T) {
	p := NewPayload("0xconsumer", testRequest(), testOutcome(), nil, now)

	assert.Equal(t, EventPlanCreated, p.Event)
	assert.NotEmpty(t, p.DeliveryID)
	assert.Equal(t, []string{"0x01", "0x02"}, p.TxHashes)
	assert.Equal(t, "500", p.Deposit)
	require.NotNil(t, p.Plan)
	assert.Equal(t, "7", p.Plan.ID)
	assert.Equal(t, "2", p.Plan.PricePerThousand)
	assert.Empty(t, p.FailedStage)
}

func TestNewPayloadEditAndFailure(t *testing.T) {
	req := testRequest()
	req.ExistingPlan = &types.HostingPlan{ID: "7"}
	p := NewPayload("0xconsumer", req, nil, nil, now)
	assert.Equal(t, EventPlanUpdated, p.Event)

	out := &pipeline.Outcome{Stages: []pipeline.StageReport{
		{Stage: pipeline.StageAllowance, Status: pipeline.StatusDone, TxHash: "0x01"},
		{Stage: pipeline.StageDeposit, Status: pipeline.StatusFailed},
	}}
	runErr := &pipeline.StageError{Stage: pipeline.StageDeposit, Err: errors.New("insufficient funds")}
	p = NewPayload("0xconsumer", testRequest(), out, runErr, now)

	assert.Equal(t, EventPlanFailed, p.Event)
	assert.Equal(t, "deposit", p.FailedStage)
	assert.Equal(t, "insufficient funds", p.Error)
	assert.Empty(t, p.Deposit)
	assert.Nil(t, p.Plan)
}

func TestNewPayloadUpdateFoundByRun(t *testing.T) {
	out := testOutcome()
	out.PlanExisted = true
	req := testRequest()
	require.False(t, req.Editing())

	p := NewPayload("0xconsumer", req, out, nil, now)
	assert.Equal(t, EventPlanUpdated, p.Event)
}

func TestSendSignsBody(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	cfg := DefaultConfig(ProviderCustom)
	cfg.Endpoint = srv.URL
	cfg.Secret = "s3cret"
	cfg.Headers["X-Team"] = "infra"
	payload := NewPayload("0xconsumer", testRequest(), testOutcome(), nil, now)

	require.NoError(t, New(cfg, nil).Send(context.Background(), payload))

	require.NotNil(t, got)
	assert.Equal(t, EventPlanCreated, got.Header.Get("X-Flexplan-Event"))
	assert.Equal(t, payload.DeliveryID, got.Header.Get("X-Flexplan-Delivery"))
	assert.Equal(t, "infra", got.Header.Get("X-Team"))
	assert.True(t, VerifySignature(body, got.Header.Get(SignatureHeader), "s3cret"))
	assert.False(t, VerifySignature(body, got.Header.Get(SignatureHeader), "other"))

	var decoded Payload
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "QmDeployment", decoded.DeploymentID)
}

func TestSendRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig(ProviderCustom)
	cfg.Endpoint = srv.URL
	cfg.RetryDelay = time.Millisecond

	require.NoError(t, New(cfg, nil).Send(context.Background(), NewPayload("0x", testRequest(), nil, nil, now)))
	assert.Equal(t, int32(3), calls.Load())

	cfg.RetryCount = 1
	calls.Store(0)
	err := New(cfg, nil).Send(context.Background(), NewPayload("0x", testRequest(), nil, nil, now))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestSlackFormat(t *testing.T) {
	a := New(&Config{Provider: ProviderSlack}, nil)
	runErr := &pipeline.StageError{Stage: pipeline.StagePlan, Err: errors.New("rejected")}
	body, err := a.formatPayload(NewPayload("0x", testRequest(), nil, runErr, now))
	require.NoError(t, err)

	var msg struct {
		Attachments []struct {
			Color string `json:"color"`
			Title string `json:"title"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(body, &msg))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "danger", msg.Attachments[0].Color)
	assert.Equal(t, "Flex Plan for QmDeployment failed at plan", msg.Attachments[0].Title)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("")
	require.NoError(t, err)
	assert.Equal(t, ProviderCustom, p)
	p, err = ParseProvider("teams")
	require.NoError(t, err)
	assert.Equal(t, ProviderTeams, p)
	_, err = ParseProvider("github")
	assert.Error(t, err)
}
