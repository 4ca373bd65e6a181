package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStageCountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStage("allowance", StageSkipped, time.Millisecond)
	m.ObserveStage("deposit", StageDone, time.Second)
	m.ObserveStage("deposit", StageDone, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("allowance", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("deposit", "done")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("deposit", "failed")))
}

func TestRecordRunAndBillingRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRun(true)
	m.RecordRun(false)
	m.RecordRun(false)
	m.RecordBillingRequest("GET", "/api-keys", 200)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.billingRequests.WithLabelValues("GET", "/api-keys", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// TestNilProvisioningIsNoop proves callers may run without instrumentation
func TestNilProvisioningIsNoop(t *testing.T) {
	var m *Provisioning
	m.ObserveStage("plan", StageFailed, time.Second)
	m.RecordRun(true)
	m.RecordBillingRequest("POST", "/hosting-plans", 500)
}
