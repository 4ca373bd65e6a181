// Package metrics provides Prometheus instrumentation for provisioning runs
// and the sandbox billing server.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StageResult is the label recorded for a finished pipeline stage
type StageResult string

const (
	StageDone    StageResult = "done"
	StageSkipped StageResult = "skipped"
	StageFailed  StageResult = "failed"
)

// Provisioning manages instrumentation for the transaction pipeline.
type Provisioning struct {
	stagesTotal     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	billingRequests *prometheus.CounterVec
}

var (
	defaultInstance *Provisioning
	defaultOnce     sync.Once
)

// Default returns the singleton registered on the default registry.
func Default() *Provisioning {
	defaultOnce.Do(func() {
		defaultInstance = New(prometheus.DefaultRegisterer)
	})
	return defaultInstance
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Provisioning {
	m := &Provisioning{
		stagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flexplan",
				Subsystem: "pipeline",
				Name:      "stages_total",
				Help:      "Pipeline stages finished, by stage and result.",
			},
			[]string{"stage", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flexplan",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage, including receipt waits.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"stage"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flexplan",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Pipeline runs, by outcome.",
			},
			[]string{"outcome"},
		),
		billingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flexplan",
				Subsystem: "billing",
				Name:      "requests_total",
				Help:      "Billing API requests served, by route and status code.",
			},
			[]string{"method", "route", "code"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.stagesTotal,
			m.stageDuration,
			m.runsTotal,
			m.billingRequests,
		)
	}

	return m
}

// ObserveStage records a finished stage.
func (m *Provisioning) ObserveStage(stage string, result StageResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stagesTotal.WithLabelValues(stage, string(result)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordRun records a finished pipeline run.
func (m *Provisioning) RecordRun(succeeded bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordBillingRequest records one request served by the billing API.
func (m *Provisioning) RecordBillingRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.billingRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
