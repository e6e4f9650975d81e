package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/code-payments/stake-pool-server/pkg/metrics"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

const (
	metricsNamespace = "stakepool"

	cycleEventName      = "StakePoolCycle"
	submissionEventName = "StakePoolSubmission"

	stepDurationMetricName = "StakePool/%s_duration"
	instructionsMetricName = "StakePool/%s_instructions"
)

// Metrics holds the prometheus collectors updated by the Driver.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	submissions   *prometheus.CounterVec
	instructions  *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	reserve       prometheus.Gauge
	stakeTotal    prometheus.Gauge
	poolTotal     prometheus.Gauge
	validators    prometheus.Gauge
	creditors     prometheus.Gauge
}

// NewMetrics creates the Driver's collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Operational cycles run, by outcome",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time taken by a full operational cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Transactions submitted, by step and status",
		}, []string{"step", "status"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instructions_total",
			Help:      "Pool instructions carried by confirmed transactions, by step",
		}, []string{"step"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Time taken by a cycle step",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"step"}),
		reserve: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "reserve_lamports",
			Help:      "Lamports held by the reserve at the last read",
		}),
		stakeTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stake_total_lamports",
			Help:      "Pool stake total at the last read",
		}),
		poolTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pool_total_shares",
			Help:      "Pool share supply at the last read",
		}),
		validators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "validators",
			Help:      "Validators in the roster at the last read",
		}),
		creditors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "creditors",
			Help:      "Queued creditors at the last read",
		}),
	}

	reg.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.submissions,
		m.instructions,
		m.stepDuration,
		m.reserve,
		m.stakeTotal,
		m.poolTotal,
		m.validators,
		m.creditors,
	)
	return m
}

func (m *Metrics) recordCycle(ctx context.Context, cycle string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(time.Since(start).Seconds())

	kvs := map[string]interface{}{
		"cycle":    cycle,
		"outcome":  outcome,
		"duration": time.Since(start).Milliseconds(),
	}
	if err != nil {
		kvs["error"] = err.Error()
	}
	metrics.RecordEvent(ctx, cycleEventName, kvs)
}

func (m *Metrics) recordStep(ctx context.Context, step journal.Step, start time.Time) {
	m.stepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
	metrics.RecordDuration(ctx, fmt.Sprintf(stepDurationMetricName, step), time.Since(start))
}

func (m *Metrics) recordSubmission(ctx context.Context, record *journal.Record) {
	m.submissions.WithLabelValues(string(record.Step), record.Status.String()).Inc()
	if record.Status == journal.StatusConfirmed {
		m.instructions.WithLabelValues(string(record.Step)).Add(float64(record.Instructions))
		metrics.RecordCount(ctx, fmt.Sprintf(instructionsMetricName, record.Step), uint64(record.Instructions))
	}

	metrics.RecordEvent(ctx, submissionEventName, map[string]interface{}{
		"cycle":        record.CycleId,
		"step":         string(record.Step),
		"signature":    record.Signature,
		"status":       record.Status.String(),
		"instructions": record.Instructions,
	})
}

func (m *Metrics) observeSnapshot(reserve, stakeTotal, poolTotal uint64, validators, creditors int) {
	m.reserve.Set(float64(reserve))
	m.stakeTotal.Set(float64(stakeTotal))
	m.poolTotal.Set(float64(poolTotal))
	m.validators.Set(float64(validators))
	m.creditors.Set(float64(creditors))
}
