package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"job-alert-relay/internal/model"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RecordsFetched   prometheus.Counter
	RecordsSkipped   prometheus.Counter
	RecordOutcomes   *prometheus.CounterVec
	SendAttempts     *prometheus.CounterVec
	SendDuration     *prometheus.HistogramVec
	SkippedTicks     prometheus.Counter
	PendingReceipts  prometheus.Gauge
	CheckpointUnixTS prometheus.Gauge
}

// NewMetrics creates the relay metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "job_alert_relay_runs_total",
			Help: "Total number of detection runs by trigger and final state",
		}, []string{"trigger", "state"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_alert_relay_run_duration_seconds",
			Help:    "Time spent in one detection run",
			Buckets: prometheus.DefBuckets,
		}),
		RecordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "job_alert_relay_records_fetched_total",
			Help: "Total number of candidate records returned by the source",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "job_alert_relay_records_skipped_total",
			Help: "Total number of candidates skipped as already delivered",
		}),
		RecordOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "job_alert_relay_record_outcomes_total",
			Help: "Total number of processed records by status",
		}, []string{"status"}),
		SendAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "job_alert_relay_send_attempts_total",
			Help: "Total number of channel send attempts",
		}, []string{"channel", "mode", "result"}),
		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_alert_relay_send_duration_seconds",
			Help:    "Time spent in one channel send attempt",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		SkippedTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "job_alert_relay_skipped_ticks_total",
			Help: "Scheduler ticks skipped because a run was in progress",
		}),
		PendingReceipts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "job_alert_relay_pending_receipts",
			Help: "Receipts waiting to be written to the idempotency store",
		}),
		CheckpointUnixTS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "job_alert_relay_checkpoint_timestamp_seconds",
			Help: "Unix time of the last committed checkpoint",
		}),
	}
}

// RecordAttempt counts one channel send
func (m *Metrics) RecordAttempt(ch model.ChannelID, mode model.AttemptMode, err error, took time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.SendAttempts.WithLabelValues(string(ch), string(mode), result).Inc()
	m.SendDuration.WithLabelValues(string(ch)).Observe(took.Seconds())
}

// ObserveRun records the summary of a finished run
func (m *Metrics) ObserveRun(s model.RunSummary) {
	m.Runs.WithLabelValues(s.Trigger, string(s.State)).Inc()
	if !s.FinishedAt.IsZero() {
		m.RunDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}
	for _, r := range s.Reports {
		m.RecordOutcomes.WithLabelValues(string(r.Status)).Inc()
	}
	m.RecordsSkipped.Add(float64(s.SkippedCount))
}
