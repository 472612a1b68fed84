package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"job-alert-relay/internal/model"
)

func TestRecordAttempt(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAttempt(model.ChannelTelegram, model.AttemptImage, errors.New("bad image"), time.Millisecond)
	m.RecordAttempt(model.ChannelTelegram, model.AttemptText, nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendAttempts.WithLabelValues("telegram", "image", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendAttempts.WithLabelValues("telegram", "text", "success")))
}

func TestObserveRun(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	start := time.Now()

	m.ObserveRun(model.RunSummary{
		Trigger:      "schedule",
		State:        model.RunDone,
		StartedAt:    start,
		FinishedAt:   start.Add(time.Second),
		SkippedCount: 2,
		Reports: []model.RecordReport{
			{Status: model.StatusDelivered},
			{Status: model.StatusFailed},
			{Status: model.StatusDelivered},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("schedule", "done")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordOutcomes.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsSkipped))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
