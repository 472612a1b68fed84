package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-alert-relay/internal/model"
)

func TestDeliveryLogs(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	report := model.DeliveryReport{
		RecordID: "job-7",
		Outcomes: []model.DeliveryOutcome{
			{
				Channel:   model.ChannelTelegram,
				Delivered: true,
				Reference: model.StringPtr("99"),
				Attempts:  []model.Attempt{{Mode: model.AttemptImage, Error: "bad"}, {Mode: model.AttemptText}},
			},
			{
				Channel:  model.ChannelWhatsApp,
				Error:    model.StringPtr("channel unavailable: whatsapp is not configured"),
				Attempts: nil,
			},
		},
		AnySuccess: true,
	}

	logs := deliveryLogs("run-1", report, at)
	require.Len(t, logs, 2)

	assert.Equal(t, "run-1", logs[0].RunID)
	assert.Equal(t, "job-7", logs[0].RecordID)
	assert.Equal(t, "telegram", logs[0].Channel)
	assert.Equal(t, "delivered", logs[0].Status)
	assert.Equal(t, "99", logs[0].Reference)
	assert.Equal(t, 2, logs[0].Attempts)
	assert.Equal(t, at, logs[0].CreatedAt)

	assert.Equal(t, "failed", logs[1].Status)
	assert.Empty(t, logs[1].Reference)
	assert.Zero(t, logs[1].Attempts)
	assert.Contains(t, logs[1].ErrorMsg, "not configured")
}

func TestDeliveryLogsEmptyReport(t *testing.T) {
	assert.Empty(t, deliveryLogs("run-1", model.DeliveryReport{RecordID: "job-1"}, time.Now()))
}
