package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-alert-relay/internal/config"
	"job-alert-relay/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8000"},
		Store:  config.StoreConfig{Driver: "memory", Retention: time.Hour},
		Source: config.SourceConfig{
			Driver:      "supabase",
			SupabaseURL: "http://127.0.0.1:1",
			SupabaseKey: "key",
			Timeout:     time.Second,
		},
		Delivery: config.DeliveryConfig{
			Order:       []string{"telegram", "whatsapp", "facebook", "email"},
			SendTimeout: time.Second,
		},
		Channels: config.ChannelsConfig{
			Facebook: config.FacebookConfig{AccessToken: "token", GroupID: "g1"},
		},
		Scheduler: config.SchedulerConfig{Interval: time.Minute, QueueSize: 2},
	}
}

func TestBuildWiresChannelsInOrder(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []model.ChannelID{
		model.ChannelTelegram, model.ChannelWhatsApp, model.ChannelFacebook, model.ChannelEmail,
	}, a.Coordinator.Channels())
	assert.Equal(t, []model.ChannelID{model.ChannelFacebook}, a.Coordinator.Configured())
	assert.False(t, a.Scheduler.IsRunning())
}

func TestBuildServesHealthAndMetrics(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	defer a.Close()

	for _, path := range []string{"/healthz", "/metrics", "/api/v1/scheduler/status", "/api/v1/stats"} {
		w := httptest.NewRecorder()
		a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestBuildSourceOutageFailsRun(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Scheduler.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, summary.State)
	assert.Contains(t, summary.Error, model.ErrSourceUnavailable.Error())

	_, ok, err := a.Store.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildRejectsUnknownChannel(t *testing.T) {
	cfg := testConfig()
	cfg.Delivery.Order = []string{"pager"}

	_, err := Build(context.Background(), cfg, prometheus.NewRegistry(), nil)
	assert.Error(t, err)
}
