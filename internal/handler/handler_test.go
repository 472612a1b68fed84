package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
	"job-alert-relay/internal/scheduler"
	"job-alert-relay/internal/store"
)

type stubRunner struct {
	release chan struct{}
	entered chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, trigger string) model.RunSummary {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	return model.RunSummary{RunID: "run-1", Trigger: trigger, State: model.RunDone, ProcessedCount: 1, Interrupted: ctx.Err() != nil}
}

func (r *stubRunner) DeliverRecord(ctx context.Context, id string) (model.RecordReport, error) {
	if id == "missing" {
		return model.RecordReport{}, fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
	}
	return model.RecordReport{RecordID: id, Status: model.StatusDelivered}, nil
}

type stubRecords struct{}

func (stubRecords) Record(_ context.Context, id string) (*model.Record, error) {
	switch id {
	case "missing":
		return nil, fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
	case "broken":
		return nil, fmt.Errorf("%w: timeout", model.ErrSourceUnavailable)
	}
	return &model.Record{ID: id, Title: "Go Developer", Company: "Acme", Link: "https://jobs.example/" + id}, nil
}

func (stubRecords) Pending(_ context.Context, since time.Time) ([]model.Record, error) {
	if time.Since(since) > 48*time.Hour {
		return nil, fmt.Errorf("%w: timeout", model.ErrSourceUnavailable)
	}
	return []model.Record{
		{ID: "job-1", Title: "Go Developer", Company: "Acme", CreatedAt: since.Add(time.Minute)},
		{ID: "job-2", Title: "SRE", CreatedAt: since.Add(time.Hour)},
	}, nil
}

func (stubRecords) Preview(_ context.Context, id string, ch model.ChannelID) (render.Formatted, error) {
	switch {
	case id == "missing":
		return render.Formatted{}, model.ErrRecordNotFound
	case ch != model.ChannelTelegram:
		return render.Formatted{}, fmt.Errorf("%w: %s", model.ErrChannelUnavailable, ch)
	}
	return render.Formatted{Subject: "Go Developer at Acme", Text: "🚀 New Job"}, nil
}

type stubChannels struct{}

func (stubChannels) Channels() []model.ChannelID {
	return []model.ChannelID{model.ChannelTelegram, model.ChannelWhatsApp}
}

func (stubChannels) Configured() []model.ChannelID {
	return []model.ChannelID{model.ChannelTelegram}
}

type stubAudit struct{}

func (stubAudit) ListLogs(_ context.Context, page, limit int) ([]model.DeliveryLog, int64, error) {
	return []model.DeliveryLog{{ID: 1, RecordID: "job-1", Channel: "telegram", Status: "delivered"}}, 1, nil
}

func (stubAudit) GetLog(_ context.Context, id uint) (*model.DeliveryLog, error) {
	if id != 1 {
		return nil, nil
	}
	return &model.DeliveryLog{ID: 1, RecordID: "job-1", Channel: "telegram", Status: "delivered"}, nil
}

type testServer struct {
	router *gin.Engine
	sched  *scheduler.Scheduler
	store  *store.MemoryStore
	runner *stubRunner
}

func newTestServer(t *testing.T, audit AuditReader) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	runner := &stubRunner{}
	sched := scheduler.NewScheduler(runner, scheduler.Options{Interval: time.Hour, ShutdownTimeout: time.Second})
	t.Cleanup(func() { sched.Stop() })
	st := store.NewMemoryStore(store.Options{})

	h := NewHandlers(sched, st, stubRecords{}, stubChannels{}, audit, prometheus.NewRegistry())
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, sched: sched, store: st, runner: runner}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Store)
	assert.Equal(t, "stopped", resp.Scheduler)
	assert.Equal(t, []model.ChannelID{model.ChannelTelegram}, resp.Channels)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSchedulerStartStop(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/scheduler/start", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/scheduler/start", nil).Code)

	w := s.do(http.MethodGet, "/api/v1/scheduler/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var status scheduler.Status
	decode(t, w, &status)
	assert.True(t, status.Running)
	assert.NotNil(t, status.NextFireTime)

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/scheduler/stop", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/scheduler/stop", nil).Code)
}

func TestRunOnce(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/v1/scheduler/run-once", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var summary model.RunSummary
	decode(t, w, &summary)
	assert.Equal(t, "manual", summary.Trigger)
	assert.Equal(t, 1, summary.ProcessedCount)
}

func TestRunOnceIsDetachedFromRequest(t *testing.T) {
	s := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/run-once", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var summary model.RunSummary
	decode(t, w, &summary)
	assert.False(t, summary.Interrupted)
}

func TestRunOnceConflict(t *testing.T) {
	s := newTestServer(t, nil)
	s.runner.release = make(chan struct{})
	s.runner.entered = make(chan struct{}, 1)

	done := make(chan int, 1)
	go func() {
		done <- s.do(http.MethodPost, "/api/v1/scheduler/run-once", nil).Code
	}()
	<-s.runner.entered

	w := s.do(http.MethodPost, "/api/v1/scheduler/run-once", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "run_in_progress", resp.Error)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/records/job-1/deliver", nil).Code)

	close(s.runner.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestTasks(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/v1/scheduler/tasks", TaskRequest{Kind: "run"})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, s.sched.Start())

	w = s.do(http.MethodPost, "/api/v1/scheduler/tasks", TaskRequest{Kind: "record", RecordID: "job-1"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var task scheduler.Task
	decode(t, w, &task)
	assert.Equal(t, scheduler.TaskRecord, task.Kind)

	assert.Eventually(t, func() bool {
		w := s.do(http.MethodGet, "/api/v1/scheduler/tasks/"+task.ID, nil)
		var got scheduler.Task
		json.Unmarshal(w.Body.Bytes(), &got)
		return w.Code == http.StatusOK && got.State == scheduler.TaskDone
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/api/v1/scheduler/tasks/"+task.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/scheduler/tasks/unknown", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/v1/scheduler/tasks/unknown", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/scheduler/tasks", TaskRequest{Kind: "purge"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/scheduler/tasks", map[string]string{}).Code)
}

func TestDeliverRecord(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/v1/records/job-1/deliver", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var report model.RecordReport
	decode(t, w, &report)
	assert.Equal(t, model.StatusDelivered, report.Status)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/records/missing/deliver", nil).Code)
}

func TestGetPendingRecords(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/v1/records/pending", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count   int                     `json:"count"`
		Since   time.Time               `json:"since"`
		Records []PendingRecordResponse `json:"records"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "job-1", resp.Records[0].ID)
	assert.Equal(t, "Acme", resp.Records[0].Company)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), resp.Since, time.Minute)

	w = s.do(http.MethodGet, "/api/v1/records/pending?hours=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), resp.Since, time.Minute)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/records/pending?hours=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/records/pending?hours=721", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/records/pending?hours=abc", nil).Code)
	assert.Equal(t, http.StatusBadGateway, s.do(http.MethodGet, "/api/v1/records/pending?hours=72", nil).Code)
}

func TestGetRecord(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/v1/records/job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp RecordResponse
	decode(t, w, &resp)
	assert.Equal(t, "job-1", resp.Record.ID)
	assert.Nil(t, resp.Delivery)

	require.NoError(t, s.store.RecordOutcome(context.Background(), model.DeliveryReceipt{
		RecordID:     "job-1",
		DeliveredAny: true,
		PerChannelReference: map[model.ChannelID]*string{
			model.ChannelTelegram: model.StringPtr("42"),
		},
	}))
	w = s.do(http.MethodGet, "/api/v1/records/job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp = RecordResponse{}
	decode(t, w, &resp)
	require.NotNil(t, resp.Delivery)
	assert.True(t, resp.Delivery.DeliveredAny)
	assert.Equal(t, "42", *resp.Delivery.PerChannelReference[model.ChannelTelegram])

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/records/missing", nil).Code)
	assert.Equal(t, http.StatusBadGateway, s.do(http.MethodGet, "/api/v1/records/broken", nil).Code)
}

func TestPreviewRecord(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/v1/records/job-1/preview", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp PreviewResponse
	decode(t, w, &resp)
	assert.Equal(t, model.ChannelTelegram, resp.Channel)
	assert.Equal(t, "Go Developer at Acme", resp.Subject)
	assert.Equal(t, 9, resp.Length)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/records/job-1/preview?channel=pager", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/records/missing/preview", nil).Code)
}

func TestDeliveries(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.store.RecordOutcome(ctx, model.DeliveryReceipt{
			RecordID:     fmt.Sprintf("job-%d", i),
			DeliveredAny: true,
		}))
	}

	w := s.do(http.MethodGet, "/api/v1/deliveries/recent?limit=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var recent struct {
		Deliveries []model.DeliveryReceipt `json:"deliveries"`
		Count      int                     `json:"count"`
	}
	decode(t, w, &recent)
	assert.Equal(t, 2, recent.Count)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/deliveries/recent", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/deliveries/recent?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/deliveries/recent?limit=101", nil).Code)

	w = s.do(http.MethodGet, "/api/v1/deliveries/job-2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var receipt model.DeliveryReceipt
	decode(t, w, &receipt)
	assert.True(t, receipt.DeliveredAny)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/deliveries/job-9", nil).Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.store.RecordOutcome(context.Background(), model.DeliveryReceipt{RecordID: "job-1", DeliveredAny: true}))

	w := s.do(http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	decode(t, w, &stats)
	assert.Equal(t, int64(1), stats.TotalAttempted)
	assert.Len(t, stats.Channels, 2)
	assert.Len(t, stats.Configured, 1)
}

func TestLogs(t *testing.T) {
	disabled := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, disabled.do(http.MethodGet, "/api/v1/logs", nil).Code)

	s := newTestServer(t, stubAudit{})
	w := s.do(http.MethodGet, "/api/v1/logs?page=0&limit=500", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Logs       []DeliveryLogResponse `json:"logs"`
		Pagination struct {
			Page  int   `json:"page"`
			Limit int   `json:"limit"`
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.Logs, 1)
	assert.Equal(t, 1, resp.Pagination.Page)
	assert.Equal(t, 50, resp.Pagination.Limit)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/logs/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/logs/9", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/logs/abc", nil).Code)
}
