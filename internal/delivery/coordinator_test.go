package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-alert-relay/internal/channel"
	"job-alert-relay/internal/channel/channeltest"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

type attemptLog struct {
	mu    sync.Mutex
	modes []model.AttemptMode
	fails int
}

func (l *attemptLog) RecordAttempt(ch model.ChannelID, mode model.AttemptMode, err error, took time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modes = append(l.modes, mode)
	if err != nil {
		l.fails++
	}
}

func testRecord() model.Record {
	return model.Record{
		ID:        "job-1",
		CreatedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Title:     "Go Developer",
		Company:   "Acme",
		Link:      "https://jobs.example/jobs/go-developer",
		ImageRef:  "https://img.example/acme.png",
		Body:      "Build services",
	}
}

func newCoordinator(senders ...channel.Sender) *Coordinator {
	return NewCoordinator(render.New(render.Options{Brand: "FlexiTask"}), senders, Options{SendTimeout: time.Second})
}

func TestDeliverAllChannels(t *testing.T) {
	tg := channeltest.NewImage(model.ChannelTelegram)
	wa := channeltest.New(model.ChannelWhatsApp)
	c := newCoordinator(tg, wa)

	report, err := c.Deliver(context.Background(), testRecord())
	require.NoError(t, err)
	assert.True(t, report.AnySuccess)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, model.ChannelTelegram, report.Outcomes[0].Channel)
	assert.Equal(t, model.ChannelWhatsApp, report.Outcomes[1].Channel)

	for _, o := range report.Outcomes {
		assert.True(t, o.Delivered)
		require.NotNil(t, o.Reference)
		assert.Nil(t, o.Error)
		assert.Len(t, o.Attempts, 1)
	}
	assert.Equal(t, model.AttemptImage, tg.Calls()[0].Mode)
	assert.Equal(t, model.AttemptText, wa.Calls()[0].Mode)
	assert.Empty(t, wa.Calls()[0].Msg.ImageURL)
}

func TestDeliverChannelIsolation(t *testing.T) {
	tg := channeltest.New(model.ChannelTelegram)
	tg.FailText(errors.New("bot was kicked"))
	wa := channeltest.New(model.ChannelWhatsApp)
	fb := channeltest.New(model.ChannelFacebook).Unconfigure()
	c := newCoordinator(tg, fb, wa)

	report, err := c.Deliver(context.Background(), testRecord())
	require.NoError(t, err)
	assert.True(t, report.AnySuccess)

	require.Len(t, report.Outcomes, 3)
	assert.False(t, report.Outcomes[0].Delivered)
	assert.Contains(t, *report.Outcomes[0].Error, "bot was kicked")

	assert.False(t, report.Outcomes[1].Delivered)
	assert.Contains(t, *report.Outcomes[1].Error, model.ErrChannelUnavailable.Error())
	assert.Empty(t, report.Outcomes[1].Attempts)
	assert.Zero(t, fb.Count())

	assert.True(t, report.Outcomes[2].Delivered)
	assert.Equal(t, 1, wa.Count())
}

func TestDeliverImageFallsBackToTextOnce(t *testing.T) {
	tg := channeltest.NewImage(model.ChannelTelegram)
	tg.FailImage(errors.New("wrong file identifier"))
	log := &attemptLog{}
	c := NewCoordinator(render.New(render.Options{}), []channel.Sender{tg}, Options{Recorder: log})

	report, err := c.Deliver(context.Background(), testRecord())
	require.NoError(t, err)
	assert.True(t, report.AnySuccess)

	calls := tg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, model.AttemptImage, calls[0].Mode)
	assert.Equal(t, model.AttemptText, calls[1].Mode)

	o := report.Outcomes[0]
	assert.True(t, o.Delivered)
	require.Len(t, o.Attempts, 2)
	assert.Contains(t, o.Attempts[0].Error, "wrong file identifier")
	assert.Empty(t, o.Attempts[1].Error)

	assert.Equal(t, []model.AttemptMode{model.AttemptImage, model.AttemptText}, log.modes)
	assert.Equal(t, 1, log.fails)
}

func TestDeliverFallbackFailureIsNotRetried(t *testing.T) {
	tg := channeltest.NewImage(model.ChannelTelegram)
	tg.FailImage(errors.New("image rejected"))
	tg.FailText(errors.New("text rejected"))
	c := newCoordinator(tg)

	report, err := c.Deliver(context.Background(), testRecord())
	require.NoError(t, err)
	assert.False(t, report.AnySuccess)
	assert.Equal(t, 2, tg.Count())
	require.NotNil(t, report.Outcomes[0].Error)
	assert.Contains(t, *report.Outcomes[0].Error, "text rejected")
}

func TestDeliverWithoutImageSendsTextOnly(t *testing.T) {
	tg := channeltest.NewImage(model.ChannelTelegram)
	rec := testRecord()
	rec.ImageRef = ""
	c := newCoordinator(tg)

	_, err := c.Deliver(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, tg.Calls(), 1)
	assert.Equal(t, model.AttemptText, tg.Calls()[0].Mode)
}

func TestDeliverTimeout(t *testing.T) {
	slow := channeltest.New(model.ChannelTelegram)
	slow.Delay(time.Second)
	c := NewCoordinator(render.New(render.Options{}), []channel.Sender{slow}, Options{SendTimeout: 20 * time.Millisecond})

	start := time.Now()
	report, err := c.Deliver(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, report.AnySuccess)
	require.NotNil(t, report.Outcomes[0].Error)
	assert.Contains(t, *report.Outcomes[0].Error, "timed out")
}

func TestDeliverRecoversSenderPanic(t *testing.T) {
	bad := channeltest.New(model.ChannelTelegram)
	bad.Panic("boom")
	good := channeltest.New(model.ChannelEmail)
	c := newCoordinator(bad, good)

	report, err := c.Deliver(context.Background(), testRecord())
	require.NoError(t, err)
	assert.True(t, report.AnySuccess)
	assert.Contains(t, *report.Outcomes[0].Error, "sender panic: boom")
	assert.True(t, report.Outcomes[1].Delivered)
}

func TestDeliverRenderError(t *testing.T) {
	tg := channeltest.New(model.ChannelTelegram)
	c := newCoordinator(tg)
	rec := testRecord()
	rec.Link = ""

	report, err := c.Deliver(context.Background(), rec)
	assert.True(t, errors.Is(err, model.ErrRender))
	assert.False(t, report.AnySuccess)
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, tg.Count())
}

func TestAnySuccessMatchesOutcomes(t *testing.T) {
	failing := errors.New("down")
	for mask := 0; mask < 8; mask++ {
		var senders []channel.Sender
		for i, id := range []model.ChannelID{model.ChannelTelegram, model.ChannelWhatsApp, model.ChannelEmail} {
			s := channeltest.New(id)
			if mask&(1<<i) != 0 {
				s.FailText(failing)
			}
			senders = append(senders, s)
		}

		report, err := newCoordinator(senders...).Deliver(context.Background(), testRecord())
		require.NoError(t, err)

		delivered := false
		for _, o := range report.Outcomes {
			delivered = delivered || o.Delivered
		}
		assert.Equal(t, delivered, report.AnySuccess, "mask %d", mask)
		assert.Equal(t, mask != 7, report.AnySuccess, "mask %d", mask)
	}
}

func TestPreview(t *testing.T) {
	tg := channeltest.NewImage(model.ChannelTelegram)
	c := newCoordinator(tg, channeltest.New(model.ChannelWhatsApp))

	out, err := c.Preview(testRecord(), model.ChannelTelegram)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.Text, "Go Developer"))
	assert.Equal(t, "https://img.example/acme.png", out.ImageURL)
	assert.Zero(t, tg.Count())

	_, err = c.Preview(testRecord(), model.ChannelFacebook)
	assert.True(t, errors.Is(err, model.ErrChannelUnavailable))

	assert.Equal(t, []model.ChannelID{model.ChannelTelegram, model.ChannelWhatsApp}, c.Channels())
	assert.Equal(t, c.Channels(), c.Configured())
}
