// Package delivery fans one record out to every configured channel.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/channel"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

const defaultSendTimeout = 20 * time.Second

// AttemptRecorder observes every remote call the coordinator makes
type AttemptRecorder interface {
	RecordAttempt(ch model.ChannelID, mode model.AttemptMode, err error, took time.Duration)
}

// Options configures a coordinator
type Options struct {
	SendTimeout time.Duration
	Recorder    AttemptRecorder
}

// Coordinator delivers records to its senders in a fixed order. Channels
// never influence each other: a failure on one is recorded in its outcome
// and the next channel is attempted.
type Coordinator struct {
	senders  []channel.Sender
	renderer *render.Renderer
	timeout  time.Duration
	recorder AttemptRecorder
}

// NewCoordinator creates a coordinator. The order of senders is the
// delivery order.
func NewCoordinator(renderer *render.Renderer, senders []channel.Sender, opts Options) *Coordinator {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Coordinator{
		senders:  senders,
		renderer: renderer,
		timeout:  opts.SendTimeout,
		recorder: opts.Recorder,
	}
}

// Channels lists the channel ids in delivery order
func (c *Coordinator) Channels() []model.ChannelID {
	ids := make([]model.ChannelID, len(c.senders))
	for i, s := range c.senders {
		ids[i] = s.ID()
	}
	return ids
}

// Configured lists the channels that can currently send
func (c *Coordinator) Configured() []model.ChannelID {
	var ids []model.ChannelID
	for _, s := range c.senders {
		if s.IsConfigured() {
			ids = append(ids, s.ID())
		}
	}
	return ids
}

// Deliver sends rec to every channel. The only error it returns wraps
// model.ErrRender; channel failures are reported in the outcomes.
func (c *Coordinator) Deliver(ctx context.Context, rec model.Record) (model.DeliveryReport, error) {
	report := model.DeliveryReport{RecordID: rec.ID}

	msg, err := c.renderer.Base(rec)
	if err != nil {
		return report, err
	}

	for _, s := range c.senders {
		outcome := c.deliverTo(ctx, s, msg)
		if outcome.Delivered {
			report.AnySuccess = true
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

// Preview renders the variant a channel would receive without sending it
func (c *Coordinator) Preview(rec model.Record, id model.ChannelID) (render.Formatted, error) {
	msg, err := c.renderer.Base(rec)
	if err != nil {
		return render.Formatted{}, err
	}
	for _, s := range c.senders {
		if s.ID() == id {
			return c.renderer.Format(msg, s.Capabilities()), nil
		}
	}
	return render.Formatted{}, fmt.Errorf("%w: %s is not a delivery channel", model.ErrChannelUnavailable, id)
}

func (c *Coordinator) deliverTo(ctx context.Context, s channel.Sender, msg render.Message) model.DeliveryOutcome {
	outcome := model.DeliveryOutcome{Channel: s.ID()}
	logger := logrus.WithFields(logrus.Fields{"record_id": msg.RecordID, "channel": s.ID()})

	if !s.IsConfigured() {
		err := fmt.Errorf("%w: %s is not configured", model.ErrChannelUnavailable, s.ID())
		outcome.Error = model.StringPtr(err.Error())
		logger.Warn("Skipping unconfigured channel")
		return outcome
	}

	formatted := c.renderer.Format(msg, s.Capabilities())

	if img, ok := s.(channel.ImageSender); ok && formatted.ImageURL != "" {
		ref, err := c.attempt(ctx, s, model.AttemptImage, func(ctx context.Context) (string, error) {
			return img.SendWithImage(ctx, formatted)
		}, &outcome)
		if err == nil {
			return succeeded(outcome, ref)
		}
		logger.Warnf("Image send failed, falling back to text: %v", err)
	}

	ref, err := c.attempt(ctx, s, model.AttemptText, func(ctx context.Context) (string, error) {
		return s.Send(ctx, formatted)
	}, &outcome)
	if err != nil {
		outcome.Error = model.StringPtr(err.Error())
		logger.Errorf("Delivery failed: %v", err)
		return outcome
	}
	return succeeded(outcome, ref)
}

func succeeded(outcome model.DeliveryOutcome, ref string) model.DeliveryOutcome {
	outcome.Delivered = true
	outcome.Reference = model.StringPtr(ref)
	outcome.Error = nil
	logrus.WithFields(logrus.Fields{"channel": outcome.Channel, "reference": ref}).Info("Record delivered")
	return outcome
}

// attempt runs one send under the per-channel timeout and records it
func (c *Coordinator) attempt(ctx context.Context, s channel.Sender, mode model.AttemptMode, send func(context.Context) (string, error), outcome *model.DeliveryOutcome) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	ref, err := boundedSend(ctx, send)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s send timed out after %s: %w", s.ID(), c.timeout, err)
	}

	a := model.Attempt{Mode: mode}
	if err != nil {
		a.Error = err.Error()
	}
	outcome.Attempts = append(outcome.Attempts, a)
	if c.recorder != nil {
		c.recorder.RecordAttempt(s.ID(), mode, err, time.Since(start))
	}
	return ref, err
}

// boundedSend returns when send does or when ctx is done, whichever is
// first. A panic in send is converted into an error.
func boundedSend(ctx context.Context, send func(context.Context) (string, error)) (string, error) {
	type result struct {
		ref string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("sender panic: %v", r)}
			}
		}()
		ref, err := send(ctx)
		done <- result{ref, err}
	}()

	select {
	case r := <-done:
		return r.ref, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.ref, r.err
		default:
			return "", ctx.Err()
		}
	}
}
