// Package channel holds one Sender per notification platform.
package channel

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

// Sender delivers a formatted message to one platform and returns the
// platform's message reference.
type Sender interface {
	ID() model.ChannelID
	IsConfigured() bool
	Capabilities() render.Capabilities
	Send(ctx context.Context, msg render.Formatted) (string, error)
}

// ImageSender is implemented by senders that can attach an image
type ImageSender interface {
	Sender
	SendWithImage(ctx context.Context, msg render.Formatted) (string, error)
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

func wait(ctx context.Context, l *rate.Limiter, id model.ChannelID) error {
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", id, err)
	}
	return nil
}

func notConfigured(id model.ChannelID) error {
	return fmt.Errorf("%w: %s is not configured", model.ErrChannelUnavailable, id)
}
