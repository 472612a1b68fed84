// Package channeltest provides in-memory senders for tests.
package channeltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

// Call is one recorded send
type Call struct {
	Mode model.AttemptMode
	Msg  render.Formatted
}

// Sender is a text-only fake sender
type Sender struct {
	mu           sync.Mutex
	id           model.ChannelID
	caps         render.Capabilities
	unconfigured bool
	textErr      error
	imageErr     error
	delay        time.Duration
	panicMsg     string
	calls        []Call
}

// ImageSender is a fake sender that also accepts images
type ImageSender struct {
	*Sender
}

// New creates a configured text-only sender
func New(id model.ChannelID) *Sender {
	return &Sender{id: id, caps: render.Capabilities{Markup: render.MarkupPlain}}
}

// NewImage creates a configured sender with image support
func NewImage(id model.ChannelID) *ImageSender {
	s := New(id)
	s.caps.SupportsImage = true
	return &ImageSender{Sender: s}
}

func (s *Sender) ID() model.ChannelID { return s.id }

func (s *Sender) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unconfigured
}

func (s *Sender) Capabilities() render.Capabilities { return s.caps }

// Unconfigure makes the sender report itself as not configured
func (s *Sender) Unconfigure() *Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unconfigured = true
	return s
}

// FailText makes text sends return err; nil restores success
func (s *Sender) FailText(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textErr = err
}

// FailImage makes image sends return err
func (s *Sender) FailImage(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageErr = err
}

// Delay makes every send wait d or until its context is done
func (s *Sender) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Panic makes every send panic with msg
func (s *Sender) Panic(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicMsg = msg
}

// Calls returns a copy of the recorded sends
func (s *Sender) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns the number of recorded sends
func (s *Sender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Sender) Send(ctx context.Context, msg render.Formatted) (string, error) {
	return s.record(ctx, model.AttemptText, msg)
}

func (s *ImageSender) SendWithImage(ctx context.Context, msg render.Formatted) (string, error) {
	return s.record(ctx, model.AttemptImage, msg)
}

func (s *Sender) record(ctx context.Context, mode model.AttemptMode, msg render.Formatted) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Mode: mode, Msg: msg})
	n := len(s.calls)
	delay, panicMsg := s.delay, s.panicMsg
	err := s.textErr
	if mode == model.AttemptImage {
		err = s.imageErr
	}
	s.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", s.id, n), nil
}
