package channel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"job-alert-relay/internal/config"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

const (
	telegramTextLimit    = 4096
	telegramCaptionLimit = 1024
)

// telegramAPI is the subset of *tele.Bot used for posting
type telegramAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// chatRecipient accepts both @channelname and numeric chat ids
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

// TelegramSender posts to a Telegram channel through a bot
type TelegramSender struct {
	bot     telegramAPI
	chat    chatRecipient
	limiter *rate.Limiter
}

// NewTelegramSender creates a Telegram sender. An incomplete configuration
// yields a sender that reports itself as not configured.
func NewTelegramSender(cfg config.TelegramConfig, timeout time.Duration) (*TelegramSender, error) {
	s := &TelegramSender{
		chat:    chatRecipient(strings.TrimSpace(cfg.ChannelID)),
		limiter: newLimiter(cfg.RatePerSec),
	}
	if strings.TrimSpace(cfg.BotToken) == "" || s.chat == "" {
		return s, nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	s.bot = bot
	return s, nil
}

func (s *TelegramSender) ID() model.ChannelID { return model.ChannelTelegram }

func (s *TelegramSender) IsConfigured() bool { return s.bot != nil && s.chat != "" }

func (s *TelegramSender) Capabilities() render.Capabilities {
	return render.Capabilities{
		Markup:           render.MarkupMarkdownV2,
		SupportsImage:    true,
		MaxTextLength:    telegramTextLimit,
		MaxCaptionLength: telegramCaptionLimit,
	}
}

// Send posts a text message
func (s *TelegramSender) Send(ctx context.Context, msg render.Formatted) (string, error) {
	return s.post(ctx, msg.Text)
}

// SendWithImage posts a photo with the caption variant
func (s *TelegramSender) SendWithImage(ctx context.Context, msg render.Formatted) (string, error) {
	if msg.ImageURL == "" {
		return "", fmt.Errorf("telegram: no image to send")
	}
	return s.post(ctx, &tele.Photo{File: tele.FromURL(msg.ImageURL), Caption: msg.Caption})
}

func (s *TelegramSender) post(ctx context.Context, what interface{}) (string, error) {
	if !s.IsConfigured() {
		return "", notConfigured(s.ID())
	}
	if err := wait(ctx, s.limiter, s.ID()); err != nil {
		return "", err
	}

	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := s.bot.Send(s.chat, what, &tele.SendOptions{ParseMode: tele.ModeMarkdownV2})
		done <- result{m, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("telegram send: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("telegram send: %w", r.err)
		}
		if r.msg == nil {
			return "", fmt.Errorf("telegram send: empty response")
		}
		ref := strconv.Itoa(r.msg.ID)
		logrus.WithField("channel", s.ID()).Infof("Telegram message sent, id %s", ref)
		return ref, nil
	}
}
