package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"job-alert-relay/internal/config"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

// EmailSender mails each alert to a recipient list through the Gmail API
type EmailSender struct {
	service    *gmail.Service
	userEmail  string
	recipients []*mail.Address
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewEmailSender creates an email sender. Extra client options are appended
// after the OAuth2 token source.
func NewEmailSender(ctx context.Context, cfg config.EmailConfig, opts ...option.ClientOption) (*EmailSender, error) {
	s := &EmailSender{
		userEmail: cfg.UserEmail,
		limiter:   newLimiter(cfg.RatePerSec),
		now:       time.Now,
	}
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			s.recipients = append(s.recipients, &mail.Address{Address: r})
		}
	}
	if cfg.UserEmail == "" || len(s.recipients) == 0 {
		return s, nil
	}

	if len(opts) == 0 {
		if cfg.ClientID == "" || cfg.RefreshToken == "" {
			return s, nil
		}
		oauth2Config := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{gmail.GmailSendScope},
			Endpoint:     google.Endpoint,
		}
		tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = []option.ClientOption{option.WithTokenSource(tokenSource)}
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	s.service = service
	return s, nil
}

func (s *EmailSender) ID() model.ChannelID { return model.ChannelEmail }

func (s *EmailSender) IsConfigured() bool { return s.service != nil }

func (s *EmailSender) Capabilities() render.Capabilities {
	return render.Capabilities{Markup: render.MarkupPlain}
}

// Send mails the plain text variant and returns the Gmail message id
func (s *EmailSender) Send(ctx context.Context, msg render.Formatted) (string, error) {
	if !s.IsConfigured() {
		return "", notConfigured(s.ID())
	}
	if err := wait(ctx, s.limiter, s.ID()); err != nil {
		return "", err
	}

	raw, err := s.compose(msg)
	if err != nil {
		return "", fmt.Errorf("email: failed to compose message: %w", err)
	}

	sent, err := s.service.Users.Messages.Send(s.userEmail, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("email: send failed: %w", err)
	}

	logrus.WithField("channel", s.ID()).Infof("Job alert mailed to %d recipients, id %s", len(s.recipients), sent.Id)
	return sent.Id, nil
}

func (s *EmailSender) compose(msg render.Formatted) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Address: s.userEmail}})
	h.SetAddressList("To", s.recipients)
	h.SetSubject(subjectLine(msg.Subject))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func subjectLine(subject string) string {
	if subject == "" {
		return "New job alert"
	}
	return "New job: " + subject
}
