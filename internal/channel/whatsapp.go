package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"job-alert-relay/internal/config"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
)

const (
	twilioAPIURL      = "https://api.twilio.com"
	whatsappTextLimit = 1600
)

// WhatsAppSender posts to a WhatsApp group number through Twilio
type WhatsAppSender struct {
	cfg     config.WhatsAppConfig
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWhatsAppSender creates a WhatsApp sender
func NewWhatsAppSender(cfg config.WhatsAppConfig, timeout time.Duration) *WhatsAppSender {
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = twilioAPIURL
	}
	return &WhatsAppSender{
		cfg:     cfg,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		limiter: newLimiter(cfg.RatePerSec),
	}
}

func (s *WhatsAppSender) ID() model.ChannelID { return model.ChannelWhatsApp }

func (s *WhatsAppSender) IsConfigured() bool {
	return s.cfg.AccountSID != "" && s.cfg.AuthToken != "" && s.cfg.From != "" && s.cfg.To != ""
}

func (s *WhatsAppSender) Capabilities() render.Capabilities {
	return render.Capabilities{Markup: render.MarkupPlain, MaxTextLength: whatsappTextLimit}
}

// Send creates a Twilio message and returns its sid
func (s *WhatsAppSender) Send(ctx context.Context, msg render.Formatted) (string, error) {
	if !s.IsConfigured() {
		return "", notConfigured(s.ID())
	}
	if err := wait(ctx, s.limiter, s.ID()); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("From", whatsappAddress(s.cfg.From))
	form.Set("To", whatsappAddress(s.cfg.To))
	form.Set("Body", msg.Text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.cfg.AccountSID))
	var out struct {
		SID string `json:"sid"`
	}
	err := postForm(ctx, s.client, s.ID(), endpoint, form, func(r *http.Request) {
		r.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	}, &out)
	if err != nil {
		return "", err
	}
	if out.SID == "" {
		return "", fmt.Errorf("whatsapp: response carried no message sid")
	}

	logrus.WithField("channel", s.ID()).Infof("WhatsApp message sent, sid %s", out.SID)
	return out.SID, nil
}

func whatsappAddress(n string) string {
	if strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + n
}
