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
	graphAPIURL       = "https://graph.facebook.com"
	graphAPIVersion   = "v18.0"
	facebookTextLimit = 63206
)

// FacebookSender posts to a Facebook group feed through the Graph API
type FacebookSender struct {
	cfg     config.FacebookConfig
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFacebookSender creates a Facebook sender
func NewFacebookSender(cfg config.FacebookConfig, timeout time.Duration) *FacebookSender {
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = graphAPIURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = graphAPIVersion
	}
	return &FacebookSender{
		cfg:     cfg,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		limiter: newLimiter(cfg.RatePerSec),
	}
}

func (s *FacebookSender) ID() model.ChannelID { return model.ChannelFacebook }

func (s *FacebookSender) IsConfigured() bool {
	return s.cfg.AccessToken != "" && s.cfg.GroupID != ""
}

func (s *FacebookSender) Capabilities() render.Capabilities {
	return render.Capabilities{
		Markup:           render.MarkupPlain,
		SupportsImage:    true,
		MaxTextLength:    facebookTextLimit,
		MaxCaptionLength: facebookTextLimit,
	}
}

// Send publishes a text post to the group feed
func (s *FacebookSender) Send(ctx context.Context, msg render.Formatted) (string, error) {
	form := url.Values{}
	form.Set("message", msg.Text)
	return s.publish(ctx, "feed", form)
}

// SendWithImage publishes a photo post with the caption variant
func (s *FacebookSender) SendWithImage(ctx context.Context, msg render.Formatted) (string, error) {
	if msg.ImageURL == "" {
		return "", fmt.Errorf("facebook: no image to send")
	}
	form := url.Values{}
	form.Set("url", msg.ImageURL)
	form.Set("caption", msg.Caption)
	return s.publish(ctx, "photos", form)
}

func (s *FacebookSender) publish(ctx context.Context, edge string, form url.Values) (string, error) {
	if !s.IsConfigured() {
		return "", notConfigured(s.ID())
	}
	if err := wait(ctx, s.limiter, s.ID()); err != nil {
		return "", err
	}

	form.Set("access_token", s.cfg.AccessToken)
	endpoint := fmt.Sprintf("%s/%s/%s/%s", s.baseURL, s.cfg.APIVersion, url.PathEscape(s.cfg.GroupID), edge)

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := postForm(ctx, s.client, s.ID(), endpoint, form, nil, &out); err != nil {
		return "", err
	}

	ref := out.PostID
	if ref == "" {
		ref = out.ID
	}
	if ref == "" {
		return "", fmt.Errorf("facebook: response carried no post id")
	}

	logrus.WithField("channel", s.ID()).Infof("Facebook post published to %s, id %s", edge, ref)
	return ref, nil
}
