// Package notify delivers notifications from scripts and lifecycle hooks
// to configured webhook endpoints.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/params"
)

// WebhookKind selects the payload shape for a webhook endpoint.
type WebhookKind string

const (
	// KindGeneric posts a structured JSON envelope.
	KindGeneric WebhookKind = "generic"

	// KindChatBot posts a chat-bot text message, HMAC-signed when the
	// webhook carries a shared secret.
	KindChatBot WebhookKind = "chatbot"
)

// Webhook is one configured delivery target.
type Webhook struct {
	URL    string      `mapstructure:"url" json:"url"`
	Secret string      `mapstructure:"secret" json:"-"`
	Kind   WebhookKind `mapstructure:"kind" json:"kind"`
}

// Options adjust a single notification.
type Options struct {
	// Raw posts the message verbatim as the request body, bypassing any
	// envelope. Chat-bot integrations that require an exact shape use this.
	Raw bool `json:"raw,omitempty"`

	// URL adds a one-off delivery target beyond the configured webhooks.
	URL string `json:"url,omitempty"`

	// Title is included in the generic envelope.
	Title string `json:"title,omitempty"`
}

// Delivery is the outcome for one target URL.
type Delivery struct {
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result aggregates per-URL outcomes. Success means at least one delivery
// went through.
type Result struct {
	Success    bool       `json:"success"`
	Deliveries []Delivery `json:"deliveries"`
}

// Notifier fans a notification out to every configured webhook.
type Notifier struct {
	logger   *zap.Logger
	client   *resty.Client
	webhooks []Webhook
}

// New creates a notifier.
func New(logger *zap.Logger, webhooks []Webhook) *Notifier {
	client := resty.New().
		SetTimeout(8 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Notifier{
		logger:   logger.Named("notify"),
		client:   client,
		webhooks: webhooks,
	}
}

// Notify posts message to every configured webhook plus any one-off URL in
// opts. message may be a string or any JSON-marshalable value.
func (n *Notifier) Notify(ctx context.Context, message interface{}, opts Options) Result {
	targets := make([]Webhook, 0, len(n.webhooks)+1)
	targets = append(targets, n.webhooks...)
	if opts.URL != "" {
		targets = append(targets, Webhook{URL: opts.URL, Kind: KindGeneric})
	}

	result := Result{}
	if len(targets) == 0 {
		n.logger.Warn("Notification dropped, no webhook targets configured")
		return result
	}

	for _, target := range targets {
		delivery := n.deliver(ctx, target, message, opts)
		if delivery.OK {
			result.Success = true
		}
		result.Deliveries = append(result.Deliveries, delivery)
	}
	return result
}

func (n *Notifier) deliver(ctx context.Context, target Webhook, message interface{}, opts Options) Delivery {
	endpoint := target.URL
	var body interface{}

	switch {
	case opts.Raw:
		body = message
	case target.Kind == KindChatBot:
		body = map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": renderText(message, opts.Title)},
		}
	default:
		body = map[string]interface{}{
			"title":     opts.Title,
			"message":   params.Stringify(message),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"source":    "taskdog",
		}
	}

	if target.Kind == KindChatBot && target.Secret != "" {
		endpoint = signURL(endpoint, target.Secret, time.Now())
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		n.logger.Warn("Webhook delivery failed",
			zap.String("url", target.URL),
			zap.Error(err))
		return Delivery{URL: target.URL, Error: err.Error()}
	}

	delivery := Delivery{URL: target.URL, Status: resp.StatusCode(), OK: resp.IsSuccess()}
	if !delivery.OK {
		delivery.Error = fmt.Sprintf("HTTP %d", resp.StatusCode())
		n.logger.Warn("Webhook rejected notification",
			zap.String("url", target.URL),
			zap.Int("status", resp.StatusCode()))
	}
	return delivery
}

func renderText(message interface{}, title string) string {
	text := params.Stringify(message)
	if title != "" {
		return title + "\n" + text
	}
	return text
}

// signURL appends the timestamp/sign query parameters expected by
// chat-bot webhooks: base64(HMAC-SHA256(secret, "<millis>\n<secret>")),
// URL-escaped.
func signURL(endpoint, secret string, now time.Time) string {
	ts := now.UnixMilli()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d\n%s", ts, secret)
	sign := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", endpoint, sep, ts, sign)
}
