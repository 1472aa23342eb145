// Package notify delivers moderation engine events to external consumers:
// an HTTP webhook and a live websocket feed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"forumguard/internal/metrics"
	"forumguard/internal/moderation"
	"forumguard/internal/tracing"
)

// DefaultWebhookQueueSize bounds the number of undelivered events held in memory
const DefaultWebhookQueueSize = 1024

// ErrQueueFull is returned by Webhook.Dispatch when the delivery queue is saturated
var ErrQueueFull = errors.New("webhook queue full")

// Webhook posts every event as JSON to a configured URL. Dispatch only enqueues;
// Run performs the deliveries so engine calls never wait on the receiver.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	queue  chan moderation.Event
}

var _ moderation.Dispatcher = (*Webhook)(nil)

// NewWebhook creates a webhook dispatcher. token, when set, is sent as a bearer token.
func NewWebhook(url, token string, client *http.Client, queueSize int) *Webhook {
	if queueSize <= 0 {
		queueSize = DefaultWebhookQueueSize
	}
	return &Webhook{
		url:    url,
		token:  token,
		client: client,
		queue:  make(chan moderation.Event, queueSize),
	}
}

// Dispatch enqueues evt for delivery
func (w *Webhook) Dispatch(ctx context.Context, evt moderation.Event) error {
	select {
	case w.queue <- evt:
		return nil
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		return fmt.Errorf("%w: dropping %s for %s", ErrQueueFull, evt.Type, evt.Content)
	}
}

// Run delivers queued events until ctx is done, then drains whatever is still
// queued before returning. Deliveries are not cut short by ctx; each is bounded
// by the client timeout.
func (w *Webhook) Run(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	for {
		select {
		case evt := <-w.queue:
			w.deliver(detached, evt)
		case <-ctx.Done():
			w.drain(detached)
			return
		}
	}
}

func (w *Webhook) drain(ctx context.Context) {
	for {
		select {
		case evt := <-w.queue:
			w.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (w *Webhook) deliver(ctx context.Context, evt moderation.Event) {
	if err := w.post(ctx, evt); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).
			Str("type", string(evt.Type)).
			Str("content", evt.Content.Key()).
			Msg("notify: webhook delivery failed")
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (w *Webhook) post(ctx context.Context, evt moderation.Event) (err error) {
	ctx, span := tracing.UpstreamSpan(ctx, "webhook", string(evt.Type))
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
