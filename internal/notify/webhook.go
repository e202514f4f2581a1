package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"restock_bot/internal/config"
	"restock_bot/internal/logbus"
)

// WebhookNotifier posts each event as JSON to a single URL.
type WebhookNotifier struct {
	url    string
	client *resty.Client
	bus    *logbus.Bus
	wg     sync.WaitGroup
}

func NewWebhookNotifier(cfg config.WebhookConfig, bus *logbus.Bus) *WebhookNotifier {
	client := resty.New().
		SetTimeout(cfg.Timeout()).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	return &WebhookNotifier{url: cfg.URL, client: client, bus: bus}
}

func (n *WebhookNotifier) NotifyOrderPlaced(ctx context.Context, evt OrderPlacedEvent) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Post(context.WithoutCancel(ctx), evt); err != nil {
			if n.bus != nil {
				n.bus.Log("warn", "webhook delivery failed", map[string]any{
					"error":   err.Error(),
					"session": evt.SessionID,
				})
			}
			return
		}
		if n.bus != nil {
			n.bus.Log("info", "webhook delivered", map[string]any{"session": evt.SessionID})
		}
	}()
}

func (n *WebhookNotifier) Post(ctx context.Context, evt OrderPlacedEvent) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(evt).
		Post(n.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook status %d", resp.StatusCode())
	}
	return nil
}

func (n *WebhookNotifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
