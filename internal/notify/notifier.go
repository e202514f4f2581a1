package notify

import (
	"context"
	"errors"
)

type OrderPlacedEvent struct {
	At          int64  `json:"atMs"`
	SessionID   string `json:"sessionId"`
	TargetURL   string `json:"targetUrl"`
	TargetIndex int    `json:"targetIndex"`
	Weight      int    `json:"weight"`
}

// Notifier implementations must not block the caller.
type Notifier interface {
	NotifyOrderPlaced(ctx context.Context, evt OrderPlacedEvent)
}

type closer interface {
	Close(ctx context.Context) error
}

// Multi fans one event out to every notifier.
type Multi []Notifier

func (m Multi) NotifyOrderPlaced(ctx context.Context, evt OrderPlacedEvent) {
	for _, n := range m {
		if n != nil {
			n.NotifyOrderPlaced(ctx, evt)
		}
	}
}

// Close waits for pending deliveries of every notifier that supports it.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, n := range m {
		if c, ok := n.(closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
