package bot

import (
	"time"

	"restock_bot/internal/model"
	"restock_bot/internal/priority"
)

// Session is one run of the purchase flow. It is owned by a single goroutine.
type Session struct {
	ID        string
	State     model.PurchaseState
	Order     []model.Target
	Index     int
	Completed bool
	StopAt    model.PurchaseState
}

// NewSession orders links by priority and starts in not_started. An empty stopAt
// means run to completion.
func NewSession(id string, links []model.Target, stopAt model.PurchaseState) (*Session, error) {
	order, err := priority.BuildOrder(links)
	if err != nil {
		return nil, err
	}
	if stopAt == "" {
		stopAt = model.StateComplete
	}
	return &Session{
		ID:     id,
		State:  model.StateNotStarted,
		Order:  order,
		StopAt: stopAt,
	}, nil
}

func (s *Session) Current() model.Target {
	return s.Order[s.Index]
}

func (s *Session) advance() {
	s.Index = (s.Index + 1) % len(s.Order)
}

func (s *Session) Snapshot() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		SessionID: s.ID,
		State:     s.State,
		StopAt:    s.StopAt,
		Index:     s.Index,
		Completed: s.Completed,
		Order:     append([]model.Target(nil), s.Order...),
		UpdatedMs: time.Now().UnixMilli(),
	}
	if len(s.Order) > 0 {
		snap.CurrentURL = s.Current().URL
	}
	return snap
}
