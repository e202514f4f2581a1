package model

import "time"

// SessionSnapshot is the externally visible view of a running purchase session.
type SessionSnapshot struct {
	SessionID  string        `json:"sessionId"`
	State      PurchaseState `json:"state"`
	StopAt     PurchaseState `json:"stopAt"`
	Index      int           `json:"index"`
	CurrentURL string        `json:"currentUrl,omitempty"`
	Completed  bool          `json:"completed"`
	Order      []Target      `json:"order"`
	UpdatedMs  int64         `json:"updatedMs"`
}

type SessionRecord struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
	FinalState PurchaseState `json:"finalState,omitempty"`
	Completed  bool          `json:"completed"`
	StopAt     PurchaseState `json:"stopAt"`
	TargetURL  string        `json:"targetUrl,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type EventKind string

const (
	EventTransition EventKind = "transition"
	EventFailover   EventKind = "failover"
	EventCheckpoint EventKind = "checkpoint"
	EventPurchased  EventKind = "purchased"
)

type SessionEvent struct {
	ID          int64         `json:"id"`
	SessionID   string        `json:"sessionId"`
	Kind        EventKind     `json:"kind"`
	State       PurchaseState `json:"state"`
	TargetIndex int           `json:"targetIndex"`
	TargetURL   string        `json:"targetUrl,omitempty"`
	Message     string        `json:"message,omitempty"`
	At          time.Time     `json:"at"`
}
