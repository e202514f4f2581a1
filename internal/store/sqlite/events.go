package sqlite

import (
	"context"
	"errors"
	"time"

	"restock_bot/internal/model"
)

func (s *Store) AppendEvent(ctx context.Context, ev model.SessionEvent) error {
	if ev.SessionID == "" {
		return errors.New("sessionId is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, kind, state, target_index, target_url, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, string(ev.Kind), string(ev.State), ev.TargetIndex, ev.TargetURL, ev.Message, ev.At.UnixMilli())
	return err
}

// ListEvents returns a session's events in the order they were written.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]model.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, state, target_index, target_url, message, at
		FROM session_events WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SessionEvent{}
	for rows.Next() {
		var (
			ev    model.SessionEvent
			kind  string
			state string
			at    int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &kind, &state, &ev.TargetIndex, &ev.TargetURL, &ev.Message, &at); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.State = model.PurchaseState(state)
		ev.At = time.UnixMilli(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
