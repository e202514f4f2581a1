package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"restock_bot/internal/model"
)

func (s *Store) CreateSession(ctx context.Context, rec model.SessionRecord) (model.SessionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.StopAt == "" {
		rec.StopAt = model.StateComplete
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, stop_at)
		VALUES (?, ?, ?)
	`, rec.ID, rec.StartedAt.UnixMilli(), string(rec.StopAt))
	if err != nil {
		return model.SessionRecord{}, err
	}
	return s.GetSession(ctx, rec.ID)
}

// FinishSession stamps the outcome of a run. runErr may be nil.
func (s *Store) FinishSession(ctx context.Context, id string, final model.PurchaseState, completed bool, targetURL string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	done := 0
	if completed {
		done = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET finished_at = ?, final_state = ?, completed = ?, target_url = ?, error = ?
		WHERE id = ?
	`, time.Now().UnixMilli(), string(final), done, targetURL, msg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("session not found")
	}
	return nil
}

type sessionRow struct {
	id         string
	startedAt  int64
	finishedAt int64
	finalState string
	completed  int
	stopAt     string
	targetURL  string
	errMsg     string
}

func (r sessionRow) record() model.SessionRecord {
	rec := model.SessionRecord{
		ID:         r.id,
		StartedAt:  time.UnixMilli(r.startedAt),
		FinalState: model.PurchaseState(r.finalState),
		Completed:  r.completed == 1,
		StopAt:     model.PurchaseState(r.stopAt),
		TargetURL:  r.targetURL,
		Error:      r.errMsg,
	}
	if r.finishedAt > 0 {
		rec.FinishedAt = time.UnixMilli(r.finishedAt)
	}
	return rec
}

func (s *Store) GetSession(ctx context.Context, id string) (model.SessionRecord, error) {
	var row sessionRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, final_state, completed, stop_at, target_url, error
		FROM sessions WHERE id = ?
	`, id).Scan(&row.id, &row.startedAt, &row.finishedAt, &row.finalState, &row.completed, &row.stopAt, &row.targetURL, &row.errMsg)
	if err != nil {
		return model.SessionRecord{}, err
	}
	return row.record(), nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, final_state, completed, stop_at, target_url, error
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionRecord
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.id, &row.startedAt, &row.finishedAt, &row.finalState, &row.completed, &row.stopAt, &row.targetURL, &row.errMsg); err != nil {
			return nil, err
		}
		out = append(out, row.record())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
