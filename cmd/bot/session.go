package main

import (
	"context"
	"time"

	"restock_bot/internal/bot"
	"restock_bot/internal/logbus"
	"restock_bot/internal/model"
	"restock_bot/internal/store/sqlite"
)

func sessionRecord(s *bot.Session) model.SessionRecord {
	return model.SessionRecord{
		ID:        s.ID,
		StartedAt: time.Now(),
		StopAt:    s.StopAt,
	}
}

// stopsBeforeLaunch reports a checkpoint on the entry state, which needs no browser.
func stopsBeforeLaunch(s *bot.Session) bool {
	return s.State == s.StopAt
}

func finish(store *sqlite.Store, s *bot.Session, runErr error, bus *logbus.Bus) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := ""
	if s.Completed {
		url = s.Current().URL
	}
	if err := store.FinishSession(ctx, s.ID, s.State, s.Completed, url, runErr); err != nil {
		bus.Log("warn", "history write failed", map[string]any{"error": err.Error()})
	}
}
