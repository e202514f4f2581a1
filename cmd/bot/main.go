package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"restock_bot/internal/bot"
	"restock_bot/internal/config"
	"restock_bot/internal/driver/chrome"
	"restock_bot/internal/httpapi"
	"restock_bot/internal/logbus"
	"restock_bot/internal/notify"
	"restock_bot/internal/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	// a missing .env is fine
	_ = godotenv.Load()

	configPath := os.Getenv("RESTOCK_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := logbus.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	bus := logbus.New(500)
	bus.Tee(logger)
	defer bus.Close()
	bus.Log("info", "config loaded", map[string]any{"path": configPath, "config": cfg.Redacted()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopAt, err := cfg.StopState()
	if err != nil {
		bus.Log("error", "invalid stopAt", map[string]any{"error": err.Error()})
		return 1
	}
	sess, err := bot.NewSession(uuid.NewString(), cfg.Links, stopAt)
	if err != nil {
		bus.Log("error", "invalid links", map[string]any{"error": err.Error()})
		return 1
	}

	var (
		recorder bot.Recorder
		history  httpapi.History
		store    *sqlite.Store
	)
	if cfg.Storage.SQLitePath != "" {
		store, err = sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			bus.Log("error", "open sqlite", map[string]any{"error": err.Error(), "path": cfg.Storage.SQLitePath})
			return 1
		}
		defer store.Close()
		if _, err := store.CreateSession(ctx, sessionRecord(sess)); err != nil {
			bus.Log("warn", "history write failed", map[string]any{"error": err.Error()})
		}
		recorder = store
		history = store
	}

	notifier := buildNotifier(cfg.Notify, bus)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := notifier.Close(closeCtx); err != nil {
			bus.Log("warn", "notifier shutdown", map[string]any{"error": err.Error()})
		}
	}()

	if stopsBeforeLaunch(sess) {
		bus.Log("info", "stopped at checkpoint", map[string]any{"session": sess.ID, "state": string(sess.State)})
		finish(store, sess, nil, bus)
		return exitCode(nil, false)
	}

	drv := chrome.New(chrome.Options{
		Browser:         cfg.Browser,
		Login:           cfg.Selectors.Login,
		SignInURL:       cfg.Site.SignInURL,
		ElementTimeout:  cfg.Timeouts.Element(),
		ProbeTimeout:    cfg.Timeouts.Probe(),
		PageLoadTimeout: cfg.Timeouts.PageLoad(),
		Bus:             bus,
	})
	if err := drv.Launch(ctx); err != nil {
		bus.Log("error", "browser launch failed", map[string]any{"error": err.Error()})
		finish(store, sess, err, bus)
		return 1
	}
	defer drv.Close()

	machine := bot.New(bot.Options{
		Driver:   drv,
		Bus:      bus,
		Recorder: recorder,
		Notifier: notifier,
		Config:   cfg,
	})

	bus.Log("info", "purchase session starting", map[string]any{
		"session": sess.ID,
		"targets": len(sess.Order),
		"mode":    string(cfg.Mode),
		"stopAt":  string(sess.StopAt),
	})

	g, gctx := errgroup.WithContext(ctx)
	monitorCtx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()

	var runErr error
	g.Go(func() error {
		defer stopMonitor()
		runErr = machine.Run(gctx, sess)
		return nil
	})

	if cfg.Server.Addr != "" {
		api := httpapi.New(httpapi.Options{
			Cfg:     cfg.Server,
			Bus:     bus,
			Session: machine,
			History: history,
		})
		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			bus.Log("info", "monitor listening", map[string]any{"addr": cfg.Server.Addr})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// the purchase keeps running without the monitor
				bus.Log("error", "monitor server error", map[string]any{"error": err.Error()})
			}
			return nil
		})
		g.Go(func() error {
			<-monitorCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		bus.Log("warn", "monitor shutdown", map[string]any{"error": err.Error()})
	}
	finish(store, sess, runErr, bus)

	code := exitCode(runErr, sess.Completed)
	switch {
	case code == 0 && sess.Completed:
		bus.Log("info", "purchase completed", map[string]any{"session": sess.ID, "url": sess.Current().URL})
	case code == 0:
		bus.Log("info", "stopped at checkpoint", map[string]any{"session": sess.ID, "state": string(sess.State)})
	case ctx.Err() != nil:
		bus.Log("warn", "interrupted before completion", map[string]any{"session": sess.ID, "state": string(sess.State)})
	default:
		bus.Log("error", "purchase session failed", map[string]any{"session": sess.ID, "error": runErr.Error()})
	}
	return code
}

// exitCode is 0 when the order went through or the run stopped at its checkpoint.
// An interrupted run returns the context error from Run and exits 1.
func exitCode(runErr error, completed bool) int {
	if completed || runErr == nil {
		return 0
	}
	return 1
}

func buildNotifier(cfg config.NotifyConfig, bus *logbus.Bus) notify.Multi {
	var out notify.Multi
	if cfg.Email.Enabled {
		out = append(out, notify.NewEmailNotifier(cfg.Email, bus))
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notify.NewWebhookNotifier(cfg.Webhook, bus))
	}
	return out
}
