package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"restock_bot/internal/config"
	"restock_bot/internal/driver"
	"restock_bot/internal/logbus"
	"restock_bot/internal/model"
	"restock_bot/internal/notify"
)

var ErrLoginFailed = errors.New("login failed")

// Recorder persists the session's audit trail.
type Recorder interface {
	AppendEvent(ctx context.Context, ev model.SessionEvent) error
}

type Options struct {
	Driver   driver.Driver
	Bus      *logbus.Bus
	Recorder Recorder
	Notifier notify.Notifier
	Config   config.Config
}

type Machine struct {
	driver   driver.Driver
	bus      *logbus.Bus
	recorder Recorder
	notifier notify.Notifier

	cfg     config.Config
	limiter *rate.Limiter

	snapshot atomic.Value // model.SessionSnapshot
}

func New(opts Options) *Machine {
	limit := rate.Inf
	if opts.Config.Limits.NavigateQPS > 0 {
		limit = rate.Limit(opts.Config.Limits.NavigateQPS)
	}
	burst := opts.Config.Limits.NavigateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Machine{
		driver:   opts.Driver,
		bus:      opts.Bus,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		cfg:      opts.Config,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Snapshot returns the last published view of the running session.
func (m *Machine) Snapshot() (model.SessionSnapshot, bool) {
	v, ok := m.snapshot.Load().(model.SessionSnapshot)
	return v, ok
}

// Run drives s until it completes or reaches its checkpoint. It returns nil in both
// cases, a wrapped ErrLoginFailed when authentication fails, and ctx.Err() when
// interrupted.
func (m *Machine) Run(ctx context.Context, s *Session) error {
	m.publish(s)
	for !s.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.State == s.StopAt {
			m.log("info", "checkpoint reached", s, nil)
			m.record(ctx, s, model.EventCheckpoint, "stopped at "+string(s.State))
			return nil
		}
		if err := m.Step(ctx, s); err != nil {
			return err
		}
	}
	m.log("info", "purchase session finished", s, map[string]any{"completed": s.Completed})
	return nil
}

// Step runs the handler for the current state once.
func (m *Machine) Step(ctx context.Context, s *Session) error {
	switch s.State {
	case model.StateNotStarted:
		m.transition(ctx, s, model.StateLogin)
		return nil
	case model.StateLogin:
		return m.login(ctx, s)
	case model.StateAddToCart:
		return m.addToCart(ctx, s)
	case model.StateCheckout:
		return m.checkout(ctx, s)
	case model.StatePlaceOrder:
		return m.placeOrder(ctx, s)
	case model.StateComplete:
		return nil
	default:
		return fmt.Errorf("unknown state %q", s.State)
	}
}

func (m *Machine) login(ctx context.Context, s *Session) error {
	if m.alreadyPurchased(ctx, s) {
		return nil
	}
	m.log("info", "signing in", s, nil)
	creds := driver.Credentials{Email: m.cfg.Account.Email, Password: m.cfg.Account.Password}
	if err := m.driver.Authenticate(ctx, creds); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.log("error", "login failed", s, map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	m.transition(ctx, s, model.StateAddToCart)
	return nil
}

func (m *Machine) addToCart(ctx context.Context, s *Session) error {
	if m.alreadyPurchased(ctx, s) {
		return nil
	}

	saved := m.cfg.Mode == config.ModeSavedItems
	if saved {
		if err := m.openSavedItems(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			m.log("warn", "saved items page unavailable", s, map[string]any{"error": err.Error()})
			return nil
		}
	}

	for attempt := 0; attempt < len(s.Order); attempt++ {
		target := s.Current()
		if err := m.tryAddToCart(ctx, target, saved); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			m.failover(ctx, s, "add to cart failed", err)
			continue
		}
		m.log("info", "added to cart", s, map[string]any{"weight": target.Weight})
		m.transition(ctx, s, model.StateCheckout)
		return nil
	}

	m.log("warn", "no target could be added to cart", s, map[string]any{"attempts": len(s.Order)})
	return nil
}

func (m *Machine) openSavedItems(ctx context.Context) error {
	if err := m.navigate(ctx, m.cfg.Site.SavedItemsURL); err != nil {
		return err
	}
	_, err := m.driver.WaitFor(ctx, m.cfg.Selectors.SavedItemsPanel, driver.Visible, m.cfg.Timeouts.Element())
	return err
}

func (m *Machine) tryAddToCart(ctx context.Context, target model.Target, saved bool) error {
	selector := m.cfg.Selectors.AddToCart
	if saved {
		selector = savedItemSelector(m.cfg.Selectors.SavedItemButton, target.URL)
	} else if err := m.navigate(ctx, target.URL); err != nil {
		return err
	}
	el, err := m.driver.WaitFor(ctx, selector, driver.Enabled, m.cfg.Timeouts.Element())
	if err != nil {
		return err
	}
	return m.driver.Click(ctx, el)
}

func (m *Machine) checkout(ctx context.Context, s *Session) error {
	if m.alreadyPurchased(ctx, s) {
		return nil
	}
	sel := m.cfg.Selectors
	tm := m.cfg.Timeouts

	if err := m.navigate(ctx, m.cfg.Site.CartURL); err != nil {
		return m.fail(ctx, s, "cart page unavailable", err)
	}
	if _, err := m.driver.WaitFor(ctx, sel.CartContainer, driver.Present, tm.Element()); err != nil {
		return m.fail(ctx, s, "cart did not load", err)
	}
	if _, err := m.driver.WaitFor(ctx, sel.CartItem, driver.Present, tm.Probe()); err != nil {
		if !driver.IsTimeout(err) {
			return m.fail(ctx, s, "cart probe failed", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.log("warn", "cart is empty", s, nil)
		m.transition(ctx, s, model.StateAddToCart)
		return nil
	}
	el, err := m.driver.WaitFor(ctx, sel.CheckoutButton, driver.Clickable, tm.Element())
	if err != nil {
		return m.fail(ctx, s, "checkout button unavailable", err)
	}
	if err := m.driver.Click(ctx, el); err != nil {
		return m.fail(ctx, s, "checkout click failed", err)
	}
	m.transition(ctx, s, model.StatePlaceOrder)
	return nil
}

func (m *Machine) placeOrder(ctx context.Context, s *Session) error {
	if m.alreadyPurchased(ctx, s) {
		return nil
	}
	sel := m.cfg.Selectors
	tm := m.cfg.Timeouts
	target := s.Current()

	if err := m.navigate(ctx, target.URL); err != nil {
		return m.fail(ctx, s, "product page unavailable", err)
	}
	cvv, err := m.driver.WaitFor(ctx, sel.CVVField, driver.Visible, tm.Element())
	if err != nil {
		return m.fail(ctx, s, "security code field unavailable", err)
	}
	if err := m.driver.TypeInto(ctx, cvv, m.cfg.Account.CVV); err != nil {
		return m.fail(ctx, s, "security code entry failed", err)
	}
	btn, err := m.driver.WaitFor(ctx, sel.PlaceOrderButton, driver.Clickable, tm.Element())
	if err != nil {
		return m.fail(ctx, s, "place order button unavailable", err)
	}
	if err := m.driver.Click(ctx, btn); err != nil {
		return m.fail(ctx, s, "place order click failed", err)
	}
	if _, err := m.driver.WaitFor(ctx, sel.Confirmation, driver.Visible, tm.Confirm()); err != nil {
		return m.fail(ctx, s, "order confirmation not seen", err)
	}

	s.Completed = true
	m.log("info", "order placed", s, map[string]any{"weight": target.Weight})
	m.record(ctx, s, model.EventPurchased, "order placed")
	if m.notifier != nil {
		m.notifier.NotifyOrderPlaced(ctx, notify.OrderPlacedEvent{
			At:          time.Now().UnixMilli(),
			SessionID:   s.ID,
			TargetURL:   target.URL,
			TargetIndex: s.Index,
			Weight:      target.Weight,
		})
	}
	m.transition(ctx, s, model.StateComplete)
	return nil
}

// alreadyPurchased moves a completed session straight to complete without touching
// the browser.
func (m *Machine) alreadyPurchased(ctx context.Context, s *Session) bool {
	if !s.Completed {
		return false
	}
	if s.State != model.StateComplete {
		m.transition(ctx, s, model.StateComplete)
	}
	return true
}

func (m *Machine) navigate(ctx context.Context, url string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	return m.driver.Navigate(ctx, url)
}

// fail applies failover for a step that keeps its state, unless ctx is done.
func (m *Machine) fail(ctx context.Context, s *Session, reason string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	m.failover(ctx, s, reason, err)
	return nil
}

func (m *Machine) failover(ctx context.Context, s *Session, reason string, err error) {
	failed := s.Current()
	failedIndex := s.Index
	s.advance()
	m.log("warn", reason, s, map[string]any{
		"error":       err.Error(),
		"failedIndex": failedIndex,
		"failedUrl":   failed.URL,
	})
	m.record(ctx, s, model.EventFailover, reason+": "+err.Error())
	m.publish(s)
}

func (m *Machine) transition(ctx context.Context, s *Session, next model.PurchaseState) {
	prev := s.State
	s.State = next
	m.log("info", "state transition", s, map[string]any{"from": string(prev)})
	m.record(ctx, s, model.EventTransition, string(prev)+" -> "+string(next))
	m.publish(s)
}

func (m *Machine) publish(s *Session) {
	snap := s.Snapshot()
	m.snapshot.Store(snap)
	if m.bus != nil {
		m.bus.Publish("session_state", snap)
	}
}

func (m *Machine) log(level, msg string, s *Session, fields map[string]any) {
	if m.bus == nil {
		return
	}
	out := map[string]any{
		"session": s.ID,
		"state":   string(s.State),
		"index":   s.Index,
	}
	if len(s.Order) > 0 {
		out["url"] = s.Current().URL
	}
	for k, v := range fields {
		out[k] = v
	}
	m.bus.Log(level, msg, out)
}

func (m *Machine) record(ctx context.Context, s *Session, kind model.EventKind, msg string) {
	if m.recorder == nil {
		return
	}
	ev := model.SessionEvent{
		SessionID:   s.ID,
		Kind:        kind,
		State:       s.State,
		TargetIndex: s.Index,
		Message:     msg,
		At:          time.Now(),
	}
	if len(s.Order) > 0 {
		ev.TargetURL = s.Current().URL
	}
	// an interrupted run still gets its last events written
	if err := m.recorder.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		m.log("warn", "history write failed", s, map[string]any{"error": err.Error()})
	}
}

// savedItemSelector fills the {href} placeholder with the target URL as a quoted
// CSS string.
func savedItemSelector(tpl, url string) string {
	return strings.ReplaceAll(tpl, "{href}", cssQuote(url))
}

func cssQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\A `)
	return `"` + r.Replace(s) + `"`
}
