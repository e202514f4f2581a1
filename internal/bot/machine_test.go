package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restock_bot/internal/config"
	"restock_bot/internal/driver"
	"restock_bot/internal/logbus"
	"restock_bot/internal/model"
	"restock_bot/internal/notify"
)

type fakeElement struct{ sel string }

func (e fakeElement) Selector() string { return e.sel }

// fakeDriver tracks the current page and fails waits according to failWait.
type fakeDriver struct {
	page     string
	calls    []string
	authErr  error
	navErr   func(url string) error
	failWait func(page, selector string) error
	onWait   func()
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.calls = append(d.calls, "navigate "+url)
	if d.navErr != nil {
		if err := d.navErr(url); err != nil {
			return err
		}
	}
	d.page = url
	return nil
}

func (d *fakeDriver) Authenticate(_ context.Context, creds driver.Credentials) error {
	d.calls = append(d.calls, "auth "+creds.Email)
	return d.authErr
}

func (d *fakeDriver) WaitFor(_ context.Context, selector string, _ driver.Condition, _ time.Duration) (driver.Element, error) {
	d.calls = append(d.calls, "wait "+selector)
	if d.onWait != nil {
		d.onWait()
	}
	if d.failWait != nil {
		if err := d.failWait(d.page, selector); err != nil {
			return nil, err
		}
	}
	return fakeElement{sel: selector}, nil
}

func (d *fakeDriver) Click(_ context.Context, el driver.Element) error {
	d.calls = append(d.calls, "click "+el.Selector())
	return nil
}

func (d *fakeDriver) TypeInto(_ context.Context, el driver.Element, text string) error {
	d.calls = append(d.calls, "type "+el.Selector()+" "+text)
	return nil
}

func (d *fakeDriver) count(prefix string) int {
	n := 0
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type memRecorder struct {
	events []model.SessionEvent
}

func (r *memRecorder) AppendEvent(_ context.Context, ev model.SessionEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) kinds(kind model.EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type memNotifier struct {
	events []notify.OrderPlacedEvent
}

func (n *memNotifier) NotifyOrderPlaced(_ context.Context, evt notify.OrderPlacedEvent) {
	n.events = append(n.events, evt)
}

func timeoutErr(what string) error {
	return fmt.Errorf("%s: %w", what, driver.ErrTimeout)
}

const (
	urlA = "https://shop.test/site/a"
	urlB = "https://shop.test/site/b"
	urlC = "https://shop.test/site/c"
)

func testConfig() config.Config {
	return config.Config{
		Account: config.AccountConfig{Email: "buyer@shop.test", Password: "pw", CVV: "321"},
		Mode:    config.ModeProduct,
		Site: config.SiteConfig{
			CartURL:       "https://shop.test/cart",
			SavedItemsURL: "https://shop.test/saved",
		},
		Selectors: config.SelectorConfig{
			AddToCart:        "#add",
			SavedItemsPanel:  "#saved",
			SavedItemButton:  "#saved li:has(a[href={href}]) button",
			CartContainer:    "#cart",
			CartItem:         "#cart li",
			CheckoutButton:   "#checkout",
			CVVField:         "#cvv",
			PlaceOrderButton: "#place",
			Confirmation:     "#thanks",
		},
	}
}

type harness struct {
	drv      *fakeDriver
	rec      *memRecorder
	notifier *memNotifier
	bus      *logbus.Bus
	m        *Machine
	s        *Session
}

// newHarness orders a, b, c by weight 3, 2, 1.
func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		drv:      &fakeDriver{},
		rec:      &memRecorder{},
		notifier: &memNotifier{},
		bus:      logbus.New(500),
	}
	h.m = New(Options{Driver: h.drv, Bus: h.bus, Recorder: h.rec, Notifier: h.notifier, Config: cfg})
	s, err := NewSession("sess-1", []model.Target{
		{URL: urlC, Weight: 1},
		{URL: urlA, Weight: 3},
		{URL: urlB, Weight: 2},
	}, "")
	require.NoError(t, err)
	h.s = s
	return h
}

func TestNewSession(t *testing.T) {
	s, err := NewSession("x", []model.Target{{URL: urlA, Weight: 5}, {URL: urlB, Weight: 1}, {URL: urlC, Weight: 10}}, "")
	require.NoError(t, err)
	assert.Equal(t, model.StateNotStarted, s.State)
	assert.Equal(t, model.StateComplete, s.StopAt)
	assert.Equal(t, 0, s.Index)
	assert.False(t, s.Completed)
	assert.Equal(t, []string{urlC, urlA, urlB}, []string{s.Order[0].URL, s.Order[1].URL, s.Order[2].URL})

	_, err = NewSession("x", nil, "")
	assert.Error(t, err)
}

func TestAdvanceWrapsAround(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Index = 2
	h.s.advance()
	assert.Equal(t, 0, h.s.Index)
	h.s.advance()
	assert.Equal(t, 1, h.s.Index)
}

func TestAddToCartFailsOverToThirdTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateAddToCart
	h.drv.failWait = func(page, sel string) error {
		if sel == "#add" && page != urlC {
			return timeoutErr("add to cart")
		}
		return nil
	}

	require.NoError(t, h.m.addToCart(context.Background(), h.s))

	assert.Equal(t, model.StateCheckout, h.s.State)
	assert.Equal(t, 2, h.s.Index)
	assert.Equal(t, urlC, h.s.Current().URL)
	assert.Equal(t, []string{"navigate " + urlA, "navigate " + urlB, "navigate " + urlC}, navigations(h.drv))
	assert.Equal(t, 1, h.drv.count("click #add"))
	assert.Equal(t, 2, h.rec.kinds(model.EventFailover))
}

func TestAddToCartSuccessKeepsIndex(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateAddToCart
	h.s.Index = 1

	require.NoError(t, h.m.addToCart(context.Background(), h.s))
	assert.Equal(t, model.StateCheckout, h.s.State)
	assert.Equal(t, 1, h.s.Index)
	assert.Equal(t, 0, h.rec.kinds(model.EventFailover))
}

func TestAddToCartExhaustedIsBounded(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateAddToCart
	h.s.Index = 1
	h.drv.failWait = func(_, sel string) error {
		if sel == "#add" {
			return timeoutErr("add to cart")
		}
		return nil
	}

	require.NoError(t, h.m.addToCart(context.Background(), h.s))

	assert.Equal(t, model.StateAddToCart, h.s.State)
	assert.Equal(t, 1, h.s.Index)
	assert.Equal(t, 3, h.drv.count("navigate"))
	assert.Equal(t, 3, h.rec.kinds(model.EventFailover))
	assert.Zero(t, h.drv.count("click"))
}

func TestAddToCartNavigationErrorFailsOver(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateAddToCart
	h.drv.navErr = func(url string) error {
		if url == urlA {
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		return nil
	}

	require.NoError(t, h.m.addToCart(context.Background(), h.s))
	assert.Equal(t, model.StateCheckout, h.s.State)
	assert.Equal(t, 1, h.s.Index)
}

func TestAddToCartSavedItemsMode(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Mode = config.ModeSavedItems })
	h.s.State = model.StateAddToCart
	wantB := `#saved li:has(a[href="` + urlB + `"]) button`
	h.drv.failWait = func(_, sel string) error {
		if strings.HasPrefix(sel, "#saved li") && sel != wantB {
			return timeoutErr("saved entry")
		}
		return nil
	}

	require.NoError(t, h.m.addToCart(context.Background(), h.s))

	assert.Equal(t, model.StateCheckout, h.s.State)
	assert.Equal(t, 1, h.s.Index)
	assert.Equal(t, []string{"navigate https://shop.test/saved"}, navigations(h.drv))
	assert.Equal(t, 1, h.drv.count("click "+wantB))
}

func TestAddToCartSavedItemsPageDown(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Mode = config.ModeSavedItems })
	h.s.State = model.StateAddToCart
	h.drv.failWait = func(_, sel string) error {
		if sel == "#saved" {
			return timeoutErr("panel")
		}
		return nil
	}

	require.NoError(t, h.m.addToCart(context.Background(), h.s))
	assert.Equal(t, model.StateAddToCart, h.s.State)
	assert.Equal(t, 0, h.s.Index)
	assert.Zero(t, h.drv.count("click"))
}

func TestCheckoutEmptyCartReturnsToAddToCart(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateCheckout
	h.s.Index = 1
	h.drv.failWait = func(_, sel string) error {
		if sel == "#cart li" {
			return timeoutErr("cart item")
		}
		return nil
	}

	require.NoError(t, h.m.checkout(context.Background(), h.s))

	assert.Equal(t, model.StateAddToCart, h.s.State)
	assert.Equal(t, 1, h.s.Index)
	assert.Zero(t, h.drv.count("click"))
	assert.Zero(t, h.rec.kinds(model.EventFailover))
}

func TestCheckoutSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateCheckout

	require.NoError(t, h.m.checkout(context.Background(), h.s))
	assert.Equal(t, model.StatePlaceOrder, h.s.State)
	assert.Equal(t, 0, h.s.Index)
	assert.Equal(t, []string{"navigate https://shop.test/cart"}, navigations(h.drv))
	assert.Equal(t, 1, h.drv.count("click #checkout"))
}

func TestCheckoutButtonMissingFailsOver(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateCheckout
	h.s.Index = 2
	h.drv.failWait = func(_, sel string) error {
		if sel == "#checkout" {
			return timeoutErr("checkout")
		}
		return nil
	}

	require.NoError(t, h.m.checkout(context.Background(), h.s))
	assert.Equal(t, model.StateCheckout, h.s.State)
	assert.Equal(t, 0, h.s.Index)
	assert.Equal(t, 1, h.rec.kinds(model.EventFailover))
}

func TestPlaceOrderCompletesOnceAndLatches(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StatePlaceOrder
	h.s.Index = 1

	require.NoError(t, h.m.placeOrder(context.Background(), h.s))

	assert.True(t, h.s.Completed)
	assert.Equal(t, model.StateComplete, h.s.State)
	assert.Equal(t, []string{"navigate " + urlB}, navigations(h.drv))
	assert.Equal(t, 1, h.drv.count("type #cvv 321"))
	assert.Equal(t, 1, h.drv.count("click #place"))
	assert.Equal(t, 1, h.rec.kinds(model.EventPurchased))
	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, urlB, h.notifier.events[0].TargetURL)
	assert.Equal(t, 2, h.notifier.events[0].Weight)

	calls := len(h.drv.calls)
	ctx := context.Background()
	for _, st := range []model.PurchaseState{model.StateLogin, model.StateAddToCart, model.StateCheckout, model.StatePlaceOrder} {
		h.s.State = st
		require.NoError(t, h.m.Step(ctx, h.s))
		assert.Equal(t, model.StateComplete, h.s.State)
	}
	require.NoError(t, h.m.placeOrder(ctx, h.s))
	require.NoError(t, h.m.addToCart(ctx, h.s))
	require.NoError(t, h.m.checkout(ctx, h.s))

	assert.Len(t, h.drv.calls, calls)
	assert.True(t, h.s.Completed)
	assert.Len(t, h.notifier.events, 1)
}

func TestPlaceOrderConfirmationTimeoutFailsOver(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StatePlaceOrder
	h.s.Index = 2
	h.drv.failWait = func(_, sel string) error {
		if sel == "#thanks" {
			return timeoutErr("confirmation")
		}
		return nil
	}

	require.NoError(t, h.m.placeOrder(context.Background(), h.s))
	assert.False(t, h.s.Completed)
	assert.Equal(t, model.StatePlaceOrder, h.s.State)
	assert.Equal(t, 0, h.s.Index)
	assert.Empty(t, h.notifier.events)
}

func TestRunToCompletion(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.Run(context.Background(), h.s))

	assert.Equal(t, model.StateComplete, h.s.State)
	assert.True(t, h.s.Completed)
	assert.Equal(t, 1, h.drv.count("auth buyer@shop.test"))
	assert.Len(t, h.notifier.events, 1)

	snap, ok := h.m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, model.StateComplete, snap.State)
	assert.True(t, snap.Completed)
	assert.Equal(t, urlA, snap.CurrentURL)
}

func TestRunRecoversFromEmptyCart(t *testing.T) {
	h := newHarness(t, nil)
	emptyOnce := true
	h.drv.failWait = func(_, sel string) error {
		if sel == "#cart li" && emptyOnce {
			emptyOnce = false
			return timeoutErr("cart item")
		}
		return nil
	}

	require.NoError(t, h.m.Run(context.Background(), h.s))
	assert.True(t, h.s.Completed)
	assert.Equal(t, 2, h.drv.count("click #add"))
	assert.Equal(t, 0, h.s.Index)
}

func TestRunStopsAtCheckpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.s.StopAt = model.StatePlaceOrder

	require.NoError(t, h.m.Run(context.Background(), h.s))

	assert.Equal(t, model.StatePlaceOrder, h.s.State)
	assert.False(t, h.s.Completed)
	assert.Zero(t, h.drv.count("type"))
	assert.Zero(t, h.drv.count("click #place"))
	assert.Equal(t, 1, h.rec.kinds(model.EventCheckpoint))
}

func TestRunCheckpointAtEntryHasNoSideEffects(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = model.StateAddToCart
	h.s.StopAt = model.StateAddToCart

	require.NoError(t, h.m.Run(context.Background(), h.s))
	assert.Equal(t, model.StateAddToCart, h.s.State)
	assert.Empty(t, h.drv.calls)
}

func TestRunLoginFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.drv.authErr = timeoutErr("password field")

	err := h.m.Run(context.Background(), h.s)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, driver.ErrTimeout)
	assert.Equal(t, model.StateLogin, h.s.State)
	assert.Zero(t, h.drv.count("navigate"))
}

func TestRunInterrupted(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.s.State = model.StateAddToCart
	h.drv.onWait = cancel
	h.drv.failWait = func(string, string) error { return context.Canceled }

	err := h.m.Run(ctx, h.s)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StateAddToCart, h.s.State)
	assert.Equal(t, 0, h.s.Index)
	assert.False(t, h.s.Completed)
}

func TestRunLogsTransitions(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.Run(context.Background(), h.s))

	var transitions int
	for _, msg := range h.bus.Snapshot() {
		d, ok := msg.Data.(logbus.LogData)
		if !ok || d.Msg != "state transition" {
			continue
		}
		transitions++
		assert.Contains(t, d.Fields, "state")
		assert.Contains(t, d.Fields, "index")
		assert.Contains(t, d.Fields, "url")
	}
	// not_started, login, add_to_cart, checkout, place_order
	assert.Equal(t, 5, transitions)
	assert.Equal(t, 5, h.rec.kinds(model.EventTransition))
}

func TestStepUnknownState(t *testing.T) {
	h := newHarness(t, nil)
	h.s.State = "shipping"
	assert.Error(t, h.m.Step(context.Background(), h.s))
}

func TestSavedItemSelectorQuotes(t *testing.T) {
	got := savedItemSelector(`a[href={href}]`, `https://x.test/p?q="1"\`)
	assert.Equal(t, `a[href="https://x.test/p?q=\"1\"\\"]`, got)
}

func navigations(d *fakeDriver) []string {
	var out []string
	for _, c := range d.calls {
		if strings.HasPrefix(c, "navigate ") {
			out = append(out, c)
		}
	}
	return out
}
