package chrome

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"restock_bot/internal/config"
	"restock_bot/internal/driver"
	"restock_bot/internal/logbus"
)

type Options struct {
	Browser         config.BrowserConfig
	Login           config.LoginSelectors
	SignInURL       string
	ElementTimeout  time.Duration
	ProbeTimeout    time.Duration
	PageLoadTimeout time.Duration
	Bus             *logbus.Bus
}

// Driver drives a single Chrome tab through the DevTools protocol.
type Driver struct {
	opts Options

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

var _ driver.Driver = (*Driver)(nil)

func New(opts Options) *Driver {
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 30 * time.Second
	}
	return &Driver{opts: opts}
}

func (d *Driver) Launch(ctx context.Context) error {
	// leakless deadlocks on windows, see go-rod/rod#853
	l := launcher.New().
		Context(ctx).
		Leakless(runtime.GOOS != "windows").
		Headless(d.opts.Browser.Headless)
	if dir := strings.TrimSpace(d.opts.Browser.UserDataDir); dir != "" {
		l = l.UserDataDir(dir)
	}
	bin := strings.TrimSpace(d.opts.Browser.Bin)
	if bin == "" {
		if p, ok := launcher.LookPath(); ok {
			bin = p
		}
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	d.launcher = l

	u, err := l.Launch()
	if err != nil {
		if strings.Contains(err.Error(), "SingletonLock") || strings.Contains(err.Error(), "ProcessSingleton") {
			return fmt.Errorf("chrome profile %q is in use by another browser: %w", d.opts.Browser.UserDataDir, err)
		}
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	d.page = page
	d.log("info", "browser launched", map[string]any{"bin": bin, "headless": d.opts.Browser.Headless})
	return nil
}

func (d *Driver) Close() {
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.browser != nil {
		_ = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if d.page == nil {
		return errors.New("browser not launched")
	}
	p := d.page.Context(ctx).Timeout(d.opts.PageLoadTimeout)
	defer p.CancelTimeout()

	d.log("debug", "navigate", map[string]any{"url": url})
	if err := p.Navigate(url); err != nil {
		return classify(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return classify(ctx, fmt.Errorf("load %s: %w", url, err))
	}
	return nil
}

type element struct {
	selector string
	el       *rod.Element
}

func (e *element) Selector() string { return e.selector }

func (d *Driver) WaitFor(ctx context.Context, selector string, cond driver.Condition, timeout time.Duration) (driver.Element, error) {
	if d.page == nil {
		return nil, errors.New("browser not launched")
	}
	p := d.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	el, err := p.Element(selector)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("wait %s %s: %w", cond, selector, err))
	}
	switch cond {
	case driver.Visible:
		err = el.WaitVisible()
	case driver.Enabled:
		err = el.WaitEnabled()
	case driver.Clickable:
		if err = el.WaitVisible(); err == nil {
			err = el.WaitEnabled()
		}
	}
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("wait %s %s: %w", cond, selector, err))
	}
	return &element{selector: selector, el: el}, nil
}

func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	h, err := unwrap(el)
	if err != nil {
		return err
	}
	e := h.el.Context(ctx).Timeout(d.opts.ElementTimeout)
	defer e.CancelTimeout()
	if err := e.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classify(ctx, fmt.Errorf("click %s: %w", h.selector, err))
	}
	return nil
}

func (d *Driver) TypeInto(ctx context.Context, el driver.Element, text string) error {
	h, err := unwrap(el)
	if err != nil {
		return err
	}
	e := h.el.Context(ctx).Timeout(d.opts.ElementTimeout)
	defer e.CancelTimeout()
	if err := e.SelectAllText(); err != nil {
		return classify(ctx, fmt.Errorf("focus %s: %w", h.selector, err))
	}
	if err := e.Input(text); err != nil {
		return classify(ctx, fmt.Errorf("type into %s: %w", h.selector, err))
	}
	return nil
}

func (d *Driver) checked(ctx context.Context, el driver.Element) bool {
	h, err := unwrap(el)
	if err != nil {
		return false
	}
	v, err := h.el.Context(ctx).Property("checked")
	if err != nil {
		return false
	}
	return v.Bool()
}

func unwrap(el driver.Element) (*element, error) {
	h, ok := el.(*element)
	if !ok || h == nil || h.el == nil {
		return nil, fmt.Errorf("element %T does not belong to the chrome driver", el)
	}
	return h, nil
}

// classify maps an expired per-call timeout to driver.ErrTimeout and a cancelled
// caller context to ctx.Err().
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", driver.ErrTimeout, err)
	}
	return err
}

func (d *Driver) log(level, msg string, fields map[string]any) {
	if d.opts.Bus != nil {
		d.opts.Bus.Log(level, msg, fields)
	}
}
