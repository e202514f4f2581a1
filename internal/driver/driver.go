package driver

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is wrapped by WaitFor when the condition does not hold before the timeout.
var ErrTimeout = errors.New("wait timed out")

type Condition string

const (
	Present   Condition = "present"
	Visible   Condition = "visible"
	Clickable Condition = "clickable"
	Enabled   Condition = "enabled"
)

type Credentials struct {
	Email    string
	Password string
}

// Element is a handle to a located affordance. It is only valid for the driver that
// returned it.
type Element interface {
	Selector() string
}

// Driver is the browser capability the purchase state machine drives. Implementations
// own exactly one page and are not safe for concurrent use.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Authenticate(ctx context.Context, creds Credentials) error
	WaitFor(ctx context.Context, selector string, cond Condition, timeout time.Duration) (Element, error)
	Click(ctx context.Context, el Element) error
	TypeInto(ctx context.Context, el Element, text string) error
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
