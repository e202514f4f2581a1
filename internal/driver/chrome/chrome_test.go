package chrome

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restock_bot/internal/driver"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()

	err := classify(ctx, fmt.Errorf("wait #add: %w", context.DeadlineExceeded))
	assert.True(t, driver.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other := errors.New("net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, other, classify(ctx, other))
	assert.Nil(t, classify(ctx, nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, context.Canceled, classify(cancelled, fmt.Errorf("x: %w", context.DeadlineExceeded)))
}

func TestNewAppliesDefaults(t *testing.T) {
	d := New(Options{})
	assert.Equal(t, 10*time.Second, d.opts.ElementTimeout)
	assert.Equal(t, 2*time.Second, d.opts.ProbeTimeout)
	assert.Equal(t, 30*time.Second, d.opts.PageLoadTimeout)
}

func TestOperationsBeforeLaunch(t *testing.T) {
	d := New(Options{})
	ctx := context.Background()

	assert.Error(t, d.Navigate(ctx, "https://shop.test"))
	_, err := d.WaitFor(ctx, "#x", driver.Present, time.Second)
	assert.Error(t, err)
	assert.Error(t, d.Authenticate(ctx, driver.Credentials{}))

	type foreign struct{ driver.Element }
	require.Error(t, d.Click(ctx, foreign{}))
	require.Error(t, d.TypeInto(ctx, nil, "x"))

	d.Close()
}
