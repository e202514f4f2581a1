package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"restock_bot/internal/driver"
)

// Authenticate runs the site's two-step sign-in: email first, then the password form.
// The keep-me-signed-in checkbox and the use-password radio are optional.
func (d *Driver) Authenticate(ctx context.Context, creds driver.Credentials) error {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return errors.New("email and password are required")
	}
	sel := d.opts.Login
	t := d.opts.ElementTimeout

	if err := d.Navigate(ctx, d.opts.SignInURL); err != nil {
		return fmt.Errorf("open sign in: %w", err)
	}

	email, err := d.WaitFor(ctx, sel.EmailField, driver.Visible, t)
	if err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := d.TypeInto(ctx, email, creds.Email); err != nil {
		return err
	}

	if sel.KeepSignedIn != "" {
		if box, err := d.WaitFor(ctx, sel.KeepSignedIn, driver.Present, d.opts.ProbeTimeout); err == nil {
			if !d.checked(ctx, box) {
				if err := d.Click(ctx, box); err != nil {
					d.log("warn", "keep me signed in not ticked", map[string]any{"error": err.Error()})
				}
			}
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}

	if err := d.clickWhenReady(ctx, sel.ContinueButton, "continue button"); err != nil {
		return err
	}

	if sel.PasswordRadio != "" {
		if radio, err := d.WaitFor(ctx, sel.PasswordRadio, driver.Clickable, d.opts.ProbeTimeout); err == nil {
			if err := d.Click(ctx, radio); err != nil {
				return fmt.Errorf("use password option: %w", err)
			}
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}

	pw, err := d.WaitFor(ctx, sel.PasswordField, driver.Visible, t)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := d.TypeInto(ctx, pw, creds.Password); err != nil {
		return err
	}

	if err := d.clickWhenReady(ctx, sel.SubmitButton, "sign in button"); err != nil {
		return err
	}

	if _, err := d.WaitFor(ctx, sel.SignedIn, driver.Present, d.opts.PageLoadTimeout); err != nil {
		return fmt.Errorf("signed in marker: %w", err)
	}
	d.log("info", "signed in", nil)
	return nil
}

func (d *Driver) clickWhenReady(ctx context.Context, selector, what string) error {
	el, err := d.WaitFor(ctx, selector, driver.Clickable, d.opts.ElementTimeout)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if err := d.Click(ctx, el); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
