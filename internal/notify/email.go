package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"restock_bot/internal/config"
	"restock_bot/internal/logbus"
)

type sendFunc func(ctx context.Context, cfg config.EmailConfig, evt OrderPlacedEvent) error

type EmailNotifier struct {
	cfg  config.EmailConfig
	bus  *logbus.Bus
	send sendFunc

	mu     sync.Mutex
	queue  chan OrderPlacedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus) *EmailNotifier {
	return newEmailNotifier(cfg, bus, SendOrderPlacedEmail)
}

func newEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus, send sendFunc) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:    cfg,
		bus:    bus,
		send:   send,
		queue:  make(chan OrderPlacedEvent, 16),
		ctx:    ctx,
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close drains queued events, then stops the sender.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyOrderPlaced(_ context.Context, evt OrderPlacedEvent) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "email notification dropped: queue full", map[string]any{
				"session": evt.SessionID,
				"url":     evt.TargetURL,
			})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			for {
				select {
				case evt := <-n.queue:
					n.deliver(evt)
				default:
					return
				}
			}
		case evt := <-n.queue:
			n.deliver(evt)
		}
	}
}

func (n *EmailNotifier) deliver(evt OrderPlacedEvent) {
	// the notifier context is already cancelled while draining on shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(n.ctx), 30*time.Second)
	defer cancel()
	if err := n.send(ctx, n.cfg, evt); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "email send failed", map[string]any{
				"error":   err.Error(),
				"session": evt.SessionID,
			})
		}
		return
	}
	if n.bus != nil {
		n.bus.Log("info", "notification email sent", map[string]any{
			"session": evt.SessionID,
			"to":      strings.TrimSpace(n.cfg.To),
		})
	}
}

func validateEmailConfig(c config.EmailConfig) error {
	from := strings.TrimSpace(c.From)
	if from == "" {
		return errors.New("from is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return errors.New("invalid from address")
	}
	if to := strings.TrimSpace(c.To); to != "" {
		if _, err := mail.ParseAddress(to); err != nil {
			return errors.New("invalid to address")
		}
	}
	if strings.TrimSpace(c.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func SendOrderPlacedEmail(ctx context.Context, cfg config.EmailConfig, evt OrderPlacedEvent) error {
	if err := validateEmailConfig(cfg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := strings.TrimSpace(cfg.From)
	to := strings.TrimSpace(cfg.To)
	if to == "" {
		to = from
	}
	host, port, useSSL := cfg.Host, cfg.Port, cfg.SSL
	if host == "" {
		var err error
		host, port, useSSL, err = smtpConfigForEmail(from)
		if err != nil {
			return err
		}
	}

	htmlBody, textBody, err := buildEmailBody(evt)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(from, "Restock Bot"))
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", buildSubject(evt))
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, from, strings.TrimSpace(cfg.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "gmail.com" || strings.HasSuffix(domain, ".gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || strings.HasSuffix(domain, ".outlook.com") ||
		domain == "hotmail.com" || strings.HasSuffix(domain, ".hotmail.com") ||
		domain == "live.com" || strings.HasSuffix(domain, ".live.com"):
		return "smtp.office365.com", 587, false, nil
	case domain == "yahoo.com" || strings.HasSuffix(domain, ".yahoo.com"):
		return "smtp.mail.yahoo.com", 465, true, nil
	case domain == "icloud.com" || domain == "me.com":
		return "smtp.mail.me.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSubject(evt OrderPlacedEvent) string {
	return fmt.Sprintf("Order placed: %s", productLabel(evt.TargetURL))
}

func productLabel(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == "" {
		return "unknown product"
	}
	if i := strings.Index(u, "?"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "/"); i >= 0 && i < len(u)-1 {
		return u[i+1:]
	}
	return u
}

var emailHTMLTpl = template.Must(template.New("email").Parse(`
<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width" />
    <title>Order placed</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'Helvetica Neue',Arial,sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">Order placed</div>
        </div>
        <div style="padding:22px;">
          <div style="font-size:18px;font-weight:700;color:#111827;">{{ .Product }}</div>
          <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="margin-top:16px;width:100%;border-collapse:collapse;">
            <tbody>
              {{ range .Rows }}
              <tr>
                <td style="width:160px;padding:10px 14px;background:#fafbff;border-bottom:1px solid #eef0f6;color:#6b7280;font-size:12px;">{{ .K }}</td>
                <td style="padding:10px 14px;border-bottom:1px solid #eef0f6;color:#111827;font-size:12px;font-weight:600;">{{ .V }}</td>
              </tr>
              {{ end }}
            </tbody>
          </table>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type kv struct {
	K string
	V string
}

func eventRows(evt OrderPlacedEvent) []kv {
	at := time.UnixMilli(evt.At)
	if evt.At <= 0 {
		at = time.Now()
	}
	return []kv{
		{K: "Time", V: at.Format("2006-01-02 15:04:05")},
		{K: "Product URL", V: evt.TargetURL},
		{K: "Priority", V: fmt.Sprintf("#%d (weight %d)", evt.TargetIndex+1, evt.Weight)},
		{K: "Session", V: evt.SessionID},
	}
}

func buildEmailBody(evt OrderPlacedEvent) (htmlBody string, textBody string, err error) {
	rows := eventRows(evt)
	var buf bytes.Buffer
	if err := emailHTMLTpl.Execute(&buf, struct {
		Product string
		Rows    []kv
	}{Product: productLabel(evt.TargetURL), Rows: rows}); err != nil {
		return "", "", err
	}

	var sb strings.Builder
	sb.WriteString("Order placed\n")
	for _, r := range rows {
		sb.WriteString(r.K)
		sb.WriteString(": ")
		sb.WriteString(r.V)
		sb.WriteString("\n")
	}
	return buf.String(), sb.String(), nil
}
