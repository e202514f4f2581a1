package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"restock_bot/internal/model"
)

type Mode string

const (
	ModeProduct    Mode = "product"
	ModeSavedItems Mode = "saved_items"
)

type Config struct {
	Account       AccountConfig  `yaml:"account"`
	Links         []model.Target `yaml:"links"`
	Mode          Mode           `yaml:"mode"`
	SavedItemsURL string         `yaml:"savedItemsURL"`
	StopAt        string         `yaml:"stopAt"`
	DryRun        bool           `yaml:"dryRun"`
	LogLevel      string         `yaml:"logLevel"`
	Site          SiteConfig     `yaml:"site"`
	Browser       BrowserConfig  `yaml:"browser"`
	Timeouts      TimeoutsConfig `yaml:"timeouts"`
	Limits        LimitsConfig   `yaml:"limits"`
	Selectors     SelectorConfig `yaml:"selectors"`
	Storage       StorageConfig  `yaml:"storage"`
	Server        ServerConfig   `yaml:"server"`
	Notify        NotifyConfig   `yaml:"notify"`
}

type AccountConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	CVV      string `yaml:"cvv"`
}

type SiteConfig struct {
	BaseURL       string `yaml:"baseURL"`
	SignInURL     string `yaml:"signInURL"`
	CartURL       string `yaml:"cartURL"`
	SavedItemsURL string `yaml:"savedItemsURL"`
}

type BrowserConfig struct {
	Headless    bool   `yaml:"headless"`
	Bin         string `yaml:"bin"`
	UserDataDir string `yaml:"userDataDir"`
}

type TimeoutsConfig struct {
	ElementMs  int `yaml:"elementMs"`
	ProbeMs    int `yaml:"probeMs"`
	ConfirmMs  int `yaml:"confirmMs"`
	PageLoadMs int `yaml:"pageLoadMs"`
}

func (c TimeoutsConfig) Element() time.Duration {
	if c.ElementMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ElementMs) * time.Millisecond
}

func (c TimeoutsConfig) Probe() time.Duration {
	if c.ProbeMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.ProbeMs) * time.Millisecond
}

func (c TimeoutsConfig) Confirm() time.Duration {
	if c.ConfirmMs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.ConfirmMs) * time.Millisecond
}

func (c TimeoutsConfig) PageLoad() time.Duration {
	if c.PageLoadMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PageLoadMs) * time.Millisecond
}

type LimitsConfig struct {
	// NavigateQPS caps page loads per second across all steps. <= 0 disables throttling.
	NavigateQPS   float64 `yaml:"navigateQPS"`
	NavigateBurst int     `yaml:"navigateBurst"`
}

type LoginSelectors struct {
	EmailField     string `yaml:"emailField"`
	KeepSignedIn   string `yaml:"keepSignedIn"`
	ContinueButton string `yaml:"continueButton"`
	PasswordRadio  string `yaml:"passwordRadio"`
	PasswordField  string `yaml:"passwordField"`
	SubmitButton   string `yaml:"submitButton"`
	SignedIn       string `yaml:"signedIn"`
}

type SelectorConfig struct {
	Login LoginSelectors `yaml:"login"`

	AddToCart       string `yaml:"addToCart"`
	SavedItemsPanel string `yaml:"savedItemsPanel"`
	// SavedItemButton is a template; {href} is replaced with the quoted target URL.
	SavedItemButton  string `yaml:"savedItemButton"`
	CartContainer    string `yaml:"cartContainer"`
	CartItem         string `yaml:"cartItem"`
	CheckoutButton   string `yaml:"checkoutButton"`
	CVVField         string `yaml:"cvvField"`
	PlaceOrderButton string `yaml:"placeOrderButton"`
	Confirmation     string `yaml:"confirmation"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type NotifyConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	From     string `yaml:"from"`
	AuthCode string `yaml:"authCode"`
	To       string `yaml:"to"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	SSL      bool   `yaml:"ssl"`
}

type WebhookConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

func (c WebhookConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// secrets may come from the environment instead of the file
type envOverlay struct {
	Email      string `env:"RESTOCK_EMAIL"`
	Password   string `env:"RESTOCK_PASSWORD"`
	CVV        string `env:"RESTOCK_CVV"`
	LogLevel   string `env:"RESTOCK_LOG_LEVEL"`
	SMTPAuth   string `env:"RESTOCK_SMTP_AUTH"`
	WebhookURL string `env:"RESTOCK_WEBHOOK_URL"`
}

func (c *Config) applyEnv() error {
	var o envOverlay
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Account.Email, o.Email)
	set(&c.Account.Password, o.Password)
	set(&c.Account.CVV, o.CVV)
	set(&c.LogLevel, o.LogLevel)
	set(&c.Notify.Email.AuthCode, o.SMTPAuth)
	set(&c.Notify.Webhook.URL, o.WebhookURL)
	return nil
}

func (c *Config) applyDefaults() {
	for i := range c.Links {
		c.Links[i].URL = strings.TrimSpace(c.Links[i].URL)
	}
	if c.Mode == "" {
		c.Mode = ModeProduct
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StopAt == "" {
		c.StopAt = string(model.StateComplete)
		if c.DryRun {
			c.StopAt = string(model.StatePlaceOrder)
		}
	}
	if c.Site.BaseURL == "" {
		c.Site.BaseURL = "https://www.bestbuy.com"
	}
	base := strings.TrimRight(c.Site.BaseURL, "/")
	if c.Site.SignInURL == "" {
		c.Site.SignInURL = base + "/identity/global/signin"
	}
	if c.Site.CartURL == "" {
		c.Site.CartURL = base + "/cart"
	}
	if c.Site.SavedItemsURL == "" {
		c.Site.SavedItemsURL = base + "/site/customer/lists/manage/saveditems"
	}
	// top-level override wins over the site default
	if c.SavedItemsURL != "" {
		c.Site.SavedItemsURL = c.SavedItemsURL
	}
	if c.Limits.NavigateBurst <= 0 {
		c.Limits.NavigateBurst = 1
	}
	if c.Notify.Email.To == "" {
		c.Notify.Email.To = c.Notify.Email.From
	}
	c.Selectors.applyDefaults()
}

func (s *SelectorConfig) applyDefaults() {
	l := &s.Login
	if l.EmailField == "" {
		l.EmailField = "#fld-e"
	}
	if l.KeepSignedIn == "" {
		l.KeepSignedIn = "input#cia-keep-me-signed-in, input[name='keepMeSignedIn']"
	}
	if l.ContinueButton == "" {
		l.ContinueButton = "form button[type='submit'], form .cia-form__controls button"
	}
	if l.PasswordRadio == "" {
		l.PasswordRadio = "#password-radio"
	}
	if l.PasswordField == "" {
		l.PasswordField = "#fld-p1"
	}
	if l.SubmitButton == "" {
		l.SubmitButton = "form button[type='submit']"
	}
	if l.SignedIn == "" {
		l.SignedIn = "#suggestViewClientComponent"
	}
	if s.AddToCart == "" {
		s.AddToCart = ".add-to-cart-button"
	}
	if s.SavedItemsPanel == "" {
		s.SavedItemsPanel = "#saveditems-recentlyviewed-tabpanel"
	}
	if s.SavedItemButton == "" {
		s.SavedItemButton = "#saveditems-recentlyviewed-tabpanel li.grid-card:has(div.card-title a.clamp[href={href}]) button.add-to-cart-button"
	}
	if s.CartContainer == "" {
		s.CartContainer = "#cartApp"
	}
	if s.CartItem == "" {
		s.CartItem = "#cartApp ul.item-list li"
	}
	if s.CheckoutButton == "" {
		s.CheckoutButton = "div.checkout-buttons__checkout button.btn-primary"
	}
	if s.CVVField == "" {
		s.CVVField = ".summary-tile__cvv-code-input"
	}
	if s.PlaceOrderButton == "" {
		s.PlaceOrderButton = "div.payment__order-summary button.btn-primary"
	}
	if s.Confirmation == "" {
		s.Confirmation = ".thank-you-enhancement__info"
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Account.Email) == "" {
		return errors.New("account.email is required")
	}
	if c.Account.Password == "" {
		return errors.New("account.password is required")
	}
	if strings.TrimSpace(c.Account.CVV) == "" {
		return errors.New("account.cvv is required")
	}
	if len(c.Links) == 0 {
		return errors.New("links must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Links))
	for i, l := range c.Links {
		u := l.URL
		if u == "" {
			return fmt.Errorf("links[%d].url is required", i)
		}
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("links[%d].url: %w", i, err)
		}
		if l.Weight < 0 {
			return fmt.Errorf("links[%d].weight must be >= 0", i)
		}
		if _, dup := seen[u]; dup {
			return fmt.Errorf("links[%d].url is duplicated: %s", i, u)
		}
		seen[u] = struct{}{}
	}
	if c.Mode != ModeProduct && c.Mode != ModeSavedItems {
		return fmt.Errorf("invalid mode: %s", c.Mode)
	}
	if _, err := c.StopState(); err != nil {
		return fmt.Errorf("stopAt: %w", err)
	}
	if c.Notify.Email.Enabled {
		if strings.TrimSpace(c.Notify.Email.From) == "" {
			return errors.New("notify.email.from is required when email is enabled")
		}
		if strings.TrimSpace(c.Notify.Email.AuthCode) == "" {
			return errors.New("notify.email.authCode is required when email is enabled")
		}
	}
	return nil
}

func (c Config) StopState() (model.PurchaseState, error) {
	return model.ParsePurchaseState(c.StopAt)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	out := c
	out.Links = append([]model.Target(nil), c.Links...)
	out.Account.Email = maskEmail(c.Account.Email)
	out.Account.Password = mask(c.Account.Password)
	out.Account.CVV = mask(c.Account.CVV)
	out.Notify.Email.AuthCode = mask(c.Notify.Email.AuthCode)
	if c.Notify.Webhook.URL != "" {
		out.Notify.Webhook.URL = redactURL(c.Notify.Webhook.URL)
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func maskEmail(s string) string {
	if s == "" {
		return ""
	}
	return "****@****"
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "********"
	}
	return u.Scheme + "://" + u.Host + "/****"
}
