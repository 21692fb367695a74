package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	BrowserBin string `yaml:"browser_bin"`
	Headless   bool   `yaml:"headless"`

	// Seconds a finished booking or Instagram session stays open for review.
	// Zero closes the browser as soon as the workflow returns.
	KeepBrowserOpenSeconds int `yaml:"keep_browser_open_seconds"`

	// Browser launches allowed per minute across all tasks, with bursts of
	// LaunchBurst. Zero disables the limit.
	LaunchesPerMinute int `yaml:"launches_per_minute"`
	LaunchBurst       int `yaml:"launch_burst"`

	BookingTimeout      int `yaml:"booking_timeout"`
	NotificationTimeout int `yaml:"notification_timeout"`

	ClickAttempts     int `yaml:"click_attempts"`
	ClickDelayMs      int `yaml:"click_delay_ms"`
	StaleRetryDelayMs int `yaml:"stale_retry_delay_ms"`
	StalePollMs       int `yaml:"stale_poll_ms"`
	DialogWaitMs      int `yaml:"dialog_wait_ms"`

	MaxCalendarSteps  int `yaml:"max_calendar_steps"`
	DaySelectAttempts int `yaml:"day_select_attempts"`
	RowScanAttempts   int `yaml:"row_scan_attempts"`
	TableScanAttempts int `yaml:"table_scan_attempts"`

	Timezone string `yaml:"timezone"`

	CookieDir  string `yaml:"cookie_dir"`
	RosterPath string `yaml:"roster_path"`
	PlanPath   string `yaml:"plan_path"`

	DebugMode bool `yaml:"debug_mode"`

	Sites     SiteConfig     `yaml:"sites"`
	Venues    []VenueConfig  `yaml:"venues"`
	Calendar  CalendarConfig `yaml:"calendar"`
	Selectors SelectorConfig `yaml:"selectors"`
}

// Origin is a site the engine authenticates against with replayed cookies.
type Origin struct {
	URL        string `yaml:"url"`
	CookieFile string `yaml:"cookie_file"`
}

type SiteConfig struct {
	Google        Origin `yaml:"google"`
	Booking       Origin `yaml:"booking"`
	PayPal        Origin `yaml:"paypal"`
	Instagram     Origin `yaml:"instagram"`
	CreditListURL string `yaml:"credit_list_url"`
	WhatsAppURL   string `yaml:"whatsapp_url"`
}

// VenueConfig maps a venue and court type to the tab that selects it.
// An empty CourtType matches any court type at that venue.
type VenueConfig struct {
	Venue     string `yaml:"venue"`
	CourtType string `yaml:"court_type"`
	Selector  string `yaml:"selector"`
}

type CalendarConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	CalendarID      string `yaml:"calendar_id"`
}

// SelectorConfig holds every locator the engine uses. Values starting with
// "/", "./" or "(" are XPath expressions, everything else is CSS.
type SelectorConfig struct {
	DialogClose      string `yaml:"dialog_close"`
	CalendarMonth    string `yaml:"calendar_month"`
	CalendarYear     string `yaml:"calendar_year"`
	CalendarNext     string `yaml:"calendar_next"`
	CalendarPrev     string `yaml:"calendar_prev"`
	DayCell          string `yaml:"day_cell"`
	ScheduleTable    string `yaml:"schedule_table"`
	ScheduleRow      string `yaml:"schedule_row"`
	TimeBlock        string `yaml:"time_block"`
	ContinueButton   string `yaml:"continue_button"`
	BookButton       string `yaml:"book_button"`
	CreditSelect     string `yaml:"credit_select"`
	CreditTopUp      string `yaml:"credit_top_up"`
	PaymentMethod    string `yaml:"payment_method"`
	PayNow           string `yaml:"pay_now"`
	CompletePurchase string `yaml:"complete_purchase"`
	ReturnToSeller   string `yaml:"return_to_seller"`
	ProfileMessage   string `yaml:"profile_message"`
	NotNowButton     string `yaml:"not_now_button"`
	MessageComposer  string `yaml:"message_composer"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		ListenAddr:             "127.0.0.1:5000",
		BrowserBin:             "",
		Headless:               false,
		KeepBrowserOpenSeconds: 0,
		LaunchesPerMinute:      12,
		LaunchBurst:            3,
		BookingTimeout:         60,
		NotificationTimeout:    30,
		ClickAttempts:          3,
		ClickDelayMs:           1000,
		StaleRetryDelayMs:      2000,
		StalePollMs:            100,
		DialogWaitMs:           3000,
		MaxCalendarSteps:       24,
		DaySelectAttempts:      3,
		RowScanAttempts:        3,
		TableScanAttempts:      3,
		Timezone:               "Australia/Perth",
		CookieDir:              filepath.Join(userDataDir, "cookies"),
		RosterPath:             filepath.Join(userDataDir, "students.json"),
		PlanPath:               filepath.Join(userDataDir, "config.json"),
		DebugMode:              false,
		Sites: SiteConfig{
			Google:        Origin{URL: "https://www.google.com", CookieFile: "google_cookies.json"},
			Booking:       Origin{URL: "https://pba.yepbooking.com.au", CookieFile: "pba_cookies.json"},
			PayPal:        Origin{URL: "https://www.paypal.com", CookieFile: "paypal_cookies.json"},
			Instagram:     Origin{URL: "https://www.instagram.com", CookieFile: "instagram_cookies.json"},
			CreditListURL: "https://pba.yepbooking.com.au/user.php?tab=credit-list",
			WhatsAppURL:   "https://wa.me",
		},
		Venues: []VenueConfig{
			{Venue: "PBA Canningvale", CourtType: "Hebat Court", Selector: "#ui-id-11"},
			{Venue: "PBA Canningvale", CourtType: "Super Court", Selector: "#ui-id-9"},
			{Venue: "PBA Malaga", CourtType: "", Selector: "#ui-id-1"},
		},
		Calendar: CalendarConfig{
			CredentialsFile: filepath.Join(userDataDir, "credentials.json"),
			TokenFile:       filepath.Join(userDataDir, "token.json"),
			CalendarID:      "primary",
		},
		Selectors: SelectorConfig{
			DialogClose:      ".ui-dialog button.ui-dialog-titlebar-close",
			CalendarMonth:    ".ui-datepicker-month",
			CalendarYear:     ".ui-datepicker-year",
			CalendarNext:     ".ui-datepicker-next",
			CalendarPrev:     ".ui-datepicker-prev",
			DayCell:          "//td[@data-handler='selectDay']/a[text()='%d']",
			ScheduleTable:    ".schemaWrapper",
			ScheduleRow:      ".//tr[starts-with(@class, 'trSchemaLane_')]",
			TimeBlock:        ".//td/div[@class='divHour']/a",
			ContinueButton:   "//a[contains(@class, 'showRecapDialog') and contains(@title, 'Continue')]",
			BookButton:       "//a[contains(@class, 'ui-state-default') and contains(@href, '#') and contains(text(), 'Book')]",
			CreditSelect:     ".paymentCreditSelect",
			CreditTopUp:      "a.paymentCreditLink[title='Credit top up']",
			PaymentMethod:    "input.paymentTypeCheck[type='radio'][value='PAYPAL']",
			PayNow:           "a.paymentButton[title='Pay now']",
			CompletePurchase: "#payment-submit-btn",
			ReturnToSeller:   "button.donepage-return-to-merchant-button",
			ProfileMessage:   "//div[text()='Message']",
			NotNowButton:     "//button[text()='Not Now']",
			MessageComposer:  "//div[@aria-label='Message' and @role='textbox']",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.CookieDir != "" {
		if err := os.MkdirAll(config.CookieDir, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks values that would otherwise fail deep inside a workflow.
func (c *Config) Validate() error {
	positive := map[string]int{
		"booking_timeout":      c.BookingTimeout,
		"notification_timeout": c.NotificationTimeout,
		"click_attempts":       c.ClickAttempts,
		"max_calendar_steps":   c.MaxCalendarSteps,
		"day_select_attempts":  c.DaySelectAttempts,
		"row_scan_attempts":    c.RowScanAttempts,
		"table_scan_attempts":  c.TableScanAttempts,
	}
	for name, v := range positive {
		if v < 1 {
			return fmt.Errorf("%s must be >= 1 (got %d)", name, v)
		}
	}
	if c.KeepBrowserOpenSeconds < 0 {
		return fmt.Errorf("keep_browser_open_seconds must be >= 0")
	}
	if c.LaunchesPerMinute < 0 || c.LaunchBurst < 0 {
		return fmt.Errorf("launches_per_minute and launch_burst must be >= 0")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Venue == "" || v.Selector == "" {
			return fmt.Errorf("venue entries need both venue and selector")
		}
		key := v.Venue + "\x00" + v.CourtType
		if seen[key] {
			return fmt.Errorf("duplicate venue entry %q/%q", v.Venue, v.CourtType)
		}
		seen[key] = true
	}
	return nil
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CookiePath resolves a cookie file name against the cookie directory.
func (c *Config) CookiePath(o Origin) string {
	if o.CookieFile == "" || filepath.IsAbs(o.CookieFile) {
		return o.CookieFile
	}
	return filepath.Join(c.CookieDir, o.CookieFile)
}

// VenueSelector returns the selector for a venue/court type pair. Exact
// matches win over an entry with an empty court type.
func (c *Config) VenueSelector(venue, courtType string) (string, error) {
	wildcard := ""
	for _, v := range c.Venues {
		if v.Venue != venue {
			continue
		}
		if v.CourtType == courtType {
			return v.Selector, nil
		}
		if v.CourtType == "" {
			wildcard = v.Selector
		}
	}
	if wildcard != "" {
		return wildcard, nil
	}
	return "", fmt.Errorf("%w: %q / %q", ErrInvalidSelection, venue, courtType)
}

func (c *Config) clickPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: c.ClickAttempts,
		Delay:    time.Duration(c.ClickDelayMs) * time.Millisecond,
	}
}

// launchLimiter paces browser starts. It returns nil when unlimited.
func (c *Config) launchLimiter() *rate.Limiter {
	if c.LaunchesPerMinute <= 0 {
		return nil
	}
	burst := c.LaunchBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.LaunchesPerMinute)), burst)
}

func (c *Config) staleRetryDelay() time.Duration {
	return time.Duration(c.StaleRetryDelayMs) * time.Millisecond
}

func (c *Config) stalePoll() time.Duration {
	if c.StalePollMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.StalePollMs) * time.Millisecond
}

func (c *Config) bookingTimeout() time.Duration {
	return time.Duration(c.BookingTimeout) * time.Second
}

func (c *Config) notificationTimeout() time.Duration {
	return time.Duration(c.NotificationTimeout) * time.Second
}
