package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if config.BookingTimeout != 60 {
		t.Errorf("Expected BookingTimeout to be 60, got %d", config.BookingTimeout)
	}

	if config.NotificationTimeout != 30 {
		t.Errorf("Expected NotificationTimeout to be 30, got %d", config.NotificationTimeout)
	}

	if config.ClickAttempts != 3 {
		t.Errorf("Expected ClickAttempts to be 3, got %d", config.ClickAttempts)
	}

	if config.ClickDelayMs != 1000 {
		t.Errorf("Expected ClickDelayMs to be 1000, got %d", config.ClickDelayMs)
	}

	if config.MaxCalendarSteps != 24 {
		t.Errorf("Expected MaxCalendarSteps to be 24, got %d", config.MaxCalendarSteps)
	}

	if config.Timezone != "Australia/Perth" {
		t.Errorf("Expected Timezone to be 'Australia/Perth', got '%s'", config.Timezone)
	}

	if config.Selectors.ScheduleTable == "" {
		t.Error("Expected ScheduleTable selector to be set")
	}

	if len(config.Venues) != 3 {
		t.Errorf("Expected 3 default venues, got %d", len(config.Venues))
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test-config.yaml")

	config := DefaultConfig()
	config.CookieDir = filepath.Join(tempDir, "cookies")
	config.BookingTimeout = 90
	config.Headless = true
	config.ClickAttempts = 5

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loadedConfig, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedConfig.BookingTimeout != config.BookingTimeout {
		t.Errorf("Expected BookingTimeout to be %d, got %d", config.BookingTimeout, loadedConfig.BookingTimeout)
	}

	if loadedConfig.Headless != config.Headless {
		t.Errorf("Expected Headless to be %v, got %v", config.Headless, loadedConfig.Headless)
	}

	if loadedConfig.ClickAttempts != config.ClickAttempts {
		t.Errorf("Expected ClickAttempts to be %d, got %d", config.ClickAttempts, loadedConfig.ClickAttempts)
	}

	if _, err := os.Stat(config.CookieDir); err != nil {
		t.Errorf("Expected cookie dir to be created: %v", err)
	}
}

func TestLoadConfigCreatesDefaultIfMissing(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "new-config.yaml")

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config == nil {
		t.Fatal("LoadConfig returned nil")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created automatically")
	}

	if config.Sites.Booking.URL != "https://pba.yepbooking.com.au" {
		t.Errorf("Expected default booking URL, got '%s'", config.Sites.Booking.URL)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid-config.yaml")

	invalidYAML := "invalid: yaml: content: [unclosed"
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write invalid YAML: %v", err)
	}

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid YAML, got nil")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero click attempts", mutate: func(c *Config) { c.ClickAttempts = 0 }, wantErr: true},
		{name: "zero calendar steps", mutate: func(c *Config) { c.MaxCalendarSteps = 0 }, wantErr: true},
		{name: "negative keep open", mutate: func(c *Config) { c.KeepBrowserOpenSeconds = -1 }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: true},
		{
			name: "duplicate venue",
			mutate: func(c *Config) {
				c.Venues = append(c.Venues, VenueConfig{Venue: "PBA Malaga", Selector: "#x"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestVenueSelector(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		venue     string
		courtType string
		want      string
		wantErr   bool
	}{
		{"PBA Canningvale", "Hebat Court", "#ui-id-11", false},
		{"PBA Canningvale", "Super Court", "#ui-id-9", false},
		{"PBA Malaga", "", "#ui-id-1", false},
		{"PBA Malaga", "Hebat Court", "#ui-id-1", false},
		{"PBA Canningvale", "", "", true},
		{"Somewhere Else", "Hebat Court", "", true},
	}

	for _, tt := range tests {
		got, err := config.VenueSelector(tt.venue, tt.courtType)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSelection) {
				t.Errorf("VenueSelector(%q, %q) error = %v, want ErrInvalidSelection", tt.venue, tt.courtType, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("VenueSelector(%q, %q) unexpected error: %v", tt.venue, tt.courtType, err)
			continue
		}
		if got != tt.want {
			t.Errorf("VenueSelector(%q, %q) = %q, want %q", tt.venue, tt.courtType, got, tt.want)
		}
	}
}

func TestCookiePath(t *testing.T) {
	config := DefaultConfig()
	config.CookieDir = "/data/cookies"

	if got := config.CookiePath(Origin{CookieFile: "pba_cookies.json"}); got != filepath.Join("/data/cookies", "pba_cookies.json") {
		t.Errorf("CookiePath relative = %q", got)
	}
	if got := config.CookiePath(Origin{CookieFile: "/abs/c.json"}); got != "/abs/c.json" {
		t.Errorf("CookiePath absolute = %q", got)
	}
}

func TestLaunchLimiter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LaunchesPerMinute = 0
	if cfg.launchLimiter() != nil {
		t.Error("Expected no limiter when launches_per_minute is 0")
	}

	cfg.LaunchesPerMinute = 60
	cfg.LaunchBurst = 2
	lim := cfg.launchLimiter()
	if lim == nil {
		t.Fatal("Expected a limiter")
	}
	if lim.Burst() != 2 {
		t.Errorf("Expected burst 2, got %d", lim.Burst())
	}
	if !lim.Allow() || !lim.Allow() {
		t.Error("Expected the burst to be available immediately")
	}
	if lim.Allow() {
		t.Error("Expected the third launch to wait")
	}

	cfg.LaunchesPerMinute = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected negative launch rate to fail validation")
	}
}
