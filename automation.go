package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Automation is a rod-driven Chrome instance owned by a single workflow.
type Automation struct {
	config   *Config
	log      *zap.Logger
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rodPage

	mu       sync.Mutex
	pages    []*rod.Page
	launched bool
	closed   bool
}

func NewAutomation(config *Config, log *zap.Logger) *Automation {
	return &Automation{config: config, log: log}
}

// launchBrowser starts Chrome and opens the first stealth tab.
func launchBrowser(ctx context.Context, cfg *Config, log *zap.Logger) (BrowsingContext, error) {
	a := NewAutomation(cfg, log)
	if err := a.setupBrowser(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %v", ErrBrowserStart, err)
	}
	return a, nil
}

func (a *Automation) setupBrowser(ctx context.Context) error {
	a.log.Info(T("browser_launching"))

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	a.launcher = launcher.New().
		Context(ctx).
		Leakless(useLeakless).
		Headless(a.config.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("disable-dev-shm-usage")

	bin := a.config.BrowserBin
	if bin == "" {
		if path, ok := launcher.LookPath(); ok {
			bin = path
		}
	}
	if bin != "" {
		a.launcher = a.launcher.Bin(bin)
		a.log.Debug(T("browser_using_system_chrome", bin))
	} else {
		a.log.Info(T("browser_chrome_not_found"))
	}

	url, err := a.launcher.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
			return fmt.Errorf("chrome profile is locked by another browser: %w", err)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	a.launched = true

	a.browser = rod.New().ControlURL(url)
	if err := a.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := a.openPage()
	if err != nil {
		return err
	}
	a.page = page

	a.log.Info(T("browser_launched"))
	return nil
}

func (a *Automation) openPage() (*rodPage, error) {
	p, err := stealth.Page(a.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	a.mu.Lock()
	a.pages = append(a.pages, p)
	a.mu.Unlock()

	return newRodPage(p), nil
}

func (a *Automation) Page() Page {
	return a.page
}

// NewPage opens another stealth tab in the same browser.
func (a *Automation) NewPage() (Page, error) {
	return a.openPage()
}

// isBrowserAlive reports whether the browser still answers CDP calls.
func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}
	if _, err := a.browser.Version(); err != nil {
		a.log.Debug("browser version check failed", zap.Error(err))
		return false
	}
	return true
}

// Close shuts the browser down. It is safe to call more than once.
func (a *Automation) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	pages := a.pages
	a.pages = nil
	a.mu.Unlock()

	var closeErr error
	if a.isBrowserAlive() {
		for _, p := range pages {
			_ = p.Close()
		}
		closeErr = a.browser.Close()
	}

	// Cleanup blocks until the process exits, so only call it for a
	// process we started, and make sure it is gone first.
	if a.launched {
		a.launcher.Kill()
		a.launcher.Cleanup()
	}
	return closeErr
}
