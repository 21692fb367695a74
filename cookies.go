package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// StoredCookie is one entry of a captured cookie file. Both browser-extension
// exports (expirationDate) and WebDriver dumps (expiry) are accepted.
type StoredCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain,omitempty"`
	Path           string  `json:"path,omitempty"`
	Secure         bool    `json:"secure,omitempty"`
	HTTPOnly       bool    `json:"httpOnly,omitempty"`
	SameSite       string  `json:"sameSite,omitempty"`
	Expiry         int64   `json:"expiry,omitempty"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
}

// LoadCookieFile reads a JSON array of cookies.
func LoadCookieFile(path string) ([]StoredCookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cookies []StoredCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}
	return cookies, nil
}

// normalizeCookie strips a leading dot from the domain and drops a sameSite
// value the browser would reject.
func normalizeCookie(c StoredCookie) StoredCookie {
	c.Domain = strings.TrimPrefix(c.Domain, ".")
	switch c.SameSite {
	case "Strict", "Lax", "None":
	default:
		c.SameSite = ""
	}
	return c
}

// param converts a normalized cookie into a CDP cookie. Cookies without a
// domain are scoped to origin.
func (c StoredCookie) param(origin string) *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if p.Domain == "" {
		p.URL = origin
	}

	switch c.SameSite {
	case "Strict":
		p.SameSite = proto.NetworkCookieSameSiteStrict
	case "Lax":
		p.SameSite = proto.NetworkCookieSameSiteLax
	case "None":
		p.SameSite = proto.NetworkCookieSameSiteNone
	}

	switch {
	case c.ExpirationDate > 0:
		p.Expires = proto.TimeSinceEpoch(c.ExpirationDate)
	case c.Expiry > 0:
		p.Expires = proto.TimeSinceEpoch(float64(c.Expiry))
	}
	return p
}

// SessionBootstrapper replays captured cookies into a tab so the workflow
// starts authenticated.
type SessionBootstrapper struct {
	cfg *Config
	log *zap.Logger
}

func NewSessionBootstrapper(cfg *Config, log *zap.Logger) *SessionBootstrapper {
	return &SessionBootstrapper{cfg: cfg, log: log}
}

// Bootstrap navigates to the origin, clears its cookies, injects the stored
// ones and reloads. A missing or unreadable cookie file leaves the tab
// unauthenticated and is not an error.
func (b *SessionBootstrapper) Bootstrap(page Page, o Origin) (int, error) {
	if err := page.Navigate(o.URL); err != nil {
		return 0, err
	}

	if err := page.ClearCookies(o.URL); err != nil {
		b.log.Warn("failed to clear cookies", zap.String("origin", o.URL), zap.Error(err))
	}

	n, err := b.Inject(page, o)
	if err != nil {
		return 0, nil
	}

	if err := page.Reload(); err != nil {
		return n, err
	}

	b.log.Info(T("session_bootstrapped", n, filepath.Base(b.cfg.CookiePath(o)), o.URL))
	return n, nil
}

// Inject adds the origin's stored cookies to the current tab without
// navigating. Individual rejected cookies are logged and skipped.
func (b *SessionBootstrapper) Inject(page Page, o Origin) (int, error) {
	path := b.cfg.CookiePath(o)

	cookies, err := LoadCookieFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.log.Warn(T("session_cookie_file_missing", path))
		} else {
			b.log.Warn(T("session_cookie_file_missing", path), zap.Error(err))
		}
		return 0, err
	}

	injected := 0
	for _, c := range cookies {
		c = normalizeCookie(c)
		if err := page.SetCookie(c.param(o.URL)); err != nil {
			b.log.Warn(T("session_cookie_rejected", c.Name), zap.Error(err))
			continue
		}
		injected++
	}
	return injected, nil
}
