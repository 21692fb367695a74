package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type monthYear struct {
	Month time.Month
	Year  int
}

func monthOf(t time.Time) monthYear {
	return monthYear{Month: t.Month(), Year: t.Year()}
}

// index orders months so comparing two indexes compares (year, month)
// lexicographically.
func (m monthYear) index() int {
	return m.Year*12 + int(m.Month) - 1
}

func (m monthYear) String() string {
	return fmt.Sprintf("%s %d", m.Month, m.Year)
}

// stepsBetween is the number of next/prev clicks separating two months.
func stepsBetween(from, to monthYear) int {
	d := to.index() - from.index()
	if d < 0 {
		return -d
	}
	return d
}

func parseMonthYear(month, year string) (monthYear, error) {
	m, err := time.Parse("January", strings.TrimSpace(month))
	if err != nil {
		return monthYear{}, fmt.Errorf("unrecognised calendar month %q", month)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return monthYear{}, fmt.Errorf("unrecognised calendar year %q", year)
	}
	return monthYear{Month: m.Month(), Year: y}, nil
}

// CalendarNavigator steers the date picker to a target month using only its
// next and previous controls.
type CalendarNavigator struct {
	page         Page
	sel          SelectorConfig
	policy       RetryPolicy
	maxSteps     int
	staleTimeout time.Duration
	poll         time.Duration
	log          *zap.Logger
}

func NewCalendarNavigator(page Page, cfg *Config, log *zap.Logger) *CalendarNavigator {
	return &CalendarNavigator{
		page:         page,
		sel:          cfg.Selectors,
		policy:       cfg.clickPolicy(),
		maxSteps:     cfg.MaxCalendarSteps,
		staleTimeout: cfg.bookingTimeout(),
		poll:         cfg.stalePoll(),
		log:          log,
	}
}

// NavigateTo clicks towards target until the picker shows it. The displayed
// month is re-read from the page before every comparison, and after each
// click the previous month label must detach before the next read.
func (n *CalendarNavigator) NavigateTo(ctx context.Context, target monthYear) (int, error) {
	steps := 0
	for {
		label, shown, err := n.displayed()
		if err != nil {
			return steps, err
		}

		if shown == target {
			n.log.Info(T("calendar_on_target", shown.Month, shown.Year), zap.Int("steps", steps))
			return steps, nil
		}

		if steps >= n.maxSteps {
			return steps, fmt.Errorf("%w: showing %s, want %s after %d steps", ErrNavigationExhausted, shown, target, steps)
		}

		control, msg := n.sel.CalendarNext, "calendar_next"
		if shown.index() > target.index() {
			control, msg = n.sel.CalendarPrev, "calendar_prev"
		}

		clicked := clickWithRetry(ctx, func() (Element, error) {
			return n.page.Find(control)
		}, n.policy, n.log, control)
		if !clicked {
			return steps, fmt.Errorf("%w: %s", ErrNavigationClickFailed, control)
		}
		steps++
		n.log.Debug(T(msg), zap.Stringer("from", shown))

		if err := waitForStale(ctx, label, n.staleTimeout, n.poll); err != nil {
			return steps, err
		}
	}
}

// displayed reads the month and year labels, re-resolving them if the picker
// re-renders mid-read.
func (n *CalendarNavigator) displayed() (Element, monthYear, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		label, shown, err := n.readLabels()
		if err == nil {
			return label, shown, nil
		}
		lastErr = err
		if !isStaleError(err) {
			break
		}
	}
	return nil, monthYear{}, lastErr
}

func (n *CalendarNavigator) readLabels() (Element, monthYear, error) {
	monthEl, err := n.page.Find(n.sel.CalendarMonth)
	if err != nil {
		return nil, monthYear{}, err
	}
	month, err := monthEl.Text()
	if err != nil {
		return nil, monthYear{}, err
	}

	yearEl, err := n.page.Find(n.sel.CalendarYear)
	if err != nil {
		return nil, monthYear{}, err
	}
	year, err := yearEl.Text()
	if err != nil {
		return nil, monthYear{}, err
	}

	shown, err := parseMonthYear(month, year)
	if err != nil {
		return nil, monthYear{}, err
	}
	return monthEl, shown, nil
}
