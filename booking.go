package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// weekdayOffsets maps a day name to its offset from the Monday week start.
var weekdayOffsets = map[string]int{
	"Monday":    0,
	"Tuesday":   1,
	"Wednesday": 2,
	"Thursday":  3,
	"Friday":    4,
	"Saturday":  5,
	"Sunday":    6,
}

func weekdayOffset(day string) (int, bool) {
	off, ok := weekdayOffsets[strings.TrimSpace(day)]
	return off, ok
}

// BookingRequest is a validated court reservation. Build it with
// NewBookingRequest.
type BookingRequest struct {
	WeekStart time.Time
	Day       string
	Venue     string
	CourtType string
	Start     Clock
	End       Clock
}

func NewBookingRequest(weekStart, day, venue, courtType, start, end string, loc *time.Location) (BookingRequest, error) {
	ws, err := ParseWeekStart(weekStart, loc)
	if err != nil {
		return BookingRequest{}, fmt.Errorf("%w: %v", ErrInvalidBookingRequest, err)
	}
	s, err := ParseClock(start)
	if err != nil {
		return BookingRequest{}, fmt.Errorf("%w: session start: %v", ErrInvalidBookingRequest, err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return BookingRequest{}, fmt.Errorf("%w: session end: %v", ErrInvalidBookingRequest, err)
	}

	req := BookingRequest{
		WeekStart: ws,
		Day:       strings.TrimSpace(day),
		Venue:     strings.TrimSpace(venue),
		CourtType: strings.TrimSpace(courtType),
		Start:     s,
		End:       e,
	}
	if err := req.Validate(); err != nil {
		return BookingRequest{}, err
	}
	return req, nil
}

func (r BookingRequest) Kind() TaskKind { return TaskBooking }

func (r BookingRequest) Validate() error {
	if r.WeekStart.Weekday() != time.Monday {
		return fmt.Errorf("%w: week start %s is a %s, not a Monday", ErrInvalidBookingRequest, r.WeekStart.Format("2006-01-02"), r.WeekStart.Weekday())
	}
	if _, ok := weekdayOffset(r.Day); !ok {
		return fmt.Errorf("%w: unknown day of week %q", ErrInvalidBookingRequest, r.Day)
	}
	if r.Venue == "" {
		return fmt.Errorf("%w: venue is required", ErrInvalidBookingRequest)
	}
	if r.Start >= r.End {
		return fmt.Errorf("%w: session start %s must be before end %s", ErrInvalidBookingRequest, r.Start, r.End)
	}
	if !r.Start.OnGrid() || !r.End.OnGrid() {
		return fmt.Errorf("%w: session times must be on the %d-minute grid", ErrInvalidBookingRequest, SlotMinutes)
	}
	return nil
}

// TargetDate is the calendar day being booked.
func (r BookingRequest) TargetDate() time.Time {
	off, _ := weekdayOffset(r.Day)
	return r.WeekStart.AddDate(0, 0, off)
}

type BookingResult struct {
	Date          time.Time
	RowID         string
	Blocks        []AvailabilityBlock
	CalendarSteps int
}

// Book runs the reservation flow in its own browser. The venue is resolved
// before the browser starts so a bad selection has no side effects.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (BookingResult, error) {
	if err := req.Validate(); err != nil {
		return BookingResult{}, err
	}
	venueSel, err := e.cfg.VenueSelector(req.Venue, req.CourtType)
	if err != nil {
		return BookingResult{}, err
	}

	log := e.logger(ctx).With(zap.String("workflow", string(TaskBooking)))
	target := req.TargetDate()
	log.Info(T("booking_date", target.Format("2006-01-02")))

	bc, err := e.startBrowser(ctx)
	if err != nil {
		return BookingResult{}, err
	}
	defer e.teardown(bc, true, log)

	page := bc.Page().Within(ctx, e.cfg.bookingTimeout())
	boot := NewSessionBootstrapper(e.cfg, log)
	for _, o := range []Origin{e.cfg.Sites.Google, e.cfg.Sites.Booking} {
		if _, err := boot.Bootstrap(page, o); err != nil {
			return BookingResult{}, err
		}
	}

	if !clickWithRetry(ctx, findOn(page, venueSel), e.policy, log, venueSel) {
		return BookingResult{}, fmt.Errorf("%w: %s / %s", ErrVenueSelectionFailed, req.Venue, req.CourtType)
	}
	log.Info(T("venue_selected", req.Venue, req.CourtType))

	e.dismissOptional(ctx, bc.Page(), e.cfg.Selectors.DialogClose, "dialog_closed", "dialog_absent", log)

	steps, err := NewCalendarNavigator(page, e.cfg, log).NavigateTo(ctx, monthOf(target))
	if err != nil {
		return BookingResult{}, err
	}

	dayLoc := fmt.Sprintf(e.cfg.Selectors.DayCell, target.Day())
	dayPolicy := RetryPolicy{Attempts: e.cfg.DaySelectAttempts, Delay: e.cfg.staleRetryDelay()}
	if !clickWithRetry(ctx, findOn(page, dayLoc), dayPolicy, log, dayLoc) {
		return BookingResult{}, fmt.Errorf("%w: day %d after %d attempts", ErrDaySelectionFailed, target.Day(), dayPolicy.Attempts)
	}
	log.Info(T("day_selected", target.Day()))

	resolveTable := findOn(page, e.cfg.Selectors.ScheduleTable)
	if _, err := resolveTable(); err != nil {
		return BookingResult{}, fmt.Errorf("schedule did not load: %w", err)
	}
	log.Info(T("schedule_loaded"))

	run, err := NewSlotMatcher(e.cfg, log).FindConsecutiveRun(ctx, resolveTable, req.Start, req.End)
	if err != nil {
		return BookingResult{}, err
	}

	for _, b := range run.Blocks {
		if !clickWithRetry(ctx, findOn(page, blockLocator(run.RowID, b.Title)), e.policy, log, b.Title) {
			return BookingResult{}, fmt.Errorf("%w: %s in %s", ErrSlotClickFailed, b.Start, run.RowID)
		}
	}
	log.Info(T("slots_selected"), zap.String("row", run.RowID), zap.Int("blocks", len(run.Blocks)))

	if !clickWithRetry(ctx, findOn(page, e.cfg.Selectors.ContinueButton), e.policy, log, "Continue") {
		return BookingResult{}, fmt.Errorf("%w: continue", ErrConfirmationFailed)
	}
	log.Info(T("continue_clicked"))

	if !clickWithRetry(ctx, findOn(page, e.cfg.Selectors.BookButton), e.policy, log, "Book") {
		return BookingResult{}, fmt.Errorf("%w: book", ErrConfirmationFailed)
	}
	log.Info(T("book_clicked"))
	log.Info(T("booking_submitted", target.Format("2006-01-02"), req.Start, req.End))

	return BookingResult{
		Date:          target,
		RowID:         run.RowID,
		Blocks:        run.Blocks,
		CalendarSteps: steps,
	}, nil
}

// findOn builds a resolver that looks the locator up afresh on every call.
func findOn(page Page, locator string) func() (Element, error) {
	return func() (Element, error) {
		return page.Find(locator)
	}
}

// dismissOptional clicks a control that may or may not appear, waiting only
// briefly for it.
func (e *Engine) dismissOptional(ctx context.Context, page Page, locator, doneKey, absentKey string, log *zap.Logger) {
	short := page.Within(ctx, time.Duration(e.cfg.DialogWaitMs)*time.Millisecond)
	if _, err := short.Find(locator); err != nil {
		log.Info(T(absentKey))
		return
	}
	if clickWithRetry(ctx, findOn(short, locator), e.policy, log, locator) {
		log.Info(T(doneKey))
	}
}
