package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD - A closed range of days that charges and forecasts roll up into
// =============================================================================

// Period is the inclusive day range [Start, End].
//
// Examples:
//   - Billing month March 2025: Mar 1 - Mar 31
//   - Billing quarter Q2 2025: Apr 1 - Jun 30
//   - Fiscal year 2025 starting in July: Jul 1 2025 - Jun 30 2026
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects a period whose end precedes its start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// DayCount returns the number of days in the period, both ends included.
func (p Period) DayCount() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// Intersect returns the overlap of two periods and whether there is one.
func (p Period) Intersect(other Period) (Period, bool) {
	start := p.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := p.End
	if other.End.Before(end) {
		end = other.End
	}
	if end.Before(start) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

// CoveredFraction returns the share of p covered by covered, in [0,1].
// It is the period fraction passed to the calculator for proration.
func (p Period) CoveredFraction(covered Period) decimal.Decimal {
	total := p.DayCount()
	if total == 0 {
		return decimal.Zero
	}
	overlap, ok := p.Intersect(covered)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(overlap.DayCount())).Div(decimal.NewFromInt(int64(total)))
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodType defines how periods are calculated
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodYearly    PeriodType = "yearly"
)

func (t PeriodType) Valid() bool {
	switch t {
	case PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// PeriodConfig defines how to calculate billing periods
type PeriodConfig struct {
	Type PeriodType

	// For yearly periods: which month starts the fiscal year (1-12).
	// Zero means January.
	FiscalYearStartMonth time.Month
}

// =============================================================================
// PERIOD CALCULATOR - Determines which period a date falls into
// =============================================================================

// PeriodFor returns the period that contains the given date
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	switch pc.Type {
	case PeriodQuarterly:
		startMonth := time.Month((int(date.Month())-1)/3*3 + 1)
		start := StartOfMonth(date.Year(), startMonth)
		return Period{Start: start, End: start.AddMonths(3).AddDays(-1)}

	case PeriodYearly:
		return pc.fiscalYearPeriod(date)

	default:
		return Period{
			Start: StartOfMonth(date.Year(), date.Month()),
			End:   EndOfMonth(date.Year(), date.Month()),
		}
	}
}

func (pc PeriodConfig) fiscalYearPeriod(date TimePoint) Period {
	startMonth := pc.FiscalYearStartMonth
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	fiscalStart := NewTimePoint(date.Year(), startMonth, 1)

	// If date is before fiscal year start, we're in previous fiscal year
	if date.Before(fiscalStart) {
		fiscalStart = NewTimePoint(date.Year()-1, startMonth, 1)
	}

	return Period{Start: fiscalStart, End: fiscalStart.AddYears(1).AddDays(-1)}
}

// Split returns the consecutive periods touching [from, to]. The first and
// last periods are clipped to the range.
func (pc PeriodConfig) Split(from, to TimePoint) []Period {
	if to.Before(from) {
		return nil
	}
	var periods []Period
	current := from
	for current.BeforeOrEqual(to) {
		p := pc.PeriodFor(current)
		if p.Start.Before(from) {
			p.Start = from
		}
		if p.End.After(to) {
			p.End = to
		}
		periods = append(periods, p)
		current = p.End.AddDays(1)
	}
	return periods
}
