/*
forecast.go - Period-level revenue forecasts and their workflow

PURPOSE:
  A Forecast spreads expected revenue over a date range, one ForecastLine per
  (customer, service type, period). As charges are posted the matching line's
  ActualAmount grows, and variance and achievement follow it.

STATE MACHINE:
                 confirm            start_tracking           close
     draft ───────────────► confirmed ──────────► in_progress ─────► closed
       ▲                        │                      │
       └──── reset_to_draft ────┴──────────────────────┘
     cancelled is reachable from every state except closed.

  - confirm needs at least one line
  - close is allowed from confirmed or in_progress
  - reset_to_draft is refused once closed or cancelled, and puts every line
    back to draft
  - GenerateLines only runs in draft or confirmed and replaces the lines

METRICS:
  variance    = actual − forecast
  achievement = actual / forecast × 100, and 0 when forecast is 0
*/
package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATES
// =============================================================================

type ForecastState string

const (
	ForecastDraft      ForecastState = "draft"
	ForecastConfirmed  ForecastState = "confirmed"
	ForecastInProgress ForecastState = "in_progress"
	ForecastClosed     ForecastState = "closed"
	ForecastCancelled  ForecastState = "cancelled"
)

// =============================================================================
// FORECAST LINE
// =============================================================================

type ForecastLine struct {
	ID                    ForecastLineID
	CustomerID            CustomerID
	ServiceType           ServiceType
	Period                Period
	ForecastedAmount      decimal.Decimal
	ActualAmount          decimal.Decimal
	VarianceAmount        decimal.Decimal
	AchievementPercentage decimal.Decimal
	State                 ForecastState
}

// RecordActual adds charge to the line's actual amount and refreshes the
// derived metrics. Callers serialize access to a given line.
func RecordActual(line *ForecastLine, charge decimal.Decimal) {
	line.ActualAmount = line.ActualAmount.Add(charge)
	line.recompute()
}

func (l *ForecastLine) recompute() {
	l.VarianceAmount = l.ActualAmount.Sub(l.ForecastedAmount)
	l.AchievementPercentage = Percent(l.ActualAmount, l.ForecastedAmount)
}

// Matches reports whether a charge for customer/service on date belongs here.
func (l ForecastLine) Matches(customer CustomerID, service ServiceType, date TimePoint) bool {
	return l.CustomerID == customer && l.ServiceType == service && l.Period.Contains(date)
}

// =============================================================================
// FORECAST
// =============================================================================

// ForecastTarget is the expected revenue per period for one customer and
// service. GenerateLines expands targets into lines.
type ForecastTarget struct {
	CustomerID      CustomerID
	ServiceType     ServiceType
	AmountPerPeriod decimal.Decimal
}

type Forecast struct {
	ID           ForecastID
	Name         string
	DateFrom     TimePoint
	DateTo       TimePoint
	PeriodConfig PeriodConfig
	Targets      []ForecastTarget
	Lines        []ForecastLine
	State        ForecastState
	Version      int
}

// NewForecast returns a draft forecast over [from, to].
func NewForecast(id ForecastID, name string, from, to TimePoint, cfg PeriodConfig, targets []ForecastTarget) (*Forecast, error) {
	if to.Before(from) {
		return nil, ErrInvalidPeriod
	}
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown period type %q", ErrInvalidPeriod, cfg.Type)
	}
	for _, t := range targets {
		if !t.ServiceType.Valid() {
			return nil, fmt.Errorf("unknown service type %q in forecast target", t.ServiceType)
		}
		if t.AmountPerPeriod.IsNegative() {
			return nil, fmt.Errorf("forecast target for %s/%s: amount must not be negative", t.CustomerID, t.ServiceType)
		}
	}
	return &Forecast{
		ID:           id,
		Name:         name,
		DateFrom:     from,
		DateTo:       to,
		PeriodConfig: cfg,
		Targets:      targets,
		State:        ForecastDraft,
	}, nil
}

// Horizon returns the full date range of the forecast.
func (f *Forecast) Horizon() Period {
	return Period{Start: f.DateFrom, End: f.DateTo}
}

func (f *Forecast) refuse(action, reason string) error {
	return &ForecastStateError{ForecastID: f.ID, State: f.State, Action: action, Reason: reason}
}

// GenerateLines replaces the forecast's lines with one line per target per
// period. Running it twice yields the same lines. newID names each line.
func (f *Forecast) GenerateLines(newID func() ForecastLineID) error {
	if f.State != ForecastDraft && f.State != ForecastConfirmed {
		return f.refuse("generate lines for", "")
	}

	periods := f.PeriodConfig.Split(f.DateFrom, f.DateTo)
	lines := make([]ForecastLine, 0, len(periods)*len(f.Targets))
	for _, t := range f.Targets {
		for _, p := range periods {
			line := ForecastLine{
				ID:               newID(),
				CustomerID:       t.CustomerID,
				ServiceType:      t.ServiceType,
				Period:           p,
				ForecastedAmount: t.AmountPerPeriod,
				ActualAmount:     decimal.Zero,
				State:            f.State,
			}
			line.recompute()
			lines = append(lines, line)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].Period.Start.Equal(lines[j].Period.Start) {
			return lines[i].Period.Start.Before(lines[j].Period.Start)
		}
		if lines[i].CustomerID != lines[j].CustomerID {
			return lines[i].CustomerID < lines[j].CustomerID
		}
		return lines[i].ServiceType < lines[j].ServiceType
	})
	f.Lines = lines
	return nil
}

func (f *Forecast) setState(s ForecastState) {
	f.State = s
	for i := range f.Lines {
		f.Lines[i].State = s
	}
}

// Confirm moves a draft forecast with at least one line to confirmed.
func (f *Forecast) Confirm() error {
	if f.State != ForecastDraft {
		return f.refuse("confirm", "")
	}
	if len(f.Lines) == 0 {
		return f.refuse("confirm", "forecast has no lines")
	}
	f.setState(ForecastConfirmed)
	return nil
}

// StartTracking moves a confirmed forecast to in_progress.
func (f *Forecast) StartTracking() error {
	if f.State != ForecastConfirmed {
		return f.refuse("start tracking", "")
	}
	f.setState(ForecastInProgress)
	return nil
}

// Close locks the forecast. No further actuals are accepted.
func (f *Forecast) Close() error {
	if f.State != ForecastInProgress && f.State != ForecastConfirmed {
		return f.refuse("close", "")
	}
	f.setState(ForecastClosed)
	return nil
}

// Cancel abandons the forecast from any state but closed.
func (f *Forecast) Cancel() error {
	if f.State == ForecastClosed || f.State == ForecastCancelled {
		return f.refuse("cancel", "")
	}
	f.setState(ForecastCancelled)
	return nil
}

// ResetToDraft reopens a forecast that is neither closed nor cancelled.
func (f *Forecast) ResetToDraft() error {
	if f.State == ForecastClosed || f.State == ForecastCancelled {
		return f.refuse("reset to draft", "")
	}
	f.setState(ForecastDraft)
	return nil
}

// AcceptsActuals reports whether charges may still be folded in.
func (f *Forecast) AcceptsActuals() bool {
	return f.State == ForecastConfirmed || f.State == ForecastInProgress
}

// RecordCharge folds a posted charge into the matching line and returns it.
// ok is false when no line covers the charge.
func (f *Forecast) RecordCharge(customer CustomerID, service ServiceType, date TimePoint, amount decimal.Decimal) (line *ForecastLine, ok bool, err error) {
	if !f.AcceptsActuals() {
		return nil, false, f.refuse("record actuals on", "")
	}
	for i := range f.Lines {
		if f.Lines[i].Matches(customer, service, date) {
			RecordActual(&f.Lines[i], amount)
			return &f.Lines[i], true, nil
		}
	}
	return nil, false, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

type ForecastSummary struct {
	TotalForecasted       decimal.Decimal
	TotalActual           decimal.Decimal
	TotalVariance         decimal.Decimal
	AchievementPercentage decimal.Decimal
	LineCount             int
}

// Summary totals every line.
func (f *Forecast) Summary() ForecastSummary {
	s := ForecastSummary{
		TotalForecasted: decimal.Zero,
		TotalActual:     decimal.Zero,
		LineCount:       len(f.Lines),
	}
	for _, l := range f.Lines {
		s.TotalForecasted = s.TotalForecasted.Add(l.ForecastedAmount)
		s.TotalActual = s.TotalActual.Add(l.ActualAmount)
	}
	s.TotalVariance = s.TotalActual.Sub(s.TotalForecasted)
	s.AchievementPercentage = Percent(s.TotalActual, s.TotalForecasted)
	return s
}

// Clone returns a deep copy, so stores can hand out forecasts safely.
func (f *Forecast) Clone() *Forecast {
	c := *f
	c.Targets = append([]ForecastTarget(nil), f.Targets...)
	c.Lines = append([]ForecastLine(nil), f.Lines...)
	return &c
}
