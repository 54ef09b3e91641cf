/*
calculator.go - Turns a rate line and a quantity into a charge

PURPOSE:
  ChargeCalculator is a pure numeric transformation. Given a resolved rate
  line, a raw quantity and an optional period fraction it produces a
  ResolvedCharge that records every intermediate value, so an invoice line
  can always be explained.

ALGORITHM (order is part of the contract):
  1. billable = max(raw, MinimumQuantity)          flat_rate: billable = 1
  2. QuantityIncrement > 0: round billable UP to the next increment
  3. rate = UnitRate × (1 − discount%) × (1 + markup%)
  4. raw charge = billable × rate
  5. fraction given and ProrationAllowed: raw charge × fraction
  6. MinimumCharge > 0 and raw charge below it: final = minimum
  7. MaximumCharge > 0 and result above it: final = maximum
  8. otherwise final = raw charge

ROUNDING:
  No monetary rounding happens here. The ledger rounds FinalCharge to its
  currency's places after receiving it.

CONCURRENCY:
  Calculate only reads its arguments. Share one calculator freely.
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOLVED CHARGE - Engine output
// =============================================================================

type ResolvedCharge struct {
	RateLineID       RateLineID
	EffectiveRate    decimal.Decimal
	BillableQuantity decimal.Decimal
	RawCharge        decimal.Decimal
	FinalCharge      decimal.Decimal
	CapApplied       CapKind
	Prorated         bool
}

// =============================================================================
// CHARGE CALCULATOR
// =============================================================================

// ChargeCalculator computes charges. It has no state; the zero value is ready.
type ChargeCalculator struct{}

// Calculate prices rawQuantity against line. periodFraction may be nil.
func (ChargeCalculator) Calculate(line RateLine, rawQuantity decimal.Decimal, periodFraction *decimal.Decimal) (ResolvedCharge, error) {
	if err := validateQuantity(rawQuantity); err != nil {
		return ResolvedCharge{}, err
	}
	if err := validateFraction(periodFraction); err != nil {
		return ResolvedCharge{}, err
	}
	// Lines can reach us without passing through NewRateLine (a store row
	// edited by hand). The caps below are only sound if max >= min holds.
	if err := line.Validate(); err != nil {
		return ResolvedCharge{}, err
	}

	billable := billableQuantity(line, rawQuantity)
	rate := line.EffectiveRate()
	raw := billable.Mul(rate)

	prorated := false
	if periodFraction != nil && line.ProrationAllowed {
		raw = raw.Mul(*periodFraction)
		prorated = true
	}

	final := raw
	capApplied := CapNone
	if line.MinimumCharge.IsPositive() && final.LessThan(line.MinimumCharge) {
		final = line.MinimumCharge
		capApplied = CapMinimum
	}
	if line.MaximumCharge.IsPositive() && final.GreaterThan(line.MaximumCharge) {
		final = line.MaximumCharge
		capApplied = CapMaximum
	}

	return ResolvedCharge{
		RateLineID:       line.ID,
		EffectiveRate:    rate,
		BillableQuantity: billable,
		RawCharge:        raw,
		FinalCharge:      final,
		CapApplied:       capApplied,
		Prorated:         prorated,
	}, nil
}

func billableQuantity(line RateLine, raw decimal.Decimal) decimal.Decimal {
	if line.BillingMethod == MethodFlatRate {
		return one
	}
	q := decimal.Max(raw, line.MinimumQuantity)
	// Mod is exact; Div would round to DivisionPrecision digits and could
	// land below raw.
	if inc := line.QuantityIncrement; inc.IsPositive() {
		if rem := q.Mod(inc); !rem.IsZero() {
			q = q.Sub(rem).Add(inc)
		}
	}
	return q
}

// =============================================================================
// ENGINE - Resolver and calculator together
// =============================================================================

// Engine resolves a request against candidate lines and prices it.
type Engine struct {
	Resolver   RuleResolver
	Calculator ChargeCalculator
}

func NewEngine() *Engine {
	return &Engine{}
}

// Quote resolves req among candidates and calculates the charge.
func (e *Engine) Quote(req RequestContext, candidates []RateLine) (RateLine, ResolvedCharge, error) {
	if err := req.Validate(); err != nil {
		return RateLine{}, ResolvedCharge{}, err
	}
	line, err := e.Resolver.Resolve(req, candidates)
	if err != nil {
		return RateLine{}, ResolvedCharge{}, err
	}
	charge, err := e.Calculator.Calculate(line, req.Quantity, req.PeriodFraction)
	if err != nil {
		return line, ResolvedCharge{}, err
	}
	return line, charge, nil
}
