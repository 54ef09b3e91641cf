/*
rateline.go - Pricing rules

PURPOSE:
  A RateLine is one configured pricing rule: which service it prices, which
  container type it is scoped to (if any), the unit rate, the adjustments
  applied to that rate, the bounds on the final charge, and the window of
  days during which the rule is in force.

KEY CONCEPTS:
  - Scope: ServiceType always; ContainerType optionally
  - Window: EffectiveDate / ExpiryDate, both inclusive, both optional
  - Adjustments: DiscountPercent then MarkupPercent, in that order
  - Caps: MinimumCharge floor, MaximumCharge ceiling (0 = uncapped)
  - Rounding: MinimumQuantity, then QuantityIncrement (always rounds up)

LIFECYCLE:
  Rate lines are edited freely until a posted charge references them. From
  then on they are frozen: a price change is a new line with a later
  EffectiveDate (see Supersede), and the resolver prefers the newer line.

EXAMPLE:
  line, err := NewRateLine(RateLine{
      ID:                "retrieval-2025",
      ServiceType:       ServiceRetrieval,
      BillingMethod:     MethodPerUnit,
      UnitRate:          MustParseDecimal("3.50"),
      MinimumQuantity:   decimal.NewFromInt(1),
      QuantityIncrement: decimal.NewFromInt(1),
      MinimumCharge:     MustParseDecimal("15"),
  })
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE LINE - One priced rule
// =============================================================================

type RateLine struct {
	ID            RateLineID
	Name          string
	ServiceType   ServiceType
	BillingMethod BillingMethod
	Unit          Unit

	// ContainerType scopes the line to one container type. Empty means the
	// line applies to every container type.
	ContainerType ContainerTypeID

	UnitRate        decimal.Decimal
	DiscountPercent decimal.Decimal
	MarkupPercent   decimal.Decimal

	MinimumCharge decimal.Decimal
	MaximumCharge decimal.Decimal // 0 = uncapped

	// The zero value means no minimum and no rounding. The rate card factory
	// defaults both to 1 when a card leaves them out.
	MinimumQuantity   decimal.Decimal
	QuantityIncrement decimal.Decimal

	EffectiveDate *TimePoint
	ExpiryDate    *TimePoint

	ProrationAllowed bool

	// Versioning
	Version      int
	SupersedesID RateLineID
}

// NewRateLine validates line and returns it.
func NewRateLine(line RateLine) (RateLine, error) {
	if err := line.Validate(); err != nil {
		return RateLine{}, err
	}
	return line, nil
}

// Validate checks every construction-time invariant of a rate line.
func (l RateLine) Validate() error {
	invalid := func(field, reason string) error {
		return &RateLineValidationError{RateLineID: l.ID, Field: field, Reason: reason}
	}

	if !l.ServiceType.Valid() {
		return invalid("service_type", "is not a known service type")
	}
	if !l.BillingMethod.Valid() {
		return invalid("billing_method", "is not a known billing method")
	}
	if l.BillingMethod == MethodPerContainerType && l.ContainerType == "" {
		return invalid("container_type", "is required for per_container_type billing")
	}
	if l.UnitRate.IsNegative() {
		return invalid("unit_rate", "must not be negative")
	}
	if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(hundred) {
		return invalid("discount_percent", "must be between 0 and 100")
	}
	if l.MarkupPercent.IsNegative() {
		return invalid("markup_percent", "must not be negative")
	}
	if l.MinimumCharge.IsNegative() {
		return invalid("minimum_charge", "must not be negative")
	}
	if l.MaximumCharge.IsNegative() {
		return invalid("maximum_charge", "must not be negative")
	}
	if l.MaximumCharge.IsPositive() && l.MaximumCharge.LessThan(l.MinimumCharge) {
		return invalid("maximum_charge", "must not be below minimum_charge")
	}
	if l.MinimumQuantity.IsNegative() {
		return invalid("minimum_quantity", "must not be negative")
	}
	if l.QuantityIncrement.IsNegative() {
		return invalid("quantity_increment", "must not be negative")
	}
	if l.EffectiveDate != nil && l.ExpiryDate != nil && l.EffectiveDate.After(*l.ExpiryDate) {
		return invalid("expiry_date", "must not precede effective_date")
	}
	return nil
}

// IsActiveOn reports whether date falls inside the line's validity window.
func (l RateLine) IsActiveOn(date TimePoint) bool {
	if l.EffectiveDate != nil && date.Before(*l.EffectiveDate) {
		return false
	}
	if l.ExpiryDate != nil && date.After(*l.ExpiryDate) {
		return false
	}
	return true
}

// AppliesTo reports whether the line can price req.
func (l RateLine) AppliesTo(req RequestContext) bool {
	if l.ServiceType != req.ServiceType {
		return false
	}
	if l.ContainerType != "" && l.ContainerType != req.ContainerType {
		return false
	}
	return l.IsActiveOn(req.AsOf)
}

// IsContainerScoped reports whether the line is restricted to one container type.
func (l RateLine) IsContainerScoped() bool {
	return l.ContainerType != ""
}

// EffectiveRate applies the discount and then the markup to the unit rate.
// The order is fixed: 100 less 10% plus 10% is 99, not 100.
func (l RateLine) EffectiveRate() decimal.Decimal {
	rate := l.UnitRate
	rate = rate.Mul(one.Sub(l.DiscountPercent.Div(hundred)))
	rate = rate.Mul(one.Add(l.MarkupPercent.Div(hundred)))
	return rate
}

// Supersede returns next as the successor of l. The new line takes over the
// scope of l from next.EffectiveDate on; l itself is left untouched so
// charges already posted against it keep their history.
func (l RateLine) Supersede(next RateLine) (RateLine, error) {
	next.ServiceType = l.ServiceType
	next.ContainerType = l.ContainerType
	next.SupersedesID = l.ID
	next.Version = l.Version + 1
	if next.EffectiveDate == nil {
		return RateLine{}, &RateLineValidationError{RateLineID: next.ID, Field: "effective_date", Reason: "is required when superseding a rate line"}
	}
	if l.EffectiveDate != nil && !next.EffectiveDate.After(*l.EffectiveDate) {
		return RateLine{}, &RateLineValidationError{RateLineID: next.ID, Field: "effective_date", Reason: "must be after the superseded line's effective_date"}
	}
	return NewRateLine(next)
}

// SameTerms reports whether l and other price a request identically: same
// scope, window, rates, caps and quantity rules. Name, Unit and Version are
// not compared.
func (l RateLine) SameTerms(other RateLine) bool {
	return l.ID == other.ID &&
		l.ServiceType == other.ServiceType &&
		l.BillingMethod == other.BillingMethod &&
		l.ContainerType == other.ContainerType &&
		l.UnitRate.Equal(other.UnitRate) &&
		l.DiscountPercent.Equal(other.DiscountPercent) &&
		l.MarkupPercent.Equal(other.MarkupPercent) &&
		l.MinimumCharge.Equal(other.MinimumCharge) &&
		l.MaximumCharge.Equal(other.MaximumCharge) &&
		l.MinimumQuantity.Equal(other.MinimumQuantity) &&
		l.QuantityIncrement.Equal(other.QuantityIncrement) &&
		sameDate(l.EffectiveDate, other.EffectiveDate) &&
		sameDate(l.ExpiryDate, other.ExpiryDate) &&
		l.ProrationAllowed == other.ProrationAllowed
}

func sameDate(a, b *TimePoint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// effectiveOrZero orders lines with no EffectiveDate before every dated line.
func (l RateLine) effectiveOrZero() TimePoint {
	if l.EffectiveDate == nil {
		return TimePoint{}
	}
	return *l.EffectiveDate
}
