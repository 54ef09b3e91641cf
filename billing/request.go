package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RequestContext is what a caller asks the engine to price. It is supplied by
// the caller and never persisted here.
type RequestContext struct {
	ServiceType   ServiceType
	ContainerType ContainerTypeID
	AsOf          TimePoint

	// Quantity is the raw billable count: containers, hours, destructions.
	Quantity decimal.Decimal

	// PeriodFraction is the share of a billing period being charged, in
	// (0, 1]. nil means a full period.
	PeriodFraction *decimal.Decimal
}

// Validate checks the caller contract.
func (r RequestContext) Validate() error {
	if err := validateQuantity(r.Quantity); err != nil {
		return err
	}
	return validateFraction(r.PeriodFraction)
}

func validateQuantity(q decimal.Decimal) error {
	if q.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidQuantity, q)
	}
	return nil
}

func validateFraction(f *decimal.Decimal) error {
	if f == nil {
		return nil
	}
	if !f.IsPositive() || f.GreaterThan(one) {
		return fmt.Errorf("%w: %s is outside (0, 1]", ErrInvalidPeriodFraction, f)
	}
	return nil
}
