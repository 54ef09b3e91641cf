/*
Package billing provides the rate resolution and charge calculation engine.

PURPOSE:
  This package contains the pricing rules, the resolver that picks one rule
  for a service request, the calculator that turns a rule and a quantity into
  a charge, and the forecast aggregates that compare forecasted revenue with
  charges actually posted. Storage, retrieval, destruction and pickup are all
  priced by the same engine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe IDs for rate lines, customers, charges, forecasts
  - ServiceType / BillingMethod: The enumerations every rate line is keyed on
  - CapKind: Which bound (if any) clamped a final charge
  - Decimal helpers: All money and quantities are decimal.Decimal

DESIGN PRINCIPLES:
  1. Purity: Resolution and calculation never touch a store
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing rate lines and charges
  4. Explicit failure: Configuration gaps are errors, never silent defaults

USAGE:
  line, err := billing.NewRateLine(billing.RateLine{
      ID:            "storage-std",
      ServiceType:   billing.ServiceStorage,
      BillingMethod: billing.MethodPerUnit,
      UnitRate:      billing.MustParseDecimal("0.45"),
  })
  charge, err := billing.NewEngine().Quote(req, []billing.RateLine{line})

SEE ALSO:
  - rateline.go: Rate line definition and validation
  - resolver.go: Rule selection
  - calculator.go: Charge computation
  - forecast.go: Forecast aggregates and their state machine
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RateLineID string
type CustomerID string
type ContainerTypeID string
type ChargeID string
type ForecastID string
type ForecastLineID string

// =============================================================================
// SERVICE TYPE - What is being billed
// =============================================================================

type ServiceType string

const (
	ServiceStorage     ServiceType = "storage"
	ServiceRetrieval   ServiceType = "retrieval"
	ServiceDestruction ServiceType = "destruction"
	ServicePickup      ServiceType = "pickup"
	ServiceOther       ServiceType = "other"
)

// ServiceTypes lists every known service type in display order.
var ServiceTypes = []ServiceType{
	ServiceStorage, ServiceRetrieval, ServiceDestruction, ServicePickup, ServiceOther,
}

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceStorage, ServiceRetrieval, ServiceDestruction, ServicePickup, ServiceOther:
		return true
	}
	return false
}

// ParseServiceType converts a string into a ServiceType.
func ParseServiceType(s string) (ServiceType, error) {
	st := ServiceType(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown service type %q", s)
	}
	return st, nil
}

// =============================================================================
// BILLING METHOD - How quantity maps to a charge
// =============================================================================

type BillingMethod string

const (
	// MethodPerUnit bills billable quantity × effective rate.
	MethodPerUnit BillingMethod = "per_unit"

	// MethodFlatRate bills the effective rate once; quantity is always 1.
	MethodFlatRate BillingMethod = "flat_rate"

	// MethodPerContainerType bills per unit, but the line must be scoped
	// to exactly one container type.
	MethodPerContainerType BillingMethod = "per_container_type"
)

func (m BillingMethod) Valid() bool {
	switch m {
	case MethodPerUnit, MethodFlatRate, MethodPerContainerType:
		return true
	}
	return false
}

// ParseBillingMethod converts a string into a BillingMethod.
func ParseBillingMethod(s string) (BillingMethod, error) {
	m := BillingMethod(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown billing method %q", s)
	}
	return m, nil
}

// Unit names what one billable unit is. Informational only: the calculator
// never converts between units.
type Unit string

const (
	UnitContainer   Unit = "container"
	UnitCubicFoot   Unit = "cubic_foot"
	UnitHour        Unit = "hour"
	UnitRequest     Unit = "request"
	UnitDestruction Unit = "destruction"
	UnitTrip        Unit = "trip"
)

// =============================================================================
// CAP KIND - Which bound clamped the final charge
// =============================================================================

type CapKind string

const (
	CapNone    CapKind = "none"
	CapMinimum CapKind = "minimum"
	CapMaximum CapKind = "maximum"
)

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// MustParseDecimal parses s, returning zero when s is not a number.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalPtr returns a pointer to d. Handy for optional fractions.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// Percent returns num / den × 100, or zero when den is zero.
func Percent(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Mul(hundred).Div(den)
}
