/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract. Money and
  quantities travel as decimal strings ("12.50"), dates as YYYY-MM-DD.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Rate lines:
    factory.RateLineJSON is used as-is, for both requests and responses

  Quotes and charges:
    QuoteRequest, QuoteResponse, ResolvedChargeDTO,
    PostChargeRequest, PostChargeResponse, ChargeDTO, CustomerChargesResponse

  Billing runs:
    BillingRunRequest, BillableItemDTO, BillingRunResponse

  Forecasts:
    CreateForecastRequest, ForecastTargetDTO, ForecastDTO,
    ForecastLineDTO, ForecastSummaryDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and in the billing package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/ratecard.go: RateLineJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/records"
)

// =============================================================================
// QUOTES AND CHARGES
// =============================================================================

// QuoteRequest describes one service to price.
type QuoteRequest struct {
	ServiceType    string           `json:"service_type"`
	ContainerType  string           `json:"container_type,omitempty"`
	AsOf           string           `json:"as_of"`
	Quantity       decimal.Decimal  `json:"quantity"`
	PeriodFraction *decimal.Decimal `json:"period_fraction,omitempty"`
}

// ResolvedChargeDTO is the calculator output.
type ResolvedChargeDTO struct {
	RateLineID       string          `json:"rate_line_id"`
	EffectiveRate    decimal.Decimal `json:"effective_rate"`
	BillableQuantity decimal.Decimal `json:"billable_quantity"`
	RawCharge        decimal.Decimal `json:"raw_charge"`
	FinalCharge      decimal.Decimal `json:"final_charge"`
	CapApplied       string          `json:"cap_applied"`
	Prorated         bool            `json:"prorated"`
}

// QuoteResponse is the chosen rate line and the charge it produces.
type QuoteResponse struct {
	RateLineID string            `json:"rate_line_id"`
	RateLine   string            `json:"rate_line_name,omitempty"`
	Charge     ResolvedChargeDTO `json:"charge"`
}

// PostChargeRequest prices a service and posts it to a customer.
type PostChargeRequest struct {
	QuoteRequest
	CustomerID     string `json:"customer_id"`
	Reference      string `json:"reference,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ChargeDTO is a posted charge.
type ChargeDTO struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id"`
	ServiceType    string            `json:"service_type"`
	ContainerType  string            `json:"container_type,omitempty"`
	RateLineID     string            `json:"rate_line_id"`
	Reference      string            `json:"reference,omitempty"`
	PostedAt       string            `json:"posted_at"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      string            `json:"created_at,omitempty"`
	Charge         ResolvedChargeDTO `json:"charge"`
}

// PostChargeResponse is the posted charge and the forecast lines it moved.
type PostChargeResponse struct {
	Charge        ChargeDTO         `json:"charge"`
	ForecastLines []ForecastLineDTO `json:"forecast_lines"`
}

// CustomerChargesResponse lists a customer's charges over a date range.
type CustomerChargesResponse struct {
	CustomerID string          `json:"customer_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Charges    []ChargeDTO     `json:"charges"`
	Total      decimal.Decimal `json:"total"`
}

// =============================================================================
// BILLING RUNS
// =============================================================================

// BillableItemDTO is one unit of work in a billing run.
type BillableItemDTO struct {
	Reference      string           `json:"reference"`
	CustomerID     string           `json:"customer_id"`
	ServiceType    string           `json:"service_type"`
	ContainerType  string           `json:"container_type,omitempty"`
	Quantity       decimal.Decimal  `json:"quantity"`
	On             string           `json:"on"`
	PeriodFraction *decimal.Decimal `json:"period_fraction,omitempty"`
}

type BillingRunRequest struct {
	Items []BillableItemDTO `json:"items"`
}

// ItemFailureDTO is an item the run skipped.
type ItemFailureDTO struct {
	Reference string `json:"reference"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

type BillingRunResponse struct {
	Posted     []ChargeDTO      `json:"posted"`
	Duplicates []string         `json:"duplicates"`
	Failures   []ItemFailureDTO `json:"failures"`
	Total      decimal.Decimal  `json:"total"`
}

// =============================================================================
// FORECASTS
// =============================================================================

type ForecastTargetDTO struct {
	CustomerID      string          `json:"customer_id"`
	ServiceType     string          `json:"service_type"`
	AmountPerPeriod decimal.Decimal `json:"amount_per_period"`
}

// CreateForecastRequest creates a draft forecast. ID is generated if empty.
type CreateForecastRequest struct {
	ID                   string              `json:"id,omitempty"`
	Name                 string              `json:"name"`
	DateFrom             string              `json:"date_from"`
	DateTo               string              `json:"date_to"`
	PeriodType           string              `json:"period_type"`
	FiscalYearStartMonth int                 `json:"fiscal_year_start_month,omitempty"`
	Targets              []ForecastTargetDTO `json:"targets"`
}

type ForecastLineDTO struct {
	ID                    string          `json:"id"`
	CustomerID            string          `json:"customer_id"`
	ServiceType           string          `json:"service_type"`
	PeriodStart           string          `json:"period_start"`
	PeriodEnd             string          `json:"period_end"`
	ForecastedAmount      decimal.Decimal `json:"forecasted_amount"`
	ActualAmount          decimal.Decimal `json:"actual_amount"`
	VarianceAmount        decimal.Decimal `json:"variance_amount"`
	AchievementPercentage decimal.Decimal `json:"achievement_percentage"`
	State                 string          `json:"state"`
}

type ForecastSummaryDTO struct {
	TotalForecasted       decimal.Decimal `json:"total_forecasted"`
	TotalActual           decimal.Decimal `json:"total_actual"`
	TotalVariance         decimal.Decimal `json:"total_variance"`
	AchievementPercentage decimal.Decimal `json:"achievement_percentage"`
	LineCount             int             `json:"line_count"`
}

// ForecastDTO represents a forecast with its lines and totals.
type ForecastDTO struct {
	ID                   string              `json:"id"`
	Name                 string              `json:"name"`
	DateFrom             string              `json:"date_from"`
	DateTo               string              `json:"date_to"`
	PeriodType           string              `json:"period_type"`
	FiscalYearStartMonth int                 `json:"fiscal_year_start_month,omitempty"`
	State                string              `json:"state"`
	Version              int                 `json:"version"`
	Targets              []ForecastTargetDTO `json:"targets"`
	Lines                []ForecastLineDTO   `json:"lines"`
	Summary              ForecastSummaryDTO  `json:"summary"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toResolvedChargeDTO(c billing.ResolvedCharge) ResolvedChargeDTO {
	return ResolvedChargeDTO{
		RateLineID:       string(c.RateLineID),
		EffectiveRate:    c.EffectiveRate,
		BillableQuantity: c.BillableQuantity,
		RawCharge:        c.RawCharge,
		FinalCharge:      c.FinalCharge,
		CapApplied:       string(c.CapApplied),
		Prorated:         c.Prorated,
	}
}

func toChargeDTO(c billing.PostedCharge) ChargeDTO {
	dto := ChargeDTO{
		ID:             string(c.ID),
		CustomerID:     string(c.CustomerID),
		ServiceType:    string(c.ServiceType),
		ContainerType:  string(c.ContainerType),
		RateLineID:     string(c.RateLineID),
		Reference:      c.Reference,
		PostedAt:       c.PostedAt.String(),
		Quantity:       c.Quantity,
		Amount:         c.Amount,
		Currency:       c.Currency,
		IdempotencyKey: c.IdempotencyKey,
		Charge:         toResolvedChargeDTO(c.Charge),
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toChargeDTOs(charges []billing.PostedCharge) []ChargeDTO {
	dtos := make([]ChargeDTO, len(charges))
	for i, c := range charges {
		dtos[i] = toChargeDTO(c)
	}
	return dtos
}

func toForecastLineDTO(l billing.ForecastLine) ForecastLineDTO {
	return ForecastLineDTO{
		ID:                    string(l.ID),
		CustomerID:            string(l.CustomerID),
		ServiceType:           string(l.ServiceType),
		PeriodStart:           l.Period.Start.String(),
		PeriodEnd:             l.Period.End.String(),
		ForecastedAmount:      l.ForecastedAmount,
		ActualAmount:          l.ActualAmount,
		VarianceAmount:        l.VarianceAmount,
		AchievementPercentage: l.AchievementPercentage,
		State:                 string(l.State),
	}
}

func toForecastLineDTOs(lines []billing.ForecastLine) []ForecastLineDTO {
	dtos := make([]ForecastLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toForecastLineDTO(l)
	}
	return dtos
}

func toForecastDTO(f *billing.Forecast) ForecastDTO {
	targets := make([]ForecastTargetDTO, len(f.Targets))
	for i, t := range f.Targets {
		targets[i] = ForecastTargetDTO{
			CustomerID:      string(t.CustomerID),
			ServiceType:     string(t.ServiceType),
			AmountPerPeriod: t.AmountPerPeriod,
		}
	}
	s := f.Summary()
	return ForecastDTO{
		ID:                   string(f.ID),
		Name:                 f.Name,
		DateFrom:             f.DateFrom.String(),
		DateTo:               f.DateTo.String(),
		PeriodType:           string(f.PeriodConfig.Type),
		FiscalYearStartMonth: int(f.PeriodConfig.FiscalYearStartMonth),
		State:                string(f.State),
		Version:              f.Version,
		Targets:              targets,
		Lines:                toForecastLineDTOs(f.Lines),
		Summary: ForecastSummaryDTO{
			TotalForecasted:       s.TotalForecasted,
			TotalActual:           s.TotalActual,
			TotalVariance:         s.TotalVariance,
			AchievementPercentage: s.AchievementPercentage,
			LineCount:             s.LineCount,
		},
	}
}

func toItemFailureDTOs(failures []records.ItemFailure) []ItemFailureDTO {
	dtos := make([]ItemFailureDTO, len(failures))
	for i, f := range failures {
		dtos[i] = ItemFailureDTO{
			Reference: f.Item.Reference,
			Stage:     string(f.Stage),
			Error:     f.Err.Error(),
		}
	}
	return dtos
}
