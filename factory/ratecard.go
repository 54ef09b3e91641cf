/*
Package factory provides rate card file to Go rate line conversion.

PURPOSE:
  Converts rate card definitions (JSON, YAML or TOML) into validated
  billing.RateLine values, so pricing can be configured without code
  changes. Finance edits a rate card file; the factory builds the Go structs.

RATE CARD SCHEMA (JSON shown, YAML and TOML use the same keys):
  {
    "currency": "USD",
    "lines": [
      {
        "id": "storage-std-2025",
        "name": "Standard box storage",
        "service_type": "storage",
        "billing_method": "per_unit",
        "unit": "container",
        "unit_rate": "0.45",
        "minimum_charge": "25",
        "effective_date": "2025-01-01",
        "proration_allowed": true
      }
    ]
  }

DEFAULTS:
  - minimum_quantity and quantity_increment default to 1 when omitted.
    An explicit 0 keeps the raw quantity (no minimum, no rounding).
  - version defaults to 1.
  - Decimal fields accept strings ("0.45") or numbers (0.45). Strings avoid
    float surprises and are what ToJSON writes.

FORMATS:
  YAML and TOML are decoded into plain maps and re-encoded as JSON, so one
  schema and one validation path serve every format.

USAGE:
  f := NewRateCardFactory()
  card, err := f.LoadRateCard("rates.yaml")

  // From a domain preset
  import "github.com/warp/records-billing/records"
  line, err := f.ParseRateLine(records.RetrievalRateJSON("ret-2025", "3.50", "15"))

SEE ALSO:
  - billing/rateline.go: RateLine type and validation
  - records/presets.go: Rate line presets for the records business
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// RateLineJSON is the file representation of a rate line.
type RateLineJSON struct {
	ID                string           `json:"id"`
	Name              string           `json:"name,omitempty"`
	ServiceType       string           `json:"service_type"`
	BillingMethod     string           `json:"billing_method"`
	Unit              string           `json:"unit,omitempty"`
	ContainerType     string           `json:"container_type,omitempty"`
	UnitRate          decimal.Decimal  `json:"unit_rate"`
	DiscountPercent   *decimal.Decimal `json:"discount_percent,omitempty"`
	MarkupPercent     *decimal.Decimal `json:"markup_percent,omitempty"`
	MinimumCharge     *decimal.Decimal `json:"minimum_charge,omitempty"`
	MaximumCharge     *decimal.Decimal `json:"maximum_charge,omitempty"`
	MinimumQuantity   *decimal.Decimal `json:"minimum_quantity,omitempty"`
	QuantityIncrement *decimal.Decimal `json:"quantity_increment,omitempty"`
	EffectiveDate     string           `json:"effective_date,omitempty"`
	ExpiryDate        string           `json:"expiry_date,omitempty"`
	ProrationAllowed  bool             `json:"proration_allowed,omitempty"`
	Version           int              `json:"version,omitempty"`
	SupersedesID      string           `json:"supersedes_id,omitempty"`
	Locked            bool             `json:"locked,omitempty"`
}

// RateCardJSON is the file representation of a rate card.
type RateCardJSON struct {
	Currency string         `json:"currency,omitempty"`
	Lines    []RateLineJSON `json:"lines"`
}

// RateCard is a parsed, validated rate card.
type RateCard struct {
	Currency string
	Lines    []billing.RateLine
}

// Format names a rate card encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported rate card format: %s", filepath.Ext(path))
	}
}

// =============================================================================
// RATE CARD FACTORY
// =============================================================================

// RateCardFactory converts rate card files to rate lines.
type RateCardFactory struct {
	// DefaultCurrency is used when a card names none.
	DefaultCurrency string
}

func NewRateCardFactory() *RateCardFactory {
	return &RateCardFactory{DefaultCurrency: "USD"}
}

// ParseRateLine parses one JSON rate line and validates it.
func (f *RateCardFactory) ParseRateLine(jsonStr string) (billing.RateLine, error) {
	var rj RateLineJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return billing.RateLine{}, fmt.Errorf("failed to parse rate line JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RateLineJSON to a validated billing.RateLine.
func (f *RateCardFactory) FromJSON(rj RateLineJSON) (billing.RateLine, error) {
	if rj.ID == "" {
		return billing.RateLine{}, &billing.RateLineValidationError{Field: "id", Reason: "is required"}
	}

	effective, err := billing.ParseOptionalTimePoint(rj.EffectiveDate)
	if err != nil {
		return billing.RateLine{}, &billing.RateLineValidationError{
			RateLineID: billing.RateLineID(rj.ID), Field: "effective_date", Reason: err.Error(),
		}
	}
	expiry, err := billing.ParseOptionalTimePoint(rj.ExpiryDate)
	if err != nil {
		return billing.RateLine{}, &billing.RateLineValidationError{
			RateLineID: billing.RateLineID(rj.ID), Field: "expiry_date", Reason: err.Error(),
		}
	}

	version := rj.Version
	if version == 0 {
		version = 1
	}

	line := billing.RateLine{
		ID:                billing.RateLineID(rj.ID),
		Name:              rj.Name,
		ServiceType:       billing.ServiceType(rj.ServiceType),
		BillingMethod:     billing.BillingMethod(rj.BillingMethod),
		Unit:              billing.Unit(rj.Unit),
		ContainerType:     billing.ContainerTypeID(rj.ContainerType),
		UnitRate:          rj.UnitRate,
		DiscountPercent:   orDefault(rj.DiscountPercent, decimal.Zero),
		MarkupPercent:     orDefault(rj.MarkupPercent, decimal.Zero),
		MinimumCharge:     orDefault(rj.MinimumCharge, decimal.Zero),
		MaximumCharge:     orDefault(rj.MaximumCharge, decimal.Zero),
		MinimumQuantity:   orDefault(rj.MinimumQuantity, decimal.NewFromInt(1)),
		QuantityIncrement: orDefault(rj.QuantityIncrement, decimal.NewFromInt(1)),
		EffectiveDate:     effective,
		ExpiryDate:        expiry,
		ProrationAllowed:  rj.ProrationAllowed,
		Version:           version,
		SupersedesID:      billing.RateLineID(rj.SupersedesID),
	}

	return billing.NewRateLine(line)
}

// ToJSON converts a RateLine to its file representation.
func (f *RateCardFactory) ToJSON(line billing.RateLine) RateLineJSON {
	return RateLineJSON{
		ID:                string(line.ID),
		Name:              line.Name,
		ServiceType:       string(line.ServiceType),
		BillingMethod:     string(line.BillingMethod),
		Unit:              string(line.Unit),
		ContainerType:     string(line.ContainerType),
		UnitRate:          line.UnitRate,
		DiscountPercent:   nonZero(line.DiscountPercent),
		MarkupPercent:     nonZero(line.MarkupPercent),
		MinimumCharge:     nonZero(line.MinimumCharge),
		MaximumCharge:     nonZero(line.MaximumCharge),
		MinimumQuantity:   billing.DecimalPtr(line.MinimumQuantity),
		QuantityIncrement: billing.DecimalPtr(line.QuantityIncrement),
		EffectiveDate:     dateString(line.EffectiveDate),
		ExpiryDate:        dateString(line.ExpiryDate),
		ProrationAllowed:  line.ProrationAllowed,
		Version:           line.Version,
		SupersedesID:      string(line.SupersedesID),
	}
}

// ParseRateCard decodes and validates a whole rate card.
// Duplicate line IDs are rejected.
func (f *RateCardFactory) ParseRateCard(data []byte, format Format) (*RateCard, error) {
	jsonData, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	var cj RateCardJSON
	if err := json.Unmarshal(jsonData, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse rate card: %w", err)
	}

	card := &RateCard{Currency: cj.Currency}
	if card.Currency == "" {
		card.Currency = f.DefaultCurrency
	}

	seen := make(map[string]bool, len(cj.Lines))
	for i, rj := range cj.Lines {
		if seen[rj.ID] {
			return nil, fmt.Errorf("rate card line %d: %w", i, &billing.RateLineValidationError{
				RateLineID: billing.RateLineID(rj.ID), Field: "id", Reason: "is duplicated",
			})
		}
		seen[rj.ID] = true

		line, err := f.FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rate card line %d: %w", i, err)
		}
		card.Lines = append(card.Lines, line)
	}
	return card, nil
}

// LoadRateCard reads a rate card file, choosing the format by extension.
func (f *RateCardFactory) LoadRateCard(path string) (*RateCard, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading rate card: %w", err)
	}
	return f.ParseRateCard(data, format)
}

// =============================================================================
// HELPERS
// =============================================================================

// toJSON normalizes YAML and TOML documents to JSON.
func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error parsing YAML rate card: %w", err)
		}
		return json.Marshal(doc)
	case FormatTOML:
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, fmt.Errorf("error parsing TOML rate card: %w", err)
		}
		return json.Marshal(tree.ToMap())
	default:
		return nil, fmt.Errorf("unsupported rate card format: %s", format)
	}
}

func orDefault(d *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if d == nil {
		return def
	}
	return *d
}

func nonZero(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}

func dateString(tp *billing.TimePoint) string {
	if tp == nil {
		return ""
	}
	return tp.String()
}
