/*
presets.go - Rate line presets for a records centre

PURPOSE:
  Builds JSON rate line definitions for the usual records services, ready
  for factory.RateCardFactory.ParseRateLine. They construct JSON directly to
  avoid an import cycle with the factory package.

AVAILABLE PRESETS:
  StandardStorageRateJSON: Monthly storage per container, prorated
  RetrievalRateJSON:       Per-container retrieval with a minimum charge
  DestructionRateJSON:     Per-container shredding, rounded to whole boxes
  PickupFlatRateJSON:      One flat fee per pickup trip
  DefaultRateCardJSON:     A complete card built from the presets

USAGE:
  f := factory.NewRateCardFactory()
  line, err := f.ParseRateLine(records.RetrievalRateJSON("ret-2025", "3.50", "15"))
*/
package records

import (
	"encoding/json"

	"github.com/warp/records-billing/billing"
)

// StandardStorageRateJSON returns JSON for monthly storage of one container
// type, prorated for partial months.
func StandardStorageRateJSON(id string, container billing.ContainerTypeID, unitRate, minimumCharge string) string {
	rj := map[string]interface{}{
		"id":                 id,
		"name":               "Monthly storage",
		"service_type":       "storage",
		"billing_method":     "per_container_type",
		"unit":               "container",
		"container_type":     string(container),
		"unit_rate":          unitRate,
		"minimum_charge":     minimumCharge,
		"minimum_quantity":   "0",
		"quantity_increment": "0",
		"proration_allowed":  true,
	}
	return marshal(rj)
}

// RetrievalRateJSON returns JSON for per-container retrieval.
func RetrievalRateJSON(id, unitRate, minimumCharge string) string {
	rj := map[string]interface{}{
		"id":                 id,
		"name":               "Retrieval",
		"service_type":       "retrieval",
		"billing_method":     "per_unit",
		"unit":               "container",
		"unit_rate":          unitRate,
		"minimum_charge":     minimumCharge,
		"minimum_quantity":   "1",
		"quantity_increment": "1",
	}
	return marshal(rj)
}

// DestructionRateJSON returns JSON for secure destruction, with an optional
// ceiling per batch. An empty maximumCharge leaves the batch uncapped.
func DestructionRateJSON(id, unitRate, maximumCharge string) string {
	rj := map[string]interface{}{
		"id":                 id,
		"name":               "Secure destruction",
		"service_type":       "destruction",
		"billing_method":     "per_unit",
		"unit":               "destruction",
		"unit_rate":          unitRate,
		"minimum_quantity":   "1",
		"quantity_increment": "1",
	}
	if maximumCharge != "" {
		rj["maximum_charge"] = maximumCharge
	}
	return marshal(rj)
}

// PickupFlatRateJSON returns JSON for a flat fee per pickup trip.
func PickupFlatRateJSON(id, fee string) string {
	rj := map[string]interface{}{
		"id":             id,
		"name":           "Pickup trip",
		"service_type":   "pickup",
		"billing_method": "flat_rate",
		"unit":           "trip",
		"unit_rate":      fee,
	}
	return marshal(rj)
}

// DefaultRateCardJSON returns a complete rate card effective from
// effectiveDate (YYYY-MM-DD).
func DefaultRateCardJSON(currency, effectiveDate string) string {
	var lines []json.RawMessage
	add := func(s string) {
		var m map[string]interface{}
		_ = json.Unmarshal([]byte(s), &m)
		m["effective_date"] = effectiveDate
		lines = append(lines, json.RawMessage(marshal(m)))
	}

	add(StandardStorageRateJSON("storage-standard", ContainerStandard, "0.45", "0"))
	add(StandardStorageRateJSON("storage-legal", ContainerLegal, "0.65", "0"))
	add(StandardStorageRateJSON("storage-map", ContainerMap, "0.95", "0"))
	add(StandardStorageRateJSON("storage-odd-size", ContainerOddSize, "1.60", "0"))
	add(StandardStorageRateJSON("storage-pathology", ContainerPathology, "0.30", "0"))
	add(RetrievalRateJSON("retrieval", "3.50", "15"))
	add(DestructionRateJSON("destruction", "4.25", "500"))
	add(PickupFlatRateJSON("pickup", "45"))

	return marshal(map[string]interface{}{
		"currency": currency,
		"lines":    lines,
	})
}

func marshal(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
