package records

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
)

// StorageFraction returns the share of period during which a container was
// on the shelf, for prorating storage. storedTo is nil while the container
// is still stored. It returns nil when the container was stored for the
// whole period, so callers bill in full without a fraction, and zero when
// the stay does not touch the period.
func StorageFraction(period billing.Period, storedFrom billing.TimePoint, storedTo *billing.TimePoint) *decimal.Decimal {
	stay := billing.Period{Start: storedFrom, End: period.End}
	if storedTo != nil {
		stay.End = *storedTo
	}

	fraction := period.CoveredFraction(stay)
	if fraction.Equal(decimal.NewFromInt(1)) {
		return nil
	}
	return &fraction
}

// ErrInventoryLineID is returned when an inventory line has no ID or shares
// one with another line of the same customer.
var ErrInventoryLineID = errors.New("inventory line needs a unique id")

// StorageItems builds one storage item per customer inventory line for
// period, prorating containers that arrived or left during it. Lines whose
// stay misses the period are dropped. The item reference is keyed by the
// inventory line ID, so two batches stored on the same day are billed
// separately.
func StorageItems(period billing.Period, inventory []InventoryLine) ([]BillableItem, error) {
	type lineKey struct {
		customer billing.CustomerID
		id       string
	}
	seen := make(map[lineKey]bool, len(inventory))

	var items []BillableItem
	for _, inv := range inventory {
		key := lineKey{inv.CustomerID, inv.ID}
		if inv.ID == "" || seen[key] {
			return nil, fmt.Errorf("%w: customer %s, id %q", ErrInventoryLineID, inv.CustomerID, inv.ID)
		}
		seen[key] = true

		fraction := StorageFraction(period, inv.StoredFrom, inv.StoredTo)
		if fraction != nil && fraction.IsZero() {
			continue
		}
		items = append(items, BillableItem{
			Reference:      "storage/" + string(inv.CustomerID) + "/" + inv.ID + "/" + period.Start.String(),
			CustomerID:     inv.CustomerID,
			ServiceType:    billing.ServiceStorage,
			ContainerType:  inv.ContainerType,
			Quantity:       decimal.NewFromInt(inv.Count),
			On:             period.End,
			PeriodFraction: fraction,
		})
	}
	return items, nil
}

// InventoryLine is a batch of same-type containers a customer keeps with us.
type InventoryLine struct {
	// ID is unique per customer and stable across runs.
	ID            string
	CustomerID    billing.CustomerID
	ContainerType billing.ContainerTypeID
	Count         int64
	StoredFrom    billing.TimePoint
	StoredTo      *billing.TimePoint
}
