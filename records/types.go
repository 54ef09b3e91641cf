// Package records implements the records-management side of billing: the
// container catalogue, rate card presets and the periodic billing run.
// It drives the billing engine with records-specific inputs.
package records

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
)

// =============================================================================
// CONTAINER TYPES
// =============================================================================

// ContainerType is a box size stored in the warehouse.
type ContainerType struct {
	ID        billing.ContainerTypeID
	Name      string
	CubicFeet decimal.Decimal
}

// Container types of the records business
const (
	ContainerStandard  billing.ContainerTypeID = "type_01"
	ContainerLegal     billing.ContainerTypeID = "type_02"
	ContainerMap       billing.ContainerTypeID = "type_03"
	ContainerOddSize   billing.ContainerTypeID = "type_04"
	ContainerPathology billing.ContainerTypeID = "type_05"
)

var containerTypes = map[billing.ContainerTypeID]ContainerType{
	ContainerStandard:  {ContainerStandard, "Standard box", decimal.RequireFromString("1.2")},
	ContainerLegal:     {ContainerLegal, "Legal box", decimal.RequireFromString("2.4")},
	ContainerMap:       {ContainerMap, "Map box", decimal.RequireFromString("0.875")},
	ContainerOddSize:   {ContainerOddSize, "Odd-size box", decimal.RequireFromString("5")},
	ContainerPathology: {ContainerPathology, "Pathology box", decimal.RequireFromString("0.042")},
}

// LookupContainerType returns the catalogue entry for id.
func LookupContainerType(id billing.ContainerTypeID) (ContainerType, error) {
	ct, ok := containerTypes[id]
	if !ok {
		return ContainerType{}, fmt.Errorf("unknown container type %q", id)
	}
	return ct, nil
}

// ContainerTypes returns the catalogue ordered by ID.
func ContainerTypes() []ContainerType {
	out := make([]ContainerType, 0, len(containerTypes))
	for _, ct := range containerTypes {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StorageVolume converts a container count into cubic feet, the quantity
// used by storage lines billed per cubic foot.
func StorageVolume(id billing.ContainerTypeID, count int64) (decimal.Decimal, error) {
	ct, err := LookupContainerType(id)
	if err != nil {
		return decimal.Zero, err
	}
	return ct.CubicFeet.Mul(decimal.NewFromInt(count)), nil
}

// =============================================================================
// BILLABLE ITEM - One line of work to price
// =============================================================================

// BillableItem is a unit of work from operations: a month of storage, a
// retrieval work order, a destruction batch, a pickup trip.
type BillableItem struct {
	// Reference identifies the work order. It is the idempotency key of
	// the posted charge, so re-running a billing run never double-bills.
	Reference     string
	CustomerID    billing.CustomerID
	ServiceType   billing.ServiceType
	ContainerType billing.ContainerTypeID
	Quantity      decimal.Decimal
	On            billing.TimePoint

	// PeriodFraction prorates partial-period storage. Nil bills in full.
	PeriodFraction *decimal.Decimal
}

// Request builds the engine input for the item.
func (i BillableItem) Request() billing.RequestContext {
	return billing.RequestContext{
		ServiceType:    i.ServiceType,
		ContainerType:  i.ContainerType,
		AsOf:           i.On,
		Quantity:       i.Quantity,
		PeriodFraction: i.PeriodFraction,
	}
}
