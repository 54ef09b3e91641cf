/*
store.go - Persistence interfaces for rate lines, charges and forecasts

PURPOSE:
  Defines the interface between the billing logic and the database. The
  engine itself never calls a store: resolution and calculation take plain
  values. Stores serve the layers around the engine (ledger, reconciler,
  billing run, HTTP API).

KEY INTERFACES:
  RateLineStore: Rate card configuration, with locking once referenced
  ChargeStore:   Append-only posted charges
  ForecastStore: Forecast aggregates (mutable until closed)
  TxStore:       Atomic multi-write operations

APPEND-ONLY CONTRACT (charges):
  - AppendCharge(): the only write
  - NO update or delete for charges
  - Every charge carries an idempotency key; a repeated key is rejected

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - billing/store/memory.go: In-memory for testing
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POSTED CHARGE - Ledger entry for a priced request
// =============================================================================

type PostedCharge struct {
	ID            ChargeID
	CustomerID    CustomerID
	ServiceType   ServiceType
	ContainerType ContainerTypeID
	RateLineID    RateLineID
	Reference     string // e.g. the work order or pickup request being billed
	PostedAt      TimePoint
	Quantity      decimal.Decimal
	Charge        ResolvedCharge

	// Amount is Charge.FinalCharge rounded to the ledger currency.
	Amount   decimal.Decimal
	Currency string

	IdempotencyKey string
	CreatedAt      time.Time

	// PricedWith is the rate line the charge was quoted from. It is not
	// stored; when set, the ledger refuses the post if the stored line no
	// longer has the same terms.
	PricedWith *RateLine
}

// =============================================================================
// STORES
// =============================================================================

// RateLineFilter narrows ListRateLines. Zero fields don't filter.
type RateLineFilter struct {
	ServiceType ServiceType
	ActiveOn    *TimePoint
}

func (f RateLineFilter) Match(l RateLine) bool {
	if f.ServiceType != "" && l.ServiceType != f.ServiceType {
		return false
	}
	if f.ActiveOn != nil && !l.IsActiveOn(*f.ActiveOn) {
		return false
	}
	return true
}

type RateLineStore interface {
	// CreateRateLine stores a new line. Fails with ErrRateLineExists.
	CreateRateLine(ctx context.Context, line RateLine) error

	// UpdateRateLine replaces an unlocked line. Fails with ErrRateLineLocked
	// once a posted charge references the line.
	UpdateRateLine(ctx context.Context, line RateLine) error

	GetRateLine(ctx context.Context, id RateLineID) (RateLine, error)
	ListRateLines(ctx context.Context, filter RateLineFilter) ([]RateLine, error)

	// LockRateLine freezes a line. Idempotent.
	LockRateLine(ctx context.Context, id RateLineID) error
	IsRateLineLocked(ctx context.Context, id RateLineID) (bool, error)
}

type ChargeStore interface {
	// AppendCharge persists a charge. Fails with ErrDuplicateIdempotencyKey.
	AppendCharge(ctx context.Context, charge PostedCharge) error

	GetCharge(ctx context.Context, id ChargeID) (PostedCharge, error)

	// LoadCharges returns a customer's charges posted in [from, to], by date.
	LoadCharges(ctx context.Context, customer CustomerID, from, to TimePoint) ([]PostedCharge, error)

	ChargeExists(ctx context.Context, idempotencyKey string) (bool, error)
}

type ForecastStore interface {
	// SaveForecast inserts or replaces a forecast and its lines.
	SaveForecast(ctx context.Context, f *Forecast) error
	GetForecast(ctx context.Context, id ForecastID) (*Forecast, error)
	ListForecasts(ctx context.Context) ([]*Forecast, error)
}

// Store bundles every persistence concern.
type Store interface {
	RateLineStore
	ChargeStore
	ForecastStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// withTx runs fn inside a transaction when s supports one.
func withTx(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}
