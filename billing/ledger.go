/*
ledger.go - Append-only log of posted charges

PURPOSE:
  Every charge the engine computes and the business decides to bill ends up
  here. The ledger is the source of actual revenue for forecasts and of the
  "this rate line is in use" fact that freezes rate lines.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same charge (no duplicates)
  3. FREEZING: Posting locks the referenced rate line in the same transaction
  4. FAITHFUL: A charge priced from a line that was edited before the post
     is refused with ErrRateLineChanged, so a locked line always carries
     the terms its charges were priced with

CORRECTIONS:
  A mis-billed charge is corrected by posting a credit (negative amount)
  that references the original, never by editing it.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger records posted charges.
type Ledger interface {
	// Post appends a charge. Fails if the idempotency key exists.
	Post(ctx context.Context, charge PostedCharge) (PostedCharge, error)

	// Charges returns a customer's charges in [from, to], chronologically.
	Charges(ctx context.Context, customer CustomerID, from, to TimePoint) ([]PostedCharge, error)

	// Total sums the charge amounts of a customer in a period.
	Total(ctx context.Context, customer CustomerID, period Period) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
	Now   func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Post(ctx context.Context, charge PostedCharge) (PostedCharge, error) {
	if charge.ID == "" {
		charge.ID = ChargeID(uuid.NewString())
	}
	if charge.IdempotencyKey == "" {
		charge.IdempotencyKey = string(charge.ID)
	}
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = l.Now().UTC()
	}
	if charge.RateLineID == "" {
		charge.RateLineID = charge.Charge.RateLineID
	}

	pricedWith := charge.PricedWith
	charge.PricedWith = nil

	err := withTx(ctx, l.Store, func(s Store) error {
		exists, err := s.ChargeExists(ctx, charge.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
		if pricedWith != nil {
			stored, err := s.GetRateLine(ctx, charge.RateLineID)
			if err != nil {
				return err
			}
			if !stored.SameTerms(*pricedWith) {
				return fmt.Errorf("%w: %s", ErrRateLineChanged, charge.RateLineID)
			}
		}
		if err := s.AppendCharge(ctx, charge); err != nil {
			return err
		}
		if charge.RateLineID != "" {
			return s.LockRateLine(ctx, charge.RateLineID)
		}
		return nil
	})
	if err != nil {
		return PostedCharge{}, err
	}
	return charge, nil
}

func (l *DefaultLedger) Charges(ctx context.Context, customer CustomerID, from, to TimePoint) ([]PostedCharge, error) {
	return l.Store.LoadCharges(ctx, customer, from, to)
}

func (l *DefaultLedger) Total(ctx context.Context, customer CustomerID, period Period) (decimal.Decimal, error) {
	charges, err := l.Store.LoadCharges(ctx, customer, period.Start, period.End)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Amount)
	}
	return total, nil
}
