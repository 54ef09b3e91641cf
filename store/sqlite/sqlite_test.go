package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) billing.TimePoint { return billing.NewTimePoint(y, m, d) }

func retrievalLine(id billing.RateLineID) billing.RateLine {
	effective := day(2025, time.January, 1)
	return billing.RateLine{
		ID:                id,
		Name:              "Retrieval",
		ServiceType:       billing.ServiceRetrieval,
		BillingMethod:     billing.MethodPerUnit,
		Unit:              billing.UnitContainer,
		ContainerType:     "type_01",
		UnitRate:          billing.MustParseDecimal("3.50"),
		DiscountPercent:   billing.MustParseDecimal("10"),
		MinimumCharge:     billing.MustParseDecimal("15"),
		MinimumQuantity:   decimal.NewFromInt(1),
		QuantityIncrement: billing.MustParseDecimal("0.5"),
		EffectiveDate:     &effective,
		ProrationAllowed:  true,
		Version:           1,
	}
}

func TestRateLines_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	line := retrievalLine("ret-1")
	require.NoError(t, s.CreateRateLine(ctx, line))
	assert.ErrorIs(t, s.CreateRateLine(ctx, line), billing.ErrRateLineExists)

	got, err := s.GetRateLine(ctx, "ret-1")
	require.NoError(t, err)
	assert.Equal(t, line.ContainerType, got.ContainerType)
	assert.True(t, got.UnitRate.Equal(line.UnitRate))
	assert.True(t, got.QuantityIncrement.Equal(line.QuantityIncrement))
	require.NotNil(t, got.EffectiveDate)
	assert.True(t, got.EffectiveDate.Equal(*line.EffectiveDate))
	assert.Nil(t, got.ExpiryDate)
	assert.True(t, got.ProrationAllowed)

	_, err = s.GetRateLine(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrRateLineNotFound)
}

func TestRateLines_ListFiltersByServiceAndDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateRateLine(ctx, retrievalLine("ret-1")))
	storage := retrievalLine("sto-1")
	storage.ServiceType = billing.ServiceStorage
	require.NoError(t, s.CreateRateLine(ctx, storage))

	lines, err := s.ListRateLines(ctx, billing.RateLineFilter{ServiceType: billing.ServiceRetrieval})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, billing.RateLineID("ret-1"), lines[0].ID)

	before := day(2024, time.June, 1)
	lines, err = s.ListRateLines(ctx, billing.RateLineFilter{ActiveOn: &before})
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestRateLines_LockedLineCannotBeUpdated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	line := retrievalLine("ret-1")
	require.NoError(t, s.CreateRateLine(ctx, line))

	line.UnitRate = billing.MustParseDecimal("4")
	require.NoError(t, s.UpdateRateLine(ctx, line))

	require.NoError(t, s.LockRateLine(ctx, "ret-1"))
	locked, err := s.IsRateLineLocked(ctx, "ret-1")
	require.NoError(t, err)
	assert.True(t, locked)

	line.UnitRate = billing.MustParseDecimal("5")
	assert.ErrorIs(t, s.UpdateRateLine(ctx, line), billing.ErrRateLineLocked)

	got, err := s.GetRateLine(ctx, "ret-1")
	require.NoError(t, err)
	assert.True(t, got.UnitRate.Equal(billing.MustParseDecimal("4")))
}

func TestRateLines_CorruptColumnIsAnError(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		update string
		column string
	}{
		{"expiry date", `UPDATE rate_lines SET expiry_date = 'someday' WHERE id = 'ret-1'`, "expiry_date"},
		{"unit rate", `UPDATE rate_lines SET unit_rate = 'three fifty' WHERE id = 'ret-1'`, "unit_rate"},
		{"minimum charge", `UPDATE rate_lines SET minimum_charge = '' WHERE id = 'ret-1'`, "minimum_charge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, s.CreateRateLine(ctx, retrievalLine("ret-1")))
			_, err := s.db.ExecContext(ctx, tt.update)
			require.NoError(t, err)

			_, err = s.GetRateLine(ctx, "ret-1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ret-1")
			assert.Contains(t, err.Error(), tt.column)

			_, err = s.ListRateLines(ctx, billing.RateLineFilter{})
			assert.Error(t, err)
		})
	}
}

func TestCharges_CorruptAmountIsAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendCharge(ctx, billing.PostedCharge{
		ID:         "ch-1",
		CustomerID: "acme",
		PostedAt:   day(2025, time.March, 4),
		Amount:     billing.MustParseDecimal("15.00"),
	}))
	_, err := s.db.ExecContext(ctx, `UPDATE charges SET amount = 'fifteen' WHERE id = 'ch-1'`)
	require.NoError(t, err)

	_, err = s.GetCharge(ctx, "ch-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")

	_, err = s.LoadCharges(ctx, "acme", day(2025, time.March, 1), day(2025, time.March, 31))
	assert.Error(t, err)
}

func TestCharges_AppendOnlyAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := billing.PostedCharge{
		ID:          "ch-1",
		CustomerID:  "acme",
		ServiceType: billing.ServiceRetrieval,
		RateLineID:  "ret-1",
		PostedAt:    day(2025, time.March, 4),
		Quantity:    billing.MustParseDecimal("3"),
		Charge: billing.ResolvedCharge{
			RateLineID:  "ret-1",
			FinalCharge: billing.MustParseDecimal("15"),
			CapApplied:  billing.CapMinimum,
		},
		Amount:         billing.MustParseDecimal("15.00"),
		Currency:       "USD",
		IdempotencyKey: "wo-77",
	}
	require.NoError(t, s.AppendCharge(ctx, c))

	dup := c
	dup.ID = "ch-2"
	assert.ErrorIs(t, s.AppendCharge(ctx, dup), billing.ErrDuplicateIdempotencyKey)

	exists, err := s.ChargeExists(ctx, "wo-77")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.GetCharge(ctx, "ch-1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(c.Amount))
	assert.Equal(t, billing.CapMinimum, got.Charge.CapApplied)
	assert.True(t, got.PostedAt.Equal(c.PostedAt))

	_, err = s.GetCharge(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrChargeNotFound)
}

func TestCharges_LoadRangeInPostingOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, d := range []int{20, 3, 11} {
		require.NoError(t, s.AppendCharge(ctx, billing.PostedCharge{
			ID:         billing.ChargeID(fmt.Sprintf("ch-%d", i)),
			CustomerID: "acme",
			PostedAt:   day(2025, time.March, d),
			Amount:     decimal.NewFromInt(int64(d)),
		}))
	}

	charges, err := s.LoadCharges(ctx, "acme", day(2025, time.March, 1), day(2025, time.March, 15))
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, 3, charges[0].PostedAt.Day())
	assert.Equal(t, 11, charges[1].PostedAt.Day())
}

func TestForecasts_SaveAndReload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := billing.NewForecast("fc-1", "H1", day(2025, time.January, 1), day(2025, time.June, 30),
		billing.PeriodConfig{Type: billing.PeriodQuarterly},
		[]billing.ForecastTarget{{CustomerID: "acme", ServiceType: billing.ServiceStorage, AmountPerPeriod: decimal.NewFromInt(3000)}})
	require.NoError(t, err)
	n := 0
	require.NoError(t, f.GenerateLines(func() billing.ForecastLineID {
		n++
		return billing.ForecastLineID(fmt.Sprintf("l%d", n))
	}))
	require.NoError(t, f.Confirm())
	_, _, err = f.RecordCharge("acme", billing.ServiceStorage, day(2025, time.May, 2), decimal.NewFromInt(1500))
	require.NoError(t, err)

	require.NoError(t, s.SaveForecast(ctx, f))

	got, err := s.GetForecast(ctx, "fc-1")
	require.NoError(t, err)
	assert.Equal(t, billing.ForecastConfirmed, got.State)
	assert.Equal(t, billing.PeriodQuarterly, got.PeriodConfig.Type)
	require.Len(t, got.Lines, 2)
	assert.True(t, got.Lines[1].ActualAmount.Equal(decimal.NewFromInt(1500)))
	assert.True(t, got.Lines[1].AchievementPercentage.Equal(decimal.NewFromInt(50)))
	require.Len(t, got.Targets, 1)
	assert.True(t, got.Targets[0].AmountPerPeriod.Equal(decimal.NewFromInt(3000)))

	// Saving again replaces the lines
	f.Lines = f.Lines[:1]
	require.NoError(t, s.SaveForecast(ctx, f))
	all, err := s.ListForecasts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Lines, 1)

	_, err = s.GetForecast(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrForecastNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRateLine(ctx, retrievalLine("ret-1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx billing.Store) error {
		if err := tx.AppendCharge(ctx, billing.PostedCharge{ID: "ch-1", CustomerID: "acme", PostedAt: day(2025, time.March, 1)}); err != nil {
			return err
		}
		if err := tx.LockRateLine(ctx, "ret-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	locked, err := s.IsRateLineLocked(ctx, "ret-1")
	require.NoError(t, err)
	assert.False(t, locked)
	_, err = s.GetCharge(ctx, "ch-1")
	assert.ErrorIs(t, err, billing.ErrChargeNotFound)
}

func TestLedgerOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRateLine(ctx, retrievalLine("ret-1")))
	ledger := billing.NewLedger(s)

	_, err := ledger.Post(ctx, billing.PostedCharge{
		CustomerID: "acme",
		RateLineID: "ret-1",
		PostedAt:   day(2025, time.March, 1),
		Amount:     billing.MustParseDecimal("12.5"),
	})
	require.NoError(t, err)

	locked, err := s.IsRateLineLocked(ctx, "ret-1")
	require.NoError(t, err)
	assert.True(t, locked)
}
