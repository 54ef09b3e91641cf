package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReconciler(t *testing.T) (*billing.ForecastReconciler, billing.Store) {
	t.Helper()
	s := store.NewTxMemory()
	r := billing.NewForecastReconciler(s)
	r.NewLineID = sequentialIDs()
	return r, s
}

func seedTrackingForecast(t *testing.T, r *billing.ForecastReconciler, s billing.Store) billing.ForecastID {
	t.Helper()
	ctx := context.Background()
	f := q1Forecast(t)
	require.NoError(t, s.SaveForecast(ctx, f))

	for _, action := range []billing.ForecastAction{billing.ActionGenerate, billing.ActionConfirm, billing.ActionStart} {
		_, err := r.Apply(ctx, f.ID, action)
		require.NoError(t, err, "action %s", action)
	}
	return f.ID
}

func posted(customer billing.CustomerID, service billing.ServiceType, on billing.TimePoint, amount string) billing.PostedCharge {
	return billing.PostedCharge{
		ID:          billing.ChargeID(fmt.Sprintf("%s-%s-%s-%s", customer, service, on, amount)),
		CustomerID:  customer,
		ServiceType: service,
		PostedAt:    on,
		Amount:      d(amount),
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestReconciler_RecordCharge_UpdatesMatchingLine(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	id := seedTrackingForecast(t, r, s)

	lines, err := r.RecordCharge(ctx, posted("acme", billing.ServiceStorage, date(2025, time.January, 20), "250"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].ActualAmount.Equal(d("250")))
	assert.True(t, lines[0].AchievementPercentage.Equal(d("25")))

	f, err := s.GetForecast(ctx, id)
	require.NoError(t, err)
	assert.True(t, f.Summary().TotalActual.Equal(d("250")), "actual must be persisted")
}

func TestReconciler_RecordCharge_IgnoresUntrackedCharges(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	seedTrackingForecast(t, r, s)

	// Other customer, other service, outside horizon
	for _, c := range []billing.PostedCharge{
		posted("globex", billing.ServiceStorage, date(2025, time.January, 20), "10"),
		posted("acme", billing.ServiceDestruction, date(2025, time.January, 20), "10"),
		posted("acme", billing.ServiceStorage, date(2025, time.April, 1), "10"),
	} {
		lines, err := r.RecordCharge(ctx, c)
		require.NoError(t, err)
		assert.Empty(t, lines)
	}
}

func TestReconciler_RecordCharge_SkipsDraftForecasts(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	f := q1Forecast(t)
	require.NoError(t, s.SaveForecast(ctx, f))
	_, err := r.Apply(ctx, f.ID, billing.ActionGenerate)
	require.NoError(t, err)

	lines, err := r.RecordCharge(ctx, posted("acme", billing.ServiceStorage, date(2025, time.January, 20), "250"))

	require.NoError(t, err)
	assert.Empty(t, lines)
}

// postAndRecord posts c to the ledger over s and folds it into forecasts.
func postAndRecord(t *testing.T, r *billing.ForecastReconciler, s billing.Store, c billing.PostedCharge) {
	t.Helper()
	ctx := context.Background()
	p, err := billing.NewLedger(s).Post(ctx, c)
	require.NoError(t, err)
	_, err = r.RecordCharge(ctx, p)
	require.NoError(t, err)
}

func TestReconciler_RegenerateKeepsPostedActuals(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	f := q1Forecast(t)
	require.NoError(t, s.SaveForecast(ctx, f))
	for _, action := range []billing.ForecastAction{billing.ActionGenerate, billing.ActionConfirm} {
		_, err := r.Apply(ctx, f.ID, action)
		require.NoError(t, err)
	}

	postAndRecord(t, r, s, posted("acme", billing.ServiceStorage, date(2025, time.January, 20), "250"))

	got, err := r.Apply(ctx, f.ID, billing.ActionGenerate)
	require.NoError(t, err)
	assert.Equal(t, billing.ForecastConfirmed, got.State)
	assert.True(t, got.Summary().TotalActual.Equal(d("250")), "got %s", got.Summary().TotalActual)
	for _, line := range got.Lines {
		if line.Matches("acme", billing.ServiceStorage, date(2025, time.January, 20)) {
			assert.True(t, line.ActualAmount.Equal(d("250")))
			assert.True(t, line.AchievementPercentage.Equal(d("25")))
		}
	}

	stored, err := s.GetForecast(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, stored.Summary().TotalActual.Equal(d("250")))
}

func TestReconciler_ResetAndRegenerateKeepsPostedActuals(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	id := seedTrackingForecast(t, r, s)

	postAndRecord(t, r, s, posted("acme", billing.ServiceStorage, date(2025, time.January, 20), "250"))
	postAndRecord(t, r, s, posted("acme", billing.ServiceRetrieval, date(2025, time.February, 3), "40"))
	// Another customer's charge is not part of this forecast
	postAndRecord(t, r, s, posted("globex", billing.ServiceStorage, date(2025, time.January, 20), "99"))

	for _, action := range []billing.ForecastAction{billing.ActionReset, billing.ActionGenerate} {
		_, err := r.Apply(ctx, id, action)
		require.NoError(t, err, "action %s", action)
	}

	f, err := s.GetForecast(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.ForecastDraft, f.State)
	assert.True(t, f.Summary().TotalActual.Equal(d("290")), "got %s", f.Summary().TotalActual)
}

func TestReconciler_ConcurrentChargesAreNotLost(t *testing.T) {
	// GIVEN: A tracking forecast
	ctx := context.Background()
	r, s := newTestReconciler(t)
	id := seedTrackingForecast(t, r, s)

	// WHEN: 50 charges of 2.00 are recorded concurrently on the same line
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := posted("acme", billing.ServiceStorage, date(2025, time.February, 1+i%28), "2.00")
			c.ID = billing.ChargeID(fmt.Sprintf("c-%d", i))
			_, err := r.RecordCharge(ctx, c)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// THEN: Every charge is reflected
	f, err := s.GetForecast(ctx, id)
	require.NoError(t, err)
	assert.True(t, f.Summary().TotalActual.Equal(d("100")), "got %s", f.Summary().TotalActual)
}

func TestReconciler_Apply_FailedActionSavesNothing(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	f := q1Forecast(t)
	require.NoError(t, s.SaveForecast(ctx, f))

	_, err := r.Apply(ctx, f.ID, billing.ActionConfirm)
	require.ErrorIs(t, err, billing.ErrInvalidForecastState)

	stored, err := s.GetForecast(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ForecastDraft, stored.State)
	assert.Equal(t, 0, stored.Version)
}

func TestReconciler_Apply_UnknownForecast(t *testing.T) {
	r, _ := newTestReconciler(t)

	_, err := r.Apply(context.Background(), "missing", billing.ActionConfirm)

	assert.ErrorIs(t, err, billing.ErrForecastNotFound)
	assert.True(t, billing.IsNotFound(err))
}

func TestReconciler_AdvanceDue(t *testing.T) {
	ctx := context.Background()
	r, s := newTestReconciler(t)
	f := q1Forecast(t)
	require.NoError(t, s.SaveForecast(ctx, f))
	_, err := r.Apply(ctx, f.ID, billing.ActionGenerate)
	require.NoError(t, err)
	_, err = r.Apply(ctx, f.ID, billing.ActionConfirm)
	require.NoError(t, err)

	// Horizon not started: nothing moves
	changed, err := r.AdvanceDue(ctx, date(2024, time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, changed)

	// Horizon started: tracking begins
	changed, err = r.AdvanceDue(ctx, date(2025, time.February, 1))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, billing.ForecastInProgress, changed[0].State)

	// Horizon over: closed
	changed, err = r.AdvanceDue(ctx, date(2025, time.April, 1))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, billing.ForecastClosed, changed[0].State)
}
