package billing_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
)

func sequentialIDs() func() billing.ForecastLineID {
	n := 0
	return func() billing.ForecastLineID {
		n++
		return billing.ForecastLineID(fmt.Sprintf("line-%d", n))
	}
}

func q1Forecast(t *testing.T) *billing.Forecast {
	t.Helper()
	f, err := billing.NewForecast("fc-1", "Q1 2025", date(2025, time.January, 1), date(2025, time.March, 31),
		billing.PeriodConfig{Type: billing.PeriodMonthly},
		[]billing.ForecastTarget{
			{CustomerID: "acme", ServiceType: billing.ServiceStorage, AmountPerPeriod: d("1000")},
			{CustomerID: "acme", ServiceType: billing.ServiceRetrieval, AmountPerPeriod: d("200")},
		})
	require.NoError(t, err)
	return f
}

func TestRecordActual_UpdatesVarianceAndAchievement(t *testing.T) {
	line := billing.ForecastLine{ForecastedAmount: d("200")}

	billing.RecordActual(&line, d("50"))
	billing.RecordActual(&line, d("100"))

	assert.True(t, line.ActualAmount.Equal(d("150")))
	assert.True(t, line.VarianceAmount.Equal(d("-50")))
	assert.True(t, line.AchievementPercentage.Equal(d("75")))
}

func TestRecordActual_ZeroForecastHasZeroAchievement(t *testing.T) {
	line := billing.ForecastLine{}

	billing.RecordActual(&line, d("123.45"))

	assert.True(t, line.AchievementPercentage.IsZero())
	assert.True(t, line.VarianceAmount.Equal(d("123.45")))
}

func TestGenerateLines_OnePerTargetPerPeriod(t *testing.T) {
	f := q1Forecast(t)

	require.NoError(t, f.GenerateLines(sequentialIDs()))

	require.Len(t, f.Lines, 6)
	assert.Equal(t, date(2025, time.January, 1), f.Lines[0].Period.Start)
	assert.Equal(t, date(2025, time.January, 31), f.Lines[0].Period.End)
	assert.Equal(t, date(2025, time.March, 31), f.Lines[5].Period.End)
	for _, l := range f.Lines {
		assert.Equal(t, billing.ForecastDraft, l.State)
		assert.True(t, l.VarianceAmount.Equal(l.ForecastedAmount.Neg()))
	}
}

func TestGenerateLines_Idempotent(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.GenerateLines(sequentialIDs()))
	require.NoError(t, f.GenerateLines(sequentialIDs()))

	assert.Len(t, f.Lines, 6, "regenerating must replace lines, not append")
}

func TestForecast_HappyPath(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.GenerateLines(sequentialIDs()))

	require.NoError(t, f.Confirm())
	assert.Equal(t, billing.ForecastConfirmed, f.State)

	// Regeneration is still allowed once confirmed
	require.NoError(t, f.GenerateLines(sequentialIDs()))

	require.NoError(t, f.StartTracking())
	line, ok, err := f.RecordCharge("acme", billing.ServiceStorage, date(2025, time.February, 10), d("600"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, line.AchievementPercentage.Equal(d("60")))

	require.NoError(t, f.Close())
	for _, l := range f.Lines {
		assert.Equal(t, billing.ForecastClosed, l.State)
	}

	_, _, err = f.RecordCharge("acme", billing.ServiceStorage, date(2025, time.February, 11), d("1"))
	assert.ErrorIs(t, err, billing.ErrInvalidForecastState)
}

func TestForecast_ConfirmRequiresLines(t *testing.T) {
	f := q1Forecast(t)

	err := f.Confirm()

	assert.ErrorIs(t, err, billing.ErrInvalidForecastState)
	assert.Equal(t, billing.ForecastDraft, f.State)
}

func TestForecast_InvalidTransitions(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.GenerateLines(sequentialIDs()))

	assert.ErrorIs(t, f.StartTracking(), billing.ErrInvalidForecastState, "start needs confirmed")
	assert.ErrorIs(t, f.Close(), billing.ErrInvalidForecastState, "close needs confirmed or in progress")

	require.NoError(t, f.Confirm())
	require.NoError(t, f.StartTracking())
	assert.ErrorIs(t, f.GenerateLines(sequentialIDs()), billing.ErrInvalidForecastState, "no regeneration while tracking")

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Cancel(), billing.ErrInvalidForecastState, "closed cannot be cancelled")
	assert.ErrorIs(t, f.ResetToDraft(), billing.ErrInvalidForecastState, "closed cannot be reset")
}

func TestForecast_CloseFromConfirmed(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.GenerateLines(sequentialIDs()))
	require.NoError(t, f.Confirm())

	assert.NoError(t, f.Close())
}

func TestForecast_ResetToDraftClearsLineStates(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.GenerateLines(sequentialIDs()))
	require.NoError(t, f.Confirm())
	require.NoError(t, f.StartTracking())

	require.NoError(t, f.ResetToDraft())

	assert.Equal(t, billing.ForecastDraft, f.State)
	for _, l := range f.Lines {
		assert.Equal(t, billing.ForecastDraft, l.State)
	}
}

func TestForecast_CancelFromAnyOpenState(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.Cancel())
	assert.Equal(t, billing.ForecastCancelled, f.State)
	assert.ErrorIs(t, f.ResetToDraft(), billing.ErrInvalidForecastState)
	assert.ErrorIs(t, f.Cancel(), billing.ErrInvalidForecastState)
}

func TestForecast_Summary(t *testing.T) {
	f := q1Forecast(t)
	require.NoError(t, f.GenerateLines(sequentialIDs()))
	require.NoError(t, f.Confirm())

	_, ok, err := f.RecordCharge("acme", billing.ServiceRetrieval, date(2025, time.March, 3), d("360"))
	require.NoError(t, err)
	require.True(t, ok)

	s := f.Summary()
	assert.Equal(t, 6, s.LineCount)
	assert.True(t, s.TotalForecasted.Equal(d("3600")))
	assert.True(t, s.TotalActual.Equal(d("360")))
	assert.True(t, s.TotalVariance.Equal(d("-3240")))
	assert.True(t, s.AchievementPercentage.Equal(d("10")))
}

func TestNewForecast_RejectsInvertedRange(t *testing.T) {
	_, err := billing.NewForecast("fc", "bad", date(2025, time.March, 1), date(2025, time.February, 1),
		billing.PeriodConfig{Type: billing.PeriodMonthly}, nil)
	assert.ErrorIs(t, err, billing.ErrInvalidPeriod)
}
