/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- The rate card is seeded
	- Forecasts are tracking with the right actuals
	- Posted charges lock the lines they used

These tests double as integration tests for the billing run.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/billing/store"
	"github.com/warp/records-billing/factory"
)

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	requireStatus(t, rec, http.StatusOK)
}

func TestScenario_StandardRateCard(t *testing.T) {
	_, router := newTestHandler(t)

	loadScenario(t, router, "standard-rate-card")

	rec := do(t, router, http.MethodGet, "/api/rate-lines", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decode[[]factory.RateLineJSON](t, rec), 8)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "standard-rate-card", decode[ScenarioDTO](t, rec).ID)
}

func TestScenario_MonthlyBilling(t *testing.T) {
	h, router := newTestHandler(t)

	loadScenario(t, router, "monthly-billing")

	// THEN: January actuals are 45.00 + 6.71 storage and 2 × 15.00 retrieval
	f, err := h.Store.GetForecast(context.Background(), "acme-q1-2025")
	require.NoError(t, err)
	assert.Equal(t, billing.ForecastInProgress, f.State)

	actuals := map[billing.ServiceType]string{}
	for _, l := range f.Lines {
		if l.Period.Start.Month() == time.January {
			actuals[l.ServiceType] = l.ActualAmount.StringFixed(2)
		}
	}
	assert.Equal(t, "51.71", actuals[billing.ServiceStorage])
	assert.Equal(t, "30.00", actuals[billing.ServiceRetrieval])
	assert.Equal(t, "81.71", f.Summary().TotalActual.StringFixed(2))

	rec := do(t, router, http.MethodGet, "/api/customers/acme/charges?from=2025-01-01&to=2025-01-31", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decode[CustomerChargesResponse](t, rec).Charges, 4)
}

func TestScenario_PriceIncrease(t *testing.T) {
	h, router := newTestHandler(t)

	loadScenario(t, router, "price-increase")

	ctx := context.Background()
	locked, err := h.Store.IsRateLineLocked(ctx, "storage-standard")
	require.NoError(t, err)
	assert.True(t, locked)

	next, err := h.Store.GetRateLine(ctx, "storage-standard-2025-07")
	require.NoError(t, err)
	assert.Equal(t, billing.RateLineID("storage-standard"), next.SupersedesID)
	assert.Equal(t, 2, next.Version)

	// August storage is priced on the new line
	rec := do(t, router, http.MethodPost, "/api/quotes", map[string]any{
		"service_type": "storage", "container_type": "type_01", "as_of": "2025-08-31", "quantity": 250,
	})
	requireStatus(t, rec, http.StatusOK)
	resp := decode[QuoteResponse](t, rec)
	assert.Equal(t, "storage-standard-2025-07", resp.RateLineID)
	assert.True(t, resp.Charge.FinalCharge.Equal(dec("125")))
}

func TestScenario_ReloadStartsClean(t *testing.T) {
	_, router := newTestHandler(t)

	loadScenario(t, router, "monthly-billing")
	loadScenario(t, router, "standard-rate-card")

	rec := do(t, router, http.MethodGet, "/api/forecasts", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Empty(t, decode[[]ForecastDTO](t, rec))
}

func TestScenario_Errors(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	requireStatus(t, rec, http.StatusBadRequest)

	// Stores without Reset cannot load scenarios
	mem := NewHandler(store.NewTxMemory())
	rec = do(t, NewRouter(mem), http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "standard-rate-card"})
	requireStatus(t, rec, http.StatusNotImplemented)
	assert.Equal(t, "not_supported", decode[ErrorResponse](t, rec).Code)
}
