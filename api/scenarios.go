/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	billing data for testing and demos. Each scenario seeds a rate card and
	optionally forecasts and posted charges that demonstrate specific
	features.

AVAILABLE SCENARIOS:

	standard-rate-card:  The default records centre rate card, nothing posted
	monthly-billing:     January storage and retrieval billed against a
	                     tracking Q1 forecast, one partial-month container batch
	price-increase:      A storage line locked by a posted charge, then
	                     superseded by a mid-year price rise

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the rate card via factory
 3. Create forecasts and walk them through generate/confirm/start
 4. Run a billing run over inventory and work orders

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "monthly-billing"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Billing handlers the scenarios feed
  - records/presets.go: Rate line JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/factory"
	"github.com/warp/records-billing/records"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-rate-card",
		Name:        "Standard Rate Card",
		Description: "Default storage, retrieval, destruction and pickup rates, nothing billed",
	},
	{
		ID:          "monthly-billing",
		Name:        "Monthly Billing",
		Description: "January storage and retrievals billed against a tracking Q1 forecast",
	},
	{
		ID:          "price-increase",
		Name:        "Mid-Year Price Increase",
		Description: "A storage rate locked by a posted charge, superseded from July",
	},
}

// scenarioCurrency and scenarioEffective date every scenario's rate card.
const (
	scenarioCurrency  = "USD"
	scenarioEffective = "2025-01-01"
)

// resetter is implemented by stores that can be wiped.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "standard-rate-card":
		load = h.loadStandardRateCardScenario
	case "monthly-billing":
		load = h.loadMonthlyBillingScenario
	case "price-increase":
		load = h.loadPriceIncreaseScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		if errors.Is(err, errResetUnsupported) {
			writeError(w, http.StatusNotImplemented, "Store cannot be reset", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.logger().Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		if errors.Is(err, errResetUnsupported) {
			writeError(w, http.StatusNotImplemented, "Store cannot be reset", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errResetUnsupported = errors.New("store does not support reset")

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return errResetUnsupported
	}
	return rs.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardRateCardScenario(ctx context.Context) error {
	card, err := h.Factory.ParseRateCard([]byte(records.DefaultRateCardJSON(scenarioCurrency, scenarioEffective)), factory.FormatJSON)
	if err != nil {
		return fmt.Errorf("parse default rate card: %w", err)
	}
	_, err = h.SeedRateCard(ctx, card)
	return err
}

// loadMonthlyBillingScenario bills Acme's January:
//   - 100 standard boxes stored all month:           45.00
//   - 20 legal boxes arriving on the 16th (16/31):     6.71
//   - 2 retrievals of 3 boxes (minimum charge 15):    30.00
//
// against a Q1 forecast of 60 storage and 40 retrieval per month.
func (h *Handler) loadMonthlyBillingScenario(ctx context.Context) error {
	if err := h.loadStandardRateCardScenario(ctx); err != nil {
		return err
	}

	q1, err := billing.NewForecast("acme-q1-2025", "Acme Q1 2025",
		billing.NewTimePoint(2025, time.January, 1), billing.NewTimePoint(2025, time.March, 31),
		billing.PeriodConfig{Type: billing.PeriodMonthly},
		[]billing.ForecastTarget{
			{CustomerID: "acme", ServiceType: billing.ServiceStorage, AmountPerPeriod: decimal.NewFromInt(60)},
			{CustomerID: "acme", ServiceType: billing.ServiceRetrieval, AmountPerPeriod: decimal.NewFromInt(40)},
		})
	if err != nil {
		return err
	}
	if err := h.Store.SaveForecast(ctx, q1); err != nil {
		return err
	}
	for _, action := range []billing.ForecastAction{billing.ActionGenerate, billing.ActionConfirm, billing.ActionStart} {
		if _, err := h.Reconciler.Apply(ctx, q1.ID, action); err != nil {
			return fmt.Errorf("%s forecast: %w", action, err)
		}
	}

	january := billing.Period{
		Start: billing.NewTimePoint(2025, time.January, 1),
		End:   billing.NewTimePoint(2025, time.January, 31),
	}
	items, err := records.StorageItems(january, []records.InventoryLine{
		{ID: "inv-100", CustomerID: "acme", ContainerType: records.ContainerStandard, Count: 100, StoredFrom: billing.NewTimePoint(2024, time.March, 1)},
		{ID: "inv-101", CustomerID: "acme", ContainerType: records.ContainerLegal, Count: 20, StoredFrom: billing.NewTimePoint(2025, time.January, 16)},
	})
	if err != nil {
		return err
	}
	items = append(items,
		records.BillableItem{Reference: "WO-1001", CustomerID: "acme", ServiceType: billing.ServiceRetrieval, Quantity: decimal.NewFromInt(3), On: billing.NewTimePoint(2025, time.January, 9)},
		records.BillableItem{Reference: "WO-1002", CustomerID: "acme", ServiceType: billing.ServiceRetrieval, Quantity: decimal.NewFromInt(3), On: billing.NewTimePoint(2025, time.January, 23)},
	)

	return h.runScenarioBilling(ctx, items)
}

// loadPriceIncreaseScenario posts January storage, which locks the
// standard storage line, then supersedes it with 0.50 from July.
func (h *Handler) loadPriceIncreaseScenario(ctx context.Context) error {
	if err := h.loadStandardRateCardScenario(ctx); err != nil {
		return err
	}

	err := h.runScenarioBilling(ctx, []records.BillableItem{{
		Reference:     "storage/globex/2025-01",
		CustomerID:    "globex",
		ServiceType:   billing.ServiceStorage,
		ContainerType: records.ContainerStandard,
		Quantity:      decimal.NewFromInt(250),
		On:            billing.NewTimePoint(2025, time.January, 31),
	}})
	if err != nil {
		return err
	}

	current, err := h.Store.GetRateLine(ctx, "storage-standard")
	if err != nil {
		return err
	}
	july := billing.NewTimePoint(2025, time.July, 1)
	next := current
	next.ID = "storage-standard-2025-07"
	next.UnitRate = decimal.RequireFromString("0.50")
	next.EffectiveDate = &july
	next, err = current.Supersede(next)
	if err != nil {
		return err
	}
	return h.Store.CreateRateLine(ctx, next)
}

func (h *Handler) runScenarioBilling(ctx context.Context, items []records.BillableItem) error {
	run := &records.BillingRun{
		Store:          h.Store,
		Engine:         h.Engine,
		Ledger:         h.Ledger,
		Reconciler:     h.Reconciler,
		Currency:       scenarioCurrency,
		RoundingPlaces: h.RoundingPlaces,
		Logger:         h.logger(),
	}
	result, err := run.Execute(ctx, items)
	if err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		f := result.Failures[0]
		return fmt.Errorf("scenario item %s failed at %s: %w", f.Item.Reference, f.Stage, f.Err)
	}
	return nil
}
