/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes rate resolution, charge posting and forecast tracking via REST
  API. Handles HTTP request/response, JSON serialization, and delegates to
  the billing package.

ENDPOINTS:
  Rate lines:
    GET    /api/rate-lines                   List (filters: service_type, active_on)
    POST   /api/rate-lines                   Create rate line
    GET    /api/rate-lines/{id}              Get rate line
    PUT    /api/rate-lines/{id}              Replace rate line (409 once locked)
    POST   /api/rate-lines/{id}/supersede    Create the successor version

  Charges:
    POST   /api/quotes                       Resolve + calculate, no side effects
    POST   /api/charges                      Quote, post, fold into forecasts
    POST   /api/billing-runs                 Price and post a batch of items
    GET    /api/customers/{id}/charges       Charges posted in [from, to]

  Forecasts:
    GET    /api/forecasts                    List forecasts
    POST   /api/forecasts                    Create a draft forecast
    GET    /api/forecasts/{id}               Forecast with lines and summary
    POST   /api/forecasts/{id}/{action}      generate|confirm|start|close|cancel|reset
    GET    /api/forecasts/{id}/export        ?format=csv|pdf

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (transactional)
  - Factory: JSON to RateLine conversion
  - Engine, Ledger, Reconciler: The billing core

ERROR HANDLING:
  Errors are returned as JSON {"error","code","details"}:
  - 400: Malformed input, invalid quantity or fraction
  - 404: Rate line, charge or forecast not found
  - 409: Duplicate idempotency key, locked rate line, invalid forecast state
  - 422: Rate configuration problems (no rate, ambiguous rate, invalid line)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/factory"
	"github.com/warp/records-billing/internal/logging"
	"github.com/warp/records-billing/records"
	"github.com/warp/records-billing/report"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      billing.TxStore
	Factory    *factory.RateCardFactory
	Engine     *billing.Engine
	Ledger     billing.Ledger
	Reconciler *billing.ForecastReconciler

	Currency         string
	RoundingPlaces   int32
	StrictResolution bool

	Logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store billing.TxStore) *Handler {
	return &Handler{
		Store:          store,
		Factory:        factory.NewRateCardFactory(),
		Engine:         billing.NewEngine(),
		Ledger:         billing.NewLedger(store),
		Reconciler:     billing.NewForecastReconciler(store),
		Currency:       "USD",
		RoundingPlaces: 2,
		Logger:         logging.Logger,
	}
}

// SeedRateCard stores every line of card that is not already present.
// Existing lines are left alone so restarts never rewrite locked lines.
func (h *Handler) SeedRateCard(ctx context.Context, card *factory.RateCard) (int, error) {
	created := 0
	for _, line := range card.Lines {
		err := h.Store.CreateRateLine(ctx, line)
		if errors.Is(err, billing.ErrRateLineExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed rate line %s: %w", line.ID, err)
		}
		created++
	}
	return created, nil
}

// =============================================================================
// RATE LINE HANDLERS
// =============================================================================

// ListRateLines returns rate lines, optionally filtered.
func (h *Handler) ListRateLines(w http.ResponseWriter, r *http.Request) {
	var filter billing.RateLineFilter
	if s := r.URL.Query().Get("service_type"); s != "" {
		st, err := billing.ParseServiceType(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid service_type", err)
			return
		}
		filter.ServiceType = st
	}
	if s := r.URL.Query().Get("active_on"); s != "" {
		on, err := billing.ParseTimePoint(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active_on format (use YYYY-MM-DD)", err)
			return
		}
		filter.ActiveOn = &on
	}

	lines, err := h.Store.ListRateLines(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rate lines", err)
		return
	}

	dtos := make([]factory.RateLineJSON, 0, len(lines))
	for _, l := range lines {
		dto, err := h.rateLineDTO(r, l)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list rate lines", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRateLine returns a single rate line.
func (h *Handler) GetRateLine(w http.ResponseWriter, r *http.Request) {
	id := billing.RateLineID(chi.URLParam(r, "id"))

	line, err := h.Store.GetRateLine(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get rate line", err)
		return
	}
	dto, err := h.rateLineDTO(r, line)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get rate line", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateRateLine creates a rate line from its JSON definition.
func (h *Handler) CreateRateLine(w http.ResponseWriter, r *http.Request) {
	var req factory.RateLineJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := h.Factory.FromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid rate line", err)
		return
	}
	if err := h.Store.CreateRateLine(r.Context(), line); err != nil {
		writeDomainError(w, "Failed to create rate line", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(line))
}

// UpdateRateLine replaces a rate line. Lines referenced by a posted charge
// cannot change; supersede them instead.
func (h *Handler) UpdateRateLine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req factory.RateLineJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = id

	line, err := h.Factory.FromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid rate line", err)
		return
	}
	if err := h.Store.UpdateRateLine(r.Context(), line); err != nil {
		writeDomainError(w, "Failed to update rate line", err)
		return
	}

	writeJSON(w, http.StatusOK, h.Factory.ToJSON(line))
}

// SupersedeRateLine creates the next version of a rate line. The body is
// the successor; service and container scope are inherited.
func (h *Handler) SupersedeRateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.RateLineID(chi.URLParam(r, "id"))

	current, err := h.Store.GetRateLine(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get rate line", err)
		return
	}

	var req factory.RateLineJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("%s-v%d", current.ID, current.Version+1)
	}
	if req.BillingMethod == "" {
		req.BillingMethod = string(current.BillingMethod)
	}
	if req.Unit == "" {
		req.Unit = string(current.Unit)
	}
	req.ServiceType = string(current.ServiceType)
	req.ContainerType = string(current.ContainerType)

	next, err := h.Factory.FromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid rate line", err)
		return
	}
	next, err = current.Supersede(next)
	if err != nil {
		writeDomainError(w, "Cannot supersede rate line", err)
		return
	}
	if err := h.Store.CreateRateLine(ctx, next); err != nil {
		writeDomainError(w, "Failed to create rate line", err)
		return
	}

	h.logger().Info("rate line superseded",
		zap.String("rate_line", string(current.ID)),
		zap.String("successor", string(next.ID)),
		zap.Int("version", next.Version),
	)
	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(next))
}

func (h *Handler) rateLineDTO(r *http.Request, line billing.RateLine) (factory.RateLineJSON, error) {
	dto := h.Factory.ToJSON(line)
	locked, err := h.Store.IsRateLineLocked(r.Context(), line.ID)
	if err != nil {
		return dto, err
	}
	dto.Locked = locked
	return dto, nil
}

// =============================================================================
// QUOTE AND CHARGE HANDLERS
// =============================================================================

// Quote resolves the applicable rate line and computes the charge without
// posting anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rc, err := toRequestContext(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quote request", err)
		return
	}

	line, charge, err := h.quote(r, rc)
	if err != nil {
		writeDomainError(w, "Failed to quote", err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		RateLineID: string(line.ID),
		RateLine:   line.Name,
		Charge:     toResolvedChargeDTO(charge),
	})
}

// PostCharge quotes a service, posts the charge to the customer's ledger
// and folds it into any tracking forecast.
func (h *Handler) PostCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PostChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}

	rc, err := toRequestContext(req.QuoteRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid charge request", err)
		return
	}

	line, charge, err := h.quote(r, rc)
	if err != nil {
		writeDomainError(w, "Failed to quote", err)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	if key == "" {
		key = req.Reference
	}
	posted, err := h.Ledger.Post(ctx, billing.PostedCharge{
		CustomerID:     billing.CustomerID(req.CustomerID),
		ServiceType:    rc.ServiceType,
		ContainerType:  rc.ContainerType,
		RateLineID:     line.ID,
		Reference:      req.Reference,
		PostedAt:       rc.AsOf,
		Quantity:       rc.Quantity,
		Charge:         charge,
		Amount:         charge.FinalCharge.Round(h.RoundingPlaces),
		Currency:       h.Currency,
		IdempotencyKey: key,
		PricedWith:     &line,
	})
	if err != nil {
		writeDomainError(w, "Failed to post charge", err)
		return
	}

	resp := PostChargeResponse{Charge: toChargeDTO(posted), ForecastLines: []ForecastLineDTO{}}
	lines, err := h.Reconciler.RecordCharge(ctx, posted)
	if err != nil {
		// The charge stands; only the forecast is behind
		h.logger().Error("forecast update failed",
			zap.String("charge", string(posted.ID)),
			zap.Error(err),
		)
	} else {
		resp.ForecastLines = toForecastLineDTOs(lines)
	}

	writeJSON(w, http.StatusCreated, resp)
}

// RunBilling prices and posts a batch of billable items.
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	var req BillingRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]records.BillableItem, len(req.Items))
	for i, it := range req.Items {
		on, err := billing.ParseTimePoint(it.On)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date for item %d (use YYYY-MM-DD)", i), err)
			return
		}
		st, err := billing.ParseServiceType(it.ServiceType)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid service_type for item %d", i), err)
			return
		}
		items[i] = records.BillableItem{
			Reference:      it.Reference,
			CustomerID:     billing.CustomerID(it.CustomerID),
			ServiceType:    st,
			ContainerType:  billing.ContainerTypeID(it.ContainerType),
			Quantity:       it.Quantity,
			On:             on,
			PeriodFraction: it.PeriodFraction,
		}
	}

	run := &records.BillingRun{
		Store:            h.Store,
		Engine:           h.Engine,
		Ledger:           h.Ledger,
		Reconciler:       h.Reconciler,
		Currency:         h.Currency,
		RoundingPlaces:   h.RoundingPlaces,
		StrictResolution: h.StrictResolution,
		Logger:           h.logger(),
	}
	result, err := run.Execute(r.Context(), items)
	if err != nil {
		writeDomainError(w, "Billing run aborted", err)
		return
	}

	duplicates := result.Duplicates
	if duplicates == nil {
		duplicates = []string{}
	}
	writeJSON(w, http.StatusOK, BillingRunResponse{
		Posted:     toChargeDTOs(result.Posted),
		Duplicates: duplicates,
		Failures:   toItemFailureDTOs(result.Failures),
		Total:      result.Total,
	})
}

// GetCustomerCharges returns a customer's posted charges. from and to
// default to the current calendar month.
func (h *Handler) GetCustomerCharges(w http.ResponseWriter, r *http.Request) {
	customer := billing.CustomerID(chi.URLParam(r, "id"))

	period := billing.PeriodConfig{Type: billing.PeriodMonthly}.PeriodFor(billing.Today())
	if s := r.URL.Query().Get("from"); s != "" {
		from, err := billing.ParseTimePoint(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from format (use YYYY-MM-DD)", err)
			return
		}
		period.Start = from
	}
	if s := r.URL.Query().Get("to"); s != "" {
		to, err := billing.ParseTimePoint(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to format (use YYYY-MM-DD)", err)
			return
		}
		period.End = to
	}
	if err := period.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	charges, err := h.Ledger.Charges(r.Context(), customer, period.Start, period.End)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load charges", err)
		return
	}
	total, err := h.Ledger.Total(r.Context(), customer, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to total charges", err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerChargesResponse{
		CustomerID: string(customer),
		From:       period.Start.String(),
		To:         period.End.String(),
		Charges:    toChargeDTOs(charges),
		Total:      total,
	})
}

func (h *Handler) quote(r *http.Request, rc billing.RequestContext) (billing.RateLine, billing.ResolvedCharge, error) {
	candidates, err := h.Store.ListRateLines(r.Context(), billing.RateLineFilter{ServiceType: rc.ServiceType})
	if err != nil {
		return billing.RateLine{}, billing.ResolvedCharge{}, err
	}
	return h.Engine.Quote(rc, candidates)
}

func toRequestContext(req QuoteRequest) (billing.RequestContext, error) {
	st, err := billing.ParseServiceType(req.ServiceType)
	if err != nil {
		return billing.RequestContext{}, err
	}
	asOf := billing.Today()
	if req.AsOf != "" {
		asOf, err = billing.ParseTimePoint(req.AsOf)
		if err != nil {
			return billing.RequestContext{}, fmt.Errorf("invalid as_of (use YYYY-MM-DD): %w", err)
		}
	}
	return billing.RequestContext{
		ServiceType:    st,
		ContainerType:  billing.ContainerTypeID(req.ContainerType),
		AsOf:           asOf,
		Quantity:       req.Quantity,
		PeriodFraction: req.PeriodFraction,
	}, nil
}

// =============================================================================
// FORECAST HANDLERS
// =============================================================================

// ListForecasts returns all forecasts.
func (h *Handler) ListForecasts(w http.ResponseWriter, r *http.Request) {
	forecasts, err := h.Store.ListForecasts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list forecasts", err)
		return
	}

	dtos := make([]ForecastDTO, len(forecasts))
	for i, f := range forecasts {
		dtos[i] = toForecastDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateForecast creates a draft forecast. Lines are produced by the
// generate action.
func (h *Handler) CreateForecast(w http.ResponseWriter, r *http.Request) {
	var req CreateForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from, err := billing.ParseTimePoint(req.DateFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date_from format (use YYYY-MM-DD)", err)
		return
	}
	to, err := billing.ParseTimePoint(req.DateTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date_to format (use YYYY-MM-DD)", err)
		return
	}
	if req.FiscalYearStartMonth < 0 || req.FiscalYearStartMonth > 12 {
		writeError(w, http.StatusBadRequest, "fiscal_year_start_month must be between 1 and 12", nil)
		return
	}

	targets := make([]billing.ForecastTarget, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = billing.ForecastTarget{
			CustomerID:      billing.CustomerID(t.CustomerID),
			ServiceType:     billing.ServiceType(t.ServiceType),
			AmountPerPeriod: t.AmountPerPeriod,
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	cfg := billing.PeriodConfig{
		Type:                 billing.PeriodType(req.PeriodType),
		FiscalYearStartMonth: time.Month(req.FiscalYearStartMonth),
	}
	f, err := billing.NewForecast(billing.ForecastID(id), req.Name, from, to, cfg, targets)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid forecast", err)
		return
	}

	if _, err := h.Store.GetForecast(r.Context(), f.ID); err == nil {
		writeError(w, http.StatusConflict, "Forecast already exists", nil)
		return
	} else if !errors.Is(err, billing.ErrForecastNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to create forecast", err)
		return
	}
	if err := h.Store.SaveForecast(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create forecast", err)
		return
	}

	writeJSON(w, http.StatusCreated, toForecastDTO(f))
}

// GetForecast returns a forecast with its lines and summary.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	id := billing.ForecastID(chi.URLParam(r, "id"))

	f, err := h.Store.GetForecast(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastDTO(f))
}

// ApplyForecastAction runs one state machine action on a forecast.
func (h *Handler) ApplyForecastAction(w http.ResponseWriter, r *http.Request) {
	id := billing.ForecastID(chi.URLParam(r, "id"))

	action, err := billing.ParseForecastAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown forecast action", err)
		return
	}

	f, err := h.Reconciler.Apply(r.Context(), id, action)
	if err != nil {
		writeDomainError(w, fmt.Sprintf("Failed to %s forecast", action), err)
		return
	}

	h.logger().Info("forecast updated",
		zap.String("forecast", string(f.ID)),
		zap.String("action", string(action)),
		zap.String("state", string(f.State)),
	)
	writeJSON(w, http.StatusOK, toForecastDTO(f))
}

// ExportForecast streams the forecast as CSV or PDF.
func (h *Handler) ExportForecast(w http.ResponseWriter, r *http.Request) {
	id := billing.ForecastID(chi.URLParam(r, "id"))

	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid export format", err)
		return
	}

	f, err := h.Store.GetForecast(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get forecast", err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("forecast-%s.%s", f.ID, format)))
	if err := report.Write(w, format, f); err != nil {
		// Headers are gone by now; all we can do is log
		h.logger().Error("forecast export failed", zap.String("forecast", string(id)), zap.Error(err))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the billing error taxonomy.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	case billing.IsConfigurationError(err):
		return http.StatusUnprocessableEntity
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "rate_configuration"
	case http.StatusNotImplemented:
		return "not_supported"
	default:
		return "internal"
	}
}
