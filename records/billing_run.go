/*
billing_run.go - Periodic pricing and posting of billable work

PURPOSE:
  A BillingRun takes the work operations reported for a period (storage
  months, retrievals, destructions, pickups), prices every item with the
  engine, posts the charges to the ledger and folds them into the tracking
  forecasts.

FLOW PER ITEM:
  1. Resolve + calculate (billing.Engine.Quote) against the cached candidates
  2. Round FinalCharge to the currency places
  3. Post to the ledger, keyed by the item reference
  4. Record the actual on matching forecasts

CANDIDATE CACHE:
  Rate lines are loaded once per service type per run. If someone edits a
  line after it was loaded, posting the items priced from it fails with
  billing.ErrRateLineChanged and they are reported as post failures.

FAILURES:
  StrictResolution: the first missing or ambiguous rate aborts the run.
  Otherwise the item is logged, recorded in RunResult.Failures and skipped.
  Items already posted by a previous run are reported as duplicates.

SEE ALSO:
  - billing/calculator.go: Engine.Quote
  - billing/ledger.go: Posting and idempotency
  - billing/reconciler.go: Forecast actuals
*/
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/internal/logging"
	"go.uber.org/zap"
)

// Stage names where an item failed.
type Stage string

const (
	StageQuote    Stage = "quote"
	StagePost     Stage = "post"
	StageForecast Stage = "forecast"
)

// ItemFailure is an item the run could not fully process.
type ItemFailure struct {
	Item  BillableItem
	Stage Stage
	Err   error
}

// RunResult summarizes a billing run.
type RunResult struct {
	Posted     []billing.PostedCharge
	Duplicates []string
	Failures   []ItemFailure
	Total      decimal.Decimal
}

type BillingRun struct {
	Store      billing.Store
	Engine     *billing.Engine
	Ledger     billing.Ledger
	Reconciler *billing.ForecastReconciler // nil skips forecast tracking

	Currency         string
	RoundingPlaces   int32
	StrictResolution bool

	Logger *zap.Logger
}

// NewBillingRun wires a run over store with the default engine, ledger and
// reconciler.
func NewBillingRun(store billing.Store) *BillingRun {
	return &BillingRun{
		Store:          store,
		Engine:         billing.NewEngine(),
		Ledger:         billing.NewLedger(store),
		Reconciler:     billing.NewForecastReconciler(store),
		Currency:       "USD",
		RoundingPlaces: 2,
		Logger:         logging.Logger,
	}
}

// Execute prices and posts items in order.
func (r *BillingRun) Execute(ctx context.Context, items []BillableItem) (RunResult, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	result := RunResult{Total: decimal.Zero}
	candidates := make(map[billing.ServiceType][]billing.RateLine)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		itemLog := log.With(
			zap.String("reference", item.Reference),
			zap.String("customer", string(item.CustomerID)),
			zap.String("service", string(item.ServiceType)),
		)

		lines, ok := candidates[item.ServiceType]
		if !ok {
			var err error
			lines, err = r.Store.ListRateLines(ctx, billing.RateLineFilter{ServiceType: item.ServiceType})
			if err != nil {
				return result, fmt.Errorf("load rate lines for %s: %w", item.ServiceType, err)
			}
			candidates[item.ServiceType] = lines
		}

		line, charge, err := r.Engine.Quote(item.Request(), lines)
		if err != nil {
			if r.StrictResolution && billing.IsConfigurationError(err) {
				itemLog.Error("billing run aborted", zap.Error(err))
				return result, fmt.Errorf("item %s: %w", item.Reference, err)
			}
			itemLog.Warn("item skipped", zap.Error(err))
			result.Failures = append(result.Failures, ItemFailure{Item: item, Stage: StageQuote, Err: err})
			continue
		}

		posted, err := r.Ledger.Post(ctx, billing.PostedCharge{
			CustomerID:     item.CustomerID,
			ServiceType:    item.ServiceType,
			ContainerType:  item.ContainerType,
			RateLineID:     line.ID,
			Reference:      item.Reference,
			PostedAt:       item.On,
			Quantity:       item.Quantity,
			Charge:         charge,
			Amount:         charge.FinalCharge.Round(r.RoundingPlaces),
			Currency:       r.Currency,
			IdempotencyKey: item.Reference,
			PricedWith:     &line,
		})
		if errors.Is(err, billing.ErrDuplicateIdempotencyKey) {
			itemLog.Info("item already billed")
			result.Duplicates = append(result.Duplicates, item.Reference)
			continue
		}
		if err != nil {
			itemLog.Error("posting failed", zap.Error(err))
			result.Failures = append(result.Failures, ItemFailure{Item: item, Stage: StagePost, Err: err})
			continue
		}
		result.Posted = append(result.Posted, posted)
		result.Total = result.Total.Add(posted.Amount)

		itemLog.Debug("charge posted",
			zap.String("rate_line", string(line.ID)),
			zap.String("amount", posted.Amount.String()),
			zap.String("cap", string(charge.CapApplied)),
		)

		if r.Reconciler == nil {
			continue
		}
		if _, err := r.Reconciler.RecordCharge(ctx, posted); err != nil {
			// The charge stands; only the forecast is behind
			itemLog.Error("forecast update failed", zap.Error(err))
			result.Failures = append(result.Failures, ItemFailure{Item: item, Stage: StageForecast, Err: err})
		}
	}

	log.Info("billing run finished",
		zap.Int("items", len(items)),
		zap.Int("posted", len(result.Posted)),
		zap.Int("duplicates", len(result.Duplicates)),
		zap.Int("failures", len(result.Failures)),
		zap.String("total", result.Total.String()),
	)
	return result, nil
}
