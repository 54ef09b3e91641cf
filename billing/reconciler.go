/*
reconciler.go - Folds posted charges into forecasts

PURPOSE:
  ForecastReconciler is the single writer for forecast aggregates. It loads
  a forecast, applies a change (a posted charge, a workflow action) and
  saves it back while holding that forecast's lock, so two charges posted at
  the same moment can never overwrite each other's actual amounts.

SERIALIZATION:
  One mutex per forecast ID, created lazily. Within the lock the
  read-modify-write runs inside a store transaction when the store offers
  one. Work on different forecasts proceeds in parallel.

PERIOD ROLLOVER:
  AdvanceDue moves forecasts along as time passes: confirmed forecasts start
  tracking once their horizon begins, and in-progress forecasts close once
  their horizon has ended. The API scheduler calls it periodically.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ForecastAction names a workflow step on a forecast.
type ForecastAction string

const (
	ActionGenerate ForecastAction = "generate"
	ActionConfirm  ForecastAction = "confirm"
	ActionStart    ForecastAction = "start"
	ActionClose    ForecastAction = "close"
	ActionCancel   ForecastAction = "cancel"
	ActionReset    ForecastAction = "reset"
)

// ParseForecastAction converts a string into a ForecastAction.
func ParseForecastAction(s string) (ForecastAction, error) {
	a := ForecastAction(s)
	switch a {
	case ActionGenerate, ActionConfirm, ActionStart, ActionClose, ActionCancel, ActionReset:
		return a, nil
	}
	return "", fmt.Errorf("unknown forecast action %q", s)
}

type ForecastReconciler struct {
	Store Store

	// NewLineID names generated forecast lines.
	NewLineID func() ForecastLineID

	mu    sync.Mutex
	locks map[ForecastID]*sync.Mutex
}

func NewForecastReconciler(store Store) *ForecastReconciler {
	return &ForecastReconciler{
		Store:     store,
		NewLineID: func() ForecastLineID { return ForecastLineID(uuid.NewString()) },
		locks:     make(map[ForecastID]*sync.Mutex),
	}
}

func (r *ForecastReconciler) lockFor(id ForecastID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[ForecastID]*sync.Mutex)
	}
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Update loads forecast id, applies fn and saves the result, all under the
// forecast's lock. Nothing is saved when fn fails.
func (r *ForecastReconciler) Update(ctx context.Context, id ForecastID, fn func(*Forecast) error) (*Forecast, error) {
	return r.update(ctx, id, func(_ Store, f *Forecast) error { return fn(f) })
}

// update is Update with fn given the store of the running transaction.
func (r *ForecastReconciler) update(ctx context.Context, id ForecastID, fn func(Store, *Forecast) error) (*Forecast, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	var out *Forecast
	err := withTx(ctx, r.Store, func(s Store) error {
		f, err := s.GetForecast(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(s, f); err != nil {
			return err
		}
		f.Version++
		if err := s.SaveForecast(ctx, f); err != nil {
			return err
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply runs a workflow action on a forecast.
func (r *ForecastReconciler) Apply(ctx context.Context, id ForecastID, action ForecastAction) (*Forecast, error) {
	return r.update(ctx, id, func(s Store, f *Forecast) error {
		switch action {
		case ActionGenerate:
			if err := f.GenerateLines(r.NewLineID); err != nil {
				return err
			}
			return rebuildActuals(ctx, s, f)
		case ActionConfirm:
			return f.Confirm()
		case ActionStart:
			return f.StartTracking()
		case ActionClose:
			return f.Close()
		case ActionCancel:
			return f.Cancel()
		case ActionReset:
			return f.ResetToDraft()
		default:
			return fmt.Errorf("unknown forecast action %q", action)
		}
	})
}

// rebuildActuals sets every line's actual to the sum of the ledger charges
// it covers. Regenerated lines start at zero, and charges posted before the
// regeneration must not drop out of the forecast.
func rebuildActuals(ctx context.Context, s Store, f *Forecast) error {
	customers := make(map[CustomerID]bool)
	for _, line := range f.Lines {
		customers[line.CustomerID] = true
	}
	for customer := range customers {
		charges, err := s.LoadCharges(ctx, customer, f.DateFrom, f.DateTo)
		if err != nil {
			return fmt.Errorf("load charges for %s: %w", customer, err)
		}
		for _, c := range charges {
			for i := range f.Lines {
				if f.Lines[i].Matches(c.CustomerID, c.ServiceType, c.PostedAt) {
					RecordActual(&f.Lines[i], c.Amount)
					break
				}
			}
		}
	}
	return nil
}

// RecordCharge folds a posted charge into every forecast that is tracking a
// matching line. It returns the updated lines.
func (r *ForecastReconciler) RecordCharge(ctx context.Context, charge PostedCharge) ([]ForecastLine, error) {
	forecasts, err := r.Store.ListForecasts(ctx)
	if err != nil {
		return nil, err
	}

	var updated []ForecastLine
	for _, candidate := range forecasts {
		if !candidate.AcceptsActuals() || !candidate.Horizon().Contains(charge.PostedAt) {
			continue
		}
		var hit *ForecastLine
		_, err := r.Update(ctx, candidate.ID, func(f *Forecast) error {
			// State may have moved since the list was taken
			if !f.AcceptsActuals() {
				return errSkipForecast
			}
			line, ok, err := f.RecordCharge(charge.CustomerID, charge.ServiceType, charge.PostedAt, charge.Amount)
			if err != nil {
				return err
			}
			if !ok {
				return errSkipForecast
			}
			copied := *line
			hit = &copied
			return nil
		})
		if errors.Is(err, errSkipForecast) {
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("record charge %s on forecast %s: %w", charge.ID, candidate.ID, err)
		}
		updated = append(updated, *hit)
	}
	return updated, nil
}

// errSkipForecast aborts an Update without saving.
var errSkipForecast = errors.New("forecast does not track this charge")

// AdvanceDue starts confirmed forecasts whose horizon has begun and closes
// in-progress forecasts whose horizon has ended. It returns the forecasts it
// changed.
func (r *ForecastReconciler) AdvanceDue(ctx context.Context, today TimePoint) ([]*Forecast, error) {
	forecasts, err := r.Store.ListForecasts(ctx)
	if err != nil {
		return nil, err
	}

	var changed []*Forecast
	for _, f := range forecasts {
		var action ForecastAction
		switch {
		case f.State == ForecastConfirmed && f.DateFrom.BeforeOrEqual(today) && f.DateTo.AfterOrEqual(today):
			action = ActionStart
		case (f.State == ForecastInProgress || f.State == ForecastConfirmed) && f.DateTo.Before(today):
			action = ActionClose
		default:
			continue
		}
		out, err := r.Apply(ctx, f.ID, action)
		if err != nil {
			return changed, err
		}
		changed = append(changed, out)
	}
	return changed, nil
}
