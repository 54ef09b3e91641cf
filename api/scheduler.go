/*
scheduler.go - Automated forecast lifecycle scheduler

PURPOSE:
  Periodically moves forecasts along their lifecycle as calendar time
  passes: confirmed forecasts start tracking once their horizon begins,
  and tracking forecasts close once their horizon has ended.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates the transitions to ForecastReconciler.AdvanceDue, which
    serializes with charges being folded into the same forecast
  - Draft and cancelled forecasts are never touched

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewForecastScheduler(handler.Reconciler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ApplyForecastAction endpoint (manual transitions)
  - billing/reconciler.go: AdvanceDue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/internal/logging"
	"go.uber.org/zap"
)

// ForecastScheduler advances forecasts whose horizon started or ended.
type ForecastScheduler struct {
	Reconciler    *billing.ForecastReconciler
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	// Today returns the date the scheduler checks against.
	Today func() billing.TimePoint

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewForecastScheduler creates a new scheduler.
func NewForecastScheduler(reconciler *billing.ForecastReconciler) *ForecastScheduler {
	return &ForecastScheduler{
		Reconciler:    reconciler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logging.Logger.Named("scheduler"),
		Today:         billing.Today,
	}
}

// Start begins the scheduler.
func (fs *ForecastScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.Enabled {
		fs.Logger.Info("disabled, not starting")
		return
	}
	if fs.ticker != nil {
		return
	}

	fs.ticker = time.NewTicker(fs.CheckInterval)
	fs.stop = make(chan struct{})
	fs.wg.Add(1)

	go fs.run()

	fs.Logger.Info("started", zap.Duration("check_interval", fs.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (fs *ForecastScheduler) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.ticker != nil {
		fs.ticker.Stop()
		close(fs.stop)
		fs.wg.Wait()
		fs.ticker = nil
		fs.Logger.Info("stopped")
	}
}

func (fs *ForecastScheduler) run() {
	defer fs.wg.Done()

	// Run immediately on start
	fs.CheckAndAdvance(context.Background())

	for {
		select {
		case <-fs.ticker.C:
			fs.CheckAndAdvance(context.Background())
		case <-fs.stop:
			return
		}
	}
}

// CheckAndAdvance runs one pass and returns the forecasts it moved.
func (fs *ForecastScheduler) CheckAndAdvance(ctx context.Context) []*billing.Forecast {
	today := fs.Today()
	fs.Logger.Debug("checking forecasts", zap.Stringer("today", today))

	changed, err := fs.Reconciler.AdvanceDue(ctx, today)
	if err != nil {
		fs.Logger.Error("advancing forecasts failed", zap.Error(err))
	}

	for _, f := range changed {
		fs.Logger.Info("forecast advanced",
			zap.String("forecast", string(f.ID)),
			zap.String("state", string(f.State)),
		)
	}
	return changed
}
