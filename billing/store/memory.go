// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/records-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

// state holds the data. Its methods assume the caller holds the lock.
type state struct {
	rateLines   map[billing.RateLineID]billing.RateLine
	locked      map[billing.RateLineID]bool
	charges     map[billing.CustomerID][]billing.PostedCharge
	chargeByID  map[billing.ChargeID]billing.PostedCharge
	idempotency map[string]bool
	forecasts   map[billing.ForecastID]*billing.Forecast
}

func newState() state {
	return state{
		rateLines:   make(map[billing.RateLineID]billing.RateLine),
		locked:      make(map[billing.RateLineID]bool),
		charges:     make(map[billing.CustomerID][]billing.PostedCharge),
		chargeByID:  make(map[billing.ChargeID]billing.PostedCharge),
		idempotency: make(map[string]bool),
		forecasts:   make(map[billing.ForecastID]*billing.Forecast),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// =============================================================================
// RATE LINES
// =============================================================================

func (m *Memory) CreateRateLine(_ context.Context, line billing.RateLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRateLine(line)
}

func (m *Memory) UpdateRateLine(_ context.Context, line billing.RateLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRateLine(line)
}

func (m *Memory) GetRateLine(_ context.Context, id billing.RateLineID) (billing.RateLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRateLine(id)
}

func (m *Memory) ListRateLines(_ context.Context, filter billing.RateLineFilter) ([]billing.RateLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRateLines(filter), nil
}

func (m *Memory) LockRateLine(_ context.Context, id billing.RateLineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockRateLine(id)
}

func (m *Memory) IsRateLineLocked(_ context.Context, id billing.RateLineID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isLocked(id)
}

func (s *state) createRateLine(line billing.RateLine) error {
	if _, ok := s.rateLines[line.ID]; ok {
		return billing.ErrRateLineExists
	}
	s.rateLines[line.ID] = line
	return nil
}

func (s *state) updateRateLine(line billing.RateLine) error {
	if _, ok := s.rateLines[line.ID]; !ok {
		return billing.ErrRateLineNotFound
	}
	if s.locked[line.ID] {
		return billing.ErrRateLineLocked
	}
	s.rateLines[line.ID] = line
	return nil
}

func (s *state) getRateLine(id billing.RateLineID) (billing.RateLine, error) {
	line, ok := s.rateLines[id]
	if !ok {
		return billing.RateLine{}, billing.ErrRateLineNotFound
	}
	return line, nil
}

func (s *state) listRateLines(filter billing.RateLineFilter) []billing.RateLine {
	var result []billing.RateLine
	for _, line := range s.rateLines {
		if filter.Match(line) {
			result = append(result, line)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *state) lockRateLine(id billing.RateLineID) error {
	if _, ok := s.rateLines[id]; !ok {
		return billing.ErrRateLineNotFound
	}
	s.locked[id] = true
	return nil
}

func (s *state) isLocked(id billing.RateLineID) (bool, error) {
	if _, ok := s.rateLines[id]; !ok {
		return false, billing.ErrRateLineNotFound
	}
	return s.locked[id], nil
}

// =============================================================================
// CHARGES - Append-only
// =============================================================================

func (m *Memory) AppendCharge(_ context.Context, charge billing.PostedCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCharge(charge)
}

func (m *Memory) GetCharge(_ context.Context, id billing.ChargeID) (billing.PostedCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCharge(id)
}

func (m *Memory) LoadCharges(_ context.Context, customer billing.CustomerID, from, to billing.TimePoint) ([]billing.PostedCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadCharges(customer, from, to), nil
}

func (m *Memory) ChargeExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (s *state) appendCharge(charge billing.PostedCharge) error {
	if charge.IdempotencyKey != "" && s.idempotency[charge.IdempotencyKey] {
		return billing.ErrDuplicateIdempotencyKey
	}
	txs := s.charges[charge.CustomerID]

	// Keep each customer's charges ordered by posting date
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].PostedAt.After(charge.PostedAt)
	})
	txs = append(txs, billing.PostedCharge{})
	copy(txs[i+1:], txs[i:])
	txs[i] = charge
	s.charges[charge.CustomerID] = txs
	s.chargeByID[charge.ID] = charge

	if charge.IdempotencyKey != "" {
		s.idempotency[charge.IdempotencyKey] = true
	}
	return nil
}

func (s *state) getCharge(id billing.ChargeID) (billing.PostedCharge, error) {
	c, ok := s.chargeByID[id]
	if !ok {
		return billing.PostedCharge{}, billing.ErrChargeNotFound
	}
	return c, nil
}

func (s *state) loadCharges(customer billing.CustomerID, from, to billing.TimePoint) []billing.PostedCharge {
	var result []billing.PostedCharge
	for _, c := range s.charges[customer] {
		if from.BeforeOrEqual(c.PostedAt) && c.PostedAt.BeforeOrEqual(to) {
			result = append(result, c)
		}
	}
	return result
}

// =============================================================================
// FORECASTS
// =============================================================================

func (m *Memory) SaveForecast(_ context.Context, f *billing.Forecast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveForecast(f)
	return nil
}

func (m *Memory) GetForecast(_ context.Context, id billing.ForecastID) (*billing.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getForecast(id)
}

func (m *Memory) ListForecasts(_ context.Context) ([]*billing.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listForecasts(), nil
}

func (s *state) saveForecast(f *billing.Forecast) {
	s.forecasts[f.ID] = f.Clone()
}

func (s *state) getForecast(id billing.ForecastID) (*billing.Forecast, error) {
	f, ok := s.forecasts[id]
	if !ok {
		return nil, billing.ErrForecastNotFound
	}
	return f.Clone(), nil
}

func (s *state) listForecasts() []*billing.Forecast {
	result := make([]*billing.Forecast, 0, len(s.forecasts))
	for _, f := range s.forecasts {
		result = append(result, f.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{s: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() state {
	c := newState()
	for k, v := range tm.rateLines {
		c.rateLines[k] = v
	}
	for k, v := range tm.locked {
		c.locked[k] = v
	}
	for k, v := range tm.charges {
		c.charges[k] = append([]billing.PostedCharge(nil), v...)
	}
	for k, v := range tm.chargeByID {
		c.chargeByID[k] = v
	}
	for k, v := range tm.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range tm.forecasts {
		c.forecasts[k] = v.Clone()
	}
	return c
}

// txMemoryView runs against the state while TxMemory holds the lock.
type txMemoryView struct {
	s *state
}

func (tv *txMemoryView) CreateRateLine(_ context.Context, line billing.RateLine) error {
	return tv.s.createRateLine(line)
}

func (tv *txMemoryView) UpdateRateLine(_ context.Context, line billing.RateLine) error {
	return tv.s.updateRateLine(line)
}

func (tv *txMemoryView) GetRateLine(_ context.Context, id billing.RateLineID) (billing.RateLine, error) {
	return tv.s.getRateLine(id)
}

func (tv *txMemoryView) ListRateLines(_ context.Context, filter billing.RateLineFilter) ([]billing.RateLine, error) {
	return tv.s.listRateLines(filter), nil
}

func (tv *txMemoryView) LockRateLine(_ context.Context, id billing.RateLineID) error {
	return tv.s.lockRateLine(id)
}

func (tv *txMemoryView) IsRateLineLocked(_ context.Context, id billing.RateLineID) (bool, error) {
	return tv.s.isLocked(id)
}

func (tv *txMemoryView) AppendCharge(_ context.Context, charge billing.PostedCharge) error {
	return tv.s.appendCharge(charge)
}

func (tv *txMemoryView) GetCharge(_ context.Context, id billing.ChargeID) (billing.PostedCharge, error) {
	return tv.s.getCharge(id)
}

func (tv *txMemoryView) LoadCharges(_ context.Context, customer billing.CustomerID, from, to billing.TimePoint) ([]billing.PostedCharge, error) {
	return tv.s.loadCharges(customer, from, to), nil
}

func (tv *txMemoryView) ChargeExists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.s.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) SaveForecast(_ context.Context, f *billing.Forecast) error {
	tv.s.saveForecast(f)
	return nil
}

func (tv *txMemoryView) GetForecast(_ context.Context, id billing.ForecastID) (*billing.Forecast, error) {
	return tv.s.getForecast(id)
}

func (tv *txMemoryView) ListForecasts(_ context.Context) ([]*billing.Forecast, error) {
	return tv.s.listForecasts(), nil
}
