/*
Package sqlite provides a SQLite-backed implementation of the billing stores.

PURPOSE:
  Implements billing.Store and billing.TxStore using SQLite. The same schema
  carries over to PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  The charges table is append-only:
  - No UPDATE statements on charges
  - No DELETE statements on charges
  - Corrections are credit charges that reference the original

KEY TABLES:
  rate_lines:     Rate card configuration, with a locked flag
  charges:        Immutable ledger of posted charges
  forecasts:      Forecast header, targets and workflow state
  forecast_lines: One row per (customer, service type, period)

INDEXES:
  - idx_rate_lines_service: Resolver candidate loading (hot path)
  - idx_charges_customer_date: Ledger range queries
  - charges.idempotency_key UNIQUE: No double posting

CONCURRENCY:
  Uses sync.RWMutex so the database sees a single writer. Every query runs
  through a querier, which is either the *sql.DB or the open *sql.Tx, so
  work inside WithTx never re-enters the lock.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := billing.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rate lines (editable until locked)
	CREATE TABLE IF NOT EXISTS rate_lines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		service_type TEXT NOT NULL,
		billing_method TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		container_type TEXT NOT NULL DEFAULT '',
		unit_rate TEXT NOT NULL,
		discount_percent TEXT NOT NULL,
		markup_percent TEXT NOT NULL,
		minimum_charge TEXT NOT NULL,
		maximum_charge TEXT NOT NULL,
		minimum_quantity TEXT NOT NULL,
		quantity_increment TEXT NOT NULL,
		effective_date TEXT,
		expiry_date TEXT,
		proration_allowed BOOLEAN DEFAULT FALSE,
		version INTEGER DEFAULT 1,
		supersedes_id TEXT,
		locked BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_lines_service
		ON rate_lines(service_type, container_type);

	-- Charges (append-only ledger)
	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		container_type TEXT NOT NULL DEFAULT '',
		rate_line_id TEXT,
		reference TEXT,
		posted_at TEXT NOT NULL,
		quantity TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		charge_json TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_customer_date
		ON charges(customer_id, posted_at);
	CREATE INDEX IF NOT EXISTS idx_charges_rate_line
		ON charges(rate_line_id) WHERE rate_line_id IS NOT NULL;

	-- Forecasts
	CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		date_from TEXT NOT NULL,
		date_to TEXT NOT NULL,
		period_type TEXT NOT NULL,
		fiscal_year_start_month INTEGER DEFAULT 0,
		targets_json TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS forecast_lines (
		id TEXT NOT NULL,
		forecast_id TEXT NOT NULL REFERENCES forecasts(id) ON DELETE CASCADE,
		customer_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		forecasted_amount TEXT NOT NULL,
		actual_amount TEXT NOT NULL,
		variance_amount TEXT NOT NULL,
		achievement_percentage TEXT NOT NULL,
		state TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (forecast_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_lines_forecast
		ON forecast_lines(forecast_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RATE LINES (billing.RateLineStore interface)
// =============================================================================

func (s *Store) CreateRateLine(ctx context.Context, line billing.RateLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRateLine(ctx, s.db, line)
}

func (s *Store) UpdateRateLine(ctx context.Context, line billing.RateLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRateLine(ctx, s.db, line)
}

func (s *Store) GetRateLine(ctx context.Context, id billing.RateLineID) (billing.RateLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRateLine(ctx, s.db, id)
}

func (s *Store) ListRateLines(ctx context.Context, filter billing.RateLineFilter) ([]billing.RateLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRateLines(ctx, s.db, filter)
}

func (s *Store) LockRateLine(ctx context.Context, id billing.RateLineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockRateLine(ctx, s.db, id)
}

func (s *Store) IsRateLineLocked(ctx context.Context, id billing.RateLineID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isRateLineLocked(ctx, s.db, id)
}

const rateLineColumns = `id, name, service_type, billing_method, unit, container_type,
	unit_rate, discount_percent, markup_percent, minimum_charge, maximum_charge,
	minimum_quantity, quantity_increment, effective_date, expiry_date,
	proration_allowed, version, supersedes_id`

func rateLineArgs(line billing.RateLine) []any {
	return []any{
		line.ID, line.Name, line.ServiceType, line.BillingMethod, line.Unit, line.ContainerType,
		line.UnitRate.String(), line.DiscountPercent.String(), line.MarkupPercent.String(),
		line.MinimumCharge.String(), line.MaximumCharge.String(),
		line.MinimumQuantity.String(), line.QuantityIncrement.String(),
		nullDate(line.EffectiveDate), nullDate(line.ExpiryDate),
		line.ProrationAllowed, line.Version, nullString(string(line.SupersedesID)),
	}
}

func createRateLine(ctx context.Context, q querier, line billing.RateLine) error {
	now := time.Now().UTC().Format(time.RFC3339)
	args := append(rateLineArgs(line), now, now)

	_, err := q.ExecContext(ctx, `
		INSERT INTO rate_lines (`+rateLineColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrRateLineExists
		}
		return fmt.Errorf("failed to create rate line: %w", err)
	}
	return nil
}

func updateRateLine(ctx context.Context, q querier, line billing.RateLine) error {
	locked, err := isRateLineLocked(ctx, q, line.ID)
	if err != nil {
		return err
	}
	if locked {
		return billing.ErrRateLineLocked
	}

	args := rateLineArgs(line)[1:]
	args = append(args, time.Now().UTC().Format(time.RFC3339), line.ID)
	_, err = q.ExecContext(ctx, `
		UPDATE rate_lines SET
			name = ?, service_type = ?, billing_method = ?, unit = ?, container_type = ?,
			unit_rate = ?, discount_percent = ?, markup_percent = ?,
			minimum_charge = ?, maximum_charge = ?, minimum_quantity = ?, quantity_increment = ?,
			effective_date = ?, expiry_date = ?, proration_allowed = ?, version = ?, supersedes_id = ?,
			updated_at = ?
		WHERE id = ? AND locked = FALSE
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update rate line: %w", err)
	}
	return nil
}

func getRateLine(ctx context.Context, q querier, id billing.RateLineID) (billing.RateLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+rateLineColumns+` FROM rate_lines WHERE id = ?`, id)
	if err != nil {
		return billing.RateLine{}, fmt.Errorf("failed to query rate line: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return billing.RateLine{}, err
		}
		return billing.RateLine{}, billing.ErrRateLineNotFound
	}
	return scanRateLine(rows)
}

func listRateLines(ctx context.Context, q querier, filter billing.RateLineFilter) ([]billing.RateLine, error) {
	query := `SELECT ` + rateLineColumns + ` FROM rate_lines`
	var args []any
	if filter.ServiceType != "" {
		query += ` WHERE service_type = ?`
		args = append(args, filter.ServiceType)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate lines: %w", err)
	}
	defer rows.Close()

	var lines []billing.RateLine
	for rows.Next() {
		line, err := scanRateLine(rows)
		if err != nil {
			return nil, err
		}
		// Date windows are matched by RateLine.IsActiveOn
		if filter.Match(line) {
			lines = append(lines, line)
		}
	}
	return lines, rows.Err()
}

func lockRateLine(ctx context.Context, q querier, id billing.RateLineID) error {
	res, err := q.ExecContext(ctx, `UPDATE rate_lines SET locked = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to lock rate line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrRateLineNotFound
	}
	return nil
}

func isRateLineLocked(ctx context.Context, q querier, id billing.RateLineID) (bool, error) {
	var locked bool
	err := q.QueryRowContext(ctx, `SELECT locked FROM rate_lines WHERE id = ?`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, billing.ErrRateLineNotFound
	}
	return locked, err
}

func scanRateLine(rows *sql.Rows) (billing.RateLine, error) {
	var (
		line                          billing.RateLine
		unitRate, discount, markup    string
		minCharge, maxCharge          string
		minQty, increment             string
		effective, expiry, supersedes sql.NullString
	)

	err := rows.Scan(
		&line.ID, &line.Name, &line.ServiceType, &line.BillingMethod, &line.Unit, &line.ContainerType,
		&unitRate, &discount, &markup, &minCharge, &maxCharge,
		&minQty, &increment, &effective, &expiry,
		&line.ProrationAllowed, &line.Version, &supersedes,
	)
	if err != nil {
		return line, fmt.Errorf("failed to scan rate line: %w", err)
	}

	var dec rowDecoder
	line.UnitRate = dec.decimal("unit_rate", unitRate)
	line.DiscountPercent = dec.decimal("discount_percent", discount)
	line.MarkupPercent = dec.decimal("markup_percent", markup)
	line.MinimumCharge = dec.decimal("minimum_charge", minCharge)
	line.MaximumCharge = dec.decimal("maximum_charge", maxCharge)
	line.MinimumQuantity = dec.decimal("minimum_quantity", minQty)
	line.QuantityIncrement = dec.decimal("quantity_increment", increment)
	line.EffectiveDate = dec.nullDate("effective_date", effective)
	line.ExpiryDate = dec.nullDate("expiry_date", expiry)
	line.SupersedesID = billing.RateLineID(supersedes.String)
	if dec.err != nil {
		return line, fmt.Errorf("rate line %s: %w", line.ID, dec.err)
	}
	return line, nil
}

// =============================================================================
// CHARGES (billing.ChargeStore interface) - Append-only
// =============================================================================

func (s *Store) AppendCharge(ctx context.Context, charge billing.PostedCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendCharge(ctx, s.db, charge)
}

func (s *Store) GetCharge(ctx context.Context, id billing.ChargeID) (billing.PostedCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	charges, err := queryCharges(ctx, s.db, `WHERE id = ?`, id)
	if err != nil {
		return billing.PostedCharge{}, err
	}
	if len(charges) == 0 {
		return billing.PostedCharge{}, billing.ErrChargeNotFound
	}
	return charges[0], nil
}

func (s *Store) LoadCharges(ctx context.Context, customer billing.CustomerID, from, to billing.TimePoint) ([]billing.PostedCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadCharges(ctx, s.db, customer, from, to)
}

func (s *Store) ChargeExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chargeExists(ctx, s.db, idempotencyKey)
}

func appendCharge(ctx context.Context, q querier, c billing.PostedCharge) error {
	chargeJSON, err := json.Marshal(c.Charge)
	if err != nil {
		return fmt.Errorf("failed to encode charge: %w", err)
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO charges
		(id, customer_id, service_type, container_type, rate_line_id, reference, posted_at,
		 quantity, amount, currency, charge_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.CustomerID, c.ServiceType, c.ContainerType,
		nullString(string(c.RateLineID)), nullString(c.Reference),
		c.PostedAt.String(), c.Quantity.String(), c.Amount.String(), c.Currency,
		string(chargeJSON), nullString(c.IdempotencyKey),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append charge: %w", err)
	}
	return nil
}

func loadCharges(ctx context.Context, q querier, customer billing.CustomerID, from, to billing.TimePoint) ([]billing.PostedCharge, error) {
	return queryCharges(ctx, q, `
		WHERE customer_id = ? AND posted_at >= ? AND posted_at <= ?
		ORDER BY posted_at ASC, created_at ASC`,
		customer, from.String(), to.String())
}

func chargeExists(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM charges WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryCharges(ctx context.Context, q querier, where string, args ...any) ([]billing.PostedCharge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, service_type, container_type, rate_line_id, reference, posted_at,
		       quantity, amount, currency, charge_json, idempotency_key, created_at
		FROM charges `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []billing.PostedCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func scanCharge(rows *sql.Rows) (billing.PostedCharge, error) {
	var (
		c                                  billing.PostedCharge
		rateLineID, reference, idempotency sql.NullString
		postedAt, quantity, amount         string
		chargeJSON, createdAt              string
	)

	err := rows.Scan(
		&c.ID, &c.CustomerID, &c.ServiceType, &c.ContainerType, &rateLineID, &reference, &postedAt,
		&quantity, &amount, &c.Currency, &chargeJSON, &idempotency, &createdAt,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan charge: %w", err)
	}

	c.RateLineID = billing.RateLineID(rateLineID.String)
	c.Reference = reference.String
	c.IdempotencyKey = idempotency.String
	var dec rowDecoder
	c.PostedAt = dec.date("posted_at", postedAt)
	c.Quantity = dec.decimal("quantity", quantity)
	c.Amount = dec.decimal("amount", amount)
	c.CreatedAt = dec.timestamp("created_at", createdAt)
	if dec.err != nil {
		return c, fmt.Errorf("charge %s: %w", c.ID, dec.err)
	}
	if err := json.Unmarshal([]byte(chargeJSON), &c.Charge); err != nil {
		return c, fmt.Errorf("failed to decode charge %s: %w", c.ID, err)
	}
	return c, nil
}

// =============================================================================
// FORECASTS (billing.ForecastStore interface)
// =============================================================================

func (s *Store) SaveForecast(ctx context.Context, f *billing.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := saveForecast(ctx, sqlTx, f); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetForecast(ctx context.Context, id billing.ForecastID) (*billing.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getForecast(ctx, s.db, id)
}

func (s *Store) ListForecasts(ctx context.Context) ([]*billing.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listForecasts(ctx, s.db)
}

// saveForecast upserts the header and rewrites the lines. Callers provide
// the surrounding transaction.
func saveForecast(ctx context.Context, q querier, f *billing.Forecast) error {
	targetsJSON, err := json.Marshal(f.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode forecast targets: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO forecasts
		(id, name, date_from, date_to, period_type, fiscal_year_start_month, targets_json, state, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			date_from = excluded.date_from,
			date_to = excluded.date_to,
			period_type = excluded.period_type,
			fiscal_year_start_month = excluded.fiscal_year_start_month,
			targets_json = excluded.targets_json,
			state = excluded.state,
			version = excluded.version,
			updated_at = excluded.updated_at
	`,
		f.ID, f.Name, f.DateFrom.String(), f.DateTo.String(),
		f.PeriodConfig.Type, int(f.PeriodConfig.FiscalYearStartMonth),
		string(targetsJSON), f.State, f.Version,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save forecast: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM forecast_lines WHERE forecast_id = ?`, f.ID); err != nil {
		return fmt.Errorf("failed to clear forecast lines: %w", err)
	}
	for i, l := range f.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO forecast_lines
			(id, forecast_id, customer_id, service_type, period_start, period_end,
			 forecasted_amount, actual_amount, variance_amount, achievement_percentage, state, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			l.ID, f.ID, l.CustomerID, l.ServiceType, l.Period.Start.String(), l.Period.End.String(),
			l.ForecastedAmount.String(), l.ActualAmount.String(), l.VarianceAmount.String(),
			l.AchievementPercentage.String(), l.State, i,
		)
		if err != nil {
			return fmt.Errorf("failed to save forecast line %s: %w", l.ID, err)
		}
	}
	return nil
}

const forecastColumns = `id, name, date_from, date_to, period_type, fiscal_year_start_month, targets_json, state, version`

func getForecast(ctx context.Context, q querier, id billing.ForecastID) (*billing.Forecast, error) {
	forecasts, err := queryForecasts(ctx, q, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(forecasts) == 0 {
		return nil, billing.ErrForecastNotFound
	}
	return forecasts[0], nil
}

func listForecasts(ctx context.Context, q querier) ([]*billing.Forecast, error) {
	return queryForecasts(ctx, q, `ORDER BY id`)
}

func queryForecasts(ctx context.Context, q querier, where string, args ...any) ([]*billing.Forecast, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+forecastColumns+` FROM forecasts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}

	var forecasts []*billing.Forecast
	for rows.Next() {
		var (
			f                billing.Forecast
			dateFrom, dateTo string
			fiscalStart      int
			targetsJSON      string
		)
		if err := rows.Scan(&f.ID, &f.Name, &dateFrom, &dateTo, &f.PeriodConfig.Type,
			&fiscalStart, &targetsJSON, &f.State, &f.Version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}
		var dec rowDecoder
		f.DateFrom = dec.date("date_from", dateFrom)
		f.DateTo = dec.date("date_to", dateTo)
		if dec.err != nil {
			rows.Close()
			return nil, fmt.Errorf("forecast %s: %w", f.ID, dec.err)
		}
		f.PeriodConfig.FiscalYearStartMonth = time.Month(fiscalStart)
		if err := json.Unmarshal([]byte(targetsJSON), &f.Targets); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode targets of forecast %s: %w", f.ID, err)
		}
		forecasts = append(forecasts, &f)
	}
	// Close before issuing the line queries: the pool has one connection
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, f := range forecasts {
		lines, err := loadForecastLines(ctx, q, f.ID)
		if err != nil {
			return nil, err
		}
		f.Lines = lines
	}
	return forecasts, nil
}

func loadForecastLines(ctx context.Context, q querier, id billing.ForecastID) ([]billing.ForecastLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, service_type, period_start, period_end,
		       forecasted_amount, actual_amount, variance_amount, achievement_percentage, state
		FROM forecast_lines
		WHERE forecast_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast lines: %w", err)
	}
	defer rows.Close()

	var lines []billing.ForecastLine
	for rows.Next() {
		var (
			l                                         billing.ForecastLine
			start, end                                string
			forecasted, actual, variance, achievement string
		)
		if err := rows.Scan(&l.ID, &l.CustomerID, &l.ServiceType, &start, &end,
			&forecasted, &actual, &variance, &achievement, &l.State); err != nil {
			return nil, fmt.Errorf("failed to scan forecast line: %w", err)
		}
		var dec rowDecoder
		l.Period.Start = dec.date("period_start", start)
		l.Period.End = dec.date("period_end", end)
		l.ForecastedAmount = dec.decimal("forecasted_amount", forecasted)
		l.ActualAmount = dec.decimal("actual_amount", actual)
		l.VarianceAmount = dec.decimal("variance_amount", variance)
		l.AchievementPercentage = dec.decimal("achievement_percentage", achievement)
		if dec.err != nil {
			return nil, fmt.Errorf("forecast line %s: %w", l.ID, dec.err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. The parent lock is
// already held by WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateRateLine(ctx context.Context, line billing.RateLine) error {
	return createRateLine(ctx, ts.tx, line)
}

func (ts *txStore) UpdateRateLine(ctx context.Context, line billing.RateLine) error {
	return updateRateLine(ctx, ts.tx, line)
}

func (ts *txStore) GetRateLine(ctx context.Context, id billing.RateLineID) (billing.RateLine, error) {
	return getRateLine(ctx, ts.tx, id)
}

func (ts *txStore) ListRateLines(ctx context.Context, filter billing.RateLineFilter) ([]billing.RateLine, error) {
	return listRateLines(ctx, ts.tx, filter)
}

func (ts *txStore) LockRateLine(ctx context.Context, id billing.RateLineID) error {
	return lockRateLine(ctx, ts.tx, id)
}

func (ts *txStore) IsRateLineLocked(ctx context.Context, id billing.RateLineID) (bool, error) {
	return isRateLineLocked(ctx, ts.tx, id)
}

func (ts *txStore) AppendCharge(ctx context.Context, charge billing.PostedCharge) error {
	return appendCharge(ctx, ts.tx, charge)
}

func (ts *txStore) GetCharge(ctx context.Context, id billing.ChargeID) (billing.PostedCharge, error) {
	charges, err := queryCharges(ctx, ts.tx, `WHERE id = ?`, id)
	if err != nil {
		return billing.PostedCharge{}, err
	}
	if len(charges) == 0 {
		return billing.PostedCharge{}, billing.ErrChargeNotFound
	}
	return charges[0], nil
}

func (ts *txStore) LoadCharges(ctx context.Context, customer billing.CustomerID, from, to billing.TimePoint) ([]billing.PostedCharge, error) {
	return loadCharges(ctx, ts.tx, customer, from, to)
}

func (ts *txStore) ChargeExists(ctx context.Context, idempotencyKey string) (bool, error) {
	return chargeExists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) SaveForecast(ctx context.Context, f *billing.Forecast) error {
	return saveForecast(ctx, ts.tx, f)
}

func (ts *txStore) GetForecast(ctx context.Context, id billing.ForecastID) (*billing.Forecast, error) {
	return getForecast(ctx, ts.tx, id)
}

func (ts *txStore) ListForecasts(ctx context.Context) ([]*billing.Forecast, error) {
	return listForecasts(ctx, ts.tx)
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears every table. Used by tests and demo reseeding.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"forecast_lines", "forecasts", "charges", "rate_lines"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *billing.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

// rowDecoder parses the text columns of one row and keeps the first failure,
// so a corrupt value surfaces as an error instead of a zero.
type rowDecoder struct {
	err error
}

func (d *rowDecoder) fail(column, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("corrupt %s %q: %w", column, value, err)
	}
}

func (d *rowDecoder) decimal(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.fail(column, s, err)
		return decimal.Zero
	}
	return v
}

func (d *rowDecoder) date(column, s string) billing.TimePoint {
	tp, err := billing.ParseTimePoint(s)
	if err != nil {
		d.fail(column, s, err)
	}
	return tp
}

func (d *rowDecoder) nullDate(column string, s sql.NullString) *billing.TimePoint {
	if !s.Valid || s.String == "" {
		return nil
	}
	tp, err := billing.ParseTimePoint(s.String)
	if err != nil {
		d.fail(column, s.String, err)
		return nil
	}
	return &tp
}

func (d *rowDecoder) timestamp(column, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(column, s, err)
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
