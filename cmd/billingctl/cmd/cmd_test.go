package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/records"
	"github.com/warp/records-billing/store/sqlite"
)

func init() {
	color.NoColor = true
	pterm.DisableColor()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// flag values outlive a single Execute
	quoteRateCard, quoteContainer, quoteAsOf, quoteFraction = "", "", "", ""
	quoteQuantity, quoteJSON = "1", false
	cardFormat, cardEffective = "yaml", ""
	exportDB, exportFormat, exportOut, forecastsDB = "", "csv", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeCard(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidate_DefaultCard(t *testing.T) {
	path := writeCard(t, "card.json", records.DefaultRateCardJSON("USD", "2025-01-01"))

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "storage-standard")
	assert.Contains(t, out, "retrieval")
	assert.Contains(t, out, "rate card is valid")
}

func TestValidate_ReportsAmbiguousScopes(t *testing.T) {
	path := writeCard(t, "card.yaml", `
currency: USD
lines:
  - id: retrieval-a
    service_type: retrieval
    billing_method: per_unit
    unit_rate: "3.50"
    effective_date: "2025-01-01"
  - id: retrieval-b
    service_type: retrieval
    billing_method: per_unit
    unit_rate: "3.75"
    effective_date: "2025-01-01"
`)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "ambiguous between [retrieval-a retrieval-b]")
}

func TestValidate_InvalidLine(t *testing.T) {
	path := writeCard(t, "card.json", `{"lines":[{"id":"bad","service_type":"storage","billing_method":"per_unit","unit_rate":"-1"}]}`)

	_, err := execute(t, "validate", path)
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	path := writeCard(t, "card.json", records.DefaultRateCardJSON("USD", "2025-01-01"))

	t.Run("container scoped storage", func(t *testing.T) {
		out, err := execute(t, "quote", "--rate-card", path, "--service", "storage",
			"--container", string(records.ContainerStandard), "--qty", "100", "--as-of", "2025-02-01")
		require.NoError(t, err)
		assert.Contains(t, out, "storage-standard")
		assert.Contains(t, out, "Charge 45.00 USD")
	})

	t.Run("minimum charge", func(t *testing.T) {
		out, err := execute(t, "quote", "--rate-card", path, "--service", "retrieval",
			"--qty", "3", "--as-of", "2025-02-01")
		require.NoError(t, err)
		assert.Contains(t, out, "cap applied        minimum")
		assert.Contains(t, out, "Charge 15.00 USD")
	})

	t.Run("before the card is effective", func(t *testing.T) {
		_, err := execute(t, "quote", "--rate-card", path, "--service", "retrieval",
			"--qty", "3", "--as-of", "2024-12-31")
		assert.Error(t, err)
	})

	t.Run("unknown service", func(t *testing.T) {
		_, err := execute(t, "quote", "--rate-card", path, "--service", "shredding")
		assert.Error(t, err)
	})
}

func TestDefaultCard(t *testing.T) {
	out, err := execute(t, "default-card", "--format", "json", "--effective", "2025-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, `"effective_date": "2025-01-01"`)

	out, err = execute(t, "default-card", "--effective", "2025-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "lines:")

	_, err = execute(t, "default-card", "--format", "xml")
	assert.Error(t, err)
}

func seedForecastDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	f, err := billing.NewForecast("acme-q1", "Acme Q1",
		billing.NewTimePoint(2025, time.January, 1), billing.NewTimePoint(2025, time.March, 31),
		billing.PeriodConfig{Type: billing.PeriodMonthly},
		[]billing.ForecastTarget{{CustomerID: "acme", ServiceType: billing.ServiceStorage, AmountPerPeriod: decimal.NewFromInt(60)}})
	require.NoError(t, err)

	n := 0
	require.NoError(t, f.GenerateLines(func() billing.ForecastLineID {
		n++
		return billing.ForecastLineID(fmt.Sprintf("l%d", n))
	}))
	require.NoError(t, store.SaveForecast(context.Background(), f))
	return path
}

func TestExport_CSV(t *testing.T) {
	db := seedForecastDB(t)

	out, err := execute(t, "export", "--db", db, "--forecast", "acme-q1", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "line_id,customer_id")
	assert.Contains(t, out, "TOTAL")
}

func TestExport_UnknownForecast(t *testing.T) {
	db := seedForecastDB(t)

	_, err := execute(t, "export", "--db", db, "--forecast", "nope")
	assert.Error(t, err)
}

func TestForecasts(t *testing.T) {
	db := seedForecastDB(t)

	out, err := execute(t, "forecasts", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "acme-q1")
	assert.Contains(t, out, "180.00")
}
