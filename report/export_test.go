package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
)

func trackedForecast(t *testing.T) *billing.Forecast {
	t.Helper()
	f, err := billing.NewForecast("fc-1", "Acme Q1", billing.NewTimePoint(2025, time.January, 1), billing.NewTimePoint(2025, time.March, 31),
		billing.PeriodConfig{Type: billing.PeriodMonthly},
		[]billing.ForecastTarget{{CustomerID: "acme", ServiceType: billing.ServiceStorage, AmountPerPeriod: billing.MustParseDecimal("1000")}})
	require.NoError(t, err)

	n := 0
	require.NoError(t, f.GenerateLines(func() billing.ForecastLineID {
		n++
		return billing.ForecastLineID(fmt.Sprintf("l%d", n))
	}))
	require.NoError(t, f.Confirm())
	_, ok, err := f.RecordCharge("acme", billing.ServiceStorage, billing.NewTimePoint(2025, time.January, 31), billing.MustParseDecimal("1250"))
	require.NoError(t, err)
	require.True(t, ok)
	return f
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatCSV, "csv": FormatCSV, "PDF": FormatPDF} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	// GIVEN: A three-month forecast with January over target
	f := trackedForecast(t)

	// WHEN: Exporting as CSV
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, f))

	// THEN: Header, three lines and a total row
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"l1", "acme", "storage", "2025-01-01", "2025-01-31", "1000.00", "1250.00", "250.00", "125.00", "confirmed"}, rows[1])
	assert.Equal(t, "TOTAL", rows[4][0])
	assert.Equal(t, "3000.00", rows[4][5])
	assert.Equal(t, "-1750.00", rows[4][7])
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, Write(&buf, FormatPDF, trackedForecast(t)))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")), "output must be a PDF document")
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
}
