/*
export.go - Forecast reports

PURPOSE:
  Renders a forecast and its lines as CSV (spreadsheets, finance imports)
  or PDF (sending to account managers). Both list every line with the
  forecasted amount, the actual amount posted so far, the variance and the
  achievement percentage, followed by a totals row.

FORMATS:
  csv:  One header row, one row per line, one TOTAL row
  pdf:  A4 portrait, a header block with the forecast horizon and state,
        then a table and a summary

SEE ALSO:
  - billing/forecast.go: Forecast, ForecastLine, ForecastSummary
  - api/handlers.go: ExportForecast endpoint
*/
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/warp/records-billing/billing"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts "csv" or "pdf", case-insensitively. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Write renders f in the given format.
func Write(w io.Writer, format Format, f *billing.Forecast) error {
	switch format {
	case FormatPDF:
		return WritePDF(w, f)
	case FormatCSV:
		return WriteCSV(w, f)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

// =============================================================================
// CSV
// =============================================================================

var csvHeader = []string{
	"line_id", "customer_id", "service_type", "period_start", "period_end",
	"forecasted", "actual", "variance", "achievement_pct", "state",
}

// WriteCSV writes the forecast lines and a TOTAL row.
func WriteCSV(w io.Writer, f *billing.Forecast) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range f.Lines {
		row := []string{
			string(l.ID),
			string(l.CustomerID),
			string(l.ServiceType),
			l.Period.Start.String(),
			l.Period.End.String(),
			money(l.ForecastedAmount),
			money(l.ActualAmount),
			money(l.VarianceAmount),
			money(l.AchievementPercentage),
			string(l.State),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv line %s: %w", l.ID, err)
		}
	}

	s := f.Summary()
	total := []string{
		"TOTAL", "", "", f.DateFrom.String(), f.DateTo.String(),
		money(s.TotalForecasted),
		money(s.TotalActual),
		money(s.TotalVariance),
		money(s.AchievementPercentage),
		string(f.State),
	}
	if err := writer.Write(total); err != nil {
		return fmt.Errorf("write csv totals: %w", err)
	}

	writer.Flush()
	return writer.Error()
}

// =============================================================================
// PDF
// =============================================================================

var (
	headerFill  = [3]int{31, 73, 125}
	headerText  = [3]int{255, 255, 255}
	bodyText    = [3]int{33, 33, 33}
	shortfall   = [3]int{192, 0, 0}
	overachieve = [3]int{0, 128, 0}
)

var pdfColumns = []struct {
	title string
	width float64
	align string
}{
	{"Customer", 30, "L"},
	{"Service", 24, "L"},
	{"Period", 44, "L"},
	{"Forecast", 24, "R"},
	{"Actual", 24, "R"},
	{"Variance", 24, "R"},
	{"Achv %", 18, "R"},
}

// WritePDF renders the forecast as a one-table A4 report.
func WritePDF(w io.Writer, f *billing.Forecast) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(f.Name, true)
	pdf.AddPage()

	// Title block
	pdf.SetFillColor(headerFill[0], headerFill[1], headerFill[2])
	pdf.SetTextColor(headerText[0], headerText[1], headerText[2])
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 12, tr("  "+f.Name), "", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetFillColor(240, 240, 240)
	pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
	info := fmt.Sprintf("  %s to %s  |  %s periods  |  state: %s",
		f.DateFrom, f.DateTo, f.PeriodConfig.Type, f.State)
	pdf.CellFormat(0, 8, tr(info), "", 1, "L", true, 0, "")
	pdf.Ln(6)

	// Table header
	pdf.SetFont("Arial", "B", 9)
	for _, c := range pdfColumns {
		pdf.CellFormat(c.width, 7, c.title, "B", 0, c.align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, l := range f.Lines {
		cells := []string{
			string(l.CustomerID),
			string(l.ServiceType),
			l.Period.String(),
			money(l.ForecastedAmount),
			money(l.ActualAmount),
			money(l.VarianceAmount),
			money(l.AchievementPercentage),
		}
		for i, c := range pdfColumns {
			if i == 5 {
				setVarianceColor(pdf, l.VarianceAmount)
			}
			pdf.CellFormat(c.width, 6, tr(cells[i]), "", 0, c.align, false, 0, "")
			pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
		}
		pdf.Ln(-1)
	}

	// Totals
	s := f.Summary()
	pdf.SetFont("Arial", "B", 9)
	labelWidth := pdfColumns[0].width + pdfColumns[1].width + pdfColumns[2].width
	pdf.CellFormat(labelWidth, 7, fmt.Sprintf("Total (%d lines)", s.LineCount), "T", 0, "L", false, 0, "")
	pdf.CellFormat(pdfColumns[3].width, 7, money(s.TotalForecasted), "T", 0, "R", false, 0, "")
	pdf.CellFormat(pdfColumns[4].width, 7, money(s.TotalActual), "T", 0, "R", false, 0, "")
	setVarianceColor(pdf, s.TotalVariance)
	pdf.CellFormat(pdfColumns[5].width, 7, money(s.TotalVariance), "T", 0, "R", false, 0, "")
	pdf.SetTextColor(bodyText[0], bodyText[1], bodyText[2])
	pdf.CellFormat(pdfColumns[6].width, 7, money(s.AchievementPercentage), "T", 1, "R", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

func setVarianceColor(pdf *gofpdf.Fpdf, variance decimal.Decimal) {
	switch {
	case variance.IsNegative():
		pdf.SetTextColor(shortfall[0], shortfall[1], shortfall[2])
	case variance.IsPositive():
		pdf.SetTextColor(overachieve[0], overachieve[1], overachieve[2])
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
