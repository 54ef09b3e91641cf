// Package cmd - export and default-card commands
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/internal/logging"
	"github.com/warp/records-billing/records"
	"github.com/warp/records-billing/report"
	"github.com/warp/records-billing/store/sqlite"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	exportDB       string
	exportForecast string
	exportFormat   string
	exportOut      string
)

// exportCmd writes a stored forecast as CSV or PDF
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a forecast as CSV or PDF",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDB, "db", "", "SQLite database path (default from config database.path)")
	exportCmd.Flags().StringVar(&exportForecast, "forecast", "", "forecast ID")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format (csv, pdf)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("forecast")

	defaultCardCmd.Flags().StringVar(&cardFormat, "format", "yaml", "output format (yaml, json)")
	defaultCardCmd.Flags().StringVar(&cardEffective, "effective", "", "effective date YYYY-MM-DD (default today)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	path := exportDB
	if path == "" {
		path = cfg.Database.Path
	}
	store, err := sqlite.New(path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	f, err := store.GetForecast(context.Background(), billing.ForecastID(exportForecast))
	if err != nil {
		return fmt.Errorf("forecast %s: %w", exportForecast, err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		file, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	if err := report.Write(w, format, f); err != nil {
		return err
	}
	if exportOut != "" {
		logging.Info("forecast exported",
			zap.String("forecast", string(f.ID)),
			zap.String("format", string(format)),
			zap.String("file", exportOut),
		)
		fmt.Fprintf(cmd.ErrOrStderr(), "%s wrote %s\n", success("✓"), exportOut)
	}
	return nil
}

var (
	cardFormat    string
	cardEffective string
)

// defaultCardCmd prints the standard records centre rate card
var defaultCardCmd = &cobra.Command{
	Use:   "default-card",
	Short: "Print the standard rate card as a starting point",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		effective := cardEffective
		if effective == "" {
			effective = billing.Today().String()
		}
		data := records.DefaultRateCardJSON(cfg.Billing.Currency, effective)

		switch cardFormat {
		case "json":
			_, err := fmt.Fprintln(cmd.OutOrStdout(), data)
			return err
		case "yaml", "yml":
			var doc map[string]any
			if err := json.Unmarshal([]byte(data), &doc); err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(doc)
		default:
			return fmt.Errorf("unsupported format %q (use yaml or json)", cardFormat)
		}
	},
}
