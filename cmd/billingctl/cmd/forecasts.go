// Package cmd - forecasts command
package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/store/sqlite"
)

var forecastsDB string

// forecastsCmd lists stored forecasts with their totals
var forecastsCmd = &cobra.Command{
	Use:   "forecasts",
	Short: "List forecasts and how actuals compare",
	Args:  cobra.NoArgs,
	RunE:  runForecasts,
}

func init() {
	forecastsCmd.Flags().StringVar(&forecastsDB, "db", "", "SQLite database path (default from config database.path)")
	rootCmd.AddCommand(forecastsCmd)
}

func runForecasts(cmd *cobra.Command, args []string) error {
	path := forecastsDB
	if path == "" {
		path = cfg.Database.Path
	}
	store, err := sqlite.New(path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	forecasts, err := store.ListForecasts(context.Background())
	if err != nil {
		return err
	}
	if len(forecasts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), warning("no forecasts"))
		return nil
	}

	rendered, err := forecastTable(forecasts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return nil
}

func forecastTable(forecasts []*billing.Forecast) (string, error) {
	data := pterm.TableData{
		{"ID", "Name", "Horizon", "State", "Forecasted", "Actual", "Variance", "Achieved"},
	}
	for _, f := range forecasts {
		s := f.Summary()

		variance := s.TotalVariance.StringFixed(2)
		if s.TotalVariance.IsNegative() {
			variance = pterm.FgRed.Sprint(variance)
		} else {
			variance = pterm.FgGreen.Sprint(variance)
		}

		data = append(data, []string{
			string(f.ID),
			f.Name,
			f.Horizon().String(),
			stateStyle(f.State),
			s.TotalForecasted.StringFixed(2),
			s.TotalActual.StringFixed(2),
			variance,
			s.AchievementPercentage.StringFixed(1) + "%",
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

func stateStyle(state billing.ForecastState) string {
	switch state {
	case billing.ForecastInProgress:
		return pterm.FgCyan.Sprint(state)
	case billing.ForecastConfirmed:
		return pterm.FgGreen.Sprint(state)
	case billing.ForecastCancelled:
		return pterm.FgRed.Sprint(state)
	default:
		return pterm.FgYellow.Sprint(state)
	}
}
