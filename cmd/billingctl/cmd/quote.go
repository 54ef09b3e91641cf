// Package cmd - quote command
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/factory"
)

var (
	quoteRateCard  string
	quoteService   string
	quoteContainer string
	quoteQuantity  string
	quoteAsOf      string
	quoteFraction  string
	quoteJSON      bool
)

// quoteCmd prices one service against a rate card file
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a service against a rate card",
	Long: `Resolve the applicable rate line and calculate the charge. Nothing is
posted.

Examples:
  billingctl quote --rate-card ratecard.yaml --service retrieval --qty 3
  billingctl quote --rate-card ratecard.toml --service storage --container type_02 --qty 40 --fraction 0.5`,
	Args: cobra.NoArgs,
	RunE: runQuote,
}

func init() {
	quoteCmd.Flags().StringVar(&quoteRateCard, "rate-card", "", "rate card file (default from config billing.rate_card)")
	quoteCmd.Flags().StringVar(&quoteService, "service", "", "service type (storage, retrieval, destruction, pickup, other)")
	quoteCmd.Flags().StringVar(&quoteContainer, "container", "", "container type, e.g. type_01")
	quoteCmd.Flags().StringVar(&quoteQuantity, "qty", "1", "raw quantity")
	quoteCmd.Flags().StringVar(&quoteAsOf, "as-of", "", "service date YYYY-MM-DD (default today)")
	quoteCmd.Flags().StringVar(&quoteFraction, "fraction", "", "period fraction in (0, 1] for prorated lines")
	quoteCmd.Flags().BoolVar(&quoteJSON, "json", false, "print the charge as JSON")
	_ = quoteCmd.MarkFlagRequired("service")
}

func runQuote(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path := quoteRateCard
	if path == "" {
		path = cfg.Billing.RateCardPath
	}
	if path == "" {
		return fmt.Errorf("no rate card: pass --rate-card or set billing.rate_card")
	}
	card, err := factory.NewRateCardFactory().LoadRateCard(path)
	if err != nil {
		return err
	}

	req, err := quoteRequest()
	if err != nil {
		return err
	}

	line, charge, err := billing.NewEngine().Quote(req, card.Lines)
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", failure("✗"), err)
		return err
	}
	amount := charge.FinalCharge.Round(cfg.Billing.RoundingPlaces)

	if quoteJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"rate_line_id":      line.ID,
			"effective_rate":    charge.EffectiveRate,
			"billable_quantity": charge.BillableQuantity,
			"raw_charge":        charge.RawCharge,
			"final_charge":      charge.FinalCharge,
			"amount":            amount,
			"currency":          card.Currency,
			"cap_applied":       charge.CapApplied,
			"prorated":          charge.Prorated,
		})
	}

	fmt.Fprintf(out, "%s %s %s\n", heading("Rate line"), line.ID, faint(line.Name))
	fmt.Fprintf(out, "  effective rate     %s\n", charge.EffectiveRate.String())
	fmt.Fprintf(out, "  billable quantity  %s\n", charge.BillableQuantity.String())
	fmt.Fprintf(out, "  raw charge         %s\n", charge.RawCharge.StringFixed(4))
	if charge.Prorated {
		fmt.Fprintf(out, "  prorated           %s\n", warning(quoteFraction))
	}
	if charge.CapApplied != billing.CapNone {
		fmt.Fprintf(out, "  cap applied        %s\n", warning(string(charge.CapApplied)))
	}
	fmt.Fprintf(out, "%s %s %s\n", success("Charge"), amount.StringFixed(cfg.Billing.RoundingPlaces), card.Currency)
	return nil
}

func quoteRequest() (billing.RequestContext, error) {
	service, err := billing.ParseServiceType(quoteService)
	if err != nil {
		return billing.RequestContext{}, err
	}
	qty, err := decimal.NewFromString(quoteQuantity)
	if err != nil {
		return billing.RequestContext{}, fmt.Errorf("invalid --qty: %w", err)
	}
	asOf := billing.Today()
	if quoteAsOf != "" {
		if asOf, err = billing.ParseTimePoint(quoteAsOf); err != nil {
			return billing.RequestContext{}, fmt.Errorf("invalid --as-of (use YYYY-MM-DD): %w", err)
		}
	}

	req := billing.RequestContext{
		ServiceType:   service,
		ContainerType: billing.ContainerTypeID(quoteContainer),
		AsOf:          asOf,
		Quantity:      qty,
	}
	if quoteFraction != "" {
		f, err := decimal.NewFromString(quoteFraction)
		if err != nil {
			return billing.RequestContext{}, fmt.Errorf("invalid --fraction: %w", err)
		}
		req.PeriodFraction = &f
	}
	return req, nil
}
