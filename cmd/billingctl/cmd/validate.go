// Package cmd - validate command
package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/warp/records-billing/billing"
	"github.com/warp/records-billing/factory"
)

// validateCmd checks a rate card file
var validateCmd = &cobra.Command{
	Use:   "validate <rate-card>",
	Short: "Validate a rate card file",
	Long: `Parse a rate card (.yaml, .yml, .toml or .json) and check every line.

Besides per-line validation, lines with the same scope and effective date
are reported: the resolver would refuse to pick between them.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	f := factory.NewRateCardFactory()
	f.DefaultCurrency = cfg.Billing.Currency

	card, err := f.LoadRateCard(args[0])
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", failure("✗"), err)
		return err
	}

	fmt.Fprintf(out, "%s %s (%s, %d lines)\n", heading("Rate card"), args[0], card.Currency, len(card.Lines))
	for _, l := range card.Lines {
		scope := string(l.ServiceType)
		if l.ContainerType != "" {
			scope += "/" + string(l.ContainerType)
		}
		fmt.Fprintf(out, "  %s %-28s %-24s %s %s\n",
			success("✓"), l.ID, scope, l.EffectiveRate().StringFixed(4), faint(string(l.BillingMethod)))
	}

	clashes := ambiguousScopes(card.Lines)
	for _, c := range clashes {
		fmt.Fprintf(out, "  %s %s\n", warning("!"), c)
	}
	if len(clashes) > 0 {
		return fmt.Errorf("%d ambiguous rate scope(s)", len(clashes))
	}

	fmt.Fprintf(out, "%s rate card is valid\n", success("✓"))
	return nil
}

// ambiguousScopes lists groups of lines the resolver could never order:
// same service, same container scope, same effective date.
func ambiguousScopes(lines []billing.RateLine) []string {
	groups := make(map[string][]string)
	for _, l := range lines {
		key := fmt.Sprintf("%s/%s@%s", l.ServiceType, l.ContainerType, formatEffective(l.EffectiveDate))
		groups[key] = append(groups[key], string(l.ID))
	}

	var out []string
	for key, ids := range groups {
		if len(ids) > 1 {
			sort.Strings(ids)
			out = append(out, fmt.Sprintf("%s is ambiguous between %v", key, ids))
		}
	}
	sort.Strings(out)
	return out
}

func formatEffective(tp *billing.TimePoint) string {
	if tp == nil {
		return "always"
	}
	return tp.String()
}
