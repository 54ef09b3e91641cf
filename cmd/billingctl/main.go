// Command billingctl validates rate cards, prices services and exports
// forecasts from the command line.
package main

import (
	"os"

	"github.com/warp/records-billing/cmd/billingctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
