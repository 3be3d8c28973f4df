package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stablecoin-payments/internal/app"
)

var pricesHistory int

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Fetch and print current stablecoin prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pricesHistory < 0 {
			return fmt.Errorf("--history must not be negative")
		}
		return getApp().Prices(cmd.Context(), app.PricesOptions{History: pricesHistory})
	},
}

var checkTokensCmd = &cobra.Command{
	Use:   "check-tokens",
	Short: "Check that the payment contract accepts each configured token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckTokens(cmd.Context())
	},
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Print chain and signing account details",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Network(cmd.Context())
	},
}

func init() {
	pricesCmd.Flags().IntVar(&pricesHistory, "history", 0, "Print the newest N recorded samples instead of fetching")
}
