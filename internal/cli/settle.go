package cli

import (
	"github.com/spf13/cobra"

	"stablecoin-payments/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-settlement",
	Short: "Run one payment through an in-process chain and send its notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().SimulateSettlement(cmd.Context(), simulateOpts)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Recipient, "recipient", "0x000000000000000000000000000000000000dEaD", "Recipient address")
	simulateCmd.Flags().StringVar(&simulateOpts.Amount, "amount", "10", "Payment amount")
	simulateCmd.Flags().StringVar(&simulateOpts.Stablecoin, "stablecoin", "USDC", "Stablecoin symbol")
	simulateCmd.Flags().BoolVar(&simulateOpts.Revert, "revert", false, "Simulate a reverted transaction")
}
