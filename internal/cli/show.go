package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stablecoin-payments/internal/app"
)

var (
	showLimit  int
	showStatus string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent persisted payments",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit:  showLimit,
			Status: showStatus,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of payments to display")
	showCmd.Flags().StringVar(&showStatus, "status", "", "Only show payments in this status")
}
