package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"collectionwatch/internal/app"
	"collectionwatch/internal/detect"
)

var (
	simulateCategory   string
	simulateCollection string
	simulatePrice      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := detect.ParseCategory(simulateCategory)
		if err != nil {
			return err
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("--price must be a positive number")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Category:   cat,
			Collection: simulateCollection,
			Price:      price,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCategory, "category", "sales", "Alert category: floor, bid, listings, sales or burn")
	simulateCmd.Flags().StringVar(&simulateCollection, "collection", "", "Contract address; defaults to the first tracked collection")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "1", "Price in ETH shown on the alert")
}
