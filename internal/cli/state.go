package cli

import (
	"github.com/spf13/cobra"

	"collectionwatch/internal/app"
	"collectionwatch/internal/detect"
)

var stateCategories []string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset stored alert state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <contract>",
	Short: "Print the stored state keys of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := stateOptions(args[0])
		if err != nil {
			return err
		}
		return getApp().ShowState(cmd.Context(), opts)
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <contract>",
	Short: "Delete stored state so the next cycle starts tracking afresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := stateOptions(args[0])
		if err != nil {
			return err
		}
		return getApp().ResetState(cmd.Context(), opts)
	},
}

func stateOptions(contract string) (app.StateOptions, error) {
	opts := app.StateOptions{Collection: contract}
	for _, name := range stateCategories {
		cat, err := detect.ParseCategory(name)
		if err != nil {
			return app.StateOptions{}, err
		}
		opts.Categories = append(opts.Categories, cat)
	}
	return opts, nil
}

func init() {
	stateCmd.PersistentFlags().StringSliceVar(&stateCategories, "category", nil, "Limit to these categories (floor, bid, listings, sales, burn); default all")
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)
}
