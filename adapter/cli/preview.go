package cli

import (
	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Compute the reconciliation plan without writing anything",
	Long: `preview runs the full pipeline, refreshes the calendar snapshot, and
prints what an apply would do. Conflicts and unresolved events are
reported, not thrown; the command fails only when planning itself is
impossible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		res, err := c.Preview(cmd.Context())
		if err != nil {
			return err
		}
		return emit(res.Details(), func() { renderPlan(res) })
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
}
