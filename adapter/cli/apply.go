package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fppkit/calbridge/internal/pipeline"
)

var (
	applyDryRun        bool
	applyFppOnly       bool
	applyCalendarOnly  bool
	applyFailOnBlocked bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Execute the reconciliation plan",
	Long: `apply recomputes the plan under the run lock and executes it: managed
schedule rows are rewritten through the staged file protocol and
calendar writes go out in delete, update, create order. Any conflict
fails the run before the first write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if applyFppOnly && applyCalendarOnly {
			return errors.New("--fpp-only and --calendar-only are mutually exclusive")
		}
		c, err := getContainer()
		if err != nil {
			return err
		}
		res, out, err := c.Apply(cmd.Context(), pipeline.ApplyOptions{
			DryRun:        applyDryRun,
			FppOnly:       applyFppOnly,
			CalendarOnly:  applyCalendarOnly,
			FailOnBlocked: applyFailOnBlocked,
		})
		if err != nil {
			return err
		}
		return emit(applyDetails(res, out), func() {
			renderPlan(res)
			renderOutcome(out)
		})
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "plan and report without writing either side")
	applyCmd.Flags().BoolVar(&applyFppOnly, "fpp-only", false, "write only the schedule file")
	applyCmd.Flags().BoolVar(&applyCalendarOnly, "calendar-only", false, "write only the calendar")
	applyCmd.Flags().BoolVar(&applyFailOnBlocked, "fail-on-blocked", false, "fail when the sync mode blocks any planned action")
	rootCmd.AddCommand(applyCmd)
}
