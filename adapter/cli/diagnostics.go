package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var diagnosticsLimit int

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "List recent runs from the journal, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		runs, err := c.Diagnostics(cmd.Context(), diagnosticsLimit)
		if err != nil {
			return err
		}
		return emit(map[string]any{"runs": runs}, func() {
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return
			}
			for _, run := range runs {
				fmt.Printf("%s  %-7s %-7s %s  create=%d update=%d delete=%d conflict=%d blocked=%d\n",
					time.Unix(run.StartedAtEpoch, 0).Format(time.RFC3339),
					run.Kind, run.Outcome, run.CalendarID,
					run.Creates, run.Updates, run.Deletes, run.Conflicts, run.Blocked)
				if run.Detail != "" {
					fmt.Printf("  %s\n", run.Detail)
				}
			}
		})
	},
}

func init() {
	diagnosticsCmd.Flags().IntVar(&diagnosticsLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(diagnosticsCmd)
}
