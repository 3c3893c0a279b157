package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fppkit/calbridge/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active binding and the health of both sides",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		rep, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		return emit(map[string]any{"status": rep}, func() { renderStatus(rep) })
	},
}

func renderStatus(rep *app.StatusReport) {
	fmt.Printf("Provider:   %s\n", rep.Provider)
	fmt.Printf("Calendar:   %s\n", rep.CalendarID)
	fmt.Printf("Sync mode:  %s\n", rep.SyncMode)
	sun := "off"
	if rep.SunTimes {
		sun = "on"
	}
	fmt.Printf("Timezone:   %s (sun times %s)\n", rep.Timezone, sun)
	fmt.Printf("Schedule:   %s (%d rows, %d managed)\n", rep.Schedule.Path, rep.Schedule.Rows, rep.Schedule.Managed)
	fmt.Printf("State:      %d managed identities", rep.State.ManagedIdentities)
	if rep.State.SnapshotAgeSeconds >= 0 {
		fmt.Printf(", snapshot %s old", (time.Duration(rep.State.SnapshotAgeSeconds) * time.Second).String())
	}
	fmt.Println()
	if rep.Auth.Authorized {
		fmt.Printf("Authorized: yes (expires %s)\n", rep.Auth.Expiry.Format(time.RFC3339))
	} else {
		fmt.Println("Authorized: no")
	}
	if rep.LastApply != nil {
		fmt.Printf("Last apply: %s %s (%d create, %d update, %d delete)\n",
			rep.LastApply.Outcome,
			time.Unix(rep.LastApply.StartedAtEpoch, 0).Format(time.RFC3339),
			rep.LastApply.Creates, rep.LastApply.Updates, rep.LastApply.Deletes)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
