package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Inspect and change the calendar binding",
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calendars visible to the authorized account",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		cals, err := c.Calendars(cmd.Context())
		if err != nil {
			return err
		}
		bound := c.CalendarID()
		return emit(map[string]any{"calendars": cals, "bound": bound}, func() {
			for _, cal := range cals {
				marker := " "
				if cal.ID == bound {
					marker = "*"
				}
				primary := ""
				if cal.Primary {
					primary = " (primary)"
				}
				fmt.Printf("%s %s  %s%s\n", marker, cal.ID, cal.Summary, primary)
			}
		})
	},
}

var calendarSetCmd = &cobra.Command{
	Use:   "set <calendar-id>",
	Short: "Bind the sync to a calendar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		if err := c.BindCalendar(args[0]); err != nil {
			return err
		}
		return emit(map[string]any{"calendarId": c.CalendarID()}, func() {
			fmt.Printf("Calendar bound: %s\n", c.CalendarID())
		})
	},
}

func init() {
	calendarCmd.AddCommand(calendarListCmd)
	calendarCmd.AddCommand(calendarSetCmd)
	rootCmd.AddCommand(calendarCmd)
}
