package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect and change the sync mode",
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the active sync mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		mode, err := c.SyncMode()
		if err != nil {
			return err
		}
		return emit(map[string]any{"syncMode": string(mode)}, func() {
			fmt.Println(mode)
		})
	},
}

var modeSetCmd = &cobra.Command{
	Use:   "set <both|calendar|fpp>",
	Short: "Set the sync mode",
	Long: `set changes which directions an apply may execute: "both" syncs
bidirectionally, "calendar" only imports calendar changes into the
schedule, "fpp" only exports schedule edits to the calendar. Blocked
directions still show up in previews.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		mode, err := c.SetSyncMode(args[0])
		if err != nil {
			return err
		}
		return emit(map[string]any{"syncMode": string(mode)}, func() {
			fmt.Printf("Sync mode: %s\n", mode)
		})
	},
}

func init() {
	modeCmd.AddCommand(modeGetCmd)
	modeCmd.AddCommand(modeSetCmd)
	rootCmd.AddCommand(modeCmd)
}
