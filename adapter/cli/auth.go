package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var authCode string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Provider authorization helpers",
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Generate the provider consent URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		state := uuid.New().String()
		url, err := c.AuthURL(state)
		if err != nil {
			return err
		}
		return emit(map[string]any{"url": url, "state": state}, func() {
			fmt.Println(url)
			fmt.Printf("State: %s\n", state)
		})
	},
}

var authExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange an authorization code and store the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if authCode == "" {
			return errors.New("missing --code")
		}
		c, err := getContainer()
		if err != nil {
			return err
		}
		if err := c.AuthExchange(cmd.Context(), authCode); err != nil {
			return err
		}
		return emit(map[string]any{"authorized": true}, func() {
			fmt.Println("Token stored.")
		})
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the stored authorization without token material",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		st := c.AuthStatus()
		return emit(map[string]any{"auth": st}, func() {
			if !st.Authorized {
				fmt.Println("Not authorized.")
				return
			}
			fmt.Printf("Authorized, expires %s", st.Expiry.Format(time.RFC3339))
			if st.HasRefresh {
				fmt.Print(" (refresh token stored)")
			}
			fmt.Println()
		})
	},
}

func init() {
	authExchangeCmd.Flags().StringVar(&authCode, "code", "", "authorization code")

	authCmd.AddCommand(authURLCmd)
	authCmd.AddCommand(authExchangeCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
