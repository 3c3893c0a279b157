package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fppkit/calbridge/adapter/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control plane",
	Long: `serve exposes the same operations as the CLI over HTTP for the player
UI and for remote operators. The server binds to loopback by default;
anything wider is the operator's call.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContainer()
		if err != nil {
			return err
		}
		cfg := api.DefaultServerConfig()
		if serveAddr != "" {
			cfg.Addr = serveAddr
		} else if c.Config.HTTPAddr != "" {
			cfg.Addr = c.Config.HTTPAddr
		}

		srv := api.NewServer(cfg, c, logger)
		done := make(chan error, 1)
		go func() {
			done <- srv.Start()
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-cmd.Context().Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from CALBRIDGE_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
