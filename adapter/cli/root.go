// Package cli is the cobra command tree. Every command talks to the
// shared app container and reports through the uniform result
// envelope: human text by default, JSON with --json.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fppkit/calbridge/internal/app"
	"github.com/fppkit/calbridge/internal/pipeline"
	"github.com/fppkit/calbridge/pkg/observability"
)

var (
	jsonOutput bool
	logger     *slog.Logger
	container  *app.Container

	// correlation id of the command in flight, for the failure envelope
	lastCorrelationID string
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "calbridge",
	Short: "Bidirectional calendar to FPP schedule sync",
	Long: `calbridge keeps a remote calendar and the Falcon Player scheduler in
sync. Calendar events carrying a [settings] block become schedule rows,
manual edits to managed rows flow back to the calendar, and rows the
bridge does not manage are never touched.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info := commandContext{
			correlationID: uuid.New(),
			startedAt:     time.Now(),
		}
		lastCorrelationID = info.correlationID.String()
		ctx := context.WithValue(cmd.Context(), commandContextKey{}, info)
		ctx = observability.WithCorrelationID(ctx, info.correlationID.String())
		cmd.SetContext(ctx)
		logger.Info("command start",
			"command", cmd.CommandPath(),
			"correlation_id", info.correlationID.String(),
		)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.Info("command end",
			"command", cmd.CommandPath(),
			"correlation_id", info.correlationID.String(),
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// Execute runs the command tree and maps any failure onto the exit
// code contract: 0 ok, 2 validation, 3 runtime, 4 conflict, 5
// provider.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		renderFailure(err)
		return pipeline.ExitCode(err)
	}
	return pipeline.ExitOK
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit the result envelope as JSON")
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}

// SetContainer wires the app container the commands run against.
func SetContainer(c *app.Container) {
	container = c
}

func getContainer() (*app.Container, error) {
	if container == nil {
		return nil, errors.New("application container not configured")
	}
	return container, nil
}
