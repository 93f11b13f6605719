// Package observability wires logging and metrics for paperctl.
package observability

import (
	"log/slog"
	"os"

	"github.com/google/uuid"

	"paperctl/internal/logfields"
)

// SetupLogging installs the default slog handler for one CLI invocation and
// returns the run id attached to every record.
func SetupLogging(verbose bool) string {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	runID := uuid.NewString()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(logfields.RunID(runID))
	slog.SetDefault(logger)
	return runID
}
