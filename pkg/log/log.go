package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Its zero value discards
// everything, which is what tests get; Init replaces it at process
// startup. Packages derive scoped children via WithComponent and
// WithCluster rather than logging through it directly.
var Logger zerolog.Logger

// Init builds the root logger. level accepts zerolog's level names; an
// unparseable value falls back to info rather than failing startup over a
// typo in LOG_LEVEL. JSON output is the production default; the console
// writer is for a human watching a terminal.
func Init(level string, json bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if !json {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// WithComponent returns a child logger naming the control plane component
// a message comes from (session, dispatch, healthmonitor, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCluster returns a child logger carrying the tenant pair that scopes
// every session-side message: the organization and the cluster whose
// stream produced it. Execution and agent IDs vary per message and are
// added at the call site instead.
func WithCluster(organizationID, clusterID string) zerolog.Logger {
	return Logger.With().
		Str("organization_id", organizationID).
		Str("cluster_id", clusterID).
		Logger()
}
