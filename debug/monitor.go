// Package debug is an opt-in monitor that periodically logs traffic and
// map statistics. It exists for chasing stalls in the field without
// attaching a debugger to someone's play session.
package debug

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
)

// EnvVar enables the monitor when set to anything non-empty.
const EnvVar = "MAPPER_DEBUG_MONITOR"

const defaultInterval = 30 * time.Second

// Stats is one snapshot of the numbers worth watching.
type Stats struct {
	BusDepth    int
	ClientBytes uint64
	ServerBytes uint64
	MPISessions int
	Rooms       int
}

// Enabled reports whether the monitor should run.
func Enabled() bool {
	return os.Getenv(EnvVar) != ""
}

// Monitor logs a snapshot every interval until ctx is canceled. snapshot
// must be safe to call from this goroutine; interval <= 0 picks a default.
func Monitor(ctx context.Context, logger hclog.Logger, interval time.Duration, snapshot func() Stats) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("debug monitor running", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := snapshot()
			logger.Info("monitor",
				"bus_depth", s.BusDepth,
				"client_rx", humanize.Bytes(s.ClientBytes),
				"server_rx", humanize.Bytes(s.ServerBytes),
				"mpi_sessions", s.MPISessions,
				"rooms", s.Rooms,
			)
		}
	}
}
