package cli

import (
	"os"
	"os/signal"
	"syscall"
)

// shutdownSignals are the signals that stop the daemon gracefully.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// WaitForShutdown returns a channel that receives the first SIGINT or
// SIGTERM delivered to the process. The daemon selects on it against its
// server error channel.
func WaitForShutdown() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, shutdownSignals...)
	return ch
}
