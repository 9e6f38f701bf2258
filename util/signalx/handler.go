package signalx

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

var registered = make(chan struct{})

// Handler registers for signals and returns a context,
// which is canceled at the first signal with the signal as cause,
// the second signal exits the process directly.
func Handler() context.Context {
	close(registered) // Panics when called twice.

	sigChan := make(chan os.Signal, len(sigs))
	ctx, cancel := context.WithCancelCause(context.Background())

	signal.Notify(sigChan, sigs...)

	go func() {
		var exited bool
		for sig := range sigChan {
			if exited {
				os.Exit(1)
			}
			cancel(fmt.Errorf("received signal %s", sig))
			exited = true
		}
	}()

	return ctx
}
