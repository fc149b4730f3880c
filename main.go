// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"spectro/cmd"
	"spectro/internal/apperr"
	"spectro/internal/log"
	"spectro/pkg/build"
)

// main wires build metadata and signal handling, then hands over to the
// command line. Interrupts cancel the running command, which stops
// capture or lets the current batch files finish before exiting.
func main() {
	// Development builds run without ldflags.
	if err := build.Initialize(); err != nil {
		log.Debugf("build info: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err == nil {
		return
	}

	if apperr.KindOf(err) == apperr.Cancelled {
		os.Exit(130)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if apperr.KindOf(err) != apperr.Unknown {
		fmt.Fprintln(os.Stderr, apperr.UserMessage(err))
	}
	os.Exit(1)
}
