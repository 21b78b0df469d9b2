package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/awilliams/wpas-ctrl/internal/wpas"
)

const (
	appName = "wpas-ctrl"
	// exitTerminating is the exit code used when wpa_supplicant
	// announced it is shutting down.
	exitTerminating = 125
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when a terminating signal is received.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		log.Printf("Received signal %q, exiting...", <-sigs)
		cancel()
	}()

	if err := newRootCmd(appName).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if errors.Is(err, wpas.ErrTerminating) {
			os.Exit(exitTerminating)
		}
		os.Exit(1)
	}
}
