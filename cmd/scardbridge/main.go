// scardbridge - smart-card redirection bridge
//
// scardbridge serves smart-card device requests redirected by a remote
// desktop peer. IRPs arrive over MQTT, are dispatched by the smartcard
// engine to a PC/SC-like service (an in-memory emulator by default), and
// completions are published back. An HTTP status API, a SQLite completion
// journal and InfluxDB metrics are optional.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "SCARDBRIDGE_CONFIG"

func main() {
	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
