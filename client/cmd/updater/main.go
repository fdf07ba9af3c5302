package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thinkparq/updater-go/client/internal/cmd"
	"github.com/thinkparq/updater-go/client/internal/config"
)

// Set by the build process using ldflags.
var (
	binaryName = "updater"
	version    = "unknown"
	commit     = "unknown"
	buildTime  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := cmd.NewRootCmd(fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime))
	err := root.ExecuteContext(ctx)
	cancel()
	config.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", binaryName, err)
		os.Exit(1)
	}
}
