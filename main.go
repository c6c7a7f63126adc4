package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/audiostream/cmd"
	"github.com/tphakala/audiostream/internal/app"
)

// buildDate and version are set at build time with -ldflags "-X main.version=..."
var (
	buildDate string
	version   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := app.New(version, buildDate)
	rootCmd := cmd.RootCommand(rt)

	err := rootCmd.ExecuteContext(ctx)
	if cerr := rt.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "error closing runtime: %v\n", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
