// Package cli implements the orchestrator command line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

// Version information - will be set during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// NewApp creates and configures the CLI application.
func NewApp() *cli.App {
	app := &cli.App{
		Name:    "sandbox-orchestrator",
		Usage:   "Sandbox orchestration agent for the A2A network",
		Version: Version,
		Commands: []*cli.Command{
			serveCommand(),
			templatesCommand(),
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				os.Setenv("ORCHESTRATOR_LOG_LEVEL", "DEBUG")
			}
			return nil
		},
	}
	return app
}

// setupLogging configures the process-wide slog handler.
func setupLogging(level string) {
	var slogLevel slog.Level
	switch level {
	case "DEBUG":
		slogLevel = slog.LevelDebug
	case "WARNING":
		slogLevel = slog.LevelWarn
	case "ERROR":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}
