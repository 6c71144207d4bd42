package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/kroger-bridge/internal/app"
	"github.com/florianilch/kroger-bridge/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "kroger-bridge",
		Usage: "Kroger API bridge for product search, store lookup and cart",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "auth--storage",
				Usage: "where the authorized entry is stored (file|keyring)",
				Value: string(app.DefaultConfigAuthStorage),
			},
			&cli.StringFlag{
				Name:  "auth--file",
				Usage: "entry file for file storage",
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			statusCommand(),
			resetCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "serve the Kroger endpoints and the authorization flow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "additional OpenTelemetry log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigLogExporter),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "upstream--base-url",
				Usage: "Kroger API base URL",
				Value: app.DefaultConfigUpstreamBaseURL,
			},
			&cli.DurationFlag{
				Name:  "upstream--timeout",
				Usage: "timeout for a single Kroger API call",
				Value: app.DefaultConfigUpstreamTimeout,
			},
			&cli.FloatFlag{
				Name:  "upstream--rate-limit",
				Usage: "maximum Kroger API calls per second (0 disables limiting)",
			},
			&cli.StringFlag{
				Name:  "auth--client-id",
				Usage: "Kroger OAuth2 client id",
			},
			&cli.StringFlag{
				Name:  "auth--redirect-url",
				Usage: "OAuth2 redirect URL registered with Kroger (defaults to this server's callback)",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownObservability, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: string(cfg.LogExporter),
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create app: %w", err), shutdownObservability(context.Background()))
	}

	slog.InfoContext(ctx, "starting")

	runErr := application.Start(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()
	if err := shutdownObservability(flushCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flushing logs: %w", err))
	}

	if runErr != nil {
		return fmt.Errorf("app failed to start: %w", runErr)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
