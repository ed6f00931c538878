package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/compute"
	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/launch"
	"github.com/dohr-michael/outpost/internal/store"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "outpost",
		Usage: "Run coding agents on disposable remote compute",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewLaunchCommand(),
			NewTasksCommand(),
			NewWatchCommand(),
			NewServeCommand(),
			NewScheduleCommand(),
			NewHistoryCommand(),
			NewStatusCommand(),
			NewRunnerCommand(),
		},
	}
}

func setupLogging(cmd *cli.Command) {
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Bucket == "" {
		return nil, errors.New("no store bucket configured, set store.bucket in the config file or OUTPOST_BUCKET")
	}
	return store.NewS3(ctx, cfg.Store.Bucket, cfg.Store.Region, cfg.Store.Endpoint)
}

func newRuntime(cfg *config.Config) compute.Runtime {
	if cfg.Runtime.Driver == "local" {
		return compute.NewLocalRuntime(config.UnitsPath())
	}
	return &compute.DockerRuntime{}
}

func newLauncher(cfg *config.Config, st store.Store) *launch.Launcher {
	return &launch.Launcher{
		Store:    st,
		Runtime:  newRuntime(cfg),
		Launch:   cfg.Launch,
		StoreCfg: cfg.Store,
	}
}

// resolveTaskArg resolves the first positional argument as a task id or
// unambiguous prefix.
func resolveTaskArg(ctx context.Context, cmd *cli.Command, st store.Store) (string, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return "", errors.New("a task id (or id prefix) is required")
	}
	id, err := store.ResolveTaskID(ctx, st, arg)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("no task matches %q", arg)
	}
	return id, nil
}
