package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/journal"
	"github.com/dohr-michael/outpost/internal/launch"
	"github.com/dohr-michael/outpost/internal/task"
)

// NewLaunchCommand returns the launch subcommand.
func NewLaunchCommand() *cli.Command {
	return &cli.Command{
		Name:      "launch",
		Usage:     "Launch a coding agent task on remote compute",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Local directory to upload as the task workspace",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "Repository URL the unit clones instead of an uploaded workspace",
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "Branch to clone (with --repo)",
			},
			&cli.StringFlag{
				Name:  "cpu",
				Usage: "CPU limit for the execution unit",
			},
			&cli.StringFlag{
				Name:  "memory",
				Usage: "Memory limit for the execution unit",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Agent timeout in seconds",
			},
			&cli.BoolFlag{
				Name:    "detach",
				Aliases: []string{"d"},
				Usage:   "Return immediately instead of watching the task",
			},
		},
		Action: runLaunch,
	}
}

func runLaunch(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return errors.New("usage: outpost launch \"<prompt>\"")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	l := newLauncher(cfg, st)
	t, err := l.Start(ctx, launch.Options{
		Prompt:       prompt,
		WorkspaceDir: cmd.String("workspace"),
		RepoURL:      cmd.String("repo"),
		RepoBranch:   cmd.String("branch"),
		CPU:          cmd.String("cpu"),
		Memory:       cmd.String("memory"),
		TimeoutSec:   cmd.Int("timeout"),
	})
	if err != nil {
		return err
	}

	recordToJournal(ctx, t)
	fmt.Printf("launched task %s\n", task.ShortID(t.ID))

	if cmd.Bool("detach") {
		fmt.Printf("follow it with: outpost watch %s\n", task.ShortID(t.ID))
		return nil
	}

	if err := followTasks(ctx, cfg, st, []string{t.ID}); err != nil {
		return err
	}

	// Sync the final state into the local journal.
	if final, err := st.GetMetadata(context.Background(), t.ID); err == nil && final != nil {
		recordToJournal(context.Background(), final)
	}
	return nil
}

// recordToJournal writes best-effort history; a broken journal must
// never fail a launch.
func recordToJournal(ctx context.Context, t *task.Task) {
	j, err := journal.Open(config.JournalPath())
	if err != nil {
		slog.Warn("could not open journal", "error", err)
		return
	}
	defer j.Close()
	if err := j.Record(ctx, t); err != nil {
		slog.Warn("could not record task in journal", "error", err)
	}
}
