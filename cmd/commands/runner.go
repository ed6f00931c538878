package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/runner"
	"github.com/dohr-michael/outpost/internal/store"
)

// NewRunnerCommand returns the runner subcommand. It is the entrypoint
// executed inside the disposable unit, not meant for interactive use.
func NewRunnerCommand() *cli.Command {
	return &cli.Command{
		Name:   "runner",
		Usage:  "Execute one task inside an execution unit (internal)",
		Hidden: true,
		Action: runRunner,
	}
}

func runRunner(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	bucket := os.Getenv("OUTPOST_BUCKET")
	if bucket == "" {
		return errors.New("OUTPOST_BUCKET is not set")
	}

	st, err := store.NewS3(ctx, bucket, os.Getenv("OUTPOST_REGION"), os.Getenv("OUTPOST_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}

	r := &runner.Runner{
		Store:  st,
		Config: runner.ConfigFromEnv(),
	}
	return r.Run(ctx)
}
