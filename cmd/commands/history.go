package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/journal"
	"github.com/dohr-michael/outpost/internal/task"
)

// NewHistoryCommand returns the history subcommand.
func NewHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show locally journaled tasks, including ones expired from the store",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum entries to show"},
		},
		Action: runHistory,
	}
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	j, err := journal.Open(config.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	entries, err := j.Recent(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No journaled tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tPROMPT")
	for _, e := range entries {
		duration := "-"
		if e.EndedAt != nil {
			duration = e.EndedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			task.ShortID(e.TaskID),
			e.Status,
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			task.Preview(e.Prompt, 60),
		)
	}
	return w.Flush()
}
