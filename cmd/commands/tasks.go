package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/patch"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum tasks to list"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a running task",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
			{
				Name:      "logs",
				Usage:     "Print the task's agent output",
				ArgsUsage: "<task_id>",
				Action:    runTasksLogs,
			},
			{
				Name:      "patch",
				Usage:     "Apply the task's changes to a local directory",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Value: ".", Usage: "Directory to apply the patch in"},
					&cli.StringFlag{Name: "save", Usage: "Save the raw diff to a file instead of applying it"},
				},
				Action: runTasksPatch,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	ids, err := st.ListTaskIDs(ctx, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tPROMPT")
	for _, id := range ids {
		t, err := st.GetMetadata(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", task.ShortID(id), "invalid", "-", err)
			continue
		}
		if t == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			task.ShortID(t.ID),
			t.Status,
			t.StartedAt.Local().Format("2006-01-02 15:04:05"),
			task.Preview(t.Prompt, 60),
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := resolveTaskArg(ctx, cmd, st)
	if err != nil {
		return err
	}

	t, err := st.GetMetadata(ctx, id)
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}
	if t == nil {
		return fmt.Errorf("task %s has no metadata", task.ShortID(id))
	}

	fmt.Printf("ID:        %s\n", t.ID)
	fmt.Printf("Status:    %s\n", t.Status)
	fmt.Printf("Started:   %s\n", t.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if t.CompletedAt != nil {
		fmt.Printf("Completed: %s (after %s)\n",
			t.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			t.CompletedAt.Sub(t.StartedAt).Round(time.Second))
	}
	if t.ExitCode != nil {
		fmt.Printf("Exit code: %d\n", *t.ExitCode)
	}
	if t.Error != "" {
		fmt.Printf("Error:     %s\n", t.Error)
	}
	fmt.Printf("Prompt:    %s\n", t.Prompt)

	if diff, err := st.GetArtifact(ctx, id, store.PatchArtifact); err == nil && len(diff) > 0 {
		fmt.Println("Changes:")
		for _, line := range patch.Summarize(string(diff)) {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := resolveTaskArg(ctx, cmd, st)
	if err != nil {
		return err
	}

	l := newLauncher(cfg, st)
	if err := l.Cancel(ctx, id); err != nil {
		return err
	}
	fmt.Printf("task %s cancelled\n", task.ShortID(id))

	if t, err := st.GetMetadata(ctx, id); err == nil && t != nil {
		recordToJournal(ctx, t)
	}
	return nil
}

func runTasksLogs(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := resolveTaskArg(ctx, cmd, st)
	if err != nil {
		return err
	}

	data, err := st.GetArtifact(ctx, id, store.OutputArtifact)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	if data == nil {
		return fmt.Errorf("task %s has no output yet", task.ShortID(id))
	}
	os.Stdout.Write(data)
	return nil
}

func runTasksPatch(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := resolveTaskArg(ctx, cmd, st)
	if err != nil {
		return err
	}

	diff, err := st.GetArtifact(ctx, id, store.PatchArtifact)
	if err != nil {
		return fmt.Errorf("read patch: %w", err)
	}
	if len(diff) == 0 {
		fmt.Printf("task %s produced no changes\n", task.ShortID(id))
		return nil
	}

	if out := cmd.String("save"); out != "" {
		if err := os.WriteFile(out, diff, 0o644); err != nil {
			return fmt.Errorf("save patch: %w", err)
		}
		fmt.Printf("saved patch to %s\n", out)
		return nil
	}

	if _, err := patch.Apply(ctx, cmd.String("dir"), diff); err != nil {
		return err
	}
	fmt.Println("applied changes:")
	for _, line := range patch.Summarize(string(diff)) {
		fmt.Printf("  %s\n", line)
	}
	return nil
}
