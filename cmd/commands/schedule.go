package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/schedule"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage recurring task launches (fired by the serve process)",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List schedule entries",
				Action: runScheduleList,
			},
			{
				Name:      "add",
				Usage:     "Add a schedule entry",
				ArgsUsage: "<prompt>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "Unique entry name"},
					&cli.StringFlag{Name: "cron", Required: true, Usage: "Cron expression (5 fields)"},
					&cli.StringFlag{Name: "repo", Usage: "Repository URL to clone for each run"},
					&cli.StringFlag{Name: "branch", Usage: "Branch to clone (with --repo)"},
					&cli.IntFlag{Name: "timeout", Usage: "Agent timeout in seconds"},
					&cli.IntFlag{Name: "max-runs", Usage: "Disable the entry after this many runs"},
					&cli.IntFlag{Name: "cooldown", Usage: "Minimum seconds between runs"},
				},
				Action: runScheduleAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove a schedule entry",
				ArgsUsage: "<name>",
				Action:    runScheduleRemove,
			},
		},
		DefaultCommand: "list",
	}
}

func scheduleStore() *schedule.Store {
	return schedule.NewStore(config.SchedulesPath())
}

func runScheduleList(_ context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	entries, err := scheduleStore().List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No schedules defined.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tENABLED\tRUNS\tPROMPT")
	for _, e := range entries {
		prompt := e.Prompt
		if len(prompt) > 50 {
			prompt = prompt[:50] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", e.Name, e.CronSpec, e.Enabled, e.RunCount, prompt)
	}
	return w.Flush()
}

func runScheduleAdd(_ context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	prompt := cmd.Args().First()
	if prompt == "" {
		return errors.New("usage: outpost schedule add --name <name> --cron <expr> \"<prompt>\"")
	}

	e := &schedule.Entry{
		Name:        cmd.String("name"),
		CronSpec:    cmd.String("cron"),
		Prompt:      prompt,
		RepoURL:     cmd.String("repo"),
		RepoBranch:  cmd.String("branch"),
		TimeoutSec:  cmd.Int("timeout"),
		MaxRuns:     cmd.Int("max-runs"),
		CooldownSec: cmd.Int("cooldown"),
		Enabled:     true,
	}
	if err := scheduleStore().Create(e); err != nil {
		return err
	}
	fmt.Printf("schedule %q added (%s)\n", e.Name, e.CronSpec)
	fmt.Println("note: schedules fire only while `outpost serve` is running")
	return nil
}

func runScheduleRemove(_ context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	name := cmd.Args().First()
	if name == "" {
		return errors.New("usage: outpost schedule remove <name>")
	}
	if err := scheduleStore().Delete(name); err != nil {
		return err
	}
	fmt.Printf("schedule %q removed\n", name)
	return nil
}
