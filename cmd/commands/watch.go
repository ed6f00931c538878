package commands

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/events"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
	"github.com/dohr-michael/outpost/internal/tracker"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow task progress until completion",
		ArgsUsage: "[task_id...]",
		Action:    runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	var ids []string
	for _, arg := range cmd.Args().Slice() {
		id, err := store.ResolveTaskID(ctx, st, arg)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("no task matches %q", arg)
		}
		ids = append(ids, id)
	}

	// No arguments: follow everything still running.
	if len(ids) == 0 {
		all, err := st.ListTaskIDs(ctx, 0)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		for _, id := range all {
			t, err := st.GetMetadata(ctx, id)
			if err != nil || t == nil {
				continue
			}
			if t.Status == task.StatusRunning {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			fmt.Println("No running tasks.")
			return nil
		}
	}

	for _, id := range ids {
		fmt.Printf("watching task %s\n", task.ShortID(id))
	}
	return followTasks(ctx, cfg, st, ids)
}

// followTasks tracks the given tasks and prints their events until every
// one of them has produced a final report (or the context is cancelled).
func followTasks(ctx context.Context, cfg *config.Config, st store.Store, ids []string) error {
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	watched := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		watched[id] = struct{}{}
	}

	remaining := int64(len(ids))
	done := make(chan struct{})
	var once sync.Once

	unsubscribe := bus.Subscribe(func(e events.Event) {
		printEvent(e)
		switch e.Type {
		case events.EventTaskCompleted, events.EventTaskFailed,
			events.EventTaskCancelled, events.EventTaskPollingStopped:
			id, _ := e.Payload["task_id"].(string)
			if _, ok := watched[id]; !ok {
				return
			}
			if atomic.AddInt64(&remaining, -1) == 0 {
				once.Do(func() { close(done) })
			}
		}
	})
	defer unsubscribe()

	tr := tracker.New(st, bus, nil, tracker.Config{
		MetadataInterval: cfg.Tracker.MetadataInterval.Duration(),
		LogInterval:      cfg.Tracker.LogInterval.Duration(),
		MaxPollDuration:  cfg.Tracker.MaxPollDuration.Duration(),
	})
	defer tr.StopAll()
	for _, id := range ids {
		tr.Track(id, "")
	}

	select {
	case <-ctx.Done():
		fmt.Println("\nstopped watching, tasks keep running remotely")
		return nil
	case <-done:
		return nil
	}
}

func printEvent(e events.Event) {
	id, _ := e.Payload["task_id"].(string)
	short := task.ShortID(id)

	switch e.Type {
	case events.EventTaskLaunched:
		fmt.Printf("task %s launched\n", short)
	case events.EventTaskRunning:
		fmt.Printf("task %s is running\n", short)
	case events.EventTaskMilestone:
		line, _ := e.Payload["line"].(string)
		fmt.Printf("  [%s] %s\n", short, line)
	case events.EventTaskCompleted:
		msg, _ := e.Payload["message"].(string)
		fmt.Println(msg)
		if files, ok := e.Payload["files"].([]any); ok {
			for _, f := range files {
				fmt.Printf("  %v\n", f)
			}
		}
		if more, ok := e.Payload["more_files"].(float64); ok && more > 0 {
			fmt.Printf("  ... and %d more\n", int(more))
		}
	case events.EventTaskFailed:
		elapsed, _ := e.Payload["elapsed"].(string)
		errMsg, _ := e.Payload["error"].(string)
		fmt.Printf("task %s failed after %s: %s\n", short, elapsed, errMsg)
	case events.EventTaskCancelled:
		fmt.Printf("task %s cancelled\n", short)
	case events.EventTaskPollingStopped:
		elapsed, _ := e.Payload["elapsed"].(string)
		fmt.Printf("stopped polling task %s after %s, it may still be running remotely\n", short, elapsed)
	}
}
