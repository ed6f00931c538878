package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/events"
	"github.com/dohr-michael/outpost/internal/gateway"
	"github.com/dohr-michael/outpost/internal/journal"
	"github.com/dohr-michael/outpost/internal/schedule"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
	"github.com/dohr-michael/outpost/internal/tracker"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the gateway: HTTP API, event stream, tracker and scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	l := newLauncher(cfg, st)
	l.Bus = bus

	// Keep the journal current while the gateway is up.
	j, err := journal.Open(config.JournalPath())
	if err != nil {
		slog.Warn("journal unavailable", "error", err)
	} else {
		defer j.Close()
		unsubscribe := bus.Subscribe(func(e events.Event) {
			id, _ := e.Payload["task_id"].(string)
			if id == "" {
				return
			}
			if t, err := st.GetMetadata(context.Background(), id); err == nil && t != nil {
				if err := j.Record(context.Background(), t); err != nil {
					slog.Warn("journal record failed", "task", task.ShortID(id), "error", err)
				}
			}
		}, events.EventTaskLaunched, events.EventTaskCompleted,
			events.EventTaskFailed, events.EventTaskCancelled)
		defer unsubscribe()
	}

	tr := tracker.New(st, bus, nil, tracker.Config{
		MetadataInterval: cfg.Tracker.MetadataInterval.Duration(),
		LogInterval:      cfg.Tracker.LogInterval.Duration(),
		MaxPollDuration:  cfg.Tracker.MaxPollDuration.Duration(),
	})
	defer tr.StopAll()

	// Pick up tasks already running before the gateway started, and any
	// launched through it afterwards.
	trackRunningTasks(ctx, st, tr)
	trackUnsubscribe := bus.Subscribe(func(e events.Event) {
		if id, _ := e.Payload["task_id"].(string); id != "" {
			tr.Track(id, e.SessionID)
		}
	}, events.EventTaskLaunched)
	defer trackUnsubscribe()

	sched := schedule.New(schedule.NewStore(config.SchedulesPath()), l, bus)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	hb := gateway.NewHeartbeatWriter(config.HeartbeatPath(), addr)
	hb.Start()
	defer hb.Stop()

	srv := gateway.NewServer(bus, st, l, cfg.Gateway.Host, cfg.Gateway.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func trackRunningTasks(ctx context.Context, st store.Store, tr *tracker.Tracker) {
	ids, err := st.ListTaskIDs(ctx, 0)
	if err != nil {
		slog.Warn("could not list tasks for tracking", "error", err)
		return
	}
	for _, id := range ids {
		t, err := st.GetMetadata(ctx, id)
		if err != nil || t == nil {
			continue
		}
		if t.Status == task.StatusRunning {
			tr.Track(id, "")
		}
	}
}
