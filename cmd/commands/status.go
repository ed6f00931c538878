package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/gateway"
	"github.com/dohr-michael/outpost/internal/task"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show gateway liveness and running tasks",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd)

			liveness, hb, err := gateway.CheckHeartbeat(config.HeartbeatPath(), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}
			switch liveness {
			case gateway.LivenessAlive:
				fmt.Printf("Gateway: ALIVE (PID %d, %s, uptime %s)\n", hb.PID, hb.Addr, hb.Uptime)
			case gateway.LivenessStale:
				fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case gateway.LivenessDead:
				fmt.Println("Gateway: NOT RUNNING")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				fmt.Printf("Store:   unavailable (%v)\n", err)
				return nil
			}

			ids, err := st.ListTaskIDs(ctx, 0)
			if err != nil {
				fmt.Printf("Store:   unreachable (%v)\n", err)
				return nil
			}
			running := 0
			for _, id := range ids {
				t, err := st.GetMetadata(ctx, id)
				if err != nil || t == nil {
					continue
				}
				if t.Status == task.StatusRunning {
					running++
				}
			}
			fmt.Printf("Store:   %d task(s), %d running\n", len(ids), running)
			return nil
		},
	}
}
