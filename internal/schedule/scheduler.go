package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dohr-michael/outpost/internal/events"
	"github.com/dohr-michael/outpost/internal/launch"
	"github.com/dohr-michael/outpost/internal/task"
)

// DefaultCooldown is the minimum interval between two triggers of the
// same entry.
const DefaultCooldown = 60 * time.Second

const triggerTimeout = 2 * time.Minute

// Launcher starts a task for a due entry.
type Launcher interface {
	Start(ctx context.Context, opts launch.Options) (*task.Task, error)
}

type runtimeEntry struct {
	entry    *Entry
	sched    cron.Schedule
	cooldown time.Duration
	lastRun  time.Time
}

// Scheduler fires persisted entries on their cron schedule.
type Scheduler struct {
	store    *Store
	launcher Launcher
	bus      *events.Bus

	mu      sync.Mutex
	entries map[string]*runtimeEntry
	done    chan struct{}
}

// New creates a scheduler over the persisted entries.
func New(store *Store, launcher Launcher, bus *events.Bus) *Scheduler {
	return &Scheduler{
		store:    store,
		launcher: launcher,
		bus:      bus,
		entries:  make(map[string]*runtimeEntry),
		done:     make(chan struct{}),
	}
}

// Start loads enabled entries and begins the minute loop.
func (s *Scheduler) Start() error {
	entries, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		sched, err := e.Schedule()
		if err != nil {
			slog.Warn("skipping schedule with invalid cron", "name", e.Name, "error", err)
			continue
		}
		re := &runtimeEntry{entry: e, sched: sched, cooldown: DefaultCooldown}
		if e.CooldownSec > 0 {
			re.cooldown = time.Duration(e.CooldownSec) * time.Second
		}
		if e.LastRunAt != nil {
			re.lastRun = *e.LastRunAt
		}
		s.entries[e.ID] = re
	}
	count := len(s.entries)
	s.mu.Unlock()

	slog.Info("scheduler started", "entries", count)
	go s.loop()
	return nil
}

// Stop halts the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.done)
	slog.Info("scheduler stopped")
}

// Entries returns a snapshot of the loaded entries.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, re := range s.entries {
		out = append(out, re.entry)
	}
	return out
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkDue(now)
		}
	}
}

func (s *Scheduler) checkDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, re := range s.entries {
		if !re.entry.Enabled {
			continue
		}
		if !dueAt(re.sched, now) {
			continue
		}
		if now.Sub(re.lastRun) < re.cooldown {
			continue
		}
		s.trigger(re, now)
	}
}

// trigger launches the entry's task. Caller must hold s.mu.
func (s *Scheduler) trigger(re *runtimeEntry, now time.Time) {
	re.lastRun = now
	e := re.entry

	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	t, err := s.launcher.Start(ctx, launch.Options{
		Prompt:     e.Prompt,
		RepoURL:    e.RepoURL,
		RepoBranch: e.RepoBranch,
		TimeoutSec: e.TimeoutSec,
	})
	cancel()

	payload := events.ScheduleTriggerPayload{Name: e.Name}
	if err != nil {
		payload.Error = err.Error()
		slog.Error("schedule trigger failed", "name", e.Name, "error", err)
	} else {
		payload.TaskID = t.ID
		e.RunCount++
		slog.Info("schedule triggered", "name", e.Name, "task", task.ShortID(t.ID))
	}

	last := now
	e.LastRunAt = &last
	if e.MaxRuns > 0 && e.RunCount >= e.MaxRuns {
		e.Enabled = false
		slog.Info("schedule reached max runs, disabled", "name", e.Name, "runs", e.RunCount)
	}
	if err := s.store.Update(e); err != nil {
		slog.Warn("could not persist schedule state", "name", e.Name, "error", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, payload))
	}
}
