// Package tracker polls the object store for task state and turns it
// into bus events: status transitions, deduplicated milestone log
// lines and a one-time completion report. The store is the only
// channel back from the execution unit, so everything here is
// poll-driven and tolerant of partial or stale reads.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/outpost/internal/events"
	"github.com/dohr-michael/outpost/internal/patch"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

const pollTimeout = 30 * time.Second

// Config tunes the polling cadence. Zero values take defaults.
type Config struct {
	// MetadataInterval is the cadence of metadata polls.
	MetadataInterval time.Duration
	// LogInterval is the cadence of output polls.
	LogInterval time.Duration
	// MaxPollDuration is the safety ceiling after which polling for a
	// task stops even if it never reached a terminal state.
	MaxPollDuration time.Duration
	// LogTail is how many trailing output lines each log poll scans.
	LogTail int
	// MaxReportFiles caps the per-file lines in a completion report.
	MaxReportFiles int
}

func (c *Config) withDefaults() {
	if c.MetadataInterval <= 0 {
		c.MetadataInterval = 5 * time.Second
	}
	if c.LogInterval <= 0 {
		c.LogInterval = 2 * time.Second
	}
	if c.MaxPollDuration <= 0 {
		c.MaxPollDuration = 30 * time.Minute
	}
	if c.LogTail <= 0 {
		c.LogTail = 200
	}
	if c.MaxReportFiles <= 0 {
		c.MaxReportFiles = 10
	}
}

type trackedTask struct {
	id         string
	sessionID  string
	startedAt  time.Time
	lastStatus task.Status
	seen       map[string]struct{}
	done       chan struct{}
	finalized  bool
}

// Tracker follows in-flight tasks by polling the store.
type Tracker struct {
	store store.Store
	bus   *events.Bus
	clock Clock
	cfg   Config

	mu    sync.Mutex
	tasks map[string]*trackedTask
}

// New creates a tracker. A nil clock means wall-clock time.
func New(s store.Store, bus *events.Bus, clock Clock, cfg Config) *Tracker {
	if clock == nil {
		clock = NewClock()
	}
	cfg.withDefaults()
	return &Tracker{
		store: s,
		bus:   bus,
		clock: clock,
		cfg:   cfg,
		tasks: make(map[string]*trackedTask),
	}
}

// Track starts polling a task. Tracking an already tracked task is a
// no-op, so timers are never duplicated.
func (tr *Tracker) Track(taskID, sessionID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.tasks[taskID]; ok {
		return
	}
	tt := &trackedTask{
		id:        taskID,
		sessionID: sessionID,
		startedAt: tr.clock.Now(),
		seen:      make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	tr.tasks[taskID] = tt
	// Tickers are created here, not inside the goroutines, so their
	// intervals are anchored to the Track call rather than to goroutine
	// scheduling.
	metaTicker := tr.clock.NewTicker(tr.cfg.MetadataInterval)
	offsetTicker := tr.clock.NewTicker(tr.cfg.LogInterval / 2)
	go tr.runMetadataLoop(tt, metaTicker)
	go tr.runLogLoop(tt, offsetTicker)
	slog.Debug("tracking task", "task", task.ShortID(taskID))
}

// Untrack stops polling a task. Unknown ids are a no-op.
func (tr *Tracker) Untrack(taskID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tt, ok := tr.tasks[taskID]
	if !ok {
		return
	}
	delete(tr.tasks, taskID)
	close(tt.done)
	slog.Debug("stopped tracking task", "task", task.ShortID(taskID))
}

// Active returns the ids of all tracked tasks, sorted.
func (tr *Tracker) Active() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	ids := make([]string, 0, len(tr.tasks))
	for id := range tr.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops polling every tracked task.
func (tr *Tracker) StopAll() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, tt := range tr.tasks {
		close(tt.done)
	}
	tr.tasks = make(map[string]*trackedTask)
}

func (tr *Tracker) runMetadataLoop(tt *trackedTask, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-tt.done:
			return
		case <-ticker.C():
			tr.pollMetadata(tt)
		}
	}
}

func (tr *Tracker) runLogLoop(tt *trackedTask, offset Ticker) {
	// Half-interval start offset so log and metadata polls never pile
	// up on the same tick.
	select {
	case <-tt.done:
		offset.Stop()
		return
	case <-offset.C():
	}
	offset.Stop()

	ticker := tr.clock.NewTicker(tr.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tt.done:
			return
		case <-ticker.C():
			tr.pollLogs(tt)
		}
	}
}

func (tr *Tracker) pollMetadata(tt *trackedTask) {
	tr.mu.Lock()
	if tt.finalized {
		tr.mu.Unlock()
		return
	}
	tr.mu.Unlock()

	if elapsed := tr.clock.Now().Sub(tt.startedAt); elapsed >= tr.cfg.MaxPollDuration {
		tr.finalize(tt)
		tr.publish(tt, events.TaskPollingStoppedPayload{
			TaskID:  tt.id,
			Elapsed: formatElapsed(elapsed),
		})
		tr.Untrack(tt.id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	meta, err := tr.store.GetMetadata(ctx, tt.id)
	cancel()
	if err != nil {
		// Transient store trouble, the next tick retries.
		slog.Debug("metadata poll failed", "task", task.ShortID(tt.id), "error", err)
		return
	}
	if meta == nil {
		return
	}

	tr.mu.Lock()
	if tt.finalized {
		tr.mu.Unlock()
		return
	}
	changed := meta.Status != tt.lastStatus
	tt.lastStatus = meta.Status
	if meta.Status.Terminal() {
		tt.finalized = true
	}
	tr.mu.Unlock()

	if !changed {
		return
	}

	switch meta.Status {
	case task.StatusRunning:
		tr.publish(tt, events.TaskRunningPayload{TaskID: tt.id})
	case task.StatusCompleted:
		tr.reportCompleted(tt, meta)
		tr.Untrack(tt.id)
	case task.StatusFailed:
		tr.reportFailed(tt, meta)
		tr.Untrack(tt.id)
	case task.StatusCancelled:
		tr.publish(tt, events.TaskCancelledPayload{TaskID: tt.id})
		tr.Untrack(tt.id)
	}
}

func (tr *Tracker) pollLogs(tt *trackedTask) {
	tr.mu.Lock()
	if tt.finalized {
		tr.mu.Unlock()
		return
	}
	tr.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	raw, err := tr.store.GetArtifact(ctx, tt.id, store.OutputArtifact)
	cancel()
	if err != nil {
		slog.Debug("log poll failed", "task", task.ShortID(tt.id), "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}

	for _, line := range tailLines(string(raw), tr.cfg.LogTail) {
		norm := normalizeLine(line)
		if !isMilestone(norm) {
			continue
		}
		tr.mu.Lock()
		if _, ok := tt.seen[norm]; ok {
			tr.mu.Unlock()
			continue
		}
		tt.seen[norm] = struct{}{}
		tr.mu.Unlock()
		tr.publish(tt, events.TaskMilestonePayload{TaskID: tt.id, Line: norm})
	}
}

// reportCompleted builds the one-time success report: elapsed time plus
// the changed-file summary from the patch artifact. A patch fetch error
// degrades the report instead of discarding it.
func (tr *Tracker) reportCompleted(tt *trackedTask, meta *task.Task) {
	short := task.ShortID(tt.id)
	elapsed := tr.elapsedFor(meta)
	payload := events.TaskCompletedPayload{TaskID: tt.id, Elapsed: elapsed}

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	diff, err := tr.store.GetArtifact(ctx, tt.id, store.PatchArtifact)
	cancel()

	switch {
	case err != nil:
		payload.Message = fmt.Sprintf("task %s completed in %s (could not check patch status: %v)",
			short, elapsed, err)
	case len(diff) == 0:
		payload.Message = fmt.Sprintf("task %s completed in %s, no changes produced", short, elapsed)
	default:
		files := patch.Summarize(string(diff))
		total := len(files)
		if total > tr.cfg.MaxReportFiles {
			payload.MoreFiles = total - tr.cfg.MaxReportFiles
			files = files[:tr.cfg.MaxReportFiles]
		}
		payload.Files = files
		payload.Message = fmt.Sprintf("task %s completed in %s, %d file(s) changed, apply with: outpost tasks patch %s",
			short, elapsed, total, short)
	}

	tr.publish(tt, payload)
}

func (tr *Tracker) reportFailed(tt *trackedTask, meta *task.Task) {
	payload := events.TaskFailedPayload{
		TaskID:  tt.id,
		Elapsed: tr.elapsedFor(meta),
		Error:   meta.Error,
	}
	if meta.ExitCode != nil {
		payload.ExitCode = *meta.ExitCode
	}
	tr.publish(tt, payload)
}

func (tr *Tracker) finalize(tt *trackedTask) {
	tr.mu.Lock()
	tt.finalized = true
	tr.mu.Unlock()
}

func (tr *Tracker) elapsedFor(meta *task.Task) string {
	end := tr.clock.Now()
	if meta.CompletedAt != nil {
		end = *meta.CompletedAt
	}
	return formatElapsed(end.Sub(meta.StartedAt))
}

func (tr *Tracker) publish(tt *trackedTask, payload events.EventPayload) {
	if tr.bus == nil {
		return
	}
	if tt.sessionID != "" {
		tr.bus.Publish(events.NewTypedEventWithSession(events.SourceTracker, payload, tt.sessionID))
		return
	}
	tr.bus.Publish(events.NewTypedEvent(events.SourceTracker, payload))
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
