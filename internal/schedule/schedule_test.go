package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/outpost/internal/launch"
	"github.com/dohr-michael/outpost/internal/task"
)

func TestEntryScheduleDueAt(t *testing.T) {
	e := &Entry{Name: "five", CronSpec: "*/5 * * * *"}
	sched, err := e.Schedule()
	if err != nil {
		t.Fatal(err)
	}
	at := func(min int) time.Time {
		return time.Date(2026, 3, 1, 10, min, 30, 0, time.UTC)
	}
	if !dueAt(sched, at(5)) {
		t.Error("expected due at minute 5")
	}
	if dueAt(sched, at(7)) {
		t.Error("unexpected due at minute 7")
	}
}

func TestEntryScheduleRejectsGarbage(t *testing.T) {
	e := &Entry{Name: "bad", CronSpec: "not a cron"}
	if _, err := e.Schedule(); err == nil {
		t.Fatal("expected error")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "schedules.json"))
}

func TestStoreCreateListDelete(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list, got %d", len(entries))
	}

	e := &Entry{Name: "nightly", CronSpec: "0 2 * * *", Prompt: "run the nightly cleanup", Enabled: true}
	if err := s.Create(e); err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Fatal("expected assigned id")
	}

	if err := s.Create(&Entry{Name: "nightly", CronSpec: "0 3 * * *", Prompt: "p"}); err == nil {
		t.Fatal("expected duplicate name error")
	}

	got, err := s.Get("nightly")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != e.ID {
		t.Fatalf("get by name = %+v", got)
	}

	if err := s.Delete("nightly"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("nightly"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestStoreCreateValidates(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(&Entry{Name: "x", CronSpec: "bad", Prompt: "p"}); err == nil {
		t.Fatal("expected cron validation error")
	}
	if err := s.Create(&Entry{Name: "x", CronSpec: "* * * * *"}); err == nil {
		t.Fatal("expected missing prompt error")
	}
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls []launch.Options
	err   error
}

func (f *fakeLauncher) Start(_ context.Context, opts launch.Options) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, opts)
	return &task.Task{ID: task.NewID(), Status: task.StatusRunning, Prompt: opts.Prompt, StartedAt: time.Now()}, nil
}

func (f *fakeLauncher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestCheckDueTriggersAndCooldown(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(&Entry{
		Name: "every-minute", CronSpec: "* * * * *",
		Prompt: "sync the docs", RepoURL: "https://example.com/repo.git",
		Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	fl := &fakeLauncher{}
	sched := New(s, fl, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	now := time.Date(2026, 3, 1, 10, 0, 10, 0, time.UTC)
	sched.checkDue(now)
	if fl.count() != 1 {
		t.Fatalf("expected 1 launch, got %d", fl.count())
	}
	if fl.calls[0].Prompt != "sync the docs" || fl.calls[0].RepoURL != "https://example.com/repo.git" {
		t.Fatalf("launch options = %+v", fl.calls[0])
	}

	// Same minute, cooldown suppresses the repeat.
	sched.checkDue(now.Add(20 * time.Second))
	if fl.count() != 1 {
		t.Fatalf("cooldown violated, got %d launches", fl.count())
	}

	// Next matching minute past the cooldown fires again.
	sched.checkDue(now.Add(2 * time.Minute))
	if fl.count() != 2 {
		t.Fatalf("expected 2 launches, got %d", fl.count())
	}

	// Run state is persisted.
	got, err := s.Get("every-minute")
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 2 || got.LastRunAt == nil {
		t.Fatalf("persisted entry = %+v", got)
	}
}

func TestMaxRunsDisablesEntry(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(&Entry{
		Name: "once", CronSpec: "* * * * *", Prompt: "p",
		MaxRuns: 1, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	fl := &fakeLauncher{}
	sched := New(s, fl, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sched.checkDue(now)
	sched.checkDue(now.Add(5 * time.Minute))
	if fl.count() != 1 {
		t.Fatalf("expected 1 launch, got %d", fl.count())
	}

	got, err := s.Get("once")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Fatal("entry should be disabled after max runs")
	}
}

func TestLaunchFailureDoesNotCountRun(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(&Entry{
		Name: "flaky", CronSpec: "* * * * *", Prompt: "p", Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	fl := &fakeLauncher{err: errors.New("store unavailable")}
	sched := New(s, fl, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	sched.checkDue(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	got, err := s.Get("flaky")
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 0 {
		t.Fatalf("run count = %d", got.RunCount)
	}
	if got.LastRunAt == nil {
		t.Fatal("failed trigger should still set last run for cooldown")
	}
}
