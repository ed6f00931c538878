package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/outpost/internal/task"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndGet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id := task.NewID()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := j.Record(ctx, &task.Task{
		ID: id, Status: task.StatusRunning, Prompt: "fix the bug", StartedAt: started,
	}); err != nil {
		t.Fatal(err)
	}

	e, err := j.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("expected entry")
	}
	if e.Status != task.StatusRunning || e.Prompt != "fix the bug" {
		t.Fatalf("entry = %+v", e)
	}
	if !e.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v", e.StartedAt)
	}
	if e.EndedAt != nil || e.ExitCode != nil {
		t.Fatalf("unexpected terminal fields: %+v", e)
	}
}

func TestRecordUpsertsTerminalState(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id := task.NewID()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := j.Record(ctx, &task.Task{
		ID: id, Status: task.StatusRunning, Prompt: "p", StartedAt: started,
	}); err != nil {
		t.Fatal(err)
	}

	ended := started.Add(2 * time.Minute)
	code := 3
	if err := j.Record(ctx, &task.Task{
		ID: id, Status: task.StatusFailed, Prompt: "p", StartedAt: started,
		CompletedAt: &ended, ExitCode: &code, Error: "agent exited with code 3",
	}); err != nil {
		t.Fatal(err)
	}

	e, err := j.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != task.StatusFailed {
		t.Fatalf("status = %s", e.Status)
	}
	if e.EndedAt == nil || !e.EndedAt.Equal(ended) {
		t.Fatalf("ended_at = %v", e.EndedAt)
	}
	if e.ExitCode == nil || *e.ExitCode != 3 {
		t.Fatalf("exit_code = %v", e.ExitCode)
	}
	if e.Error != "agent exited with code 3" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id := task.NewID()
		ids = append(ids, id)
		if err := j.Record(ctx, &task.Task{
			ID: id, Status: task.StatusRunning, Prompt: "p",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].TaskID != ids[2] || entries[1].TaskID != ids[1] {
		t.Fatalf("order = %s, %s", entries[0].TaskID, entries[1].TaskID)
	}

	all, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}

func TestGetAbsent(t *testing.T) {
	j := openTestJournal(t)
	e, err := j.Get(context.Background(), task.NewID())
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Fatalf("expected nil entry, got %+v", e)
	}
}
