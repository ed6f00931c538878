package task

import (
	"errors"
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
	}{
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", c.status, got, c.terminal)
		}
	}
}

func TestValidate(t *testing.T) {
	good := &Task{ID: NewID(), Status: StatusRunning}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	noID := &Task{Status: StatusRunning}
	if err := noID.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for empty id, got %v", err)
	}

	badStatus := &Task{ID: NewID(), Status: "paused"}
	if err := badStatus.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for unknown status, got %v", err)
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	if len(id) != IDLength {
		t.Fatalf("expected %d-char id, got %d (%s)", IDLength, len(id), id)
	}
	if id == NewID() {
		t.Fatal("expected unique ids")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("short", 80); got != "short" {
		t.Errorf("Preview(short) = %q", got)
	}
	long := Preview("abcdefghij", 4)
	if long != "abcd..." {
		t.Errorf("Preview = %q, want abcd...", long)
	}
}
