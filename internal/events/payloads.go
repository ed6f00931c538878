package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// TaskLaunchedPayload is emitted once the launcher has written the
// initial metadata record.
type TaskLaunchedPayload struct {
	TaskID        string `json:"task_id"`
	PromptPreview string `json:"prompt_preview,omitempty"`
}

func (TaskLaunchedPayload) EventType() EventType { return EventTaskLaunched }

// TaskRunningPayload is emitted when the tracker first observes the
// running status for a task whose last known status differed.
type TaskRunningPayload struct {
	TaskID string `json:"task_id"`
}

func (TaskRunningPayload) EventType() EventType { return EventTaskRunning }

// TaskMilestonePayload carries one deduplicated milestone log line.
type TaskMilestonePayload struct {
	TaskID string `json:"task_id"`
	Line   string `json:"line"`
}

func (TaskMilestonePayload) EventType() EventType { return EventTaskMilestone }

// TaskCompletedPayload is the completion report for a successful task.
type TaskCompletedPayload struct {
	TaskID    string   `json:"task_id"`
	Elapsed   string   `json:"elapsed"`
	Files     []string `json:"files,omitempty"`
	MoreFiles int      `json:"more_files,omitempty"`
	Message   string   `json:"message"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

// TaskFailedPayload is the completion report for a failed task.
type TaskFailedPayload struct {
	TaskID   string `json:"task_id"`
	Elapsed  string `json:"elapsed"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

// TaskCancelledPayload is the short notice for a cancelled task.
type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

// TaskPollingStoppedPayload is emitted when the safety ceiling elapses
// before the task reaches a terminal state.
type TaskPollingStoppedPayload struct {
	TaskID  string `json:"task_id"`
	Elapsed string `json:"elapsed"`
}

func (TaskPollingStoppedPayload) EventType() EventType { return EventTaskPollingStopped }

// ScheduleTriggerPayload is emitted when a recurring schedule fires.
type ScheduleTriggerPayload struct {
	Name   string `json:"name"`
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

// NewTypedEvent creates an event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payloadToMap(payload),
	}
}

// NewTypedEventWithSession creates an event routed to a session.
func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	e := NewTypedEvent(source, payload)
	e.SessionID = sessionID
	return e
}

// payloadToMap converts a typed payload into the generic payload map via
// its JSON representation.
func payloadToMap(payload EventPayload) map[string]any {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
