package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Liveness is the state derived from a heartbeat file.
type Liveness string

const (
	LivenessAlive Liveness = "alive"
	LivenessStale Liveness = "stale"
	LivenessDead  Liveness = "dead"
)

const heartbeatInterval = 30 * time.Second

// Heartbeat is the record a running gateway writes to disk so the CLI
// can tell whether a serve process is alive without talking to it.
type Heartbeat struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// HeartbeatWriter periodically writes the heartbeat file.
type HeartbeatWriter struct {
	path    string
	addr    string
	started time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewHeartbeatWriter creates a writer for the file at path, recording
// the gateway's listen address.
func NewHeartbeatWriter(path, addr string) *HeartbeatWriter {
	return &HeartbeatWriter{path: path, addr: addr}
}

// Start writes immediately and then on every interval tick.
func (w *HeartbeatWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.started = time.Now()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.write()
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the writer and removes the heartbeat file.
func (w *HeartbeatWriter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
	os.Remove(w.path)
}

func (w *HeartbeatWriter) write() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		Addr:      w.addr,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, w.path)
}

// CheckHeartbeat reads a heartbeat file and classifies the gateway's
// liveness. A missing file means dead; a record older than maxAge
// means stale.
func CheckHeartbeat(path string, maxAge time.Duration) (Liveness, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LivenessDead, nil, nil
		}
		return LivenessDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return LivenessDead, nil, fmt.Errorf("parse heartbeat: %w", err)
	}
	if time.Since(hb.Timestamp) > maxAge {
		return LivenessStale, &hb, nil
	}
	return LivenessAlive, &hb, nil
}
