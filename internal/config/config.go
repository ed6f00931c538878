// Package config loads the Outpost configuration file and .env.
package config

import "time"

// Config is the root configuration for Outpost.
type Config struct {
	Store   StoreConfig   `json:"store"`
	Launch  LaunchConfig  `json:"launch"`
	Tracker TrackerConfig `json:"tracker"`
	Events  EventsConfig  `json:"events"`
	Gateway GatewayConfig `json:"gateway"`
	Runtime RuntimeConfig `json:"runtime"`
}

// StoreConfig locates the shared object store.
type StoreConfig struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint,omitempty"` // non-AWS endpoints (minio etc.)
}

// LaunchConfig holds defaults for launching execution units.
type LaunchConfig struct {
	Image           string   `json:"image"`
	CPU             string   `json:"cpu"`
	Memory          string   `json:"memory"`
	Timeout         Duration `json:"timeout"`
	MaxArchiveBytes int64    `json:"max_archive_bytes"`
	Ignore          []string `json:"ignore,omitempty"` // extra archive ignore globs
	AgentCommand    string   `json:"agent_command"`
	CredentialFile  string   `json:"credential_file,omitempty"` // authfile shape
	CredentialEnv   []string `json:"credential_env,omitempty"`  // dotenv shape, names read from process env
}

// TrackerConfig holds polling intervals for the tracking engine.
type TrackerConfig struct {
	MetadataInterval Duration `json:"metadata_interval"`
	LogInterval      Duration `json:"log_interval"`
	MaxPollDuration  Duration `json:"max_poll_duration"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// GatewayConfig holds the status server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RuntimeConfig selects how execution units are started.
type RuntimeConfig struct {
	Driver string `json:"driver"` // "docker" | "local"
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
