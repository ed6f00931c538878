package config

import (
	"os"
	"path/filepath"
)

// OutpostPath returns the root directory for Outpost data.
// It uses $OUTPOST_PATH if set, otherwise defaults to ~/.outpost.
func OutpostPath() string {
	if v := os.Getenv("OUTPOST_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".outpost")
	}
	return filepath.Join(home, ".outpost")
}

// ConfigPath returns the path to the Outpost config file.
func ConfigPath() string {
	return filepath.Join(OutpostPath(), "config.jsonc")
}

// DotenvPath returns the path to the Outpost .env file.
func DotenvPath() string {
	return filepath.Join(OutpostPath(), ".env")
}

// JournalPath returns the path to the local launch journal database.
func JournalPath() string {
	return filepath.Join(OutpostPath(), "journal.db")
}

// SchedulesPath returns the path to the recurring-launch entries file.
func SchedulesPath() string {
	return filepath.Join(OutpostPath(), "schedules.json")
}

// HeartbeatPath returns the path to the gateway heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(OutpostPath(), "gateway.heartbeat")
}

// UnitsPath returns the directory where the local runtime keeps pid files.
func UnitsPath() string {
	return filepath.Join(OutpostPath(), "units")
}
