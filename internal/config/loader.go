package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }}
// templates, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file: run on defaults plus environment.
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = os.Getenv("OUTPOST_BUCKET")
	}
	if cfg.Store.Region == "" {
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Store.Region = v
		} else {
			cfg.Store.Region = "us-east-1"
		}
	}
	if cfg.Launch.Image == "" {
		cfg.Launch.Image = "outpost-runner:latest"
	}
	if cfg.Launch.CPU == "" {
		cfg.Launch.CPU = "2"
	}
	if cfg.Launch.Memory == "" {
		cfg.Launch.Memory = "4g"
	}
	if cfg.Launch.Timeout == 0 {
		cfg.Launch.Timeout = Duration(30 * time.Minute)
	}
	if cfg.Launch.MaxArchiveBytes == 0 {
		cfg.Launch.MaxArchiveBytes = 128 << 20
	}
	if cfg.Launch.AgentCommand == "" {
		cfg.Launch.AgentCommand = "claude -p --dangerously-skip-permissions"
	}
	if cfg.Tracker.MetadataInterval == 0 {
		cfg.Tracker.MetadataInterval = Duration(5 * time.Second)
	}
	if cfg.Tracker.LogInterval == 0 {
		cfg.Tracker.LogInterval = Duration(2 * time.Second)
	}
	if cfg.Tracker.MaxPollDuration == 0 {
		cfg.Tracker.MaxPollDuration = Duration(30 * time.Minute)
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Runtime.Driver == "" {
		if v := os.Getenv("OUTPOST_RUNTIME"); v != "" {
			cfg.Runtime.Driver = v
		} else {
			cfg.Runtime.Driver = "docker"
		}
	}
}
