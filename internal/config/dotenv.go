package config

import (
	"fmt"
	"os"

	"github.com/dohr-michael/outpost/internal/secrets"
)

// LoadDotenv reads a .env file and exports its variables. A missing
// file is ignored; env vars that are already set are never overridden.
// The file uses the same KEY=VALUE grammar as credential payloads.
func LoadDotenv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	vars, err := secrets.ParseDotenv(data)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for k, v := range vars {
		if _, exists := os.LookupEnv(k); !exists {
			os.Setenv(k, v)
		}
	}
	return nil
}
