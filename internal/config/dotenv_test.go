package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment
AWS_TEST_KEY=abc123
QUOTED="hello world"
SINGLE='single'
ESCAPED="say \"hi\" C:\\tmp"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AWS_TEST_KEY", "")
	os.Unsetenv("AWS_TEST_KEY")
	os.Unsetenv("QUOTED")
	os.Unsetenv("SINGLE")
	os.Unsetenv("ESCAPED")

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}

	if got := os.Getenv("AWS_TEST_KEY"); got != "abc123" {
		t.Errorf("AWS_TEST_KEY = %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Errorf("QUOTED = %q", got)
	}
	if got := os.Getenv("SINGLE"); got != "single" {
		t.Errorf("SINGLE = %q", got)
	}
	if got := os.Getenv("ESCAPED"); got != `say "hi" C:\tmp` {
		t.Errorf("ESCAPED = %q", got)
	}
}

func TestLoadDotenvRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NOVALUE\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotenv(path); err == nil {
		t.Error("expected error for line without =")
	}
}

func TestLoadDotenvNoOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PRESET", "env")
	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := os.Getenv("PRESET"); got != "env" {
		t.Errorf("PRESET = %q, existing env vars must win", got)
	}
}

func TestLoadDotenvMissingFile(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
}
