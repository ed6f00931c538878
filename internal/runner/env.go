package runner

import (
	"os"
	"strconv"
)

// ConfigFromEnv reads the scalar launch parameters from the unit's
// environment (see compute.Unit.Env).
func ConfigFromEnv() Config {
	timeoutSec, _ := strconv.Atoi(os.Getenv("OUTPOST_TIMEOUT_SEC"))
	return Config{
		TaskID:             os.Getenv("OUTPOST_TASK_ID"),
		WorkDir:            envDefault("OUTPOST_WORKDIR", "/workspace"),
		TimeoutSec:         timeoutSec,
		PromptFallback:     os.Getenv("OUTPOST_PROMPT"),
		CredentialShape:    os.Getenv("OUTPOST_CREDENTIAL_SHAPE"),
		CredentialIdentity: os.Getenv("OUTPOST_CREDENTIAL_IDENTITY"),
		HasWorkspace:       os.Getenv("OUTPOST_HAS_WORKSPACE") == "1",
		RepoURL:            os.Getenv("OUTPOST_REPO_URL"),
		RepoBranch:         os.Getenv("OUTPOST_REPO_BRANCH"),
		AgentCommand:       os.Getenv("OUTPOST_AGENT_COMMAND"),
		AuthFilePath:       os.Getenv("OUTPOST_AUTH_FILE"),
	}
}

func envDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
