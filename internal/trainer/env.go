package trainer

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// RunEnv is the explicit replacement for the shell-export soup the original
// scripts relied on: every recognized variable is a named field, and extras
// come from an env file rather than ambient process state.
type RunEnv struct {
	// DisableTelemetry opts the external framework out of anonymous
	// usage reporting.
	DisableTelemetry bool

	// CacheDir overrides where the framework caches downloaded models.
	CacheDir string

	// Token is the model-hub access token handed through to the trainer.
	Token string

	// EnvFile is an optional dotenv file of additional variables.
	EnvFile string

	// Extra entries are appended last and win over everything above.
	Extra map[string]string
}

// Environ produces the child process environment: the parent environment,
// the env file, then the recognized settings.
func (e RunEnv) Environ() ([]string, error) {
	env := os.Environ()

	if e.EnvFile != "" {
		fileVars, err := godotenv.Read(e.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("trainer: read env file %s: %w", e.EnvFile, err)
		}
		for k, v := range fileVars {
			env = append(env, k+"="+v)
		}
	}

	if e.DisableTelemetry {
		env = append(env, "HF_HUB_DISABLE_TELEMETRY=1")
	}
	if e.CacheDir != "" {
		env = append(env, "HF_HOME="+e.CacheDir)
	}
	if e.Token != "" {
		env = append(env, "HF_TOKEN="+e.Token)
	}
	env = append(env, "PYTHONUNBUFFERED=1")

	for k, v := range e.Extra {
		env = append(env, k+"="+v)
	}
	return env, nil
}
