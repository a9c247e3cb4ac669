package trainer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pigmentdev/pigment/internal/logger"
)

// fakeTrainer builds a Config whose "entry point" is a shell one-liner, so
// process handling can be exercised without any external framework.
func fakeTrainer(t *testing.T, script string) *Config {
	t.Helper()
	cfg := validControlNetConfig(t)
	cfg.Launcher = []string{"/bin/sh", "-c"}
	cfg.Script = script
	return cfg
}

func TestStartAndWait(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		cfg := fakeTrainer(t, "exit 0")
		run, err := Start(context.Background(), cfg, logger.Default())
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if run.ID == "" {
			t.Fatal("expected a run ID")
		}
		if err := run.Wait(); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	})

	t.Run("failure reports stderr tail", func(t *testing.T) {
		cfg := fakeTrainer(t, "echo 'ValueError: bad resolution' >&2; exit 2")
		run, err := Start(context.Background(), cfg, logger.Default())
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		err = run.Wait()
		if err == nil {
			t.Fatal("expected error from failing trainer")
		}
		if !strings.Contains(err.Error(), "ValueError: bad resolution") {
			t.Fatalf("expected stderr tail in error, got: %v", err)
		}
	})

	t.Run("invalid config never spawns", func(t *testing.T) {
		cfg := fakeTrainer(t, "exit 0")
		cfg.PretrainedModel = ""
		if _, err := Start(context.Background(), cfg, logger.Default()); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("missing launcher binary", func(t *testing.T) {
		cfg := validControlNetConfig(t)
		cfg.Launcher = []string{filepath.Join(t.TempDir(), "no-such-binary")}
		if _, err := Start(context.Background(), cfg, logger.Default()); err == nil {
			t.Fatal("expected error for missing launcher")
		}
	})
}

func TestRunEnv(t *testing.T) {
	t.Run("recognized settings", func(t *testing.T) {
		env := RunEnv{
			DisableTelemetry: true,
			CacheDir:         "/tmp/hub",
			Token:            "hf_secret",
		}
		vars, err := env.Environ()
		if err != nil {
			t.Fatalf("Environ: %v", err)
		}
		joined := strings.Join(vars, "\n")
		for _, want := range []string{
			"HF_HUB_DISABLE_TELEMETRY=1",
			"HF_HOME=/tmp/hub",
			"HF_TOKEN=hf_secret",
			"PYTHONUNBUFFERED=1",
		} {
			if !strings.Contains(joined, want) {
				t.Errorf("missing %q in environment", want)
			}
		}
	})

	t.Run("telemetry opt-out is opt-in", func(t *testing.T) {
		vars, err := RunEnv{}.Environ()
		if err != nil {
			t.Fatalf("Environ: %v", err)
		}
		if strings.Contains(strings.Join(vars, "\n"), "HF_HUB_DISABLE_TELEMETRY") {
			t.Fatal("telemetry flag set without being requested")
		}
	})

	t.Run("env file loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("WANDB_MODE=offline\n"), 0o644); err != nil {
			t.Fatalf("write env file: %v", err)
		}
		vars, err := RunEnv{EnvFile: path}.Environ()
		if err != nil {
			t.Fatalf("Environ: %v", err)
		}
		if !strings.Contains(strings.Join(vars, "\n"), "WANDB_MODE=offline") {
			t.Fatal("env file variable not loaded")
		}
	})

	t.Run("missing env file is an error", func(t *testing.T) {
		if _, err := (RunEnv{EnvFile: "/no/such/file"}).Environ(); err == nil {
			t.Fatal("expected error for missing env file")
		}
	})
}

func TestCheckpointWatcher(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string
	log := &recordingLogger{onInfo: func(msg string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
	}}

	w, err := watchCheckpoints(dir, log)
	if err != nil {
		t.Fatalf("watchCheckpoints: %v", err)
	}
	defer w.Close()

	if err := os.Mkdir(filepath.Join(dir, "checkpoint-500"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "logs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for checkpoint event")
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "checkpoint written" {
		t.Fatalf("unexpected events: %v", seen)
	}
}

// recordingLogger captures Info calls; everything else is dropped.
type recordingLogger struct {
	onInfo func(msg string, args ...any)
}

func (r *recordingLogger) Debug(string, ...any) {}
func (r *recordingLogger) Info(msg string, args ...any) {
	if r.onInfo != nil {
		r.onInfo(msg, args...)
	}
}
func (r *recordingLogger) Warn(string, ...any)       {}
func (r *recordingLogger) Error(string, ...any)      {}
func (r *recordingLogger) With(...any) logger.Logger { return r }
