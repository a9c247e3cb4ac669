package trainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/pigmentdev/pigment/internal/logger"
)

// Run is a live training process.
type Run struct {
	ID      string
	cfg     *Config
	cmd     *exec.Cmd
	stderr  *tailBuffer
	watcher *checkpointWatcher
	log     logger.Logger
}

// Start validates the configuration, spawns the entry point, and begins
// watching the output directory for checkpoints. The child gets its own
// process group so Stop can take the whole tree down.
func Start(ctx context.Context, cfg *Config, log logger.Logger) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	id := uuid.NewString()
	log = log.With("run_id", id, "variant", string(cfg.Variant))

	env, err := cfg.Env.Environ()
	if err != nil {
		return nil, err
	}

	argv := cfg.Argv()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout

	// Keep the tail of stderr so a failure can be reported with the
	// trainer's actual complaint.
	tail := newTailBuffer(10 * 1024)
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("trainer: stderr pipe: %w", err)
	}
	go func() {
		_, _ = io.Copy(io.MultiWriter(os.Stderr, tail), stderrPipe)
	}()

	watcher, err := watchCheckpoints(cfg.OutputDir, log)
	if err != nil {
		log.Warn("checkpoint watcher unavailable", "error", err)
	}

	log.Info("starting training run",
		"script", cfg.Script,
		"model", cfg.PretrainedModel,
		"output_dir", cfg.OutputDir)
	if err := cmd.Start(); err != nil {
		if watcher != nil {
			watcher.Close()
		}
		return nil, fmt.Errorf("trainer: start %s: %w", argv[0], err)
	}

	return &Run{
		ID:      id,
		cfg:     cfg,
		cmd:     cmd,
		stderr:  tail,
		watcher: watcher,
		log:     log,
	}, nil
}

// Wait blocks until the trainer exits. On failure the error carries the
// stderr tail.
func (r *Run) Wait() error {
	err := r.cmd.Wait()
	if r.watcher != nil {
		r.watcher.Close()
	}
	if err != nil {
		msg := strings.TrimSpace(r.stderr.String())
		if msg != "" {
			return fmt.Errorf("trainer: run %s failed: %w\n%s", r.ID, err, msg)
		}
		return fmt.Errorf("trainer: run %s failed: %w", r.ID, err)
	}
	r.log.Info("training run finished")
	return nil
}

// Stop kills the trainer's process group.
func (r *Run) Stop() error {
	if r.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-r.cmd.Process.Pid, syscall.SIGKILL)
}

// tailBuffer keeps the last cap bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
