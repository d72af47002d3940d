// internal/drm/local.go
package drm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

type localJob struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	started  time.Time
	done     chan struct{}
	result   PollResult
	canceled bool
}

// Local runs jobs as child processes of the coordinator. It ignores every
// resource option and exists for development and tests. Job ids carry a
// per-instance prefix, so ids issued before a restart never match new jobs.
type Local struct {
	mu      sync.Mutex
	session string
	nextID  int
	jobs    map[string]*localJob
}

func NewLocal() *Local {
	return &Local{session: uuid.NewString()[:8], jobs: make(map[string]*localJob)}
}

func (b *Local) Name() string      { return BackendLocal }
func (b *Local) Supports() Support { return Support{} }

// Submit starts the command detached from ctx; the job outlives the call
func (b *Local) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(jobCtx, "sh", "-c", spec.Command)
	cmd.Dir = spec.WorkDir

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, target := range []struct {
		path string
		set  func(*os.File)
	}{
		{spec.Stdout, func(f *os.File) { cmd.Stdout = f }},
		{spec.Stderr, func(f *os.File) { cmd.Stderr = f }},
	} {
		if target.path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target.path), 0o755); err != nil {
			cancel()
			closeAll()
			return "", fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.Create(target.path)
		if err != nil {
			cancel()
			closeAll()
			return "", fmt.Errorf("failed to create log file: %w", err)
		}
		files = append(files, f)
		target.set(f)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		closeAll()
		return "", fmt.Errorf("failed to start job: %w", err)
	}

	b.mu.Lock()
	b.nextID++
	id := b.session + "-" + strconv.Itoa(b.nextID)
	job := &localJob{cmd: cmd, cancel: cancel, started: time.Now(), done: make(chan struct{})}
	job.result.Status = models.AttemptRunning
	b.jobs[id] = job
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		closeAll()

		b.mu.Lock()
		defer b.mu.Unlock()

		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		job.result = PollResult{
			ExitStatus: &code,
			ResourceUsage: map[string]string{
				"wallclock": time.Since(job.started).Round(time.Millisecond).String(),
			},
		}
		if state := cmd.ProcessState; state != nil {
			job.result.ResourceUsage["user_cpu"] = state.UserTime().String()
			job.result.ResourceUsage["system_cpu"] = state.SystemTime().String()
		}
		switch {
		case job.canceled:
			job.result.Status = models.AttemptKilled
		case code == 0:
			job.result.Status = models.AttemptSucceeded
		default:
			job.result.Status = models.AttemptFailed
		}
		close(job.done)
	}()

	return id, nil
}

func (b *Local) Poll(_ context.Context, jobID string) (PollResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		// children die with the process that started them
		return PollResult{Status: models.AttemptKilled}, nil
	}
	return job.result, nil
}

func (b *Local) Cancel(_ context.Context, jobID string) error {
	b.mu.Lock()
	job, ok := b.jobs[jobID]
	if ok && !job.result.Status.Terminal() {
		job.canceled = true
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	job.cancel()
	return nil
}

// Wait blocks until the job has exited
func (b *Local) Wait(ctx context.Context, jobID string) error {
	b.mu.Lock()
	job, ok := b.jobs[jobID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
