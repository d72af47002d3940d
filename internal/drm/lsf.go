// internal/drm/lsf.go
package drm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

var lsfSubmitted = regexp.MustCompile(`Job <(\d+)> is submitted`)

// lsfFormat asks bjobs for fixed, delimiter separated columns
const lsfFormat = "stat exit_code cpu_used max_mem run_time delimiter='|'"

// LSF drives IBM Spectrum LSF through bsub, bjobs and bkill
type LSF struct {
	cfg    LSFConfig
	runner Runner
}

func NewLSF(cfg LSFConfig, runner Runner) *LSF {
	cfg.Bsub = orDefault(cfg.Bsub, "bsub")
	cfg.Bjobs = orDefault(cfg.Bjobs, "bjobs")
	cfg.Bkill = orDefault(cfg.Bkill, "bkill")
	return &LSF{cfg: cfg, runner: runner}
}

func (b *LSF) Name() string { return BackendLSF }

func (b *LSF) Supports() Support {
	return Support{Queue: true, Cores: true, Memory: true, Walltime: true}
}

// SubmitArgs renders the bsub flags for spec. The job script is read from stdin.
func (b *LSF) SubmitArgs(spec JobSpec) []string {
	var args []string
	if spec.Name != "" {
		args = append(args, "-J", spec.Name)
	}
	if spec.WorkDir != "" {
		args = append(args, "-cwd", spec.WorkDir)
	}
	if spec.Stdout != "" {
		args = append(args, "-o", spec.Stdout)
	}
	if spec.Stderr != "" {
		args = append(args, "-e", spec.Stderr)
	}

	res := spec.Resources
	if res.Queue != "" {
		args = append(args, "-q", res.Queue)
	}
	if res.Cores > 0 {
		args = append(args, "-n", strconv.Itoa(res.Cores), "-R", "span[hosts=1]")
	}
	if res.MemoryMB > 0 {
		args = append(args, "-M", strconv.Itoa(res.MemoryMB), "-R", fmt.Sprintf("rusage[mem=%d]", res.MemoryMB))
	}
	if res.Walltime > 0 {
		minutes := int(res.Walltime.Minutes())
		if minutes < 1 {
			minutes = 1
		}
		args = append(args, "-W", fmt.Sprintf("%d:%02d", minutes/60, minutes%60))
	}
	return args
}

func (b *LSF) Submit(ctx context.Context, spec JobSpec) (string, error) {
	out, err := b.runner.Run(ctx, spec.Command+"\n", b.cfg.Bsub, b.SubmitArgs(spec)...)
	if err != nil {
		return "", err
	}
	m := lsfSubmitted.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected bsub output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

func (b *LSF) Poll(ctx context.Context, jobID string) (PollResult, error) {
	out, err := b.runner.Run(ctx, "", b.cfg.Bjobs, "-noheader", "-o", lsfFormat, jobID)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr+out, "not found") {
			return PollResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
		}
		return PollResult{}, err
	}
	if strings.Contains(out, "is not found") {
		return PollResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return parseBjobs(out)
}

func (b *LSF) Cancel(ctx context.Context, jobID string) error {
	_, err := b.runner.Run(ctx, "", b.cfg.Bkill, jobID)
	return err
}

// parseBjobs maps one "stat|exit_code|cpu_used|max_mem|run_time" line
func parseBjobs(out string) (PollResult, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	fields := strings.Split(line, "|")
	if len(fields) < 2 {
		return PollResult{}, fmt.Errorf("unexpected bjobs output: %q", line)
	}

	res := PollResult{ResourceUsage: map[string]string{}}
	for i, key := range []string{"", "", "cpu_used", "max_mem", "run_time"} {
		if key == "" || i >= len(fields) {
			continue
		}
		if v := strings.TrimSpace(fields[i]); v != "" && v != "-" {
			res.ResourceUsage[key] = v
		}
	}

	exit := strings.TrimSpace(fields[1])
	switch stat := strings.TrimSpace(fields[0]); stat {
	case "PEND", "PSUSP":
		res.Status = models.AttemptQueued
	case "RUN", "PROV", "USUSP", "SSUSP", "WAIT":
		res.Status = models.AttemptRunning
	case "DONE":
		code := 0
		res.Status = models.AttemptSucceeded
		res.ExitStatus = &code
	case "EXIT":
		res.Status = models.AttemptFailed
		if code, err := strconv.Atoi(exit); err == nil {
			res.ExitStatus = &code
		}
	default:
		// UNKWN and ZOMBI mean the master lost track of the host
		return PollResult{}, fmt.Errorf("unresolved LSF state %q", stat)
	}
	return res, nil
}
