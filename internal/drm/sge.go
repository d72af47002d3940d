// internal/drm/sge.go
package drm

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

// SGE drives Sun/Univa/Son of Grid Engine through qsub, qstat, qacct and qdel.
// Running jobs are found in qstat; finished jobs only appear in qacct.
type SGE struct {
	cfg    SGEConfig
	runner Runner
}

func NewSGE(cfg SGEConfig, runner Runner) *SGE {
	cfg.Qsub = orDefault(cfg.Qsub, "qsub")
	cfg.Qstat = orDefault(cfg.Qstat, "qstat")
	cfg.Qacct = orDefault(cfg.Qacct, "qacct")
	cfg.Qdel = orDefault(cfg.Qdel, "qdel")
	return &SGE{cfg: cfg, runner: runner}
}

func (b *SGE) Name() string { return BackendSGE }

// Supports reports cores only when a parallel environment is configured
func (b *SGE) Supports() Support {
	return Support{Queue: true, Cores: b.cfg.ParallelEnv != "", Memory: true, Walltime: true}
}

// SubmitArgs renders the qsub flags for spec. The job script is read from stdin.
func (b *SGE) SubmitArgs(spec JobSpec) []string {
	args := []string{"-terse", "-S", "/bin/sh"}
	if spec.Name != "" {
		args = append(args, "-N", sgeJobName(spec.Name))
	}
	if spec.WorkDir != "" {
		args = append(args, "-wd", spec.WorkDir)
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
	if res.Cores > 0 && b.cfg.ParallelEnv != "" {
		args = append(args, "-pe", b.cfg.ParallelEnv, strconv.Itoa(res.Cores))
	}
	if res.MemoryMB > 0 {
		args = append(args, "-l", fmt.Sprintf("h_vmem=%dM", res.MemoryMB))
	}
	if res.Walltime > 0 {
		args = append(args, "-l", "h_rt="+sgeDuration(res.Walltime))
	}
	return args
}

func (b *SGE) Submit(ctx context.Context, spec JobSpec) (string, error) {
	out, err := b.runner.Run(ctx, spec.Command+"\n", b.cfg.Qsub, b.SubmitArgs(spec)...)
	if err != nil {
		return "", err
	}
	// -terse prints "123" or "123.1-10:1" for array jobs
	id := strings.TrimSpace(out)
	if i := strings.IndexAny(id, ".\n"); i >= 0 {
		id = id[:i]
	}
	if _, err := strconv.Atoi(id); err != nil {
		return "", fmt.Errorf("unexpected qsub output: %q", strings.TrimSpace(out))
	}
	return id, nil
}

func (b *SGE) Poll(ctx context.Context, jobID string) (PollResult, error) {
	out, err := b.runner.Run(ctx, "", b.cfg.Qstat, "-u", "*")
	if err != nil {
		return PollResult{}, err
	}
	if state, ok := qstatState(out, jobID); ok {
		res, err := mapQstatState(state)
		if err == nil && res.Status == models.AttemptFailed {
			// a job in an error state stays in the queue until deleted
			if err := b.Cancel(ctx, jobID); err != nil {
				return PollResult{}, fmt.Errorf("failed to delete job %s in error state: %w", jobID, err)
			}
		}
		return res, err
	}

	out, err = b.runner.Run(ctx, "", b.cfg.Qacct, "-j", jobID)
	if err != nil {
		// accounting is written asynchronously after the job leaves qstat
		return PollResult{}, fmt.Errorf("%w: %s: %w", ErrUnknownJob, jobID, err)
	}
	return parseQacct(out)
}

func (b *SGE) Cancel(ctx context.Context, jobID string) error {
	_, err := b.runner.Run(ctx, "", b.cfg.Qdel, jobID)
	return err
}

// qstatState finds the state column of jobID in a qstat listing
func qstatState(out, jobID string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 5 && fields[0] == jobID {
			return fields[4], true
		}
	}
	return "", false
}

func mapQstatState(state string) (PollResult, error) {
	switch {
	case strings.Contains(state, "E"):
		return PollResult{Status: models.AttemptFailed}, nil
	case strings.Contains(state, "d"):
		return PollResult{Status: models.AttemptKilled}, nil
	case strings.Contains(state, "r"), strings.Contains(state, "t"),
		strings.Contains(state, "s"), strings.Contains(state, "S"), strings.Contains(state, "T"):
		return PollResult{Status: models.AttemptRunning}, nil
	case strings.Contains(state, "qw"), strings.Contains(state, "h"):
		return PollResult{Status: models.AttemptQueued}, nil
	default:
		return PollResult{}, fmt.Errorf("unresolved SGE state %q", state)
	}
}

// parseQacct reads the key/value report qacct -j prints for a finished job
func parseQacct(out string) (PollResult, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		values[fields[0]] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
	}

	exitRaw, ok := values["exit_status"]
	if !ok {
		return PollResult{}, fmt.Errorf("qacct output has no exit_status")
	}
	exitFields := strings.Fields(exitRaw)
	code, err := strconv.Atoi(exitFields[0])
	if err != nil {
		return PollResult{}, fmt.Errorf("invalid qacct exit_status %q", exitRaw)
	}

	res := PollResult{ExitStatus: &code, ResourceUsage: map[string]string{}}
	for _, key := range []string{"ru_wallclock", "cpu", "maxvmem", "hostname"} {
		if v, ok := values[key]; ok {
			res.ResourceUsage[key] = v
		}
	}

	failed := "0"
	if f := strings.Fields(values["failed"]); len(f) > 0 {
		failed = f[0]
	}
	switch {
	case failed != "0":
		res.Status = models.AttemptFailed
		res.ResourceUsage["failed"] = values["failed"]
	case code != 0:
		res.Status = models.AttemptFailed
	default:
		res.Status = models.AttemptSucceeded
	}
	return res, nil
}

func sgeDuration(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// sgeJobName strips characters qsub rejects in -N
func sgeJobName(name string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "@", "_", "\\", "_", "*", "_", "?", "_", " ", "_")
	name = r.Replace(name)
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "j" + name
	}
	return name
}
