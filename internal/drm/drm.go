// internal/drm/drm.go
package drm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

var (
	ErrSubmission     = errors.New("submission failed")
	ErrStatusUnknown  = errors.New("job status unknown")
	ErrUnknownBackend = errors.New("unknown resource manager backend")
	ErrUnknownJob     = errors.New("job not known to resource manager")
)

const (
	BackendLSF   = "lsf"
	BackendSGE   = "sge"
	BackendLocal = "local"
)

// JobSpec is everything a backend needs to queue one attempt
type JobSpec struct {
	Name      string
	Command   string
	WorkDir   string
	Stdout    string
	Stderr    string
	Resources models.ResourceSpec
}

// PollResult is the normalized view of a job's state
type PollResult struct {
	Status        models.AttemptStatus
	ExitStatus    *int
	ResourceUsage map[string]string
}

// Support lists the resource axes a backend can honour
type Support struct {
	Queue    bool
	Cores    bool
	Memory   bool
	Walltime bool
}

// Backend is one batch system. Implementations translate JobSpec into the
// system's submission syntax and its job states into AttemptStatus.
type Backend interface {
	Name() string
	Supports() Support
	Submit(ctx context.Context, spec JobSpec) (string, error)
	Poll(ctx context.Context, jobID string) (PollResult, error)
	Cancel(ctx context.Context, jobID string) error
}

// Config selects and tunes the resource-manager adapter
type Config struct {
	Backend     string        `yaml:"backend"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	PollRetries uint64        `yaml:"poll_retries"`
	PollBackoff time.Duration `yaml:"poll_backoff"`
	LSF         LSFConfig     `yaml:"lsf"`
	SGE         SGEConfig     `yaml:"sge"`
}

// LSFConfig holds the LSF command paths
type LSFConfig struct {
	Bsub  string `yaml:"bsub"`
	Bjobs string `yaml:"bjobs"`
	Bkill string `yaml:"bkill"`
}

// SGEConfig holds the SGE command paths and the parallel environment used for multi-core jobs
type SGEConfig struct {
	Qsub        string `yaml:"qsub"`
	Qstat       string `yaml:"qstat"`
	Qacct       string `yaml:"qacct"`
	Qdel        string `yaml:"qdel"`
	ParallelEnv string `yaml:"parallel_env"`
}

// New builds the guarded client for the configured backend
func New(cfg Config, runner Runner, logger logr.Logger) (*Client, error) {
	if runner == nil {
		runner = ExecRunner{}
	}

	var backend Backend
	switch cfg.Backend {
	case BackendLSF:
		backend = NewLSF(cfg.LSF, runner)
	case BackendSGE:
		backend = NewSGE(cfg.SGE, runner)
	case BackendLocal, "":
		backend = NewLocal()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	return NewClient(backend, Options{
		CallTimeout: cfg.CallTimeout,
		PollRetries: cfg.PollRetries,
		PollBackoff: cfg.PollBackoff,
	}, logger), nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
