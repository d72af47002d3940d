// internal/drm/drm_test.go
package drm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

type call struct {
	stdin string
	name  string
	args  []string
}

type response struct {
	out string
	err error
}

// fakeRunner replies to commands by tool name, in order
type fakeRunner struct {
	mu        sync.Mutex
	calls     []call
	responses map[string][]response
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string][]response{}}
}

func (f *fakeRunner) on(name, out string, err error) *fakeRunner {
	f.responses[name] = append(f.responses[name], response{out, err})
	return f
}

func (f *fakeRunner) Run(_ context.Context, stdin, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{stdin, name, args})
	queue := f.responses[name]
	if len(queue) == 0 {
		return "", fmt.Errorf("unexpected call to %s", name)
	}
	r := queue[0]
	if len(queue) > 1 {
		f.responses[name] = queue[1:]
	}
	return r.out, r.err
}

func TestLSFSubmit(t *testing.T) {
	runner := newFakeRunner().on("bsub", "Job <4711> is submitted to queue <long>.\n", nil)
	b := NewLSF(LSFConfig{}, runner)

	id, err := b.Submit(context.Background(), JobSpec{
		Name:    "align-3",
		Command: "bwa mem ref.fa a.fq > a.sam",
		Resources: models.ResourceSpec{
			Queue: "long", Cores: 4, MemoryMB: 8000, Walltime: 90 * time.Minute,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "4711", id)

	require.Len(t, runner.calls, 1)
	c := runner.calls[0]
	assert.Equal(t, "bwa mem ref.fa a.fq > a.sam\n", c.stdin)
	args := strings.Join(c.args, " ")
	assert.Contains(t, args, "-J align-3")
	assert.Contains(t, args, "-q long")
	assert.Contains(t, args, "-n 4")
	assert.Contains(t, args, "-M 8000")
	assert.Contains(t, args, "rusage[mem=8000]")
	assert.Contains(t, args, "-W 1:30")
}

func TestLSFSubmitUnexpectedOutput(t *testing.T) {
	b := NewLSF(LSFConfig{}, newFakeRunner().on("bsub", "Request aborted by esub.", nil))
	_, err := b.Submit(context.Background(), JobSpec{Command: "true"})
	assert.Error(t, err)
}

func TestParseBjobs(t *testing.T) {
	exit := func(code int) *int { return &code }
	tests := []struct {
		out    string
		status models.AttemptStatus
		code   *int
		err    bool
	}{
		{"PEND|-|-|-|-", models.AttemptQueued, nil, false},
		{"RUN|-|1.2 second(s)|5 Mbytes|3 second(s)", models.AttemptRunning, nil, false},
		{"SSUSP|-|-|-|-", models.AttemptRunning, nil, false},
		{"DONE|-|10 second(s)|1 Gbytes|12 second(s)", models.AttemptSucceeded, exit(0), false},
		{"EXIT|137|1 second(s)|-|2 second(s)", models.AttemptFailed, exit(137), false},
		{"UNKWN|-|-|-|-", "", nil, true},
		{"garbage", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			res, err := parseBjobs(tt.out + "\n")
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.code, res.ExitStatus)
		})
	}

	res, err := parseBjobs("DONE|-|10 second(s)|1 Gbytes|12 second(s)")
	require.NoError(t, err)
	assert.Equal(t, "1 Gbytes", res.ResourceUsage["max_mem"])
	assert.Equal(t, "10 second(s)", res.ResourceUsage["cpu_used"])
}

func TestLSFPollUnknownJob(t *testing.T) {
	runner := newFakeRunner().on("bjobs", "", &CommandError{Command: "bjobs", ExitCode: 255, Stderr: "Job <9> is not found"})
	_, err := NewLSF(LSFConfig{}, runner).Poll(context.Background(), "9")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestSGESubmit(t *testing.T) {
	runner := newFakeRunner().on("qsub", "8812.1-1:1\n", nil)
	b := NewSGE(SGEConfig{ParallelEnv: "smp"}, runner)

	id, err := b.Submit(context.Background(), JobSpec{
		Name:      "3-call",
		Command:   "gatk HaplotypeCaller",
		Resources: models.ResourceSpec{Queue: "all.q", Cores: 2, MemoryMB: 4096, Walltime: 2*time.Hour + 5*time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, "8812", id)

	args := strings.Join(runner.calls[0].args, " ")
	assert.Contains(t, args, "-terse")
	assert.Contains(t, args, "-N j3-call")
	assert.Contains(t, args, "-q all.q")
	assert.Contains(t, args, "-pe smp 2")
	assert.Contains(t, args, "h_vmem=4096M")
	assert.Contains(t, args, "h_rt=02:00:05")
}

func TestSGESupportsCoresOnlyWithParallelEnv(t *testing.T) {
	assert.False(t, NewSGE(SGEConfig{}, nil).Supports().Cores)
	assert.True(t, NewSGE(SGEConfig{ParallelEnv: "smp"}, nil).Supports().Cores)
	assert.NotContains(t, NewSGE(SGEConfig{}, nil).SubmitArgs(JobSpec{Resources: models.ResourceSpec{Cores: 4}}), "-pe")
}

const qstatListing = `job-ID  prior   name       user         state submit/start at     queue                          slots ja-task-ID
-----------------------------------------------------------------------------------------------------------------
   8812 0.55500 j3-call    alice        r     10/19/2026 10:00:01 all.q@node01                       2
   8813 0.00000 j4-call    alice        qw    10/19/2026 10:00:02                                    1
   8814 0.00000 j5-call    alice        Eqw   10/19/2026 10:00:03                                    1
`

const qacctReport = `==============================================================
qname        all.q
hostname     node01
jobnumber    8815
failed       0
exit_status  0
ru_wallclock 42s
cpu          40.1s
maxvmem      1.2G
`

func TestSGEPoll(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		job    string
		status models.AttemptStatus
		err    error
	}{
		{"running", newFakeRunner().on("qstat", qstatListing, nil), "8812", models.AttemptRunning, nil},
		{"queued", newFakeRunner().on("qstat", qstatListing, nil), "8813", models.AttemptQueued, nil},
		{"error state", newFakeRunner().on("qstat", qstatListing, nil).on("qdel", "", nil), "8814", models.AttemptFailed, nil},
		{"finished", newFakeRunner().on("qstat", qstatListing, nil).on("qacct", qacctReport, nil), "8815", models.AttemptSucceeded, nil},
		{"failed exit", newFakeRunner().on("qstat", "", nil).on("qacct", strings.Replace(qacctReport, "exit_status  0", "exit_status  1", 1), nil), "8815", models.AttemptFailed, nil},
		{"no accounting yet", newFakeRunner().on("qstat", "", nil).on("qacct", "", &CommandError{Command: "qacct", ExitCode: 1}), "8816", "", ErrUnknownJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewSGE(SGEConfig{}, tt.runner).Poll(context.Background(), tt.job)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
		})
	}
}

func TestSGEPollDeletesJobInErrorState(t *testing.T) {
	runner := newFakeRunner().on("qstat", qstatListing, nil).on("qdel", "", nil)
	res, err := NewSGE(SGEConfig{}, runner).Poll(context.Background(), "8814")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, res.Status)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "qdel", runner.calls[1].name)
	assert.Equal(t, []string{"8814"}, runner.calls[1].args)

	// the failure is only reported once the job is gone
	runner = newFakeRunner().on("qstat", qstatListing, nil).on("qdel", "", &CommandError{Command: "qdel", ExitCode: 1})
	_, err = NewSGE(SGEConfig{}, runner).Poll(context.Background(), "8814")
	assert.Error(t, err)
}

func TestParseQacctUsage(t *testing.T) {
	res, err := parseQacct(qacctReport)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSucceeded, res.Status)
	require.NotNil(t, res.ExitStatus)
	assert.Equal(t, 0, *res.ExitStatus)
	assert.Equal(t, "1.2G", res.ResourceUsage["maxvmem"])
	assert.Equal(t, "node01", res.ResourceUsage["hostname"])

	res, err = parseQacct(strings.Replace(qacctReport, "failed       0", "failed       100 : assumedly after job", 1))
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, res.Status)
}

// fakeBackend scripts poll results and counts calls
type fakeBackend struct {
	support   Support
	submitErr error
	submitted []JobSpec
	polls     int
	pollErrs  int
	pollRes   PollResult
}

func (f *fakeBackend) Name() string      { return "fake" }
func (f *fakeBackend) Supports() Support { return f.support }

func (f *fakeBackend) Submit(_ context.Context, spec JobSpec) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, spec)
	return fmt.Sprint(len(f.submitted)), nil
}

func (f *fakeBackend) Poll(context.Context, string) (PollResult, error) {
	f.polls++
	if f.polls <= f.pollErrs {
		return PollResult{}, errors.New("connection refused")
	}
	return f.pollRes, nil
}

func (f *fakeBackend) Cancel(context.Context, string) error { return nil }

func fastOptions() Options {
	return Options{CallTimeout: time.Second, PollRetries: 2, PollBackoff: time.Millisecond}
}

func TestClientSubmitDropsUnsupportedOptions(t *testing.T) {
	backend := &fakeBackend{support: Support{Queue: true}}
	c := NewClient(backend, fastOptions(), logr.Discard())

	for i := 0; i < 2; i++ {
		_, err := c.Submit(context.Background(), JobSpec{
			Command:   "true",
			Resources: models.ResourceSpec{Queue: "short", Cores: 8, Walltime: time.Hour},
		})
		require.NoError(t, err)
	}
	require.Len(t, backend.submitted, 2)
	assert.Equal(t, models.ResourceSpec{Queue: "short"}, backend.submitted[0].Resources)

	warned := 0
	c.warned.Range(func(_, _ any) bool { warned++; return true })
	assert.Equal(t, 2, warned)
}

func TestClientSubmitErrors(t *testing.T) {
	c := NewClient(&fakeBackend{submitErr: errors.New("LSF is down")}, fastOptions(), logr.Discard())

	_, err := c.Submit(context.Background(), JobSpec{Command: "true"})
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Contains(t, err.Error(), "LSF is down")

	_, err = c.Submit(context.Background(), JobSpec{Command: "  "})
	assert.ErrorIs(t, err, ErrSubmission)

	_, err = c.Submit(context.Background(), JobSpec{Command: "true", Resources: models.ResourceSpec{Cores: -2}})
	assert.ErrorIs(t, err, ErrSubmission)
}

func TestClientPollRetries(t *testing.T) {
	backend := &fakeBackend{pollErrs: 2, pollRes: PollResult{Status: models.AttemptRunning}}
	c := NewClient(backend, fastOptions(), logr.Discard())

	res, err := c.Poll(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptRunning, res.Status)
	assert.Equal(t, 3, backend.polls)
}

func TestClientPollStatusUnknown(t *testing.T) {
	backend := &fakeBackend{pollErrs: 10}
	c := NewClient(backend, fastOptions(), logr.Discard())

	_, err := c.Poll(context.Background(), "1")
	assert.ErrorIs(t, err, ErrStatusUnknown)
	assert.Equal(t, 3, backend.polls)
}

func TestNewSelectsBackend(t *testing.T) {
	for _, name := range []string{BackendLSF, BackendSGE, BackendLocal} {
		c, err := New(Config{Backend: name}, newFakeRunner(), logr.Discard())
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	_, err := New(Config{Backend: "pbs"}, nil, logr.Discard())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLocalBackend(t *testing.T) {
	dir := t.TempDir()
	b := NewLocal()
	ctx := context.Background()

	id, err := b.Submit(ctx, JobSpec{Command: "echo hello", Stdout: filepath.Join(dir, "logs", "out.txt")})
	require.NoError(t, err)
	require.NoError(t, b.Wait(ctx, id))

	res, err := b.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSucceeded, res.Status)
	out, err := os.ReadFile(filepath.Join(dir, "logs", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	id, err = b.Submit(ctx, JobSpec{Command: "exit 3"})
	require.NoError(t, err)
	require.NoError(t, b.Wait(ctx, id))
	res, err = b.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, res.Status)
	assert.Equal(t, 3, *res.ExitStatus)

	id, err = b.Submit(ctx, JobSpec{Command: "sleep 30"})
	require.NoError(t, err)
	require.NoError(t, b.Cancel(ctx, id))
	require.NoError(t, b.Wait(ctx, id))
	res, err = b.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptKilled, res.Status)

	res, err = b.Poll(ctx, "99")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptKilled, res.Status)
}

func TestLocalJobsFromEarlierRunAreKilled(t *testing.T) {
	ctx := context.Background()
	before := NewLocal()
	id, err := before.Submit(ctx, JobSpec{Command: "true"})
	require.NoError(t, err)
	require.NoError(t, before.Wait(ctx, id))

	after := NewLocal()
	next, err := after.Submit(ctx, JobSpec{Command: "true"})
	require.NoError(t, err)
	assert.NotEqual(t, id, next)

	res, err := after.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptKilled, res.Status)
	assert.True(t, res.Status.Terminal())
	require.NoError(t, after.Wait(ctx, next))
}
