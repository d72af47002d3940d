// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/genoflow/internal/controller"
	"github.com/fawad-mazhar/genoflow/internal/drm"
	"github.com/fawad-mazhar/genoflow/internal/pipeline"
)

const sample = `
storage:
  driver: postgres
  postgres:
    url: postgres://genoflow@localhost/genoflow?sslmode=disable
drm:
  backend: sge
  poll_retries: 5
  sge:
    parallel_env: smp
scheduler:
  max_retries: 0
  max_in_flight: 20
  poll_interval: 30s
resources:
  queue: short
  memory_mb: 4096
  walltime: 2h
output_root: /scratch/out
rules:
  - name: align
    inputs: [reads]
    outputs: [bam]
    command: bwa mem {{one .Inputs.reads}} > {{.Outputs.bam}}
    resources:
      cores: 8
pipeline:
  name: variants
  inputs:
    - name: fastq
      tags: {sample: A}
      outputs: {reads: /data/A.fq}
  steps:
    - kind: apply
      rule: align
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://genoflow@localhost/genoflow?sslmode=disable", cfg.Storage.Postgres.URL)

	assert.Equal(t, drm.BackendSGE, cfg.DRM.Backend)
	assert.Equal(t, uint64(5), cfg.DRM.PollRetries)
	assert.Equal(t, "smp", cfg.DRM.SGE.ParallelEnv)
	assert.Equal(t, drm.DefaultCallTimeout, cfg.DRM.CallTimeout)

	// an explicit zero is kept, not replaced by the default
	assert.Equal(t, 0, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 20, cfg.Scheduler.MaxInFlight)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)

	assert.Equal(t, "short", cfg.Resources.Queue)
	assert.Equal(t, 1, cfg.Resources.Cores)
	assert.Equal(t, 2*time.Hour, cfg.Resources.Walltime)
	assert.Equal(t, cfg.Resources, cfg.Scheduler.Defaults)

	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, 8, cfg.Rules[0].Resources.Cores)
	assert.Equal(t, "variants", cfg.Pipeline.Name)
	require.Len(t, cfg.Pipeline.Steps, 1)
	assert.Equal(t, pipeline.StepApply, cfg.Pipeline.Steps[0].Kind)
	assert.Equal(t, "/data/A.fq", cfg.Pipeline.Inputs[0].Outputs["reads"])
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, StorageLevelDB, cfg.Storage.Driver)
	assert.Equal(t, DefaultLevelDBPath, cfg.Storage.LevelDB.Path)
	assert.Equal(t, drm.BackendLocal, cfg.DRM.Backend)
	assert.Equal(t, DefaultMaxRetries, cfg.Scheduler.MaxRetries)
	assert.Equal(t, DefaultOutputRoot, cfg.OutputRoot)
	assert.Equal(t, DefaultPipelineName, cfg.Pipeline.Name)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, DefaultSubjectPrefix, cfg.NATS.SubjectPrefix)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GENOFLOW_SERVER_PORT", "9090")
	t.Setenv("GENOFLOW_DRM_BACKEND", "lsf")
	t.Setenv("GENOFLOW_MAX_IN_FLIGHT", "5")
	t.Setenv("GENOFLOW_POLL_INTERVAL", "1m")
	t.Setenv("GENOFLOW_DEFAULT_QUEUE", "long")
	t.Setenv("GENOFLOW_NATS_URL", "nats://localhost:4222")
	t.Setenv("GENOFLOW_RESUME", "wf-1")
	// malformed numbers fall back to the file value
	t.Setenv("GENOFLOW_SUBMIT_WORKERS", "many")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, drm.BackendLSF, cfg.DRM.Backend)
	assert.Equal(t, 5, cfg.Scheduler.MaxInFlight)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, "long", cfg.Resources.Queue)
	assert.Equal(t, "long", cfg.Scheduler.Defaults.Queue)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "wf-1", cfg.Resume)
	assert.Equal(t, controller.DefaultSubmitWorkers, cfg.Scheduler.SubmitWorkers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errMsg string
	}{
		{"postgres without url", "storage: {driver: postgres}", "storage.postgres.url"},
		{"unknown driver", "storage: {driver: mongo}", "unknown storage driver"},
		{"unknown backend", "drm: {backend: pbs}", "unknown resource manager backend"},
		{"negative retries", "scheduler: {max_retries: -1}", "max_retries"},
		{"zero in flight", "scheduler: {max_in_flight: 0}", "max_in_flight"},
		{"zero poll interval", "scheduler: {poll_interval: 0s}", "poll_interval"},
		{"negative memory", "resources: {memory_mb: -1}", "memory_mb"},
		{"empty output root", `output_root: ""`, "output_root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/scratch/out", cfg.OutputRoot)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
