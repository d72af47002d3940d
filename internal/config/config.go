// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fawad-mazhar/genoflow/internal/controller"
	"github.com/fawad-mazhar/genoflow/internal/drm"
	"github.com/fawad-mazhar/genoflow/internal/log"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/pipeline"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Storage    StorageConfig       `yaml:"storage"`
	NATS       NATSConfig          `yaml:"nats"`
	DRM        drm.Config          `yaml:"drm"`
	Scheduler  controller.Config   `yaml:"scheduler"`
	Resources  models.ResourceSpec `yaml:"resources"`
	OutputRoot string              `yaml:"output_root"`
	Log        log.Options         `yaml:"log"`
	Rules      []rule.Definition   `yaml:"rules"`
	Pipeline   pipeline.Definition `yaml:"pipeline"`
	// Resume is the id of a stored workflow to continue instead of starting a new one
	Resume string `yaml:"resume"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// StorageConfig selects and configures the workflow store
type StorageConfig struct {
	Driver   string         `yaml:"driver"` // postgres or leveldb
	Postgres PostgresConfig `yaml:"postgres"`
	LevelDB  LevelDBConfig  `yaml:"leveldb"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// LevelDBConfig holds LevelDB configuration
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig holds the status event configuration. Events are disabled when URL is empty.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultStorageDriver      = StorageLevelDB
	DefaultLevelDBPath        = "./data/leveldb"
	DefaultSubjectPrefix      = "genoflow.status"
	DefaultOutputRoot         = "./output"
	DefaultMaxRetries         = 2
	DefaultLogLevel           = "info"
	DefaultPipelineName       = "genoflow"
)

const (
	StoragePostgres = "postgres"
	StorageLevelDB  = "leveldb"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         DefaultServerPort,
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Storage: StorageConfig{
			Driver:  DefaultStorageDriver,
			LevelDB: LevelDBConfig{Path: DefaultLevelDBPath},
		},
		NATS: NATSConfig{SubjectPrefix: DefaultSubjectPrefix},
		DRM: drm.Config{
			Backend:     drm.BackendLocal,
			CallTimeout: drm.DefaultCallTimeout,
			PollRetries: drm.DefaultPollRetries,
			PollBackoff: drm.DefaultPollBackoff,
		},
		Scheduler: controller.Config{
			MaxRetries:    DefaultMaxRetries,
			MaxInFlight:   controller.DefaultMaxInFlight,
			SubmitWorkers: controller.DefaultSubmitWorkers,
			PollInterval:  controller.DefaultPollInterval,
			DrainTimeout:  controller.DefaultDrainTimeout,
		},
		Resources:  models.ResourceSpec{Cores: 1},
		OutputRoot: DefaultOutputRoot,
		Log:        log.Options{Level: DefaultLogLevel},
		Pipeline:   pipeline.Definition{Name: DefaultPipelineName},
	}
}

// Load reads the YAML file at configPath, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// applyEnv overrides file values with GENOFLOW_* variables
func (c *Config) applyEnv() {
	c.Server = ServerConfig{
		Port:         getEnv("GENOFLOW_SERVER_PORT", c.Server.Port),
		ReadTimeout:  getEnvInt("GENOFLOW_SERVER_READ_TIMEOUT", c.Server.ReadTimeout),
		WriteTimeout: getEnvInt("GENOFLOW_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout),
	}

	c.Storage = StorageConfig{
		Driver:   getEnv("GENOFLOW_STORAGE_DRIVER", c.Storage.Driver),
		Postgres: PostgresConfig{URL: getEnv("GENOFLOW_POSTGRES_URL", c.Storage.Postgres.URL)},
		LevelDB:  LevelDBConfig{Path: getEnv("GENOFLOW_LEVELDB_PATH", c.Storage.LevelDB.Path)},
	}

	c.NATS = NATSConfig{
		URL:           getEnv("GENOFLOW_NATS_URL", c.NATS.URL),
		SubjectPrefix: getEnv("GENOFLOW_NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix),
	}

	c.DRM.Backend = getEnv("GENOFLOW_DRM_BACKEND", c.DRM.Backend)
	c.DRM.CallTimeout = getEnvDuration("GENOFLOW_DRM_CALL_TIMEOUT", c.DRM.CallTimeout)
	c.DRM.PollRetries = uint64(getEnvInt("GENOFLOW_DRM_POLL_RETRIES", int(c.DRM.PollRetries)))
	c.DRM.PollBackoff = getEnvDuration("GENOFLOW_DRM_POLL_BACKOFF", c.DRM.PollBackoff)
	c.DRM.SGE.ParallelEnv = getEnv("GENOFLOW_SGE_PARALLEL_ENV", c.DRM.SGE.ParallelEnv)

	c.Scheduler.MaxRetries = getEnvInt("GENOFLOW_MAX_RETRIES", c.Scheduler.MaxRetries)
	c.Scheduler.MaxInFlight = getEnvInt("GENOFLOW_MAX_IN_FLIGHT", c.Scheduler.MaxInFlight)
	c.Scheduler.SubmitWorkers = getEnvInt("GENOFLOW_SUBMIT_WORKERS", c.Scheduler.SubmitWorkers)
	c.Scheduler.PollInterval = getEnvDuration("GENOFLOW_POLL_INTERVAL", c.Scheduler.PollInterval)
	c.Scheduler.DrainTimeout = getEnvDuration("GENOFLOW_DRAIN_TIMEOUT", c.Scheduler.DrainTimeout)

	c.Resources.Queue = getEnv("GENOFLOW_DEFAULT_QUEUE", c.Resources.Queue)
	c.Resources.Cores = getEnvInt("GENOFLOW_DEFAULT_CORES", c.Resources.Cores)
	c.Resources.MemoryMB = getEnvInt("GENOFLOW_DEFAULT_MEMORY_MB", c.Resources.MemoryMB)
	c.Resources.Walltime = getEnvDuration("GENOFLOW_DEFAULT_WALLTIME", c.Resources.Walltime)
	c.Scheduler.Defaults = c.Resources

	c.OutputRoot = getEnv("GENOFLOW_OUTPUT_ROOT", c.OutputRoot)
	c.Resume = getEnv("GENOFLOW_RESUME", c.Resume)

	c.Log.Level = getEnv("GENOFLOW_LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = getEnv("GENOFLOW_LOG_ENCODING", c.Log.Encoding)
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url (or GENOFLOW_POSTGRES_URL) is required for the postgres driver")
		}
	case StorageLevelDB:
		if c.Storage.LevelDB.Path == "" {
			return fmt.Errorf("storage.leveldb.path is required for the leveldb driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.DRM.Backend {
	case drm.BackendLSF, drm.BackendSGE, drm.BackendLocal:
	default:
		return fmt.Errorf("%w: %q", drm.ErrUnknownBackend, c.DRM.Backend)
	}
	if c.DRM.CallTimeout <= 0 {
		return fmt.Errorf("drm.call_timeout must be positive")
	}

	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must not be negative")
	}
	if c.Scheduler.MaxInFlight <= 0 {
		return fmt.Errorf("scheduler.max_in_flight must be positive")
	}
	if c.Scheduler.SubmitWorkers <= 0 {
		return fmt.Errorf("scheduler.submit_workers must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.DrainTimeout <= 0 {
		return fmt.Errorf("scheduler.drain_timeout must be positive")
	}

	if err := c.Resources.Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output_root is required")
	}
	return nil
}
