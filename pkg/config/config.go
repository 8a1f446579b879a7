// Package config loads the gojokv configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sushant-115/gojokv/core/checkpoint"
	"github.com/sushant-115/gojokv/core/storage_engine/kvstore"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
	"github.com/sushant-115/gojokv/pkg/logger"
	"github.com/sushant-115/gojokv/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Logger     logger.Config    `yaml:"logger"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Storage    StorageConfig    `yaml:"storage"`
	WAL        WALConfig        `yaml:"wal"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

type StorageConfig struct {
	// DataDir holds the log and the checkpoint snapshot.
	DataDir        string `yaml:"data_dir"`
	WALFile        string `yaml:"wal_file"`
	CheckpointFile string `yaml:"checkpoint_file"`
	// Backend is "sharded" or "btree".
	Backend string `yaml:"backend"`
	Shards  int    `yaml:"shards"`
}

type WALConfig struct {
	// SyncEvery fsyncs the log after this many appends. 1 syncs every append.
	SyncEvery int `yaml:"sync_every"`
}

type CheckpointConfig struct {
	// Interval between background checkpoints. 0 disables them.
	Interval           time.Duration `yaml:"interval"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	SlowBarrierWarning time.Duration `yaml:"slow_barrier_warning"`
	BatchSize          int           `yaml:"batch_size"`
	BytesPerSecond     int64         `yaml:"bytes_per_second"`
}

// Default returns a configuration that works without a file.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "gojokv",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
		Storage: StorageConfig{
			DataDir:        "data",
			WALFile:        wal.DefaultLogFileName,
			CheckpointFile: checkpoint.DefaultCheckpointFileName,
			Backend:        kvstore.BackendSharded,
			Shards:         kvstore.DefaultShards,
		},
		WAL: WALConfig{SyncEvery: 1},
		Checkpoint: CheckpointConfig{
			Interval:           time.Minute,
			PollInterval:       checkpoint.DefaultPollInterval,
			SlowBarrierWarning: checkpoint.DefaultSlowBarrierWarning,
			BatchSize:          checkpoint.DefaultBatchSize,
		},
	}
}

// Load reads path on top of Default. Fields missing from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a file could get wrong.
func (c Config) Validate() error {
	var errs []error
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must be set"))
	}
	if c.Storage.WALFile == "" {
		errs = append(errs, errors.New("storage.wal_file must be set"))
	}
	if c.Storage.CheckpointFile == "" {
		errs = append(errs, errors.New("storage.checkpoint_file must be set"))
	}
	if c.Storage.WALFile == c.Storage.CheckpointFile {
		errs = append(errs, errors.New("storage.wal_file and storage.checkpoint_file must differ"))
	}
	switch c.Storage.Backend {
	case kvstore.BackendSharded, kvstore.BackendBTree:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of %q, %q",
			c.Storage.Backend, kvstore.BackendSharded, kvstore.BackendBTree))
	}
	if c.Storage.Shards < 0 {
		errs = append(errs, errors.New("storage.shards must not be negative"))
	}
	if c.WAL.SyncEvery < 0 {
		errs = append(errs, errors.New("wal.sync_every must not be negative"))
	}
	if c.Checkpoint.Interval < 0 {
		errs = append(errs, errors.New("checkpoint.interval must not be negative"))
	}
	if c.Checkpoint.PollInterval < 0 {
		errs = append(errs, errors.New("checkpoint.poll_interval must not be negative"))
	}
	if c.Checkpoint.BatchSize < 0 {
		errs = append(errs, errors.New("checkpoint.batch_size must not be negative"))
	}
	if c.Checkpoint.BytesPerSecond < 0 {
		errs = append(errs, errors.New("checkpoint.bytes_per_second must not be negative"))
	}
	return errors.Join(errs...)
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
