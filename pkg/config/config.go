// Package config provides configuration for a state-machine apply engine
// instance and the surfaces (control API, consensus feed) wired around it.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for one (table, partition) engine instance.
type Config struct {
	// Identity, immutable for the lifetime of the instance.
	Name      string `mapstructure:"name"`
	Table     string `mapstructure:"table"`
	Partition uint32 `mapstructure:"partition"`
	RootDir   string `mapstructure:"root_dir"`

	// Snapshot policy.
	SnapshotPrefix       string `mapstructure:"snapshot_prefix"`
	MaxRetainedSnapshots int    `mapstructure:"max_retained_snapshots"`

	// Serialized inbox.
	InboxSize int `mapstructure:"inbox_size"`

	// Control API surfaces.
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`

	// Caller-side timeouts for synchronous control RPCs. The engine itself
	// never enforces these. They are loaded and defaulted here only:
	// controlapi and cmd/engined do not read them, and a control RPC waits
	// on the engine for as long as the request's own context allows.
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	StatusTimeout       time.Duration `mapstructure:"status_timeout"`
	SnapshotTimeout     time.Duration `mapstructure:"snapshot_timeout"`
	ReadMetadataTimeout time.Duration `mapstructure:"read_metadata_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`

	// Consensus feed (asynchronous producer).
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaGroup   string   `mapstructure:"kafka_group"`

	// Auth guard in front of the control API.
	AuthSecret string `mapstructure:"auth_secret"`

	// Supervisor.
	SnapshotScheduleCron string `mapstructure:"snapshot_schedule_cron"`
}

// DefaultConfig returns a configuration with sensible defaults, following
// the conservative constants named in the design (MAX_RETAINED_SNAPSHOT=1).
func DefaultConfig() *Config {
	return &Config{
		Name:                 "engine-0",
		Table:                "default",
		Partition:            0,
		RootDir:              "./data",
		SnapshotPrefix:       "snapshot",
		MaxRetainedSnapshots: 1,
		InboxSize:            256,
		GRPCAddr:             ":9091",
		HTTPAddr:             ":8081",
		OpenTimeout:          2 * time.Second,
		StatusTimeout:        2 * time.Second,
		SnapshotTimeout:      30 * time.Second,
		ReadMetadataTimeout:  2 * time.Second,
		ReadTimeout:          2 * time.Second,
		KafkaTopic:           "raftengine.committed",
		KafkaGroup:           "raftengine",
		SnapshotScheduleCron: "0 */5 * * * *",
	}
}

// Load reads configuration from a file (any format viper supports) layered
// over environment variables and the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that would violate an engine invariant.
func (c *Config) Validate() error {
	if c.Table == "" {
		return fmt.Errorf("config: table must not be empty")
	}
	if c.RootDir == "" {
		return fmt.Errorf("config: root_dir must not be empty")
	}
	if c.SnapshotPrefix == "" {
		return fmt.Errorf("config: snapshot_prefix must not be empty")
	}
	if c.MaxRetainedSnapshots < 1 {
		return fmt.Errorf("config: max_retained_snapshots must be >= 1")
	}
	if c.InboxSize < 1 {
		return fmt.Errorf("config: inbox_size must be >= 1")
	}
	return nil
}
