// Package config provides configuration for the streamsift service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is the master configuration for both pipelines and the shared
// infrastructure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	StateStore StateStoreConfig `mapstructure:"state_store"`
	ES         ESConfig         `mapstructure:"es"`
	CA         CAConfig         `mapstructure:"ca"`
}

// ServerConfig holds the metrics/health listener settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BrokerConfig holds the partitioned stream coordinates. Each pipeline
// consumes the same stream under its own consumer group.
type BrokerConfig struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Partitions    int    `mapstructure:"partitions"`
	BatchSize     int    `mapstructure:"batch_size"`
	ESGroup       string `mapstructure:"es_group"`
	CAGroup       string `mapstructure:"ca_group"`
}

// StateStoreConfig holds the lease/checkpoint store coordinates.
type StateStoreConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ESConfig holds the search sink settings.
type ESConfig struct {
	URL                    string        `mapstructure:"url"`
	Username               string        `mapstructure:"username"`
	Password               string        `mapstructure:"password"`
	Insecure               bool          `mapstructure:"insecure"`
	StatsEnabled           bool          `mapstructure:"stats_enabled"`
	MaxFailedDocRetries    int           `mapstructure:"max_failed_doc_retries"`
	MaxAbandonedDocRetries int           `mapstructure:"max_abandoned_doc_retries"`
	CheckpointInterval     time.Duration `mapstructure:"checkpoint_interval"`
}

// CAConfig holds the analytics sink settings.
type CAConfig struct {
	NotificationEndpoint string        `mapstructure:"notification_endpoint"`
	InstrumentationKey   string        `mapstructure:"instrumentation_key"`
	BaseContainer        string        `mapstructure:"base_container"`
	BufferCapacity       int           `mapstructure:"buffer_capacity"`
	Compress             bool          `mapstructure:"compress"`
	Accounts             string        `mapstructure:"accounts"`
	AccountsFile         string        `mapstructure:"accounts_file"`
	StatsEnabled         bool          `mapstructure:"stats_enabled"`
	CheckpointInterval   time.Duration `mapstructure:"checkpoint_interval"`
	LogSchemaID          string        `mapstructure:"log_schema_id"`
	InteractionsSchemaID string        `mapstructure:"interactions_schema_id"`
}

// LogSchemaUUID parses the configured Log schema id.
func (c CAConfig) LogSchemaUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.LogSchemaID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse log_schema_id: %w", err)
	}
	return id, nil
}

// InteractionsSchemaUUID parses the configured Interactions schema id.
func (c CAConfig) InteractionsSchemaUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.InteractionsSchemaID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse interactions_schema_id: %w", err)
	}
	return id, nil
}

// Load reads configuration from the optional file path, with environment
// overrides under the STREAMSIFT_ prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STREAMSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8098)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("broker.url", "nats://localhost:4222")
	v.SetDefault("broker.stream", "EVENTS")
	v.SetDefault("broker.subject_prefix", "events")
	v.SetDefault("broker.partitions", 4)
	v.SetDefault("broker.batch_size", 100)
	v.SetDefault("broker.es_group", "streamsift-es")
	v.SetDefault("broker.ca_group", "streamsift-ca")

	v.SetDefault("state_store.addr", "localhost:6379")
	v.SetDefault("state_store.key_prefix", "streamsift:checkpoints")

	v.SetDefault("es.url", "http://localhost:9200")
	v.SetDefault("es.stats_enabled", true)
	v.SetDefault("es.max_failed_doc_retries", 10)
	v.SetDefault("es.max_abandoned_doc_retries", 10)
	v.SetDefault("es.checkpoint_interval", time.Minute)

	v.SetDefault("ca.base_container", "openschema")
	v.SetDefault("ca.buffer_capacity", 1<<20)
	v.SetDefault("ca.compress", true)
	v.SetDefault("ca.stats_enabled", true)
	v.SetDefault("ca.checkpoint_interval", 3*time.Minute)
}
