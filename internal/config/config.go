// Package config loads the ackmux command configuration from a YAML file and
// ACKMUX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/miladsoleymani/ackmux/broker"
	"github.com/miladsoleymani/ackmux/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ACKMUX_"

// Config holds all configuration for the command.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Container ContainerConfig `yaml:"container"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Postgres  PostgresConfig  `yaml:"postgres"`
}

// BrokerConfig selects and configures the broker plugin.
type BrokerConfig struct {
	Type                  string         `yaml:"type"`
	Brokers               []string       `yaml:"brokers"`
	TransactionalIDPrefix string         `yaml:"transactional_id_prefix"`
	TransactionTimeout    time.Duration  `yaml:"transaction_timeout"`
	Extra                 map[string]any `yaml:"extra"`
}

// ContainerConfig mirrors core.Properties. Zero values keep the core defaults,
// except for the pointer fields, which are passed on whenever they are set.
type ContainerConfig struct {
	Topics                 []string       `yaml:"topics"`
	TopicPattern           string         `yaml:"topic_pattern"`
	GroupID                string         `yaml:"group_id"`
	ClientID               string         `yaml:"client_id"`
	AckMode                string         `yaml:"ack_mode"`
	AckCount               *int           `yaml:"ack_count"`
	AckTime                *time.Duration `yaml:"ack_time"`
	ShutdownTimeout        time.Duration  `yaml:"shutdown_timeout"`
	SyncCommitTimeout      time.Duration  `yaml:"sync_commit_timeout"`
	ConsumerStartTimeout   time.Duration  `yaml:"consumer_start_timeout"`
	MonitorInterval        time.Duration  `yaml:"monitor_interval"`
	NoPollThreshold        float64        `yaml:"no_poll_threshold"`
	IdleEventInterval      time.Duration  `yaml:"idle_event_interval"`
	IdleBetweenPolls       time.Duration  `yaml:"idle_between_polls"`
	PollTimeout            time.Duration  `yaml:"poll_timeout"`
	MaxPollRecords         int            `yaml:"max_poll_records"`
	AssignmentCommitOption string         `yaml:"assignment_commit_option"`
	AutoOffsetReset        string         `yaml:"auto_offset_reset"`
	EOSMode                string         `yaml:"eos_mode"`
	SubBatchPerPartition   *bool          `yaml:"sub_batch_per_partition"`
	StopOnFencing          bool           `yaml:"stop_on_fencing"`
	DeliveryAttemptHeader  bool           `yaml:"delivery_attempt_header"`
	MissingTopicsFatal     bool           `yaml:"missing_topics_fatal"`
	LogContainerConfig     bool           `yaml:"log_container_config"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled *bool             `yaml:"enabled"`
	Port    string            `yaml:"port"`
	Tags    map[string]string `yaml:"tags"`
}

// PostgresConfig enables the database participant when DSN is set.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// Load reads path, when given, and then applies environment overrides. A .env
// file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Broker.Type == "" {
		c.Broker.Type = "kafka"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Port == "" {
		c.Metrics.Port = "9090"
	}
}

// Validate checks the settings that core.NewProperties does not.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Broker.Brokers) == 0 {
		errs = append(errs, errors.New("broker.brokers is required"))
	}
	if c.Container.GroupID == "" {
		errs = append(errs, errors.New("container.group_id is required"))
	}
	return errors.Join(errs...)
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from ACKMUX_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	numRef := func(key string, dst **int) {
		if v, ok := lookup(EnvPrefix + key); !ok || v == "" {
			return
		}
		var n int
		num(key, &n)
		*dst = &n
	}
	durRef := func(key string, dst **time.Duration) {
		if v, ok := lookup(EnvPrefix + key); !ok || v == "" {
			return
		}
		var d time.Duration
		dur(key, &d)
		*dst = &d
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("BROKER_TYPE", &c.Broker.Type)
	list("BROKERS", &c.Broker.Brokers)
	str("TRANSACTIONAL_ID_PREFIX", &c.Broker.TransactionalIDPrefix)
	dur("TRANSACTION_TIMEOUT", &c.Broker.TransactionTimeout)

	list("TOPICS", &c.Container.Topics)
	str("TOPIC_PATTERN", &c.Container.TopicPattern)
	str("GROUP_ID", &c.Container.GroupID)
	str("CLIENT_ID", &c.Container.ClientID)
	str("ACK_MODE", &c.Container.AckMode)
	numRef("ACK_COUNT", &c.Container.AckCount)
	durRef("ACK_TIME", &c.Container.AckTime)
	dur("SHUTDOWN_TIMEOUT", &c.Container.ShutdownTimeout)
	dur("POLL_TIMEOUT", &c.Container.PollTimeout)
	num("MAX_POLL_RECORDS", &c.Container.MaxPollRecords)
	str("ASSIGNMENT_COMMIT_OPTION", &c.Container.AssignmentCommitOption)
	str("AUTO_OFFSET_RESET", &c.Container.AutoOffsetReset)
	str("EOS_MODE", &c.Container.EOSMode)
	flag("STOP_ON_FENCING", &c.Container.StopOnFencing)
	flag("DELIVERY_ATTEMPT_HEADER", &c.Container.DeliveryAttemptHeader)

	str("LOG_LEVEL", &c.Logging.Level)
	str("METRICS_PORT", &c.Metrics.Port)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContainerOptions converts the container settings to core options. Only the
// settings that were given are converted.
func (c *Config) ContainerOptions() ([]core.Option, error) {
	cc := c.Container
	var opts []core.Option
	if len(cc.Topics) > 0 {
		opts = append(opts, core.WithTopics(cc.Topics...))
	}
	if cc.TopicPattern != "" {
		opts = append(opts, core.WithTopicPattern(cc.TopicPattern))
	}
	if cc.GroupID != "" {
		opts = append(opts, core.WithGroupID(cc.GroupID))
	}
	if cc.ClientID != "" {
		opts = append(opts, core.WithClientID(cc.ClientID))
	}
	if cc.AckMode != "" {
		mode, err := core.ParseAckMode(cc.AckMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithAckMode(mode))
	}
	if cc.AckCount != nil {
		opts = append(opts, core.WithAckCount(*cc.AckCount))
	}
	if cc.AckTime != nil {
		opts = append(opts, core.WithAckTime(*cc.AckTime))
	}
	if cc.ShutdownTimeout != 0 {
		opts = append(opts, core.WithShutdownTimeout(cc.ShutdownTimeout))
	}
	if cc.SyncCommitTimeout != 0 {
		opts = append(opts, core.WithSyncCommitTimeout(cc.SyncCommitTimeout))
	}
	if cc.ConsumerStartTimeout != 0 {
		opts = append(opts, core.WithConsumerStartTimeout(cc.ConsumerStartTimeout))
	}
	if cc.MonitorInterval != 0 {
		opts = append(opts, core.WithMonitorInterval(cc.MonitorInterval))
	}
	if cc.NoPollThreshold != 0 {
		opts = append(opts, core.WithNoPollThreshold(cc.NoPollThreshold))
	}
	if cc.IdleEventInterval != 0 {
		opts = append(opts, core.WithIdleEventInterval(cc.IdleEventInterval))
	}
	if cc.IdleBetweenPolls != 0 {
		opts = append(opts, core.WithIdleBetweenPolls(cc.IdleBetweenPolls))
	}
	if cc.PollTimeout != 0 {
		opts = append(opts, core.WithPollTimeout(cc.PollTimeout))
	}
	if cc.MaxPollRecords != 0 {
		opts = append(opts, core.WithMaxPollRecords(cc.MaxPollRecords))
	}
	if cc.AssignmentCommitOption != "" {
		o, err := core.ParseAssignmentCommitOption(cc.AssignmentCommitOption)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithAssignmentCommitOption(o))
	}
	if cc.AutoOffsetReset != "" {
		opts = append(opts, core.WithAutoOffsetReset(cc.AutoOffsetReset))
	}
	if cc.EOSMode != "" {
		mode, err := core.ParseEOSMode(cc.EOSMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithEOSMode(mode))
	}
	if cc.SubBatchPerPartition != nil {
		opts = append(opts, core.WithSubBatchPerPartition(*cc.SubBatchPerPartition))
	}
	opts = append(opts,
		core.WithStopOnFencing(cc.StopOnFencing),
		core.WithDeliveryAttemptHeader(cc.DeliveryAttemptHeader),
		core.WithMissingTopicsFatal(cc.MissingTopicsFatal),
		core.WithLogContainerConfig(cc.LogContainerConfig),
		core.WithMetrics(c.MetricsEnabled(), c.Metrics.Tags),
	)
	return opts, nil
}

// MetricsEnabled reports whether metrics are collected. It defaults to true.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// BrokerConfig returns the plugin configuration.
func (c *Config) BrokerConfig(logger *zap.Logger) broker.Config {
	return broker.Config{
		Brokers:               c.Broker.Brokers,
		Group:                 c.Container.GroupID,
		ClientID:              c.Container.ClientID,
		TransactionalIDPrefix: c.Broker.TransactionalIDPrefix,
		TransactionTimeout:    c.Broker.TransactionTimeout,
		Logger:                logger,
		Extra:                 c.Broker.Extra,
	}
}
