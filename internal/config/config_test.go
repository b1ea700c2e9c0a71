package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/miladsoleymani/ackmux/core"
)

const sample = `
broker:
  type: kafka
  brokers: [localhost:9092]
  transactional_id_prefix: billing-tx-
  transaction_timeout: 30s
  extra:
    linger: 5ms
    min_bytes: 1
container:
  topics: [orders, payments]
  group_id: billing
  ack_mode: count_time
  ack_count: 50
  ack_time: 2s
  eos_mode: alpha
  stop_on_fencing: true
metrics:
  enabled: false
  tags:
    team: payments
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ackmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "kafka", cfg.Broker.Type)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Broker.TransactionTimeout)
	assert.Equal(t, 1, cfg.Broker.Extra["min_bytes"])
	assert.Equal(t, []string{"orders", "payments"}, cfg.Container.Topics)
	require.NotNil(t, cfg.Container.AckTime)
	assert.Equal(t, 2*time.Second, *cfg.Container.AckTime)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "9090", cfg.Metrics.Port)
	assert.False(t, cfg.MetricsEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ACKMUX_BROKER_TYPE", "nats")
	t.Setenv("ACKMUX_BROKERS", "nats://a:4222, nats://b:4222")
	t.Setenv("ACKMUX_ACK_MODE", "manual_immediate")
	t.Setenv("ACKMUX_MAX_POLL_RECORDS", "10")
	t.Setenv("ACKMUX_POLL_TIMEOUT", "250ms")
	t.Setenv("ACKMUX_DELIVERY_ATTEMPT_HEADER", "true")

	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "nats", cfg.Broker.Type)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.Broker.Brokers)
	assert.Equal(t, "manual_immediate", cfg.Container.AckMode)
	assert.Equal(t, 10, cfg.Container.MaxPollRecords)
	assert.Equal(t, 250*time.Millisecond, cfg.Container.PollTimeout)
	assert.True(t, cfg.Container.DeliveryAttemptHeader)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("ACKMUX_ACK_COUNT", "many")
	t.Setenv("ACKMUX_ACK_TIME", "soon")

	_, err := Load(writeFile(t, sample))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACKMUX_ACK_COUNT")
	assert.Contains(t, err.Error(), "ACKMUX_ACK_TIME")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.brokers")
	assert.Contains(t, err.Error(), "container.group_id")
}

func TestContainerOptions(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	opts, err := cfg.ContainerOptions()
	require.NoError(t, err)
	props, err := core.NewProperties(opts...)
	require.NoError(t, err)

	assert.Equal(t, core.AckModeCountTime, props.AckMode())
	assert.Equal(t, 50, props.AckCount())
	assert.Equal(t, 2*time.Second, props.AckTime())
	assert.Equal(t, core.EOSModeAlpha, props.EOSMode())
	assert.True(t, props.StopOnFencing())
	assert.False(t, props.MetricsEnabled())
	assert.Equal(t, "payments", props.MetricsTags()["team"])
	assert.Equal(t, "billing", props.GroupID())
}

func TestContainerOptions_ExplicitZeroRejected(t *testing.T) {
	tests := []struct {
		content string
		field   string
	}{
		{"container:\n  topics: [orders]\n  group_id: billing\n  ack_count: 0\n", "ackCount"},
		{"container:\n  topics: [orders]\n  group_id: billing\n  ack_time: 0s\n", "ackTime"},
	}
	for _, tt := range tests {
		cfg := &Config{}
		require.NoError(t, yaml.Unmarshal([]byte(tt.content), cfg))

		opts, err := cfg.ContainerOptions()
		require.NoError(t, err)
		_, err = core.NewProperties(opts...)
		require.ErrorIs(t, err, core.ErrInvalidProperties)
		assert.Contains(t, err.Error(), tt.field)
	}

	t.Setenv("ACKMUX_ACK_COUNT", "0")
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	require.NotNil(t, cfg.Container.AckCount)
	opts, err := cfg.ContainerOptions()
	require.NoError(t, err)
	_, err = core.NewProperties(opts...)
	require.ErrorIs(t, err, core.ErrInvalidProperties)
	assert.Contains(t, err.Error(), "ackCount")
}

func TestContainerOptions_UnknownEnum(t *testing.T) {
	cfg := &Config{Container: ContainerConfig{AckMode: "sometimes"}}
	_, err := cfg.ContainerOptions()
	assert.Error(t, err)

	cfg = &Config{Container: ContainerConfig{AssignmentCommitOption: "maybe"}}
	_, err = cfg.ContainerOptions()
	assert.Error(t, err)
}

func TestBrokerConfig(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	logger := zap.NewNop()
	bc := cfg.BrokerConfig(logger)
	assert.Equal(t, "billing", bc.Group)
	assert.Equal(t, "billing-tx-", bc.TransactionalIDPrefix)
	assert.True(t, bc.Transactional())
	assert.Same(t, logger, bc.Logger)
}
