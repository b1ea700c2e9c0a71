package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Defaults applied by NewProperties.
const (
	DefaultAckCount             = 1
	DefaultAckTime              = 5 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultSyncCommitTimeout    = 60 * time.Second
	DefaultConsumerStartTimeout = 30 * time.Second
	DefaultMonitorInterval      = 30 * time.Second
	DefaultNoPollThreshold      = 3.0
	DefaultPollTimeout          = 5 * time.Second
	DefaultMaxPollRecords       = 500
)

// Offset reset policies understood by the assignment commit option.
const (
	OffsetResetLatest   = "latest"
	OffsetResetEarliest = "earliest"
)

// Properties holds the settings of one listener container. It is validated by
// NewProperties and immutable afterwards.
type Properties struct {
	topics       []string
	topicPattern string
	groupID      string
	clientID     string

	ackMode  AckMode
	ackCount int
	ackTime  time.Duration

	shutdownTimeout      time.Duration
	syncCommitTimeout    time.Duration
	consumerStartTimeout time.Duration
	monitorInterval      time.Duration
	noPollThreshold      float64
	idleEventInterval    time.Duration
	idleBetweenPolls     time.Duration
	pollTimeout          time.Duration
	maxPollRecords       int

	assignmentCommit AssignmentCommitOption
	autoOffsetReset  string

	eosMode              EOSMode
	subBatchExplicit     *bool
	subBatchPerPartition bool
	stopOnFencing        bool
	txManager            TransactionManager
	txDefinition         *TransactionDefinition
	participants         []Participant

	deliveryAttemptHeader bool
	missingTopicsFatal    bool
	logContainerConfig    bool
	metricsEnabled        bool
	metricsTags           map[string]string

	interceptors []MiddlewareFunc
	errorHandler ErrorHandler
}

// Option configures Properties. Options fail fast on illegal values.
type Option func(*Properties) error

func defaults() Properties {
	return Properties{
		ackMode:              AckModeBatch,
		ackCount:             DefaultAckCount,
		ackTime:              DefaultAckTime,
		shutdownTimeout:      DefaultShutdownTimeout,
		syncCommitTimeout:    DefaultSyncCommitTimeout,
		consumerStartTimeout: DefaultConsumerStartTimeout,
		monitorInterval:      DefaultMonitorInterval,
		noPollThreshold:      DefaultNoPollThreshold,
		pollTimeout:          DefaultPollTimeout,
		maxPollRecords:       DefaultMaxPollRecords,
		assignmentCommit:     AssignmentCommitLatestOnlyNoTx,
		autoOffsetReset:      OffsetResetLatest,
		eosMode:              DefaultEOSMode,
		metricsEnabled:       true,
		metricsTags:          make(map[string]string),
	}
}

// NewProperties validates opts and returns immutable container properties.
// The sub-batch-per-partition flag is resolved once here.
func NewProperties(opts ...Option) (*Properties, error) {
	p := defaults()
	for _, opt := range opts {
		if err := opt(&p); err != nil {
			return nil, err
		}
	}
	if len(p.topics) == 0 && p.topicPattern == "" {
		return nil, invalidf("at least one topic or a topic pattern is required")
	}
	if len(p.topics) > 0 && p.topicPattern != "" {
		return nil, invalidf("topics and topic pattern are mutually exclusive")
	}
	if len(p.participants) > 0 && p.txManager == nil {
		return nil, invalidf("transaction participants require a transaction manager")
	}
	p.subBatchPerPartition = ResolveSubBatchPerPartition(p.eosMode, p.txManager != nil, p.subBatchExplicit)
	return &p, nil
}

// WithTopics subscribes to the given topics.
func WithTopics(topics ...string) Option {
	return func(p *Properties) error {
		for _, t := range topics {
			if strings.TrimSpace(t) == "" {
				return invalidf("topic names cannot be empty")
			}
		}
		p.topics = append([]string(nil), topics...)
		return nil
	}
}

// WithTopicPattern subscribes to every topic matching pattern ("*" matches one
// level, "#" any number of levels).
func WithTopicPattern(pattern string) Option {
	return func(p *Properties) error {
		if strings.TrimSpace(pattern) == "" {
			return invalidf("topic pattern cannot be empty")
		}
		p.topicPattern = pattern
		return nil
	}
}

// WithGroupID sets the consumer group.
func WithGroupID(group string) Option {
	return func(p *Properties) error {
		p.groupID = group
		return nil
	}
}

// WithClientID sets the client id prefix reported to the broker.
func WithClientID(id string) Option {
	return func(p *Properties) error {
		p.clientID = id
		return nil
	}
}

// WithAckMode sets the ack mode. It is ignored when a transaction manager is attached.
func WithAckMode(mode AckMode) Option {
	return func(p *Properties) error {
		if !mode.valid() {
			return invalidf("'ackMode' is required, got %v", mode)
		}
		p.ackMode = mode
		return nil
	}
}

// WithAckCount sets the number of units between commits for COUNT and COUNT_TIME.
func WithAckCount(n int) Option {
	return func(p *Properties) error {
		if n <= 0 {
			return invalidf("'ackCount' must be > 0, got %d", n)
		}
		p.ackCount = n
		return nil
	}
}

// WithAckTime sets the time between commits for TIME and COUNT_TIME.
func WithAckTime(d time.Duration) Option {
	return func(p *Properties) error {
		if d <= 0 {
			return invalidf("'ackTime' must be > 0, got %s", d)
		}
		p.ackTime = d
		return nil
	}
}

// WithShutdownTimeout bounds how long an in-flight commit or transaction may
// run after a stop was requested.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Properties) error {
		if d <= 0 {
			return invalidf("'shutdownTimeout' must be > 0, got %s", d)
		}
		p.shutdownTimeout = d
		return nil
	}
}

// WithSyncCommitTimeout bounds synchronous consumer commits.
func WithSyncCommitTimeout(d time.Duration) Option {
	return func(p *Properties) error {
		if d <= 0 {
			return invalidf("'syncCommitTimeout' must be > 0, got %s", d)
		}
		p.syncCommitTimeout = d
		return nil
	}
}

// WithConsumerStartTimeout bounds broker subscription at start.
func WithConsumerStartTimeout(d time.Duration) Option {
	return func(p *Properties) error {
		if d <= 0 {
			return invalidf("'consumerStartTimeout' must be > 0, got %s", d)
		}
		p.consumerStartTimeout = d
		return nil
	}
}

// WithMonitorInterval sets how often the poll loop is checked for responsiveness.
func WithMonitorInterval(d time.Duration) Option {
	return func(p *Properties) error {
		if d <= 0 {
			return invalidf("'monitorInterval' must be > 0, got %s", d)
		}
		p.monitorInterval = d
		return nil
	}
}

// WithNoPollThreshold sets the multiple of the poll timeout after which a poll
// loop that did not poll is reported as not responsive.
func WithNoPollThreshold(f float64) Option {
	return func(p *Properties) error {
		if f <= 0 {
			return invalidf("'noPollThreshold' must be > 0, got %v", f)
		}
		p.noPollThreshold = f
		return nil
	}
}

// WithIdleEventInterval enables idle notifications when no records arrive for d.
func WithIdleEventInterval(d time.Duration) Option {
	return func(p *Properties) error {
		if d < 0 {
			return invalidf("'idleEventInterval' cannot be negative, got %s", d)
		}
		p.idleEventInterval = d
		return nil
	}
}

// WithIdleBetweenPolls makes the poll loop sleep between polls.
func WithIdleBetweenPolls(d time.Duration) Option {
	return func(p *Properties) error {
		if d < 0 {
			return invalidf("'idleBetweenPolls' cannot be negative, got %s", d)
		}
		p.idleBetweenPolls = d
		return nil
	}
}

// WithPollTimeout sets the maximum time a poll waits for records.
func WithPollTimeout(d time.Duration) Option {
	return func(p *Properties) error {
		if d <= 0 {
			return invalidf("'pollTimeout' must be > 0, got %s", d)
		}
		p.pollTimeout = d
		return nil
	}
}

// WithMaxPollRecords caps the number of records returned by one poll.
func WithMaxPollRecords(n int) Option {
	return func(p *Properties) error {
		if n <= 0 {
			return invalidf("'maxPollRecords' must be > 0, got %d", n)
		}
		p.maxPollRecords = n
		return nil
	}
}

// WithAssignmentCommitOption sets the assignment commit behavior.
func WithAssignmentCommitOption(opt AssignmentCommitOption) Option {
	return func(p *Properties) error {
		if !opt.valid() {
			return invalidf("'assignmentCommitOption' is required, got %v", opt)
		}
		p.assignmentCommit = opt
		return nil
	}
}

// WithAutoOffsetReset sets where partitions without a committed offset start.
func WithAutoOffsetReset(policy string) Option {
	return func(p *Properties) error {
		policy = strings.ToLower(strings.TrimSpace(policy))
		if policy != OffsetResetLatest && policy != OffsetResetEarliest {
			return invalidf("'autoOffsetReset' must be %q or %q, got %q", OffsetResetLatest, OffsetResetEarliest, policy)
		}
		p.autoOffsetReset = policy
		return nil
	}
}

// WithEOSMode sets the exactly-once mode. The zero value selects DefaultEOSMode.
func WithEOSMode(mode EOSMode) Option {
	return func(p *Properties) error {
		switch mode {
		case 0:
			p.eosMode = DefaultEOSMode
		case EOSModeAlpha, EOSModeBeta:
			p.eosMode = mode
		default:
			return invalidf("unknown EOS mode %v", mode)
		}
		return nil
	}
}

// WithSubBatchPerPartition explicitly sets whether batches are split into one
// transaction per partition, overriding the EOS mode default.
func WithSubBatchPerPartition(v bool) Option {
	return func(p *Properties) error {
		p.subBatchExplicit = &v
		return nil
	}
}

// WithStopOnFencing stops the container when its transactional resource is fenced.
func WithStopOnFencing(v bool) Option {
	return func(p *Properties) error {
		p.stopOnFencing = v
		return nil
	}
}

// WithTransactionManager runs every delivery unit in a broker transaction.
func WithTransactionManager(tm TransactionManager) Option {
	return func(p *Properties) error {
		if tm == nil {
			return invalidf("'transactionManager' cannot be nil")
		}
		p.txManager = tm
		return nil
	}
}

// WithTransactionDefinition overrides the transaction name and timeout.
func WithTransactionDefinition(def TransactionDefinition) Option {
	return func(p *Properties) error {
		if def.Timeout < 0 {
			return invalidf("transaction timeout cannot be negative, got %s", def.Timeout)
		}
		p.txDefinition = &def
		return nil
	}
}

// WithParticipants synchronizes secondary transactions with the broker transaction.
func WithParticipants(participants ...Participant) Option {
	return func(p *Properties) error {
		seen := make(map[string]bool, len(participants))
		for _, pt := range participants {
			if pt == nil {
				return invalidf("participants cannot be nil")
			}
			if seen[pt.Name()] {
				return invalidf("duplicate participant %q", pt.Name())
			}
			seen[pt.Name()] = true
		}
		p.participants = append(p.participants, participants...)
		return nil
	}
}

// WithDeliveryAttemptHeader exposes the delivery attempt as a record header.
func WithDeliveryAttemptHeader(v bool) Option {
	return func(p *Properties) error {
		p.deliveryAttemptHeader = v
		return nil
	}
}

// WithMissingTopicsFatal fails the start when a configured topic does not exist.
func WithMissingTopicsFatal(v bool) Option {
	return func(p *Properties) error {
		p.missingTopicsFatal = v
		return nil
	}
}

// WithLogContainerConfig logs the properties when the container starts.
func WithLogContainerConfig(v bool) Option {
	return func(p *Properties) error {
		p.logContainerConfig = v
		return nil
	}
}

// WithMetrics toggles metrics and adds constant tags.
func WithMetrics(enabled bool, tags map[string]string) Option {
	return func(p *Properties) error {
		p.metricsEnabled = enabled
		for k, v := range tags {
			p.metricsTags[k] = v
		}
		return nil
	}
}

// WithInterceptors appends interceptors applied, in order, around every handler.
func WithInterceptors(mws ...MiddlewareFunc) Option {
	return func(p *Properties) error {
		for _, mw := range mws {
			if mw == nil {
				return invalidf("interceptors cannot be nil")
			}
		}
		p.interceptors = append(p.interceptors, mws...)
		return nil
	}
}

// WithErrorHandler sets the fault-recovery collaborator.
func WithErrorHandler(h ErrorHandler) Option {
	return func(p *Properties) error {
		if h == nil {
			return invalidf("'errorHandler' cannot be nil")
		}
		p.errorHandler = h
		return nil
	}
}

// Topics returns the explicit topic names.
func (p *Properties) Topics() []string { return append([]string(nil), p.topics...) }

// TopicPattern returns the topic pattern, or "" when topics are named.
func (p *Properties) TopicPattern() string { return p.topicPattern }

// GroupID returns the consumer group.
func (p *Properties) GroupID() string { return p.groupID }

// ClientID returns the client id prefix.
func (p *Properties) ClientID() string { return p.clientID }

// AckMode returns the configured ack mode.
func (p *Properties) AckMode() AckMode { return p.ackMode }

// AckCount returns the number of units between COUNT commits.
func (p *Properties) AckCount() int { return p.ackCount }

// AckTime returns the time between TIME commits.
func (p *Properties) AckTime() time.Duration { return p.ackTime }

// ShutdownTimeout bounds the in-flight unit and final commit after a stop request.
func (p *Properties) ShutdownTimeout() time.Duration { return p.shutdownTimeout }

// SyncCommitTimeout bounds each synchronous offset commit.
func (p *Properties) SyncCommitTimeout() time.Duration { return p.syncCommitTimeout }

// ConsumerStartTimeout bounds the subscription.
func (p *Properties) ConsumerStartTimeout() time.Duration { return p.consumerStartTimeout }

// MonitorInterval is the poll loop liveness check interval.
func (p *Properties) MonitorInterval() time.Duration { return p.monitorInterval }

// NoPollThreshold is the multiple of PollTimeout after which a silent poll loop is reported.
func (p *Properties) NoPollThreshold() float64 { return p.noPollThreshold }

// IdleEventInterval returns the idle event interval; zero disables idle events.
func (p *Properties) IdleEventInterval() time.Duration { return p.idleEventInterval }

// IdleBetweenPolls returns the pause between polls.
func (p *Properties) IdleBetweenPolls() time.Duration { return p.idleBetweenPolls }

// PollTimeout returns the maximum time one poll blocks.
func (p *Properties) PollTimeout() time.Duration { return p.pollTimeout }

// MaxPollRecords returns the maximum number of records per poll.
func (p *Properties) MaxPollRecords() int { return p.maxPollRecords }

// AssignmentCommitOption returns when initial positions are committed on assignment.
func (p *Properties) AssignmentCommitOption() AssignmentCommitOption { return p.assignmentCommit }

// AutoOffsetReset returns the reset policy for partitions without a committed offset.
func (p *Properties) AutoOffsetReset() string { return p.autoOffsetReset }

// EOSMode returns the exactly-once mode.
func (p *Properties) EOSMode() EOSMode { return p.eosMode }

// StopOnFencing reports whether a fenced transactional resource stops the container.
func (p *Properties) StopOnFencing() bool { return p.stopOnFencing }

// TransactionManager returns the transaction manager, or nil.
func (p *Properties) TransactionManager() TransactionManager { return p.txManager }

// Transactional reports whether a transaction manager is attached.
func (p *Properties) Transactional() bool { return p.txManager != nil }

// DeliveryAttemptHeader reports whether the delivery attempt header is added.
func (p *Properties) DeliveryAttemptHeader() bool { return p.deliveryAttemptHeader }

// MissingTopicsFatal reports whether Start fails for topics that do not exist.
func (p *Properties) MissingTopicsFatal() bool { return p.missingTopicsFatal }

// LogContainerConfig reports whether the properties are logged on Start.
func (p *Properties) LogContainerConfig() bool { return p.logContainerConfig }

// MetricsEnabled reports whether container metrics are collected.
func (p *Properties) MetricsEnabled() bool { return p.metricsEnabled }

// ErrorHandler returns the error handler, or nil for the default one.
func (p *Properties) ErrorHandler() ErrorHandler { return p.errorHandler }

// SubBatchPerPartition returns the resolved sub-batch flag.
func (p *Properties) SubBatchPerPartition() bool { return p.subBatchPerPartition }

// SubBatchPerPartitionSet returns the explicit setting, or nil when the flag
// was derived from the EOS mode.
func (p *Properties) SubBatchPerPartitionSet() *bool {
	if p.subBatchExplicit == nil {
		return nil
	}
	v := *p.subBatchExplicit
	return &v
}

// TransactionDefinition returns the transaction override, or nil.
func (p *Properties) TransactionDefinition() *TransactionDefinition {
	if p.txDefinition == nil {
		return nil
	}
	def := *p.txDefinition
	return &def
}

// Participants returns the secondary transaction participants.
func (p *Properties) Participants() []Participant {
	return append([]Participant(nil), p.participants...)
}

// Interceptors returns the configured interceptor chain in application order.
func (p *Properties) Interceptors() []MiddlewareFunc {
	return append([]MiddlewareFunc(nil), p.interceptors...)
}

// MetricsTags returns a copy of the constant metric tags.
func (p *Properties) MetricsTags() map[string]string {
	out := make(map[string]string, len(p.metricsTags))
	for k, v := range p.metricsTags {
		out[k] = v
	}
	return out
}

func (p *Properties) String() string {
	var b strings.Builder
	b.WriteString("Properties [")
	if p.topicPattern != "" {
		fmt.Fprintf(&b, "topicPattern=%s", p.topicPattern)
	} else {
		fmt.Fprintf(&b, "topics=%v", p.topics)
	}
	fmt.Fprintf(&b, ", groupID=%s", p.groupID)
	if p.clientID != "" {
		fmt.Fprintf(&b, ", clientID=%s", p.clientID)
	}
	fmt.Fprintf(&b, ", ackMode=%s, ackCount=%d, ackTime=%s", p.ackMode, p.ackCount, p.ackTime)
	fmt.Fprintf(&b, ", shutdownTimeout=%s, syncCommitTimeout=%s", p.shutdownTimeout, p.syncCommitTimeout)
	if p.idleEventInterval > 0 {
		fmt.Fprintf(&b, ", idleEventInterval=%s", p.idleEventInterval)
	} else {
		b.WriteString(", idleEventInterval=not enabled")
	}
	if p.txManager != nil {
		fmt.Fprintf(&b, ", transactionManager=%T", p.txManager)
	}
	if p.txDefinition != nil {
		fmt.Fprintf(&b, ", transactionDefinition={name=%s timeout=%s}", p.txDefinition.Name, p.txDefinition.Timeout)
	}
	if len(p.participants) > 0 {
		names := make([]string, 0, len(p.participants))
		for _, pt := range p.participants {
			names = append(names, pt.Name())
		}
		fmt.Fprintf(&b, ", participants=%v", names)
	}
	fmt.Fprintf(&b, ", monitorInterval=%s, noPollThreshold=%v", p.monitorInterval, p.noPollThreshold)
	fmt.Fprintf(&b, ", pollTimeout=%s, maxPollRecords=%d", p.pollTimeout, p.maxPollRecords)
	if p.idleBetweenPolls > 0 {
		fmt.Fprintf(&b, ", idleBetweenPolls=%s", p.idleBetweenPolls)
	}
	fmt.Fprintf(&b, ", subBatchPerPartition=%t", p.subBatchPerPartition)
	fmt.Fprintf(&b, ", assignmentCommitOption=%s, autoOffsetReset=%s", p.assignmentCommit, p.autoOffsetReset)
	fmt.Fprintf(&b, ", deliveryAttemptHeader=%t, eosMode=%s, stopOnFencing=%t", p.deliveryAttemptHeader, p.eosMode, p.stopOnFencing)
	fmt.Fprintf(&b, ", missingTopicsFatal=%t, metricsEnabled=%t", p.missingTopicsFatal, p.metricsEnabled)
	if len(p.metricsTags) > 0 {
		keys := make([]string, 0, len(p.metricsTags))
		for k := range p.metricsTags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tags := make([]string, 0, len(keys))
		for _, k := range keys {
			tags = append(tags, k+"="+p.metricsTags[k])
		}
		fmt.Fprintf(&b, ", metricsTags=%v", tags)
	}
	b.WriteString("]")
	return b.String()
}
