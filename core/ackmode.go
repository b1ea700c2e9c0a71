package core

import (
	"fmt"
	"strings"
)

// AckMode governs when accumulated consumption progress is committed when no
// transaction manager is attached.
type AckMode int

const (
	// AckModeRecord commits after each record is handled.
	AckModeRecord AckMode = iota + 1
	// AckModeBatch commits once per poll, after every record returned by it is handled.
	AckModeBatch
	// AckModeTime commits pending progress once AckTime has elapsed since the last commit.
	AckModeTime
	// AckModeCount commits once AckCount units were handled since the last commit.
	AckModeCount
	// AckModeCountTime commits on whichever of the Count and Time thresholds is hit first.
	AckModeCountTime
	// AckModeManual commits acknowledged progress at the end of the poll cycle.
	AckModeManual
	// AckModeManualImmediate commits immediately when the handler acknowledges.
	AckModeManualImmediate
)

var ackModeNames = map[AckMode]string{
	AckModeRecord:          "RECORD",
	AckModeBatch:           "BATCH",
	AckModeTime:            "TIME",
	AckModeCount:           "COUNT",
	AckModeCountTime:       "COUNT_TIME",
	AckModeManual:          "MANUAL",
	AckModeManualImmediate: "MANUAL_IMMEDIATE",
}

func (m AckMode) String() string {
	if name, ok := ackModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("AckMode(%d)", int(m))
}

// Manual reports whether progress is only recorded through explicit acknowledgment.
func (m AckMode) Manual() bool {
	return m == AckModeManual || m == AckModeManualImmediate
}

func (m AckMode) valid() bool {
	_, ok := ackModeNames[m]
	return ok
}

// ParseAckMode parses names such as "record", "COUNT_TIME" or "manual-immediate".
func ParseAckMode(s string) (AckMode, error) {
	key := normalizeEnum(s)
	for m, name := range ackModeNames {
		if name == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("ackmux: unknown ack mode %q", s)
}

// AssignmentCommitOption governs whether the current position is committed when
// partitions without a committed offset are assigned.
type AssignmentCommitOption int

const (
	// AssignmentCommitAlways commits the position on every assignment.
	AssignmentCommitAlways AssignmentCommitOption = iota + 1
	// AssignmentCommitNever never commits on assignment.
	AssignmentCommitNever
	// AssignmentCommitLatestOnly commits only when the offset reset policy is "latest".
	AssignmentCommitLatestOnly
	// AssignmentCommitLatestOnlyNoTx is AssignmentCommitLatestOnly, but never
	// commits when a transaction manager is attached.
	AssignmentCommitLatestOnlyNoTx
)

var assignmentCommitNames = map[AssignmentCommitOption]string{
	AssignmentCommitAlways:         "ALWAYS",
	AssignmentCommitNever:          "NEVER",
	AssignmentCommitLatestOnly:     "LATEST_ONLY",
	AssignmentCommitLatestOnlyNoTx: "LATEST_ONLY_NO_TX",
}

func (o AssignmentCommitOption) String() string {
	if name, ok := assignmentCommitNames[o]; ok {
		return name
	}
	return fmt.Sprintf("AssignmentCommitOption(%d)", int(o))
}

func (o AssignmentCommitOption) valid() bool {
	_, ok := assignmentCommitNames[o]
	return ok
}

// ParseAssignmentCommitOption parses names such as "always" or "LATEST_ONLY_NO_TX".
func ParseAssignmentCommitOption(s string) (AssignmentCommitOption, error) {
	key := normalizeEnum(s)
	for o, name := range assignmentCommitNames {
		if name == key {
			return o, nil
		}
	}
	return 0, fmt.Errorf("ackmux: unknown assignment commit option %q", s)
}

// EOSMode selects how exactly-once delivery is fenced. The zero value is unset
// and resolves to EOSModeBeta.
type EOSMode int

const (
	// EOSModeAlpha uses one transactional identity per consumed partition and
	// relies on the identity for fencing zombie instances.
	EOSModeAlpha EOSMode = iota + 1
	// EOSModeBeta uses a single transactional identity per container; the broker
	// fences zombies using consumer group metadata.
	EOSModeBeta
)

// DefaultEOSMode is used when no mode, or the zero value, is configured.
const DefaultEOSMode = EOSModeBeta

func (m EOSMode) String() string {
	switch m {
	case EOSModeAlpha:
		return "ALPHA"
	case EOSModeBeta:
		return "BETA"
	default:
		return fmt.Sprintf("EOSMode(%d)", int(m))
	}
}

// ParseEOSMode parses "alpha" or "beta". An empty string yields DefaultEOSMode.
func ParseEOSMode(s string) (EOSMode, error) {
	switch normalizeEnum(s) {
	case "":
		return DefaultEOSMode, nil
	case "ALPHA":
		return EOSModeAlpha, nil
	case "BETA":
		return EOSModeBeta, nil
	}
	return 0, fmt.Errorf("ackmux: unknown EOS mode %q", s)
}

func normalizeEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}
