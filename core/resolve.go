package core

// ResolveSubBatchPerPartition returns whether a multi-partition batch is split
// into one transaction per partition. An explicit setting always wins. Otherwise
// splitting is only needed for EOS mode ALPHA with transactions, where each
// partition has its own transactional identity.
func ResolveSubBatchPerPartition(mode EOSMode, transactional bool, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	if mode == 0 {
		mode = DefaultEOSMode
	}
	return transactional && mode == EOSModeAlpha
}

// EffectiveAckMode is the ack mode the container actually applies. Under a
// transaction manager the configured mode is ignored: every delivery unit is
// committed with its transaction, which is RECORD for record handlers and BATCH
// for batch handlers.
func EffectiveAckMode(p *Properties, batchHandler bool) AckMode {
	if !p.Transactional() {
		return p.AckMode()
	}
	if batchHandler {
		return AckModeBatch
	}
	return AckModeRecord
}

// ShouldCommitOnAssignment reports whether the current position of newly
// assigned partitions without a committed offset is committed.
func ShouldCommitOnAssignment(opt AssignmentCommitOption, transactional bool, autoOffsetReset string) bool {
	switch opt {
	case AssignmentCommitAlways:
		return true
	case AssignmentCommitLatestOnly:
		return autoOffsetReset == OffsetResetLatest
	case AssignmentCommitLatestOnlyNoTx:
		return !transactional && autoOffsetReset == OffsetResetLatest
	default:
		return false
	}
}
