// Package lifecycle computes detection statuses for the findings of a
// run whenever a new snapshot of that run is stored. The computation is
// a full recompute over the previously tracked set and the incoming
// set; statuses are never migrated incrementally, so a missed
// intermediate run cannot cause drift.
package lifecycle

import (
	"github.com/bugledger/bugledger/internal/report"
)

// TrackedFinding is the previously persisted detection state of one
// context hash within a run.
type TrackedFinding struct {
	ContextHash string
	CheckerName string
	File        string
	Status      report.DetectionStatus

	// WasResolved records that the hash was RESOLVED at some earlier
	// store of this run, even when a later store overwrote the status
	// with OFF or UNAVAILABLE. A reappearance after any resolution is
	// REOPENED, no matter what happened to the status in between.
	WasResolved bool
}

// IncomingFinding is one finding of the snapshot being stored.
type IncomingFinding struct {
	ContextHash string
	CheckerName string
	File        string
}

// Transition is the computed status of one context hash after a store.
type Transition struct {
	ContextHash string
	Status      report.DetectionStatus
}

// Compute returns the full detection-status map after storing the
// incoming set on top of the tracked set. The returned map covers every
// context hash that is either incoming or previously tracked.
//
// A hash that disappeared and later reappears is REOPENED, never NEW,
// even though it also satisfies the raw NEW condition.
func Compute(tracked []TrackedFinding, incoming []IncomingFinding, analysis report.AnalysisInfo) map[string]report.DetectionStatus {
	trackedByHash := make(map[string]TrackedFinding, len(tracked))
	for _, tf := range tracked {
		trackedByHash[tf.ContextHash] = tf
	}

	incomingByHash := make(map[string]IncomingFinding, len(incoming))
	for _, inc := range incoming {
		incomingByHash[inc.ContextHash] = inc
	}

	statuses := make(map[string]report.DetectionStatus, len(trackedByHash)+len(incomingByHash))

	for hash, inc := range incomingByHash {
		statuses[hash] = statusForIncoming(inc, trackedByHash)
	}

	for hash, tf := range trackedByHash {
		if _, stillPresent := incomingByHash[hash]; stillPresent {
			continue
		}

		statuses[hash] = statusForAbsent(tf, analysis)
	}

	return statuses
}

// statusForIncoming classifies a hash present in the incoming set.
func statusForIncoming(inc IncomingFinding, tracked map[string]TrackedFinding) report.DetectionStatus {
	prev, known := tracked[inc.ContextHash]
	if !known {
		return report.DetectionNew
	}

	// REOPENED takes precedence over NEW: a fixed finding that comes
	// back was already identified once.
	if prev.Status == report.DetectionResolved {
		return report.DetectionReopened
	}

	// The resolution may be hidden behind an intermediate OFF or
	// UNAVAILABLE store; the durable was-resolved marker still makes
	// the reappearance a reopen. A finding that stayed present through
	// those statuses was never fixed and reads UNRESOLVED instead.
	if prev.WasResolved &&
		(prev.Status == report.DetectionOff || prev.Status == report.DetectionUnavailable) {
		return report.DetectionReopened
	}

	return report.DetectionUnresolved
}

// statusForAbsent classifies a tracked hash missing from the incoming set.
func statusForAbsent(tf TrackedFinding, analysis report.AnalysisInfo) report.DetectionStatus {
	// Absence caused by a disabled checker is not a fix.
	if !analysis.CheckerEnabled(tf.CheckerName) {
		return report.DetectionOff
	}

	// Absence caused by the file leaving the analysis is not a fix either.
	if !analysis.FileAnalyzed(tf.File) {
		return report.DetectionUnavailable
	}

	return report.DetectionResolved
}
