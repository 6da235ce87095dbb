// Package report defines the canonical in-memory model of one analyzer
// finding: its bug path, severity, suppression annotations, and the
// identity and status fields attached to it over successive runs.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors for report model validation.
var (
	// ErrEmptyBugPath indicates a report without a single bug-path event.
	ErrEmptyBugPath = errors.New("report bug path must not be empty")
	// ErrMissingChecker indicates a report without a checker name.
	ErrMissingChecker = errors.New("report checker name must not be empty")
)

// EventKind classifies a single bug-path event.
type EventKind string

// Bug-path event kinds.
const (
	EventKindEvent EventKind = "event"
	EventKindNote  EventKind = "note"
	EventKindMacro EventKind = "macro"
)

// BugPathEvent is one step in a report's bug path. The last event of a
// path is the final location reported to the user.
type BugPathEvent struct {
	File    string    `json:"file"`
	Line    int       `json:"line"`
	Column  int       `json:"column"`
	Message string    `json:"message"`
	Kind    EventKind `json:"kind"`
}

// Report is one finding inside one run.
type Report struct {
	CheckerName string                  `json:"checkerName"`
	Severity    Severity                `json:"severity"`
	BugPath     []BugPathEvent          `json:"bugPath"`
	Annotations []SuppressionAnnotation `json:"annotations,omitempty"`

	// PathHash is the digest over the full ordered bug path. Unique per
	// exact report occurrence.
	PathHash string `json:"pathHash,omitempty"`

	// ContextHash is the identity key stable across unrelated code edits.
	ContextHash string `json:"contextHash,omitempty"`

	// ContextHashDegraded marks a context hash that fell back to a
	// path-hash derivation because source text was unavailable. Degraded
	// reports are matched conservatively by the diff engine.
	ContextHashDegraded bool `json:"contextHashDegraded,omitempty"`

	// Warnings carries non-fatal issues raised during ingestion, such as
	// ambiguous suppression annotations. Warnings never block a store.
	Warnings []string `json:"warnings,omitempty"`
}

// FinalEvent returns the last bug-path event, the location reported to
// the user. The bug path is non-empty for any validated report.
func (r *Report) FinalEvent() BugPathEvent {
	return r.BugPath[len(r.BugPath)-1]
}

// Validate checks the model invariants of a single report.
func (r *Report) Validate() error {
	if r.CheckerName == "" {
		return ErrMissingChecker
	}

	if len(r.BugPath) == 0 {
		return ErrEmptyBugPath
	}

	return nil
}

// SuppressionAnnotation is an in-source suppression comment attached
// structurally to the enclosing function or statement at analysis time.
// It is carried into the model as metadata and never reparsed here.
type SuppressionAnnotation struct {
	// Marker is the annotation keyword (e.g. "suppress", "intentional",
	// "confirmed", "false_positive").
	Marker string `json:"marker"`

	// Checkers lists the checker names the annotation applies to.
	// An empty list means "all".
	Checkers []string `json:"checkers,omitempty"`

	// Text is the free-text justification following the checker list.
	Text string `json:"text,omitempty"`
}

// AppliesToAll reports whether the annotation covers every checker.
func (a SuppressionAnnotation) AppliesToAll() bool {
	return len(a.Checkers) == 0
}

// Covers reports whether the annotation applies to the given checker.
func (a SuppressionAnnotation) Covers(checker string) bool {
	if a.AppliesToAll() {
		return true
	}

	for _, name := range a.Checkers {
		if name == checker {
			return true
		}
	}

	return false
}

// AnalysisInfo describes the analysis that produced one incoming
// snapshot: which checkers ran, which files were analyzed, and the
// run metadata recorded on the history entry.
type AnalysisInfo struct {
	AnalyzerVersion string        `json:"analyzerVersion,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`

	// EnabledCheckers lists the checkers enabled for this analysis.
	// An empty list means the enabled set is unknown and every checker
	// is treated as enabled.
	EnabledCheckers []string `json:"enabledCheckers,omitempty"`

	// AnalyzedFiles lists the files covered by this analysis. An empty
	// list means the analyzed set is unknown and every file is treated
	// as analyzed.
	AnalyzedFiles []string `json:"analyzedFiles,omitempty"`
}

// CheckerEnabled reports whether the named checker was enabled.
// An unknown enabled set treats every checker as enabled.
func (ai AnalysisInfo) CheckerEnabled(checker string) bool {
	if len(ai.EnabledCheckers) == 0 {
		return true
	}

	for _, name := range ai.EnabledCheckers {
		if name == checker {
			return true
		}
	}

	return false
}

// FileAnalyzed reports whether the named file was covered.
// An unknown analyzed set treats every file as analyzed.
func (ai AnalysisInfo) FileAnalyzed(file string) bool {
	if len(ai.AnalyzedFiles) == 0 {
		return true
	}

	for _, name := range ai.AnalyzedFiles {
		if name == file {
			return true
		}
	}

	return false
}

// Snapshot is one complete incoming analysis result: the analysis
// metadata plus every report it produced.
type Snapshot struct {
	Analysis AnalysisInfo `json:"analysis"`
	Reports  []Report     `json:"reports"`
}

// ParseSnapshot decodes a snapshot from its JSON representation and
// validates every contained report.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot

	decoder := json.NewDecoder(r)

	err := decoder.Decode(&snap)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	for i := range snap.Reports {
		validateErr := snap.Reports[i].Validate()
		if validateErr != nil {
			return nil, fmt.Errorf("report %d (%s): %w", i, snap.Reports[i].CheckerName, validateErr)
		}
	}

	return &snap, nil
}
