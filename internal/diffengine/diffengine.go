// Package diffengine computes run-to-run deltas. A diff unions the live
// report sets of the baseline and target run references and partitions
// the combined hash space into new, resolved, and unresolved findings
// in a single pass, so the three views are always mutually consistent.
package diffengine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bugledger/bugledger/internal/report"
	"github.com/bugledger/bugledger/internal/storage"
)

// Mode selects which partition of a diff the caller wants rendered.
// All three partitions are computed regardless, from the same pass.
type Mode string

// Diff modes.
const (
	ModeNew        Mode = "NEW"
	ModeResolved   Mode = "RESOLVED"
	ModeUnresolved Mode = "UNRESOLVED"
)

// Sentinel errors for diff requests.
var (
	// ErrUnknownMode indicates a mode string outside the three partitions.
	ErrUnknownMode = errors.New("unknown diff mode")
	// ErrEmptySide indicates a diff request with no baseline or no target runs.
	ErrEmptySide = errors.New("diff requires at least one baseline and one target run")
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNew, ModeResolved, ModeUnresolved:
		return Mode(s), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Repository is the read side of the run store a diff runs against.
// References are run names or "name:tag" snapshot selectors.
type Repository interface {
	LiveReports(ctx context.Context, ref string) ([]storage.StoredReport, error)
}

// Finding is one entry of a diff partition: the identity hash plus the
// display fields of one representative report carrying that hash.
type Finding struct {
	ContextHash string
	CheckerName string
	Severity    report.Severity
	File        string
	Line        int
	Message     string
	Degraded    bool
}

// Result holds all three partitions of one diff pass.
type Result struct {
	New        []Finding
	Resolved   []Finding
	Unresolved []Finding
}

// Select returns the partition chosen by mode.
func (r *Result) Select(mode Mode) ([]Finding, error) {
	switch mode {
	case ModeNew:
		return r.New, nil
	case ModeResolved:
		return r.Resolved, nil
	case ModeUnresolved:
		return r.Unresolved, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// sideSet is the unioned live set of one diff side, keyed by context
// hash, with the path hashes seen for each identity.
type sideSet struct {
	findings map[string]Finding
	paths    map[string]map[string]struct{}
}

// Engine computes diffs against a repository.
type Engine struct {
	repo Repository
}

// New returns a diff engine reading from repo.
func New(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Diff unions the live sets of the baseline and target references and
// partitions the result. Findings whose context hash was degraded at
// ingest are never reported as new or resolved: a degraded hash cannot
// prove appearance or disappearance, so such findings are pinned to the
// unresolved partition. An exact path-hash match additionally pairs a
// degraded identity with its healthy counterpart on the other side.
func (e *Engine) Diff(ctx context.Context, baseline, target []string) (*Result, error) {
	if len(baseline) == 0 || len(target) == 0 {
		return nil, ErrEmptySide
	}

	base, err := e.unionSide(ctx, baseline)
	if err != nil {
		return nil, err
	}

	tgt, tgtErr := e.unionSide(ctx, target)
	if tgtErr != nil {
		return nil, tgtErr
	}

	result := &Result{}

	for hash, finding := range tgt.findings {
		switch {
		case contains(base, finding, tgt.paths[hash]):
			result.Unresolved = append(result.Unresolved, finding)
		case finding.Degraded:
			// A degraded hash cannot prove the finding is new.
			result.Unresolved = append(result.Unresolved, finding)
		default:
			result.New = append(result.New, finding)
		}
	}

	for hash, finding := range base.findings {
		if contains(tgt, finding, base.paths[hash]) {
			continue
		}

		if finding.Degraded {
			// A degraded hash cannot prove the finding is gone either.
			result.Unresolved = append(result.Unresolved, finding)

			continue
		}

		result.Resolved = append(result.Resolved, finding)
	}

	sortFindings(result.New)
	sortFindings(result.Resolved)
	sortFindings(result.Unresolved)

	return result, nil
}

// unionSide loads and merges the live sets of one side's references.
func (e *Engine) unionSide(ctx context.Context, refs []string) (*sideSet, error) {
	side := &sideSet{
		findings: make(map[string]Finding),
		paths:    make(map[string]map[string]struct{}),
	}

	for _, ref := range refs {
		reports, err := e.repo.LiveReports(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load side %q: %w", ref, err)
		}

		for i := range reports {
			rep := &reports[i]
			final := rep.FinalEvent()

			if _, seen := side.findings[rep.ContextHash]; !seen {
				side.findings[rep.ContextHash] = Finding{
					ContextHash: rep.ContextHash,
					CheckerName: rep.CheckerName,
					Severity:    rep.Severity,
					File:        final.File,
					Line:        final.Line,
					Message:     final.Message,
					Degraded:    rep.ContextHashDegraded,
				}
			}

			if side.paths[rep.ContextHash] == nil {
				side.paths[rep.ContextHash] = make(map[string]struct{})
			}

			side.paths[rep.ContextHash][rep.PathHash] = struct{}{}
		}
	}

	return side, nil
}

// contains reports whether the side holds the identity. A context-hash
// match always counts. A path-hash match counts only when the probing
// finding or its counterpart on the side is degraded: that lets a
// degraded identity line up with its healthy twin without merging two
// healthy findings from different checkers that happen to share a bug
// path, since the path hash carries no checker name.
func contains(side *sideSet, finding Finding, paths map[string]struct{}) bool {
	if _, present := side.findings[finding.ContextHash]; present {
		return true
	}

	for otherHash, otherPaths := range side.paths {
		for path := range paths {
			if _, present := otherPaths[path]; !present {
				continue
			}

			if finding.Degraded || side.findings[otherHash].Degraded {
				return true
			}
		}
	}

	return false
}

// sortFindings orders a partition by severity (most severe first), then
// file, line, and hash for a stable rendering.
func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}

		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}

		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}

		return findings[i].ContextHash < findings[j].ContextHash
	})
}
