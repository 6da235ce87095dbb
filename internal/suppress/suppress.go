// Package suppress resolves the review status of a report from its two
// independent sources: durable review-status rules and in-source
// suppression annotations carried on the report model.
//
// Precedence is fixed: a matching rule always wins, then the applicable
// in-source annotation, then UNREVIEWED. Among annotations a
// checker-specific one beats an "all"-scoped one; two equally specific
// annotations with contradictory statuses are an ambiguity surfaced to
// the caller, never silently resolved.
package suppress

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bugledger/bugledger/internal/report"
)

// markerStatus maps annotation keywords to review statuses. Markers
// outside this map are ignored rather than rejected, so an analyzer can
// emit annotation kinds this engine does not interpret.
var markerStatus = map[string]report.ReviewStatus{
	"suppress":       report.ReviewFalsePositive,
	"false_positive": report.ReviewFalsePositive,
	"intentional":    report.ReviewIntentional,
	"confirmed":      report.ReviewConfirmed,
}

// AmbiguousSuppressionError reports two or more equally specific
// in-source annotations assigning contradictory statuses to one report.
// It is a warning condition: ingestion still succeeds and the report's
// review status stays UNREVIEWED until a rule or a source edit resolves
// the conflict.
type AmbiguousSuppressionError struct {
	CheckerName string
	ContextHash string

	// Annotations holds the conflicting annotations ordered by marker,
	// so the message is deterministic regardless of source order.
	Annotations []report.SuppressionAnnotation
}

// Error implements the error interface.
func (e *AmbiguousSuppressionError) Error() string {
	markers := make([]string, 0, len(e.Annotations))
	for _, a := range e.Annotations {
		markers = append(markers, a.Marker)
	}

	return fmt.Sprintf("ambiguous suppression of %s (%s): contradictory annotations [%s]",
		e.CheckerName, e.ContextHash, strings.Join(markers, ", "))
}

// Resolve computes the review status of a report. rule is the stored
// rule for the report's context hash, or nil when none exists. The
// returned error, when non-nil, is always an *AmbiguousSuppressionError
// and the returned status is UNREVIEWED.
func Resolve(rep *report.Report, rule *report.ReviewRule) (report.ReviewStatus, error) {
	if rule != nil && rule.Matches(rep) {
		return rule.Status, nil
	}

	return fromAnnotations(rep)
}

// fromAnnotations picks the applicable in-source annotation.
func fromAnnotations(rep *report.Report) (report.ReviewStatus, error) {
	var specific, broad []report.SuppressionAnnotation

	for _, a := range rep.Annotations {
		if _, known := markerStatus[a.Marker]; !known {
			continue
		}

		if !a.Covers(rep.CheckerName) {
			continue
		}

		if a.AppliesToAll() {
			broad = append(broad, a)
		} else {
			specific = append(specific, a)
		}
	}

	// Narrower scope wins over "all".
	candidates := specific
	if len(candidates) == 0 {
		candidates = broad
	}

	if len(candidates) == 0 {
		return report.ReviewUnreviewed, nil
	}

	status := markerStatus[candidates[0].Marker]

	for _, a := range candidates[1:] {
		if markerStatus[a.Marker] != status {
			sorted := append([]report.SuppressionAnnotation(nil), candidates...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Marker < sorted[j].Marker })

			return report.ReviewUnreviewed, &AmbiguousSuppressionError{
				CheckerName: rep.CheckerName,
				ContextHash: rep.ContextHash,
				Annotations: sorted,
			}
		}
	}

	return status, nil
}

// CheckAnnotations validates a report's annotations at ingest time and
// returns warning strings for every ambiguity found. Warnings never
// block a store; the caller attaches them to the report.
func CheckAnnotations(rep *report.Report) []string {
	_, err := fromAnnotations(rep)
	if err == nil {
		return nil
	}

	return []string{err.Error()}
}

// Statuses resolves review statuses for a batch of reports against the
// rules fetched for their context hashes. Ambiguities degrade to
// UNREVIEWED here; callers that need the conflict detail use Resolve.
func Statuses(reports []report.Report, rules map[string]report.ReviewRule) map[string]report.ReviewStatus {
	statuses := make(map[string]report.ReviewStatus, len(reports))

	for i := range reports {
		rep := &reports[i]

		var rule *report.ReviewRule
		if r, present := rules[rep.ContextHash]; present {
			rule = &r
		}

		status, err := Resolve(rep, rule)
		if err != nil {
			status = report.ReviewUnreviewed
		}

		statuses[rep.ContextHash] = status
	}

	return statuses
}
