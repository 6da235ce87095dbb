package suppress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugledger/bugledger/internal/report"
)

func annotatedReport(annotations ...report.SuppressionAnnotation) report.Report {
	return report.Report{
		CheckerName: "core.NullDereference",
		ContextHash: "c0ffee",
		Annotations: annotations,
		BugPath: []report.BugPathEvent{
			{File: "src/parse.c", Line: 42, Column: 7, Message: "null deref", Kind: report.EventKindEvent},
		},
	}
}

func TestResolve_NoSources(t *testing.T) {
	t.Parallel()

	rep := annotatedReport()

	status, err := Resolve(&rep, nil)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewUnreviewed, status)
}

func TestResolve_RuleOverridesAnnotation(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(report.SuppressionAnnotation{Marker: "suppress"})
	rule := &report.ReviewRule{ContextHash: "c0ffee", Status: report.ReviewConfirmed}

	status, err := Resolve(&rep, rule)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewConfirmed, status)
}

func TestResolve_ScopedRuleFallsThrough(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(report.SuppressionAnnotation{Marker: "intentional"})
	rule := &report.ReviewRule{
		ContextHash:  "c0ffee",
		Status:       report.ReviewConfirmed,
		CheckerScope: "core.DivideZero",
	}

	status, err := Resolve(&rep, rule)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewIntentional, status)
}

func TestResolve_MarkerMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		marker string
		want   report.ReviewStatus
	}{
		{"suppress", report.ReviewFalsePositive},
		{"false_positive", report.ReviewFalsePositive},
		{"intentional", report.ReviewIntentional},
		{"confirmed", report.ReviewConfirmed},
	}

	for _, tc := range cases {
		t.Run(tc.marker, func(t *testing.T) {
			t.Parallel()

			rep := annotatedReport(report.SuppressionAnnotation{Marker: tc.marker})

			status, err := Resolve(&rep, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
		})
	}
}

func TestResolve_UnknownMarkerIgnored(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(report.SuppressionAnnotation{Marker: "nolint"})

	status, err := Resolve(&rep, nil)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewUnreviewed, status)
}

func TestResolve_SpecificBeatsAll(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(
		report.SuppressionAnnotation{Marker: "suppress"},
		report.SuppressionAnnotation{Marker: "intentional", Checkers: []string{"core.NullDereference"}},
	)

	status, err := Resolve(&rep, nil)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewIntentional, status)
}

func TestResolve_OtherCheckerAnnotationSkipped(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(
		report.SuppressionAnnotation{Marker: "suppress", Checkers: []string{"core.DivideZero"}},
	)

	status, err := Resolve(&rep, nil)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewUnreviewed, status)
}

func TestResolve_EquallySpecificContradiction(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(
		report.SuppressionAnnotation{Marker: "suppress", Checkers: []string{"core.NullDereference"}},
		report.SuppressionAnnotation{Marker: "confirmed", Checkers: []string{"core.NullDereference"}},
	)

	status, err := Resolve(&rep, nil)
	require.Error(t, err)
	assert.Equal(t, report.ReviewUnreviewed, status)

	var ambiguous *AmbiguousSuppressionError

	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "core.NullDereference", ambiguous.CheckerName)
	assert.Equal(t, "c0ffee", ambiguous.ContextHash)
	require.Len(t, ambiguous.Annotations, 2)
	// Deterministic marker order regardless of source order.
	assert.Equal(t, "confirmed", ambiguous.Annotations[0].Marker)
	assert.Equal(t, "suppress", ambiguous.Annotations[1].Marker)
}

func TestResolve_EquallySpecificAgreement(t *testing.T) {
	t.Parallel()

	// suppress and false_positive map to the same status: no conflict.
	rep := annotatedReport(
		report.SuppressionAnnotation{Marker: "suppress", Checkers: []string{"core.NullDereference"}},
		report.SuppressionAnnotation{Marker: "false_positive", Checkers: []string{"core.NullDereference"}},
	)

	status, err := Resolve(&rep, nil)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewFalsePositive, status)
}

func TestResolve_RuleOverridesAmbiguity(t *testing.T) {
	t.Parallel()

	rep := annotatedReport(
		report.SuppressionAnnotation{Marker: "suppress", Checkers: []string{"core.NullDereference"}},
		report.SuppressionAnnotation{Marker: "confirmed", Checkers: []string{"core.NullDereference"}},
	)
	rule := &report.ReviewRule{ContextHash: "c0ffee", Status: report.ReviewFalsePositive}

	status, err := Resolve(&rep, rule)
	require.NoError(t, err)
	assert.Equal(t, report.ReviewFalsePositive, status)
}

func TestCheckAnnotations(t *testing.T) {
	t.Parallel()

	clean := annotatedReport(report.SuppressionAnnotation{Marker: "suppress"})
	assert.Empty(t, CheckAnnotations(&clean))

	conflicted := annotatedReport(
		report.SuppressionAnnotation{Marker: "suppress", Checkers: []string{"core.NullDereference"}},
		report.SuppressionAnnotation{Marker: "confirmed", Checkers: []string{"core.NullDereference"}},
	)

	warnings := CheckAnnotations(&conflicted)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ambiguous suppression")
	assert.Contains(t, warnings[0], "c0ffee")
}

func TestStatuses_Batch(t *testing.T) {
	t.Parallel()

	ruled := annotatedReport()
	ruled.ContextHash = "ruled"

	annotated := annotatedReport(report.SuppressionAnnotation{Marker: "intentional"})
	annotated.ContextHash = "annotated"

	bare := annotatedReport()
	bare.ContextHash = "bare"

	statuses := Statuses(
		[]report.Report{ruled, annotated, bare},
		map[string]report.ReviewRule{
			"ruled": {ContextHash: "ruled", Status: report.ReviewConfirmed},
		},
	)

	assert.Equal(t, report.ReviewConfirmed, statuses["ruled"])
	assert.Equal(t, report.ReviewIntentional, statuses["annotated"])
	assert.Equal(t, report.ReviewUnreviewed, statuses["bare"])
}
