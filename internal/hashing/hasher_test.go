package hashing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugledger/bugledger/internal/hashing/fingerprint"
	"github.com/bugledger/bugledger/internal/report"
)

// stubExtractor returns a canned fingerprint, keyed by nothing: every
// call yields the same structure. Used to isolate hash construction
// from tree-sitter parsing.
type stubExtractor struct {
	fp  fingerprint.Fingerprint
	err error
}

func (s *stubExtractor) Extract(_ context.Context, _ string, _ []byte, _ int) (fingerprint.Fingerprint, error) {
	return s.fp, s.err
}

func sampleReport(line int) report.Report {
	return report.Report{
		CheckerName: "core.DivideZero",
		Severity:    report.SeverityHigh,
		BugPath: []report.BugPathEvent{
			{File: "src/math.c", Line: line - 3, Column: 2, Message: "assuming denominator is zero", Kind: report.EventKindEvent},
			{File: "src/math.c", Line: line, Column: 9, Message: "division by zero", Kind: report.EventKindEvent},
		},
	}
}

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()

	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestPathHash_Deterministic(t *testing.T) {
	t.Parallel()

	rep := sampleReport(10)
	assert.Equal(t, PathHash(&rep), PathHash(&rep))
}

func TestPathHash_SensitiveToEveryTupleField(t *testing.T) {
	t.Parallel()

	base := sampleReport(10)

	shiftedLine := sampleReport(10)
	shiftedLine.BugPath[1].Line = 11

	changedMessage := sampleReport(10)
	changedMessage.BugPath[1].Message = "division by almost zero"

	assert.NotEqual(t, PathHash(&base), PathHash(&shiftedLine))
	assert.NotEqual(t, PathHash(&base), PathHash(&changedMessage))
}

func TestHashReport_Deterministic(t *testing.T) {
	t.Parallel()

	stub := &stubExtractor{fp: fingerprint.Fingerprint{
		Signature:  "int parameter_declaration int parameter_declaration int",
		Statements: []string{"IF", "CALL", "RETURN"},
		InFunction: true,
	}}

	hasher := New(t.TempDir(), WithExtractor(stub))
	hasher.readFile = func(string) ([]byte, error) { return []byte("int f() {}"), nil }

	first := sampleReport(10)
	second := sampleReport(10)

	hasher.HashReport(context.Background(), &first)
	hasher.HashReport(context.Background(), &second)

	assert.Equal(t, first.PathHash, second.PathHash)
	assert.Equal(t, first.ContextHash, second.ContextHash)
	assert.False(t, first.ContextHashDegraded)
}

func TestHashReport_ContextHashIgnoresLineNumbers(t *testing.T) {
	t.Parallel()

	// The same structural fingerprint at different absolute lines must
	// produce the same context hash but different path hashes.
	stub := &stubExtractor{fp: fingerprint.Fingerprint{
		Signature:  "int parameter_declaration int",
		Statements: []string{"IF", "RETURN"},
		InFunction: true,
	}}

	hasher := New(t.TempDir(), WithExtractor(stub))
	hasher.readFile = func(string) ([]byte, error) { return []byte("source"), nil }

	atLine10 := sampleReport(10)
	atLine15 := sampleReport(15)

	hasher.HashReport(context.Background(), &atLine10)
	hasher.HashReport(context.Background(), &atLine15)

	assert.Equal(t, atLine10.ContextHash, atLine15.ContextHash)
	assert.NotEqual(t, atLine10.PathHash, atLine15.PathHash)
}

func TestHashReport_CrossFileMoveIsNewIdentity(t *testing.T) {
	t.Parallel()

	stub := &stubExtractor{fp: fingerprint.Fingerprint{
		Signature:  "int parameter_declaration int",
		Statements: []string{"IF", "RETURN"},
		InFunction: true,
	}}

	hasher := New(t.TempDir(), WithExtractor(stub))
	hasher.readFile = func(string) ([]byte, error) { return []byte("source"), nil }

	original := sampleReport(10)

	moved := sampleReport(10)
	for i := range moved.BugPath {
		moved.BugPath[i].File = "src/other.c"
	}

	hasher.HashReport(context.Background(), &original)
	hasher.HashReport(context.Background(), &moved)

	assert.NotEqual(t, original.ContextHash, moved.ContextHash)
}

func TestHashReport_MissingSourceDegrades(t *testing.T) {
	t.Parallel()

	hasher := New(t.TempDir())

	rep := sampleReport(10)
	hasher.HashReport(context.Background(), &rep)

	assert.True(t, rep.ContextHashDegraded)
	assert.NotEmpty(t, rep.ContextHash)
	assert.NotEmpty(t, rep.PathHash)
	assert.NotEqual(t, rep.PathHash, rep.ContextHash)
}

func TestHashReport_ExtractorFailureDegrades(t *testing.T) {
	t.Parallel()

	stub := &stubExtractor{err: errors.New("grammar exploded")}

	hasher := New(t.TempDir(), WithExtractor(stub))
	hasher.readFile = func(string) ([]byte, error) { return []byte("source"), nil }

	rep := sampleReport(10)
	hasher.HashReport(context.Background(), &rep)

	assert.True(t, rep.ContextHashDegraded)
	assert.NotEmpty(t, rep.ContextHash)
}

func TestHashReport_RealSourceEndToEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSource(t, root, "src/math.c", `int divide(int num, int den) {
	if (den == 0) {
		return 0;
	}
	return num / den;
}
`)

	hasher := New(root, WithGoroutines(2))

	rep := report.Report{
		CheckerName: "core.DivideZero",
		BugPath: []report.BugPathEvent{
			{File: "src/math.c", Line: 5, Column: 13, Message: "division by zero", Kind: report.EventKindEvent},
		},
	}

	hasher.HashReport(context.Background(), &rep)

	assert.False(t, rep.ContextHashDegraded)
	assert.NotEmpty(t, rep.ContextHash)
}

func TestHashAll_ParallelAndComplete(t *testing.T) {
	t.Parallel()

	stub := &stubExtractor{fp: fingerprint.Fingerprint{
		Signature:  "void",
		Statements: []string{"CALL"},
		InFunction: true,
	}}

	hasher := New(t.TempDir(), WithExtractor(stub), WithGoroutines(4))
	hasher.readFile = func(string) ([]byte, error) { return []byte("source"), nil }

	reports := make([]report.Report, 64)
	for i := range reports {
		reports[i] = sampleReport(10 + i)
		reports[i].BugPath[1].Message = fmt.Sprintf("issue %d", i)
	}

	err := hasher.HashAll(context.Background(), reports)
	require.NoError(t, err)

	seen := make(map[string]bool, len(reports))
	for i := range reports {
		assert.NotEmpty(t, reports[i].PathHash)
		assert.NotEmpty(t, reports[i].ContextHash)
		assert.False(t, seen[reports[i].PathHash], "path hashes must be unique per occurrence")
		seen[reports[i].PathHash] = true
	}
}

func TestHashAll_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hasher := New(t.TempDir(), WithGoroutines(1))

	reports := make([]report.Report, 8)
	for i := range reports {
		reports[i] = sampleReport(10 + i)
	}

	err := hasher.HashAll(ctx, reports)
	require.ErrorIs(t, err, context.Canceled)
}
