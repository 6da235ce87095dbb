package fingerprint

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cSource = `#include <stdlib.h>

int divide(int num, int den) {
	if (den == 0) {
		abort();
	}
	return num / den;
}
`

func TestExtract_EnclosingFunction(t *testing.T) {
	t.Parallel()

	ext := NewExtractor()

	fp, err := ext.Extract(context.Background(), "math.c", []byte(cSource), 7)
	require.NoError(t, err)

	assert.True(t, fp.InFunction)
	assert.NotEmpty(t, fp.Signature)
	assert.Contains(t, fp.Statements, "IF")
	assert.Contains(t, fp.Statements, "RETURN")
}

func TestExtract_StableUnderLineShifts(t *testing.T) {
	t.Parallel()

	ext := NewExtractor()

	fp1, err := ext.Extract(context.Background(), "math.c", []byte(cSource), 7)
	require.NoError(t, err)

	// Five blank lines above the function shift every row but change
	// neither the tree shape nor the signature.
	shifted := "\n\n\n\n\n" + cSource

	fp2, err := ext.Extract(context.Background(), "math.c", []byte(shifted), 12)
	require.NoError(t, err)

	assert.Equal(t, fp1.Signature, fp2.Signature)
	assert.Equal(t, fp1.Statements, fp2.Statements)
	assert.Equal(t, fp1.InFunction, fp2.InFunction)
}

func TestExtract_StableUnderComments(t *testing.T) {
	t.Parallel()

	ext := NewExtractor()

	fp1, err := ext.Extract(context.Background(), "math.c", []byte(cSource), 7)
	require.NoError(t, err)

	commented := strings.Replace(cSource, "int divide", "/* checked division */\nint divide", 1)

	fp2, err := ext.Extract(context.Background(), "math.c", []byte(commented), 8)
	require.NoError(t, err)

	assert.Equal(t, fp1.Signature, fp2.Signature)
	assert.Equal(t, fp1.Statements, fp2.Statements)
}

func TestExtract_SignatureExcludesParameterNames(t *testing.T) {
	t.Parallel()

	ext := NewExtractor()

	fp1, err := ext.Extract(context.Background(), "math.c", []byte(cSource), 7)
	require.NoError(t, err)

	renamed := strings.ReplaceAll(cSource, "num", "numerator")
	renamed = strings.ReplaceAll(renamed, "den", "denominator")

	fp2, err := ext.Extract(context.Background(), "math.c", []byte(renamed), 7)
	require.NoError(t, err)

	assert.Equal(t, fp1.Signature, fp2.Signature)
}

func TestExtract_GlobalScopeFallsBackToFileScope(t *testing.T) {
	t.Parallel()

	ext := NewExtractor()

	src := "int table[4];\nint limit = 16;\n"

	fp, err := ext.Extract(context.Background(), "globals.c", []byte(src), 2)
	require.NoError(t, err)

	assert.False(t, fp.InFunction)
	assert.Empty(t, fp.Signature)
	assert.NotEmpty(t, fp.Statements)
}

func TestExtract_UnsupportedLanguage(t *testing.T) {
	t.Parallel()

	ext := NewExtractor()

	_, err := ext.Extract(context.Background(), "notes.xyzzy", []byte("plain text, no grammar"), 1)
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestStatementToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want string
	}{
		{"if_statement", "IF"},
		{"for_statement", "LOOP"},
		{"while_statement", "LOOP"},
		{"switch_statement", "SWITCH"},
		{"return_statement", "RETURN"},
		{"call_expression", "CALL"},
		{"goto_statement", "GOTO"},
		{"assignment_expression", "ASSIGN"},
		{"declaration", "DECL"},
		{"binary_expression", ""},
		{"identifier", ""},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, statementToken(tt.kind))
		})
	}
}
