package ruleschema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugledger/bugledger/internal/report"
)

func TestParseRules_Valid(t *testing.T) {
	t.Parallel()

	doc := `{
	  "rules": [
	    {
	      "contextHash": "deadbeefcafe",
	      "status": "FALSE_POSITIVE",
	      "message": "analyzer cannot see the guard macro",
	      "author": "reviewer",
	      "checkerScope": "core.NullDereference"
	    },
	    {
	      "contextHash": "0123456789ab",
	      "status": "INTENTIONAL"
	    }
	  ]
	}`

	rules, err := ParseRules(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "deadbeefcafe", rules[0].ContextHash)
	assert.Equal(t, report.ReviewFalsePositive, rules[0].Status)
	assert.Equal(t, "core.NullDereference", rules[0].CheckerScope)
	assert.Equal(t, report.ReviewIntentional, rules[1].Status)
}

func TestParseRules_EmptyList(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules(strings.NewReader(`{"rules": []}`))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseRules_MissingStatus(t *testing.T) {
	t.Parallel()

	doc := `{"rules": [{"contextHash": "deadbeefcafe"}]}`

	_, err := ParseRules(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidRules)
	assert.Contains(t, err.Error(), "status")
}

func TestParseRules_UnknownStatus(t *testing.T) {
	t.Parallel()

	doc := `{"rules": [{"contextHash": "deadbeefcafe", "status": "WONTFIX"}]}`

	_, err := ParseRules(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestParseRules_BadHash(t *testing.T) {
	t.Parallel()

	doc := `{"rules": [{"contextHash": "NOT-HEX", "status": "CONFIRMED"}]}`

	_, err := ParseRules(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestParseRules_UnknownField(t *testing.T) {
	t.Parallel()

	doc := `{"rules": [{"contextHash": "deadbeefcafe", "status": "CONFIRMED", "severity": "HIGH"}]}`

	_, err := ParseRules(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestParseRules_ListsEveryViolation(t *testing.T) {
	t.Parallel()

	doc := `{"rules": [
	  {"contextHash": "BAD", "status": "CONFIRMED"},
	  {"contextHash": "deadbeefcafe", "status": "NOPE"}
	]}`

	_, err := ParseRules(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidRules)
	assert.Contains(t, err.Error(), "rules.0")
	assert.Contains(t, err.Error(), "rules.1")
}

func TestParseRules_NotJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseRules(strings.NewReader("contextHash: yaml-not-json"))
	require.Error(t, err)
}
