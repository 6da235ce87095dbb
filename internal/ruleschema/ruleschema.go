// Package ruleschema validates review-status rule import files against
// the embedded JSON schema before any rule reaches the repository, so a
// malformed bulk import fails as a whole instead of half-applying.
package ruleschema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bugledger/bugledger/internal/report"
)

// RulesSchemaFS embeds the canonical rule import schema.
//
//go:embed rules-schema.json
var RulesSchemaFS embed.FS

// schemaFile is the embedded schema file name.
const schemaFile = "rules-schema.json"

// ErrInvalidRules indicates an import document that failed schema validation.
var ErrInvalidRules = errors.New("invalid review-status rules document")

// rulesDocument is the wire shape of a rule import file.
type rulesDocument struct {
	Rules []report.ReviewRule `json:"rules"`
}

// ParseRules validates and decodes a rule import document. Validation
// failures list every violating field, not only the first.
func ParseRules(r io.Reader) ([]report.ReviewRule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules document: %w", err)
	}

	validateErr := validate(data)
	if validateErr != nil {
		return nil, validateErr
	}

	var doc rulesDocument

	decodeErr := json.Unmarshal(data, &doc)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode rules document: %w", decodeErr)
	}

	return doc.Rules, nil
}

// validate checks the document against the embedded schema.
func validate(data []byte) error {
	schemaBytes, err := RulesSchemaFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	result, validateErr := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(data))
	if validateErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRules, validateErr)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidRules, strings.Join(violations, "; "))
}
