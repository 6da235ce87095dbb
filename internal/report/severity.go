package report

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Severity is the ordered severity scale of a finding.
// The order is STYLE < LOW < MEDIUM < HIGH < CRITICAL < UNSPECIFIED.
type Severity int

// Severities in ascending order.
const (
	SeverityStyle Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityUnspecified
)

// ErrUnknownSeverity indicates a string that is not a severity name.
var ErrUnknownSeverity = errors.New("unknown severity")

// severityNames maps each severity to its canonical string.
var severityNames = map[Severity]string{
	SeverityStyle:       "STYLE",
	SeverityLow:         "LOW",
	SeverityMedium:      "MEDIUM",
	SeverityHigh:        "HIGH",
	SeverityCritical:    "CRITICAL",
	SeverityUnspecified: "UNSPECIFIED",
}

// String returns the canonical name of the severity.
func (s Severity) String() string {
	name, ok := severityNames[s]
	if !ok {
		return severityNames[SeverityUnspecified]
	}

	return name
}

// ParseSeverity converts a canonical name into a Severity.
func ParseSeverity(name string) (Severity, error) {
	for sev, sevName := range severityNames {
		if sevName == name {
			return sev, nil
		}
	}

	return SeverityUnspecified, fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
}

// MarshalJSON encodes the severity as its canonical name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String()) //nolint:wrapcheck // plain string marshal
}

// UnmarshalJSON decodes the severity from its canonical name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string

	err := json.Unmarshal(data, &name)
	if err != nil {
		return fmt.Errorf("unmarshal severity: %w", err)
	}

	sev, parseErr := ParseSeverity(name)
	if parseErr != nil {
		return parseErr
	}

	*s = sev

	return nil
}
