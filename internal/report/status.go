package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DetectionStatus is the computed lifecycle label of a finding within a
// run's history. It is recomputed in full on every store, never edited.
type DetectionStatus string

// Detection statuses.
const (
	DetectionNew         DetectionStatus = "NEW"
	DetectionUnresolved  DetectionStatus = "UNRESOLVED"
	DetectionResolved    DetectionStatus = "RESOLVED"
	DetectionReopened    DetectionStatus = "REOPENED"
	DetectionOff         DetectionStatus = "OFF"
	DetectionUnavailable DetectionStatus = "UNAVAILABLE"
)

// ErrUnknownDetectionStatus indicates a string that is not a detection status.
var ErrUnknownDetectionStatus = errors.New("unknown detection status")

// ParseDetectionStatus converts a string into a DetectionStatus.
func ParseDetectionStatus(s string) (DetectionStatus, error) {
	switch DetectionStatus(s) {
	case DetectionNew, DetectionUnresolved, DetectionResolved,
		DetectionReopened, DetectionOff, DetectionUnavailable:
		return DetectionStatus(s), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownDetectionStatus, s)
}

// ReviewStatus is the human-assigned disposition of a finding,
// independent of its detection status.
type ReviewStatus string

// Review statuses.
const (
	ReviewUnreviewed    ReviewStatus = "UNREVIEWED"
	ReviewConfirmed     ReviewStatus = "CONFIRMED"
	ReviewFalsePositive ReviewStatus = "FALSE_POSITIVE"
	ReviewIntentional   ReviewStatus = "INTENTIONAL"
)

// ErrUnknownReviewStatus indicates a string that is not a review status.
var ErrUnknownReviewStatus = errors.New("unknown review status")

// ParseReviewStatus converts a string into a ReviewStatus.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch ReviewStatus(s) {
	case ReviewUnreviewed, ReviewConfirmed, ReviewFalsePositive, ReviewIntentional:
		return ReviewStatus(s), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownReviewStatus, s)
}

// ReviewRule is a user-authored review-status override keyed by context
// hash. Rules live independently of reports: a rule may match zero live
// reports (orphaned, safely removable) or many.
type ReviewRule struct {
	ContextHash string       `json:"contextHash"`
	Status      ReviewStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	Author      string       `json:"author,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`

	// CheckerScope optionally narrows the rule to one checker name,
	// mirroring the scope of the in-source annotation it was derived from.
	CheckerScope string `json:"checkerScope,omitempty"`

	// FileScope optionally narrows the rule to reports whose final
	// location contains this substring.
	FileScope string `json:"fileScope,omitempty"`
}

// Matches reports whether the rule applies to the given report: the
// context hash must match, and any checker or file scope must hold.
func (r ReviewRule) Matches(rep *Report) bool {
	if r.ContextHash != rep.ContextHash {
		return false
	}

	if r.CheckerScope != "" && r.CheckerScope != rep.CheckerName {
		return false
	}

	if r.FileScope != "" && !strings.Contains(rep.FinalEvent().File, r.FileScope) {
		return false
	}

	return true
}
