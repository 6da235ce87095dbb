package commands

import (
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/bugledger/bugledger/internal/report"
)

// shortHashLen is the number of hash characters shown in tables. The
// full hash is always accepted as input.
const shortHashLen = 12

// newTable returns a writer configured in the house table style.
func newTable(out io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

// tableRow builds a row from its cells.
func tableRow(cells ...any) table.Row {
	return table.Row(cells)
}

// shortHash truncates a context hash for display.
func shortHash(hash string) string {
	if len(hash) <= shortHashLen {
		return hash
	}

	return hash[:shortHashLen]
}

// severityText colors a severity label by weight.
func severityText(sev report.Severity) string {
	label := sev.String()

	switch sev {
	case report.SeverityCritical, report.SeverityHigh:
		return color.New(color.FgRed).Sprint(label)
	case report.SeverityMedium:
		return color.New(color.FgYellow).Sprint(label)
	case report.SeverityLow, report.SeverityStyle:
		return color.New(color.FgCyan).Sprint(label)
	case report.SeverityUnspecified:
		return label
	}

	return label
}

// detectionText colors a detection status label.
func detectionText(status report.DetectionStatus) string {
	label := string(status)

	switch status {
	case report.DetectionNew, report.DetectionReopened:
		return color.New(color.FgRed).Sprint(label)
	case report.DetectionUnresolved:
		return color.New(color.FgYellow).Sprint(label)
	case report.DetectionResolved:
		return color.New(color.FgGreen).Sprint(label)
	case report.DetectionOff, report.DetectionUnavailable:
		return color.New(color.FgHiBlack).Sprint(label)
	}

	return label
}

// reviewText colors a review status label.
func reviewText(status report.ReviewStatus) string {
	label := string(status)

	switch status {
	case report.ReviewConfirmed:
		return color.New(color.FgRed).Sprint(label)
	case report.ReviewFalsePositive, report.ReviewIntentional:
		return color.New(color.FgGreen).Sprint(label)
	case report.ReviewUnreviewed:
		return color.New(color.FgHiBlack).Sprint(label)
	}

	return label
}
