package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/pipeline"
	"github.com/danieljhkim/bspstage/internal/planner"
)

var (
	// fatih/color disables these when output is not a TTY
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	valueColor   = color.New(color.FgHiBlack)
	dimColor     = color.New(color.FgHiBlack)
)

// PrintSection prints a section header
func PrintSection(w io.Writer, title string) {
	_, _ = fmt.Fprintln(w)
	_, _ = headerColor.Fprintf(w, "▸ %s\n", title)
	_, _ = fmt.Fprintln(w)
}

// PrintSuccess prints a success message with a checkmark
func PrintSuccess(w io.Writer, msg string) {
	_, _ = successColor.Fprintf(w, "✓ %s\n", msg)
}

// PrintWarning prints a warning message with a warning symbol
func PrintWarning(w io.Writer, msg string) {
	_, _ = warningColor.Fprintf(w, "⚠ %s\n", msg)
}

// PrintError prints an error message
func PrintError(w io.Writer, msg string) {
	_, _ = errorColor.Fprintf(w, "✗ %s\n", msg)
}

// PrintInfo prints an informational message
func PrintInfo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, msg)
}

// PrintLabelValue prints a label-value pair with proper formatting
func PrintLabelValue(w io.Writer, label, value string) {
	_, _ = labelColor.Fprintf(w, "  %s: ", label)
	_, _ = valueColor.Fprintln(w, value)
}

// PrintLabelValueWithColor prints a label-value pair with a custom value color
func PrintLabelValueWithColor(w io.Writer, label, value string, valueClr *color.Color) {
	_, _ = labelColor.Fprintf(w, "  %s: ", label)
	_, _ = valueClr.Fprintln(w, value)
}

// PrintList prints a list of items with bullet points
func PrintList(w io.Writer, items []string, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for _, item := range items {
		_, _ = infoColor.Fprintf(w, "%s• %s\n", indentStr, item)
	}
}

// PrintTable renders rows under headers
func PrintTable(w io.Writer, headers []string, rows [][]string) {
	if len(headers) == 0 || len(rows) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

// PrintEmptyState prints a message when there's no data to show
func PrintEmptyState(w io.Writer, msg string) {
	_, _ = dimColor.Fprintf(w, "  %s\n", msg)
}

// PrintCount prints a count with proper formatting
func PrintCount(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

// statusColor picks the color for a run or step status.
func statusColor(status string) *color.Color {
	switch status {
	case journal.StatusSucceeded:
		return successColor
	case journal.StatusFailed:
		return errorColor
	case journal.StatusSkipped, journal.StatusRunning:
		return warningColor
	default:
		return infoColor
	}
}

// PrintSteps prints one table row per step outcome.
func PrintSteps(w io.Writer, steps []pipeline.StepOutcome) {
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		detail := s.Detail
		if s.Error != "" {
			detail = s.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Index),
			s.Op,
			s.Name,
			statusColor(s.Status).Sprint(s.Status),
			detail,
		})
	}
	PrintTable(w, []string{"#", "Op", "Name", "Status", "Detail"}, rows)
}

// PrintOperations prints the operations of a plan, one per line.
func PrintOperations(w io.Writer, ops []planner.Operation, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for _, op := range ops {
		switch op.Type {
		case planner.OpCopy:
			_, _ = fmt.Fprintf(w, "%s%-14s %s <- %s\n", indentStr, op.Type, op.DestPath, op.SourcePath)
		case planner.OpCreateSymlink:
			_, _ = fmt.Fprintf(w, "%s%-14s %s -> %s\n", indentStr, op.Type, op.DestPath, op.LinkTarget)
		default:
			_, _ = fmt.Fprintf(w, "%s%-14s %s\n", indentStr, op.Type, op.DestPath)
		}
	}
}

// PrintConflicts prints the conflicts that refused a plan.
func PrintConflicts(w io.Writer, conflicts []planner.Conflict) {
	for _, c := range conflicts {
		_, _ = errorColor.Fprintf(w, "  ✗ %s: %s (existing %s, incoming %s)\n", c.Path, c.Reason, c.Existing, c.Incoming)
	}
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
