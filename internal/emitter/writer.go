package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// Format is a report rendering.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", &compliance.ConfigurationError{Reason: fmt.Sprintf("unknown output format %q (want table, json or yaml)", s)}
	}
}

// WriterEmitter renders reports to an io.Writer.
type WriterEmitter struct {
	w      io.Writer
	format Format
}

// NewWriterEmitter creates a writer emitter.
func NewWriterEmitter(w io.Writer, format Format) *WriterEmitter {
	return &WriterEmitter{w: w, format: format}
}

// Emit renders the report in the configured format.
func (e *WriterEmitter) Emit(_ context.Context, report *compliance.ScanReport) error {
	switch e.format {
	case FormatJSON:
		enc := json.NewEncoder(e.w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatYAML:
		enc := yaml.NewEncoder(e.w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return e.writeTable(report)
	}
}

func (e *WriterEmitter) writeTable(report *compliance.ScanReport) error {
	tw := tabwriter.NewWriter(e.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "KIND\tID\tRULE\tSTATUS\tREASON\tACTION")
	for _, v := range report.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Resource.Kind, v.Resource.ID, v.Rule, status(v), v.Reason, action(v))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintf(e.w, "\nSkipped (%d):\n", len(report.Skipped))
		for _, s := range report.Skipped {
			fmt.Fprintf(e.w, "  %s %s: %s\n", s.Kind, s.ID, s.Reason)
		}
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(e.w, "\nErrors (%d):\n", len(report.Errors))
		for _, se := range report.Errors {
			fmt.Fprintf(e.w, "  pair %d (%s/%s): %s\n", se.Pair, se.Kind, se.Rule, se.Message)
		}
	}

	fmt.Fprintln(e.w)
	for _, line := range summaryLines(report) {
		fmt.Fprintln(e.w, line)
	}
	if report.Cancelled {
		fmt.Fprintln(e.w, "Scan cancelled; report is partial.")
	}
	_, err := fmt.Fprintf(e.w, "Run %s: %d scanned, %d non-compliant, %d unresolved in %s.\n",
		report.RunID, len(report.Entries), len(report.NonCompliant()), report.Unresolved(), report.Duration.Round(time.Millisecond))
	return err
}

func status(v compliance.Verdict) string {
	switch {
	case v.Compliant:
		return "OK"
	case v.Remediated:
		return "REMEDIATED"
	case v.RemediationError != "":
		return "REMEDIATION FAILED"
	default:
		return "VIOLATION"
	}
}

func action(v compliance.Verdict) string {
	if v.SuggestedAction == nil {
		return "-"
	}
	return v.SuggestedAction.String()
}

// summaryLines gives one human line per scanned kind, skipping kinds whose
// pass failed. A cancelled report gets none.
func summaryLines(report *compliance.ScanReport) []string {
	if report.Cancelled {
		return nil
	}
	failed := make(map[resource.Kind]bool)
	for _, se := range report.Errors {
		failed[se.Kind] = true
	}
	counts := report.Counts()

	var lines []string
	for _, kind := range resource.Kinds() {
		if !report.HasKind(kind) || failed[kind] {
			continue
		}
		c := counts[kind]
		switch kind {
		case resource.KindBucket:
			if c.NonCompliant == 0 {
				lines = append(lines, "No public buckets found.")
			} else {
				lines = append(lines, fmt.Sprintf("%d public bucket(s) found.", c.NonCompliant))
			}
		case resource.KindLogGroup:
			if report.Mode == compliance.ModeRemediate {
				lines = append(lines, fmt.Sprintf("Retention policy check and update completed (%d updated).", c.Remediated))
			} else {
				lines = append(lines, fmt.Sprintf("Retention policy check completed: %d log group(s) without a valid retention policy.", c.NonCompliant))
			}
		}
	}
	return lines
}

// Close is a no-op for the writer emitter.
func (e *WriterEmitter) Close() error {
	return nil
}
