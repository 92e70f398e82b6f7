package shore

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// OutputFormat selects how fields are written.
type OutputFormat string

const (
	// OutputFormatDefault is a human-readable table or event line.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSON is one JSON object per line.
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "default" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown format: %s (valid formats: default, json)", s)
	}
}

// FormatTable writes fields as a table and returns how many were written.
func FormatTable(w io.Writer, fields []Field, vehicle, link string) int {
	if len(fields) == 0 {
		fmt.Fprintf(w, "No fields mirrored for %s/%s\n", vehicle, link)
		return 0
	}

	fmt.Fprintf(w, "Mirror for %s/%s:\n\n", vehicle, link)
	fmt.Fprintf(w, "%-20s %-12s %s\n", "FIELD", "KIND", "VALUE")
	fmt.Fprintf(w, "%-20s %-12s %s\n", "--------------------", "------------", "----------------------------------------")
	for _, f := range fields {
		fmt.Fprintf(w, "%-20s %-12s %s\n", truncate(f.Name, 20), formatKind(f), formatValue(f))
	}

	noun := "field"
	if len(fields) != 1 {
		noun = "fields"
	}
	fmt.Fprintf(w, "\n%d %s\n", len(fields), noun)
	return len(fields)
}

// FormatJSONL writes one compact JSON object per field.
func FormatJSONL(w io.Writer, fields []Field) error {
	for _, f := range fields {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to marshal field to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatEvent writes one telemetry line in the given format.
func FormatEvent(w io.Writer, f Field, format OutputFormat) error {
	if format == OutputFormatJSON {
		return FormatJSONL(w, []Field{f})
	}

	ts := "--:--:--.---"
	if !f.ReceivedAt.IsZero() {
		ts = f.ReceivedAt.Format("15:04:05.000")
	}
	if f.Error != "" {
		_, err := fmt.Fprintf(w, "[%s] ⚠️  %s (%s)\n", ts, f.Raw, f.Error)
		return err
	}
	_, err := fmt.Fprintf(w, "[%s] %s = %s\n", ts, f.Name, formatValue(f))
	return err
}

func formatKind(f Field) string {
	if f.Error != "" {
		return "invalid"
	}
	return f.Kind
}

// formatValue renders a payload for one table cell. Long strings and
// arrays are truncated.
func formatValue(f Field) string {
	if f.Error != "" {
		return truncate(f.Raw, 40)
	}

	var s string
	switch v := f.Value.(type) {
	case nil:
		return "-"
	case string:
		s = strconv.Quote(v)
	case float64:
		s = strconv.FormatFloat(v, 'g', -1, 64)
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		s = "[" + strings.Join(parts, " ") + "]"
	case []float64:
		parts := make([]string, len(v))
		for i, d := range v {
			parts[i] = strconv.FormatFloat(d, 'g', -1, 64)
		}
		s = "[" + strings.Join(parts, " ") + "]"
	default:
		s = fmt.Sprint(v)
	}
	return truncate(s, 40)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
