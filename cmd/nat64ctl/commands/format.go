package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/gonat64/internal/control"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// renderRows renders a slice of row maps (column name -> value, in
// column order) either as a tab-separated table or as a JSON array.
func renderRows(columns []string, rows [][]string, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderRowsJSON(columns, rows)
	case formatTable:
		return renderRowsTable(columns, rows), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func renderRowsTable(columns []string, rows [][]string) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return buf.String()
}

// statusError turns a non-OK control channel response into an error,
// surfacing the server's error message payload when present.
func statusError(resp control.Response) error {
	if len(resp.Payload) > 0 {
		return fmt.Errorf("%s: %s", resp.Status, string(resp.Payload))
	}
	return fmt.Errorf("%s", resp.Status)
}

func renderRowsJSON(columns []string, rows [][]string) (string, error) {
	objs := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		objs = append(objs, obj)
	}
	b, err := json.MarshalIndent(objs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	return string(b) + "\n", nil
}
