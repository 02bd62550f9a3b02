// Package present interprets the loosely-typed convert API response. Every
// accessor tolerates any input shape: a structural mismatch degrades to the
// zero value, never to an error.
package present

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// URL returns the response's top-level url field, or "" when absent or not
// a string.
func URL(raw json.RawMessage) string {
	s, _ := decode(raw)["url"].(string)
	return s
}

// Metadata returns data.metadata as-is when both levels are objects, else
// nil. Individual fields stay untyped; display treats each as optional.
func Metadata(raw json.RawMessage) map[string]any {
	data, ok := decode(raw)["data"].(map[string]any)
	if !ok {
		return nil
	}
	meta, ok := data["metadata"].(map[string]any)
	if !ok {
		return nil
	}
	return meta
}

// Tables returns the well-formed entries of data.extracted_tables: objects
// carrying both columns and rows as arrays. Malformed entries are dropped
// silently rather than truncating the whole result.
func Tables(raw json.RawMessage) []Table {
	data, ok := decode(raw)["data"].(map[string]any)
	if !ok {
		return nil
	}
	entries, ok := data["extracted_tables"].([]any)
	if !ok {
		return nil
	}

	tables := make([]Table, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		columns, ok := obj["columns"].([]any)
		if !ok {
			continue
		}
		rows, ok := obj["rows"].([]any)
		if !ok {
			continue
		}

		table := Table{Columns: stringCells(columns), Rows: make([][]string, 0, len(rows))}
		for _, row := range rows {
			cells, ok := row.([]any)
			if !ok {
				continue
			}
			table.Rows = append(table.Rows, stringCells(cells))
		}
		tables = append(tables, table)
	}
	return tables
}

func decode(raw json.RawMessage) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func stringCells(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, stringCell(v))
	}
	return out
}

func stringCell(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
