package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is the immutable view of a record at release time. It is
// JSON round-trippable so it can cross the owner/proxy boundary.
type Snapshot struct {
	ID          string         `json:"watch_id"`
	Iteration   int            `json:"iteration"`
	Final       bool           `json:"final"`
	Outcome     Outcome        `json:"outcome"`
	Fields      map[string]any `json:"fields"`
	ArrivalTime time.Time      `json:"arrival_time"`
	Deadline    time.Time      `json:"deadline"`
	Sequence    uint64         `json:"sequence"`
}

// Field returns the named field value and whether it is present.
func (s Snapshot) Field(name string) (any, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// ShortView renders the given keys as a single "key=value" line.
// Missing keys render as null, matching the full JSON encoding of nil.
func (s Snapshot) ShortView(keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+FormatValue(s.Fields[key]))
	}
	return strings.Join(parts, " ")
}

// FullView renders every field whose name does not start with an
// underscore, sorted by key for stable output.
func (s Snapshot) FullView() string {
	keys := make([]string, 0, len(s.Fields))
	for key := range s.Fields {
		if strings.HasPrefix(key, "_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return s.ShortView(keys)
}

// Row renders a tabular view: the operation ID and iteration first,
// then the requested columns. Pair it with RowHeader for CSV output.
func (s Snapshot) Row(columns []string) []string {
	row := make([]string, 0, len(columns)+2)
	row = append(row, s.ID, fmt.Sprintf("%d", s.Iteration))
	for _, col := range columns {
		row = append(row, FormatValue(s.Fields[col]))
	}
	return row
}

// RowHeader returns the header matching Row for the given columns.
func RowHeader(columns []string) []string {
	header := make([]string, 0, len(columns)+2)
	header = append(header, "WatchID", "Iteration")
	return append(header, columns...)
}

// FormatValue serializes a field value for the render views: times at
// millisecond precision, floats with three decimals, everything else as
// JSON with a fmt fallback.
func FormatValue(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.Format("2006-01-02 15:04:05.000")
	case float64:
		return fmt.Sprintf("%.3f", val)
	case float32:
		return fmt.Sprintf("%.3f", val)
	case time.Duration:
		return fmt.Sprintf("%.3f", val.Seconds())
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
