package api

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type Field struct {
	Key   string
	Value any
}

// Row is one record of a tabular response. Unlike a plain map it remembers
// the order in which the server sent the columns, which is the order tables
// are rendered in.
type Row struct {
	keys   []string
	values map[string]any
}

func NewRow(fields ...Field) Row {
	r := Row{values: make(map[string]any, len(fields))}
	for _, f := range fields {
		r.set(f.Key, f.Value)
	}
	return r
}

func (r *Row) set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r Row) Columns() []string {
	return append([]string(nil), r.keys...)
}

func (r Row) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

func (r Row) Len() int {
	return len(r.keys)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		*r = Row{}
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("row must be a json object, got %s", res.Type)
	}

	*r = Row{values: make(map[string]any)}
	res.ForEach(func(key, value gjson.Result) bool {
		r.set(key.String(), value.Value())
		return true
	})
	return nil
}

func (r Row) MarshalJSON() ([]byte, error) {
	out := []byte(`{}`)
	for _, key := range r.keys {
		v, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, fmt.Errorf("error encoding column '%s': %w", key, err)
		}
		if out, err = sjson.SetRawBytes(out, objectKey(key), v); err != nil {
			return nil, fmt.Errorf("error encoding column '%s': %w", key, err)
		}
	}
	return out, nil
}

// objectKey is the sjson path of key as a literal member of the top level
// object, even when key is numeric or contains path syntax.
func objectKey(key string) string {
	var sb strings.Builder
	sb.Grow(len(key) + 1)
	sb.WriteByte(':')
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '\\', '.', '|', '#', '@', '*', '?':
			sb.WriteByte('\\')
		}
		sb.WriteByte(key[i])
	}
	return sb.String()
}

// TableData is a column oriented dataset as returned by /current-data and the
// editing endpoints. Both {"col": [v0, v1]} and the pandas style
// {"col": {"0": v0, "1": v1}} encodings are accepted.
type TableData struct {
	columns []string
	values  map[string][]any
}

func NewTableData(columns []string, values map[string][]any) TableData {
	t := TableData{values: make(map[string][]any, len(columns))}
	for _, c := range columns {
		if _, ok := t.values[c]; ok {
			continue
		}
		t.columns = append(t.columns, c)
		t.values[c] = values[c]
	}
	return t
}

func (t TableData) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t TableData) HasColumn(column string) bool {
	_, ok := t.values[column]
	return ok
}

func (t TableData) Column(column string) []any {
	return t.values[column]
}

func (t TableData) RowCount() int {
	n := 0
	for _, v := range t.values {
		n = max(n, len(v))
	}
	return n
}

// Rows transposes the first limit rows into row records. A limit <= 0 returns
// every row.
func (t TableData) Rows(limit int) []Row {
	n := t.RowCount()
	if limit > 0 {
		n = min(n, limit)
	}

	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		row := Row{values: make(map[string]any, len(t.columns))}
		for _, c := range t.columns {
			var v any
			if col := t.values[c]; i < len(col) {
				v = col[i]
			}
			row.set(c, v)
		}
		rows = append(rows, row)
	}
	return rows
}

func (t *TableData) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		*t = TableData{}
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("table data must be a json object, got %s", res.Type)
	}

	parsed := TableData{values: make(map[string][]any)}
	var err error
	res.ForEach(func(key, column gjson.Result) bool {
		var values []any
		switch {
		case column.IsArray():
			for _, v := range column.Array() {
				values = append(values, v.Value())
			}
		case column.IsObject():
			values = indexedValues(column)
		default:
			err = fmt.Errorf("column '%s' must be an array or an index object, got %s", key.String(), column.Type)
			return false
		}
		if _, ok := parsed.values[key.String()]; !ok {
			parsed.columns = append(parsed.columns, key.String())
		}
		parsed.values[key.String()] = values
		return true
	})
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}

// indexedValues flattens a pandas {"idx": v} column. Integer indexes are put
// back in index order since the server may send them sorted as strings
// ("0", "1", "10", "2") or with gaps after rows were dropped. Any other index
// keeps document order.
func indexedValues(column gjson.Result) []any {
	type entry struct {
		index int
		value any
	}

	var entries []entry
	numeric := true
	column.ForEach(func(key, v gjson.Result) bool {
		idx, err := strconv.Atoi(key.String())
		if err != nil {
			numeric = false
		}
		entries = append(entries, entry{index: idx, value: v.Value()})
		return true
	})

	if numeric {
		slices.SortStableFunc(entries, func(a, b entry) int { return cmp.Compare(a.index, b.index) })
	}

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.value)
	}
	return values
}

func (t TableData) MarshalJSON() ([]byte, error) {
	out := []byte(`{}`)
	for _, c := range t.columns {
		values := t.values[c]
		if values == nil {
			values = []any{}
		}
		v, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("error encoding column '%s': %w", c, err)
		}
		if out, err = sjson.SetRawBytes(out, objectKey(c), v); err != nil {
			return nil, fmt.Errorf("error encoding column '%s': %w", c, err)
		}
	}
	return out, nil
}
