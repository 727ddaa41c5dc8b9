// Package frame provides the small tabular container used to pass
// configuration batches, scores, contexts and metadata between the optimizer
// and its strategies.
package frame

import (
	"fmt"
	"math"
	"reflect"
)

// Frame is an ordered set of named columns with row-major values.
// A frame may have rows but no columns; such frames keep row alignment
// when concatenated with frames that do carry columns.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New creates an empty frame with the given columns.
func New(columns ...string) *Frame {
	f := &Frame{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range f.columns {
		f.index[c] = i
	}
	return f
}

// Blank creates a frame with n rows and no columns.
func Blank(n int) *Frame {
	f := New()
	for i := 0; i < n; i++ {
		f.rows = append(f.rows, []any{})
	}
	return f
}

// FromRecords builds a frame with the given column order from records.
// Keys missing from a record become nil cells.
func FromRecords(columns []string, records ...map[string]any) *Frame {
	f := New(columns...)
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = rec[c]
		}
		f.rows = append(f.rows, row)
	}
	return f
}

// Single builds a one-row frame from a record, columns in the given order.
func Single(columns []string, record map[string]any) *Frame {
	return FromRecords(columns, record)
}

// Append adds a row. The number of values must match the frame width.
func (f *Frame) Append(values ...any) error {
	if len(values) != len(f.columns) {
		return fmt.Errorf("frame: row has %d values, frame has %d columns", len(values), len(f.columns))
	}
	f.rows = append(f.rows, append([]any(nil), values...))
	return nil
}

// AppendRecord adds a row from a record keyed by column name.
func (f *Frame) AppendRecord(rec map[string]any) error {
	for k := range rec {
		if _, ok := f.index[k]; !ok {
			return fmt.Errorf("frame: unknown column %q", k)
		}
	}
	row := make([]any, len(f.columns))
	for i, c := range f.columns {
		row[i] = rec[c]
	}
	f.rows = append(f.rows, row)
	return nil
}

// Len returns the number of rows. A nil frame has zero rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rows)
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	if f == nil {
		return 0
	}
	return len(f.columns)
}

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.columns...)
}

// HasColumn reports whether the frame has the named column.
func (f *Frame) HasColumn(name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.index[name]
	return ok
}

// Value returns the cell at row for the named column.
func (f *Frame) Value(row int, column string) (any, bool) {
	if f == nil || row < 0 || row >= len(f.rows) {
		return nil, false
	}
	j, ok := f.index[column]
	if !ok {
		return nil, false
	}
	return f.rows[row][j], true
}

// Set overwrites the cell at row for the named column.
func (f *Frame) Set(row int, column string, v any) error {
	if row < 0 || row >= len(f.rows) {
		return fmt.Errorf("frame: row %d out of range [0,%d)", row, len(f.rows))
	}
	j, ok := f.index[column]
	if !ok {
		return fmt.Errorf("frame: unknown column %q", column)
	}
	f.rows[row][j] = v
	return nil
}

// Float returns the cell at row for the named column as a float64.
func (f *Frame) Float(row int, column string) (float64, error) {
	v, ok := f.Value(row, column)
	if !ok {
		return 0, fmt.Errorf("frame: no cell at row %d column %q", row, column)
	}
	x, ok := AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("frame: cell at row %d column %q is %T, not numeric", row, column, v)
	}
	return x, nil
}

// Record returns row i as a map keyed by column name.
func (f *Frame) Record(i int) map[string]any {
	rec := make(map[string]any, len(f.columns))
	for j, c := range f.columns {
		rec[c] = f.rows[i][j]
	}
	return rec
}

// Records returns every row as a record.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.Len())
	for i := range out {
		out[i] = f.Record(i)
	}
	return out
}

// Column returns the values of the named column.
func (f *Frame) Column(name string) []any {
	j, ok := f.index[name]
	if !ok {
		return nil
	}
	out := make([]any, len(f.rows))
	for i, row := range f.rows {
		out[i] = row[j]
	}
	return out
}

// Take returns a new frame holding the given rows in the given order.
func (f *Frame) Take(rows ...int) *Frame {
	out := New(f.columns...)
	for _, i := range rows {
		out.rows = append(out.rows, append([]any(nil), f.rows[i]...))
	}
	return out
}

// Clone returns a deep copy of the row storage.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	idx := make([]int, len(f.rows))
	for i := range idx {
		idx[i] = i
	}
	return f.Take(idx...)
}

// Concat stacks frames vertically. Columns are the union of the inputs in
// first-seen order; cells for columns a frame lacks are nil. Nil frames are
// skipped.
func Concat(frames ...*Frame) *Frame {
	var cols []string
	seen := make(map[string]bool)
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, c := range f.columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	out := New(cols...)
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, row := range f.rows {
			dst := make([]any, len(cols))
			for j, c := range f.columns {
				dst[out.index[c]] = row[j]
			}
			out.rows = append(out.rows, dst)
		}
	}
	return out
}

// SameColumns reports whether the frame's column set equals names,
// ignoring order. A frame with repeated column names never matches.
func (f *Frame) SameColumns(names []string) bool {
	if f.Width() != len(names) || f.distinctColumns() != f.Width() {
		return false
	}
	return f.ColumnsSubsetOf(names)
}

func (f *Frame) distinctColumns() int {
	if f == nil {
		return 0
	}
	return len(f.index)
}

// ColumnsSubsetOf reports whether every column of the frame is in names.
func (f *Frame) ColumnsSubsetOf(names []string) bool {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	for _, c := range f.Columns() {
		if !allowed[c] {
			return false
		}
	}
	return true
}

// RowEqual reports whether row i of f and row j of g hold equal values for
// every column of f. Numeric values compare by float64 value.
func RowEqual(f *Frame, i int, g *Frame, j int) bool {
	if f.Width() != g.Width() {
		return false
	}
	for _, c := range f.columns {
		a, _ := f.Value(i, c)
		b, ok := g.Value(j, c)
		if !ok || !ValueEqual(a, b) {
			return false
		}
	}
	return true
}

// Equal reports whether two frames hold the same columns (in order) and
// values.
func Equal(f, g *Frame) bool {
	if f.Len() != g.Len() || !reflect.DeepEqual(f.Columns(), g.Columns()) {
		return false
	}
	for i := 0; i < f.Len(); i++ {
		if !RowEqual(f, i, g, i) {
			return false
		}
	}
	return true
}

// ValueEqual compares two cells, treating all numeric kinds as float64.
// Uncomparable values such as slices and maps compare deeply.
func ValueEqual(a, b any) bool {
	x, okA := AsFloat(a)
	y, okB := AsFloat(b)
	if okA && okB {
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	}
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// AsFloat converts numeric cell values to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int8:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint8:
		return float64(x), true
	default:
		return 0, false
	}
}

// String renders the frame for debugging.
func (f *Frame) String() string {
	if f == nil {
		return "<nil frame>"
	}
	return fmt.Sprintf("Frame%v%v", f.columns, f.rows)
}
