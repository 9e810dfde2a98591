// Package gather materializes a typed columnar table from a batch of JSON
// documents: validity bitmap, fixed-width cells written directly at row
// index, and a shared contents tape for variable-length columns that a
// compaction pass makes contiguous per column — spec.md §4.4.
package gather

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/go-openapi/jsonpointer"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mosaicdb/mosaic/internal/kvstore"
)

// Tag is one of the external columnar ABI's type tags (spec.md §4.3).
type Tag string

const (
	Bool Tag = "bool"
	I8   Tag = "i8"
	I16  Tag = "i16"
	I32  Tag = "i32"
	I64  Tag = "i64"
	U8   Tag = "u8"
	U16  Tag = "u16"
	U32  Tag = "u32"
	U64  Tag = "u64"
	F16  Tag = "f16"
	F32  Tag = "f32"
	F64  Tag = "f64"
	Bin  Tag = "bin"
	Str  Tag = "str"
	UUID Tag = "uuid"
	Null Tag = "null"
)

// cellSize returns the fixed-width cell size in bytes for tag, or 0 for a
// variable-length or null tag.
func cellSize(tag Tag) int {
	switch tag {
	case Bool, I8, U8:
		return 1
	case I16, U16, F16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	case UUID:
		return 16
	default:
		return 0
	}
}

func isVariableLength(tag Tag) bool {
	return tag == Str || tag == Bin
}

// ColumnSpec names one requested column: where to find it in each document
// (a JSON Pointer if it starts with '/', otherwise a literal top-level
// field name) and the type to coerce it to.
type ColumnSpec struct {
	Path string
	Type Tag
}

// Request builds a gather table header. Columns accumulates column
// specifications; the builder's plural spelling matches the rest of the
// batched-input API (compare kvstore.WriteItem slices), not a per-column
// singular setter.
type Request struct {
	columns []ColumnSpec
}

// NewRequest starts an empty gather request.
func NewRequest() *Request { return &Request{} }

// Columns appends column specifications to the request and returns it for
// chaining.
func (r *Request) Columns(specs ...ColumnSpec) *Request {
	r.columns = append(r.columns, specs...)
	return r
}

// Column is one materialized column: a validity bitmap, a converted flag
// per row, and either FixedData (scalar types) or Offsets+Contents
// (variable-length types).
type Column struct {
	Spec      ColumnSpec
	Rows      int
	Validity  []bool
	Converted []bool
	FixedData []byte   // len == Rows*cellSize(Spec.Type), valid for scalar tags
	Offsets   []int32  // len == Rows+1, valid for Str/Bin
	Contents  []byte   // this column's own contiguous slice of the shared tape
}

// Bitmap packs Validity into the ABI's 1-bit-per-row, row-major layout.
func (c Column) Bitmap() []byte {
	out := make([]byte, (c.Rows+7)/8)
	for i, v := range c.Validity {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// Table is the full materialized result of one Gather call.
type Table struct {
	Rows    int
	Columns []Column
}

// ColumnByPath returns the column matching path and type, if present.
func (t Table) ColumnByPath(path string, tag Tag) (Column, bool) {
	for _, c := range t.Columns {
		if c.Spec.Path == path && c.Spec.Type == tag {
			return c, true
		}
	}
	return Column{}, false
}

// Gather materializes req's columns from documents already fetched by the
// caller (in practice via document.Store.Read) — this package has no
// dependency on how the documents were retrieved.
func Gather(keys []kvstore.Key, bodies [][]byte, present []bool, req *Request) (Table, error) {
	rows := len(keys)
	if len(bodies) != rows || len(present) != rows {
		return Table{}, fmt.Errorf("%w: keys, bodies, and present must be equal length", kvstore.ErrInvalidArgument)
	}

	parsed := make([]interface{}, rows)
	for i := range bodies {
		if !present[i] {
			continue
		}
		var v interface{}
		if len(bodies[i]) == 0 {
			continue
		}
		if err := gojson.Unmarshal(bodies[i], &v); err != nil {
			return Table{}, fmt.Errorf("gather: row %d: %w", i, err)
		}
		parsed[i] = v
	}

	type varCell struct {
		start, length int
	}
	scratch := make([]byte, 0, rows*16)
	varCells := make([][]varCell, len(req.columns)) // per column, per row

	columns := make([]Column, len(req.columns))
	for ci, spec := range req.columns {
		col := Column{Spec: spec, Rows: rows, Validity: make([]bool, rows), Converted: make([]bool, rows)}
		if isVariableLength(spec.Type) {
			varCells[ci] = make([]varCell, rows)
		} else if size := cellSize(spec.Type); size > 0 {
			col.FixedData = make([]byte, rows*size)
		}
		columns[ci] = col
	}

	// Single row-major pass: one JSON value already decoded per row above,
	// now extract and coerce every requested column from it.
	for row := 0; row < rows; row++ {
		if parsed[row] == nil {
			continue
		}
		for ci, spec := range req.columns {
			raw, ok := resolvePath(parsed[row], spec.Path)
			if !ok || raw == nil {
				continue // missing path or JSON null: invalid cell
			}
			val, converted, ok := coerce(raw, spec.Type)
			if !ok {
				continue // failed coercion is not an error; cell stays invalid
			}
			columns[ci].Validity[row] = true
			columns[ci].Converted[row] = converted
			if isVariableLength(spec.Type) {
				b := val.([]byte)
				varCells[ci][row] = varCell{start: len(scratch), length: len(b)}
				scratch = append(scratch, b...)
			} else {
				writeFixed(columns[ci].FixedData, row, spec.Type, val)
			}
		}
	}

	// Compaction pass: each variable column's bytes were interleaved with
	// every other variable column's in scratch; copy them into one final
	// tape, column after column, so each column's Contents is its own
	// contiguous slice of that shared tape, and build its offsets array.
	// Every scratch byte belongs to exactly one valid cell, so the tape
	// never outgrows len(scratch) and is never reallocated.
	tape := make([]byte, 0, len(scratch))
	for ci, spec := range req.columns {
		if !isVariableLength(spec.Type) {
			continue
		}
		start := len(tape)
		offsets := make([]int32, rows+1)
		for row := 0; row < rows; row++ {
			offsets[row] = int32(len(tape) - start)
			if columns[ci].Validity[row] {
				cell := varCells[ci][row]
				tape = append(tape, scratch[cell.start:cell.start+cell.length]...)
			}
		}
		offsets[rows] = int32(len(tape) - start)
		columns[ci].Offsets = offsets
		columns[ci].Contents = tape[start:len(tape):len(tape)]
	}

	return Table{Rows: rows, Columns: columns}, nil
}

func resolvePath(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, true
	}
	if path[0] == '/' {
		p, err := jsonpointer.New(path)
		if err != nil {
			return nil, false
		}
		v, _, err := p.Get(doc)
		if err != nil {
			return nil, false
		}
		return v, true
	}
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[path]
	return v, ok
}

// coerce converts a decoded JSON value (string, float64, bool, []interface{}
// or map[string]interface{}) into the byte/scalar representation tag
// requires. Returns ok=false if no coercion path exists or the source
// string fails to parse as tag's scalar kind — that is a soft per-cell
// failure, not an error.
func coerce(v interface{}, tag Tag) (value interface{}, converted bool, ok bool) {
	switch tag {
	case Null:
		return nil, false, false
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, false, true
		case float64:
			return x != 0, true, true
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, false, false
			}
			return b, true, true
		}
		return nil, false, false
	case I8, I16, I32, I64, U8, U16, U32, U64:
		n, converted, ok := coerceInt(v)
		return n, converted, ok
	case F16, F32, F64:
		f, converted, ok := coerceFloat(v)
		return f, converted, ok
	case Str:
		switch x := v.(type) {
		case string:
			return []byte(x), false, true
		case float64:
			return []byte(formatFloat(x)), true, true
		case bool:
			return []byte(strconv.FormatBool(x)), true, true
		}
		return nil, false, false
	case Bin:
		if s, ok := v.(string); ok {
			return []byte(s), false, true
		}
		return nil, false, false
	case UUID:
		s, ok := v.(string)
		if !ok {
			return nil, false, false
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, false, false
		}
		b, _ := u.MarshalBinary()
		return b, false, true
	default:
		return nil, false, false
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func coerceInt(v interface{}) (int64, bool, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), x != math.Trunc(x), true // truncating per spec.md §4.3; a dropped fraction marks the cell converted
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			f, err2 := strconv.ParseFloat(x, 64)
			if err2 != nil {
				return 0, false, false
			}
			return int64(f), true, true
		}
		return n, true, true
	case bool:
		if x {
			return 1, true, true
		}
		return 0, true, true
	}
	return 0, false, false
}

func coerceFloat(v interface{}) (float64, bool, bool) {
	switch x := v.(type) {
	case float64:
		return x, false, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false, false
		}
		return f, true, true
	case bool:
		if x {
			return 1, true, true
		}
		return 0, true, true
	}
	return 0, false, false
}

func writeFixed(buf []byte, row int, tag Tag, value interface{}) {
	size := cellSize(tag)
	cell := buf[row*size : row*size+size]
	switch tag {
	case Bool:
		if value.(bool) {
			cell[0] = 1
		}
	case I8, U8:
		cell[0] = byte(value.(int64))
	case I16, U16:
		binary.LittleEndian.PutUint16(cell, uint16(value.(int64)))
	case I32, U32:
		binary.LittleEndian.PutUint32(cell, uint32(value.(int64)))
	case I64, U64:
		binary.LittleEndian.PutUint64(cell, uint64(value.(int64)))
	case F16:
		binary.LittleEndian.PutUint16(cell, float32ToHalf(float32(value.(float64))))
	case F32:
		binary.LittleEndian.PutUint32(cell, math.Float32bits(float32(value.(float64))))
	case F64:
		binary.LittleEndian.PutUint64(cell, math.Float64bits(value.(float64)))
	case UUID:
		copy(cell, value.([]byte))
	}
}

// float32ToHalf converts to IEEE 754 binary16, truncating mantissa bits —
// f16 columns are rare in practice but named in the ABI's type-tag list.
func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}

// SortedColumnPaths returns the distinct paths req names, sorted — useful
// for deriving a gist-style summary of a gathered table's shape.
func SortedColumnPaths(req *Request) []string {
	seen := make(map[string]struct{})
	for _, c := range req.columns {
		seen[c.Path] = struct{}{}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
