// Package arrowbridge emits the schema/array pair describing a gathered
// table using the widely-used cross-language columnar ABI (spec.md §4.4):
// Apache Arrow's in-memory format and C Data Interface type-code strings.
package arrowbridge

import (
	"fmt"
	"math"

	"github.com/apache/arrow/go/arrow"
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/float16"
	"github.com/apache/arrow/go/arrow/memory"

	"github.com/mosaicdb/mosaic/internal/gather"
)

// FormatCode returns tag's Arrow C Data Interface format string, per
// spec.md §4.4's fixed type-code table.
func FormatCode(tag gather.Tag) string {
	switch tag {
	case gather.Null:
		return "n"
	case gather.Bool:
		return "b"
	case gather.I8:
		return "c"
	case gather.U8:
		return "C"
	case gather.I16:
		return "s"
	case gather.U16:
		return "S"
	case gather.I32:
		return "i"
	case gather.U32:
		return "I"
	case gather.I64:
		return "l"
	case gather.U64:
		return "U"
	case gather.F16:
		return "e"
	case gather.F32:
		return "f"
	case gather.F64:
		return "g"
	case gather.Bin:
		return "z"
	case gather.Str:
		return "u"
	case gather.UUID:
		return "w:16"
	default:
		return ""
	}
}

func arrowType(tag gather.Tag) (arrow.DataType, error) {
	switch tag {
	case gather.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case gather.I8:
		return arrow.PrimitiveTypes.Int8, nil
	case gather.U8:
		return arrow.PrimitiveTypes.Uint8, nil
	case gather.I16:
		return arrow.PrimitiveTypes.Int16, nil
	case gather.U16:
		return arrow.PrimitiveTypes.Uint16, nil
	case gather.I32:
		return arrow.PrimitiveTypes.Int32, nil
	case gather.U32:
		return arrow.PrimitiveTypes.Uint32, nil
	case gather.I64:
		return arrow.PrimitiveTypes.Int64, nil
	case gather.U64:
		return arrow.PrimitiveTypes.Uint64, nil
	case gather.F16:
		return arrow.FixedWidthTypes.Float16, nil
	case gather.F32:
		return arrow.PrimitiveTypes.Float32, nil
	case gather.F64:
		return arrow.PrimitiveTypes.Float64, nil
	case gather.Bin:
		return arrow.BinaryTypes.Binary, nil
	case gather.Str:
		return arrow.BinaryTypes.String, nil
	case gather.UUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	default:
		return nil, fmt.Errorf("arrowbridge: unsupported tag %q", tag)
	}
}

// Schema builds the arrow.Schema describing a table gathered with specs,
// one field per column named by its path and tagged with its format code
// as field metadata so a reader can recover the exact type-code string
// without re-deriving it from the Arrow DataType.
func Schema(specs []gather.ColumnSpec) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(specs))
	for i, spec := range specs {
		dt, err := arrowType(spec.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     spec.Path,
			Type:     dt,
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{"format"}, []string{FormatCode(spec.Type)}),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// Export converts a gathered table into one arrow.Array per column, using
// mem for every builder's allocations. The caller must Release each
// returned array once done with it. Release callbacks free the child
// arrays; the underlying gather tape is owned by whatever arena produced
// it and outlives this call regardless (spec.md §4.4).
func Export(mem memory.Allocator, table gather.Table) ([]arrow.Array, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	arrays := make([]arrow.Array, len(table.Columns))
	for i, col := range table.Columns {
		arr, err := exportColumn(mem, col)
		if err != nil {
			for _, built := range arrays[:i] {
				if built != nil {
					built.Release()
				}
			}
			return nil, err
		}
		arrays[i] = arr
	}
	return arrays, nil
}

func exportColumn(mem memory.Allocator, col gather.Column) (arrow.Array, error) {
	switch col.Spec.Type {
	case gather.Bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(col.FixedData[i] != 0)
		}
		return b.NewArray(), nil
	case gather.I8:
		b := array.NewInt8Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(int8(col.FixedData[i]))
		}
		return b.NewArray(), nil
	case gather.U8:
		b := array.NewUint8Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(col.FixedData[i])
		}
		return b.NewArray(), nil
	case gather.I16:
		b := array.NewInt16Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(int16(le16(col.FixedData[i*2 : i*2+2])))
		}
		return b.NewArray(), nil
	case gather.U16:
		b := array.NewUint16Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(le16(col.FixedData[i*2 : i*2+2]))
		}
		return b.NewArray(), nil
	case gather.I32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(int32(le32(col.FixedData[i*4 : i*4+4])))
		}
		return b.NewArray(), nil
	case gather.U32:
		b := array.NewUint32Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(le32(col.FixedData[i*4 : i*4+4]))
		}
		return b.NewArray(), nil
	case gather.I64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(int64(le64(col.FixedData[i*8 : i*8+8])))
		}
		return b.NewArray(), nil
	case gather.U64:
		b := array.NewUint64Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(le64(col.FixedData[i*8 : i*8+8]))
		}
		return b.NewArray(), nil
	case gather.F32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(math.Float32frombits(le32(col.FixedData[i*4 : i*4+4])))
		}
		return b.NewArray(), nil
	case gather.F64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(math.Float64frombits(le64(col.FixedData[i*8 : i*8+8])))
		}
		return b.NewArray(), nil
	case gather.F16:
		b := array.NewFloat16Builder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			bits := le16(col.FixedData[i*2 : i*2+2])
			b.Append(float16.New(float32frombits16(bits)))
		}
		return b.NewArray(), nil
	case gather.UUID:
		b := array.NewFixedSizeBinaryBuilder(mem, &arrow.FixedSizeBinaryType{ByteWidth: 16})
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(col.FixedData[i*16 : i*16+16])
		}
		return b.NewArray(), nil
	case gather.Str:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(string(col.Contents[col.Offsets[i]:col.Offsets[i+1]]))
		}
		return b.NewArray(), nil
	case gather.Bin:
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for i := 0; i < col.Rows; i++ {
			if !col.Validity[i] {
				b.AppendNull()
				continue
			}
			b.Append(col.Contents[col.Offsets[i]:col.Offsets[i+1]])
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("arrowbridge: unsupported column type %q", col.Spec.Type)
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// float32frombits16 expands a binary16 bit pattern to binary32 by
// re-biasing the exponent; float16.New re-packs the result to half
// precision storage for the builder.
func float32frombits16(bits uint16) float32 {
	sign := uint32(bits&0x8000) << 16
	exp := int32((bits>>10)&0x1f) - 15 + 127
	mant := uint32(bits&0x3ff) << 13
	if bits&0x7c00 == 0 {
		return math.Float32frombits(sign)
	}
	return math.Float32frombits(sign | uint32(exp)<<23 | mant)
}
