package gather_test

import (
	"testing"

	"github.com/mosaicdb/mosaic/internal/gather"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGather_DocumentGather is spec.md §8 scenario 5 verbatim.
func TestGather_DocumentGather(t *testing.T) {
	keys := []kvstore.Key{1, 2, 3}
	bodies := [][]byte{
		[]byte(`{"person":"Alice","age":27,"height":1}`),
		[]byte(`{"person":"Bob","age":"27","weight":2}`),
		[]byte(`{"person":"Carl","age":24}`),
	}
	present := []bool{true, true, true}

	req := gather.NewRequest().Columns(
		gather.ColumnSpec{Path: "age", Type: gather.I32},
		gather.ColumnSpec{Path: "age", Type: gather.Str},
		gather.ColumnSpec{Path: "person", Type: gather.Str},
		gather.ColumnSpec{Path: "person", Type: gather.F32},
		gather.ColumnSpec{Path: "height", Type: gather.I32},
		gather.ColumnSpec{Path: "weight", Type: gather.U64},
	)

	table, err := gather.Gather(keys, bodies, present, req)
	require.NoError(t, err)
	require.Equal(t, 3, table.Rows)

	ageI32, ok := table.ColumnByPath("age", gather.I32)
	require.True(t, ok)
	assert.Equal(t, []bool{true, true, true}, ageI32.Validity)
	assert.Equal(t, []bool{false, true, false}, ageI32.Converted)
	assert.Equal(t, int32(27), readI32(ageI32, 0))
	assert.Equal(t, int32(27), readI32(ageI32, 1))
	assert.Equal(t, int32(24), readI32(ageI32, 2))

	personF32, ok := table.ColumnByPath("person", gather.F32)
	require.True(t, ok)
	assert.Equal(t, []bool{false, false, false}, personF32.Validity)

	heightI32, ok := table.ColumnByPath("height", gather.I32)
	require.True(t, ok)
	assert.Equal(t, []bool{true, false, false}, heightI32.Validity)

	weightU64, ok := table.ColumnByPath("weight", gather.U64)
	require.True(t, ok)
	assert.Equal(t, []bool{false, true, false}, weightU64.Validity)

	personStr, ok := table.ColumnByPath("person", gather.Str)
	require.True(t, ok)
	assert.Equal(t, []bool{true, true, true}, personStr.Validity)
	assert.Equal(t, "Alice", cellString(personStr, 0))
	assert.Equal(t, "Bob", cellString(personStr, 1))
	assert.Equal(t, "Carl", cellString(personStr, 2))
}

func TestGather_MissingDocumentAllColumnsInvalid(t *testing.T) {
	keys := []kvstore.Key{1}
	bodies := [][]byte{nil}
	present := []bool{false}

	req := gather.NewRequest().Columns(gather.ColumnSpec{Path: "a", Type: gather.I32})
	table, err := gather.Gather(keys, bodies, present, req)
	require.NoError(t, err)
	assert.False(t, table.Columns[0].Validity[0])
}

func TestGather_JSONPointerPath(t *testing.T) {
	keys := []kvstore.Key{1}
	bodies := [][]byte{[]byte(`{"address":{"city":"lagos"}}`)}
	present := []bool{true}

	req := gather.NewRequest().Columns(gather.ColumnSpec{Path: "/address/city", Type: gather.Str})
	table, err := gather.Gather(keys, bodies, present, req)
	require.NoError(t, err)
	col := table.Columns[0]
	require.True(t, col.Validity[0])
	assert.Equal(t, "lagos", cellString(col, 0))
}

func TestGather_Bitmap(t *testing.T) {
	keys := []kvstore.Key{1, 2, 3, 4, 5, 6, 7, 8, 9}
	bodies := make([][]byte, 9)
	present := make([]bool, 9)
	for i := range bodies {
		if i%2 == 0 {
			bodies[i] = []byte(`{"a":1}`)
			present[i] = true
		} else {
			bodies[i] = []byte(`{}`)
			present[i] = true
		}
	}
	req := gather.NewRequest().Columns(gather.ColumnSpec{Path: "a", Type: gather.I32})
	table, err := gather.Gather(keys, bodies, present, req)
	require.NoError(t, err)
	bitmap := table.Columns[0].Bitmap()
	assert.Equal(t, byte(0b01010101), bitmap[0])
	assert.Equal(t, byte(0b00000001), bitmap[1])
}

func readI32(c gather.Column, row int) int32 {
	return int32(c.FixedData[row*4]) | int32(c.FixedData[row*4+1])<<8 | int32(c.FixedData[row*4+2])<<16 | int32(c.FixedData[row*4+3])<<24
}

func cellString(c gather.Column, row int) string {
	return string(c.Contents[c.Offsets[row]:c.Offsets[row+1]])
}
