package record

import flatbuffers "github.com/google/flatbuffers/go"

// Slot numbers, in the order declared in record.fbs.
const (
	headerName = iota
	headerValues
	headerFields
)

const (
	entryMethod = iota
	entryURL
	entryStatusCode
	entryStatus
	entryHeaders
	entryDigest
	entrySize
	entryCompression
	entryBody
	entryStoredAt
	entryFields
)

const (
	indexVersion = iota
	indexName
	indexCreated
	indexEntries
	indexFields
)

// table is a thin accessor layer over a FlatBuffers table.
type table struct {
	flatbuffers.Table
}

func rootTable(data []byte) table {
	n := flatbuffers.GetUOffsetT(data)
	return table{flatbuffers.Table{Bytes: data, Pos: n}}
}

func (t *table) field(slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

func (t *table) str(slot int) string {
	o := t.field(slot)
	if o == 0 {
		return ""
	}
	return string(t.ByteVector(o + t.Pos))
}

// bytes returns a copy of a byte vector, or nil when the field is absent.
func (t *table) bytes(slot int) []byte {
	o := t.field(slot)
	if o == 0 {
		return nil
	}
	return append([]byte{}, t.ByteVector(o+t.Pos)...)
}

func (t *table) i32(slot int) int32 {
	o := t.field(slot)
	if o == 0 {
		return 0
	}
	return t.GetInt32(o + t.Pos)
}

func (t *table) i64(slot int) int64 {
	o := t.field(slot)
	if o == 0 {
		return 0
	}
	return t.GetInt64(o + t.Pos)
}

func (t *table) u32(slot int) uint32 {
	o := t.field(slot)
	if o == 0 {
		return 0
	}
	return t.GetUint32(o + t.Pos)
}

func (t *table) u8(slot int) byte {
	o := t.field(slot)
	if o == 0 {
		return 0
	}
	return t.GetByte(o + t.Pos)
}

func (t *table) vectorLen(slot int) int {
	o := t.field(slot)
	if o == 0 {
		return 0
	}
	return t.VectorLen(o)
}

func (t *table) tableAt(slot, j int) table {
	x := t.Vector(t.field(slot))
	x += flatbuffers.UOffsetT(j) * flatbuffers.SizeUOffsetT
	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(x)}}
}

func (t *table) strAt(slot, j int) string {
	x := t.Vector(t.field(slot))
	return string(t.ByteVector(x + flatbuffers.UOffsetT(j)*flatbuffers.SizeUOffsetT))
}

// offsetVector writes a vector of previously built offsets.
func offsetVector(b *flatbuffers.Builder, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeUOffsetT, len(offs), flatbuffers.SizeUOffsetT)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	return b.EndVector(len(offs))
}
