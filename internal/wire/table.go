package wire

import (
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"

	"SimFed/internal/hla"
)

// table reads slot-indexed fields from a FlatBuffers table.
// Slot n lives at vtable offset 4+2n, the layout flatc emits for field n.
type table struct {
	flatbuffers.Table
}

// rootTable positions a table at the root of a finished buffer.
func rootTable(buf []byte) *table {
	n := flatbuffers.GetUOffsetT(buf)
	return &table{flatbuffers.Table{Bytes: buf, Pos: n}}
}

func (t *table) field(slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

func (t *table) u8(slot int) uint8 {
	if o := t.field(slot); o != 0 {
		return t.GetUint8(o + t.Pos)
	}

	return 0
}

func (t *table) u16(slot int) uint16 {
	if o := t.field(slot); o != 0 {
		return t.GetUint16(o + t.Pos)
	}

	return 0
}

func (t *table) u32(slot int) uint32 {
	if o := t.field(slot); o != 0 {
		return t.GetUint32(o + t.Pos)
	}

	return 0
}

func (t *table) f64(slot int) float64 {
	if o := t.field(slot); o != 0 {
		return t.GetFloat64(o + t.Pos)
	}

	return 0
}

func (t *table) boolean(slot int) bool {
	if o := t.field(slot); o != 0 {
		return t.GetBool(o + t.Pos)
	}

	return false
}

func (t *table) str(slot int) string {
	if o := t.field(slot); o != 0 {
		return string(t.ByteVector(o + t.Pos))
	}

	return ""
}

// bytes copies a byte vector out of the buffer.
func (t *table) bytes(slot int) []byte {
	o := t.field(slot)
	if o == 0 {
		return nil
	}

	v := t.ByteVector(o + t.Pos)
	out := make([]byte, len(v))
	copy(out, v)

	return out
}

func (t *table) u32s(slot int) []uint32 {
	o := t.field(slot)
	if o == 0 {
		return nil
	}

	n := t.VectorLen(o)
	start := t.Vector(o)
	out := make([]uint32, n)

	for i := 0; i < n; i++ {
		out[i] = t.GetUint32(start + flatbuffers.UOffsetT(i*4))
	}

	return out
}

// values reads a vector of {handle, bytes} tables.
func (t *table) values(slot int) map[uint32][]byte {
	o := t.field(slot)
	if o == 0 {
		return nil
	}

	n := t.VectorLen(o)
	start := t.Vector(o)
	out := make(map[uint32][]byte, n)

	for i := 0; i < n; i++ {
		x := t.Indirect(start + flatbuffers.UOffsetT(i*4))
		entry := &table{flatbuffers.Table{Bytes: t.Bytes, Pos: x}}
		out[entry.u32(0)] = entry.bytes(1)
	}

	return out
}

// putU32s writes a vector of uint32. Must be called before StartObject.
func putU32s(b *flatbuffers.Builder, v []uint32) flatbuffers.UOffsetT {
	b.StartVector(4, len(v), 4)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependUint32(v[i])
	}

	return b.EndVector(len(v))
}

// putValues writes a handle-sorted vector of {handle, bytes} tables.
// Sorting keeps encodings of equal maps byte-identical.
func putValues(b *flatbuffers.Builder, values map[uint32][]byte) flatbuffers.UOffsetT {
	keys := make([]uint32, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	entries := make([]flatbuffers.UOffsetT, len(keys))
	for i, k := range keys {
		data := b.CreateByteVector(values[k])

		b.StartObject(2)
		b.PrependUint32Slot(0, k, 0)
		b.PrependUOffsetTSlot(1, data, 0)
		entries[i] = b.EndObject()
	}

	b.StartVector(4, len(entries), 4)
	for i := len(entries) - 1; i >= 0; i-- {
		b.PrependUOffsetT(entries[i])
	}

	return b.EndVector(len(entries))
}

// handlesToU32 flattens a handle set in ascending order.
func handlesToU32[H hla.Handle](set hla.HandleSet[H]) []uint32 {
	sorted := set.Sorted()
	out := make([]uint32, len(sorted))
	for i, h := range sorted {
		out[i] = uint32(h)
	}

	return out
}

// u32ToHandles rebuilds a handle set.
func u32ToHandles[H hla.Handle](v []uint32) hla.HandleSet[H] {
	out := make(hla.HandleSet[H], len(v))
	for _, h := range v {
		out.Add(H(h))
	}

	return out
}

// AttributeValues maps attribute handles to encoded values.
type AttributeValues map[hla.AttributeHandle][]byte

// ParameterValues maps parameter handles to encoded values.
type ParameterValues map[hla.ParameterHandle][]byte

func attrsToRaw(v AttributeValues) map[uint32][]byte {
	out := make(map[uint32][]byte, len(v))
	for h, d := range v {
		out[uint32(h)] = d
	}

	return out
}

func rawToAttrs(v map[uint32][]byte) AttributeValues {
	out := make(AttributeValues, len(v))
	for h, d := range v {
		out[hla.AttributeHandle(h)] = d
	}

	return out
}

func paramsToRaw(v ParameterValues) map[uint32][]byte {
	out := make(map[uint32][]byte, len(v))
	for h, d := range v {
		out[uint32(h)] = d
	}

	return out
}

func rawToParams(v map[uint32][]byte) ParameterValues {
	out := make(ParameterValues, len(v))
	for h, d := range v {
		out[hla.ParameterHandle(h)] = d
	}

	return out
}

// Handles returns the attribute handles present in the map.
func (v AttributeValues) Handles() hla.HandleSet[hla.AttributeHandle] {
	out := make(hla.HandleSet[hla.AttributeHandle], len(v))
	for h := range v {
		out.Add(h)
	}

	return out
}

// Filter returns the values whose handles are in keep.
func (v AttributeValues) Filter(keep hla.HandleSet[hla.AttributeHandle]) AttributeValues {
	out := make(AttributeValues)
	for h, d := range v {
		if keep.Contains(h) {
			out[h] = d
		}
	}

	return out
}

// Handles returns the parameter handles present in the map.
func (v ParameterValues) Handles() hla.HandleSet[hla.ParameterHandle] {
	out := make(hla.HandleSet[hla.ParameterHandle], len(v))
	for h := range v {
		out.Add(h)
	}

	return out
}
