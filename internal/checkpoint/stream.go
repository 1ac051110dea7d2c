package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	// magic opens every checkpoint stream.
	magic = "SFCK"

	// formatVersion is the current stream layout.
	formatVersion uint16 = 1

	// maxFrameSize bounds a single component's state.
	maxFrameSize = 256 << 20
)

// Checkpoint is the serialized state of one federate for one save.
type Checkpoint struct {
	ID   uuid.UUID // ID is unique per written checkpoint
	Data []byte    // Data is the compressed stream
}

// Digest is the hash federates sign when reporting a completed save.
func (c Checkpoint) Digest() [32]byte {
	return blake3.Sum256(c.Data)
}

// Write saves every component of the manifest into a new checkpoint.
//
// Layout before compression:
//
//	magic[4] version[2] fingerprint[32] id[16] count[2]
//	count × ( nameLen[2] name length[4] checksum[32] state )
func Write(m *Manifest) (Checkpoint, error) {
	id := uuid.New()
	fingerprint := m.Fingerprint()

	var buf bytes.Buffer
	buf.WriteString(magic)
	writeU16(&buf, formatVersion)
	buf.Write(fingerprint[:])
	buf.Write(id[:])
	writeU16(&buf, uint16(len(m.components)))

	for _, c := range m.components {
		state, err := c.Save()
		if err != nil {
			return Checkpoint{}, fmt.Errorf("save component %s:\n%w", c.Name(), err)
		}

		if len(state) > maxFrameSize {
			return Checkpoint{}, fmt.Errorf("component %s state too large: %d bytes", c.Name(), len(state))
		}

		writeFrame(&buf, c.Name(), state)
	}

	data, err := compress(buf.Bytes())
	if err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{ID: id, Data: data}, nil
}

// Read verifies a checkpoint against the manifest and restores every component.
// Nothing is restored unless the whole stream is valid.
func Read(m *Manifest, data []byte) (uuid.UUID, error) {
	raw, err := decompress(data)
	if err != nil {
		return uuid.Nil, err
	}

	id, states, err := parse(m, raw)
	if err != nil {
		return uuid.Nil, err
	}

	for i, c := range m.components {
		if err := c.Restore(states[i]); err != nil {
			return uuid.Nil, fmt.Errorf("restore component %s:\n%w", c.Name(), err)
		}
	}

	return id, nil
}

func parse(m *Manifest, raw []byte) (uuid.UUID, [][]byte, error) {
	r := reader{buf: raw}

	if string(r.next(len(magic))) != magic {
		return uuid.Nil, nil, fmt.Errorf("not a checkpoint stream")
	}

	if v := r.u16(); v != formatVersion {
		return uuid.Nil, nil, fmt.Errorf("unsupported checkpoint version %d", v)
	}

	fingerprint := m.Fingerprint()
	if !bytes.Equal(r.next(32), fingerprint[:]) {
		return uuid.Nil, nil, fmt.Errorf("checkpoint was written for a different component set")
	}

	id, err := uuid.FromBytes(r.next(16))
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("checkpoint id:\n%w", err)
	}

	count := int(r.u16())
	if count != len(m.components) {
		return uuid.Nil, nil, fmt.Errorf("checkpoint has %d components, want %d", count, len(m.components))
	}

	states := make([][]byte, count)

	for i, c := range m.components {
		name := string(r.next(int(r.u16())))
		if name != c.Name() {
			return uuid.Nil, nil, fmt.Errorf("frame %d is %q, want %q", i, name, c.Name())
		}

		size := r.u32()
		if size > maxFrameSize {
			return uuid.Nil, nil, fmt.Errorf("frame %s too large: %d bytes", name, size)
		}

		sum := r.next(32)
		state := r.next(int(size))

		if r.err != nil {
			return uuid.Nil, nil, fmt.Errorf("frame %s: %w", name, r.err)
		}

		if got := blake3.Sum256(state); !bytes.Equal(got[:], sum) {
			return uuid.Nil, nil, fmt.Errorf("frame %s checksum mismatch", name)
		}

		states[i] = state
	}

	if r.err != nil {
		return uuid.Nil, nil, r.err
	}

	if len(r.buf) != 0 {
		return uuid.Nil, nil, fmt.Errorf("%d trailing bytes after last frame", len(r.buf))
	}

	return id, states, nil
}

func writeFrame(buf *bytes.Buffer, name string, state []byte) {
	sum := blake3.Sum256(state)

	writeU16(buf, uint16(len(name)))
	buf.WriteString(name)

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(state)))
	buf.Write(size[:])
	buf.Write(sum[:])
	buf.Write(state)
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// reader consumes a byte slice and latches the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}

	if n > len(r.buf) {
		r.err = fmt.Errorf("truncated stream: need %d bytes, have %d", n, len(r.buf))
		return nil
	}

	out := r.buf[:n]
	r.buf = r.buf[n:]

	return out
}

func (r *reader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint32(b)
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint:\n%w", err)
	}

	return out, nil
}
