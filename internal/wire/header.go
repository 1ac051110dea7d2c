package wire

import (
	"encoding/binary"

	"SimFed/internal/hla"
)

const (
	// HeaderSize is the size of the fixed frame prefix in bytes.
	HeaderSize = 32

	// Version is the only header version understood by this runtime.
	Version = 1

	// MaxPayloadSize bounds a single payload (16 MB).
	MaxPayloadSize = 16 << 20
)

// CallType tells a receiver how a message participates in request/response flows.
type CallType uint8

// Call types.
const (
	DataMessage     CallType = 0 // DataMessage carries updates and interactions
	ControlSync     CallType = 1 // ControlSync expects a ControlResponse with the same request id
	ControlAsync    CallType = 2 // ControlAsync is a fire-and-forget control notice
	ControlResponse CallType = 3 // ControlResponse answers a ControlSync request
)

// String returns the call type name.
func (c CallType) String() string {
	switch c {
	case DataMessage:
		return "data"
	case ControlSync:
		return "sync"
	case ControlAsync:
		return "async"
	case ControlResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Header flags.
const (
	FlagCompressed uint8 = 0x01 // FlagCompressed marks a zstd-compressed payload
)

// Header is the fixed-size routing prefix of every frame.
// Layout (big-endian):
//
//	[1B version] [1B call] [2B type] [4B federation] [4B source] [4B target]
//	[8B request id] [1B flags] [3B reserved] [4B payload length]
type Header struct {
	Call          CallType             // Call is the call kind
	Type          MessageType          // Type identifies the payload layout
	Federation    hla.FederationHandle // Federation routes the frame to one execution
	Source        hla.FederateHandle   // Source is the sending federate
	Target        hla.FederateHandle   // Target is the receiving federate or AllFederates
	RequestID     uint64               // RequestID correlates requests and responses
	Flags         uint8                // Flags holds payload flags
	PayloadLength uint32               // PayloadLength is the number of payload bytes
}

// IsResponse reports whether the frame answers a request.
func (h Header) IsResponse() bool {
	return h.Call == ControlResponse
}

// IsControl reports whether the frame is a control message of any kind.
func (h Header) IsControl() bool {
	return h.Call != DataMessage
}

// Compressed reports whether the payload is zstd-compressed.
func (h Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

// Addressed reports whether a federate should look at the frame at all.
func (h Header) Addressed(to hla.FederateHandle) bool {
	return h.Target == hla.AllFederates || h.Target == to
}

// ResponseHeader builds the header answering req.
func ResponseHeader(req Header) Header {
	return Header{
		Call:       ControlResponse,
		Type:       TypeResponse,
		Federation: req.Federation,
		Source:     req.Target,
		Target:     req.Source,
		RequestID:  req.RequestID,
	}
}

// PutHeader writes h into the first HeaderSize bytes of buf.
func PutHeader(buf []byte, h Header) {
	buf[0] = Version
	buf[1] = byte(h.Call)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Federation))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Source))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Target))
	binary.BigEndian.PutUint64(buf[16:24], h.RequestID)
	buf[24] = h.Flags
	buf[25], buf[26], buf[27] = 0, 0, 0
	binary.BigEndian.PutUint32(buf[28:32], h.PayloadLength)
}

// ParseHeader decodes the header of a frame without touching the payload.
// The frame length must match the declared payload length exactly.
func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, hla.Errorf(hla.KindMalformedMessage, "frame too short: %d < %d", len(frame), HeaderSize)
	}

	if frame[0] != Version {
		return Header{}, hla.Errorf(hla.KindMalformedMessage, "unsupported header version: %d", frame[0])
	}

	call := CallType(frame[1])
	if call > ControlResponse {
		return Header{}, hla.Errorf(hla.KindMalformedMessage, "invalid call type: %d", frame[1])
	}

	h := Header{
		Call:          call,
		Type:          MessageType(binary.BigEndian.Uint16(frame[2:4])),
		Federation:    hla.FederationHandle(binary.BigEndian.Uint32(frame[4:8])),
		Source:        hla.FederateHandle(binary.BigEndian.Uint32(frame[8:12])),
		Target:        hla.FederateHandle(binary.BigEndian.Uint32(frame[12:16])),
		RequestID:     binary.BigEndian.Uint64(frame[16:24]),
		Flags:         frame[24],
		PayloadLength: binary.BigEndian.Uint32(frame[28:32]),
	}

	if h.PayloadLength > MaxPayloadSize {
		return Header{}, hla.Errorf(hla.KindMalformedMessage, "payload too large: %d > %d", h.PayloadLength, MaxPayloadSize)
	}

	if int(h.PayloadLength) != len(frame)-HeaderSize {
		return Header{}, hla.Errorf(hla.KindMalformedMessage, "payload length mismatch: header %d, frame %d", h.PayloadLength, len(frame)-HeaderSize)
	}

	return h, nil
}

// Payload returns the payload bytes following the header.
func Payload(frame []byte) []byte {
	if len(frame) < HeaderSize {
		return nil
	}

	return frame[HeaderSize:]
}

// Frame assembles a header and payload, fixing the payload length.
func Frame(h Header, payload []byte) []byte {
	h.PayloadLength = uint32(len(payload))

	buf := make([]byte, HeaderSize+len(payload))
	PutHeader(buf, h)
	copy(buf[HeaderSize:], payload)

	return buf
}
