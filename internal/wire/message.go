package wire

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"SimFed/internal/hla"
)

// MessageType identifies the payload layout of a frame.
type MessageType uint16

// Message types. Values travel on the wire and must stay stable.
const (
	TypeResponse MessageType = 1

	TypeCreateFederation  MessageType = 10
	TypeDestroyFederation MessageType = 11
	TypeJoinFederation    MessageType = 12
	TypeResignFederation  MessageType = 13

	TypePublishObjectClass     MessageType = 20
	TypeUnpublishObjectClass   MessageType = 21
	TypeSubscribeObjectClass   MessageType = 22
	TypeUnsubscribeObjectClass MessageType = 23
	TypePublishInteraction     MessageType = 24
	TypeUnpublishInteraction   MessageType = 25
	TypeSubscribeInteraction   MessageType = 26
	TypeUnsubscribeInteraction MessageType = 27

	TypeReserveObjectName MessageType = 30
	TypeRegisterObject    MessageType = 31
	TypeDiscoverObject    MessageType = 32
	TypeUpdateAttributes  MessageType = 33
	TypeSendInteraction   MessageType = 34
	TypeDeleteObject      MessageType = 35
	TypeRemoveObject      MessageType = 36

	TypeDivestOwnership  MessageType = 40
	TypeAcquireOwnership MessageType = 41

	TypeEnableTimeRegulation   MessageType = 50
	TypeDisableTimeRegulation  MessageType = 51
	TypeEnableTimeConstrained  MessageType = 52
	TypeDisableTimeConstrained MessageType = 53
	TypeTimeAdvanceRequest     MessageType = 54
	TypeTimeAdvanceGrant       MessageType = 55
	TypeModifyLookahead        MessageType = 56

	TypeRegisterSyncPoint      MessageType = 60
	TypeAnnounceSyncPoint      MessageType = 61
	TypeSyncPointAchieved      MessageType = 62
	TypeFederationSynchronized MessageType = 63

	TypeRequestSave     MessageType = 70
	TypeInitiateSave    MessageType = 71
	TypeSaveBegun       MessageType = 72
	TypeSaveComplete    MessageType = 73
	TypeSaveNotComplete MessageType = 74
	TypeFederationSaved MessageType = 75

	TypeRequestRestore     MessageType = 80
	TypeInitiateRestore    MessageType = 81
	TypeRestoreComplete    MessageType = 82
	TypeRestoreNotComplete MessageType = 83
	TypeFederationRestored MessageType = 84
)

// Message is a payload that knows its own layout.
// Every type is registered in constructors; there is no runtime marshaling switch.
type Message interface {
	Type() MessageType
	encode(b *flatbuffers.Builder) flatbuffers.UOffsetT
	decode(t *table)
}

// constructors maps each message type to a zero value factory.
var constructors = map[MessageType]func() Message{
	TypeResponse: func() Message { return &Response{} },

	TypeCreateFederation:  func() Message { return &CreateFederation{} },
	TypeDestroyFederation: func() Message { return &DestroyFederation{} },
	TypeJoinFederation:    func() Message { return &JoinFederation{} },
	TypeResignFederation:  func() Message { return &ResignFederation{} },

	TypePublishObjectClass:     func() Message { return &ObjectClassDeclaration{Kind: TypePublishObjectClass} },
	TypeUnpublishObjectClass:   func() Message { return &ObjectClassDeclaration{Kind: TypeUnpublishObjectClass} },
	TypeSubscribeObjectClass:   func() Message { return &ObjectClassDeclaration{Kind: TypeSubscribeObjectClass} },
	TypeUnsubscribeObjectClass: func() Message { return &ObjectClassDeclaration{Kind: TypeUnsubscribeObjectClass} },
	TypePublishInteraction:     func() Message { return &InteractionDeclaration{Kind: TypePublishInteraction} },
	TypeUnpublishInteraction:   func() Message { return &InteractionDeclaration{Kind: TypeUnpublishInteraction} },
	TypeSubscribeInteraction:   func() Message { return &InteractionDeclaration{Kind: TypeSubscribeInteraction} },
	TypeUnsubscribeInteraction: func() Message { return &InteractionDeclaration{Kind: TypeUnsubscribeInteraction} },

	TypeReserveObjectName: func() Message { return &ReserveObjectName{} },
	TypeRegisterObject:    func() Message { return &RegisterObject{} },
	TypeDiscoverObject:    func() Message { return &DiscoverObject{} },
	TypeUpdateAttributes:  func() Message { return &UpdateAttributes{} },
	TypeSendInteraction:   func() Message { return &SendInteraction{} },
	TypeDeleteObject:      func() Message { return &ObjectRemoval{Kind: TypeDeleteObject} },
	TypeRemoveObject:      func() Message { return &ObjectRemoval{Kind: TypeRemoveObject} },

	TypeDivestOwnership:  func() Message { return &OwnershipRequest{Kind: TypeDivestOwnership} },
	TypeAcquireOwnership: func() Message { return &OwnershipRequest{Kind: TypeAcquireOwnership} },

	TypeEnableTimeRegulation:   func() Message { return &TimeMessage{Kind: TypeEnableTimeRegulation} },
	TypeDisableTimeRegulation:  func() Message { return &TimeMessage{Kind: TypeDisableTimeRegulation} },
	TypeEnableTimeConstrained:  func() Message { return &TimeMessage{Kind: TypeEnableTimeConstrained} },
	TypeDisableTimeConstrained: func() Message { return &TimeMessage{Kind: TypeDisableTimeConstrained} },
	TypeTimeAdvanceRequest:     func() Message { return &TimeMessage{Kind: TypeTimeAdvanceRequest} },
	TypeTimeAdvanceGrant:       func() Message { return &TimeMessage{Kind: TypeTimeAdvanceGrant} },
	TypeModifyLookahead:        func() Message { return &TimeMessage{Kind: TypeModifyLookahead} },

	TypeRegisterSyncPoint:      func() Message { return &LabelMessage{Kind: TypeRegisterSyncPoint} },
	TypeAnnounceSyncPoint:      func() Message { return &LabelMessage{Kind: TypeAnnounceSyncPoint} },
	TypeSyncPointAchieved:      func() Message { return &LabelMessage{Kind: TypeSyncPointAchieved} },
	TypeFederationSynchronized: func() Message { return &LabelMessage{Kind: TypeFederationSynchronized} },

	TypeRequestSave:     func() Message { return &LabelMessage{Kind: TypeRequestSave} },
	TypeInitiateSave:    func() Message { return &LabelMessage{Kind: TypeInitiateSave} },
	TypeSaveBegun:       func() Message { return &LabelMessage{Kind: TypeSaveBegun} },
	TypeSaveComplete:    func() Message { return &LabelMessage{Kind: TypeSaveComplete} },
	TypeSaveNotComplete: func() Message { return &LabelMessage{Kind: TypeSaveNotComplete} },
	TypeFederationSaved: func() Message { return &LabelMessage{Kind: TypeFederationSaved} },

	TypeRequestRestore:     func() Message { return &LabelMessage{Kind: TypeRequestRestore} },
	TypeInitiateRestore:    func() Message { return &LabelMessage{Kind: TypeInitiateRestore} },
	TypeRestoreComplete:    func() Message { return &LabelMessage{Kind: TypeRestoreComplete} },
	TypeRestoreNotComplete: func() Message { return &LabelMessage{Kind: TypeRestoreNotComplete} },
	TypeFederationRestored: func() Message { return &LabelMessage{Kind: TypeFederationRestored} },
}

// Known reports whether a message type is registered.
func Known(t MessageType) bool {
	_, ok := constructors[t]
	return ok
}

// EncodePayload serializes a message into a finished FlatBuffers buffer.
func EncodePayload(m Message) []byte {
	b := flatbuffers.NewBuilder(256)
	b.Finish(m.encode(b))

	return b.FinishedBytes()
}

// DecodePayload parses a payload of the given type.
// Corrupt buffers make the FlatBuffers accessors panic; that is recovered here.
func DecodePayload(t MessageType, payload []byte) (msg Message, err error) {
	ctor, ok := constructors[t]
	if !ok {
		return nil, hla.Errorf(hla.KindMalformedMessage, "unknown message type %d", t)
	}

	if len(payload) < flatbuffers.SizeUOffsetT {
		return nil, hla.Errorf(hla.KindMalformedMessage, "payload too short for type %d: %d bytes", t, len(payload))
	}

	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = hla.Errorf(hla.KindMalformedMessage, "decode type %d: %v", t, r)
		}
	}()

	msg = ctor()
	msg.decode(rootTable(payload))

	return msg, nil
}

// Marshal builds a complete frame for a message.
// The header's Type and PayloadLength are derived from the message.
func Marshal(h Header, m Message) []byte {
	h.Type = m.Type()
	return Frame(h, EncodePayload(m))
}

// Unmarshal parses a full uncompressed frame.
func Unmarshal(frame []byte) (Header, Message, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return Header{}, nil, err
	}

	if h.Compressed() {
		return h, nil, hla.Errorf(hla.KindMalformedMessage, "payload still compressed")
	}

	msg, err := DecodePayload(h.Type, Payload(frame))
	if err != nil {
		return h, nil, err
	}

	return h, msg, nil
}

// String returns a short name for logging.
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("type-%d", uint16(t))
}

var typeNames = map[MessageType]string{
	TypeResponse:               "Response",
	TypeCreateFederation:       "CreateFederation",
	TypeDestroyFederation:      "DestroyFederation",
	TypeJoinFederation:         "JoinFederation",
	TypeResignFederation:       "ResignFederation",
	TypePublishObjectClass:     "PublishObjectClass",
	TypeUnpublishObjectClass:   "UnpublishObjectClass",
	TypeSubscribeObjectClass:   "SubscribeObjectClass",
	TypeUnsubscribeObjectClass: "UnsubscribeObjectClass",
	TypePublishInteraction:     "PublishInteraction",
	TypeUnpublishInteraction:   "UnpublishInteraction",
	TypeSubscribeInteraction:   "SubscribeInteraction",
	TypeUnsubscribeInteraction: "UnsubscribeInteraction",
	TypeReserveObjectName:      "ReserveObjectName",
	TypeRegisterObject:         "RegisterObject",
	TypeDiscoverObject:         "DiscoverObject",
	TypeUpdateAttributes:       "UpdateAttributes",
	TypeSendInteraction:        "SendInteraction",
	TypeDeleteObject:           "DeleteObject",
	TypeRemoveObject:           "RemoveObject",
	TypeDivestOwnership:        "DivestOwnership",
	TypeAcquireOwnership:       "AcquireOwnership",
	TypeEnableTimeRegulation:   "EnableTimeRegulation",
	TypeDisableTimeRegulation:  "DisableTimeRegulation",
	TypeEnableTimeConstrained:  "EnableTimeConstrained",
	TypeDisableTimeConstrained: "DisableTimeConstrained",
	TypeTimeAdvanceRequest:     "TimeAdvanceRequest",
	TypeTimeAdvanceGrant:       "TimeAdvanceGrant",
	TypeModifyLookahead:        "ModifyLookahead",
	TypeRegisterSyncPoint:      "RegisterSyncPoint",
	TypeAnnounceSyncPoint:      "AnnounceSyncPoint",
	TypeSyncPointAchieved:      "SyncPointAchieved",
	TypeFederationSynchronized: "FederationSynchronized",
	TypeRequestSave:            "RequestSave",
	TypeInitiateSave:           "InitiateSave",
	TypeSaveBegun:              "SaveBegun",
	TypeSaveComplete:           "SaveComplete",
	TypeSaveNotComplete:        "SaveNotComplete",
	TypeFederationSaved:        "FederationSaved",
	TypeRequestRestore:         "RequestRestore",
	TypeInitiateRestore:        "InitiateRestore",
	TypeRestoreComplete:        "RestoreComplete",
	TypeRestoreNotComplete:     "RestoreNotComplete",
	TypeFederationRestored:     "FederationRestored",
}

// PeekClass reads the class handle of an UpdateAttributes or SendInteraction
// payload without decoding the rest of it. Compressed payloads and other types
// report false.
func PeekClass(h Header, payload []byte) (class uint32, ok bool) {
	var slot int

	switch h.Type {
	case TypeUpdateAttributes:
		slot = 1
	case TypeSendInteraction:
		slot = 0
	default:
		return 0, false
	}

	if h.Compressed() || len(payload) < flatbuffers.SizeUOffsetT {
		return 0, false
	}

	defer func() {
		if r := recover(); r != nil {
			class, ok = 0, false
		}
	}()

	return rootTable(payload).u32(slot), true
}
