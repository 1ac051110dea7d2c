package wire

import (
	flatbuffers "github.com/google/flatbuffers/go"

	"SimFed/internal/hla"
)

// Envelope is a parsed frame.
type Envelope struct {
	Header Header
	Msg    Message
}

// =============================================================================
// Response
// =============================================================================

// Response answers every ControlSync request.
// Kind is KindNone on success; the other fields carry request specific results.
type Response struct {
	Kind    hla.ErrorKind // Kind is the failure kind, KindNone on success
	Text    string        // Text is the failure description or a result name
	Handle  uint32        // Handle is the primary result handle
	Time    hla.Time      // Time is a result time
	Data    []byte        // Data is an opaque result blob
	Handles []uint32      // Handles carries secondary handles
}

// Type implements Message.
func (m *Response) Type() MessageType { return TypeResponse }

// Err returns the failure carried by the response, nil on success.
func (m *Response) Err() error {
	if m.Kind == hla.KindNone {
		return nil
	}

	return &hla.Error{Kind: m.Kind, Msg: m.Text}
}

// Success builds a successful response.
func Success() *Response {
	return &Response{}
}

// Failure builds a response from an error. Untagged errors become internal failures.
func Failure(err error) *Response {
	return &Response{Kind: hla.KindOf(err), Text: err.Error()}
}

func (m *Response) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	text := b.CreateString(m.Text)
	data := b.CreateByteVector(m.Data)
	handles := putU32s(b, m.Handles)

	b.StartObject(6)
	b.PrependUint16Slot(0, uint16(m.Kind), 0)
	b.PrependUOffsetTSlot(1, text, 0)
	b.PrependUint32Slot(2, m.Handle, 0)
	b.PrependFloat64Slot(3, float64(m.Time), 0)
	b.PrependUOffsetTSlot(4, data, 0)
	b.PrependUOffsetTSlot(5, handles, 0)

	return b.EndObject()
}

func (m *Response) decode(t *table) {
	m.Kind = hla.ErrorKind(t.u16(0))
	m.Text = t.str(1)
	m.Handle = t.u32(2)
	m.Time = hla.Time(t.f64(3))
	m.Data = t.bytes(4)
	m.Handles = t.u32s(5)
}

// =============================================================================
// Federation management
// =============================================================================

// CreateFederation creates a named federation execution from a YAML object model.
type CreateFederation struct {
	Name  string // Name is the federation execution name
	Model []byte // Model is the object model document
}

// Type implements Message.
func (m *CreateFederation) Type() MessageType { return TypeCreateFederation }

func (m *CreateFederation) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	name := b.CreateString(m.Name)
	model := b.CreateByteVector(m.Model)

	b.StartObject(2)
	b.PrependUOffsetTSlot(0, name, 0)
	b.PrependUOffsetTSlot(1, model, 0)

	return b.EndObject()
}

func (m *CreateFederation) decode(t *table) {
	m.Name = t.str(0)
	m.Model = t.bytes(1)
}

// DestroyFederation removes a federation execution with no joined federates.
type DestroyFederation struct {
	Name string
}

// Type implements Message.
func (m *DestroyFederation) Type() MessageType { return TypeDestroyFederation }

func (m *DestroyFederation) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	name := b.CreateString(m.Name)

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, name, 0)

	return b.EndObject()
}

func (m *DestroyFederation) decode(t *table) {
	m.Name = t.str(0)
}

// JoinFederation joins a federate to a named federation.
// The response carries the federate handle in Handle, the federation handle in
// Handles[0] and the object model document in Data.
type JoinFederation struct {
	Federation   string // Federation is the execution name
	FederateName string // FederateName must be unique within the execution
	FederateType string // FederateType is informational
	PublicKey    []byte // PublicKey is the compressed BLS key used to sign saves
}

// Type implements Message.
func (m *JoinFederation) Type() MessageType { return TypeJoinFederation }

func (m *JoinFederation) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	fed := b.CreateString(m.Federation)
	name := b.CreateString(m.FederateName)
	typ := b.CreateString(m.FederateType)
	key := b.CreateByteVector(m.PublicKey)

	b.StartObject(4)
	b.PrependUOffsetTSlot(0, fed, 0)
	b.PrependUOffsetTSlot(1, name, 0)
	b.PrependUOffsetTSlot(2, typ, 0)
	b.PrependUOffsetTSlot(3, key, 0)

	return b.EndObject()
}

func (m *JoinFederation) decode(t *table) {
	m.Federation = t.str(0)
	m.FederateName = t.str(1)
	m.FederateType = t.str(2)
	m.PublicKey = t.bytes(3)
}

// ResignFederation leaves the federation, applying Action to owned objects.
type ResignFederation struct {
	Action hla.ResignAction
}

// Type implements Message.
func (m *ResignFederation) Type() MessageType { return TypeResignFederation }

func (m *ResignFederation) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	b.StartObject(1)
	b.PrependUint8Slot(0, uint8(m.Action), 0)

	return b.EndObject()
}

func (m *ResignFederation) decode(t *table) {
	m.Action = hla.ResignAction(t.u8(0))
}

// =============================================================================
// Declarations
// =============================================================================

// ObjectClassDeclaration publishes, unpublishes, subscribes or unsubscribes
// attributes of an object class. An empty attribute set on the "un" variants
// removes the whole class entry.
type ObjectClassDeclaration struct {
	Kind       MessageType                        // Kind is one of the four object class declaration types
	Class      hla.ObjectClassHandle              // Class is the declared class
	Attributes hla.HandleSet[hla.AttributeHandle] // Attributes is the declared attribute set
	Region     string                             // Region is the DDM region of a subscription
}

// Type implements Message.
func (m *ObjectClassDeclaration) Type() MessageType { return m.Kind }

func (m *ObjectClassDeclaration) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	attrs := putU32s(b, handlesToU32(m.Attributes))
	region := b.CreateString(m.Region)

	b.StartObject(3)
	b.PrependUint32Slot(0, uint32(m.Class), 0)
	b.PrependUOffsetTSlot(1, attrs, 0)
	b.PrependUOffsetTSlot(2, region, 0)

	return b.EndObject()
}

func (m *ObjectClassDeclaration) decode(t *table) {
	m.Class = hla.ObjectClassHandle(t.u32(0))
	m.Attributes = u32ToHandles[hla.AttributeHandle](t.u32s(1))
	m.Region = t.str(2)
}

// InteractionDeclaration publishes, unpublishes, subscribes or unsubscribes an interaction class.
type InteractionDeclaration struct {
	Kind   MessageType                // Kind is one of the four interaction declaration types
	Class  hla.InteractionClassHandle // Class is the declared class
	Region string                     // Region is the DDM region of a subscription
}

// Type implements Message.
func (m *InteractionDeclaration) Type() MessageType { return m.Kind }

func (m *InteractionDeclaration) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	region := b.CreateString(m.Region)

	b.StartObject(2)
	b.PrependUint32Slot(0, uint32(m.Class), 0)
	b.PrependUOffsetTSlot(1, region, 0)

	return b.EndObject()
}

func (m *InteractionDeclaration) decode(t *table) {
	m.Class = hla.InteractionClassHandle(t.u32(0))
	m.Region = t.str(1)
}

// =============================================================================
// Objects
// =============================================================================

// ReserveObjectName asks the RTI to reserve an instance name.
type ReserveObjectName struct {
	Name string
}

// Type implements Message.
func (m *ReserveObjectName) Type() MessageType { return TypeReserveObjectName }

func (m *ReserveObjectName) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	name := b.CreateString(m.Name)

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, name, 0)

	return b.EndObject()
}

func (m *ReserveObjectName) decode(t *table) {
	m.Name = t.str(0)
}

// RegisterObject registers a new instance. An empty Name asks for a generated one.
// The response carries the object handle in Handle and the final name in Text.
type RegisterObject struct {
	Class hla.ObjectClassHandle
	Name  string
}

// Type implements Message.
func (m *RegisterObject) Type() MessageType { return TypeRegisterObject }

func (m *RegisterObject) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	name := b.CreateString(m.Name)

	b.StartObject(2)
	b.PrependUint32Slot(0, uint32(m.Class), 0)
	b.PrependUOffsetTSlot(1, name, 0)

	return b.EndObject()
}

func (m *RegisterObject) decode(t *table) {
	m.Class = hla.ObjectClassHandle(t.u32(0))
	m.Name = t.str(1)
}

// DiscoverObject tells one subscriber about an instance, as seen through its own
// most specific subscribed class.
type DiscoverObject struct {
	Object     hla.ObjectHandle      // Object is the instance handle
	Class      hla.ObjectClassHandle // Class is the discovered class, not the registered one
	Name       string                // Name is the instance name
	Registrant hla.FederateHandle    // Registrant is the registering federate
}

// Type implements Message.
func (m *DiscoverObject) Type() MessageType { return TypeDiscoverObject }

func (m *DiscoverObject) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	name := b.CreateString(m.Name)

	b.StartObject(4)
	b.PrependUint32Slot(0, uint32(m.Object), 0)
	b.PrependUint32Slot(1, uint32(m.Class), 0)
	b.PrependUOffsetTSlot(2, name, 0)
	b.PrependUint32Slot(3, uint32(m.Registrant), 0)

	return b.EndObject()
}

func (m *DiscoverObject) decode(t *table) {
	m.Object = hla.ObjectHandle(t.u32(0))
	m.Class = hla.ObjectClassHandle(t.u32(1))
	m.Name = t.str(2)
	m.Registrant = hla.FederateHandle(t.u32(3))
}

// UpdateAttributes carries new attribute values of an instance.
type UpdateAttributes struct {
	Object      hla.ObjectHandle
	Class       hla.ObjectClassHandle // Class is the registered class
	Values      AttributeValues
	Tag         []byte
	Time        hla.Time
	Timestamped bool // Timestamped marks a timestamp-ordered update
	Region      string
}

// Type implements Message.
func (m *UpdateAttributes) Type() MessageType { return TypeUpdateAttributes }

func (m *UpdateAttributes) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	values := putValues(b, attrsToRaw(m.Values))
	tag := b.CreateByteVector(m.Tag)
	region := b.CreateString(m.Region)

	b.StartObject(7)
	b.PrependUint32Slot(0, uint32(m.Object), 0)
	b.PrependUint32Slot(1, uint32(m.Class), 0)
	b.PrependUOffsetTSlot(2, values, 0)
	b.PrependUOffsetTSlot(3, tag, 0)
	b.PrependFloat64Slot(4, float64(m.Time), 0)
	b.PrependBoolSlot(5, m.Timestamped, false)
	b.PrependUOffsetTSlot(6, region, 0)

	return b.EndObject()
}

func (m *UpdateAttributes) decode(t *table) {
	m.Object = hla.ObjectHandle(t.u32(0))
	m.Class = hla.ObjectClassHandle(t.u32(1))
	m.Values = rawToAttrs(t.values(2))
	m.Tag = t.bytes(3)
	m.Time = hla.Time(t.f64(4))
	m.Timestamped = t.boolean(5)
	m.Region = t.str(6)
}

// SendInteraction carries an interaction and its parameters.
type SendInteraction struct {
	Class       hla.InteractionClassHandle // Class is the sent class
	Values      ParameterValues
	Tag         []byte
	Time        hla.Time
	Timestamped bool
	Region      string
}

// Type implements Message.
func (m *SendInteraction) Type() MessageType { return TypeSendInteraction }

func (m *SendInteraction) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	values := putValues(b, paramsToRaw(m.Values))
	tag := b.CreateByteVector(m.Tag)
	region := b.CreateString(m.Region)

	b.StartObject(6)
	b.PrependUint32Slot(0, uint32(m.Class), 0)
	b.PrependUOffsetTSlot(1, values, 0)
	b.PrependUOffsetTSlot(2, tag, 0)
	b.PrependFloat64Slot(3, float64(m.Time), 0)
	b.PrependBoolSlot(4, m.Timestamped, false)
	b.PrependUOffsetTSlot(5, region, 0)

	return b.EndObject()
}

func (m *SendInteraction) decode(t *table) {
	m.Class = hla.InteractionClassHandle(t.u32(0))
	m.Values = rawToParams(t.values(1))
	m.Tag = t.bytes(2)
	m.Time = hla.Time(t.f64(3))
	m.Timestamped = t.boolean(4)
	m.Region = t.str(5)
}

// ObjectRemoval is either a delete request to the RTI or a remove notice to discoverers.
type ObjectRemoval struct {
	Kind        MessageType // Kind is TypeDeleteObject or TypeRemoveObject
	Object      hla.ObjectHandle
	Tag         []byte
	Time        hla.Time
	Timestamped bool
}

// Type implements Message.
func (m *ObjectRemoval) Type() MessageType { return m.Kind }

func (m *ObjectRemoval) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	tag := b.CreateByteVector(m.Tag)

	b.StartObject(4)
	b.PrependUint32Slot(0, uint32(m.Object), 0)
	b.PrependUOffsetTSlot(1, tag, 0)
	b.PrependFloat64Slot(2, float64(m.Time), 0)
	b.PrependBoolSlot(3, m.Timestamped, false)

	return b.EndObject()
}

func (m *ObjectRemoval) decode(t *table) {
	m.Object = hla.ObjectHandle(t.u32(0))
	m.Tag = t.bytes(1)
	m.Time = hla.Time(t.f64(2))
	m.Timestamped = t.boolean(3)
}

// =============================================================================
// Ownership
// =============================================================================

// OwnershipRequest divests or acquires attributes of an instance.
// The acquire response lists the attributes actually acquired in Handles.
type OwnershipRequest struct {
	Kind       MessageType // Kind is TypeDivestOwnership or TypeAcquireOwnership
	Object     hla.ObjectHandle
	Attributes hla.HandleSet[hla.AttributeHandle]
}

// Type implements Message.
func (m *OwnershipRequest) Type() MessageType { return m.Kind }

func (m *OwnershipRequest) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	attrs := putU32s(b, handlesToU32(m.Attributes))

	b.StartObject(2)
	b.PrependUint32Slot(0, uint32(m.Object), 0)
	b.PrependUOffsetTSlot(1, attrs, 0)

	return b.EndObject()
}

func (m *OwnershipRequest) decode(t *table) {
	m.Object = hla.ObjectHandle(t.u32(0))
	m.Attributes = u32ToHandles[hla.AttributeHandle](t.u32s(1))
}

// =============================================================================
// Time management
// =============================================================================

// TimeMessage covers every time management request and the grant notice.
type TimeMessage struct {
	Kind      MessageType // Kind is one of the time management types
	Time      hla.Time    // Time is the requested or granted time
	Lookahead hla.Time    // Lookahead is used by regulation and lookahead changes
}

// Type implements Message.
func (m *TimeMessage) Type() MessageType { return m.Kind }

func (m *TimeMessage) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	b.StartObject(2)
	b.PrependFloat64Slot(0, float64(m.Time), 0)
	b.PrependFloat64Slot(1, float64(m.Lookahead), 0)

	return b.EndObject()
}

func (m *TimeMessage) decode(t *table) {
	m.Time = hla.Time(t.f64(0))
	m.Lookahead = hla.Time(t.f64(1))
}

// =============================================================================
// Synchronization points, save and restore
// =============================================================================

// LabelMessage covers synchronization point, save and restore traffic.
// Fields are used by the types that need them:
//   - Federates restricts a synchronization point to a federate set
//   - Success reports the outcome of FederationSaved and FederationRestored
//   - Federate names the restore handle assigned to the receiver
//   - Digest and Signature attest a completed federate save
type LabelMessage struct {
	Kind      MessageType
	Label     string
	Tag       []byte
	Federates hla.HandleSet[hla.FederateHandle]
	Success   bool
	Federate  hla.FederateHandle
	Digest    []byte
	Signature []byte
}

// Type implements Message.
func (m *LabelMessage) Type() MessageType { return m.Kind }

func (m *LabelMessage) encode(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	label := b.CreateString(m.Label)
	tag := b.CreateByteVector(m.Tag)
	feds := putU32s(b, handlesToU32(m.Federates))
	digest := b.CreateByteVector(m.Digest)
	sig := b.CreateByteVector(m.Signature)

	b.StartObject(7)
	b.PrependUOffsetTSlot(0, label, 0)
	b.PrependUOffsetTSlot(1, tag, 0)
	b.PrependUOffsetTSlot(2, feds, 0)
	b.PrependBoolSlot(3, m.Success, false)
	b.PrependUint32Slot(4, uint32(m.Federate), 0)
	b.PrependUOffsetTSlot(5, digest, 0)
	b.PrependUOffsetTSlot(6, sig, 0)

	return b.EndObject()
}

func (m *LabelMessage) decode(t *table) {
	m.Label = t.str(0)
	m.Tag = t.bytes(1)
	m.Federates = u32ToHandles[hla.FederateHandle](t.u32s(2))
	m.Success = t.boolean(3)
	m.Federate = hla.FederateHandle(t.u32(4))
	m.Digest = t.bytes(5)
	m.Signature = t.bytes(6)
}
