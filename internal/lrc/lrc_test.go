package lrc

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"SimFed/internal/channel"
	"SimFed/internal/checkpoint"
	"SimFed/internal/fom/fomtest"
	"SimFed/internal/hla"
	"SimFed/internal/interest"
	"SimFed/internal/network"
	"SimFed/internal/rti"
	"SimFed/internal/storage"
	"SimFed/internal/wire"
)

const federationName = "traffic"

// =============================================================================
// Recording ambassador
// =============================================================================

type event struct {
	name   string
	object hla.ObjectHandle
	class  uint32
	values map[uint32]string
	order  Order
	time   hla.Time
	label  string
	tag    string
	ok     bool
	fed    hla.FederateHandle
}

type recorder struct {
	mu     sync.Mutex
	events []event
	log    []string
}

func (r *recorder) add(ev event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	r.log = append(r.log, ev.name)
}

// take removes and returns the first recorded event with a name.
func (r *recorder) take(name string) (event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, ev := range r.events {
		if ev.name == name {
			r.events = append(r.events[:i], r.events[i+1:]...)
			return ev, true
		}
	}

	return event{}, false
}

func (r *recorder) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.log...)
}

func attrValues(v wire.AttributeValues) map[uint32]string {
	out := make(map[uint32]string, len(v))
	for h, b := range v {
		out[uint32(h)] = string(b)
	}

	return out
}

func paramValues(v wire.ParameterValues) map[uint32]string {
	out := make(map[uint32]string, len(v))
	for h, b := range v {
		out[uint32(h)] = string(b)
	}

	return out
}

func (r *recorder) DiscoverObjectInstance(obj hla.ObjectHandle, class hla.ObjectClassHandle, name string) {
	r.add(event{name: "discover", object: obj, class: uint32(class), label: name})
}

func (r *recorder) ReflectAttributeValues(obj hla.ObjectHandle, values wire.AttributeValues, tag []byte, order Order, t hla.Time) {
	r.add(event{name: "reflect", object: obj, values: attrValues(values), tag: string(tag), order: order, time: t})
}

func (r *recorder) ReceiveInteraction(class hla.InteractionClassHandle, values wire.ParameterValues, tag []byte, order Order, t hla.Time) {
	r.add(event{name: "interaction", class: uint32(class), values: paramValues(values), tag: string(tag), order: order, time: t})
}

func (r *recorder) RemoveObjectInstance(obj hla.ObjectHandle, tag []byte, order Order, t hla.Time) {
	r.add(event{name: "remove", object: obj, tag: string(tag), order: order, time: t})
}

func (r *recorder) TimeRegulationEnabled(t hla.Time) {
	r.add(event{name: "regulation", time: t})
}

func (r *recorder) TimeConstrainedEnabled(t hla.Time) {
	r.add(event{name: "constrained", time: t})
}

func (r *recorder) TimeAdvanceGrant(t hla.Time) {
	r.add(event{name: "grant", time: t})
}

func (r *recorder) AnnounceSynchronizationPoint(label string, tag []byte) {
	r.add(event{name: "announce", label: label, tag: string(tag)})
}

func (r *recorder) FederationSynchronized(label string) {
	r.add(event{name: "synchronized", label: label})
}

func (r *recorder) InitiateFederateSave(label string) {
	r.add(event{name: "initiate-save", label: label})
}

func (r *recorder) FederationSaved(label string, success bool) {
	r.add(event{name: "saved", label: label, ok: success})
}

func (r *recorder) InitiateFederateRestore(label string, fed hla.FederateHandle) {
	r.add(event{name: "initiate-restore", label: label, fed: fed})
}

func (r *recorder) FederationRestored(label string, success bool) {
	r.add(event{name: "restored", label: label, ok: success})
}

// counter is application state saved with a federate.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Name() string { return "counter" }

func (c *counter) Save() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return []byte(strconv.Itoa(c.n)), nil
}

func (c *counter) Restore(data []byte) error {
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.n = n
	c.mu.Unlock()

	return nil
}

func (c *counter) set(n int) {
	c.mu.Lock()
	c.n = n
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}

// =============================================================================
// Helpers
// =============================================================================

type testFederation struct {
	t       *testing.T
	bus     *network.MemoryBus
	store   *checkpoint.Store
	rtiPort *network.MemoryPort // rtiPort is the RTI's attachment to bus
	queue   int                 // queue bounds every channel queue, zero for the default
}

// newTestFederation starts an RTI with a pebble backed store and creates the
// traffic federation.
func newTestFederation(t *testing.T) *testFederation {
	t.Helper()

	return newTestFederationQueues(t, 0)
}

// newTestFederationQueues is newTestFederation with every channel queue of the
// federation, RTI included, bounded to queue frames.
func newTestFederationQueues(t *testing.T, queue int) *testFederation {
	t.Helper()

	db, err := storage.Open(t.TempDir(), storage.Options{})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	tf := &testFederation{t: t, bus: network.NewMemoryBus(), store: checkpoint.NewStore(db), queue: queue}
	tf.rtiPort = tf.bus.Attach()

	r, err := rti.New(tf.rtiPort, rti.Config{
		Channel:      tf.channelOptions("rti"),
		Store:        tf.store,
		SaveSettle:   50 * time.Millisecond,
		TombstoneTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("new rti: %v", err)
	}

	t.Cleanup(func() { _ = r.Close() })

	creator := tf.newLRC("creator", 0, nil)
	if err := creator.CreateFederationExecution(context.Background(), federationName, []byte(fomtest.Traffic)); err != nil {
		t.Fatalf("create federation: %v", err)
	}

	return tf
}

func (tf *testFederation) channelOptions(name string) channel.Options {
	return channel.Options{
		Name:           name,
		RequestTimeout: 2 * time.Second,
		IncomingQueue:  tf.queue,
		OutgoingQueue:  tf.queue,
	}
}

type testFederate struct {
	*LRC
	t   *testing.T
	rec *recorder
}

func (tf *testFederation) newLRC(name string, seed byte, components []checkpoint.Component) *testFederate {
	tf.t.Helper()

	key, err := checkpoint.KeyFromSeed(bytes.Repeat([]byte{seed + 1}, 32))
	if err != nil {
		tf.t.Fatalf("key: %v", err)
	}

	rec := &recorder{}

	l, err := New(tf.bus.Attach(), Config{
		Channel:      tf.channelOptions(name),
		FederateName: name,
		Key:          key,
		Store:        tf.store,
		TombstoneTTL: time.Minute,
		Components:   components,
	}, rec)
	if err != nil {
		tf.t.Fatalf("new lrc: %v", err)
	}

	tf.t.Cleanup(func() { _ = l.Close() })

	return &testFederate{LRC: l, t: tf.t, rec: rec}
}

// join starts a federate and joins the traffic federation.
func (tf *testFederation) join(name string, seed byte, components ...checkpoint.Component) *testFederate {
	tf.t.Helper()

	f := tf.newLRC(name, seed, components)
	if _, err := f.JoinFederationExecution(context.Background(), federationName); err != nil {
		tf.t.Fatalf("join %s: %v", name, err)
	}

	return f
}

// expect evokes callbacks until one with the given name was delivered.
func (f *testFederate) expect(name string) event {
	f.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		if ev, ok := f.rec.take(name); ok {
			return ev
		}

		if err := f.Evoke(ctx); err != nil {
			f.t.Fatalf("%s: waiting for %s: %v", f.Name(), name, err)
		}
	}
}

// quiet lets in-flight frames land, delivers what is queued and fails if a
// callback with the given name shows up.
func (f *testFederate) quiet(name string) {
	f.t.Helper()

	time.Sleep(50 * time.Millisecond)

	for f.Pending() > 0 {
		if err := f.Evoke(context.Background()); err != nil {
			f.t.Fatalf("evoke: %v", err)
		}
	}

	if ev, ok := f.rec.take(name); ok {
		f.t.Fatalf("%s: unexpected %s: %+v", f.Name(), name, ev)
	}
}

func (f *testFederate) must(err error) {
	f.t.Helper()

	if err != nil {
		f.t.Fatalf("%s: %v", f.Name(), err)
	}
}

func (f *testFederate) fails(err error, want hla.ErrorKind) {
	f.t.Helper()

	if got := hla.KindOf(err); got != want {
		f.t.Fatalf("%s: got %v, want %s", f.Name(), err, want)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for %s", what)
}

// vehicle publishes Vehicle position and speed on pub, subscribes sub to attrs
// and registers one instance sub has discovered.
func vehicle(pub, sub *testFederate, attrs ...hla.AttributeHandle) hla.ObjectHandle {
	pub.t.Helper()

	ctx := context.Background()

	pub.must(pub.PublishObjectClassAttributes(ctx, fomtest.Vehicle, hla.NewSet(fomtest.Position, fomtest.Speed)))
	sub.must(sub.SubscribeObjectClassAttributes(ctx, fomtest.Vehicle, hla.NewSet(attrs...), ""))

	obj, err := pub.RegisterObjectInstance(ctx, fomtest.Vehicle, "")
	pub.must(err)

	if d := sub.expect("discover"); d.object != obj {
		pub.t.Fatalf("discovered %d, want %d", d.object, obj)
	}

	return obj
}

// =============================================================================
// Federation management
// =============================================================================

func TestJoinAndResign(t *testing.T) {
	tf := newTestFederation(t)
	ctx := context.Background()

	a := tf.join("a", 1)
	b := tf.join("b", 2)

	if a.Handle() != 1 || b.Handle() != 2 {
		t.Fatalf("handles: got %s and %s, want fed-1 and fed-2", a.Handle(), b.Handle())
	}

	if a.Name() != "a" || a.Model() == nil {
		t.Errorf("view: got name %q, model %v", a.Name(), a.Model())
	}

	_, err := a.JoinFederationExecution(ctx, federationName)
	a.fails(err, hla.KindFederateAlreadyExecutionMember)

	a.fails(a.DestroyFederationExecution(ctx, federationName), hla.KindFederatesCurrentlyJoined)

	a.must(a.ResignFederationExecution(ctx, hla.ResignDeleteObjects))

	if a.Handle() != hla.AllFederates || a.Model() != nil {
		t.Errorf("after resign: got handle %s", a.Handle())
	}

	a.fails(a.ResignFederationExecution(ctx, hla.ResignNoAction), hla.KindFederateNotExecutionMember)
	a.fails(a.PublishInteractionClass(ctx, fomtest.Collision), hla.KindFederateNotExecutionMember)
	a.fails(a.UpdateAttributeValues(1, wire.AttributeValues{fomtest.Position: []byte("p")}, nil), hla.KindFederateNotExecutionMember)

	b.must(b.ResignFederationExecution(ctx, hla.ResignDeleteObjects))
	b.must(b.DestroyFederationExecution(ctx, federationName))
}

func TestJoinUnknownFederation(t *testing.T) {
	tf := newTestFederation(t)

	f := tf.newLRC("a", 1, nil)

	_, err := f.JoinFederationExecution(context.Background(), "absent")
	f.fails(err, hla.KindFederationExecutionDoesNotExist)

	if f.Handle() != hla.AllFederates {
		t.Errorf("handle: got %s, want all", f.Handle())
	}
}

// =============================================================================
// Objects
// =============================================================================

func TestReflectFiltersSubscribedAttributes(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)

	obj := vehicle(f1, f2, fomtest.Position)

	f1.must(f1.UpdateAttributeValues(obj, wire.AttributeValues{
		fomtest.Position: []byte("p1"),
		fomtest.Speed:    []byte("s1"),
	}, []byte("tag")))

	ev := f2.expect("reflect")
	if ev.object != obj || ev.order != Receive || ev.tag != "tag" {
		t.Errorf("reflect: got %+v", ev)
	}

	if len(ev.values) != 1 || ev.values[uint32(fomtest.Position)] != "p1" {
		t.Errorf("values: got %v, want only position", ev.values)
	}

	// an update of unsubscribed attributes only is not reflected
	f1.must(f1.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Speed: []byte("s2")}, nil))
	f1.must(f1.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Position: []byte("p2")}, nil))

	if ev := f2.expect("reflect"); ev.values[uint32(fomtest.Position)] != "p2" {
		t.Errorf("next reflect: got %v, want p2", ev.values)
	}

	f1.quiet("reflect")
}

func TestDiscoverAsSubscribedSuperclass(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	f1.must(f1.PublishObjectClassAttributes(ctx, fomtest.Car, hla.NewSet(fomtest.Position, fomtest.Doors)))
	f2.must(f2.SubscribeObjectClassAttributes(ctx, fomtest.Vehicle, hla.NewSet(fomtest.Position), ""))

	f1.must(f1.ReserveObjectInstanceName(ctx, "car-1"))

	obj, err := f1.RegisterObjectInstance(ctx, fomtest.Car, "car-1")
	f1.must(err)

	ev := f2.expect("discover")
	if ev.object != obj || ev.class != uint32(fomtest.Vehicle) || ev.label != "car-1" {
		t.Errorf("discover: got %+v", ev)
	}

	if inst := f2.Object(obj); inst == nil || inst.Class != fomtest.Vehicle {
		t.Errorf("local view: got %+v", inst)
	}

	f1.must(f1.UpdateAttributeValues(obj, wire.AttributeValues{
		fomtest.Position: []byte("p"),
		fomtest.Doors:    []byte("4"),
	}, nil))

	if ev := f2.expect("reflect"); len(ev.values) != 1 {
		t.Errorf("values: got %v, want position only", ev.values)
	}
}

func TestDuplicateDiscoveryIgnored(t *testing.T) {
	tf := newTestFederation(t)
	f := tf.join("f", 1)

	deliver := func(msg wire.Message) {
		t.Helper()

		h := wire.Header{
			Call:       wire.ControlAsync,
			Type:       msg.Type(),
			Federation: f.federationHandle(),
			Source:     hla.RTIFederate,
			Target:     f.Handle(),
		}

		if _, err := f.sinks.Serve(wire.Envelope{Header: h, Msg: msg}); err != nil {
			t.Fatalf("serve %s: %v", msg.Type(), err)
		}
	}

	discover := &wire.DiscoverObject{Object: 42, Class: fomtest.Building, Name: "tower", Registrant: 9}

	deliver(discover)
	deliver(discover)

	if got := f.Pending(); got != 1 {
		t.Fatalf("pending after duplicate discovery: got %d, want 1", got)
	}

	f.expect("discover")

	deliver(&wire.ObjectRemoval{Kind: wire.TypeRemoveObject, Object: 42})
	f.expect("remove")

	// a late discovery of a deleted instance stays dropped
	deliver(discover)

	if got := f.Pending(); got != 0 {
		t.Errorf("pending after discovery of deleted instance: got %d, want 0", got)
	}

	if f.Object(42) != nil {
		t.Error("deleted instance back in view")
	}
}

func TestDeleteRemovesFromSubscriber(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	obj := vehicle(f1, f2, fomtest.Position)

	f2.fails(f2.DeleteObjectInstance(ctx, obj, nil), hla.KindDeletePrivilegeNotHeld)

	f1.must(f1.DeleteObjectInstance(ctx, obj, []byte("bye")))

	if ev := f2.expect("remove"); ev.object != obj || ev.tag != "bye" {
		t.Errorf("remove: got %+v", ev)
	}

	if f1.Object(obj) != nil || f2.Object(obj) != nil {
		t.Error("deleted instance still in a view")
	}

	f1.fails(f1.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Position: []byte("p")}, nil), hla.KindObjectNotKnown)
}

func TestSubscribeDiscoversBeyondQueueBounds(t *testing.T) {
	const queue = 8

	tf := newTestFederationQueues(t, queue)
	pub, sub := tf.join("pub", 1), tf.join("sub", 2)
	ctx := context.Background()

	pub.must(pub.PublishObjectClassAttributes(ctx, fomtest.Vehicle, hla.NewSet(fomtest.Position)))

	registered := make(map[hla.ObjectHandle]bool)
	for i := 0; i < 5*queue; i++ {
		obj, err := pub.RegisterObjectInstance(ctx, fomtest.Vehicle, "")
		pub.must(err)
		registered[obj] = true
	}

	// one subscribe answers with a discovery per instance
	sub.must(sub.SubscribeObjectClassAttributes(ctx, fomtest.Vehicle, hla.NewSet(fomtest.Position), ""))

	for range 5 * queue {
		ev := sub.expect("discover")
		if !registered[ev.object] {
			t.Fatalf("unexpected discovery of %d", ev.object)
		}

		delete(registered, ev.object)
	}

	obj, err := pub.RegisterObjectInstance(ctx, fomtest.Vehicle, "")
	pub.must(err)

	if ev := sub.expect("discover"); ev.object != obj {
		t.Errorf("discovered %d, want %d", ev.object, obj)
	}
}

func TestRefusedDeclarationsKeepLocalInterest(t *testing.T) {
	tf := newTestFederation(t)
	pub, sub := tf.join("pub", 1), tf.join("sub", 2)
	ctx := context.Background()

	vehicle(pub, sub, fomtest.Position)
	pub.must(pub.PublishInteractionClass(ctx, fomtest.Collision))
	sub.must(sub.SubscribeInteractionClass(ctx, fomtest.Collision, "north"))

	// the RTI stops answering
	_ = tf.rtiPort.Close()

	short := func() context.Context {
		c, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		t.Cleanup(cancel)

		return c
	}

	sub.fails(sub.UnsubscribeObjectClassAttributes(short(), fomtest.Vehicle, nil), hla.KindNoResponse)
	sub.fails(sub.SubscribeObjectClassAttributes(short(), fomtest.Vehicle, hla.NewSet(fomtest.Speed), "east"), hla.KindNoResponse)
	sub.fails(sub.UnsubscribeInteractionClass(short(), fomtest.Collision), hla.KindNoResponse)
	sub.fails(sub.SubscribeInteractionClass(short(), fomtest.Collision, "south"), hla.KindNoResponse)
	pub.fails(pub.UnpublishObjectClassAttributes(short(), fomtest.Vehicle, hla.NewSet(fomtest.Speed)), hla.KindNoResponse)
	pub.fails(pub.UnpublishInteractionClass(short(), fomtest.Collision), hla.KindNoResponse)

	subFed, _, subIn, err := sub.view()
	sub.must(err)

	want := &interest.ObjectInterest{Class: fomtest.Vehicle, Attributes: hla.NewSet(fomtest.Position)}
	if diff := cmp.Diff(want, subIn.SubscribedInterest(subFed, fomtest.Vehicle)); diff != "" {
		t.Errorf("object subscription (-want +got):\n%s", diff)
	}

	wantInteraction := &interest.InteractionInterest{Class: fomtest.Collision, Region: "north"}
	if diff := cmp.Diff(wantInteraction, subIn.SubscribedInteraction(subFed, fomtest.Collision)); diff != "" {
		t.Errorf("interaction subscription (-want +got):\n%s", diff)
	}

	pubFed, _, pubIn, err := pub.view()
	pub.must(err)

	if err := pubIn.CheckPublished(pubFed, fomtest.Vehicle, hla.NewSet(fomtest.Position, fomtest.Speed)); err != nil {
		t.Errorf("object publication: %v", err)
	}

	if err := pubIn.CheckInteractionPublished(pubFed, fomtest.Collision); err != nil {
		t.Errorf("interaction publication: %v", err)
	}
}

func TestOutgoingValidation(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	_, err := f1.RegisterObjectInstance(ctx, fomtest.Building, "")
	f1.fails(err, hla.KindObjectClassNotPublished)

	obj := vehicle(f1, f2, fomtest.Position, fomtest.Speed)

	f1.fails(f1.UpdateAttributeValues(obj+100, wire.AttributeValues{fomtest.Position: []byte("p")}, nil), hla.KindObjectNotKnown)
	f1.fails(f1.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Height: []byte("h")}, nil), hla.KindAttributeNotDefined)
	f2.fails(f2.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Position: []byte("p")}, nil), hla.KindAttributeNotOwned)

	f1.fails(f1.SendInteraction(fomtest.Collision, wire.ParameterValues{fomtest.Severity: []byte("low")}, nil), hla.KindInteractionClassNotPublished)

	f1.must(f1.PublishInteractionClass(ctx, fomtest.Collision))
	f1.fails(f1.SendInteraction(fomtest.Collision, wire.ParameterValues{fomtest.Injuries: []byte("1")}, nil), hla.KindInteractionParameterNotDefined)

	f1.must(f1.ReserveObjectInstanceName(ctx, "taken"))
	f2.fails(f2.ReserveObjectInstanceName(ctx, "taken"), hla.KindObjectInstanceNameInUse)

	f2.quiet("reflect")
}

func TestOwnershipTransfer(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	obj := vehicle(f1, f2, fomtest.Position)

	f2.must(f2.PublishObjectClassAttributes(ctx, fomtest.Vehicle, hla.NewSet(fomtest.Position)))

	got, err := f2.AttributeOwnershipAcquisitionIfAvailable(ctx, obj, hla.NewSet(fomtest.Position))
	f2.must(err)

	if len(got) != 0 {
		t.Fatalf("acquired owned attribute: got %v", got.Sorted())
	}

	f1.must(f1.UnconditionalAttributeOwnershipDivestiture(ctx, obj, hla.NewSet(fomtest.Position)))
	f1.fails(f1.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Position: []byte("p")}, nil), hla.KindAttributeNotOwned)

	got, err = f2.AttributeOwnershipAcquisitionIfAvailable(ctx, obj, hla.NewSet(fomtest.Position))
	f2.must(err)

	if !got.Equal(hla.NewSet(fomtest.Position)) {
		t.Fatalf("acquired: got %v, want position", got.Sorted())
	}

	f2.must(f2.UpdateAttributeValues(obj, wire.AttributeValues{fomtest.Position: []byte("p")}, nil))
}

func TestInteractionReceivedAsSubscribedClass(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	f1.must(f1.PublishInteractionClass(ctx, fomtest.Crash))
	f2.must(f2.SubscribeInteractionClass(ctx, fomtest.Collision, ""))

	f1.must(f1.SendInteraction(fomtest.Crash, wire.ParameterValues{
		fomtest.Severity: []byte("high"),
		fomtest.Injuries: []byte("2"),
	}, []byte("t")))

	ev := f2.expect("interaction")
	if ev.class != uint32(fomtest.Collision) || ev.order != Receive {
		t.Errorf("interaction: got %+v", ev)
	}

	if len(ev.values) != 1 || ev.values[uint32(fomtest.Severity)] != "high" {
		t.Errorf("parameters: got %v, want severity only", ev.values)
	}

	f2.must(f2.UnsubscribeInteractionClass(ctx, fomtest.Collision))
	f1.must(f1.SendInteraction(fomtest.Crash, wire.ParameterValues{fomtest.Severity: []byte("low")}, nil))
	f2.quiet("interaction")
}

// =============================================================================
// Time
// =============================================================================

func TestTimestampOrderWaitsForGrant(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	f1.must(f1.EnableTimeRegulation(ctx, 1))
	f1.expect("regulation")

	f2.must(f2.EnableTimeConstrained(ctx))
	f2.expect("constrained")

	obj := vehicle(f1, f2, fomtest.Position)

	f1.fails(f1.UpdateAttributeValuesAt(obj, wire.AttributeValues{fomtest.Position: []byte("early")}, nil, 0.5), hla.KindInvalidLogicalTime)
	f1.must(f1.UpdateAttributeValuesAt(obj, wire.AttributeValues{fomtest.Position: []byte("p5")}, nil, 5))

	eventually(t, "queued update", func() bool { return f2.QueuedTimestamped() == 1 })

	f2.must(f2.TimeAdvanceRequest(ctx, 10))
	f2.quiet("grant")

	if _, ok := f2.rec.take("reflect"); ok {
		t.Fatal("timestamped update delivered before its grant")
	}

	f1.must(f1.TimeAdvanceRequest(ctx, 10))

	if ev := f1.expect("grant"); ev.time != 10 {
		t.Errorf("f1 grant: got %v, want 10", ev.time)
	}

	ev := f2.expect("grant")
	if ev.time != 10 {
		t.Errorf("f2 grant: got %v, want 10", ev.time)
	}

	reflect, ok := f2.rec.take("reflect")
	if !ok || reflect.order != Timestamp || reflect.time != 5 {
		t.Fatalf("reflect: got %+v", reflect)
	}

	hist := f2.rec.history()
	if hist[len(hist)-2] != "reflect" || hist[len(hist)-1] != "grant" {
		t.Errorf("order: got %v, want reflect before grant", hist)
	}

	if st := f2.TimeStatus(); st.Time != 10 || st.Advancing {
		t.Errorf("status: got %+v", st)
	}

	f2.fails(f2.TimeAdvanceRequest(ctx, 5), hla.KindInvalidLogicalTime)
}

func TestUnregulatedSendFallsBackToReceiveOrder(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)

	obj := vehicle(f1, f2, fomtest.Position)

	f1.must(f1.UpdateAttributeValuesAt(obj, wire.AttributeValues{fomtest.Position: []byte("p")}, nil, 3))

	if ev := f2.expect("reflect"); ev.order != Receive {
		t.Errorf("order: got %s, want receive", ev.order)
	}
}

func TestReceiveOrderHeldWhileIdle(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	f1.must(f1.PublishInteractionClass(ctx, fomtest.Collision))
	f2.must(f2.SubscribeInteractionClass(ctx, fomtest.Collision, ""))

	f2.must(f2.EnableTimeConstrained(ctx))
	f2.expect("constrained")

	f1.must(f1.SendInteraction(fomtest.Collision, wire.ParameterValues{fomtest.Severity: []byte("x")}, nil))
	f2.quiet("interaction")

	f2.must(f2.EnableAsynchronousDelivery())
	f2.fails(f2.EnableAsynchronousDelivery(), hla.KindAsynchronousDeliveryAlreadyEnabled)

	f2.expect("interaction")

	f2.must(f2.DisableAsynchronousDelivery())
	f1.must(f1.SendInteraction(fomtest.Collision, wire.ParameterValues{fomtest.Severity: []byte("y")}, nil))
	f2.quiet("interaction")

	// no regulator holds the federation back, so the advance is granted at once
	f2.must(f2.TimeAdvanceRequest(ctx, 1))
	f2.expect("interaction")
	f2.expect("grant")
}

func TestTimeRequestErrors(t *testing.T) {
	tf := newTestFederation(t)
	f := tf.join("f", 1)
	ctx := context.Background()

	f.fails(f.DisableTimeRegulation(ctx), hla.KindTimeRegulationNotEnabled)
	f.fails(f.DisableTimeConstrained(ctx), hla.KindTimeConstrainedNotEnabled)
	f.fails(f.ModifyLookahead(ctx, 2), hla.KindTimeRegulationNotEnabled)
	f.fails(f.EnableTimeRegulation(ctx, -1), hla.KindInvalidLookahead)
	f.fails(f.EnableTimeRegulation(ctx, hla.Time(math.NaN())), hla.KindInvalidLookahead)
	f.fails(f.EnableTimeRegulation(ctx, hla.TimeInfinity), hla.KindInvalidLookahead)
	f.fails(f.TimeAdvanceRequest(ctx, hla.Time(math.NaN())), hla.KindInvalidLogicalTime)
	f.fails(f.TimeAdvanceRequest(ctx, hla.Time(math.Inf(-1))), hla.KindInvalidLogicalTime)
	f.fails(f.DisableAsynchronousDelivery(), hla.KindAsynchronousDeliveryAlreadyDisabled)

	if st := f.TimeStatus(); st.Advancing || st.Regulating {
		t.Errorf("rejected requests changed status: %+v", st)
	}

	f.must(f.EnableTimeRegulation(ctx, 2))
	f.fails(f.EnableTimeRegulation(ctx, 2), hla.KindTimeRegulationAlreadyEnabled)
	f.fails(f.ModifyLookahead(ctx, hla.Time(math.NaN())), hla.KindInvalidLookahead)
	f.fails(f.ModifyLookahead(ctx, -1), hla.KindInvalidLookahead)
	f.must(f.ModifyLookahead(ctx, 3))

	if st := f.TimeStatus(); !st.Regulating || st.Lookahead != 3 {
		t.Errorf("status: got %+v", st)
	}

	f.must(f.DisableTimeRegulation(ctx))
}

// =============================================================================
// Synchronization points
// =============================================================================

func TestSynchronizationPoint(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	f1.fails(f1.SynchronizationPointAchieved(ctx, "ready"), hla.KindSynchronizationPointLabelNotAnnounced)

	f1.must(f1.RegisterFederationSynchronizationPoint(ctx, "ready", []byte("go")))
	f2.fails(f2.RegisterFederationSynchronizationPoint(ctx, "ready", nil), hla.KindSynchronizationPointLabelInUse)

	for _, f := range []*testFederate{f1, f2} {
		if ev := f.expect("announce"); ev.label != "ready" || ev.tag != "go" {
			t.Errorf("%s announce: got %+v", f.Name(), ev)
		}
	}

	f1.must(f1.SynchronizationPointAchieved(ctx, "ready"))
	f1.quiet("synchronized")

	f2.must(f2.SynchronizationPointAchieved(ctx, "ready"))

	for _, f := range []*testFederate{f1, f2} {
		if ev := f.expect("synchronized"); ev.label != "ready" {
			t.Errorf("%s synchronized: got %+v", f.Name(), ev)
		}
	}
}

func TestSynchronizationPointSubset(t *testing.T) {
	tf := newTestFederation(t)
	f1, f2 := tf.join("f1", 1), tf.join("f2", 2)
	ctx := context.Background()

	f1.must(f1.RegisterFederationSynchronizationPoint(ctx, "solo", nil, f1.Handle()))
	f1.expect("announce")
	f2.quiet("announce")

	f2.fails(f2.SynchronizationPointAchieved(ctx, "solo"), hla.KindSynchronizationPointLabelNotAnnounced)

	f1.must(f1.SynchronizationPointAchieved(ctx, "solo"))
	f1.expect("synchronized")
}

// =============================================================================
// Save and restore
// =============================================================================

func saveFederation(t *testing.T, label string, feds ...*testFederate) {
	t.Helper()

	ctx := context.Background()

	feds[0].must(feds[0].RequestFederationSave(ctx, label))

	for _, f := range feds {
		if ev := f.expect("initiate-save"); ev.label != label {
			t.Fatalf("%s initiate save: got %+v", f.Name(), ev)
		}

		f.must(f.FederateSaveBegun(ctx))
		f.must(f.FederateSaveComplete(ctx))
	}

	for _, f := range feds {
		if ev := f.expect("saved"); !ev.ok || ev.label != label {
			t.Fatalf("%s saved: got %+v", f.Name(), ev)
		}
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	tf := newTestFederation(t)
	c1, c2 := &counter{n: 1}, &counter{n: 2}
	f1, f2 := tf.join("f1", 1, c1), tf.join("f2", 2, c2)
	ctx := context.Background()

	f1.fails(f1.FederateSaveBegun(ctx), hla.KindSaveNotInitiated)

	obj := vehicle(f1, f2, fomtest.Position)
	f1.must(f1.EnableTimeRegulation(ctx, 1))
	f1.expect("regulation")

	saveFederation(t, "s1", f1, f2)

	c1.set(10)
	c2.set(20)

	later, err := f1.RegisterObjectInstance(ctx, fomtest.Vehicle, "")
	f1.must(err)
	f2.expect("discover")

	f1.must(f1.DisableTimeRegulation(ctx))

	f2.must(f2.RequestFederationRestore(ctx, "s1"))

	for _, f := range []*testFederate{f1, f2} {
		ev := f.expect("initiate-restore")
		if ev.label != "s1" || ev.fed != f.Handle() {
			t.Errorf("%s initiate restore: got %+v", f.Name(), ev)
		}
	}

	if c1.get() != 1 || c2.get() != 2 {
		t.Errorf("counters: got %d and %d, want 1 and 2", c1.get(), c2.get())
	}

	if f1.Object(obj) == nil || f2.Object(obj) == nil {
		t.Error("saved instance missing after restore")
	}

	if f1.Object(later) != nil || f2.Object(later) != nil {
		t.Error("instance registered after the save survived the restore")
	}

	if st := f1.TimeStatus(); !st.Regulating || st.Lookahead != 1 {
		t.Errorf("time status: got %+v, want regulating", st)
	}

	f1.must(f1.FederateRestoreComplete(ctx))
	f2.must(f2.FederateRestoreComplete(ctx))

	for _, f := range []*testFederate{f1, f2} {
		if ev := f.expect("restored"); !ev.ok {
			t.Errorf("%s restored: got %+v", f.Name(), ev)
		}
	}

	f1.fails(f1.FederateRestoreComplete(ctx), hla.KindRestoreNotInitiated)
}

func TestRestoreUnknownLabel(t *testing.T) {
	tf := newTestFederation(t)
	f := tf.join("f", 1)

	f.fails(f.RequestFederationRestore(context.Background(), "never"), hla.KindRestoreRequestFailed)
}

func TestSaveWithoutStore(t *testing.T) {
	tf := newTestFederation(t)

	l, err := New(tf.bus.Attach(), Config{Channel: channel.Options{RequestTimeout: time.Second}, FederateName: "bare"}, nil)
	if err != nil {
		t.Fatalf("new lrc: %v", err)
	}

	t.Cleanup(func() { _ = l.Close() })

	if _, err := l.JoinFederationExecution(context.Background(), federationName); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := l.RequestFederationSave(context.Background(), "s"); hla.KindOf(err) != hla.KindInternal {
		t.Errorf("got %v, want internal", err)
	}
}

// =============================================================================
// Evoke
// =============================================================================

func TestEvokeWaitsForCallbacks(t *testing.T) {
	tf := newTestFederation(t)
	f := tf.newLRC("idle", 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.Evoke(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("evoke on empty queue: got %v, want deadline exceeded", err)
	}

	f.callbacks.push("one", func(Ambassador) {})
	f.callbacks.push("two", func(Ambassador) {})

	n, err := f.EvokeMultiple(context.Background())
	if err != nil || n != 2 {
		t.Errorf("evoke multiple: got %d, %v, want 2", n, err)
	}

	_ = f.Close()

	if err := f.Evoke(context.Background()); hla.KindOf(err) != hla.KindNotConnected {
		t.Errorf("evoke after close: got %v, want not connected", err)
	}
}

func TestEvokeSurvivesPanickingAmbassador(t *testing.T) {
	tf := newTestFederation(t)
	f := tf.newLRC("panicky", 1, nil)

	ran := false
	f.callbacks.push("boom", func(Ambassador) { panic("boom") })
	f.callbacks.push("after", func(Ambassador) { ran = true })

	n, err := f.EvokeMultiple(context.Background())
	if err != nil || n != 2 || !ran {
		t.Errorf("got %d, %v, ran %v", n, err, ran)
	}
}
