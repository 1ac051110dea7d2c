package forwarder

import (
	"sync"
	"testing"
	"time"

	"SimFed/internal/hla"
	"SimFed/internal/network"
	"SimFed/internal/wire"
)

type sink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) handle(frame []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *sink) types() []wire.MessageType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]wire.MessageType, 0, len(s.frames))
	for _, f := range s.frames {
		if h, err := wire.ParseHeader(f); err == nil {
			out = append(out, h.Type)
		}
	}

	return out
}

type testBridge struct {
	fwd        *Forwarder
	upSender   *network.MemoryPort
	downSender *network.MemoryPort
	upSeen     *sink
	downSeen   *sink
}

func newTestBridge(t *testing.T, rules Rules) *testBridge {
	t.Helper()

	upBus, downBus := network.NewMemoryBus(), network.NewMemoryBus()

	b := &testBridge{
		upSender:   upBus.Attach(),
		downSender: downBus.Attach(),
		upSeen:     &sink{},
		downSeen:   &sink{},
	}

	b.upSender.SetHandler(b.upSeen.handle)
	b.downSender.SetHandler(b.downSeen.handle)

	b.fwd = New(upBus.Attach(), downBus.Attach(), Config{Rules: rules})
	t.Cleanup(func() { _ = b.fwd.Close() })

	return b
}

// waitStats polls until the forwarder has handled n frames in one direction.
func waitStats(t *testing.T, f *Forwarder, dir Direction, n uint64) Stats {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		s := f.Stats()
		if s.Forwarded[dir]+s.Dropped[dir] >= n {
			return s
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for %d frames %s", n, dir)

	return Stats{}
}

func contains(types []wire.MessageType, want wire.MessageType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}

	return false
}

func frame(call wire.CallType, id uint64, m wire.Message) []byte {
	return wire.Marshal(wire.Header{Call: call, Source: 1, Target: hla.AllFederates, RequestID: id}, m)
}

func TestForwardsBothWays(t *testing.T) {
	b := newTestBridge(t, Rules{})

	_ = b.upSender.Send(frame(wire.DataMessage, 1, &wire.UpdateAttributes{Object: 1, Class: 3}))
	_ = b.downSender.Send(frame(wire.ControlAsync, 2, &wire.LabelMessage{Kind: wire.TypeAnnounceSyncPoint, Label: "ready"}))

	waitStats(t, b.fwd, Downstream, 1)
	waitStats(t, b.fwd, Upstream, 1)

	// each sender sees only the frame relayed from the other side
	if got := b.downSeen.types(); len(got) != 1 || !contains(got, wire.TypeUpdateAttributes) {
		t.Errorf("downstream saw %v", got)
	}

	if got := b.upSeen.types(); len(got) != 1 || !contains(got, wire.TypeAnnounceSyncPoint) {
		t.Errorf("upstream saw %v", got)
	}
}

func TestRulesFilterDataOnly(t *testing.T) {
	b := newTestBridge(t, Rules{
		BlockedTypes:        []wire.MessageType{wire.TypeDeleteObject},
		BlockedClasses:      []hla.ObjectClassHandle{4},
		BlockedInteractions: []hla.InteractionClassHandle{2},
	})

	// blocked class, pass, blocked interaction, pass, blocked type, control, malformed
	frames := [][]byte{
		frame(wire.DataMessage, 1, &wire.UpdateAttributes{Object: 1, Class: 4}),
		frame(wire.DataMessage, 2, &wire.UpdateAttributes{Object: 1, Class: 3}),
		frame(wire.DataMessage, 3, &wire.SendInteraction{Class: 2}),
		frame(wire.DataMessage, 4, &wire.SendInteraction{Class: 3}),
		frame(wire.DataMessage, 5, &wire.ObjectRemoval{Kind: wire.TypeDeleteObject, Object: 1}),
		frame(wire.ControlSync, 6, &wire.ObjectRemoval{Kind: wire.TypeDeleteObject, Object: 1}),
		[]byte("junk"),
	}

	for _, f := range frames {
		_ = b.upSender.Send(f)
	}

	s := waitStats(t, b.fwd, Downstream, uint64(len(frames)))

	if s.Forwarded[Downstream] != 3 || s.Dropped[Downstream] != 4 {
		t.Errorf("got forwarded %d dropped %d, want 3 and 4", s.Forwarded[Downstream], s.Dropped[Downstream])
	}

	want := []wire.MessageType{wire.TypeUpdateAttributes, wire.TypeSendInteraction, wire.TypeDeleteObject}
	got := b.downSeen.types()

	if len(got) != len(want) {
		t.Fatalf("downstream saw %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNoEchoLoop(t *testing.T) {
	b := newTestBridge(t, Rules{})

	_ = b.upSender.Send(frame(wire.DataMessage, 1, &wire.UpdateAttributes{Object: 1, Class: 3}))
	waitStats(t, b.fwd, Downstream, 1)

	time.Sleep(50 * time.Millisecond)

	s := b.fwd.Stats()
	if s.Forwarded[Upstream] != 0 {
		t.Errorf("relayed frame came back upstream %d times", s.Forwarded[Upstream])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newTestBridge(t, Rules{})

	if err := b.fwd.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := b.fwd.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
