package sink

import (
	"errors"
	"strings"
	"testing"

	"SimFed/internal/hla"
	"SimFed/internal/wire"
)

func recorder(trace *[]string, name string, priority int, then func(*Context)) Handler {
	return Func(name, priority, func(ctx *Context) error {
		*trace = append(*trace, name)
		if then != nil {
			then(ctx)
		}

		return nil
	})
}

func newTestContext(src hla.FederateHandle) *Context {
	return NewContext(wire.Header{Source: src, Target: hla.AllFederates, Federation: 1}, &wire.ReserveObjectName{Name: "x"})
}

func TestChainOrderMergesAnyType(t *testing.T) {
	var trace []string

	r := NewRegistry()
	r.Register(Incoming, recorder(&trace, "late", 200, nil), wire.TypeReserveObjectName)
	r.Register(Incoming, recorder(&trace, "guard", 0, nil))
	r.Register(Incoming, recorder(&trace, "early", 50, nil), wire.TypeReserveObjectName)
	r.Register(Incoming, recorder(&trace, "other", 10, nil), wire.TypeRegisterObject)
	r.Register(Outgoing, recorder(&trace, "out", 10, nil), wire.TypeReserveObjectName)

	if err := r.Dispatch(Incoming, newTestContext(1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := strings.Join(trace, ","); got != "guard,early,late" {
		t.Errorf("got %s, want guard,early,late", got)
	}
}

func TestSuccessAndVetoStopChain(t *testing.T) {
	tests := []struct {
		name   string
		action func(*Context)
		vetoed bool
	}{
		{"success", (*Context).Success, false},
		{"veto", func(c *Context) { c.Veto("no") }, true},
		{"respond", func(c *Context) { c.Respond(wire.Success()) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trace []string

			r := NewRegistry()
			r.Register(Incoming, recorder(&trace, "first", 1, tt.action))
			r.Register(Incoming, recorder(&trace, "second", 2, nil))

			ctx := newTestContext(1)
			if err := r.Dispatch(Incoming, ctx); err != nil {
				t.Fatalf("dispatch: %v", err)
			}

			if len(trace) != 1 {
				t.Errorf("ran %v, want only first", trace)
			}

			if ctx.Vetoed() != tt.vetoed {
				t.Errorf("vetoed: got %v, want %v", ctx.Vetoed(), tt.vetoed)
			}
		})
	}
}

func TestErrorPropagates(t *testing.T) {
	r := NewRegistry()
	r.Register(Outgoing, Func("fail", 1, func(*Context) error {
		return hla.Errorf(hla.KindObjectNotKnown, "nope")
	}))

	err := r.Dispatch(Outgoing, newTestContext(1))
	if !errors.Is(err, hla.ErrObjectNotKnown) {
		t.Errorf("got %v, want ObjectNotKnown", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	r := NewRegistry()
	r.Register(Incoming, Func("boom", 1, func(*Context) error { panic("bad") }))

	err := r.Dispatch(Incoming, newTestContext(1))
	if hla.KindOf(err) != hla.KindInternal {
		t.Errorf("got %v, want internal error", err)
	}
}

func TestVetoIfMessageFromUs(t *testing.T) {
	self := func() hla.FederateHandle { return 4 }

	r := NewRegistry()
	r.Register(Incoming, VetoIfMessageFromUs(self))

	own := newTestContext(4)
	_ = r.Dispatch(Incoming, own)

	if !own.Vetoed() {
		t.Error("own message not vetoed")
	}

	other := newTestContext(5)
	_ = r.Dispatch(Incoming, other)

	if other.Vetoed() {
		t.Errorf("foreign message vetoed: %s", other.Reason())
	}
}

func TestVetoIfNotAddressed(t *testing.T) {
	r := NewRegistry()
	r.Register(Incoming, VetoIfNotAddressed(
		func() hla.FederateHandle { return 2 },
		func() hla.FederationHandle { return 1 },
	))

	tests := []struct {
		name   string
		header wire.Header
		vetoed bool
	}{
		{"broadcast", wire.Header{Federation: 1, Target: hla.AllFederates}, false},
		{"to us", wire.Header{Federation: 1, Target: 2}, false},
		{"to other", wire.Header{Federation: 1, Target: 3}, true},
		{"other federation", wire.Header{Federation: 9, Target: hla.AllFederates}, true},
	}

	for _, tt := range tests {
		ctx := NewContext(tt.header, &wire.ReserveObjectName{})
		_ = r.Dispatch(Incoming, ctx)

		if ctx.Vetoed() != tt.vetoed {
			t.Errorf("%s: vetoed %v, want %v", tt.name, ctx.Vetoed(), tt.vetoed)
		}
	}
}

func TestServe(t *testing.T) {
	r := NewRegistry()
	r.Register(Incoming, VetoIfMessageFromUs(func() hla.FederateHandle { return 7 }))
	r.Register(Incoming, Func("name", DefaultPriority, func(ctx *Context) error {
		switch ctx.Msg.(*wire.ReserveObjectName).Name {
		case "taken":
			return hla.ErrObjectInstanceNameInUse
		case "answer":
			ctx.Respond(&wire.Response{Handle: 42})
		}

		return nil
	}), wire.TypeReserveObjectName)

	env := func(src hla.FederateHandle, name string) wire.Envelope {
		return wire.Envelope{Header: wire.Header{Source: src}, Msg: &wire.ReserveObjectName{Name: name}}
	}

	if resp, err := r.Serve(env(7, "x")); resp != nil || err != nil {
		t.Errorf("vetoed: got %v, %v, want nil, nil", resp, err)
	}

	if resp, err := r.Serve(env(1, "x")); err != nil || resp.Err() != nil {
		t.Errorf("plain: got %v, %v, want success", resp, err)
	}

	if resp, _ := r.Serve(env(1, "answer")); resp == nil || resp.Handle != 42 {
		t.Errorf("answer: got %v, want handle 42", resp)
	}

	if _, err := r.Serve(env(1, "taken")); !errors.Is(err, hla.ErrObjectInstanceNameInUse) {
		t.Errorf("taken: got %v, want ObjectInstanceNameInUse", err)
	}
}
