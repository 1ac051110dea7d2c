package lrc

import (
	"container/heap"
	"context"

	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/timing"
	"SimFed/internal/wire"
)

// delivery is a received message waiting to become a callback.
type delivery struct {
	name string
	time hla.Time
	seq  uint64 // seq keeps arrival order among equal times
	fn   func(Ambassador, Order)
}

// tsoQueue is a min-heap of deliveries by time, then arrival.
type tsoQueue []*delivery

func (q tsoQueue) Len() int { return len(q) }

func (q tsoQueue) Less(i, j int) bool {
	if q[i].time != q[j].time {
		return q[i].time < q[j].time
	}

	return q[i].seq < q[j].seq
}

func (q tsoQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *tsoQueue) Push(x any) { *q = append(*q, x.(*delivery)) }

func (q *tsoQueue) Pop() any {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]

	return d
}

// enqueueLocked routes a received message. Timestamped messages wait for a
// covering grant while constrained. Receive-order messages wait while a
// constrained federate neither advances nor uses asynchronous delivery.
func (l *LRC) enqueueLocked(name string, timestamped bool, t hla.Time, fn func(Ambassador, Order)) {
	l.seq++
	d := &delivery{name: name, time: t, seq: l.seq, fn: fn}

	switch {
	case timestamped && l.time.Constrained:
		heap.Push(&l.tso, d)
	case l.time.Constrained && !l.time.AsyncDelivery && !l.time.Advancing:
		l.held = append(l.held, *d)
	default:
		l.pushLocked(d, Receive)
	}
}

func (l *LRC) pushLocked(d *delivery, order Order) {
	fn := d.fn
	l.callbacks.push(d.name, func(a Ambassador) { fn(a, order) })
}

// releaseLocked queues every timestamped message up to t.
func (l *LRC) releaseLocked(t hla.Time) {
	for l.tso.Len() > 0 && l.tso[0].time <= t {
		l.pushLocked(heap.Pop(&l.tso).(*delivery), Timestamp)
	}
}

// flushHeldLocked queues receive-order messages held back while idle.
func (l *LRC) flushHeldLocked() {
	for i := range l.held {
		l.pushLocked(&l.held[i], Receive)
	}

	l.held = nil
}

// drainLocked turns every waiting message into a receive-order callback.
func (l *LRC) drainLocked() {
	for l.tso.Len() > 0 {
		l.pushLocked(heap.Pop(&l.tso).(*delivery), Receive)
	}

	l.flushHeldLocked()
}

// =============================================================================
// Queries
// =============================================================================

// TimeStatus returns the local time status.
func (l *LRC) TimeStatus() timing.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.time
}

// QueuedTimestamped returns the number of timestamped messages waiting for a grant.
func (l *LRC) QueuedTimestamped() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.tso.Len()
}

// =============================================================================
// Requests
// =============================================================================

// EnableTimeRegulation makes the federate regulating. TimeRegulationEnabled is
// queued with the time the RTI enabled it at.
func (l *LRC) EnableTimeRegulation(ctx context.Context, lookahead hla.Time) error {
	l.mu.Lock()
	err := l.joinedLocked()
	if err == nil && l.time.Regulating {
		err = hla.Errorf(hla.KindTimeRegulationAlreadyEnabled, "%s", l.fed)
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}

	if !hla.ValidLookahead(lookahead) {
		return hla.Errorf(hla.KindInvalidLookahead, "lookahead %v", lookahead)
	}

	resp, err := l.request(ctx, &wire.TimeMessage{Kind: wire.TypeEnableTimeRegulation, Lookahead: lookahead})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.time.Regulating = true
	l.time.Lookahead = lookahead
	l.time.Time = resp.Time

	enabled := resp.Time
	l.callbacks.push("time-regulation-enabled", func(a Ambassador) { a.TimeRegulationEnabled(enabled) })

	return nil
}

// DisableTimeRegulation stops the federate from regulating.
func (l *LRC) DisableTimeRegulation(ctx context.Context) error {
	l.mu.Lock()
	err := l.joinedLocked()
	if err == nil && !l.time.Regulating {
		err = hla.Errorf(hla.KindTimeRegulationNotEnabled, "%s", l.fed)
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.TimeMessage{Kind: wire.TypeDisableTimeRegulation}); err != nil {
		return err
	}

	l.mu.Lock()
	l.time.Regulating = false
	l.mu.Unlock()

	return nil
}

// EnableTimeConstrained makes the federate constrained. From then on
// timestamped messages wait for a covering grant.
func (l *LRC) EnableTimeConstrained(ctx context.Context) error {
	l.mu.Lock()
	err := l.joinedLocked()
	if err == nil && l.time.Constrained {
		err = hla.Errorf(hla.KindTimeConstrainedAlreadyEnabled, "%s", l.fed)
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}

	resp, err := l.request(ctx, &wire.TimeMessage{Kind: wire.TypeEnableTimeConstrained})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.time.Constrained = true
	l.time.Time = resp.Time

	enabled := resp.Time
	l.callbacks.push("time-constrained-enabled", func(a Ambassador) { a.TimeConstrainedEnabled(enabled) })

	return nil
}

// DisableTimeConstrained releases every waiting message in receive order.
func (l *LRC) DisableTimeConstrained(ctx context.Context) error {
	l.mu.Lock()
	err := l.joinedLocked()
	if err == nil && !l.time.Constrained {
		err = hla.Errorf(hla.KindTimeConstrainedNotEnabled, "%s", l.fed)
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.TimeMessage{Kind: wire.TypeDisableTimeConstrained}); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.time.Constrained = false
	l.drainLocked()

	return nil
}

// TimeAdvanceRequest asks to advance to t. The grant arrives as a
// TimeAdvanceGrant callback, after every timestamped message up to t.
func (l *LRC) TimeAdvanceRequest(ctx context.Context, t hla.Time) error {
	l.mu.Lock()

	if err := l.joinedLocked(); err != nil {
		l.mu.Unlock()
		return err
	}

	switch {
	case l.time.Advancing:
		l.mu.Unlock()
		return hla.Errorf(hla.KindTimeAdvanceAlreadyInProgress, "advancing to %v", l.time.Requested)
	case t.IsNaN() || t < l.time.Time:
		l.mu.Unlock()
		return hla.Errorf(hla.KindInvalidLogicalTime, "requested %v is before current time %v", t, l.time.Time)
	}

	// the grant may arrive before the response
	l.time.Advancing = true
	l.time.Requested = t
	l.flushHeldLocked()
	l.mu.Unlock()

	if _, err := l.request(ctx, &wire.TimeMessage{Kind: wire.TypeTimeAdvanceRequest, Time: t}); err != nil {
		l.mu.Lock()
		if l.time.Advancing && l.time.Requested == t {
			l.time.Advancing = false
			l.time.Requested = l.time.Time
		}
		l.mu.Unlock()

		return err
	}

	return nil
}

// ModifyLookahead changes the lookahead of a regulating federate.
func (l *LRC) ModifyLookahead(ctx context.Context, lookahead hla.Time) error {
	l.mu.Lock()
	err := l.joinedLocked()
	if err == nil && !l.time.Regulating {
		err = hla.Errorf(hla.KindTimeRegulationNotEnabled, "%s", l.fed)
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}

	if !hla.ValidLookahead(lookahead) {
		return hla.Errorf(hla.KindInvalidLookahead, "lookahead %v", lookahead)
	}

	if _, err := l.request(ctx, &wire.TimeMessage{Kind: wire.TypeModifyLookahead, Lookahead: lookahead}); err != nil {
		return err
	}

	l.mu.Lock()
	l.time.Lookahead = lookahead
	l.mu.Unlock()

	return nil
}

// EnableAsynchronousDelivery lets receive-order messages through while a
// constrained federate is not advancing.
func (l *LRC) EnableAsynchronousDelivery() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.joinedLocked(); err != nil {
		return err
	}

	if l.time.AsyncDelivery {
		return hla.Errorf(hla.KindAsynchronousDeliveryAlreadyEnabled, "%s", l.fed)
	}

	l.time.AsyncDelivery = true
	l.flushHeldLocked()

	return nil
}

// DisableAsynchronousDelivery restores receive-order gating.
func (l *LRC) DisableAsynchronousDelivery() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.joinedLocked(); err != nil {
		return err
	}

	if !l.time.AsyncDelivery {
		return hla.Errorf(hla.KindAsynchronousDeliveryAlreadyDisabled, "%s", l.fed)
	}

	l.time.AsyncDelivery = false

	return nil
}

// =============================================================================
// Incoming
// =============================================================================

// grant applies a time advance grant: timestamped messages it covers are
// queued first, then the grant callback.
func (l *LRC) grant(t hla.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t < l.time.Time {
		logger.Warn("ignoring grant before current time", "federate", l.name, "grant", t, "time", l.time.Time)
		return
	}

	l.time.Time = t
	l.time.Requested = t
	l.time.Advancing = false

	l.releaseLocked(t)
	l.callbacks.push("time-advance-grant", func(a Ambassador) { a.TimeAdvanceGrant(t) })
}

// =============================================================================
// Checkpoint
// =============================================================================

// timeState saves the local time status. Waiting messages are transient.
type timeState struct {
	l *LRC
}

func (s timeState) Name() string {
	return "federate-time"
}

func (s timeState) Save() ([]byte, error) {
	s.l.mu.Lock()
	st := s.l.time
	s.l.mu.Unlock()

	return marshalYAML(st)
}

func (s timeState) Restore(data []byte) error {
	var st timing.Status
	if err := unmarshalYAML(data, &st); err != nil {
		return err
	}

	s.l.mu.Lock()
	defer s.l.mu.Unlock()

	s.l.time = st
	s.l.tso = nil
	s.l.held = nil

	return nil
}
