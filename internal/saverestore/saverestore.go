package saverestore

import (
	"sync"
	"time"

	"SimFed/internal/hla"
)

// Kind selects save or restore semantics.
type Kind uint8

// Kinds.
const (
	Save Kind = iota
	Restore
)

// String returns the kind name.
func (k Kind) String() string {
	if k == Restore {
		return "restore"
	}

	return "save"
}

// State is the progress of one federate through an operation.
type State uint8

// States.
const (
	None State = iota
	Requested
	Initiated
	Begun
	Complete
	NotComplete
)

var stateNames = [...]string{"NONE", "REQUESTED", "INITIATED", "BEGUN", "COMPLETE", "NOT_COMPLETE"}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "UNKNOWN"
}

// Terminal reports whether the federate finished its part.
func (s State) Terminal() bool {
	return s == Complete || s == NotComplete
}

// Initiation describes a committed operation.
type Initiation struct {
	Label      string             // Label names the checkpoint
	Registrant hla.FederateHandle // Registrant is the federate whose request won
}

// Manager tracks one federation-wide save or restore at a time.
//
// A save goes straight from Request to INITIATED for every federate. A restore
// request only enters REQUESTED; concurrent requests are resolved in favor of the
// lowest federate handle and Initiate commits the winner.
type Manager struct {
	kind Kind

	mu         sync.Mutex
	statuses   map[hla.FederateHandle]State
	label      string
	registrant hla.FederateHandle
	active     bool                          // active is set from initiation until Reset
	requests   map[hla.FederateHandle]string // requests holds restore requests awaiting Initiate
	timer      *time.Timer                   // timer is the pending settle timer
	closed     bool
}

// New creates an idle manager.
func New(kind Kind) *Manager {
	return &Manager{
		kind:     kind,
		statuses: make(map[hla.FederateHandle]State),
		requests: make(map[hla.FederateHandle]string),
	}
}

// Kind returns the operation kind.
func (m *Manager) Kind() Kind {
	return m.kind
}

func (m *Manager) inProgress() error {
	if m.kind == Restore {
		return hla.Errorf(hla.KindRestoreInProgress, "label %q", m.label)
	}

	return hla.Errorf(hla.KindSaveInProgress, "label %q", m.label)
}

func (m *Manager) notInitiated() error {
	return hla.Errorf(m.notInitiatedKind(), "no active %s", m.kind)
}

func (m *Manager) notInitiatedKind() hla.ErrorKind {
	if m.kind == Restore {
		return hla.KindRestoreNotInitiated
	}

	return hla.KindSaveNotInitiated
}

// =============================================================================
// Membership
// =============================================================================

// AddFederate registers a joined federate. A federate joining during an active
// operation takes part in it from INITIATED.
func (m *Manager) AddFederate(fed hla.FederateHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.active:
		m.statuses[fed] = Initiated
	case len(m.requests) > 0:
		m.statuses[fed] = Requested
	default:
		m.statuses[fed] = None
	}
}

// RemoveFederate forgets a resigned federate and reports whether its departure
// completed the active operation.
func (m *Manager) RemoveFederate(fed hla.FederateHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, fed)
	delete(m.requests, fed)

	if len(m.requests) > 0 && !m.active {
		m.pickWinner()
	}

	return m.active && m.complete()
}

// =============================================================================
// Requests
// =============================================================================

// Request starts an operation. For a save every federate becomes INITIATED at once.
// For a restore the request is queued; the lowest requesting handle holds the label.
func (m *Manager) Request(fed hla.FederateHandle, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return m.inProgress()
	}

	if _, ok := m.statuses[fed]; !ok {
		return hla.Errorf(hla.KindFederateNotExecutionMember, "%s", fed)
	}

	if m.kind == Save {
		m.label = label
		m.registrant = fed
		m.initiate()

		return nil
	}

	m.requests[fed] = label
	m.pickWinner()

	for f := range m.statuses {
		m.statuses[f] = Requested
	}

	return nil
}

// pickWinner selects the pending request of the lowest handle.
func (m *Manager) pickWinner() {
	first := true
	for fed, label := range m.requests {
		if first || fed < m.registrant {
			m.registrant = fed
			m.label = label
			first = false
		}
	}
}

func (m *Manager) initiate() {
	m.active = true
	m.requests = make(map[hla.FederateHandle]string)

	for f := range m.statuses {
		m.statuses[f] = Initiated
	}
}

// Pending reports whether restore requests are waiting for Initiate.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests) > 0
}

// Initiate commits the winning restore request.
func (m *Manager) Initiate() (Initiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initiateRequested()
}

func (m *Manager) initiateRequested() (Initiation, error) {
	if m.active {
		return Initiation{}, m.inProgress()
	}

	if len(m.requests) == 0 {
		return Initiation{}, hla.Errorf(hla.KindRestoreNotRequested, "no pending restore request")
	}

	m.initiate()

	return Initiation{Label: m.label, Registrant: m.registrant}, nil
}

// InitiateAfter commits pending restore requests once the settle window has passed,
// so requests arriving close together are resolved by handle and not by arrival.
// Only the first call of a window arms the timer; fn runs without the manager lock.
func (m *Manager) InitiateAfter(window time.Duration, fn func(Initiation, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.timer != nil {
		return
	}

	m.timer = time.AfterFunc(window, func() {
		m.mu.Lock()
		m.timer = nil
		if m.closed {
			m.mu.Unlock()
			return
		}

		init, err := m.initiateRequested()
		m.mu.Unlock()

		fn(init, err)
	})
}

// Close stops a pending settle timer. Later InitiateAfter calls are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// =============================================================================
// Per-federate progress
// =============================================================================

// Begun records that fed started its part.
func (m *Manager) Begun(fed hla.FederateHandle) error {
	return m.transition(fed, Begun)
}

// Complete records that fed finished its part successfully.
func (m *Manager) Complete(fed hla.FederateHandle) error {
	return m.transition(fed, Complete)
}

// NotComplete records that fed failed its part.
func (m *Manager) NotComplete(fed hla.FederateHandle) error {
	return m.transition(fed, NotComplete)
}

func (m *Manager) transition(fed hla.FederateHandle, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return m.notInitiated()
	}

	cur, ok := m.statuses[fed]
	if !ok {
		return hla.Errorf(hla.KindFederateNotExecutionMember, "%s", fed)
	}

	// a finished part stays finished until Reset
	if cur.Terminal() {
		return hla.Errorf(m.notInitiatedKind(), "%s %s is already %s", m.kind, fed, cur)
	}

	m.statuses[fed] = to

	return nil
}

// Abort marks every unfinished federate NOT_COMPLETE, so the operation completes
// unsuccessfully instead of hanging.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}

	for f, s := range m.statuses {
		if !s.Terminal() {
			m.statuses[f] = NotComplete
		}
	}
}

// Reset clears the operation and its label.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = false
	m.label = ""
	m.registrant = 0
	m.requests = make(map[hla.FederateHandle]string)

	for f := range m.statuses {
		m.statuses[f] = None
	}
}

// =============================================================================
// Queries
// =============================================================================

// Active reports whether an operation has been initiated and not reset.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

// Label returns the active or winning label.
func (m *Manager) Label() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.label
}

// Registrant returns the federate whose request is active or winning.
func (m *Manager) Registrant() hla.FederateHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registrant
}

// Status returns the state of one federate.
func (m *Manager) Status(fed hla.FederateHandle) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.statuses[fed]
}

// IsComplete reports whether every federate reached a terminal state.
func (m *Manager) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active && m.complete()
}

func (m *Manager) complete() bool {
	for _, s := range m.statuses {
		if !s.Terminal() {
			return false
		}
	}

	return true
}

// IsCompleteSuccessful reports whether every federate reached COMPLETE.
func (m *Manager) IsCompleteSuccessful() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return false
	}

	for _, s := range m.statuses {
		if s != Complete {
			return false
		}
	}

	return true
}

// Failed returns the federates that reported NOT_COMPLETE, in handle order.
func (m *Manager) Failed() []hla.FederateHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	failed := make(hla.HandleSet[hla.FederateHandle])
	for f, s := range m.statuses {
		if s == NotComplete {
			failed.Add(f)
		}
	}

	return failed.Sorted()
}
