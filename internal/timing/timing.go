package timing

import (
	"sync"

	"SimFed/internal/hla"
)

// Status is the time state of one federate.
type Status struct {
	Federate      hla.FederateHandle `yaml:"federate"`
	Time          hla.Time           `yaml:"time"`      // Time is the last granted time
	Requested     hla.Time           `yaml:"requested"` // Requested is the pending advance target
	Lookahead     hla.Time           `yaml:"lookahead"`
	Regulating    bool               `yaml:"regulating"`
	Constrained   bool               `yaml:"constrained"`
	AsyncDelivery bool               `yaml:"async_delivery"`
	Advancing     bool               `yaml:"advancing"` // Advancing is set between a request and its grant
}

// contribution is the earliest timestamp the federate may still send.
// A pending request promises nothing earlier than the requested time.
func (s *Status) contribution() hla.Time {
	if s.Advancing {
		return s.Requested + s.Lookahead
	}

	return s.Time + s.Lookahead
}

// Grant is a time advance grant to deliver.
type Grant struct {
	Federate hla.FederateHandle
	Time     hla.Time
}

// Manager owns the time status of every federate of a federation and decides grants.
// Methods that may unblock federates return the grants they issued; the caller
// delivers them asynchronously.
type Manager struct {
	mu       sync.Mutex
	statuses map[hla.FederateHandle]*Status
}

// New creates a manager with no federates.
func New() *Manager {
	return &Manager{statuses: make(map[hla.FederateHandle]*Status)}
}

// AddFederate registers a joined federate at time zero, neither regulating nor constrained.
func (m *Manager) AddFederate(fed hla.FederateHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.statuses[fed]; !ok {
		m.statuses[fed] = &Status{Federate: fed}
	}
}

// RemoveFederate drops a resigned federate; its LBTS contribution goes away.
func (m *Manager) RemoveFederate(fed hla.FederateHandle) []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.statuses[fed]; !ok {
		return nil
	}

	delete(m.statuses, fed)

	return m.sweep()
}

// Status returns a copy of a federate's status.
func (m *Manager) Status(fed hla.FederateHandle) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[fed]
	if !ok {
		return Status{}, false
	}

	return *s, true
}

// LBTS returns the federation lower bound on time stamp, +Inf with no regulating federate.
func (m *Manager) LBTS() hla.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lbts(hla.AllFederates)
}

// LBTSFor returns the bound seen by fed, which excludes fed's own contribution.
func (m *Manager) LBTSFor(fed hla.FederateHandle) hla.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lbts(fed)
}

func (m *Manager) lbts(exclude hla.FederateHandle) hla.Time {
	bound := hla.TimeInfinity
	for fed, s := range m.statuses {
		if fed == exclude || !s.Regulating {
			continue
		}

		bound = hla.MinTime(bound, s.contribution())
	}

	return bound
}

func (m *Manager) get(fed hla.FederateHandle) (*Status, error) {
	s, ok := m.statuses[fed]
	if !ok {
		return nil, hla.Errorf(hla.KindFederateNotExecutionMember, "%s", fed)
	}

	return s, nil
}

// =============================================================================
// Advance
// =============================================================================

// RequestAdvance records a time advance request and sweeps.
// Nothing changes when the request is rejected.
func (m *Manager) RequestAdvance(fed hla.FederateHandle, t hla.Time) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return nil, err
	}

	if s.Advancing {
		return nil, hla.Errorf(hla.KindTimeAdvanceAlreadyInProgress, "%s is advancing to %v", fed, s.Requested)
	}

	if t.IsNaN() || t < s.Time {
		return nil, hla.Errorf(hla.KindInvalidLogicalTime, "requested %v is before current time %v", t, s.Time)
	}

	s.Requested = t
	s.Advancing = true

	return m.sweep(), nil
}

// sweep grants every pending request the current bound allows, repeating until no
// grant changes the bound. Federates are visited in handle order.
func (m *Manager) sweep() []Grant {
	var grants []Grant

	for changed := true; changed; {
		changed = false

		for _, fed := range m.sortedFederates() {
			s := m.statuses[fed]
			if !s.Advancing || !m.canGrant(s) {
				continue
			}

			s.Time = s.Requested
			s.Advancing = false
			grants = append(grants, Grant{Federate: fed, Time: s.Time})
			changed = true
		}
	}

	return grants
}

func (m *Manager) canGrant(s *Status) bool {
	if !s.Constrained {
		return true
	}

	return s.Requested <= m.lbts(s.Federate)
}

func (m *Manager) sortedFederates() []hla.FederateHandle {
	set := make(hla.HandleSet[hla.FederateHandle], len(m.statuses))
	for fed := range m.statuses {
		set.Add(fed)
	}

	return set.Sorted()
}

// =============================================================================
// Regulation and constraint
// =============================================================================

// EnableRegulation makes fed regulating with the given lookahead and returns the
// federate time it was enabled at. The time is moved forward if needed so the
// federate cannot send into the past of a constrained federate.
func (m *Manager) EnableRegulation(fed hla.FederateHandle, lookahead hla.Time) (hla.Time, []Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return 0, nil, err
	}

	if s.Regulating {
		return 0, nil, hla.Errorf(hla.KindTimeRegulationAlreadyEnabled, "%s", fed)
	}

	if !hla.ValidLookahead(lookahead) {
		return 0, nil, hla.Errorf(hla.KindInvalidLookahead, "lookahead %v", lookahead)
	}

	if s.Advancing {
		return 0, nil, hla.Errorf(hla.KindTimeAdvanceAlreadyInProgress, "%s", fed)
	}

	floor := s.Time
	for other, o := range m.statuses {
		if other != fed && o.Constrained {
			floor = hla.MaxTime(floor, o.Time-lookahead)
		}
	}

	s.Time = floor
	s.Lookahead = lookahead
	s.Regulating = true

	return s.Time, m.sweep(), nil
}

// DisableRegulation removes fed's contribution to LBTS and sweeps once.
func (m *Manager) DisableRegulation(fed hla.FederateHandle) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return nil, err
	}

	if !s.Regulating {
		return nil, hla.Errorf(hla.KindTimeRegulationNotEnabled, "%s", fed)
	}

	s.Regulating = false

	return m.sweep(), nil
}

// EnableConstrained makes fed constrained and returns its current time.
func (m *Manager) EnableConstrained(fed hla.FederateHandle) (hla.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return 0, err
	}

	if s.Constrained {
		return 0, hla.Errorf(hla.KindTimeConstrainedAlreadyEnabled, "%s", fed)
	}

	if s.Advancing {
		return 0, hla.Errorf(hla.KindTimeAdvanceAlreadyInProgress, "%s", fed)
	}

	s.Constrained = true

	return s.Time, nil
}

// DisableConstrained lets fed advance freely; a pending request is granted by the sweep.
func (m *Manager) DisableConstrained(fed hla.FederateHandle) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return nil, err
	}

	if !s.Constrained {
		return nil, hla.Errorf(hla.KindTimeConstrainedNotEnabled, "%s", fed)
	}

	s.Constrained = false

	return m.sweep(), nil
}

// ModifyLookahead changes a regulating federate's lookahead. A reduction that would
// lower its contribution below the current LBTS is refused while any other federate
// is constrained, since those federates may already have been granted up to it.
func (m *Manager) ModifyLookahead(fed hla.FederateHandle, lookahead hla.Time) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return nil, err
	}

	if !s.Regulating {
		return nil, hla.Errorf(hla.KindTimeRegulationNotEnabled, "%s", fed)
	}

	if !hla.ValidLookahead(lookahead) {
		return nil, hla.Errorf(hla.KindInvalidLookahead, "lookahead %v", lookahead)
	}

	if lookahead < s.Lookahead && m.anyConstrained(fed) {
		current := m.lbts(hla.AllFederates)
		base := s.Time
		if s.Advancing {
			base = s.Requested
		}

		if base+lookahead < current {
			return nil, hla.Errorf(hla.KindInvalidLookahead, "lookahead %v would move LBTS back from %v to %v", lookahead, current, base+lookahead)
		}
	}

	s.Lookahead = lookahead

	return m.sweep(), nil
}

func (m *Manager) anyConstrained(exclude hla.FederateHandle) bool {
	for fed, s := range m.statuses {
		if fed != exclude && s.Constrained {
			return true
		}
	}

	return false
}

// =============================================================================
// Asynchronous delivery
// =============================================================================

// EnableAsyncDelivery lets a constrained federate receive receive-order messages
// while it is not advancing.
func (m *Manager) EnableAsyncDelivery(fed hla.FederateHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return err
	}

	if s.AsyncDelivery {
		return hla.Errorf(hla.KindAsynchronousDeliveryAlreadyEnabled, "%s", fed)
	}

	s.AsyncDelivery = true

	return nil
}

// DisableAsyncDelivery reverts EnableAsyncDelivery.
func (m *Manager) DisableAsyncDelivery(fed hla.FederateHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(fed)
	if err != nil {
		return err
	}

	if !s.AsyncDelivery {
		return hla.Errorf(hla.KindAsynchronousDeliveryAlreadyDisabled, "%s", fed)
	}

	s.AsyncDelivery = false

	return nil
}
