package rti

import (
	"sort"
	"sync"

	"SimFed/internal/checkpoint"
	"SimFed/internal/fom"
	"SimFed/internal/hla"
	"SimFed/internal/interest"
	"SimFed/internal/metrics"
	"SimFed/internal/repository"
	"SimFed/internal/saverestore"
	"SimFed/internal/timing"
)

// rtiName is the federate name the RTI signs and stores its own checkpoints under.
// No federate may join with it.
const rtiName = "rti"

// federate is a joined member.
type federate struct {
	handle    hla.FederateHandle
	name      string
	typ       string
	publicKey []byte // publicKey verifies the federate's save signatures
}

// syncPoint is a registered synchronization point.
type syncPoint struct {
	label    string
	tag      []byte
	members  hla.HandleSet[hla.FederateHandle]
	achieved hla.HandleSet[hla.FederateHandle]
}

// federation is one federation execution. Every field is guarded by mu; the
// components lock themselves as well so checkpoints can read them.
type federation struct {
	mu sync.Mutex

	name   string
	handle hla.FederationHandle
	model  *fom.Model

	interest   *interest.Manager
	repository *repository.Repository
	timing     *timing.Manager
	save       *saverestore.Manager
	restore    *saverestore.Manager

	federates  map[hla.FederateHandle]*federate
	next       hla.FederateHandle // next is the last assigned federate handle
	syncPoints map[string]*syncPoint

	certificate *checkpoint.Builder // certificate collects signatures of the active save
}

func newFederation(name string, handle hla.FederationHandle, model *fom.Model, cfg Config) *federation {
	return &federation{
		name:       name,
		handle:     handle,
		model:      model,
		interest:   interest.New(model, cfg.Overlap),
		repository: repository.New(model, cfg.TombstoneTTL),
		timing:     timing.New(),
		save:       saverestore.New(saverestore.Save),
		restore:    saverestore.New(saverestore.Restore),
		federates:  make(map[hla.FederateHandle]*federate),
		syncPoints: make(map[string]*syncPoint),
	}
}

// close releases timers and caches.
func (f *federation) close() {
	f.save.Close()
	f.restore.Close()
	f.repository.Close()
}

// manifest lists the components of the RTI's own checkpoint.
func (f *federation) manifest() (*checkpoint.Manifest, error) {
	return checkpoint.NewManifest(f.interest, f.repository, f.timing)
}

// federateByName returns the joined federate with a name.
func (f *federation) federateByName(name string) *federate {
	for _, m := range f.federates {
		if m.name == name {
			return m
		}
	}

	return nil
}

// handles returns the joined federate handles in ascending order.
func (f *federation) handles() []hla.FederateHandle {
	out := make([]hla.FederateHandle, 0, len(f.federates))
	for h := range f.federates {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// addFederate registers a member with every coordinator.
func (f *federation) addFederate(m *federate) {
	f.federates[m.handle] = m

	if m.handle > f.next {
		f.next = m.handle
	}

	f.timing.AddFederate(m.handle)
	f.save.AddFederate(m.handle)
	f.restore.AddFederate(m.handle)

	metrics.SetFederates(f.name, len(f.federates))
}

func (f *federation) status() FederationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := FederationStatus{
		Name:      f.name,
		Handle:    f.handle,
		Objects:   f.repository.Len(),
		Federates: make([]FederateStatus, 0, len(f.federates)),
	}

	for _, h := range f.handles() {
		m := f.federates[h]
		fs := FederateStatus{Handle: h, Name: m.name, Type: m.typ}

		if ts, ok := f.timing.Status(h); ok {
			fs.Time = float64(ts.Time)
			fs.Lookahead = float64(ts.Lookahead)
			fs.Regulating = ts.Regulating
			fs.Constrained = ts.Constrained
			fs.Advancing = ts.Advancing
		}

		st.Federates = append(st.Federates, fs)
	}

	if lbts := f.timing.LBTS(); !lbts.IsInfinite() {
		v := float64(lbts)
		st.LBTS = &v
	}

	for label := range f.syncPoints {
		st.SyncPoints = append(st.SyncPoints, label)
	}

	sort.Strings(st.SyncPoints)

	if f.save.Active() {
		st.Save = f.save.Label()
	}

	if f.restore.Active() {
		st.Restore = f.restore.Label()
	}

	return st
}
