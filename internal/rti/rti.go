// Package rti implements the central runtime infrastructure.
//
// The RTI is federate 0 of every federation it hosts. It owns the authoritative
// declarations, object repository, time state and save/restore coordination of
// each federation and answers the ControlSync requests of the local runtimes.
// Data messages travel directly between federates and are never handled here.
package rti

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"SimFed/internal/channel"
	"SimFed/internal/checkpoint"
	"SimFed/internal/hla"
	"SimFed/internal/interest"
	"SimFed/internal/logger"
	"SimFed/internal/network"
	"SimFed/internal/sink"
	"SimFed/internal/timing"
	"SimFed/internal/wire"
)

// Config holds the RTI settings.
type Config struct {
	Channel      channel.Options          // Channel configures the protocol stack
	Store        *checkpoint.Store        // Store keeps checkpoints and certificates; nil disables save and restore
	Key          *checkpoint.KeyPair      // Key signs the RTI's own checkpoints; nil generates one
	SaveSettle   time.Duration            // SaveSettle is the restore request settle window
	TombstoneTTL time.Duration            // TombstoneTTL is how long deleted object handles are remembered
	Overlap      interest.RegionPredicate // Overlap decides DDM region overlap; nil uses name equality
}

// RTI hosts federation executions.
type RTI struct {
	cfg     Config
	key     *checkpoint.KeyPair
	sinks   *sink.Registry
	channel *channel.Channel

	mu          sync.RWMutex
	federations map[string]*federation
	byHandle    map[hla.FederationHandle]*federation
	next        hla.FederationHandle // next is the last assigned federation handle
}

// New starts an RTI on a transport. The transport stays owned by the caller.
func New(tr network.Transport, cfg Config) (*RTI, error) {
	if cfg.Channel.Name == "" {
		cfg.Channel.Name = "rti"
	}

	if cfg.SaveSettle < 0 {
		cfg.SaveSettle = 0
	}

	key := cfg.Key
	if key == nil {
		var err error
		if key, err = checkpoint.GenerateKey(); err != nil {
			return nil, fmt.Errorf("generate rti key:\n%w", err)
		}
	}

	r := &RTI{
		cfg:         cfg,
		key:         key,
		sinks:       sink.NewRegistry(),
		federations: make(map[string]*federation),
		byHandle:    make(map[hla.FederationHandle]*federation),
	}

	r.register()

	ch, err := channel.New(tr, cfg.Channel, r.sinks.Serve)
	if err != nil {
		return nil, fmt.Errorf("open rti channel:\n%w", err)
	}

	r.channel = ch

	logger.Info("rti started", "channel", cfg.Channel.Name, "save_enabled", cfg.Store != nil)

	return r, nil
}

// Close stops the channel and the timers of every federation. The channel goes
// first so a handler blocked on a full outgoing queue fails and releases its
// federation.
func (r *RTI) Close() error {
	err := r.channel.Close()

	r.mu.Lock()
	feds := make([]*federation, 0, len(r.federations))
	for _, f := range r.federations {
		feds = append(feds, f)
	}
	r.mu.Unlock()

	for _, f := range feds {
		f.mu.Lock()
		f.close()
		f.mu.Unlock()
	}

	logger.Info("rti stopped", "federations", len(feds))

	return err
}

// register fills the handler table.
func (r *RTI) register() {
	reg := r.sinks
	rti := func() hla.FederateHandle { return hla.RTIFederate }

	reg.Register(sink.Incoming, sink.VetoIfMessageFromUs(rti))
	reg.Register(sink.Incoming, sink.Func("veto-not-for-rti", sink.GuardPriority, func(ctx *sink.Context) error {
		switch {
		case ctx.Header.Call == wire.DataMessage:
			ctx.Veto("data message")
		case ctx.Header.Target != hla.RTIFederate:
			ctx.Veto("addressed to " + ctx.Header.Target.String())
		}

		return nil
	}))

	// federation management
	reg.Register(sink.Incoming, sink.Func("create-federation", sink.DefaultPriority, r.createFederation), wire.TypeCreateFederation)
	reg.Register(sink.Incoming, sink.Func("destroy-federation", sink.DefaultPriority, r.destroyFederation), wire.TypeDestroyFederation)
	reg.Register(sink.Incoming, sink.Func("join-federation", sink.DefaultPriority, r.joinFederation), wire.TypeJoinFederation)
	reg.Register(sink.Incoming, r.member("resign-federation", r.resignFederation), wire.TypeResignFederation)

	// declarations
	reg.Register(sink.Incoming, r.member("declare-object-class", r.declareObjectClass),
		wire.TypePublishObjectClass, wire.TypeUnpublishObjectClass,
		wire.TypeSubscribeObjectClass, wire.TypeUnsubscribeObjectClass)
	reg.Register(sink.Incoming, r.member("declare-interaction", r.declareInteraction),
		wire.TypePublishInteraction, wire.TypeUnpublishInteraction,
		wire.TypeSubscribeInteraction, wire.TypeUnsubscribeInteraction)

	// objects and ownership
	reg.Register(sink.Incoming, r.member("reserve-name", r.reserveName), wire.TypeReserveObjectName)
	reg.Register(sink.Incoming, r.member("register-object", r.registerObject), wire.TypeRegisterObject)
	reg.Register(sink.Incoming, r.member("delete-object", r.deleteObject), wire.TypeDeleteObject)
	reg.Register(sink.Incoming, r.member("divest", r.divest), wire.TypeDivestOwnership)
	reg.Register(sink.Incoming, r.member("acquire", r.acquire), wire.TypeAcquireOwnership)

	// time
	reg.Register(sink.Incoming, r.member("time", r.timeRequest),
		wire.TypeEnableTimeRegulation, wire.TypeDisableTimeRegulation,
		wire.TypeEnableTimeConstrained, wire.TypeDisableTimeConstrained,
		wire.TypeTimeAdvanceRequest, wire.TypeModifyLookahead)

	// synchronization points
	reg.Register(sink.Incoming, r.member("register-sync-point", r.registerSyncPoint), wire.TypeRegisterSyncPoint)
	reg.Register(sink.Incoming, r.member("sync-point-achieved", r.syncPointAchieved), wire.TypeSyncPointAchieved)

	// save and restore
	reg.Register(sink.Incoming, r.member("request-save", r.requestSave), wire.TypeRequestSave)
	reg.Register(sink.Incoming, r.member("save-begun", r.saveBegun), wire.TypeSaveBegun)
	reg.Register(sink.Incoming, r.member("save-complete", r.saveComplete), wire.TypeSaveComplete)
	reg.Register(sink.Incoming, r.member("save-not-complete", r.saveNotComplete), wire.TypeSaveNotComplete)
	reg.Register(sink.Incoming, r.member("request-restore", r.requestRestore), wire.TypeRequestRestore)
	reg.Register(sink.Incoming, r.member("restore-complete", r.restoreComplete), wire.TypeRestoreComplete)
	reg.Register(sink.Incoming, r.member("restore-not-complete", r.restoreNotComplete), wire.TypeRestoreNotComplete)

	// callbacks flow from the RTI only
	reg.Register(sink.Incoming, sink.Func("not-a-request", sink.DefaultPriority, func(ctx *sink.Context) error {
		return hla.Errorf(hla.KindMalformedMessage, "%s is not a request", ctx.Msg.Type())
	}),
		wire.TypeDiscoverObject, wire.TypeRemoveObject, wire.TypeTimeAdvanceGrant,
		wire.TypeAnnounceSyncPoint, wire.TypeFederationSynchronized,
		wire.TypeInitiateSave, wire.TypeFederationSaved,
		wire.TypeInitiateRestore, wire.TypeFederationRestored)
}

// memberFunc handles a request of a joined federate with the federation locked.
type memberFunc func(f *federation, fed hla.FederateHandle, ctx *sink.Context) error

// member resolves the federation of a request and checks that its source is joined.
func (r *RTI) member(name string, fn memberFunc) sink.Handler {
	return sink.Func(name, sink.DefaultPriority, func(ctx *sink.Context) error {
		r.mu.RLock()
		f, ok := r.byHandle[ctx.Header.Federation]
		r.mu.RUnlock()

		if !ok {
			return hla.Errorf(hla.KindFederationExecutionDoesNotExist, "handle %d", ctx.Header.Federation)
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		fed := ctx.Header.Source
		if _, joined := f.federates[fed]; !joined {
			return hla.Errorf(hla.KindFederateNotExecutionMember, "%s in %s", fed, f.name)
		}

		return fn(f, fed, ctx)
	})
}

// =============================================================================
// Outgoing callbacks
// =============================================================================

// notify sends an asynchronous callback to one federate or to all of them.
func (r *RTI) notify(f *federation, to hla.FederateHandle, msg wire.Message) error {
	h := wire.Header{
		Call:       wire.ControlAsync,
		Federation: f.handle,
		Source:     hla.RTIFederate,
		Target:     to,
	}

	if err := r.channel.Send(h, msg); err != nil {
		logger.Warn("callback not sent",
			"federation", f.name,
			"type", msg.Type(),
			"target", to,
			"error", err,
		)

		return err
	}

	return nil
}

// deliverGrants sends issued time advance grants.
func (r *RTI) deliverGrants(f *federation, grants []timing.Grant) {
	for _, g := range grants {
		_ = r.notify(f, g.Federate, &wire.TimeMessage{Kind: wire.TypeTimeAdvanceGrant, Time: g.Time})
	}
}

// broadcast notifies every joined federate with a single frame.
func (r *RTI) broadcast(f *federation, msg wire.Message) error {
	return r.notify(f, hla.AllFederates, msg)
}

// =============================================================================
// Status
// =============================================================================

// FederateStatus describes one joined federate.
type FederateStatus struct {
	Handle      hla.FederateHandle `json:"handle"`
	Name        string             `json:"name"`
	Type        string             `json:"type,omitempty"`
	Time        float64            `json:"time"`
	Lookahead   float64            `json:"lookahead"`
	Regulating  bool               `json:"regulating"`
	Constrained bool               `json:"constrained"`
	Advancing   bool               `json:"advancing"`
}

// FederationStatus describes one federation execution.
type FederationStatus struct {
	Name       string               `json:"name"`
	Handle     hla.FederationHandle `json:"handle"`
	Federates  []FederateStatus     `json:"federates"`
	Objects    int                  `json:"objects"`
	LBTS       *float64             `json:"lbts,omitempty"` // LBTS is absent while no federate regulates
	SyncPoints []string             `json:"sync_points,omitempty"`
	Save       string               `json:"save,omitempty"`    // Save is the label of the active save
	Restore    string               `json:"restore,omitempty"` // Restore is the label of the active restore
}

// Status describes every federation, sorted by name.
func (r *RTI) Status() []FederationStatus {
	r.mu.RLock()
	feds := make([]*federation, 0, len(r.federations))
	for _, f := range r.federations {
		feds = append(feds, f)
	}
	r.mu.RUnlock()

	out := make([]FederationStatus, 0, len(feds))
	for _, f := range feds {
		out = append(out, f.status())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Federation describes one federation by name.
func (r *RTI) Federation(name string) (FederationStatus, bool) {
	r.mu.RLock()
	f, ok := r.federations[name]
	r.mu.RUnlock()

	if !ok {
		return FederationStatus{}, false
	}

	return f.status(), true
}

