// Package lrc is the local runtime of one federate.
//
// An LRC joins a federation through the RTI and keeps a local view of the
// federation: the instances its federate knows, its own declarations and its
// time status. Application calls are validated by the outgoing sink before
// they leave; frames from the RTI and from peer federates run through the
// incoming sink, which filters them, gates timestamped messages on time
// grants and queues callbacks for the application to Evoke.
package lrc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SimFed/internal/channel"
	"SimFed/internal/checkpoint"
	"SimFed/internal/fom"
	"SimFed/internal/hla"
	"SimFed/internal/interest"
	"SimFed/internal/logger"
	"SimFed/internal/network"
	"SimFed/internal/repository"
	"SimFed/internal/sink"
	"SimFed/internal/timing"
	"SimFed/internal/wire"
)

// Config configures an LRC.
type Config struct {
	Channel      channel.Options          // Channel configures the channel to the federation
	FederateName string                   // FederateName is unique within a federation, generated when empty
	FederateType string                   // FederateType is informational
	Key          *checkpoint.KeyPair      // Key signs saves, generated when nil
	Store        *checkpoint.Store        // Store keeps this federate's checkpoints, nil disables saving
	TombstoneTTL time.Duration            // TombstoneTTL is how long deleted instances are remembered
	Overlap      interest.RegionPredicate // Overlap decides region matches, nil for interest.RegionsOverlap
	Components   []checkpoint.Component   // Components are application state saved with the federate
}

// LRC is the local runtime component of one federate.
type LRC struct {
	cfg        Config
	key        *checkpoint.KeyPair
	ambassador Ambassador
	sinks      *sink.Registry
	channel    *channel.Channel
	callbacks  *queue

	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	fed        hla.FederateHandle   // fed is AllFederates while not joined
	federation hla.FederationHandle // federation is NoFederation while not joined
	fedName    string               // fedName is the joined federation's name
	name       string               // name is the federate name granted by the RTI
	model      *fom.Model
	repository *repository.Repository
	interest   *interest.Manager

	time timing.Status
	tso  tsoQueue   // tso holds timestamped messages until a grant covers them
	held []delivery // held holds receive-order messages until the federate advances
	seq  uint64

	announced map[string]bool // announced holds sync points awaiting synchronization
	saving    string          // saving is the label of the active save
	restoring string          // restoring is the label of the active restore
}

// New creates an LRC speaking over tr. Callbacks go to amb.
func New(tr network.Transport, cfg Config, amb Ambassador) (*LRC, error) {
	if amb == nil {
		amb = BaseAmbassador{}
	}

	if cfg.Channel.Name == "" {
		cfg.Channel.Name = "lrc"
	}

	key := cfg.Key
	if key == nil {
		var err error
		if key, err = checkpoint.GenerateKey(); err != nil {
			return nil, fmt.Errorf("generate federate key:\n%w", err)
		}
	}

	l := &LRC{
		cfg:        cfg,
		key:        key,
		ambassador: amb,
		sinks:      sink.NewRegistry(),
		callbacks:  newQueue(),
		closed:     make(chan struct{}),
		fed:        hla.AllFederates,
		federation: hla.NoFederation,
		announced:  make(map[string]bool),
	}

	l.registerOutgoing()
	l.registerIncoming()

	ch, err := channel.New(tr, cfg.Channel, l.sinks.Serve)
	if err != nil {
		return nil, fmt.Errorf("open lrc channel:\n%w", err)
	}

	l.channel = ch

	return l, nil
}

// Close stops the channel. A joined federate is not resigned.
func (l *LRC) Close() error {
	var err error

	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.channel.Close()

		l.mu.Lock()
		if l.repository != nil {
			l.repository.Close()
		}
		l.mu.Unlock()
	})

	return err
}

// Handle returns the federate handle, AllFederates when not joined.
func (l *LRC) Handle() hla.FederateHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.fed
}

// Name returns the federate name granted at join.
func (l *LRC) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.name
}

// Model returns the object model of the joined federation, nil when not joined.
func (l *LRC) Model() *fom.Model {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.model
}

// Object returns the local view of an instance, nil when unknown.
func (l *LRC) Object(obj hla.ObjectHandle) *repository.Instance {
	l.mu.Lock()
	repo := l.repository
	l.mu.Unlock()

	if repo == nil {
		return nil
	}

	return repo.Object(obj)
}

func (l *LRC) self() hla.FederateHandle {
	return l.Handle()
}

func (l *LRC) federationHandle() hla.FederationHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.federation
}

// joinedLocked fails unless the federate is joined.
func (l *LRC) joinedLocked() error {
	if l.fed == hla.AllFederates {
		return hla.Errorf(hla.KindFederateNotExecutionMember, "not joined")
	}

	return nil
}

// view returns the local components of a joined federate.
func (l *LRC) view() (hla.FederateHandle, *repository.Repository, *interest.Manager, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.joinedLocked(); err != nil {
		return 0, nil, nil, err
	}

	return l.fed, l.repository, l.interest, nil
}

// =============================================================================
// Transport
// =============================================================================

func (l *LRC) header(target hla.FederateHandle) wire.Header {
	l.mu.Lock()
	defer l.mu.Unlock()

	return wire.Header{Federation: l.federation, Source: l.fed, Target: target}
}

// request sends a request to the RTI and waits for the answer.
func (l *LRC) request(ctx context.Context, msg wire.Message) (*wire.Response, error) {
	return l.channel.Request(ctx, l.header(hla.RTIFederate), msg)
}

// notify sends a fire-and-forget notice to the RTI.
func (l *LRC) notify(msg wire.Message) error {
	h := l.header(hla.RTIFederate)
	h.Call = wire.ControlAsync

	return l.channel.Send(h, msg)
}

// send runs a data message through the outgoing sink and broadcasts it to the
// federation.
func (l *LRC) send(msg wire.Message) error {
	h := l.header(hla.AllFederates)
	h.Call = wire.DataMessage

	ctx := sink.NewContext(h, msg)
	if err := l.sinks.Dispatch(sink.Outgoing, ctx); err != nil {
		return err
	}

	if ctx.Vetoed() {
		return nil
	}

	return l.channel.Send(ctx.Header, ctx.Msg)
}

// =============================================================================
// Federation management
// =============================================================================

// CreateFederationExecution creates a federation from a YAML object model.
func (l *LRC) CreateFederationExecution(ctx context.Context, name string, model []byte) error {
	if _, err := l.request(ctx, &wire.CreateFederation{Name: name, Model: model}); err != nil {
		return fmt.Errorf("create federation %q:\n%w", name, err)
	}

	return nil
}

// DestroyFederationExecution destroys a federation nobody is joined to.
func (l *LRC) DestroyFederationExecution(ctx context.Context, name string) error {
	if _, err := l.request(ctx, &wire.DestroyFederation{Name: name}); err != nil {
		return fmt.Errorf("destroy federation %q:\n%w", name, err)
	}

	return nil
}

// JoinFederationExecution joins a federation and builds the local view from
// the model the RTI returns.
func (l *LRC) JoinFederationExecution(ctx context.Context, federation string) (hla.FederateHandle, error) {
	l.mu.Lock()
	if l.fed != hla.AllFederates {
		l.mu.Unlock()
		return 0, hla.Errorf(hla.KindFederateAlreadyExecutionMember, "already joined %q", l.fedName)
	}
	l.mu.Unlock()

	resp, err := l.request(ctx, &wire.JoinFederation{
		Federation:   federation,
		FederateName: l.cfg.FederateName,
		FederateType: l.cfg.FederateType,
		PublicKey:    l.key.PublicKey(),
	})
	if err != nil {
		return 0, fmt.Errorf("join %q:\n%w", federation, err)
	}

	if len(resp.Handles) == 0 {
		return 0, hla.Errorf(hla.KindMalformedMessage, "join response without federation handle")
	}

	model, err := fom.Parse(resp.Data)
	if err != nil {
		return 0, hla.Wrap(hla.KindCouldNotOpenObjectModel, err, federation)
	}

	fed := hla.FederateHandle(resp.Handle)

	l.mu.Lock()
	l.fed = fed
	l.federation = hla.FederationHandle(resp.Handles[0])
	l.fedName = federation
	l.name = resp.Text
	l.model = model
	l.repository = repository.New(model, l.cfg.TombstoneTTL)
	l.interest = interest.New(model, l.cfg.Overlap)
	l.time = timing.Status{Federate: fed}
	l.tso = nil
	l.held = nil
	l.announced = make(map[string]bool)
	l.saving, l.restoring = "", ""
	l.mu.Unlock()

	logger.Info("joined federation",
		"federation", federation,
		"federate", resp.Text,
		"handle", fed,
	)

	return fed, nil
}

// ResignFederationExecution leaves the federation, applying action to the
// federate's objects. The local view is dropped.
func (l *LRC) ResignFederationExecution(ctx context.Context, action hla.ResignAction) error {
	l.mu.Lock()
	err := l.joinedLocked()
	l.mu.Unlock()

	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.ResignFederation{Action: action}); err != nil {
		return fmt.Errorf("resign:\n%w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	logger.Info("resigned federation", "federation", l.fedName, "federate", l.name, "action", action)

	l.repository.Close()

	l.fed = hla.AllFederates
	l.federation = hla.NoFederation
	l.fedName, l.name = "", ""
	l.model, l.repository, l.interest = nil, nil, nil
	l.time = timing.Status{}
	l.tso, l.held = nil, nil

	return nil
}
