package repository

import (
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"SimFed/internal/fom"
	"SimFed/internal/hla"
)

// DefaultTombstoneTTL is how long a deleted handle is remembered.
const DefaultTombstoneTTL = 30 * time.Second

// Instance is a registered object instance.
// Values returned by the repository are snapshots; mutate through Repository methods.
type Instance struct {
	Handle     hla.ObjectHandle      // Handle is unique within the federation
	Class      hla.ObjectClassHandle // Class is the registered class, or the discovered class in an LRC view
	Name       string                // Name is unique within the federation
	Registrant hla.FederateHandle    // Registrant is the federate that registered the instance

	Owners     map[hla.AttributeHandle]hla.FederateHandle // Owners maps owned attributes to their owner
	Discovered map[hla.FederateHandle]hla.ObjectClassHandle // Discovered maps federates to the class they know the instance as
	Regions    map[hla.AttributeHandle]string              // Regions holds per attribute DDM regions
}

func (i *Instance) clone() *Instance {
	out := *i
	out.Owners = make(map[hla.AttributeHandle]hla.FederateHandle, len(i.Owners))
	for a, f := range i.Owners {
		out.Owners[a] = f
	}

	out.Discovered = make(map[hla.FederateHandle]hla.ObjectClassHandle, len(i.Discovered))
	for f, c := range i.Discovered {
		out.Discovered[f] = c
	}

	out.Regions = make(map[hla.AttributeHandle]string, len(i.Regions))
	for a, r := range i.Regions {
		out.Regions[a] = r
	}

	return &out
}

// OwnedBy returns the attributes fed owns.
func (i *Instance) OwnedBy(fed hla.FederateHandle) hla.HandleSet[hla.AttributeHandle] {
	out := make(hla.HandleSet[hla.AttributeHandle])
	for a, f := range i.Owners {
		if f == fed {
			out.Add(a)
		}
	}

	return out
}

// Repository is a table of live object instances. The RTI holds the federation-wide
// one, each LRC holds a view limited to the instances its federate knows.
type Repository struct {
	mu    sync.RWMutex
	model *fom.Model

	objects  map[hla.ObjectHandle]*Instance
	names    map[string]hla.ObjectHandle   // names holds instance names in use
	reserved map[string]hla.FederateHandle // reserved holds granted, unused reservations
	next     hla.ObjectHandle              // next is the last assigned handle

	tombstones *ttlcache.Cache[hla.ObjectHandle, hla.ObjectClassHandle]
	closeOnce  sync.Once
}

// New creates an empty repository. A zero ttl selects DefaultTombstoneTTL.
func New(model *fom.Model, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTombstoneTTL
	}

	r := &Repository{
		model: model,
		tombstones: ttlcache.New[hla.ObjectHandle, hla.ObjectClassHandle](
			ttlcache.WithTTL[hla.ObjectHandle, hla.ObjectClassHandle](ttl),
			ttlcache.WithDisableTouchOnHit[hla.ObjectHandle, hla.ObjectClassHandle](),
		),
	}
	r.reset()

	go r.tombstones.Start()

	return r
}

func (r *Repository) reset() {
	r.objects = make(map[hla.ObjectHandle]*Instance)
	r.names = make(map[string]hla.ObjectHandle)
	r.reserved = make(map[string]hla.FederateHandle)
	r.next = 0
}

// Close stops the tombstone expiry loop.
func (r *Repository) Close() {
	r.closeOnce.Do(r.tombstones.Stop)
}

// Len returns the number of live instances.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.objects)
}

// =============================================================================
// Names
// =============================================================================

// ReserveName grants a name to fed. A name already reserved or in use is refused.
func (r *Repository) ReserveName(name string, fed hla.FederateHandle) error {
	if name == "" || isGeneratedName(name) {
		return hla.Errorf(hla.KindObjectInstanceNameInUse, "name %q is not reservable", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(name) {
		return hla.Errorf(hla.KindObjectInstanceNameInUse, "name %q", name)
	}

	r.reserved[name] = fed

	return nil
}

// IsNameReservedOrInUse reports whether a name is unavailable.
func (r *Repository) IsNameReservedOrInUse(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.nameTaken(name)
}

func (r *Repository) nameTaken(name string) bool {
	if _, ok := r.names[name]; ok {
		return true
	}

	_, ok := r.reserved[name]

	return ok
}

func generatedName(h hla.ObjectHandle) string {
	return fmt.Sprintf("HLAobject%d", h)
}

func isGeneratedName(name string) bool {
	var n uint32
	_, err := fmt.Sscanf(name, "HLAobject%d", &n)

	return err == nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// CreateObject registers a new instance owned entirely by owner.
// A non-empty name must have been reserved by owner; an empty name is generated.
func (r *Repository) CreateObject(class hla.ObjectClassHandle, name string, owner hla.FederateHandle) (*Instance, error) {
	cls := r.model.ObjectClass(class)
	if cls == nil {
		return nil, hla.Errorf(hla.KindObjectClassNotDefined, "class %d", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		if _, used := r.names[name]; used {
			return nil, hla.Errorf(hla.KindObjectInstanceNameInUse, "name %q", name)
		}

		if holder, ok := r.reserved[name]; !ok || holder != owner {
			return nil, hla.Errorf(hla.KindObjectInstanceNameNotReserved, "name %q", name)
		}
	}

	r.next++
	h := r.next

	if name == "" {
		name = generatedName(h)
	}

	inst := &Instance{
		Handle:     h,
		Class:      class,
		Name:       name,
		Registrant: owner,
		Owners:     make(map[hla.AttributeHandle]hla.FederateHandle),
		Discovered: map[hla.FederateHandle]hla.ObjectClassHandle{owner: class},
		Regions:    make(map[hla.AttributeHandle]string),
	}

	for a := range cls.Attributes() {
		inst.Owners[a] = owner
	}

	delete(r.reserved, name)
	r.names[name] = h
	r.objects[h] = inst

	return inst.clone(), nil
}

// AddObject inserts an instance created elsewhere, such as a discovery in an LRC view.
// It returns false when the handle is already known, which makes discovery idempotent.
func (r *Repository) AddObject(inst *Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[inst.Handle]; ok {
		return false
	}

	stored := inst.clone()
	r.objects[inst.Handle] = stored
	r.names[inst.Name] = inst.Handle
	delete(r.reserved, inst.Name)

	if inst.Handle > r.next {
		r.next = inst.Handle
	}

	return true
}

// Object returns a snapshot of an instance, or nil.
func (r *Repository) Object(h hla.ObjectHandle) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst := r.objects[h]
	if inst == nil {
		return nil
	}

	return inst.clone()
}

// ObjectByName returns a snapshot of the named instance, or nil.
func (r *Repository) ObjectByName(name string) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.names[name]
	if !ok {
		return nil
	}

	return r.objects[h].clone()
}

// ContainsObject reports whether the handle is live.
func (r *Repository) ContainsObject(h hla.ObjectHandle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.objects[h]

	return ok
}

// DeleteObject removes an instance and leaves a tombstone. It returns the removed
// instance, or nil when the handle was not live.
func (r *Repository) DeleteObject(h hla.ObjectHandle) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteLocked(h)
}

func (r *Repository) deleteLocked(h hla.ObjectHandle) *Instance {
	inst := r.objects[h]
	if inst == nil {
		return nil
	}

	delete(r.objects, h)
	delete(r.names, inst.Name)
	r.tombstones.Set(h, inst.Class, ttlcache.DefaultTTL)

	return inst
}

// WasDeleted reports whether the handle was deleted recently.
func (r *Repository) WasDeleted(h hla.ObjectHandle) bool {
	return r.tombstones.Has(h)
}

// CanDelete checks that fed holds the privilege to delete the instance. Classes
// without the privilege attribute fall back to sole ownership of every owned attribute.
func (r *Repository) CanDelete(h hla.ObjectHandle, fed hla.FederateHandle) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.canDeleteLocked(h, fed)
}

func (r *Repository) canDeleteLocked(h hla.ObjectHandle, fed hla.FederateHandle) error {
	inst := r.objects[h]
	if inst == nil {
		return hla.Errorf(hla.KindObjectNotKnown, "object %d", h)
	}

	priv := r.model.PrivilegeToDelete()
	if cls := r.model.ObjectClass(inst.Class); cls != nil && cls.Attribute(priv) != nil {
		if owner, ok := inst.Owners[priv]; ok && owner == fed {
			return nil
		}

		return hla.Errorf(hla.KindDeletePrivilegeNotHeld, "object %d by %s", h, fed)
	}

	if len(inst.Owners) == 0 {
		return hla.Errorf(hla.KindDeletePrivilegeNotHeld, "object %d has no owner", h)
	}

	for _, owner := range inst.Owners {
		if owner != fed {
			return hla.Errorf(hla.KindDeletePrivilegeNotHeld, "object %d is shared", h)
		}
	}

	return nil
}

// DeleteBy checks the privilege and deletes in one step.
func (r *Repository) DeleteBy(h hla.ObjectHandle, fed hla.FederateHandle) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.canDeleteLocked(h, fed); err != nil {
		return nil, err
	}

	return r.deleteLocked(h), nil
}

// AllInstances returns snapshots of every instance of the class or its subclasses.
func (r *Repository) AllInstances(class hla.ObjectClassHandle) []*Instance {
	classes := make(hla.HandleSet[hla.ObjectClassHandle])
	for _, c := range r.model.ObjectSubclasses(class) {
		classes.Add(c.Handle)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Instance
	for _, h := range r.sortedHandles() {
		if inst := r.objects[h]; classes.Contains(inst.Class) {
			out = append(out, inst.clone())
		}
	}

	return out
}

// ObjectsOwnedBy returns the handles of instances where fed owns any attribute.
func (r *Repository) ObjectsOwnedBy(fed hla.FederateHandle) []hla.ObjectHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []hla.ObjectHandle
	for _, h := range r.sortedHandles() {
		if len(r.objects[h].OwnedBy(fed)) > 0 {
			out = append(out, h)
		}
	}

	return out
}

func (r *Repository) sortedHandles() []hla.ObjectHandle {
	set := make(hla.HandleSet[hla.ObjectHandle], len(r.objects))
	for h := range r.objects {
		set.Add(h)
	}

	return set.Sorted()
}

// =============================================================================
// Discovery
// =============================================================================

// MarkDiscovered records that fed knows the instance as class.
// It returns false when fed already discovered it.
func (r *Repository) MarkDiscovered(h hla.ObjectHandle, fed hla.FederateHandle, class hla.ObjectClassHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.objects[h]
	if inst == nil {
		return false
	}

	if _, ok := inst.Discovered[fed]; ok {
		return false
	}

	inst.Discovered[fed] = class

	return true
}

// Discoverers returns the federates that know the instance, with their class.
func (r *Repository) Discoverers(h hla.ObjectHandle) map[hla.FederateHandle]hla.ObjectClassHandle {
	inst := r.Object(h)
	if inst == nil {
		return nil
	}

	return inst.Discovered
}

// =============================================================================
// Ownership
// =============================================================================

// Owner returns the owner of an attribute.
func (r *Repository) Owner(h hla.ObjectHandle, attr hla.AttributeHandle) (hla.FederateHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst := r.objects[h]
	if inst == nil {
		return 0, false
	}

	owner, ok := inst.Owners[attr]

	return owner, ok
}

// CheckOwned fails unless fed owns every listed attribute of a live instance.
func (r *Repository) CheckOwned(h hla.ObjectHandle, fed hla.FederateHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst := r.objects[h]
	if inst == nil {
		return hla.Errorf(hla.KindObjectNotKnown, "object %d", h)
	}

	for _, a := range attrs.Sorted() {
		if owner, ok := inst.Owners[a]; !ok || owner != fed {
			return hla.Errorf(hla.KindAttributeNotOwned, "attribute %d of object %d by %s", a, h, fed)
		}
	}

	return nil
}

// Divest releases attributes fed owns. Validation happens before any change.
func (r *Repository) Divest(h hla.ObjectHandle, fed hla.FederateHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.objects[h]
	if inst == nil {
		return hla.Errorf(hla.KindObjectNotKnown, "object %d", h)
	}

	for a := range attrs {
		if owner, ok := inst.Owners[a]; !ok || owner != fed {
			return hla.Errorf(hla.KindAttributeNotOwned, "attribute %d of object %d by %s", a, h, fed)
		}
	}

	for a := range attrs {
		delete(inst.Owners, a)
	}

	return nil
}

// Acquire gives fed every listed attribute that is currently unowned and returns
// the acquired set. Attributes owned by others are left alone.
func (r *Repository) Acquire(h hla.ObjectHandle, fed hla.FederateHandle, attrs hla.HandleSet[hla.AttributeHandle]) (hla.HandleSet[hla.AttributeHandle], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.objects[h]
	if inst == nil {
		return nil, hla.Errorf(hla.KindObjectNotKnown, "object %d", h)
	}

	if err := r.model.ValidateAttributes(inst.Class, attrs); err != nil {
		return nil, err
	}

	acquired := make(hla.HandleSet[hla.AttributeHandle])
	for a := range attrs {
		if owner, ok := inst.Owners[a]; ok && owner != fed {
			continue
		}

		inst.Owners[a] = fed
		acquired.Add(a)
	}

	return acquired, nil
}

// SetOwners overwrites ownership of attributes, as learned from the RTI.
func (r *Repository) SetOwners(h hla.ObjectHandle, fed hla.FederateHandle, attrs hla.HandleSet[hla.AttributeHandle]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.objects[h]
	if inst == nil {
		return
	}

	for a := range attrs {
		inst.Owners[a] = fed
	}
}

// SetRegion associates attributes of an instance with a DDM region.
func (r *Repository) SetRegion(h hla.ObjectHandle, attrs hla.HandleSet[hla.AttributeHandle], region string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.objects[h]
	if inst == nil {
		return hla.Errorf(hla.KindObjectNotKnown, "object %d", h)
	}

	for a := range attrs {
		if region == "" {
			delete(inst.Regions, a)
		} else {
			inst.Regions[a] = region
		}
	}

	return nil
}

// =============================================================================
// Resignation
// =============================================================================

// RemoveFederate applies a resign action and forgets fed as a discoverer.
// It returns the instances deleted by the action.
func (r *Repository) RemoveFederate(fed hla.FederateHandle, action hla.ResignAction) []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted []*Instance

	for _, h := range r.sortedHandles() {
		inst := r.objects[h]

		if action.Deletes() && r.canDeleteLocked(h, fed) == nil {
			deleted = append(deleted, r.deleteLocked(h))
			continue
		}

		if action.Divests() {
			for a, owner := range inst.Owners {
				if owner == fed {
					delete(inst.Owners, a)
				}
			}
		}

		delete(inst.Discovered, fed)
	}

	for name, holder := range r.reserved {
		if holder == fed {
			delete(r.reserved, name)
		}
	}

	return deleted
}
