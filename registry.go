package libpthread

import (
	"errors"
	"io/fs"
	"sort"
	"sync"
	"time"
)

// errRegistryFull reports that the namespace reached its configured object
// limit. The adapter and the broker surface it as ENOSPC.
var errRegistryFull = errors.New("semaphore limit reached")

// registryEntry is one live named object together with the number of open
// references to it. The kernel-object model applies: the name and the
// object share a lifetime, and the last reference to go away takes both
// with it.
type registryEntry struct {
	name string
	obj  *ksem
	refs int
}

// registry is the in-process namespace of named counting objects. All
// lookups, creations and reference drops happen under one mutex, which is
// what makes open-or-create atomic: two racing creators of the same name
// always converge on a single object.
type registry struct {
	mu    sync.Mutex
	sems  map[string]*registryEntry
	limit int
}

// newRegistry returns an empty namespace. limit bounds the number of live
// named objects; zero means unbounded.
func newRegistry(limit int) *registry {
	return &registry{
		sems:  make(map[string]*registryEntry),
		limit: limit,
	}
}

// open takes a new reference on an existing object. It fails with
// fs.ErrNotExist when no object has that name.
func (r *registry) open(name string) (*registryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sems[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	e.refs++
	return e, nil
}

// create opens the named object, creating it with the given initial count
// when it does not exist yet. With excl set an existing object is an error.
// value is ignored when the object already exists.
func (r *registry) create(name string, value uint, excl bool) (*registryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sems[name]; ok {
		if excl {
			return nil, fs.ErrExist
		}
		e.refs++
		return e, nil
	}
	if r.limit > 0 && len(r.sems) >= r.limit {
		return nil, errRegistryFull
	}
	e := &registryEntry{name: name, obj: newKsem(value), refs: 1}
	r.sems[name] = e
	return e, nil
}

// closeRef drops one reference. The last drop removes the name and
// destroys the object, waking any waiter still parked on it.
func (r *registry) closeRef(e *registryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(r.sems, e.name)
	e.obj.close()
}

// snapshot lists the live objects sorted by name. Counts are point-in-time
// readings taken without stopping the world.
func (r *registry) snapshot() []SemInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SemInfo, 0, len(r.sems))
	for _, e := range r.sems {
		out = append(out, SemInfo{Name: e.name, Count: e.obj.count(), Refs: e.refs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stat reports one object by name.
func (r *registry) stat(name string) (SemInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sems[name]
	if !ok {
		return SemInfo{}, false
	}
	return SemInfo{Name: e.name, Count: e.obj.count(), Refs: e.refs}, true
}

// registrySema is one open reference to a registry object. It satisfies
// sema for handles served out of the local namespace.
type registrySema struct {
	reg   *registry
	entry *registryEntry
}

func (s *registrySema) post() error {
	return s.entry.obj.post()
}

func (s *registrySema) wait(timeout time.Duration, cancel <-chan struct{}) waitStatus {
	return s.entry.obj.wait(timeout, cancel)
}

func (s *registrySema) close() error {
	s.reg.closeRef(s.entry)
	return nil
}

// localNamespace serves named semaphores out of an in-process registry.
// It qualifies raw names the same way the broker does, so a program can
// move between the two without renaming anything.
type localNamespace struct {
	reg *registry
}

func (ns *localNamespace) open(name string) (sema, error) {
	e, err := ns.reg.open(namespacePrefix + name)
	if err != nil {
		return nil, err
	}
	return &registrySema{reg: ns.reg, entry: e}, nil
}

func (ns *localNamespace) create(name string, value uint, excl bool) (sema, error) {
	e, err := ns.reg.create(namespacePrefix+name, value, excl)
	if err != nil {
		return nil, err
	}
	return &registrySema{reg: ns.reg, entry: e}, nil
}

// defaultNamespace backs OpenSemaphore when no broker is involved.
var defaultNamespace = &localNamespace{reg: newRegistry(0)}
