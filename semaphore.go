package libpthread

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"
)

// Named semaphores live in a host-global namespace. Raw names are qualified
// with a fixed prefix before they reach a registry, the way kernel objects
// are filed under a global session, and the prefix plus a terminator must
// fit the historical 512-byte name buffer.
const (
	namespacePrefix = `Global\`
	nameBufSize     = 512

	// SemNameMax is the longest raw name OpenSemaphore accepts.
	SemNameMax = nameBufSize - len(namespacePrefix) - 1
)

// sema is one open reference to a counting object. The local registry and
// the broker client both produce them; the Semaphore handle drives whichever
// it was given.
type sema interface {
	// post deposits one token. errOverflow when the count is at
	// SemValueMax, errClosed when the object is gone.
	post() error

	// wait consumes one token, blocking up to timeout (negative means
	// forever, zero polls). cancel may be nil.
	wait(timeout time.Duration, cancel <-chan struct{}) waitStatus

	// close releases the reference.
	close() error
}

// namespace resolves raw semaphore names to references. Implemented by the
// in-process registry and by the broker client.
type namespace interface {
	open(name string) (sema, error)
	create(name string, value uint, excl bool) (sema, error)
}

// Semaphore is a counting semaphore handle with POSIX semantics. Unnamed
// semaphores come from NewSemaphore and coordinate goroutines within one
// process; named semaphores come from OpenSemaphore (or Client.OpenSemaphore
// for cross-process use) and share one count among every handle opened under
// the same name.
//
// A handle stays valid until Close or Destroy, after which every operation
// reports EINVAL. Operations are safe for concurrent use from multiple
// goroutines, with one exception inherited from the POSIX contract: the
// caller must not destroy a semaphore while another goroutine is still
// using the same handle.
//
// Example:
//
//	sem, _ := libpthread.NewSemaphore(1, false)
//	defer sem.Destroy()
//
//	sem.Wait()
//	// critical section
//	sem.Post()
type Semaphore struct {
	mu  sync.Mutex
	ref sema
}

func newHandle(ref sema) *Semaphore {
	return &Semaphore{ref: ref}
}

// load snapshots the reference without holding the lock across the
// operation, so a blocked Wait never stalls Close.
func (s *Semaphore) load() sema {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref
}

// privateSema owns its object outright. Unnamed semaphores use it; there is
// no registry involved and close destroys the object immediately.
type privateSema struct {
	obj *ksem
}

func (p *privateSema) post() error {
	return p.obj.post()
}

func (p *privateSema) wait(timeout time.Duration, cancel <-chan struct{}) waitStatus {
	return p.obj.wait(timeout, cancel)
}

func (p *privateSema) close() error {
	p.obj.close()
	return nil
}

// NewSemaphore creates an unnamed semaphore holding value tokens. It fails
// with EINVAL when value exceeds SemValueMax and with EPERM when shared is
// true: an unnamed semaphore cannot cross a process boundary here, so
// callers that need one shared must use OpenSemaphore instead.
func NewSemaphore(value uint, shared bool) (*Semaphore, error) {
	if value > SemValueMax {
		return nil, EINVAL
	}
	if shared {
		return nil, EPERM
	}
	return newHandle(&privateSema{obj: newKsem(value)}), nil
}

// OpenSemaphore opens the named semaphore, creating it when flag contains
// os.O_CREATE and no such name exists. With os.O_CREATE|os.O_EXCL an
// existing name fails with EEXIST. value seeds the count only when the call
// creates the object; on an existing name it is ignored. perm is accepted
// for signature compatibility with the POSIX call and ignored, since these
// names are not filesystem entries.
//
// Errors: EINVAL for an empty name, a name longer than SemNameMax or a
// value above SemValueMax; ENOENT when the name does not exist and
// os.O_CREATE was not given; ENOSPC when a resource limit blocks creation;
// EPERM when an existing name cannot be opened.
func OpenSemaphore(name string, flag int, perm os.FileMode, value uint) (*Semaphore, error) {
	return openSemaphore(defaultNamespace, name, flag, value)
}

func openSemaphore(ns namespace, name string, flag int, value uint) (*Semaphore, error) {
	if err := checkSemName(name); err != nil {
		return nil, err
	}
	if value > SemValueMax {
		return nil, EINVAL
	}
	if flag&os.O_CREATE != 0 {
		ref, err := ns.create(name, value, flag&os.O_EXCL != 0)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return nil, EEXIST
			}
			return nil, ENOSPC
		}
		return newHandle(ref), nil
	}
	ref, err := ns.open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ENOENT
		}
		return nil, EPERM
	}
	return newHandle(ref), nil
}

func checkSemName(name string) error {
	if len(name) < 1 || len(name) > SemNameMax {
		return EINVAL
	}
	return nil
}

// UnlinkSemaphore removes a name from the namespace. It always succeeds:
// names here follow the kernel-object model, where the name vanishes on its
// own when the last handle closes, so there is nothing left to remove and
// no way for removal to fail.
func UnlinkSemaphore(name string) error {
	return nil
}

// Post increments the count by one, waking a parked waiter when there is
// one. It fails with EINVAL on a closed handle and when the count already
// sits at SemValueMax.
func (s *Semaphore) Post() error {
	r := s.load()
	if r == nil {
		return EINVAL
	}
	if err := r.post(); err != nil {
		return EINVAL
	}
	return nil
}

// Wait decrements the count, blocking until a token is available. It fails
// with EINVAL on a closed handle and with EPERM when the underlying object
// dies while the caller is parked on it.
func (s *Semaphore) Wait() error {
	r := s.load()
	if r == nil {
		return EINVAL
	}
	if r.wait(-1, nil) != waitSignaled {
		return EPERM
	}
	return nil
}

// TryWait decrements the count if a token is available right now,
// otherwise it fails with ETIMEDOUT without blocking.
func (s *Semaphore) TryWait() error {
	r := s.load()
	if r == nil {
		return EINVAL
	}
	return waitError(r.wait(0, nil))
}

// WaitUntil decrements the count, blocking no later than the absolute
// deadline and failing with ETIMEDOUT once it passes. A deadline already in
// the past degrades to a single poll, so a token that is available is still
// taken.
func (s *Semaphore) WaitUntil(deadline time.Time) error {
	r := s.load()
	if r == nil {
		return EINVAL
	}
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	return waitError(r.wait(timeout, nil))
}

func waitError(st waitStatus) error {
	switch st {
	case waitSignaled:
		return nil
	case waitTimedOut:
		return ETIMEDOUT
	}
	return EPERM
}

// Close invalidates the handle and releases its reference. For an unnamed
// semaphore the object is destroyed outright; for a named one the object
// and its name live on until the last handle anywhere closes. Closing an
// already closed handle fails with EINVAL.
func (s *Semaphore) Close() error {
	if s == nil {
		return EINVAL
	}
	s.mu.Lock()
	r := s.ref
	s.ref = nil
	s.mu.Unlock()
	if r == nil {
		return EINVAL
	}
	if err := r.close(); err != nil {
		return EINVAL
	}
	return nil
}

// Destroy invalidates the handle, destroying the underlying object when
// this was its last reference. It is the unnamed-semaphore spelling of
// Close and shares its contract exactly.
func (s *Semaphore) Destroy() error {
	return s.Close()
}
