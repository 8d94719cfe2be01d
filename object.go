package libpthread

import (
	"errors"
	"sync"
	"time"
)

// SemValueMax is the largest count a semaphore can hold. Posting a
// semaphore whose count is already SemValueMax fails with EINVAL.
const SemValueMax = 32767

// waitStatus is the outcome of a wait on the native counting object. The
// three states correspond to the native layer's signaled, timed-out and
// failed wait results; the adapter translates them into the POSIX error
// contract.
type waitStatus int

const (
	waitSignaled waitStatus = iota
	waitTimedOut
	waitAbnormal
)

// Native-layer failures. The adapter folds them into Errno values; the
// broker gives each its own wire status so the mapping survives the hop.
var (
	errOverflow = errors.New("semaphore count at maximum")
	errClosed   = errors.New("semaphore object destroyed")
)

// ksem is the native counting object every semaphore handle ultimately
// refers to. The count is a buffered token channel: post deposits a token,
// wait consumes one, and a full buffer is the overflow condition. done is
// closed exactly once when the object is destroyed so that parked waiters
// wake with waitAbnormal instead of blocking forever.
type ksem struct {
	tokens  chan struct{}
	done    chan struct{}
	destroy sync.Once
}

func newKsem(value uint) *ksem {
	k := &ksem{
		tokens: make(chan struct{}, SemValueMax),
		done:   make(chan struct{}),
	}
	for i := uint(0); i < value; i++ {
		k.tokens <- struct{}{}
	}
	return k
}

// post deposits one token. It fails with errOverflow when the count is
// already SemValueMax and with errClosed when the object was destroyed.
// The count never partially changes on failure.
func (k *ksem) post() error {
	select {
	case <-k.done:
		return errClosed
	default:
	}
	select {
	case k.tokens <- struct{}{}:
		return nil
	case <-k.done:
		return errClosed
	default:
		return errOverflow
	}
}

// wait consumes one token. timeout < 0 blocks until a token arrives or the
// object dies, timeout == 0 polls, and a positive timeout bounds the block.
// cancel may be nil; closing it wakes the waiter with waitAbnormal. Which
// of several parked waiters a token wakes is unspecified.
func (k *ksem) wait(timeout time.Duration, cancel <-chan struct{}) waitStatus {
	if timeout == 0 {
		select {
		case <-k.tokens:
			return waitSignaled
		case <-k.done:
			return waitAbnormal
		default:
			return waitTimedOut
		}
	}
	if timeout < 0 {
		select {
		case <-k.tokens:
			return waitSignaled
		case <-k.done:
			return waitAbnormal
		case <-cancel:
			return waitAbnormal
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-k.tokens:
		return waitSignaled
	case <-k.done:
		return waitAbnormal
	case <-cancel:
		return waitAbnormal
	case <-timer.C:
		return waitTimedOut
	}
}

// count reports the number of available tokens. It is a snapshot for
// introspection only; the value may be stale by the time it is read.
func (k *ksem) count() int {
	return len(k.tokens)
}

func (k *ksem) close() {
	k.destroy.Do(func() { close(k.done) })
}
