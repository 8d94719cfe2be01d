// Package libpthread implements POSIX counting semaphores on top of Go's
// own synchronization primitives.
//
// The package exists for programs ported from C that were written against
// sem_init, sem_open and friends. It keeps the POSIX surface: the same
// operations, the same blocking, non-blocking and absolute-deadline wait
// forms, and the same numeric error codes, so a port can keep its error
// tables while the counts themselves live on Go channels instead of kernel
// handles.
//
// # Unnamed Semaphores
//
// An unnamed semaphore coordinates goroutines within one process. It is
// created with an initial count and destroyed when no longer needed:
//
//	sem, err := libpthread.NewSemaphore(1, false)
//	if err != nil {
//	    return err
//	}
//	defer sem.Destroy()
//
//	sem.Wait()
//	// critical section
//	sem.Post()
//
// Wait blocks until a token is available. TryWait never blocks and fails
// with ETIMEDOUT when the count is zero; WaitUntil gives up once an
// absolute deadline passes:
//
//	if err := sem.WaitUntil(time.Now().Add(2 * time.Second)); err != nil {
//	    // libpthread.ETIMEDOUT after two seconds without a token
//	}
//
// # Named Semaphores
//
// Named semaphores follow the kernel-object model: a name designates one
// shared object, every open of that name yields a handle onto the same
// count, and the object disappears when the last handle closes. Unlink is
// accordingly a no-op kept only for source compatibility.
//
//	sem, err := libpthread.OpenSemaphore("workers", os.O_CREATE, 0, 4)
//	if err != nil {
//	    return err
//	}
//	defer sem.Close()
//
// Within a single process the namespace is served in-process. To share
// names between processes on one host, run the semd broker and open
// handles through a Client; the API is otherwise identical:
//
//	client, err := libpthread.Dial(libpthread.DefaultSocketPath())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sem, err := client.OpenSemaphore("workers", os.O_CREATE, 0, 4)
//
// The broker speaks length-prefixed MessagePack frames over a unix socket.
// Handles are connection scoped: when a client process dies, the broker
// drops its handles, and names it was the last holder of vanish with it.
//
// # Errors
//
// Every operation reports failures as an Errno, a numeric code matching
// the classic errno assignment (EINVAL, EPERM, ENOENT, EEXIST, ENOSPC,
// ETIMEDOUT). Errno satisfies errors.Is against the standard sentinels,
// and AsErrno recovers the code from any error the package returns:
//
//	if errno, ok := libpthread.AsErrno(err); ok && errno == libpthread.ETIMEDOUT {
//	    // deadline passed
//	}
//
// Two quirks are kept deliberately so ported error tables keep working:
// TryWait on a zero count fails with ETIMEDOUT rather than EAGAIN, and a
// wait interrupted by the death of the underlying object fails with EPERM.
//
// # Concurrency
//
// A Semaphore may be used from any number of goroutines. Which of several
// blocked waiters a post wakes is unspecified. The one rule carried over
// from POSIX is that destroying a semaphore other goroutines are still
// operating on is the caller's bug; the package keeps the process memory
// safe in that case but the outcome of the racing operations is undefined.
package libpthread
