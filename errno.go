package libpthread

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
)

// Errno is the numeric error code reported by semaphore operations. The
// values mirror the classic POSIX errno assignments so callers porting C
// code can keep their error tables. Errno implements error and can be
// matched with errors.Is both against a concrete code and against the
// standard sentinels (fs.ErrExist, fs.ErrNotExist, fs.ErrPermission,
// os.ErrDeadlineExceeded).
type Errno uint32

// Error codes produced by this package. ENOMEM is part of the contract for
// completeness but is not produced by the current implementation: allocation
// failure in Go terminates the process rather than returning an error.
const (
	// EPERM reports an operation that the implementation cannot honor,
	// such as a cross-process unnamed semaphore or an abnormal wakeup of
	// a blocked wait.
	EPERM Errno = 1
	// ENOENT reports that no semaphore with the given name exists.
	ENOENT Errno = 2
	// ENOMEM reports that no memory was available for the semaphore.
	ENOMEM Errno = 12
	// EEXIST reports that a semaphore with the given name already exists.
	EEXIST Errno = 17
	// EINVAL reports an invalid argument or an invalidated handle.
	EINVAL Errno = 22
	// ENOSPC reports that a resource limit kept the semaphore from being
	// created.
	ENOSPC Errno = 28
	// ETIMEDOUT reports that a wait gave up before a token became
	// available.
	ETIMEDOUT Errno = 110
)

func (e Errno) Error() string {
	switch e {
	case EPERM:
		return "operation not permitted"
	case ENOENT:
		return "no such semaphore"
	case ENOMEM:
		return "cannot allocate memory"
	case EEXIST:
		return "semaphore already exists"
	case EINVAL:
		return "invalid argument"
	case ENOSPC:
		return "no space left on device"
	case ETIMEDOUT:
		return "connection timed out"
	}
	return "errno " + strconv.FormatUint(uint64(e), 10)
}

// Is maps codes onto the standard library sentinels so callers can write
// errors.Is(err, fs.ErrExist) instead of importing this package's constants.
func (e Errno) Is(target error) bool {
	switch target {
	case fs.ErrExist:
		return e == EEXIST
	case fs.ErrNotExist:
		return e == ENOENT
	case fs.ErrPermission:
		return e == EPERM
	case os.ErrDeadlineExceeded:
		return e == ETIMEDOUT
	}
	return false
}

// AsErrno extracts the Errno from an error returned by this package. It
// replaces the thread-local errno cell of the C interface: the code travels
// inside the returned error instead of in ambient state. The second result
// is false when err is nil or did not originate here.
func AsErrno(err error) (Errno, bool) {
	var e Errno
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}
