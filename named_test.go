package libpthread

import (
	"os"
	"strings"
	"testing"
	"time"
)

// TestOpenExclusive tests O_CREATE|O_EXCL against an existing name.
func TestOpenExclusive(t *testing.T) {
	name := t.Name()

	sem, err := OpenSemaphore(name, os.O_CREATE|os.O_EXCL, 0, 1)
	if err != nil {
		t.Fatalf("Exclusive create failed: %v", err)
	}
	if _, err := OpenSemaphore(name, os.O_CREATE|os.O_EXCL, 0, 1); err != EEXIST {
		t.Errorf("Expected EEXIST, got %v", err)
	}
	if err := sem.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The failed exclusive open held no reference, so the close above was
	// the last one and the name is free again.
	sem, err = OpenSemaphore(name, os.O_CREATE|os.O_EXCL, 0, 1)
	if err != nil {
		t.Fatalf("Exclusive create after release failed: %v", err)
	}
	sem.Close()
}

// TestOpenMissingName tests opening without O_CREATE.
func TestOpenMissingName(t *testing.T) {
	if _, err := OpenSemaphore(t.Name(), 0, 0, 0); err != ENOENT {
		t.Errorf("Expected ENOENT, got %v", err)
	}
}

// TestNamedHandlesShareCount tests that every handle on a name sees one count.
func TestNamedHandlesShareCount(t *testing.T) {
	name := t.Name()

	h1, err := OpenSemaphore(name, os.O_CREATE, 0, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer h1.Close()
	h2, err := OpenSemaphore(name, 0, 0, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h2.Close()

	if err := h1.Post(); err != nil {
		t.Fatalf("Post through first handle failed: %v", err)
	}
	if err := h2.TryWait(); err != nil {
		t.Errorf("Token posted through one handle was not visible through the other: %v", err)
	}
	if err := h2.Post(); err != nil {
		t.Fatalf("Post through second handle failed: %v", err)
	}
	if err := h1.TryWait(); err != nil {
		t.Errorf("Token posted through second handle was not visible through the first: %v", err)
	}
}

// TestLastCloseRemovesName tests the kernel-object lifetime rule.
func TestLastCloseRemovesName(t *testing.T) {
	name := t.Name()

	h1, err := OpenSemaphore(name, os.O_CREATE, 0, 2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h2, err := OpenSemaphore(name, 0, 0, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := h1.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	// One handle still open, the name must survive.
	h3, err := OpenSemaphore(name, 0, 0, 0)
	if err != nil {
		t.Fatalf("Open while a handle is live failed: %v", err)
	}
	h3.Close()
	if err := h2.Close(); err != nil {
		t.Fatalf("Last close failed: %v", err)
	}

	if _, err := OpenSemaphore(name, 0, 0, 0); err != ENOENT {
		t.Errorf("Expected ENOENT after the last close, got %v", err)
	}
}

// TestCreateOnExistingIgnoresValue tests that O_CREATE without O_EXCL opens
// an existing object untouched.
func TestCreateOnExistingIgnoresValue(t *testing.T) {
	name := t.Name()

	h1, err := OpenSemaphore(name, os.O_CREATE, 0, 3)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer h1.Close()

	h2, err := OpenSemaphore(name, os.O_CREATE, 0, 99)
	if err != nil {
		t.Fatalf("Open with O_CREATE on existing name failed: %v", err)
	}
	defer h2.Close()

	for i := 0; i < 3; i++ {
		if err := h2.TryWait(); err != nil {
			t.Fatalf("TryWait %d failed: %v", i, err)
		}
	}
	if err := h2.TryWait(); err != ETIMEDOUT {
		t.Errorf("Count should still be the original 3, got %v on the fourth TryWait", err)
	}
}

// TestNameBounds tests name validation against the historical buffer limit.
func TestNameBounds(t *testing.T) {
	if _, err := OpenSemaphore("", os.O_CREATE, 0, 0); err != EINVAL {
		t.Errorf("Expected EINVAL for the empty name, got %v", err)
	}

	long := strings.Repeat("x", SemNameMax+1)
	if _, err := OpenSemaphore(long, os.O_CREATE, 0, 0); err != EINVAL {
		t.Errorf("Expected EINVAL for a %d byte name, got %v", len(long), err)
	}

	longest := strings.Repeat("x", SemNameMax)
	sem, err := OpenSemaphore(longest, os.O_CREATE, 0, 0)
	if err != nil {
		t.Fatalf("A %d byte name should be accepted: %v", len(longest), err)
	}
	sem.Close()
}

// TestOpenValueBound tests that creation validates the initial count.
func TestOpenValueBound(t *testing.T) {
	if _, err := OpenSemaphore(t.Name(), os.O_CREATE, 0, SemValueMax+1); err != EINVAL {
		t.Errorf("Expected EINVAL for oversized initial value, got %v", err)
	}
}

// TestUnlinkLeavesNameAlive tests that unlinking changes nothing for a
// live name. The name stays openable and its handles keep working until
// the last close removes it.
func TestUnlinkLeavesNameAlive(t *testing.T) {
	name := t.Name()

	h1, err := OpenSemaphore(name, os.O_CREATE, 0, 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer h1.Close()

	if err := UnlinkSemaphore(name); err != nil {
		t.Fatalf("UnlinkSemaphore failed: %v", err)
	}

	h2, err := OpenSemaphore(name, 0, 0, 0)
	if err != nil {
		t.Fatalf("Open after unlink failed: %v", err)
	}
	defer h2.Close()

	if err := h1.TryWait(); err != nil {
		t.Errorf("TryWait through the original handle failed after unlink: %v", err)
	}
	if err := h2.Post(); err != nil {
		t.Errorf("Post through the fresh handle failed after unlink: %v", err)
	}
}

// TestLastCloseWakesParkedWaiter tests that destroying a name out from
// under a parked waiter unblocks it with EPERM instead of leaking the
// goroutine.
func TestLastCloseWakesParkedWaiter(t *testing.T) {
	name := t.Name()

	h1, err := OpenSemaphore(name, os.O_CREATE, 0, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h2, err := OpenSemaphore(name, 0, 0, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- h2.Wait()
	}()
	time.Sleep(20 * time.Millisecond)

	// Dropping both references destroys the object while the waiter is
	// still parked on it.
	if err := h1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != EPERM {
			t.Errorf("Expected EPERM from the interrupted Wait, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait hung after the last handle closed")
	}
}
