package libpthread

import (
	"errors"
	"io/fs"
	"testing"
)

// TestRegistryRefCounting tests that a name survives exactly as long as a
// reference to it does.
func TestRegistryRefCounting(t *testing.T) {
	reg := newRegistry(0)

	e1, err := reg.create("a", 0, false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	e2, err := reg.open("a")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if e1 != e2 {
		t.Fatal("open returned a different entry than create")
	}
	if info, ok := reg.stat("a"); !ok || info.Refs != 2 {
		t.Fatalf("Expected 2 refs, got %+v ok=%t", info, ok)
	}

	reg.closeRef(e1)
	if _, ok := reg.stat("a"); !ok {
		t.Fatal("Name vanished while a reference was still open")
	}
	reg.closeRef(e2)
	if _, ok := reg.stat("a"); ok {
		t.Fatal("Name survived its last reference")
	}
	if _, err := reg.open("a"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist after removal, got %v", err)
	}
}

// TestRegistryLimit tests the configurable object bound.
func TestRegistryLimit(t *testing.T) {
	reg := newRegistry(1)

	e, err := reg.create("a", 0, false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := reg.create("b", 0, false); !errors.Is(err, errRegistryFull) {
		t.Errorf("Expected errRegistryFull, got %v", err)
	}
	// Opening an existing name is not a new object and must still work.
	e2, err := reg.create("a", 0, false)
	if err != nil {
		t.Fatalf("open-or-create of existing name failed at the limit: %v", err)
	}
	reg.closeRef(e2)
	reg.closeRef(e)

	if _, err := reg.create("b", 0, false); err != nil {
		t.Errorf("create after freeing a slot failed: %v", err)
	}
}

// TestRegistrySnapshot tests the sorted introspection listing.
func TestRegistrySnapshot(t *testing.T) {
	reg := newRegistry(0)
	for _, name := range []string{"z", "a", "m"} {
		if _, err := reg.create(name, 2, false); err != nil {
			t.Fatalf("create %q failed: %v", name, err)
		}
	}
	sems := reg.snapshot()
	if len(sems) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(sems))
	}
	for i, want := range []string{"a", "m", "z"} {
		if sems[i].Name != want {
			t.Errorf("Expected %q at position %d, got %q", want, i, sems[i].Name)
		}
		if sems[i].Count != 2 || sems[i].Refs != 1 {
			t.Errorf("Unexpected entry %+v", sems[i])
		}
	}
}
