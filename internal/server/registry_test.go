package server

import "testing"

func TestRegistry_AddRemoveLen(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}

	a := &Session{id: "a"}
	b := &Session{id: "b"}
	r.Add(a)
	r.Add(b)
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	r.Remove("a")
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after remove", r.Len())
	}

	// Removing an unknown ID is a no-op.
	r.Remove("a")
	r.Remove("missing")
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_AddReplacesSameID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(&Session{id: "x"})
	r.Add(&Session{id: "x"})
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 for duplicate ID", r.Len())
	}
}
