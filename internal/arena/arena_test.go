package arena

import (
	"errors"
	"testing"
)

func TestAllocGrowsAcrossSlabBoundary(t *testing.T) {
	a := New(16)
	first := a.Alloc(10)
	second := a.Alloc(10) // exceeds the first 16-byte slab, forces growth
	for i := range first {
		first[i] = 0xAA
	}
	for i := range second {
		second[i] = 0xBB
	}
	for _, b := range first {
		if b != 0xAA {
			t.Fatal("first allocation corrupted after growth")
		}
	}
	for _, b := range second {
		if b != 0xBB {
			t.Fatal("second allocation corrupted")
		}
	}
}

func TestAllocBudgetedRejectsOverBudget(t *testing.T) {
	a := New(64)
	if _, err := a.AllocBudgeted(32, 16); err == nil {
		t.Fatal("AllocBudgeted should reject a request exceeding max")
	}
}

func TestCopyBytesIndependentOfSource(t *testing.T) {
	a := New(64)
	src := []byte("hello")
	dst := a.CopyBytes(src)
	src[0] = 'X'
	if string(dst) != "hello" {
		t.Fatalf("CopyBytes result mutated by source write: got %q", dst)
	}
}

func TestScopeReleasesOwnedArenaNotBorrowed(t *testing.T) {
	borrowed := New(64)
	err := Scope(borrowed, 64, func(a *Arena) error {
		if a != borrowed {
			t.Fatal("Scope should reuse the borrowed arena")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if borrowed.cur == nil {
		t.Fatal("Scope must not release a borrowed arena")
	}

	sentinel := errors.New("boom")
	err = Scope(nil, 64, func(a *Arena) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Scope should propagate fn's error, got %v", err)
	}
}
