package shm

import (
	"fmt"
	"os"
	"testing"
	"unsafe"
)

func testName(t *testing.T) string {
	return fmt.Sprintf("shmtest-%d-%s", os.Getpid(), t.Name())
}

func TestMapUnmapUnlink(t *testing.T) {
	name := testName(t)
	r, err := Map(name, 4096, false, true)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer r.Unlink()
	defer r.Unmap()

	if r.Len() != 4096 {
		t.Errorf("Len = %d, want 4096", r.Len())
	}

	b, err := r.Bytes(0, 16)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	copy(b, "hello")

	// A second mapping of the same segment sees the same bytes.
	r2, err := Map(name, 4096, false, false)
	if err != nil {
		t.Fatalf("second Map: %v", err)
	}
	defer r2.Unmap()
	b2, err := r2.Bytes(0, 16)
	if err != nil {
		t.Fatalf("Bytes on second mapping: %v", err)
	}
	if string(b2[:5]) != "hello" {
		t.Errorf("second mapping sees %q, want %q", b2[:5], "hello")
	}
}

func TestExclusiveCreate(t *testing.T) {
	name := testName(t)
	r, err := Map(name, 4096, false, true)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer r.Unlink()
	defer r.Unmap()

	if _, err := Map(name, 4096, false, true); err == nil {
		t.Error("second exclusive Map succeeded, want failure")
	}
}

func TestRefTranslation(t *testing.T) {
	name := testName(t)
	r, err := Map(name, 8192, false, true)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer r.Unlink()
	defer r.Unmap()

	p, err := r.At(128, 64)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	ref, err := r.RefOf(p, 64)
	if err != nil {
		t.Fatalf("RefOf: %v", err)
	}
	if ref != 128 {
		t.Errorf("round trip ref = %d, want 128", ref)
	}

	// Out of bounds in both directions.
	if _, err := r.At(8192, 1); err == nil {
		t.Error("At past end succeeded")
	}
	var local byte
	if _, err := r.RefOf(unsafe.Pointer(&local), 1); err == nil {
		t.Error("RefOf of foreign pointer succeeded")
	}
	if _, err := r.Bytes(8000, 1000); err == nil {
		t.Error("Bytes past end succeeded")
	}
}

func TestSmallerRemapPreservesContents(t *testing.T) {
	name := testName(t)
	r, err := Map(name, 8192, false, true)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer r.Unlink()
	defer r.Unmap()

	tail, err := r.Bytes(8000, 16)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	copy(tail, "tail bytes")

	// A process that maps only a prefix of the segment (to read a header,
	// say) must not shrink it out from under the creator.
	r2, err := Map(name, 64, false, false)
	if err != nil {
		t.Fatalf("prefix Map: %v", err)
	}
	r2.Unmap()

	if string(tail[:10]) != "tail bytes" {
		t.Fatalf("creator view after prefix map = %q", tail[:10])
	}

	// Growing re-maps still work.
	r3, err := Map(name, 16384, false, false)
	if err != nil {
		t.Fatalf("growing Map: %v", err)
	}
	defer r3.Unmap()
	b3, err := r3.Bytes(8000, 16)
	if err != nil {
		t.Fatalf("Bytes on grown mapping: %v", err)
	}
	if string(b3[:10]) != "tail bytes" {
		t.Errorf("grown mapping reads %q", b3[:10])
	}
}

func TestUnlinkMissing(t *testing.T) {
	if err := Unlink("shmtest-definitely-missing"); err != nil {
		t.Errorf("Unlink of missing segment: %v", err)
	}
}
