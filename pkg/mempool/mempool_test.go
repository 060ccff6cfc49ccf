package mempool

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"
)

func testPool(t *testing.T, count, cacheSize int) *Pool {
	t.Helper()
	name := fmt.Sprintf("mptest-%d-%s", os.Getpid(), t.Name())
	p, err := Create(name, count, cacheSize, 0, DefaultDataRoom, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func TestCreateValidation(t *testing.T) {
	if _, err := Create("mptest-unaligned", 16, 0, 7, DefaultDataRoom, 0); !errors.Is(err, ErrUnaligned) {
		t.Errorf("unaligned priv size: err = %v, want ErrUnaligned", err)
	}
	if _, err := Create("mptest-toobig", 4*1024*1024, 0, 0, DefaultDataRoom, 0); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("oversized pool: err = %v, want ErrCapacityExceeded", err)
	}
	if _, err := Create("mptest-noroom", 16, 0, 0, Headroom, 0); err == nil {
		t.Error("data room equal to headroom accepted")
	}
}

func TestAllocFreeCycle(t *testing.T) {
	p := testPool(t, 8, 0)

	bufs := make([]*Buf, 0, 8)
	for i := 0; i < 8; i++ {
		b, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		if b.RefCount() != 1 {
			t.Errorf("fresh buffer refcount = %d, want 1", b.RefCount())
		}
		if b.Len() != 0 {
			t.Errorf("fresh buffer length = %d, want 0", b.Len())
		}
		bufs = append(bufs, b)
	}

	if _, err := p.Alloc(); !errors.Is(err, ErrExhausted) {
		t.Errorf("Alloc on empty pool: err = %v, want ErrExhausted", err)
	}

	for _, b := range bufs {
		b.Free()
	}

	// Every slot is allocatable again.
	for i := 0; i < 8; i++ {
		if _, err := p.Alloc(); err != nil {
			t.Fatalf("Alloc after refill %d: %v", i, err)
		}
	}
}

func TestPrependAndTranslate(t *testing.T) {
	p := testPool(t, 4, 0)

	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	payload := []byte("some packet bytes")
	copy(b.Room(), payload)
	if err := b.SetLen(len(payload)); err != nil {
		t.Fatalf("SetLen: %v", err)
	}

	before := p.Translate(b)
	front, err := b.Prepend(16)
	if err != nil {
		t.Fatalf("Prepend: %v", err)
	}
	copy(front, bytes.Repeat([]byte{0xab}, 16))

	after := p.Translate(b)
	if after != before-16 {
		t.Errorf("data ref moved from %d to %d, want %d", before, after, before-16)
	}
	if b.Len() != len(payload)+16 {
		t.Errorf("length after prepend = %d, want %d", b.Len(), len(payload)+16)
	}
	if !bytes.Equal(b.Bytes()[16:], payload) {
		t.Error("payload corrupted by prepend")
	}

	got, err := p.BufFromRef(after)
	if err != nil {
		t.Fatalf("BufFromRef: %v", err)
	}
	if got.idx != b.idx {
		t.Errorf("BufFromRef resolved slot %d, want %d", got.idx, b.idx)
	}

	// Headroom is finite.
	if _, err := b.Prepend(Headroom); err == nil {
		t.Error("Prepend beyond headroom succeeded")
	}
}

func TestSharedRefCount(t *testing.T) {
	p := testPool(t, 2, 0)

	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	// Simulate a 3-way broadcast: two extra references on top of the
	// allocation's implicit one.
	if n := b.RefUpdate(2); n != 3 {
		t.Fatalf("RefUpdate(2) = %d, want 3", n)
	}

	// Each receiver releases independently; the slot is reclaimed only by
	// the last one.
	other, err := p.BufFromRef(p.Translate(b))
	if err != nil {
		t.Fatalf("BufFromRef: %v", err)
	}
	other.Free()
	other.Free()
	if b.RefCount() != 1 {
		t.Fatalf("refcount after two releases = %d, want 1", b.RefCount())
	}
	b.Free()

	// Both slots allocatable: nothing leaked, nothing double-freed.
	for i := 0; i < 2; i++ {
		if _, err := p.Alloc(); err != nil {
			t.Fatalf("Alloc after release %d: %v", i, err)
		}
	}
}

func TestAttach(t *testing.T) {
	p := testPool(t, 4, 0)

	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(b.Room(), "shared bytes")
	if err := b.SetLen(12); err != nil {
		t.Fatalf("SetLen: %v", err)
	}

	// A second handle, as a client process would hold.
	q, err := Attach(p.Name(), 0)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer q.Destroy()
	if q.Count() != 4 || q.DataRoom() != DefaultDataRoom {
		t.Errorf("attached geometry = (%d, %d)", q.Count(), q.DataRoom())
	}

	cb, err := q.BufFromRef(p.Translate(b))
	if err != nil {
		t.Fatalf("BufFromRef on attached handle: %v", err)
	}
	if string(cb.Bytes()) != "shared bytes" {
		t.Errorf("attached handle reads %q", cb.Bytes())
	}

	// Free through the attached handle; the creator can reallocate.
	cb.Free()
	for i := 0; i < 4; i++ {
		if _, err := p.Alloc(); err != nil {
			t.Fatalf("Alloc after client free %d: %v", i, err)
		}
	}
}

func TestAttachLeavesLivePoolIntact(t *testing.T) {
	p := testPool(t, 4, 0)

	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	payload := []byte("live payload")
	copy(b.Room(), payload)
	if err := b.SetLen(len(payload)); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	b.RefUpdate(1)

	// Attaching maps the header first and the full region second; neither
	// step may disturb in-flight buffers or the free stack.
	q, err := Attach(p.Name(), 0)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer q.Destroy()

	if !bytes.Equal(b.Bytes(), payload) {
		t.Fatalf("creator reads %q after attach, want %q", b.Bytes(), payload)
	}
	if b.RefCount() != 2 {
		t.Fatalf("refcount after attach = %d, want 2", b.RefCount())
	}

	// The free stack survived: the remaining three slots are allocatable.
	for i := 0; i < 3; i++ {
		if _, err := p.Alloc(); err != nil {
			t.Fatalf("Alloc %d after attach: %v", i, err)
		}
	}
	b.Free()
	b.Free()
}

func TestAllocCache(t *testing.T) {
	p := testPool(t, 16, 4)

	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	idx := b.idx
	b.Free()

	// A cached free is reused immediately.
	b2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b2.idx != idx {
		t.Errorf("cached slot not reused: got %d, want %d", b2.idx, idx)
	}
	b2.Free()

	// Overfilling the cache spills to the shared stack without losing slots.
	bufs := make([]*Buf, 0, 16)
	for i := 0; i < 16; i++ {
		b, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		b.Free()
	}
	for i := 0; i < 16; i++ {
		if _, err := p.Alloc(); err != nil {
			t.Fatalf("Alloc after spill %d: %v", i, err)
		}
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := testPool(t, 2, 0)
	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b.Free()

	defer func() {
		if recover() == nil {
			t.Error("double free did not panic")
		}
	}()
	// The handle still points at the freed slot; releasing again must trip
	// the refcount guard rather than corrupt the free stack.
	b.Free()
}
