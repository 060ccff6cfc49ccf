package mempool

import (
	"fmt"
	"sync/atomic"

	"github.com/vmsearch/shenango/pkg/shm"
)

// Buf is one packet buffer drawn from a pool. The handle itself is
// process-private; the buffer's bytes and reference count live in the
// shared region.
type Buf struct {
	pool *Pool
	idx  uint32
}

func (b *Buf) hdr() *bufHdr {
	h, err := b.pool.bufHdrAt(b.idx)
	if err != nil {
		panic(fmt.Sprintf("mempool: buffer %d outside pool %s", b.idx, b.pool.name))
	}
	return h
}

func (b *Buf) roomRef() shm.Ref {
	return b.pool.slotRef(b.idx) + shm.Ref(bufHdrSize+b.pool.privSize)
}

// Bytes returns the current data window.
func (b *Buf) Bytes() []byte {
	h := b.hdr()
	s, err := b.pool.region.Bytes(b.roomRef()+shm.Ref(h.dataOff), int(h.dataLen))
	if err != nil {
		panic(fmt.Sprintf("mempool: buffer %d window out of bounds", b.idx))
	}
	return s
}

// Room returns the writable bytes from the current data start to the end of
// the data room. The receive path fills it and then calls SetLen.
func (b *Buf) Room() []byte {
	h := b.hdr()
	n := b.pool.dataRoom - int(h.dataOff)
	s, err := b.pool.region.Bytes(b.roomRef()+shm.Ref(h.dataOff), n)
	if err != nil {
		panic(fmt.Sprintf("mempool: buffer %d room out of bounds", b.idx))
	}
	return s
}

// Len returns the current data length.
func (b *Buf) Len() int { return int(b.hdr().dataLen) }

// SetLen sets the data length measured from the current data start.
func (b *Buf) SetLen(n int) error {
	h := b.hdr()
	if n < 0 || int(h.dataOff)+n > b.pool.dataRoom {
		return fmt.Errorf("mempool: length %d exceeds data room", n)
	}
	h.dataLen = uint32(n)
	return nil
}

// Prepend grows the data window by n bytes at the front, consuming headroom,
// and returns the newly exposed bytes. Space for a receive preamble is
// always available on a freshly allocated buffer.
func (b *Buf) Prepend(n int) ([]byte, error) {
	h := b.hdr()
	if n < 0 || uint32(n) > h.dataOff {
		return nil, fmt.Errorf("mempool: prepend %d exceeds headroom %d", n, h.dataOff)
	}
	h.dataOff -= uint32(n)
	h.dataLen += uint32(n)
	s, err := b.pool.region.Bytes(b.roomRef()+shm.Ref(h.dataOff), n)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Flags returns the receive flag word.
func (b *Buf) Flags() uint32 { return b.hdr().flags }

// SetFlags replaces the receive flag word.
func (b *Buf) SetFlags(f uint32) { b.hdr().flags = f }

// RefCount returns the current reference count.
func (b *Buf) RefCount() int32 {
	return atomic.LoadInt32(&b.hdr().refcnt)
}

// RefUpdate adjusts the reference count by delta and returns the new value.
// In the broadcast path this runs only after every enqueue has completed, so
// a receiver can never observe a count that is still being raised.
func (b *Buf) RefUpdate(delta int32) int32 {
	return atomic.AddInt32(&b.hdr().refcnt, delta)
}

// Free drops one reference. The last reference returns the slot to the
// pool's free stack through this handle.
func (b *Buf) Free() {
	c := atomic.AddInt32(&b.hdr().refcnt, -1)
	if c > 0 {
		return
	}
	if c < 0 {
		panic(fmt.Sprintf("mempool: double free of buffer %d", b.idx))
	}
	b.pool.free(b.idx)
}
