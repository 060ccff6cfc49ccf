// Package mempool implements the shared-memory packet-buffer pool. One
// contiguous region holds a pool header followed by fixed-size buffer slots;
// every slot carries an atomically reference-counted header so processes
// mapping the same region can share and release buffers independently. Free
// slots are chained through a lock-free stack whose head lives in the pool
// header, making allocation and release valid from any attached process.
package mempool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vmsearch/shenango/pkg/shm"
)

const (
	// MaxRegionSize caps the shared-memory region reserved for one pool.
	MaxRegionSize = 1 << 32

	// Headroom is the space reserved at the front of every buffer's data
	// room so a receive preamble can be prepended without moving payload.
	Headroom = 128

	// PrivAlign is the required alignment of the per-buffer private area.
	PrivAlign = 8

	// DefaultDataRoom matches the conventional default buffer data size
	// (2 KB of payload plus headroom).
	DefaultDataRoom = 2048 + Headroom
)

// Checksum validity flags reported by the receive path in a buffer's flag
// word.
const (
	CsumUnknown uint32 = 0x0
	CsumGood    uint32 = 0x1
	CsumBad     uint32 = 0x2
	CsumMask    uint32 = 0x3
)

var (
	// ErrCapacityExceeded indicates the requested pool does not fit in the
	// reserved region capacity.
	ErrCapacityExceeded = errors.New("mempool: pool exceeds region capacity")

	// ErrUnaligned indicates a private-area size violating PrivAlign.
	ErrUnaligned = errors.New("mempool: private size not aligned")

	// ErrExhausted indicates no free buffers are available.
	ErrExhausted = errors.New("mempool: no free buffers")

	errBadGeometry = errors.New("mempool: invalid pool geometry")
	errBadHeader   = errors.New("mempool: pool header mismatch")
)

const (
	poolMagic   = 0x706b7468 // "pkth"
	poolVersion = 1

	poolHdrSize = 64
	bufHdrSize  = 32
	slotAlign   = 64
)

// poolHdr is the shared pool descriptor at the start of the region.
// freeHead packs a 32-bit ABA tag with a 1-based slot index (0 = empty).
type poolHdr struct {
	freeHead uint64
	magic    uint32
	version  uint32
	count    uint32
	elemSize uint32
	privSize uint32
	dataRoom uint32
	_        [poolHdrSize - 32]byte
}

// bufHdr is the shared per-buffer descriptor at the start of each slot.
type bufHdr struct {
	refcnt  int32
	flags   uint32
	next    uint32 // free-list link, 1-based slot index, 0 = none
	dataOff uint32 // current data start within the data room
	dataLen uint32
	_       [bufHdrSize - 20]byte
}

// Pool is one process's handle on a shared packet-buffer pool. The
// allocation cache is not goroutine-safe: concurrent users within one
// process must attach separate handles or use a zero cache size.
type Pool struct {
	region   *shm.Region
	hdr      *poolHdr
	name     string
	count    int
	elemSize int
	privSize int
	dataRoom int
	node     int

	cacheSize int
	cache     []uint32

	cleanups []func()
}

func packHead(tag uint32, idx1 uint32) uint64 { return uint64(tag)<<32 | uint64(idx1) }
func headTag(h uint64) uint32                 { return uint32(h >> 32) }
func headIdx(h uint64) uint32                 { return uint32(h) }

func align(n, a int) int { return (n + a - 1) &^ (a - 1) }

// Create builds a new pool of count buffers in a fresh shared-memory region
// named name, initializes every buffer header, and chains all slots onto the
// free stack. cacheSize bounds the handle's local allocation cache, privSize
// is the per-buffer private area (must be PrivAlign-aligned), dataRoom the
// per-buffer payload capacity, and node the NUMA node the pool is intended
// for (recorded, used for locality diagnostics only). On any failure after
// the region is mapped, the mapping is released and the segment removed.
func Create(name string, count, cacheSize, privSize, dataRoom, node int) (*Pool, error) {
	if privSize%PrivAlign != 0 {
		return nil, fmt.Errorf("%w: priv_size=%d", ErrUnaligned, privSize)
	}
	if count <= 0 || dataRoom <= Headroom {
		return nil, fmt.Errorf("%w: count=%d data_room=%d", errBadGeometry, count, dataRoom)
	}

	elemSize := align(bufHdrSize+privSize+dataRoom, slotAlign)
	total := poolHdrSize + count*elemSize
	if total > MaxRegionSize {
		return nil, fmt.Errorf("%w: need %d bytes, capacity %d", ErrCapacityExceeded, total, MaxRegionSize)
	}

	region, err := shm.Map(name, total, true, true)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}

	p := &Pool{
		region:    region,
		name:      name,
		count:     count,
		elemSize:  elemSize,
		privSize:  privSize,
		dataRoom:  dataRoom,
		node:      node,
		cacheSize: cacheSize,
		cache:     make([]uint32, 0, cacheSize),
	}
	p.cleanups = append(p.cleanups, func() {
		region.Unmap()
		region.Unlink()
	})

	hp, err := region.At(0, poolHdrSize)
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}
	p.hdr = (*poolHdr)(hp)
	p.hdr.magic = poolMagic
	p.hdr.version = poolVersion
	p.hdr.count = uint32(count)
	p.hdr.elemSize = uint32(elemSize)
	p.hdr.privSize = uint32(privSize)
	p.hdr.dataRoom = uint32(dataRoom)

	// Chain every slot onto the free stack: slot i links to i+1, the last
	// slot terminates the list.
	for i := 0; i < count; i++ {
		h, err := p.bufHdrAt(uint32(i))
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("create pool %s: %w", name, err)
		}
		*h = bufHdr{}
		if i+1 < count {
			h.next = uint32(i) + 2
		}
	}
	atomic.StoreUint64(&p.hdr.freeHead, packHead(0, 1))

	return p, nil
}

// Attach maps an existing pool created by another process.
func Attach(name string, cacheSize int) (*Pool, error) {
	// Map just the header first to learn the geometry.
	region, err := shm.Map(name, poolHdrSize, false, false)
	if err != nil {
		return nil, fmt.Errorf("attach pool %s: %w", name, err)
	}
	hp, err := region.At(0, poolHdrSize)
	if err != nil {
		region.Unmap()
		return nil, fmt.Errorf("attach pool %s: %w", name, err)
	}
	hdr := (*poolHdr)(hp)
	if hdr.magic != poolMagic || hdr.version != poolVersion {
		region.Unmap()
		return nil, fmt.Errorf("%w: %s", errBadHeader, name)
	}
	count := int(hdr.count)
	elemSize := int(hdr.elemSize)
	privSize := int(hdr.privSize)
	dataRoom := int(hdr.dataRoom)
	region.Unmap()

	total := poolHdrSize + count*elemSize
	region, err = shm.Map(name, total, false, false)
	if err != nil {
		return nil, fmt.Errorf("attach pool %s: %w", name, err)
	}
	hp, err = region.At(0, poolHdrSize)
	if err != nil {
		region.Unmap()
		return nil, fmt.Errorf("attach pool %s: %w", name, err)
	}

	p := &Pool{
		region:    region,
		hdr:       (*poolHdr)(hp),
		name:      name,
		count:     count,
		elemSize:  elemSize,
		privSize:  privSize,
		dataRoom:  dataRoom,
		node:      -1,
		cacheSize: cacheSize,
		cache:     make([]uint32, 0, cacheSize),
	}
	// An attached handle unmaps on destroy but never unlinks; the creator
	// owns the segment.
	p.cleanups = append(p.cleanups, func() { region.Unmap() })
	return p, nil
}

// Name returns the pool's segment name.
func (p *Pool) Name() string { return p.name }

// Count returns the pool capacity in buffers.
func (p *Pool) Count() int { return p.count }

// DataRoom returns the per-buffer payload capacity including headroom.
func (p *Pool) DataRoom() int { return p.dataRoom }

// Node returns the NUMA node the pool was created for, or -1 if unknown.
func (p *Pool) Node() int { return p.node }

// Region exposes the underlying shared-memory region.
func (p *Pool) Region() *shm.Region { return p.region }

// Destroy flushes the handle and runs the registered cleanups, unmapping
// (and for the creating handle, unlinking) the region.
func (p *Pool) Destroy() {
	p.flushCache(len(p.cache))
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
	p.cleanups = nil
	p.hdr = nil
}

func (p *Pool) slotRef(idx uint32) shm.Ref {
	return shm.Ref(poolHdrSize + int(idx)*p.elemSize)
}

func (p *Pool) bufHdrAt(idx uint32) (*bufHdr, error) {
	hp, err := p.region.At(p.slotRef(idx), bufHdrSize)
	if err != nil {
		return nil, err
	}
	return (*bufHdr)(hp), nil
}

// sharedPop removes one slot from the shared free stack.
func (p *Pool) sharedPop() (uint32, bool) {
	for {
		old := atomic.LoadUint64(&p.hdr.freeHead)
		idx1 := headIdx(old)
		if idx1 == 0 {
			return 0, false
		}
		h, err := p.bufHdrAt(idx1 - 1)
		if err != nil {
			return 0, false
		}
		next := atomic.LoadUint32(&h.next)
		if atomic.CompareAndSwapUint64(&p.hdr.freeHead, old, packHead(headTag(old)+1, next)) {
			return idx1 - 1, true
		}
	}
}

// sharedPush returns one slot to the shared free stack.
func (p *Pool) sharedPush(idx uint32) {
	h, err := p.bufHdrAt(idx)
	if err != nil {
		return
	}
	for {
		old := atomic.LoadUint64(&p.hdr.freeHead)
		atomic.StoreUint32(&h.next, headIdx(old))
		if atomic.CompareAndSwapUint64(&p.hdr.freeHead, old, packHead(headTag(old)+1, idx+1)) {
			return
		}
	}
}

func (p *Pool) flushCache(n int) {
	for i := 0; i < n && len(p.cache) > 0; i++ {
		idx := p.cache[len(p.cache)-1]
		p.cache = p.cache[:len(p.cache)-1]
		p.sharedPush(idx)
	}
}

// Alloc takes one buffer from the pool and resets it: reference count one,
// data window empty and positioned after the headroom.
func (p *Pool) Alloc() (*Buf, error) {
	var idx uint32
	if n := len(p.cache); n > 0 {
		idx = p.cache[n-1]
		p.cache = p.cache[:n-1]
	} else {
		var ok bool
		idx, ok = p.sharedPop()
		if !ok {
			return nil, ErrExhausted
		}
	}

	h, err := p.bufHdrAt(idx)
	if err != nil {
		return nil, err
	}
	atomic.StoreInt32(&h.refcnt, 1)
	h.flags = 0
	h.dataOff = Headroom
	h.dataLen = 0
	return &Buf{pool: p, idx: idx}, nil
}

// free returns a slot to the pool, preferring the local cache and spilling
// half of it to the shared stack when it overfills.
func (p *Pool) free(idx uint32) {
	if p.cacheSize == 0 {
		p.sharedPush(idx)
		return
	}
	p.cache = append(p.cache, idx)
	if len(p.cache) > p.cacheSize {
		p.flushCache(p.cacheSize / 2)
	}
}

// Translate converts a buffer to the shared-memory reference of its current
// data start. It is valid in every process attached to the pool's region.
func (p *Pool) Translate(b *Buf) shm.Ref {
	h, _ := p.bufHdrAt(b.idx)
	return p.slotRef(b.idx) + shm.Ref(bufHdrSize+p.privSize) + shm.Ref(h.dataOff)
}

// BufFromRef resolves a shared-memory reference produced by Translate back
// to a buffer handle on this pool.
func (p *Pool) BufFromRef(ref shm.Ref) (*Buf, error) {
	off := int64(ref) - poolHdrSize
	if off < 0 {
		return nil, fmt.Errorf("mempool: ref %d outside slot area", ref)
	}
	idx := off / int64(p.elemSize)
	if idx >= int64(p.count) {
		return nil, fmt.Errorf("mempool: ref %d outside slot area", ref)
	}
	return &Buf{pool: p, idx: uint32(idx)}, nil
}
