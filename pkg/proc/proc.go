// Package proc holds the dataplane's view of client process descriptors.
// The control plane owns descriptor lifecycle; the dataplane holds
// non-owning references and must never be the one to destroy a process.
// Descriptors cross the control channel as opaque 64-bit handles resolved
// through a Table.
package proc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/lrpc"
)

// MaxThreads bounds the number of kernel threads one client may register.
const MaxThreads = 64

// ErrBadDescriptor indicates a control header that fails validation.
var ErrBadDescriptor = errors.New("proc: invalid process descriptor")

// Thread is one client thread from the dataplane's perspective: the sending
// endpoint of the thread's ingress channel, whose storage lives in the
// client's shared-memory region.
type Thread struct {
	RxQ *lrpc.ChanOut
}

// Proc describes one client runtime.
type Proc struct {
	ID      uint64
	MAC     eth.Addr
	Threads []Thread
}

// New validates and builds a process descriptor. Zero and multicast
// hardware addresses are rejected, as are empty or oversized thread sets,
// mirroring the checks applied to a client's control header.
func New(id uint64, mac eth.Addr, threads []Thread) (*Proc, error) {
	if mac.IsZero() || mac.IsMulticast() {
		return nil, fmt.Errorf("%w: bad address %s", ErrBadDescriptor, mac)
	}
	if len(threads) == 0 || len(threads) > MaxThreads {
		return nil, fmt.Errorf("%w: %d threads", ErrBadDescriptor, len(threads))
	}
	return &Proc{ID: id, MAC: mac, Threads: threads}, nil
}

// Table resolves opaque process handles carried on the control channel.
// The control plane inserts and removes entries; the dataplane only reads.
type Table struct {
	mu    sync.RWMutex
	procs map[uint64]*Proc
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{procs: make(map[uint64]*Proc)}
}

// Put registers a descriptor under its ID.
func (t *Table) Put(p *Proc) {
	t.mu.Lock()
	t.procs[p.ID] = p
	t.mu.Unlock()
}

// Get resolves a handle.
func (t *Table) Get(id uint64) (*Proc, bool) {
	t.mu.RLock()
	p, ok := t.procs[id]
	t.mu.RUnlock()
	return p, ok
}

// Delete drops a handle. The descriptor itself stays alive for as long as
// the control plane keeps it.
func (t *Table) Delete(id uint64) {
	t.mu.Lock()
	delete(t.procs, id)
	t.mu.Unlock()
}
