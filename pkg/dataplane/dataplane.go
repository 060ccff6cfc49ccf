// Package dataplane implements the packet classification-and-forwarding
// engine: a single polling goroutine that owns the network port, classifies
// every received frame by destination hardware address, and hands
// zero-copy shared-memory references into the owning clients' ingress
// queues. All engine state lives in an explicit Dataplane context so tests
// can build a fresh engine per case; nothing here is safe for concurrent
// mutation — exactly one goroutine runs the engine.
package dataplane

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/ethdev"
	"github.com/vmsearch/shenango/pkg/lrpc"
	"github.com/vmsearch/shenango/pkg/mempool"
	"github.com/vmsearch/shenango/pkg/proc"
)

const (
	// PktBurstSize bounds the packets drained from the port per iteration.
	PktBurstSize = 32

	// ControlBurstSize bounds the control commands handled per iteration.
	ControlBurstSize = 8

	// MaxClients bounds the number of simultaneously registered processes.
	MaxClients = 128
)

// Commands on the control→dataplane channel. Payload is an opaque process
// handle resolved through the proc table.
const (
	CmdAddClient uint64 = iota + 1
	CmdRemoveClient
)

// Notifications on the dataplane→control channel.
const (
	NotifyClientRemoved uint64 = iota + 1
)

var errMissingOption = errors.New("dataplane: missing required option")

// Options carries the collaborators a Dataplane is built from.
type Options struct {
	Pool       *mempool.Pool
	Port       ethdev.Port
	Procs      *proc.Table
	ControlIn  *lrpc.ChanIn  // commands from the control plane
	ControlOut *lrpc.ChanOut // notifications to the control plane
}

type stats struct {
	rxPackets      atomic.Uint64
	rxBytes        atomic.Uint64
	delivered      atomic.Uint64
	broadcastSends atomic.Uint64
	dropsNoClient  atomic.Uint64
	dropsQueueFull atomic.Uint64
	dropsUnhandled atomic.Uint64
	controlCmds    atomic.Uint64
	clients        atomic.Int64
}

// Dataplane is the engine context. One goroutine owns it exclusively.
type Dataplane struct {
	pool      *mempool.Pool
	port      ethdev.Port
	procs     *proc.Table
	ctrlIn    *lrpc.ChanIn
	ctrlOut   *lrpc.ChanOut
	clients   []*proc.Proc
	macToProc map[eth.Addr]*proc.Proc
	rxBufs    []*mempool.Buf
	stats     stats
}

// New builds an engine over its collaborators.
func New(opts Options) (*Dataplane, error) {
	if opts.Pool == nil || opts.Port == nil || opts.Procs == nil ||
		opts.ControlIn == nil || opts.ControlOut == nil {
		return nil, errMissingOption
	}
	return &Dataplane{
		pool:      opts.Pool,
		port:      opts.Port,
		procs:     opts.Procs,
		ctrlIn:    opts.ControlIn,
		ctrlOut:   opts.ControlOut,
		clients:   make([]*proc.Proc, 0, MaxClients),
		macToProc: make(map[eth.Addr]*proc.Proc, MaxClients),
		rxBufs:    make([]*mempool.Buf, PktBurstSize),
	}, nil
}

// addClient registers a process for packet delivery.
//
// The client-list append happens before the address-table insert, matching
// the established ordering: an insert failure leaves the client in the list
// but unreachable by lookup. The duplicate-address check up front removes
// the only insert-failure cause a map can have, so the window cannot open
// here, but the ordering is preserved.
func (d *Dataplane) addClient(p *proc.Proc) {
	if len(d.clients) >= MaxClients {
		slog.Error("client registry full", "mac", p.MAC, "capacity", MaxClients)
		return
	}
	if _, ok := d.macToProc[p.MAC]; ok {
		slog.Error("address already registered", "mac", p.MAC)
		return
	}

	d.clients = append(d.clients, p)
	d.macToProc[p.MAC] = p
	d.stats.clients.Store(int64(len(d.clients)))
	slog.Info("client added", "mac", p.MAC, "threads", len(p.Threads))
}

// removeClient unregisters a process and notifies the control plane so it
// can tear down its descriptor. Removing an absent process is a warned
// no-op. The client list is swap-removed, so iteration order over clients
// is unspecified after any removal.
func (d *Dataplane) removeClient(p *proc.Proc) {
	i := 0
	for ; i < len(d.clients); i++ {
		if d.clients[i] == p {
			break
		}
	}
	if i == len(d.clients) {
		slog.Warn("removal requested for unregistered process", "mac", p.MAC)
		return
	}

	d.clients[i] = d.clients[len(d.clients)-1]
	d.clients[len(d.clients)-1] = nil
	d.clients = d.clients[:len(d.clients)-1]
	delete(d.macToProc, p.MAC)
	d.stats.clients.Store(int64(len(d.clients)))
	slog.Info("client removed", "mac", p.MAC)

	if !d.ctrlOut.Send(NotifyClientRemoved, p.ID) {
		slog.Error("failed to inform control plane of client removal", "mac", p.MAC)
	}
}

// lookup resolves the owning process of a destination hardware address.
func (d *Dataplane) lookup(mac eth.Addr) (*proc.Proc, bool) {
	p, ok := d.macToProc[mac]
	return p, ok
}
