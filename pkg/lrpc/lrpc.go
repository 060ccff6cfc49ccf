// Package lrpc implements lock-free single-producer/single-consumer command
// channels carrying fixed-width (command, payload) records. The message table
// and the consumer-position write-back word may live in shared memory, so a
// channel can span a process boundary; each direction has exactly one writer
// and one reader.
//
// The protocol follows a parity scheme: the producer publishes a slot by
// storing the command word with a parity bit that flips on every pass over
// the ring, so the consumer can detect a filled slot without a shared head
// cursor. The consumer writes its position back through a separate word the
// producer reads only when the ring looks full.
package lrpc

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// Msg is one channel record. The top bit of Cmd is reserved for the parity
// flag; commands must fit in the low 63 bits.
type Msg struct {
	Cmd     uint64
	Payload uint64
}

// MsgSize is the wire size of one record.
const MsgSize = int(unsafe.Sizeof(Msg{}))

const doneParity = uint64(1) << 63

// CmdMask extracts the command from a published command word.
const CmdMask = ^doneParity

var errNotPowerOfTwo = errors.New("lrpc: message count must be a power of two")

// ChanOut is the sending endpoint of a channel.
type ChanOut struct {
	tbl      []Msg
	recvPosW *uint32 // consumer position, written back by the receiver
	sendHead uint32
	sendTail uint32 // cached copy of *recvPosW
}

// ChanIn is the receiving endpoint of a channel.
type ChanIn struct {
	tbl      []Msg
	recvPosW *uint32
	recvHead uint32
}

// InitOut initializes a sending endpoint over the given message table and
// consumer-position word. The table length must be a power of two.
func InitOut(tbl []Msg, recvPosW *uint32) (*ChanOut, error) {
	if len(tbl) == 0 || len(tbl)&(len(tbl)-1) != 0 {
		return nil, errNotPowerOfTwo
	}
	return &ChanOut{tbl: tbl, recvPosW: recvPosW}, nil
}

// InitIn initializes a receiving endpoint over the given message table and
// consumer-position word. The table length must be a power of two.
func InitIn(tbl []Msg, recvPosW *uint32) (*ChanIn, error) {
	if len(tbl) == 0 || len(tbl)&(len(tbl)-1) != 0 {
		return nil, errNotPowerOfTwo
	}
	return &ChanIn{tbl: tbl, recvPosW: recvPosW}, nil
}

// NewPair allocates backing storage for one channel of n messages and
// returns its two endpoints. Used when both ends live in the same process.
func NewPair(n int) (*ChanIn, *ChanOut, error) {
	tbl := make([]Msg, n)
	posW := new(uint32)
	in, err := InitIn(tbl, posW)
	if err != nil {
		return nil, nil, err
	}
	out, err := InitOut(tbl, posW)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// TableView reinterprets raw bytes (typically inside a shared-memory region)
// as a message table of n records. The byte slice must hold n*MsgSize bytes.
func TableView(b []byte, n int) []Msg {
	_ = b[n*MsgSize-1]
	return unsafe.Slice((*Msg)(unsafe.Pointer(&b[0])), n)
}

// PosView reinterprets 4 raw bytes as a consumer-position word.
func PosView(b []byte) *uint32 {
	_ = b[3]
	return (*uint32)(unsafe.Pointer(&b[0]))
}

func (c *ChanOut) size() uint32 { return uint32(len(c.tbl)) }

// Send publishes one record. It never blocks; it reports false if the
// channel is full. cmd must not use the reserved top bit.
func (c *ChanOut) Send(cmd, payload uint64) bool {
	if cmd&doneParity != 0 {
		panic("lrpc: command uses reserved parity bit")
	}

	if c.sendHead-c.sendTail >= c.size() {
		c.sendTail = atomic.LoadUint32(c.recvPosW)
		if c.sendHead-c.sendTail == c.size() {
			return false
		}
	}

	m := &c.tbl[c.sendHead&(c.size()-1)]
	parity := uint64(0)
	if c.sendHead&c.size() == 0 {
		parity = doneParity
	}
	m.Payload = payload
	atomic.StoreUint64(&m.Cmd, cmd|parity)
	c.sendHead++
	return true
}

func (c *ChanIn) size() uint32 { return uint32(len(c.tbl)) }

// Recv consumes one record. It never blocks; ok is false when the channel
// is empty.
func (c *ChanIn) Recv() (cmd, payload uint64, ok bool) {
	m := &c.tbl[c.recvHead&(c.size()-1)]
	parity := uint64(0)
	if c.recvHead&c.size() == 0 {
		parity = doneParity
	}
	w := atomic.LoadUint64(&m.Cmd)
	if w&doneParity != parity {
		return 0, 0, false
	}
	payload = m.Payload
	c.recvHead++
	atomic.StoreUint32(c.recvPosW, c.recvHead)
	return w & CmdMask, payload, true
}
