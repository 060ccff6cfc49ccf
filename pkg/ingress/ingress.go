// Package ingress defines the ABI of a client's ingress queue: the message
// kinds carried on a thread's receive channel and the preamble prepended to
// every delivered packet buffer. Client runtimes decode these records from
// shared memory, so the layout is fixed little-endian.
package ingress

import "encoding/binary"

// Message kinds delivered on a thread's ingress channel.
const (
	// RxNetRecv carries a shared-memory reference to a preamble-prefixed
	// packet buffer.
	RxNetRecv uint64 = 0
)

// CsumType reports the receive checksum status to the client.
type CsumType uint16

const (
	// CsumNeeded means the client must validate the checksum itself.
	CsumNeeded CsumType = iota
	// CsumUnnecessary means hardware already validated the checksum.
	CsumUnnecessary
)

// RxHdrSize is the encoded size of the receive preamble.
const RxHdrSize = 16

// RxHdr is the receive preamble prepended to each delivered buffer. Exactly
// one preamble precedes each handed-off buffer; for broadcast traffic all
// recipients view the same one.
type RxHdr struct {
	Len      uint32 // payload length, excluding the preamble itself
	RSSHash  uint32 // reserved, always zero for now
	CsumType CsumType
	Csum     uint16 // reserved, always zero for now
}

// Encode writes the preamble into b, which must hold RxHdrSize bytes.
func (h RxHdr) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Len)
	binary.LittleEndian.PutUint32(b[4:8], h.RSSHash)
	binary.LittleEndian.PutUint16(b[8:10], uint16(h.CsumType))
	binary.LittleEndian.PutUint16(b[10:12], h.Csum)
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

// DecodeRxHdr reads a preamble from b, which must hold RxHdrSize bytes.
func DecodeRxHdr(b []byte) RxHdr {
	return RxHdr{
		Len:      binary.LittleEndian.Uint32(b[0:4]),
		RSSHash:  binary.LittleEndian.Uint32(b[4:8]),
		CsumType: CsumType(binary.LittleEndian.Uint16(b[8:10])),
		Csum:     binary.LittleEndian.Uint16(b[10:12]),
	}
}
