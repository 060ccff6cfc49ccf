package dataplane

import (
	"log/slog"
	"math/rand"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/ingress"
	"github.com/vmsearch/shenango/pkg/mempool"
	"github.com/vmsearch/shenango/pkg/proc"
	"github.com/vmsearch/shenango/pkg/shm"
)

// prependPreamble writes the receive preamble onto the front of the buffer
// and returns the shared-memory reference of the preamble start. Headroom
// for the preamble is reserved in every buffer, so this cannot fail on a
// pool buffer. The preamble is computed once per buffer; broadcast
// recipients all view the same bytes.
func (d *Dataplane) prependPreamble(b *mempool.Buf) (shm.Ref, error) {
	front, err := b.Prepend(ingress.RxHdrSize)
	if err != nil {
		return 0, err
	}
	csum := ingress.CsumNeeded
	if b.Flags()&mempool.CsumMask == mempool.CsumGood {
		csum = ingress.CsumUnnecessary
	}
	ingress.RxHdr{
		Len:      uint32(b.Len() - ingress.RxHdrSize),
		CsumType: csum,
	}.Encode(front)
	return d.pool.Translate(b), nil
}

// enqueueToProc pushes a (RxNetRecv, ref) record onto the ingress channel
// of one of the process's threads, chosen uniformly at random to spread
// load. The push is non-blocking; false means the channel was full.
func (d *Dataplane) enqueueToProc(ref shm.Ref, p *proc.Proc) bool {
	t := &p.Threads[rand.Intn(len(p.Threads))]
	return t.RxQ.Send(ingress.RxNetRecv, uint64(ref))
}

// processBurst drains one burst of received packets from the port and
// classifies each by destination hardware address. Every drop path frees
// the buffer exactly once and logs a warning; nothing here stops the loop.
func (d *Dataplane) processBurst() {
	nb := d.port.RxBurst(0, d.rxBufs)
	if nb > 0 {
		slog.Debug("received packets", "count", nb)
	}

	for i := 0; i < nb; i++ {
		b := d.rxBufs[i]
		d.rxBufs[i] = nil
		d.stats.rxPackets.Add(1)
		d.stats.rxBytes.Add(uint64(b.Len()))

		dst, err := eth.DstAddr(b.Bytes())
		if err != nil {
			slog.Warn("dropping unparseable frame", "bytes", b.Len(), "err", err)
			d.stats.dropsUnhandled.Add(1)
			b.Free()
			continue
		}

		switch {
		// Unicast here is group-bit-only: a zero destination is treated as
		// an ordinary lookup miss, not an unhandled class.
		case !dst.IsMulticast():
			p, ok := d.lookup(dst)
			if !ok {
				slog.Warn("received packet for unregistered address", "dst", dst)
				d.stats.dropsNoClient.Add(1)
				b.Free()
				continue
			}
			ref, err := d.prependPreamble(b)
			if err != nil {
				slog.Warn("failed to prepend preamble", "err", err)
				d.stats.dropsUnhandled.Add(1)
				b.Free()
				continue
			}
			if !d.enqueueToProc(ref, p) {
				slog.Warn("failed to enqueue unicast packet", "dst", dst)
				d.stats.dropsQueueFull.Add(1)
				b.Free()
				continue
			}
			d.stats.delivered.Add(1)

		case dst.IsBroadcast() && len(d.clients) > 0:
			ref, err := d.prependPreamble(b)
			if err != nil {
				slog.Warn("failed to prepend preamble", "err", err)
				d.stats.dropsUnhandled.Add(1)
				b.Free()
				continue
			}
			sent := 0
			for _, p := range d.clients {
				if d.enqueueToProc(ref, p) {
					sent++
				} else {
					slog.Warn("failed to enqueue broadcast packet", "mac", p.MAC)
				}
			}
			if sent == 0 {
				b.Free()
				d.stats.dropsQueueFull.Add(1)
				continue
			}
			// The count is raised only after every enqueue has finished:
			// the first successful send rides the allocation's implicit
			// reference, the rest are added here. Adjusting before the
			// sends would let a receiver release the buffer while fan-out
			// is still accounting for it.
			b.RefUpdate(int32(sent - 1))
			d.stats.delivered.Add(1)
			d.stats.broadcastSends.Add(uint64(sent))

		default:
			slog.Warn("unhandled packet classification", "dst", dst)
			d.stats.dropsUnhandled.Add(1)
			b.Free()
		}
	}
}
