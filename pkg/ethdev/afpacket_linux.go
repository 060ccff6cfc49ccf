//go:build linux

package ethdev

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/mempool"
)

// AFPacketPort receives frames through a raw AF_PACKET socket bound to one
// interface, filling buffers from the shared packet pool.
type AFPacketPort struct {
	link       netlink.Link
	fd         int
	mac        eth.Addr
	node       int
	pool       *mempool.Pool
	configured bool
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// OpenAFPacket binds a raw socket to the named interface and brings it up.
// Received frames are copied into buffers allocated from pool.
func OpenAFPacket(ifname string, pool *mempool.Pool) (*AFPacketPort, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("ethdev: lookup %s: %w", ifname, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("ethdev: set %s up: %w", ifname, err)
	}

	hw := link.Attrs().HardwareAddr
	if len(hw) != eth.AddrLen {
		return nil, fmt.Errorf("ethdev: %s has no hardware address", ifname)
	}
	var mac eth.Addr
	copy(mac[:], hw)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC,
		int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("ethdev: socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  link.Attrs().Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ethdev: bind %s: %w", ifname, err)
	}

	p := &AFPacketPort{
		link: link,
		fd:   fd,
		mac:  mac,
		node: numaNode(ifname),
		pool: pool,
	}
	slog.Info("port opened", "interface", ifname, "mac", mac, "numa_node", p.node)
	return p, nil
}

// numaNode reads the device's NUMA node from sysfs; -1 when unknown.
func numaNode(ifname string) int {
	b, err := os.ReadFile("/sys/class/net/" + ifname + "/device/numa_node")
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return -1
	}
	return n
}

// Configure applies the ring configuration. Descriptor counts size the
// socket receive buffer; ring counts other than 1/1 are rejected.
func (p *AFPacketPort) Configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	rcvbuf := cfg.RxDescriptors * p.pool.DataRoom()
	if err := unix.SetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf); err != nil {
		return fmt.Errorf("ethdev: set receive buffer: %w", err)
	}
	p.configured = true
	return nil
}

// MAC returns the port's hardware address.
func (p *AFPacketPort) MAC() eth.Addr { return p.mac }

// Node returns the port's NUMA node, or -1 if unknown.
func (p *AFPacketPort) Node() int { return p.node }

// EnablePromiscuous turns on promiscuous reception for the interface.
func (p *AFPacketPort) EnablePromiscuous() error {
	if err := netlink.SetPromiscOn(p.link); err != nil {
		return fmt.Errorf("ethdev: promiscuous on %s: %w", p.link.Attrs().Name, err)
	}
	return nil
}

// RxBurst drains up to len(bufs) frames from the socket without blocking.
func (p *AFPacketPort) RxBurst(queue int, bufs []*mempool.Buf) int {
	if queue != 0 {
		return 0
	}
	n := 0
	for n < len(bufs) {
		b, err := p.pool.Alloc()
		if err != nil {
			slog.Warn("receive burst out of buffers", "err", err)
			break
		}
		sz, _, err := unix.Recvfrom(p.fd, b.Room(), unix.MSG_DONTWAIT)
		if err != nil {
			b.Free()
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
				slog.Warn("receive failed", "err", err)
			}
			break
		}
		if err := b.SetLen(sz); err != nil {
			slog.Warn("oversized frame dropped", "bytes", sz)
			b.Free()
			continue
		}
		b.SetFlags(mempool.CsumUnknown)
		bufs[n] = b
		n++
	}
	return n
}

// Close releases the socket. Promiscuous mode is left as-is; the interface
// is shared with the rest of the host.
func (p *AFPacketPort) Close() error {
	if p.fd >= 0 {
		err := unix.Close(p.fd)
		p.fd = -1
		return err
	}
	return nil
}
