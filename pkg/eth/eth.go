// Package eth provides Ethernet frame parsing for the dispatch path: the
// 6-byte hardware address type, destination classification, and the
// source/destination swap helpers used by loopback testing.
package eth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// AddrLen is the length of a hardware address in bytes.
const AddrLen = 6

// HeaderLen is the length of an Ethernet header without VLAN tags.
const HeaderLen = 14

// EtherType values the dispatcher cares about.
const (
	TypeIPv4 uint16 = 0x0800
)

// Minimum IPv4 header length; only enough of the network layer is parsed
// to swap addresses.
const ipv4MinHeaderLen = 20

var (
	// ErrFrameTooShort indicates a frame shorter than an Ethernet header.
	ErrFrameTooShort = errors.New("eth: frame too short")

	errBadAddr = errors.New("eth: malformed hardware address")
)

// Addr is a 6-byte hardware (MAC) address.
type Addr [AddrLen]byte

// Broadcast is the all-ones address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// String formats the address as aa:bb:cc:dd:ee:ff.
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is all zeros.
func (a Addr) IsZero() bool { return a == Addr{} }

// IsMulticast reports whether the group bit is set.
func (a Addr) IsMulticast() bool { return a[0]&0x01 != 0 }

// IsUnicast reports whether the address is a valid unicast address.
func (a Addr) IsUnicast() bool { return !a.IsMulticast() && !a.IsZero() }

// IsBroadcast reports whether the address is all ones.
func (a Addr) IsBroadcast() bool { return a == Broadcast }

// ParseAddr parses an aa:bb:cc:dd:ee:ff string.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&a[0], &a[1], &a[2], &a[3], &a[4], &a[5])
	if err != nil || n != AddrLen {
		return Addr{}, fmt.Errorf("%w: %q", errBadAddr, s)
	}
	return a, nil
}

// DstAddr extracts the destination hardware address from a frame.
func DstAddr(frame []byte) (Addr, error) {
	if len(frame) < HeaderLen {
		return Addr{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	var a Addr
	copy(a[:], frame[:AddrLen])
	return a, nil
}

// EtherType extracts the EtherType field from a frame.
func EtherType(frame []byte) (uint16, error) {
	if len(frame) < HeaderLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	return binary.BigEndian.Uint16(frame[2*AddrLen:]), nil
}

// SwapEtherSrcDst swaps the source and destination hardware addresses in
// place.
func SwapEtherSrcDst(frame []byte) error {
	if len(frame) < HeaderLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	var tmp [AddrLen]byte
	copy(tmp[:], frame[:AddrLen])
	copy(frame[:AddrLen], frame[AddrLen:2*AddrLen])
	copy(frame[AddrLen:2*AddrLen], tmp[:])
	return nil
}

// SwapIPSrcDst swaps the source and destination IPv4 addresses in place.
// Non-IPv4 frames are left untouched with a warning, matching the original
// behavior; IPv6 is unsupported.
func SwapIPSrcDst(frame []byte) error {
	et, err := EtherType(frame)
	if err != nil {
		return err
	}
	if et != TypeIPv4 {
		slog.Warn("ether type is not supported", "ethertype", fmt.Sprintf("%#04x", et))
		return nil
	}
	if len(frame) < HeaderLen+ipv4MinHeaderLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	ip := frame[HeaderLen:]
	var tmp [4]byte
	copy(tmp[:], ip[12:16])
	copy(ip[12:16], ip[16:20])
	copy(ip[16:20], tmp[:])
	return nil
}
