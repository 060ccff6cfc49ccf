// Package ethdev abstracts the network port the dataplane polls. The
// dispatch engine depends only on the Port interface; the AF_PACKET
// implementation binds it to a real interface on Linux.
package ethdev

import (
	"errors"
	"fmt"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/mempool"
)

// Default descriptor counts for the single receive and transmit ring.
const (
	DefaultRxDescriptors = 128
	DefaultTxDescriptors = 512
)

// ErrUnsupportedConfig indicates a port configuration outside the modeled
// single-ring, single-queue operation.
var ErrUnsupportedConfig = errors.New("ethdev: unsupported port configuration")

// Config describes the port setup. Only one receive and one transmit ring
// are modeled.
type Config struct {
	RxRings       int
	TxRings       int
	RxDescriptors int
	TxDescriptors int
}

// DefaultConfig returns the standard single-queue configuration.
func DefaultConfig() Config {
	return Config{
		RxRings:       1,
		TxRings:       1,
		RxDescriptors: DefaultRxDescriptors,
		TxDescriptors: DefaultTxDescriptors,
	}
}

func (c Config) validate() error {
	if c.RxRings != 1 || c.TxRings != 1 {
		return fmt.Errorf("%w: rx_rings=%d tx_rings=%d", ErrUnsupportedConfig, c.RxRings, c.TxRings)
	}
	if c.RxDescriptors <= 0 || c.TxDescriptors <= 0 {
		return fmt.Errorf("%w: rx_desc=%d tx_desc=%d", ErrUnsupportedConfig, c.RxDescriptors, c.TxDescriptors)
	}
	return nil
}

// Port is the receive side of one network port. RxBurst must never block:
// it fills bufs with up to len(bufs) received packets drawn from the port's
// pool and returns immediately with the count, zero when nothing is ready.
type Port interface {
	Configure(Config) error
	MAC() eth.Addr
	Node() int
	EnablePromiscuous() error
	RxBurst(queue int, bufs []*mempool.Buf) int
	Close() error
}
