//go:build !linux

package ethdev

import (
	"errors"

	"github.com/vmsearch/shenango/pkg/mempool"
)

// OpenAFPacket is only available on Linux.
func OpenAFPacket(ifname string, pool *mempool.Pool) (Port, error) {
	return nil, errors.New("ethdev: AF_PACKET ports require Linux")
}
