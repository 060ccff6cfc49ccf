package dataplane

import (
	"context"
	"log/slog"
)

// Run drives the polling loop: one burst of received packets, then one
// bounded batch of control commands, repeated until ctx is canceled. Both
// drains are non-blocking polls, so the loop never sleeps; cancellation is
// checked once per iteration.
func (d *Dataplane) Run(ctx context.Context) {
	if pn, dn := d.port.Node(), d.pool.Node(); pn >= 0 && dn >= 0 && pn != dn {
		slog.Warn("port is on a remote NUMA node to the packet pool, performance will not be optimal",
			"port_node", pn, "pool_node", dn)
	}
	slog.Info("dataplane running", "mac", d.port.MAC())

	for ctx.Err() == nil {
		d.processBurst()
		d.drainControl()
	}
	slog.Info("dataplane stopped")
}
