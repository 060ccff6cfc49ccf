package dataplane

import "log/slog"

// drainControl handles up to ControlBurstSize pending control commands.
// The cap bounds the tail latency the control path can add to one polling
// iteration no matter how many commands are queued; leftovers wait for the
// next iteration. Unrecognized commands are logged and skipped.
func (d *Dataplane) drainControl() {
	for n := 0; n < ControlBurstSize; n++ {
		cmd, payload, ok := d.ctrlIn.Recv()
		if !ok {
			return
		}
		d.stats.controlCmds.Add(1)

		switch cmd {
		case CmdAddClient, CmdRemoveClient:
			p, ok := d.procs.Get(payload)
			if !ok {
				slog.Error("control command references unknown process",
					"cmd", cmd, "handle", payload)
				continue
			}
			if cmd == CmdAddClient {
				d.addClient(p)
			} else {
				d.removeClient(p)
			}
		default:
			slog.Error("received unrecognized control command", "cmd", cmd)
		}
	}
}
