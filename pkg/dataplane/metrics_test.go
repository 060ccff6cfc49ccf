package dataplane

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/mempool"
)

func TestCollector(t *testing.T) {
	h := newHarness(t, 4)
	mac := eth.Addr{0x02, 0, 0, 0, 0, 0xd0}
	c := h.newClient(t, 1, mac, 1, 8)
	h.dp.addClient(c.p)

	h.port.inject(frame(mac, srcMAC, []byte("counted")), mempool.CsumGood)
	h.port.inject(frame(eth.Addr{0x02, 0, 0, 0, 0, 0xd1}, srcMAC, []byte("dropped")), mempool.CsumGood)
	h.dp.processBurst()

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(h.dp)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			if m.GetCounter() != nil {
				got[key] = m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				got[key] = m.GetGauge().GetValue()
			}
		}
	}

	want := map[string]float64{
		"iokernel_rx_packets_total":        2,
		"iokernel_delivered_total":         1,
		"iokernel_drops_total{reason=no_client}": 1,
		"iokernel_clients_registered":      1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}
