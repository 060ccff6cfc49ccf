package dataplane

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements prometheus.Collector, reading the engine's atomic
// counters on each scrape. The counters are written only by the polling
// goroutine; scrapes read them from the metrics listener's goroutine.
type Collector struct {
	dp *Dataplane

	rxPacketsTotal      *prometheus.Desc
	rxBytesTotal        *prometheus.Desc
	deliveredTotal      *prometheus.Desc
	broadcastSendsTotal *prometheus.Desc
	dropsTotal          *prometheus.Desc
	controlCmdsTotal    *prometheus.Desc
	clientsRegistered   *prometheus.Desc
}

// NewCollector creates a collector over one engine.
func NewCollector(dp *Dataplane) *Collector {
	return &Collector{
		dp: dp,

		rxPacketsTotal: prometheus.NewDesc(
			"iokernel_rx_packets_total",
			"Total packets received from the port.",
			nil, nil,
		),
		rxBytesTotal: prometheus.NewDesc(
			"iokernel_rx_bytes_total",
			"Total bytes received from the port.",
			nil, nil,
		),
		deliveredTotal: prometheus.NewDesc(
			"iokernel_delivered_total",
			"Total packets delivered to at least one client.",
			nil, nil,
		),
		broadcastSendsTotal: prometheus.NewDesc(
			"iokernel_broadcast_sends_total",
			"Total per-client enqueues of broadcast packets.",
			nil, nil,
		),
		dropsTotal: prometheus.NewDesc(
			"iokernel_drops_total",
			"Total packets dropped.",
			[]string{"reason"}, nil,
		),
		controlCmdsTotal: prometheus.NewDesc(
			"iokernel_control_commands_total",
			"Total control-plane commands handled.",
			nil, nil,
		),
		clientsRegistered: prometheus.NewDesc(
			"iokernel_clients_registered",
			"Currently registered client processes.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rxPacketsTotal
	ch <- c.rxBytesTotal
	ch <- c.deliveredTotal
	ch <- c.broadcastSendsTotal
	ch <- c.dropsTotal
	ch <- c.controlCmdsTotal
	ch <- c.clientsRegistered
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := &c.dp.stats
	ch <- prometheus.MustNewConstMetric(c.rxPacketsTotal,
		prometheus.CounterValue, float64(s.rxPackets.Load()))
	ch <- prometheus.MustNewConstMetric(c.rxBytesTotal,
		prometheus.CounterValue, float64(s.rxBytes.Load()))
	ch <- prometheus.MustNewConstMetric(c.deliveredTotal,
		prometheus.CounterValue, float64(s.delivered.Load()))
	ch <- prometheus.MustNewConstMetric(c.broadcastSendsTotal,
		prometheus.CounterValue, float64(s.broadcastSends.Load()))
	ch <- prometheus.MustNewConstMetric(c.dropsTotal,
		prometheus.CounterValue, float64(s.dropsNoClient.Load()), "no_client")
	ch <- prometheus.MustNewConstMetric(c.dropsTotal,
		prometheus.CounterValue, float64(s.dropsQueueFull.Load()), "queue_full")
	ch <- prometheus.MustNewConstMetric(c.dropsTotal,
		prometheus.CounterValue, float64(s.dropsUnhandled.Load()), "unhandled")
	ch <- prometheus.MustNewConstMetric(c.controlCmdsTotal,
		prometheus.CounterValue, float64(s.controlCmds.Load()))
	ch <- prometheus.MustNewConstMetric(c.clientsRegistered,
		prometheus.GaugeValue, float64(s.clients.Load()))
}
