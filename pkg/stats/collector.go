package stats

import "github.com/prometheus/client_golang/prometheus"

var connectionLabels = []string{"connection", "endpoint"}

// Collector exports connection snapshots as Prometheus metrics.
type Collector struct {
	source Source

	rtt             *prometheus.Desc
	sentPackets     *prometheus.Desc
	sentBytes       *prometheus.Desc
	receivedPackets *prometheus.Desc
	receivedBytes   *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		rtt: prometheus.NewDesc(
			"udpwire_connection_roundtrip_seconds",
			"Smoothed roundtrip time per connection.",
			connectionLabels, nil),
		sentPackets: prometheus.NewDesc(
			"udpwire_connection_sent_packets_total",
			"Datagrams sent per connection.",
			connectionLabels, nil),
		sentBytes: prometheus.NewDesc(
			"udpwire_connection_sent_bytes_total",
			"Bytes sent per connection.",
			connectionLabels, nil),
		receivedPackets: prometheus.NewDesc(
			"udpwire_connection_received_packets_total",
			"Datagrams received per connection.",
			connectionLabels, nil),
		receivedBytes: prometheus.NewDesc(
			"udpwire_connection_received_bytes_total",
			"Bytes received per connection.",
			connectionLabels, nil),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.rtt
	descs <- c.sentPackets
	descs <- c.sentBytes
	descs <- c.receivedPackets
	descs <- c.receivedBytes
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for _, s := range c.source.ConnectionsSnapshot() {
		if s.RoundtripTime >= 0 {
			metrics <- prometheus.MustNewConstMetric(
				c.rtt, prometheus.GaugeValue, s.RoundtripTime, s.ID, s.Endpoint)
		}
		metrics <- prometheus.MustNewConstMetric(
			c.sentPackets, prometheus.CounterValue, float64(s.SentPackets), s.ID, s.Endpoint)
		metrics <- prometheus.MustNewConstMetric(
			c.sentBytes, prometheus.CounterValue, float64(s.SentBytes), s.ID, s.Endpoint)
		metrics <- prometheus.MustNewConstMetric(
			c.receivedPackets, prometheus.CounterValue, float64(s.ReceivedPackets), s.ID, s.Endpoint)
		metrics <- prometheus.MustNewConstMetric(
			c.receivedBytes, prometheus.CounterValue, float64(s.ReceivedBytes), s.ID, s.Endpoint)
	}
}
