// Package metrics exposes per-session transport state as Prometheus
// metrics. Grounded on the teacher pack's runZeroInc-sockstats
// pkg/exporter.TCPInfoCollector: a registry of live connections keyed by an
// opaque handle, scraped on demand rather than pushed, implementing
// prometheus.Collector directly instead of registering a fixed set of
// gauges up front.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kdoroshev/reliudp/pkg/session"
)

// StatsSource is anything that can report a point-in-time session snapshot.
// *session.Session satisfies this.
type StatsSource interface {
	Stats() session.Stats
}

type entry struct {
	source StatsSource
	labels []string
}

// Collector implements prometheus.Collector over a dynamic set of sessions,
// added and removed as connections come and go.
type Collector struct {
	mu              sync.Mutex
	sessions        map[string]entry
	labelNames      []string
	cwnd            *prometheus.Desc
	ssthresh        *prometheus.Desc
	rwnd            *prometheus.Desc
	srtt            *prometheus.Desc
	rto             *prometheus.Desc
	bytesInFlight   *prometheus.Desc
	retransmits     *prometheus.Desc
	duplicateAcks   *prometheus.Desc
}

// New creates a Collector. labelNames names the per-session label values
// supplied to Add (for example "peer", "role").
func New(labelNames []string) *Collector {
	c := &Collector{
		sessions:   make(map[string]entry),
		labelNames: labelNames,
	}
	ns := "reliudp"
	c.cwnd = prometheus.NewDesc(ns+"_cwnd_packets", "Current congestion window in packets.", labelNames, nil)
	c.ssthresh = prometheus.NewDesc(ns+"_ssthresh_packets", "Current slow-start threshold in packets.", labelNames, nil)
	c.rwnd = prometheus.NewDesc(ns+"_rwnd_packets", "Effective send window admitted by the peer's advertised receive window.", labelNames, nil)
	c.srtt = prometheus.NewDesc(ns+"_srtt_seconds", "Smoothed round-trip time estimate.", labelNames, nil)
	c.rto = prometheus.NewDesc(ns+"_rto_seconds", "Current retransmission timeout.", labelNames, nil)
	c.bytesInFlight = prometheus.NewDesc(ns+"_packets_in_flight", "Outstanding unacknowledged packets.", labelNames, nil)
	c.retransmits = prometheus.NewDesc(ns+"_retransmits_total", "Total packets retransmitted, by timeout or fast retransmit.", labelNames, nil)
	c.duplicateAcks = prometheus.NewDesc(ns+"_duplicate_acks_total", "Total duplicate ACKs observed.", labelNames, nil)
	return c
}

// Add registers a session under id with the given label values, in the same
// order as the labelNames passed to New.
func (c *Collector) Add(id string, source StatsSource, labelValues []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = entry{source: source, labels: labelValues}
}

// Remove unregisters a session, typically once it reaches quiescence.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.cwnd
	descs <- c.ssthresh
	descs <- c.rwnd
	descs <- c.srtt
	descs <- c.rto
	descs <- c.bytesInFlight
	descs <- c.retransmits
	descs <- c.duplicateAcks
}

// Collect implements prometheus.Collector, scraping every registered
// session's current Stats snapshot.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.sessions {
		st := e.source.Stats()

		metrics <- prometheus.MustNewConstMetric(c.cwnd, prometheus.GaugeValue, float64(st.Cwnd), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.ssthresh, prometheus.GaugeValue, float64(st.Ssthresh), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.rwnd, prometheus.GaugeValue, float64(st.Rwnd), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.srtt, prometheus.GaugeValue, st.SRTT.Seconds(), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.rto, prometheus.GaugeValue, st.RTO.Seconds(), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.bytesInFlight, prometheus.GaugeValue, float64(st.BytesInFlight), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.retransmits, prometheus.CounterValue, float64(st.RetransmitsTotal), e.labels...)
		metrics <- prometheus.MustNewConstMetric(c.duplicateAcks, prometheus.CounterValue, float64(st.DuplicateAcks), e.labels...)
	}
}
