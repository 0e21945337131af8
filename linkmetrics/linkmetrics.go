// Package linkmetrics exports a Data Link's Framer counters as
// Prometheus counters. Grounded on the custom prometheus.Collector
// pattern in runZeroInc-sockstats/pkg/exporter/exporter.go
// (Describe/Collect over a live counters source rather than
// pre-registered metric objects).
package linkmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"embedlink/framer"
)

// Source supplies a live counters snapshot; *datalink.Link satisfies
// this via its Counters method.
type Source interface {
	Counters() framer.Snapshot
}

// Collector adapts a Source to prometheus.Collector, labeling every
// exported series with the link name it was registered under.
type Collector struct {
	mu    sync.Mutex
	links map[string]Source

	rxCount            *prometheus.Desc
	rxDataCount        *prometheus.Desc
	rxAckCount         *prometheus.Desc
	rxDeduplicateCount *prometheus.Desc
	rxSyncErrorCount   *prometheus.Desc
	rxMICErrorCount    *prometheus.Desc
	rxFrameIDErrorCount *prometheus.Desc
	txCount            *prometheus.Desc
	txRetransmitCount  *prometheus.Desc
}

// New returns an empty Collector. Register links with Add before
// registering the Collector itself with a prometheus.Registerer.
func New() *Collector {
	labels := []string{"link"}
	ns := "embedlink"
	return &Collector{
		links:               make(map[string]Source),
		rxCount:             prometheus.NewDesc(ns+"_rx_count", "Total frames received.", labels, nil),
		rxDataCount:         prometheus.NewDesc(ns+"_rx_data_count", "DATA frames received.", labels, nil),
		rxAckCount:          prometheus.NewDesc(ns+"_rx_ack_count", "ACK and NACK frames received.", labels, nil),
		rxDeduplicateCount:  prometheus.NewDesc(ns+"_rx_deduplicate_count", "Duplicate DATA frames discarded.", labels, nil),
		rxSyncErrorCount:    prometheus.NewDesc(ns+"_rx_synchronization_error_count", "Framer resyncs due to bad SOF or implausible length.", labels, nil),
		rxMICErrorCount:     prometheus.NewDesc(ns+"_rx_mic_error_count", "Frames dropped for a CRC mismatch.", labels, nil),
		rxFrameIDErrorCount: prometheus.NewDesc(ns+"_rx_frame_id_error_count", "DATA frames rejected for arriving too far ahead of the receive window.", labels, nil),
		txCount:             prometheus.NewDesc(ns+"_tx_count", "DATA frames transmitted, including retransmits.", labels, nil),
		txRetransmitCount:   prometheus.NewDesc(ns+"_tx_retransmit_count", "Frames retransmitted after a retransmit timeout.", labels, nil),
	}
}

// Add registers a link's counters source under name. Calling Add
// again with the same name replaces the previous source.
func (c *Collector) Add(name string, source Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[name] = source
}

// Remove stops exporting name's counters.
func (c *Collector) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links, name)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.rxCount
	descs <- c.rxDataCount
	descs <- c.rxAckCount
	descs <- c.rxDeduplicateCount
	descs <- c.rxSyncErrorCount
	descs <- c.rxMICErrorCount
	descs <- c.rxFrameIDErrorCount
	descs <- c.txCount
	descs <- c.txRetransmitCount
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, source := range c.links {
		snap := source.Counters()
		metrics <- prometheus.MustNewConstMetric(c.rxCount, prometheus.CounterValue, float64(snap.RxCount), name)
		metrics <- prometheus.MustNewConstMetric(c.rxDataCount, prometheus.CounterValue, float64(snap.RxDataCount), name)
		metrics <- prometheus.MustNewConstMetric(c.rxAckCount, prometheus.CounterValue, float64(snap.RxAckCount), name)
		metrics <- prometheus.MustNewConstMetric(c.rxDeduplicateCount, prometheus.CounterValue, float64(snap.RxDeduplicateCount), name)
		metrics <- prometheus.MustNewConstMetric(c.rxSyncErrorCount, prometheus.CounterValue, float64(snap.RxSynchronizationError), name)
		metrics <- prometheus.MustNewConstMetric(c.rxMICErrorCount, prometheus.CounterValue, float64(snap.RxMICError), name)
		metrics <- prometheus.MustNewConstMetric(c.rxFrameIDErrorCount, prometheus.CounterValue, float64(snap.RxFrameIDError), name)
		metrics <- prometheus.MustNewConstMetric(c.txCount, prometheus.CounterValue, float64(snap.TxCount), name)
		metrics <- prometheus.MustNewConstMetric(c.txRetransmitCount, prometheus.CounterValue, float64(snap.TxRetransmitCount), name)
	}
}
