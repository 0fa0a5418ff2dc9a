// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package metrics

import "github.com/prometheus/client_golang/prometheus"

// A Collector exports the values of an *M as Prometheus metrics. Counters are
// exported as counters named <namespace>_<name>_total, and maximum value
// trackers as gauges named <namespace>_<name>_max.
//
// The metric names are not known until collection time, so a Collector is an
// unchecked collector: Describe sends no descriptors.
type Collector struct {
	m         *M
	namespace string
}

// NewCollector returns a Collector that reports the contents of m.
func NewCollector(m *M, namespace string) *Collector {
	return &Collector{m: m, namespace: namespace}
}

// Describe implements part of prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements part of prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := make(map[string]int64)
	maxValues := make(map[string]int64)
	c.m.Snapshot(counters, maxValues)

	for _, name := range sortedKeys(counters) {
		desc := prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "", name+"_total"),
			"zpipe counter "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(counters[name]))
	}
	for _, name := range sortedKeys(maxValues) {
		desc := prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "", name+"_max"),
			"zpipe maximum "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(maxValues[name]))
	}
}
