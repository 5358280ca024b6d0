package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"ratecache/plugin"
)

// exporter publishes every registered metric and the sampler statistics in
// the Prometheus exposition format. Values are read through the registry,
// so counters appear as their derived rate or delta.
type exporter struct {
	reg *plugin.Registry

	value    *prometheus.Desc
	polls    *prometheus.Desc
	failures *prometheus.Desc
	fresh    *prometheus.Desc
}

func newExporter(reg *plugin.Registry) *exporter {
	return &exporter{
		reg: reg,
		value: prometheus.NewDesc("ratecache_metric_value",
			"Current value of an exported metric.",
			[]string{"plugin", "key", "kind", "unit"}, nil),
		polls: prometheus.NewDesc("ratecache_sampler_polls_total",
			"Number of source polls.", []string{"plugin"}, nil),
		failures: prometheus.NewDesc("ratecache_sampler_failures_total",
			"Number of failed source polls.", []string{"plugin"}, nil),
		fresh: prometheus.NewDesc("ratecache_sampler_last_capture_timestamp_seconds",
			"Capture time of the current snapshot.", []string{"plugin"}, nil),
	}
}

func (e *exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.value
	ch <- e.polls
	ch <- e.failures
	ch <- e.fresh
}

func (e *exporter) Collect(ch chan<- prometheus.Metric) {
	for _, m := range e.reg.Metrics() {
		v := m.Plugin.Accessor.Read(m.Descriptor)
		ch <- prometheus.MustNewConstMetric(e.value, prometheus.GaugeValue, v,
			m.Plugin.Name, m.Key, m.Descriptor.Kind.String(), m.Descriptor.Unit)
	}
	for _, st := range e.reg.Status() {
		ch <- prometheus.MustNewConstMetric(e.polls, prometheus.CounterValue, float64(st.Polls), st.Name)
		ch <- prometheus.MustNewConstMetric(e.failures, prometheus.CounterValue, float64(st.Failures), st.Name)
		if !st.CapturedAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(e.fresh, prometheus.GaugeValue,
				float64(st.CapturedAt.UnixNano())/1e9, st.Name)
		}
	}
}
