package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Metrics value to Prometheus. Every counter except
// rollbacks carries a kind label.
type Collector struct {
	metrics *Metrics

	setupAttempts     *prometheus.Desc
	setupSuccesses    *prometheus.Desc
	setupFailures     *prometheus.Desc
	resourceConflicts *prometheus.Desc
	setupSeconds      *prometheus.Desc

	teardownAttempts  *prometheus.Desc
	teardownSuccesses *prometheus.Desc
	teardownFailures  *prometheus.Desc
	teardownSeconds   *prometheus.Desc

	rollbacks *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for m.
func NewCollector(m *Metrics) *Collector {
	byKind := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("cvdnet_"+name, help, []string{"kind"}, nil)
	}
	return &Collector{
		metrics:           m,
		setupAttempts:     byKind("setup_attempts_total", "Attachment setup attempts"),
		setupSuccesses:    byKind("setup_successes_total", "Attachment setups that completed"),
		setupFailures:     byKind("setup_failures_total", "Attachment setups that failed"),
		resourceConflicts: byKind("resource_conflicts_total", "Setups that failed because a resource already existed"),
		setupSeconds:      byKind("setup_seconds_total", "Time spent in attachment setup"),
		teardownAttempts:  byKind("teardown_attempts_total", "Attachment teardown attempts"),
		teardownSuccesses: byKind("teardown_successes_total", "Attachment teardowns that completed"),
		teardownFailures:  byKind("teardown_failures_total", "Attachment teardowns that failed"),
		teardownSeconds:   byKind("teardown_seconds_total", "Time spent in attachment teardown"),
		rollbacks:         prometheus.NewDesc("cvdnet_rollbacks_total", "Undo passes run for failed setups", nil, nil),
	}
}

// Register registers a collector for m with registry.
func Register(registry prometheus.Registerer, m *Metrics) *Collector {
	c := NewCollector(m)
	registry.MustRegister(c)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.setupAttempts
	ch <- c.setupSuccesses
	ch <- c.setupFailures
	ch <- c.resourceConflicts
	ch <- c.setupSeconds
	ch <- c.teardownAttempts
	ch <- c.teardownSuccesses
	ch <- c.teardownFailures
	ch <- c.teardownSeconds
	ch <- c.rollbacks
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	for _, k := range Kinds {
		kind := k.String()
		setup, teardown := s.Setup[k], s.Teardown[k]

		counter(c.setupAttempts, float64(setup.Attempts), kind)
		counter(c.setupSuccesses, float64(setup.Successes), kind)
		counter(c.setupFailures, float64(setup.Failures), kind)
		counter(c.resourceConflicts, float64(setup.Conflicts), kind)
		counter(c.setupSeconds, setup.Time.Seconds(), kind)

		counter(c.teardownAttempts, float64(teardown.Attempts), kind)
		counter(c.teardownSuccesses, float64(teardown.Successes), kind)
		counter(c.teardownFailures, float64(teardown.Failures), kind)
		counter(c.teardownSeconds, teardown.Time.Seconds(), kind)
	}
	counter(c.rollbacks, float64(s.Rollbacks))
}
