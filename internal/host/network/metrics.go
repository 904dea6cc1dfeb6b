package network

import (
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
)

// Kind is the topology an operation builds or removes.
type Kind int

const (
	KindMobile Kind = iota
	KindEthernet
	KindGateway
	KindBridge

	numKinds
)

// Kinds lists every topology kind in export order.
var Kinds = []Kind{KindMobile, KindEthernet, KindGateway, KindBridge}

func (k Kind) String() string {
	switch k {
	case KindMobile:
		return "mobile"
	case KindEthernet:
		return "ethernet"
	case KindGateway:
		return "gateway"
	case KindBridge:
		return "bridge"
	}
	return "unknown"
}

type opCounters struct {
	attempts  atomic.Int64
	failures  atomic.Int64
	conflicts atomic.Int64
	nanos     atomic.Int64
}

func (c *opCounters) record(err error, d time.Duration) {
	c.attempts.Add(1)
	c.nanos.Add(int64(d))
	if err != nil {
		c.failures.Add(1)
		if errdefs.IsAlreadyExists(err) {
			c.conflicts.Add(1)
		}
	}
}

func (c *opCounters) load() OpStats {
	s := OpStats{
		Attempts:  c.attempts.Load(),
		Failures:  c.failures.Load(),
		Conflicts: c.conflicts.Load(),
		Time:      time.Duration(c.nanos.Load()),
	}
	s.Successes = s.Attempts - s.Failures
	return s
}

// Metrics counts setups and teardowns per topology kind. Safe for
// concurrent use.
type Metrics struct {
	setup    [numKinds]opCounters
	teardown [numKinds]opCounters

	// undo passes run for failed setups
	rollbacks atomic.Int64
}

// RecordSetup records one setup of kind k. A failure caused by a host
// resource that already existed also counts as a conflict.
func (m *Metrics) RecordSetup(k Kind, err error, d time.Duration) {
	m.setup[k].record(err, d)
}

// RecordTeardown records one teardown of kind k.
func (m *Metrics) RecordTeardown(k Kind, err error, d time.Duration) {
	m.teardown[k].record(err, d)
}

// RecordRollback records an undo pass. A failed bridge setup runs one for
// its gateway and one for the bridge.
func (m *Metrics) RecordRollback() {
	m.rollbacks.Add(1)
}

// OpStats are the counters of one operation kind.
type OpStats struct {
	Attempts  int64
	Successes int64
	Failures  int64
	Conflicts int64
	Time      time.Duration
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Setup     map[Kind]OpStats
	Teardown  map[Kind]OpStats
	Rollbacks int64
}

// Snapshot returns a point-in-time copy of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Setup:     make(map[Kind]OpStats, numKinds),
		Teardown:  make(map[Kind]OpStats, numKinds),
		Rollbacks: m.rollbacks.Load(),
	}
	for _, k := range Kinds {
		snap.Setup[k] = m.setup[k].load()
		snap.Teardown[k] = m.teardown[k].load()
	}
	return snap
}
