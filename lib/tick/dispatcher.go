package tick

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/metrics"
	"github.com/go-mythos/go-game-server/lib/session"
	"github.com/go-mythos/go-game-server/lib/util"
	"github.com/go-mythos/go-game-server/lib/wire"
)

// Processor is one tick kind's registration: how often it fires and the
// game-module callbacks invoked before each broadcast.
type Processor struct {
	// Interval between ticks. Must be positive.
	Interval time.Duration

	// HasPending reports whether the module has queued work this tick.
	HasPending func() bool

	// FlushPending drains the module's queue into an opaque batch.
	FlushPending func() any

	// ProcessBatch consumes a flushed batch.
	ProcessBatch func(batch any)
}

// Dispatcher holds the registry of tick processors supplied by the game
// module. On each tick it executes any pending game work, builds the
// fixed-layout tick packet, and broadcasts it to every authenticated,
// non-disconnecting session.
//
// The module's callbacks are untrusted for liveness: panics are recovered
// and logged, and the broadcast runs regardless.
type Dispatcher struct {
	mu    sync.RWMutex
	procs map[Kind]*Processor

	// counters are kept outside procs so re-registering a kind does not
	// reset its tick count; only a process restart does.
	counters map[Kind]*atomic.Uint64

	registry *session.Registry
	metrics  *metrics.Metrics
	log      *logrus.Logger
}

// NewDispatcher creates an empty dispatcher broadcasting through reg.
func NewDispatcher(reg *session.Registry, m *metrics.Metrics, log *logrus.Logger) *Dispatcher {
	if m == nil {
		m = metrics.Nop()
	}
	return &Dispatcher{
		procs:    make(map[Kind]*Processor),
		counters: make(map[Kind]*atomic.Uint64),
		registry: reg,
		metrics:  m,
		log:      log,
	}
}

// Register installs a processor for the given kind, overwriting any prior
// registration. Nil callbacks default to an always-true predicate, an empty
// batch, and a no-op consumer so the broadcast still occurs. Non-positive
// intervals are rejected with a log and ignored.
func (d *Dispatcher) Register(kind Kind, interval time.Duration, hasPending func() bool, flushPending func() any, processBatch func(any)) {
	if interval <= 0 {
		d.log.WithFields(logrus.Fields{
			"kind":     kind.String(),
			"interval": interval,
		}).Error("Tick registration rejected: interval must be positive")
		return
	}

	if hasPending == nil {
		hasPending = func() bool { return true }
	}
	if flushPending == nil {
		flushPending = func() any { return nil }
	}
	if processBatch == nil {
		processBatch = func(any) {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.procs[kind]; exists {
		d.log.WithField("kind", kind.String()).Warn("Tick kind re-registered, overwriting")
	}
	d.procs[kind] = &Processor{
		Interval:     interval,
		HasPending:   hasPending,
		FlushPending: flushPending,
		ProcessBatch: processBatch,
	}
	if _, exists := d.counters[kind]; !exists {
		d.counters[kind] = &atomic.Uint64{}
	}
}

// Kinds returns the registered kinds in stable order.
func (d *Dispatcher) Kinds() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	kinds := make([]Kind, 0, len(d.procs))
	for k := range d.procs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Interval returns the registered interval for kind, or zero if none.
func (d *Dispatcher) Interval(kind Kind) time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if p, ok := d.procs[kind]; ok {
		return p.Interval
	}
	return 0
}

// Count returns the per-kind tick counter value.
func (d *Dispatcher) Count(kind Kind) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if c, ok := d.counters[kind]; ok {
		return c.Load()
	}
	return 0
}

// ProcessTick runs one tick for the given kind: advance the counter,
// execute pending game work, then broadcast the tick packet. The first
// tick of a kind carries counter value 1.
func (d *Dispatcher) ProcessTick(kind Kind) {
	d.mu.RLock()
	proc := d.procs[kind]
	counter := d.counters[kind]
	d.mu.RUnlock()

	if proc == nil || counter == nil {
		return
	}

	count := counter.Add(1)
	d.metrics.TicksTotal.WithLabelValues(kind.String()).Inc()

	d.runProcessor(kind, proc)

	packet := wire.TickPacket{
		Kind:       int32(kind),
		Counter:    count,
		UnixMillis: time.Now().UnixMilli(),
	}
	d.broadcast(kind, packet.Encode())
}

// runProcessor executes the module callbacks behind a panic barrier.
func (d *Dispatcher) runProcessor(kind Kind, proc *Processor) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"kind":  kind.String(),
				"panic": r,
			}).Error("Tick processor panicked")
		}
	}()

	if !proc.HasPending() {
		return
	}
	proc.ProcessBatch(proc.FlushPending())
}

// broadcast fans the encoded packet out to a snapshot of the registry,
// skipping sessions that are not authenticated or already disconnecting.
// Per-session send failures are logged and never abort the fan-out.
func (d *Dispatcher) broadcast(kind Kind, packet []byte) {
	for _, s := range d.registry.Snapshot() {
		if !s.Broadcastable() {
			continue
		}
		if err := s.Datagram().Send(packet); err != nil {
			if util.IsNetworkClose(err) {
				s.Log().WithError(err).Debug("Tick send on closed transport")
			} else {
				s.Log().WithError(err).WithField("kind", kind.String()).Warn("Tick send failed")
			}
			continue
		}
		d.metrics.DatagramsSent.Inc()
	}
}
