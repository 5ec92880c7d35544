package game

import (
	"sync"
	"time"

	"github.com/go-mythos/go-game-server/lib/tick"
)

// Heartbeat is the built-in module used when no real game is wired in.
// It registers the movement and world-simulation kinds with trivial
// processors so clients receive periodic ticks immediately.
type Heartbeat struct {
	mu      sync.Mutex
	pending []string
}

// NewHeartbeat creates the built-in module.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{}
}

// GameName implements Module.
func (h *Heartbeat) GameName() string {
	return "heartbeat"
}

// Initialize implements Module.
func (h *Heartbeat) Initialize(d *tick.Dispatcher) error {
	d.Register(tick.Movement, 50*time.Millisecond, h.hasPending, h.flushPending, h.processBatch)
	d.Register(tick.WorldSimulation, 250*time.Millisecond, nil, nil, nil)
	return nil
}

// Enqueue adds a work item drained on the next movement tick.
func (h *Heartbeat) Enqueue(item string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, item)
}

func (h *Heartbeat) hasPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending) > 0
}

func (h *Heartbeat) flushPending() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := h.pending
	h.pending = nil
	return batch
}

func (h *Heartbeat) processBatch(batch any) {
	// Work items carry no behavior in the built-in module.
	_ = batch
}
