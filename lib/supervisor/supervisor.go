// Package supervisor starts the server's core components in order, owns the
// process-wide shutdown signal, and stops everything launched in reverse
// order within a bounded grace window.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is a component's position in its lifecycle. Transitions are driven
// only by Start and Stop: New -> Loading -> Running -> Stopping -> Stopped.
type State int32

const (
	StateNew State = iota
	StateLoading
	StateRunning
	StateStopping
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateLoading:
		return "LOADING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is acceptable at the end of shutdown.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateStopping
}

// Component is a long-lived part of the server managed by the Supervisor.
// Start receives the shutdown signal as its context and must return once
// the component is running. Stop must return once the component has
// released its resources; its context carries the grace deadline.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Supervisor owns the shutdown signal and the ordered component list.
// Construct one at program entry and pass it explicitly; there is no
// ambient global instance.
type Supervisor struct {
	log   *logrus.Logger
	grace time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	components []Component
	launched   []Component
	states     map[string]State
}

// New creates a supervisor with the given per-component stop grace.
func New(grace time.Duration, log *logrus.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		log:    log,
		grace:  grace,
		ctx:    ctx,
		cancel: cancel,
		states: make(map[string]State),
	}
}

// Add appends components in start order.
func (s *Supervisor) Add(components ...Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range components {
		s.components = append(s.components, c)
		s.states[c.Name()] = StateNew
	}
}

// Context returns the process-wide shutdown signal. It is cancelled exactly
// once, by Stop, and stays cancelled.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Start launches every configured component in order. A component's start
// failure is logged and does not abort the remaining starts; only
// successfully started components are tracked for shutdown.
func (s *Supervisor) Start() {
	s.mu.Lock()
	components := make([]Component, len(s.components))
	copy(components, s.components)
	s.mu.Unlock()

	for _, c := range components {
		s.setState(c, StateLoading)
		if err := c.Start(s.ctx); err != nil {
			s.log.WithError(err).WithField("component", c.Name()).
				Error("Component start failed")
			s.setState(c, StateStopped)
			continue
		}
		s.setState(c, StateRunning)
		s.log.WithField("component", c.Name()).Info("Component started")

		s.mu.Lock()
		s.launched = append(s.launched, c)
		s.mu.Unlock()
	}
}

// Stop trips the shutdown signal, then stops every launched component in
// reverse start order with the configured grace each. Returns false if any
// component failed to reach a terminal state; the process is not killed.
func (s *Supervisor) Stop() bool {
	s.cancel()

	s.mu.Lock()
	launched := make([]Component, len(s.launched))
	copy(launched, s.launched)
	s.mu.Unlock()

	for i := len(launched) - 1; i >= 0; i-- {
		c := launched[i]
		s.setState(c, StateStopping)

		ctx, cancel := context.WithTimeout(context.Background(), s.grace)
		err := c.Stop(ctx)
		cancel()

		if err != nil {
			s.log.WithError(err).WithField("component", c.Name()).
				Warn("Component stop exceeded grace")
			continue
		}
		s.setState(c, StateStopped)
		s.log.WithField("component", c.Name()).Info("Component stopped")
	}

	clean := true
	for _, c := range launched {
		if st := s.State(c.Name()); !st.Terminal() {
			s.log.WithFields(logrus.Fields{
				"component": c.Name(),
				"state":     st.String(),
			}).Error("Component did not reach a terminal state")
			clean = false
		}
	}
	return clean
}

// State returns the tracked state for the named component.
func (s *Supervisor) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[name]
}

// Launched returns the names of components that started successfully, in
// start order.
func (s *Supervisor) Launched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.launched))
	for _, c := range s.launched {
		names = append(names, c.Name())
	}
	return names
}

func (s *Supervisor) setState(c Component, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[c.Name()] = st
}
