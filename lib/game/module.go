// Package game defines the surface by which a game module plugs its
// periodic work into the server core, plus a built-in module so the binary
// ticks out of the box.
package game

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/tick"
)

// Module is the registration interface a game implements. Initialize is
// called once, at dispatcher construction time, and registers zero or more
// tick processors.
type Module interface {
	// GameName identifies the module in logs.
	GameName() string

	// Initialize registers the module's tick processors.
	Initialize(d *tick.Dispatcher) error
}

// Load initializes the module against the dispatcher. A module failure is
// logged and swallowed: the server continues with whatever was registered
// before the failure (possibly nothing, leaving the scheduler idle).
func Load(m Module, d *tick.Dispatcher, log *logrus.Logger) {
	if m == nil {
		log.Warn("No game module configured")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"game":  m.GameName(),
				"panic": r,
			}).Error("Game module initialization panicked")
		}
	}()

	if err := m.Initialize(d); err != nil {
		log.WithError(fmt.Errorf("initialize %s: %w", m.GameName(), err)).
			Error("Game module load failed, continuing without it")
		return
	}
	log.WithField("game", m.GameName()).Info("Game module loaded")
}
